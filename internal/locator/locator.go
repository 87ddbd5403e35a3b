// Package locator maps a processing date to the source files and staging
// tables the pipeline works on, and discovers which dates have data.
package locator

import (
	"context"
	"regexp"
	"sort"

	"parcelhub/internal/warehouse"
)

// Format is the on-disk encoding of a dataset
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// Dataset names in ingestion order
const (
	DatasetParcels = "parcels"
	DatasetEvents  = "events"
	DatasetRoutes  = "routes"
	DatasetHubs    = "hubs"
)

// Descriptor binds one logical dataset to its source file and staging table
type Descriptor struct {
	Name        string
	File        string
	Target      warehouse.TableRef
	Format      Format
	Partitioned bool
}

// Locator resolves dataset descriptors against a source and a staging namespace
type Locator struct {
	source  Source
	project string
	dataset string
}

// New returns a Locator reading from src and targeting project.stagingDataset
func New(src Source, project, stagingDataset string) *Locator {
	return &Locator{source: src, project: project, dataset: stagingDataset}
}

// Source returns the underlying file source
func (l *Locator) Source() Source { return l.source }

// Resolve returns the four dataset descriptors for d in ingestion order:
// parcels, events, routes, hubs. Files are not checked for existence.
func (l *Locator) Resolve(d ProcessingDate) []Descriptor {
	tag := d.Compact()
	return []Descriptor{
		{
			Name:        DatasetParcels,
			File:        "parcels_" + tag + ".csv",
			Target:      l.table("stg_parcels_" + tag),
			Format:      FormatCSV,
			Partitioned: true,
		},
		{
			Name:        DatasetEvents,
			File:        "events_" + tag + ".json",
			Target:      l.table("stg_events_" + tag),
			Format:      FormatNDJSON,
			Partitioned: true,
		},
		{
			Name:   DatasetRoutes,
			File:   "routes.csv",
			Target: l.table("stg_routes"),
			Format: FormatCSV,
		},
		{
			Name:   DatasetHubs,
			File:   "hubs.csv",
			Target: l.table("stg_hubs"),
			Format: FormatCSV,
		},
	}
}

func (l *Locator) table(name string) warehouse.TableRef {
	return warehouse.TableRef{Project: l.project, Dataset: l.dataset, Table: name}
}

var parcelsFile = regexp.MustCompile(`^parcels_(\d{8})\.csv$`)

// DiscoverDates returns every date for which a parcels file exists, ascending
// and without duplicates. Names whose digits are not a calendar date are
// ignored. An empty result is not an error.
func (l *Locator) DiscoverDates(ctx context.Context) ([]ProcessingDate, error) {
	names, err := l.source.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var dates []ProcessingDate
	for _, name := range names {
		m := parcelsFile.FindStringSubmatch(name)
		if m == nil || seen[m[1]] {
			continue
		}
		d, ok := parseCompact(m[1])
		if !ok {
			continue
		}
		seen[m[1]] = true
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

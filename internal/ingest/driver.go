// Package ingest loads the raw datasets of one processing date into their
// staging tables.
package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"parcelhub/internal/locator"
	"parcelhub/internal/observability"
	"parcelhub/internal/run"
	"parcelhub/internal/tabular"
	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

// Options tunes the ingestion driver
type Options struct {
	// Encoding is the character set of the source files; empty means UTF-8
	Encoding string
	// FailFast skips the remaining datasets of a date after the first failure
	FailFast bool
	Logger   *observability.Logger
	Metrics  observability.Recorder
}

// Driver loads every dataset of a date, isolating failures per dataset
type Driver struct {
	gateway warehouse.Gateway
	locator *locator.Locator
	opts    Options
	logger  *observability.Logger
	metrics observability.Recorder
}

// NewDriver wires a driver to a gateway session and a locator
func NewDriver(gw warehouse.Gateway, loc *locator.Locator, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NopRecorder{}
	}
	return &Driver{gateway: gw, locator: loc, opts: opts, logger: logger, metrics: metrics}
}

// Ingest loads parcels, events, routes and hubs for date, in that order, and
// returns one result per dataset. A failing dataset never stops its siblings
// unless FailFast is set, in which case the rest are reported as skipped.
func (d *Driver) Ingest(ctx context.Context, date locator.ProcessingDate) []run.Result {
	descriptors := d.locator.Resolve(date)
	results := make([]run.Result, 0, len(descriptors))
	day := date.String()

	for i, desc := range descriptors {
		if err := ctx.Err(); err != nil {
			for _, rest := range descriptors[i:] {
				results = append(results, run.Skipped(day, run.StageIngest, rest.Name, rest.Target.String(), "run cancelled"))
			}
			break
		}

		log := d.logger.WithFields(map[string]interface{}{
			"date":    day,
			"dataset": desc.Name,
			"table":   desc.Target.String(),
		})

		start := time.Now()
		rows, err := d.ingestOne(ctx, desc)
		took := time.Since(start)

		if err != nil {
			log.WithError(err).ErrorWithFields("Dataset ingestion failed", map[string]interface{}{
				"code":        string(errors.GetErrorCode(err)),
				"duration_ms": took.Milliseconds(),
			})
			d.record(desc.Name, run.StatusFailed, 0, took)
			results = append(results, run.Failed(day, run.StageIngest, desc.Name, desc.Target.String(), err, took))

			if d.opts.FailFast {
				for _, rest := range descriptors[i+1:] {
					d.record(rest.Name, run.StatusSkipped, 0, 0)
					results = append(results, run.Skipped(day, run.StageIngest, rest.Name, rest.Target.String(),
						fmt.Sprintf("fail-fast after %s failed", desc.Name)))
				}
				break
			}
			continue
		}

		log.InfoWithFields(fmt.Sprintf("Loaded %d rows into %s", rows, desc.Target), map[string]interface{}{
			"rows":        rows,
			"duration_ms": took.Milliseconds(),
		})
		d.record(desc.Name, run.StatusSucceeded, rows, took)
		results = append(results, run.Succeeded(day, run.StageIngest, desc.Name, desc.Target.String(), rows, took))
	}
	return results
}

func (d *Driver) ingestOne(ctx context.Context, desc locator.Descriptor) (int64, error) {
	src := d.locator.Source()
	location := src.Location(desc.File)

	rc, err := src.Open(ctx, desc.File)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	table, err := d.parse(rc, desc.Format, location)
	if err != nil {
		return 0, err
	}

	rows, err := d.gateway.LoadTable(ctx, table, desc.Target)
	if err != nil {
		if !errors.HasCode(err, errors.ErrCodeLoadFailed) {
			err = errors.LoadError(desc.Target.String(), err)
		}
		return 0, err
	}
	return rows, nil
}

func (d *Driver) parse(r io.Reader, format locator.Format, location string) (*tabular.Table, error) {
	decoded, err := tabular.Decoder(r, d.opts.Encoding)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Unsupported source encoding").
			WithContext("encoding", d.opts.Encoding)
	}

	var table *tabular.Table
	switch format {
	case locator.FormatCSV:
		table, err = tabular.ReadCSV(decoded)
	case locator.FormatNDJSON:
		table, err = tabular.ReadNDJSON(decoded)
	default:
		return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("unknown dataset format %q", format))
	}
	if err != nil {
		line := 0
		var lineErr *tabular.LineError
		if stderrors.As(err, &lineErr) {
			line = lineErr.Line
		}
		return nil, errors.ParseError(location, line, err)
	}
	return table, nil
}

func (d *Driver) record(dataset string, status run.Status, rows int64, took time.Duration) {
	d.metrics.IncCounter(observability.MetricDatasetTotal, 1, observability.Labels{
		"dataset": dataset,
		"status":  string(status),
	})
	if status != run.StatusSucceeded {
		return
	}
	d.metrics.IncCounter(observability.MetricRowsLoaded, float64(rows), observability.Labels{"dataset": dataset})
	d.metrics.ObserveHistogram(observability.MetricDurationSeconds, took.Seconds(), observability.Labels{
		"stage": string(run.StageIngest),
		"name":  dataset,
	})
}

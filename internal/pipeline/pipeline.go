// Package pipeline sequences ingestion and transformation over the resolved
// processing dates and folds every outcome into a run summary.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"parcelhub/internal/ingest"
	"parcelhub/internal/locator"
	"parcelhub/internal/observability"
	"parcelhub/internal/run"
	"parcelhub/internal/transform"
	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

// Options holds everything a run needs besides its collaborators
type Options struct {
	Mode run.Mode
	// Date is the --processing_date value; empty means every discovered date
	Date string

	Project          string
	StagingDataset   string
	WarehouseDataset string
	SQLDir           string
	Encoding         string
	FailFast         bool

	Logger  *observability.Logger
	Metrics observability.Recorder
}

// Pipeline runs the configured stages for each processing date in turn
type Pipeline struct {
	gateway warehouse.Gateway
	locator *locator.Locator
	catalog transform.Catalog
	opts    Options
	logger  *observability.Logger
	metrics observability.Recorder
}

// New validates the mode and the catalog and returns a ready pipeline
func New(gw warehouse.Gateway, loc *locator.Locator, catalog transform.Catalog, opts Options) (*Pipeline, error) {
	if opts.Mode == "" {
		opts.Mode = run.ModeAll
	}
	if _, ok := run.ParseMode(string(opts.Mode)); !ok {
		return nil, errors.InvalidInput("run", opts.Mode, "expected ingest, transform or all")
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NopRecorder{}
	}

	return &Pipeline{
		gateway: gw,
		locator: loc,
		catalog: catalog,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// ParseDateFlag validates --processing_date. explicit is false for an empty
// value, which means discovery.
func ParseDateFlag(value string) (date locator.ProcessingDate, explicit bool, err error) {
	if value == "" {
		return locator.ProcessingDate{}, false, nil
	}
	date, err = locator.ParseDate(value)
	return date, err == nil, err
}

// ResolveDates returns the dates the run covers: the explicit date when one
// was given, every discovered date otherwise. No dates is an error.
func (p *Pipeline) ResolveDates(ctx context.Context) ([]locator.ProcessingDate, error) {
	date, explicit, err := ParseDateFlag(p.opts.Date)
	if err != nil {
		return nil, err
	}
	if explicit {
		return []locator.ProcessingDate{date}, nil
	}

	dates, err := p.locator.DiscoverDates(ctx)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, errors.New(errors.ErrCodeNoDates, "No processing dates found").
			WithContext("source", p.locator.Source().Location("")).
			WithSuggestions(
				"Check that the data directory holds parcels_YYYYMMDD.csv files",
				"Pass --processing_date to process a single date",
			)
	}
	return dates, nil
}

// Run executes the configured stages and never panics; failures of any kind
// end up in the returned summary.
func (p *Pipeline) Run(ctx context.Context) (summary *run.Summary) {
	summary = &run.Summary{
		RunID:   uuid.NewString(),
		Mode:    p.opts.Mode,
		Started: time.Now(),
	}
	log := p.logger.WithField("run_id", summary.RunID)

	defer func() {
		if r := recover(); r != nil {
			summary.Err = errors.FromPanic(r)
			log.WithError(summary.Err).Error("Run aborted")
		}
		summary.Finished = time.Now()
		p.logFinish(log, summary)
	}()

	dates, err := p.ResolveDates(ctx)
	if err != nil {
		summary.Err = err
		log.WithError(err).ErrorWithFields("Could not resolve processing dates", map[string]interface{}{
			"code": string(errors.GetErrorCode(err)),
		})
		return summary
	}
	for _, d := range dates {
		summary.Dates = append(summary.Dates, d.String())
	}

	log.InfoWithFields("Starting run", map[string]interface{}{
		"mode":  string(p.opts.Mode),
		"dates": strings.Join(summary.Dates, ","),
	})

	if p.opts.Mode.Transforms() {
		p.reportUnlisted(log)
	}

	ingester := ingest.NewDriver(p.gateway, p.locator, ingest.Options{
		Encoding: p.opts.Encoding,
		FailFast: p.opts.FailFast,
		Logger:   log,
		Metrics:  p.metrics,
	})
	transformer := transform.NewDriver(p.gateway, transform.Options{
		Logger:  log,
		Metrics: p.metrics,
	})

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			summary.Err = errors.Wrap(err, errors.ErrCodeTimeout, "Run cancelled before "+date.String())
			break
		}
		p.runDate(ctx, log, summary, date, ingester, transformer)
	}
	return summary
}

// runDate adds each driver's results to summary as soon as the driver returns
func (p *Pipeline) runDate(ctx context.Context, log *observability.Logger, summary *run.Summary, date locator.ProcessingDate, ingester *ingest.Driver, transformer *transform.Driver) {
	if p.opts.Mode.Ingests() {
		ingested := ingester.Ingest(ctx, date)
		summary.Add(ingested...)

		if p.opts.Mode == run.ModeAll && run.AnyFailed(ingested) {
			reason := fmt.Sprintf("ingestion for %s failed", date)
			log.WithField("date", date.String()).Warnf("Skipping transformations: %s", reason)
			for _, step := range p.catalog {
				summary.Add(run.Skipped(date.String(), run.StageTransform, step.Name, step.Script, reason))
			}
			return
		}
	}

	if p.opts.Mode.Transforms() {
		summary.Add(transformer.Transform(ctx, p.catalog, transform.Vars{
			ProcessingDate:   date,
			Project:          p.opts.Project,
			StagingDataset:   p.opts.StagingDataset,
			WarehouseDataset: p.opts.WarehouseDataset,
		})...)
	}
}

func (p *Pipeline) reportUnlisted(log *observability.Logger) {
	if p.opts.SQLDir == "" {
		return
	}
	extra, err := p.catalog.Unlisted(p.opts.SQLDir)
	if err != nil {
		log.WithError(err).Debug("Could not list SQL directory")
		return
	}
	for _, name := range extra {
		log.WithField("script", name).Debug("Script is not in the catalog and will not run")
	}
}

func (p *Pipeline) logFinish(log *observability.Logger, s *run.Summary) {
	succeeded, failed, skipped := s.Counts()
	fields := map[string]interface{}{
		"succeeded":   succeeded,
		"failed":      failed,
		"skipped":     skipped,
		"rows_loaded": s.RowsLoaded(),
		"duration_ms": s.Duration().Milliseconds(),
	}
	if s.Failed() {
		log.ErrorWithFields("Run finished with failures", fields)
		return
	}
	log.InfoWithFields("Run finished", fields)
}

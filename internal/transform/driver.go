package transform

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"parcelhub/internal/observability"
	"parcelhub/internal/run"
	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

// Options tunes the transformation driver
type Options struct {
	Logger  *observability.Logger
	Metrics observability.Recorder
}

// Driver executes a catalog strictly in order and stops at the first failure
type Driver struct {
	gateway warehouse.Gateway
	logger  *observability.Logger
	metrics observability.Recorder
}

// NewDriver wires a driver to a gateway session
func NewDriver(gw warehouse.Gateway, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NopRecorder{}
	}
	return &Driver{gateway: gw, logger: logger, metrics: metrics}
}

// Transform runs every step of catalog in order. When a step fails, every
// later step is reported as skipped and never submitted.
func (d *Driver) Transform(ctx context.Context, catalog Catalog, vars Vars) []run.Result {
	day := vars.ProcessingDate.String()
	results := make([]run.Result, 0, len(catalog))

	for i, step := range catalog {
		log := d.logger.WithFields(map[string]interface{}{
			"date":   day,
			"step":   step.Name,
			"script": step.Script,
		})

		start := time.Now()
		res, err := d.execute(ctx, step, vars)
		took := time.Since(start)

		if err != nil {
			log.WithError(err).ErrorWithFields("Transformation step failed; halting catalog", map[string]interface{}{
				"code":        string(errors.GetErrorCode(err)),
				"duration_ms": took.Milliseconds(),
				"remaining":   len(catalog) - i - 1,
			})
			d.record(step.Name, run.StatusFailed, took)
			results = append(results, run.Failed(day, run.StageTransform, step.Name, step.Script, err, took))

			reason := fmt.Sprintf("halted after %s failed", step.Name)
			for _, rest := range catalog[i+1:] {
				d.record(rest.Name, run.StatusSkipped, 0)
				results = append(results, run.Skipped(day, run.StageTransform, rest.Name, rest.Script, reason))
			}
			break
		}

		log.InfoWithFields(fmt.Sprintf("Executed %s", step.Name), map[string]interface{}{
			"statements":    res.Statements,
			"rows_affected": res.RowsAffected,
			"duration_ms":   took.Milliseconds(),
		})
		d.record(step.Name, run.StatusSucceeded, took)
		results = append(results, run.Completed(day, run.StageTransform, step.Name, step.Script, took))
	}
	return results
}

func (d *Driver) execute(ctx context.Context, step Step, vars Vars) (warehouse.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return warehouse.QueryResult{}, errors.Wrap(err, errors.ErrCodeTimeout, "Run cancelled before "+step.Name)
	}

	content, err := os.ReadFile(step.Script) // #nosec G304 - script paths are built from the fixed catalog
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return warehouse.QueryResult{}, errors.PathNotFound(step.Script, err).
				WithContext("step", step.Name)
		}
		return warehouse.QueryResult{}, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to read "+step.Script)
	}

	res, err := d.gateway.RunQuery(ctx, vars.Render(string(content)))
	if err != nil {
		return res, errors.QueryError(step.Name, err).WithContext("script", step.Script)
	}
	return res, nil
}

func (d *Driver) record(step string, status run.Status, took time.Duration) {
	d.metrics.IncCounter(observability.MetricStepTotal, 1, observability.Labels{
		"step":   step,
		"status": string(status),
	})
	if status == run.StatusSucceeded {
		d.metrics.ObserveHistogram(observability.MetricDurationSeconds, took.Seconds(), observability.Labels{
			"stage": string(run.StageTransform),
			"name":  step,
		})
	}
}

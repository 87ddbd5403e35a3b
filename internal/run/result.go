// Package run holds the per-dataset and per-step outcomes of a pipeline run
// and their aggregation into a summary.
package run

import (
	"time"
)

// Status is the outcome of one dataset load or transformation step
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Stage identifies which half of the pipeline produced a result
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageTransform Stage = "transform"
)

// Result is the outcome of one dataset or step for one date. Rows is only
// meaningful when HasRows is set: transformation steps succeed without a
// row count.
type Result struct {
	Date     string
	Stage    Stage
	Name     string
	Target   string
	Status   Status
	Rows     int64
	HasRows  bool
	Err      error
	Reason   string
	Duration time.Duration
}

// Succeeded builds a successful result carrying a row count
func Succeeded(date string, stage Stage, name, target string, rows int64, took time.Duration) Result {
	return Result{Date: date, Stage: stage, Name: name, Target: target, Status: StatusSucceeded, Rows: rows, HasRows: true, Duration: took}
}

// Completed builds a successful result without a row count
func Completed(date string, stage Stage, name, target string, took time.Duration) Result {
	return Result{Date: date, Stage: stage, Name: name, Target: target, Status: StatusSucceeded, Duration: took}
}

// Failed builds a failed result
func Failed(date string, stage Stage, name, target string, err error, took time.Duration) Result {
	return Result{Date: date, Stage: stage, Name: name, Target: target, Status: StatusFailed, Err: err, Duration: took}
}

// Skipped builds a result for work that was deliberately not attempted
func Skipped(date string, stage Stage, name, target, reason string) Result {
	return Result{Date: date, Stage: stage, Name: name, Target: target, Status: StatusSkipped, Reason: reason}
}

// Detail returns the row count, failure cause or skip reason for display
func (r Result) Detail() string {
	switch r.Status {
	case StatusFailed:
		if r.Err != nil {
			return r.Err.Error()
		}
		return "failed"
	case StatusSkipped:
		return r.Reason
	}
	return ""
}

// AnyFailed reports whether any result failed
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFailed {
			return true
		}
	}
	return false
}

package run

import "time"

// Mode selects which stages a run executes
type Mode string

const (
	ModeIngest    Mode = "ingest"
	ModeTransform Mode = "transform"
	ModeAll       Mode = "all"
)

// ParseMode validates a --run value
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeIngest, ModeTransform, ModeAll:
		return Mode(s), true
	}
	return "", false
}

// Ingests reports whether the mode includes the ingestion stage
func (m Mode) Ingests() bool { return m == ModeIngest || m == ModeAll }

// Transforms reports whether the mode includes the transformation stage
func (m Mode) Transforms() bool { return m == ModeTransform || m == ModeAll }

// Summary aggregates every result of a run. Err holds a failure that
// prevented the run from processing any date.
type Summary struct {
	RunID    string
	Mode     Mode
	Dates    []string
	Results  []Result
	Err      error
	Started  time.Time
	Finished time.Time
}

// Add appends results in the order they were produced
func (s *Summary) Add(results ...Result) {
	s.Results = append(s.Results, results...)
}

// Failed reports whether the run should exit non-zero
func (s *Summary) Failed() bool {
	return s.Err != nil || AnyFailed(s.Results)
}

// Counts returns the number of results per status
func (s *Summary) Counts() (succeeded, failed, skipped int) {
	for _, r := range s.Results {
		switch r.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// RowsLoaded totals the rows of successful ingestion results
func (s *Summary) RowsLoaded() int64 {
	var total int64
	for _, r := range s.Results {
		if r.Stage == StageIngest && r.Status == StatusSucceeded {
			total += r.Rows
		}
	}
	return total
}

// Duration is the wall time of the run
func (s *Summary) Duration() time.Duration {
	if s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

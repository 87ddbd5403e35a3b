package observability

import (
	"sort"
	"strings"
	"sync"
)

// Metric names emitted by the pipeline.
const (
	MetricDatasetTotal    = "parcelhub_dataset_total"
	MetricRowsLoaded      = "parcelhub_rows_loaded_total"
	MetricStepTotal       = "parcelhub_step_total"
	MetricDurationSeconds = "parcelhub_duration_seconds"
)

// Labels are metric dimensions such as dataset, step or status
type Labels map[string]string

// Recorder receives pipeline metrics. Implementations must be safe for
// concurrent use; Close flushes anything still buffered.
type Recorder interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Close() error
}

// NopRecorder discards all metrics
type NopRecorder struct{}

func (NopRecorder) IncCounter(string, float64, Labels)       {}
func (NopRecorder) ObserveHistogram(string, float64, Labels) {}
func (NopRecorder) Close() error                             { return nil }

// MemoryRecorder keeps counters and observations in memory. It backs tests
// and the end-of-run totals.
type MemoryRecorder struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
}

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		counters: make(map[string]float64),
		samples:  make(map[string][]float64),
	}
}

// IncCounter adds delta to the counter identified by name and labels
func (m *MemoryRecorder) IncCounter(name string, delta float64, labels Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[seriesKey(name, labels)] += delta
}

// ObserveHistogram records one sample
func (m *MemoryRecorder) ObserveHistogram(name string, value float64, labels Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := seriesKey(name, labels)
	m.samples[k] = append(m.samples[k], value)
}

// Counter returns the current value of a counter
func (m *MemoryRecorder) Counter(name string, labels Labels) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[seriesKey(name, labels)]
}

// Samples returns a copy of the observations for a histogram
func (m *MemoryRecorder) Samples(name string, labels Labels) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.samples[seriesKey(name, labels)]...)
}

// Close is a no-op
func (m *MemoryRecorder) Close() error { return nil }

// seriesKey renders name{k=v,...} with sorted label keys
func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	b.WriteString("}")
	return b.String()
}

// Tags converts labels into sorted "key:value" tags
func (l Labels) Tags() []string {
	tags := make([]string, 0, len(l))
	for k, v := range l {
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return tags
}

package observability

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// metricsSubmitter is the part of *datadogV2.MetricsApi the recorder needs
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// DatadogOptions controls the Datadog recorder.
type DatadogOptions struct {
	// JobName becomes tag "job:<name>"; defaults to "parcelhub".
	JobName string
	// Tags are extra tags added to every series.
	Tags []string
	// FlushEvery controls periodic submission; defaults to 60s.
	FlushEvery time.Duration

	now       func() time.Time
	submitter metricsSubmitter
}

type datadogSeries struct {
	name   string
	labels Labels
}

// DatadogRecorder buffers metrics in memory and submits them periodically
// and once more on Close. API credentials come from DD_API_KEY / DD_SITE as
// read by the official client.
type DatadogRecorder struct {
	api      metricsSubmitter
	ctx      context.Context
	now      func() time.Time
	baseTags []string

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	series   map[string]datadogSeries
}

// NewDatadogRecorder constructs a recorder backed by the Datadog metrics API
// and starts its flush loop.
func NewDatadogRecorder(parent context.Context, opts DatadogOptions) *DatadogRecorder {
	job := opts.JobName
	if job == "" {
		job = "parcelhub"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	baseTags := []string{resolveEnvTag(), "job:" + job}
	baseTags = append(baseTags, opts.Tags...)

	r := &DatadogRecorder{
		api:      submitter,
		ctx:      dd.NewDefaultContext(parent),
		now:      nowFn,
		baseTags: baseTags,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		counters: make(map[string]float64),
		samples:  make(map[string][]float64),
		series:   make(map[string]datadogSeries),
	}
	go r.loop(flushEvery)
	return r
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (r *DatadogRecorder) loop(every time.Duration) {
	defer close(r.doneCh)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = r.Flush()
		case <-r.stopCh:
			return
		}
	}
}

// IncCounter implements Recorder
func (r *DatadogRecorder) IncCounter(name string, delta float64, labels Labels) {
	if delta <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := seriesKey(name, labels)
	r.series[k] = datadogSeries{name: name, labels: labels}
	r.counters[k] += delta
}

// ObserveHistogram implements Recorder
func (r *DatadogRecorder) ObserveHistogram(name string, value float64, labels Labels) {
	if value < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := seriesKey(name, labels)
	r.series[k] = datadogSeries{name: name, labels: labels}
	r.samples[k] = append(r.samples[k], value)
}

// Flush submits buffered metrics and resets the buffers, even on failure.
func (r *DatadogRecorder) Flush() error {
	r.mu.Lock()
	counters, samples, series := r.counters, r.samples, r.series
	r.counters = make(map[string]float64)
	r.samples = make(map[string][]float64)
	r.series = make(map[string]datadogSeries)
	r.mu.Unlock()

	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: r.buildSeries(counters, samples, series, r.now().Unix())}
	_, _, err := r.api.SubmitMetrics(r.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

func (r *DatadogRecorder) buildSeries(counters map[string]float64, samples map[string][]float64, series map[string]datadogSeries, nowUnix int64) []datadogV2.MetricSeries {
	point := func(metric string, kind datadogV2.MetricIntakeType, value float64, tags []string) datadogV2.MetricSeries {
		return datadogV2.MetricSeries{
			Metric: metric,
			Type:   kind.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		}
	}

	out := make([]datadogV2.MetricSeries, 0, len(counters)+2*len(samples))
	for k, v := range counters {
		s := series[k]
		out = append(out, point(datadogName(s.name), datadogV2.METRICINTAKETYPE_COUNT, v, r.tags(s.labels)))
	}
	for k, vals := range samples {
		if len(vals) == 0 {
			continue
		}
		s := series[k]
		var sum, max float64
		for _, v := range vals {
			sum += v
			if v > max {
				max = v
			}
		}
		tags := r.tags(s.labels)
		out = append(out,
			point(datadogName(s.name)+".avg", datadogV2.METRICINTAKETYPE_GAUGE, sum/float64(len(vals)), tags),
			point(datadogName(s.name)+".max", datadogV2.METRICINTAKETYPE_GAUGE, max, tags),
		)
	}
	return out
}

func (r *DatadogRecorder) tags(labels Labels) []string {
	tags := make([]string, 0, len(r.baseTags)+len(labels))
	tags = append(tags, r.baseTags...)
	return append(tags, labels.Tags()...)
}

// datadogName maps parcelhub_rows_loaded_total to parcelhub.rows_loaded.total
func datadogName(name string) string {
	name = strings.Replace(name, "parcelhub_", "parcelhub.", 1)
	if strings.HasSuffix(name, "_total") {
		name = strings.TrimSuffix(name, "_total") + ".total"
	}
	return name
}

// Close stops the flush loop and performs a final flush
func (r *DatadogRecorder) Close() error {
	r.once.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
	return r.Flush()
}

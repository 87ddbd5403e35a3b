package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"parcelhub/pkg/errors"
)

// HealthStatus represents the health status of a component
type HealthStatus int

const (
	HealthStatusUp HealthStatus = iota
	HealthStatusDown
	HealthStatusDegraded
	HealthStatusUnknown
)

var statusNames = map[HealthStatus]string{
	HealthStatusUp:       "UP",
	HealthStatusDown:     "DOWN",
	HealthStatusDegraded: "DEGRADED",
	HealthStatusUnknown:  "UNKNOWN",
}

func (s HealthStatus) String() string {
	return statusNames[s]
}

// HealthCheck probes one dependency of the pipeline
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) HealthResult
}

// CheckFunc adapts a plain function into a HealthCheck
type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) HealthResult
}

func (c CheckFunc) Name() string                           { return c.Label }
func (c CheckFunc) Check(ctx context.Context) HealthResult { return c.Fn(ctx) }

// HealthResult represents the result of a health check
type HealthResult struct {
	Name     string
	Status   HealthStatus
	Message  string
	Duration time.Duration
}

// Up and Down build results for check functions
func Up(message string) HealthResult   { return HealthResult{Status: HealthStatusUp, Message: message} }
func Down(message string) HealthResult { return HealthResult{Status: HealthStatusDown, Message: message} }

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus
	Duration   time.Duration
	Components []HealthResult
}

// HealthManager runs registered checks concurrently under a shared timeout
type HealthManager struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	timeout time.Duration
	logger  *Logger
}

// NewHealthManager creates a new health manager
func NewHealthManager(timeout time.Duration, logger *Logger) *HealthManager {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &HealthManager{timeout: timeout, logger: logger}
}

// RegisterCheck registers a health check
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks = append(hm.checks, check)
}

// runCheck reports a panicking check as DOWN
func runCheck(ctx context.Context, check HealthCheck) HealthResult {
	var result HealthResult
	if err := errors.Guard(func() error {
		result = check.Check(ctx)
		return nil
	}); err != nil {
		return Down(errors.Summarize(err))
	}
	return result
}

// CheckHealth runs every check and returns a report whose components are
// sorted by name. The overall status is the worst component status.
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthReport {
	start := time.Now()

	hm.mu.RLock()
	checks := append([]HealthCheck(nil), hm.checks...)
	hm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	components := make([]HealthResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			checkStart := time.Now()
			result := runCheck(ctx, check)
			result.Name = check.Name()
			result.Duration = time.Since(checkStart)
			components[i] = result
		}(i, check)
	}
	wg.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	overall := HealthStatusUp
	for _, c := range components {
		switch c.Status {
		case HealthStatusDown:
			overall = HealthStatusDown
		case HealthStatusDegraded, HealthStatusUnknown:
			if overall == HealthStatusUp {
				overall = c.Status
			}
		}
	}

	report := HealthReport{
		Status:     overall,
		Duration:   time.Since(start),
		Components: components,
	}
	hm.logger.InfoWithFields("Health check completed", map[string]interface{}{
		"status":      overall.String(),
		"duration_ms": report.Duration.Milliseconds(),
		"components":  len(components),
	})
	return report
}

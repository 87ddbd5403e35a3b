package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"parcelhub/internal/common"
	"parcelhub/internal/observability"
)

// TestHelper provides common test utilities
type TestHelper struct {
	t *testing.T
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// WriteFile writes content to dir/filename, creating parent directories
func (h *TestHelper) WriteFile(dir, filename, content string) string {
	h.t.Helper()
	path := filepath.Join(dir, filename)

	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionNormal); err != nil {
		h.t.Fatalf("Failed to create directories: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), common.FilePermissionNormal); err != nil {
		h.t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// Sample inputs for one processing date
const (
	ParcelsCSV = "parcel_id,sender_id,origin_hub,destination_hub,weight_kg,created_at\n" +
		"P-1001,S-1,HUB-LDS,HUB-MAN,2.4,2025-01-01T08:12:00Z\n" +
		"P-1002,S-2,HUB-MAN,HUB-BHM,0.8,2025-01-01T09:30:00Z\n" +
		"P-1003,S-1,HUB-LDS,HUB-BHM,,2025-01-01T10:05:00Z\n"

	EventsNDJSON = `{"event_id": "E-1", "parcel_id": "P-1001", "event_type": "picked_up", "hub_id": "HUB-LDS", "event_ts": "2025-01-01T08:30:00Z"}
{"event_id": "E-2", "parcel_id": "P-1001", "event_type": "in_transit", "route_id": "R-7", "event_ts": "2025-01-01T11:00:00Z"}
{"event_id": "E-3", "parcel_id": "P-1002", "event_type": "delivered", "hub_id": "HUB-BHM", "event_ts": "2025-01-01T17:45:00Z", "signature": {"name": "J. Doe"}}
`

	RoutesCSV = "route_id,origin_hub,destination_hub,distance_km\n" +
		"R-7,HUB-LDS,HUB-MAN,70\n" +
		"R-9,HUB-MAN,HUB-BHM,140\n"

	HubsCSV = "hub_id,name,city\n" +
		"HUB-LDS,Leeds Central,Leeds\n" +
		"HUB-MAN,Manchester North,Manchester\n" +
		"HUB-BHM,Birmingham South,Birmingham\n"
)

// WriteDataDir creates a data directory holding all four inputs for each
// compact date (YYYYMMDD) and returns its path.
func (h *TestHelper) WriteDataDir(compactDates ...string) string {
	h.t.Helper()
	dir := h.t.TempDir()
	for _, tag := range compactDates {
		h.WriteFile(dir, "parcels_"+tag+".csv", ParcelsCSV)
		h.WriteFile(dir, "events_"+tag+".json", EventsNDJSON)
	}
	h.WriteFile(dir, "routes.csv", RoutesCSV)
	h.WriteFile(dir, "hubs.csv", HubsCSV)
	return dir
}

// WriteSQLDir creates a directory with one script per name. Each script
// selects its own name so tests can tell executions apart.
func (h *TestHelper) WriteSQLDir(names ...string) string {
	h.t.Helper()
	dir := h.t.TempDir()
	for _, n := range names {
		h.WriteFile(dir, n+".sql", "CREATE OR REPLACE TABLE {{project}}.{{warehouse_dataset}}."+n+
			" AS SELECT '"+n+"' AS step, '{{processing_date}}' AS processing_date;\n")
	}
	return dir
}

// MockEnv sets an environment variable for the duration of the test
func (h *TestHelper) MockEnv(key, value string) {
	h.t.Helper()
	h.t.Setenv(key, value)
}

// SyncBuffer is a goroutine-safe bytes.Buffer for capturing log output
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestLogger returns a debug-level text logger writing into a buffer
func NewTestLogger() (*observability.Logger, *SyncBuffer) {
	buf := &SyncBuffer{}
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:   observability.DebugLevel,
		Output:  buf,
		Service: "parcelhub-test",
		Encoder: observability.TextEncoder{},
	})
	return logger, buf
}

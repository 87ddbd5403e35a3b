package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"parcelhub/internal/run"
	apperrors "parcelhub/pkg/errors"
)

func plain(t *testing.T) {
	t.Helper()
	originalColor, originalNoColor := supportsColor, color.NoColor
	DisableColor()
	t.Cleanup(func() {
		supportsColor, color.NoColor = originalColor, originalNoColor
	})
}

func TestColorFunc(t *testing.T) {
	original := supportsColor
	defer func() { supportsColor = original }()

	for _, enabled := range []bool{true, false} {
		supportsColor = enabled
		for _, fn := range []func(string) string{ColorSuccess, ColorError, ColorWarning, ColorInfo, ColorBold, ColorDim} {
			got := fn("text")
			if enabled && got == "text" {
				t.Error("Expected colored output, got plain text")
			}
			if !enabled && got != "text" {
				t.Errorf("Expected plain text, got %q", got)
			}
		}
	}
}

func TestMessages(t *testing.T) {
	plain(t)
	var buf bytes.Buffer

	ShowSuccess(&buf, "loaded")
	ShowWarning(&buf, "no transforms")

	if got, want := buf.String(), "SUCCESS: loaded\nWARNING: no transforms\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestShowError(t *testing.T) {
	plain(t)
	var buf bytes.Buffer

	ShowError(&buf, errors.New("SQL compilation error: syntax error line 1\nnear SELEC"))

	out := buf.String()
	if !strings.Contains(out, "ERROR:") || !strings.Contains(out, "  near SELEC") {
		t.Errorf("unexpected error output:\n%s", out)
	}
	if !strings.Contains(out, "TIP: Review the SQL") {
		t.Errorf("expected a suggestion:\n%s", out)
	}
}

func TestGetSuggestion(t *testing.T) {
	tests := map[string]string{
		"Incorrect username or password was specified": "credentials file",
		"dial tcp: connection refused":                 "network connectivity",
		"Object 'STG_HUBS' does not exist":             "ingestion ran",
		"something else":                               "",
	}
	for msg, want := range tests {
		got := getSuggestion(msg)
		if want == "" && got != "" || !strings.Contains(got, want) {
			t.Errorf("getSuggestion(%q) = %q, want it to contain %q", msg, got, want)
		}
	}
}

func sampleSummary() *run.Summary {
	started := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	s := &run.Summary{
		RunID:    "run-1",
		Mode:     run.ModeAll,
		Dates:    []string{"2025-01-01"},
		Started:  started,
		Finished: started.Add(75 * time.Second),
	}
	s.Add(
		run.Succeeded("2025-01-01", run.StageIngest, "parcels", "p.s.stg_parcels_20250101", 3, 1500*time.Millisecond),
		run.Failed("2025-01-01", run.StageIngest, "events", "p.s.stg_events_20250101",
			apperrors.PathNotFound("events_20250101.json", errors.New("no such file")), 2*time.Millisecond),
		run.Skipped("2025-01-01", run.StageTransform, "dim_hub", "sql/dim_hub.sql", "ingestion for 2025-01-01 failed"),
	)
	return s
}

func TestSummaryTable(t *testing.T) {
	plain(t)

	out := SummaryTable(sampleSummary())

	for _, want := range []string{"DATE", "STATUS", "parcels", "OK", "1.5s", "FAILED", "[PHE5001]", "SKIPPED", "ingestion for 2025-01-01 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "\n") < 5 {
		t.Errorf("expected header, separator and three rows:\n%s", out)
	}
}

func TestPrintSummary(t *testing.T) {
	plain(t)
	var buf bytes.Buffer

	PrintSummary(&buf, sampleSummary())

	out := buf.String()
	if !strings.Contains(out, "FAILED: 1 succeeded, 1 failed, 1 skipped, 3 rows loaded in 1m15s") {
		t.Errorf("unexpected verdict:\n%s", out)
	}

	buf.Reset()
	PrintSummary(&buf, &run.Summary{RunID: "run-2", Err: apperrors.New(apperrors.ErrCodeNoDates, "No processing dates found")})
	out = buf.String()
	if !strings.Contains(out, "ERROR: [PHE6003] No processing dates found") || strings.Contains(out, "DATE") {
		t.Errorf("unexpected output for a run without results:\n%s", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		250 * time.Millisecond:  "250ms",
		1500 * time.Millisecond: "1.5s",
		125 * time.Second:       "2m5s",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

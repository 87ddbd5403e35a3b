package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"parcelhub/internal/run"
	"parcelhub/pkg/errors"
)

// SummaryTable renders one row per dataset or step of s
func SummaryTable(s *run.Summary) string {
	var buf strings.Builder

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Date", "Stage", "Name", "Status", "Rows", "Time", "Details"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range s.Results {
		rows := ""
		if r.HasRows {
			rows = fmt.Sprintf("%d", r.Rows)
		}
		took := ""
		if r.Status != run.StatusSkipped {
			took = formatDuration(r.Duration)
		}
		detail := r.Detail()
		if r.Err != nil {
			detail = errors.Summarize(r.Err)
		}

		table.Append([]string{
			r.Date,
			string(r.Stage),
			r.Name,
			statusLabel(r.Status),
			rows,
			took,
			detail,
		})
	}

	table.Render()
	return buf.String()
}

func statusLabel(status run.Status) string {
	switch status {
	case run.StatusSucceeded:
		return color.GreenString("OK")
	case run.StatusFailed:
		return color.RedString("FAILED")
	case run.StatusSkipped:
		return color.YellowString("SKIPPED")
	}
	return string(status)
}

// PrintSummary writes the run header, the result table and a closing verdict
func PrintSummary(w io.Writer, s *run.Summary) {
	succeeded, failed, skipped := s.Counts()

	fmt.Fprintf(w, "\n%s %s  mode=%s  dates=%s\n",
		ColorBold("Run"), s.RunID, s.Mode, strings.Join(s.Dates, ","))
	if len(s.Results) > 0 {
		fmt.Fprint(w, SummaryTable(s))
	}
	if s.Err != nil {
		fmt.Fprintf(w, "%s %s\n", ColorError("ERROR:"), errors.Summarize(s.Err))
	}

	verdict := ColorSuccess("SUCCESS:")
	if s.Failed() {
		verdict = ColorError("FAILED:")
	}
	fmt.Fprintf(w, "%s %d succeeded, %d failed, %d skipped, %d rows loaded in %s\n",
		verdict, succeeded, failed, skipped, s.RowsLoaded(), formatDuration(s.Duration()))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

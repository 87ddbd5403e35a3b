package errors

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
)

// Display writes a user-facing rendering of err: code and message coloured by
// severity, then context, cause and suggestions. Non-AppErrors are shown as
// internal errors.
func Display(w io.Writer, err error) {
	if err == nil {
		return
	}
	appErr, ok := err.(*AppError)
	if !ok {
		var ae *AppError
		if As(err, &ae) {
			appErr = ae
		} else {
			appErr = Wrap(err, ErrCodeInternal, err.Error())
			appErr.Cause = nil
		}
	}

	severityColor := color.New(color.FgRed)
	switch appErr.Severity {
	case SeverityCritical:
		severityColor = color.New(color.FgRed, color.Bold)
	case SeverityWarning:
		severityColor = color.New(color.FgYellow)
	case SeverityInfo:
		severityColor = color.New(color.FgCyan)
	}

	fmt.Fprintf(w, "\n%s\n", severityColor.Sprintf("[%s] %s", appErr.Code, appErr.Message))

	if len(appErr.Context) > 0 {
		keys := make([]string, 0, len(appErr.Context))
		for k := range appErr.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w, "\nContext:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, appErr.Context[k])
		}
	}

	if appErr.Cause != nil {
		fmt.Fprintf(w, "\nCaused by: %v\n", appErr.Cause)
	}

	if len(appErr.Suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggestions:")
		for i, s := range appErr.Suggestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}

	if appErr.Severity == SeverityCritical {
		fmt.Fprintf(w, "\nError code %s at %s\n", appErr.Code, appErr.Timestamp.Format(time.RFC3339))
	}
}

package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

var (
	// Check if output supports colors
	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	// Color functions
	ColorSuccess = colorFunc(ansi.Green)
	ColorError   = colorFunc(ansi.Red)
	ColorWarning = colorFunc(ansi.Yellow)
	ColorInfo    = colorFunc(ansi.Cyan)
	ColorBold    = colorFunc("default+b")
	ColorDim     = colorFunc("default+h")
)

// colorFunc returns a function that colors text if supported
func colorFunc(code string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, code)
		}
		return text
	}
}

// DisableColor turns colouring off for this package and for fatih/color
func DisableColor() {
	supportsColor = false
	color.NoColor = true
}

// ShowError writes err with its continuation lines dimmed and a tip when the
// message matches a known failure
func ShowError(w io.Writer, err error) {
	fmt.Fprintf(w, "\n%s\n", ColorError("ERROR:"))

	message := err.Error()
	for i, line := range strings.Split(message, "\n") {
		if i == 0 {
			fmt.Fprintf(w, "  %s\n", line)
		} else {
			fmt.Fprintf(w, "  %s\n", ColorDim(line))
		}
	}

	if suggestion := getSuggestion(message); suggestion != "" {
		fmt.Fprintf(w, "\n  %s %s\n", ColorInfo("TIP:"), ColorInfo(suggestion))
	}
}

// ShowSuccess displays a success message
func ShowSuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", ColorSuccess("SUCCESS:"), message)
}

// ShowWarning displays a warning message
func ShowWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

// getSuggestion returns helpful suggestions based on error messages
func getSuggestion(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "incorrect username or password"),
		strings.Contains(lower, "authentication failed"):
		return "Check the user and password in the credentials file"
	case strings.Contains(lower, "connection refused"):
		return "Verify the warehouse host or account and network connectivity"
	case strings.Contains(lower, "syntax error"):
		return "Review the SQL in the failing transformation script"
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "insufficient privileges"):
		return "Ensure the warehouse role can create tables in the staging and warehouse datasets"
	case strings.Contains(lower, "does not exist"):
		return "Check that ingestion ran for this date before transforming it"
	default:
		return ""
	}
}

package locator

import (
	"regexp"
	"time"

	"parcelhub/pkg/errors"
)

const (
	dateLayout    = "2006-01-02"
	compactLayout = "20060102"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ProcessingDate is the calendar day a pipeline run operates on
type ProcessingDate struct {
	t time.Time
}

// ParseDate accepts only YYYY-MM-DD strings naming a real calendar day
func ParseDate(s string) (ProcessingDate, error) {
	if !datePattern.MatchString(s) {
		return ProcessingDate{}, errors.InvalidInput("processing_date", s, "expected YYYY-MM-DD").
			WithSuggestions("Pass the date as --processing_date 2025-01-31")
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return ProcessingDate{}, errors.InvalidInput("processing_date", s, "not a calendar date")
	}
	return ProcessingDate{t: t}, nil
}

// MustParseDate is ParseDate for literals known to be valid
func MustParseDate(s string) ProcessingDate {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func parseCompact(s string) (ProcessingDate, bool) {
	t, err := time.Parse(compactLayout, s)
	if err != nil {
		return ProcessingDate{}, false
	}
	return ProcessingDate{t: t}, true
}

// String returns the canonical YYYY-MM-DD form
func (d ProcessingDate) String() string { return d.t.Format(dateLayout) }

// Compact returns YYYYMMDD, the form embedded in file and table names
func (d ProcessingDate) Compact() string { return d.t.Format(compactLayout) }

// Time returns midnight UTC of the date
func (d ProcessingDate) Time() time.Time { return d.t }

func (d ProcessingDate) IsZero() bool { return d.t.IsZero() }

func (d ProcessingDate) Before(o ProcessingDate) bool { return d.t.Before(o.t) }

package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// LineError reports a malformed record and the 1-based line it started on
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ReadCSV parses a CSV document whose first record is the header. Every data
// record must have as many fields as the header. Empty fields become nulls.
// An empty document yields a table with no columns and no rows.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, csvLineError(err, 1)
	}

	t := &Table{Columns: uniqueColumns(header)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, csvLineError(err, line)
		}

		row := make([]Cell, len(rec))
		for i, v := range rec {
			if v == "" {
				row[i] = Null
				continue
			}
			row[i] = Text(v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func csvLineError(err error, fallback int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &LineError{Line: pe.StartLine, Err: pe.Err}
	}
	return &LineError{Line: fallback, Err: err}
}

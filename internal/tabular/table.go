// Package tabular turns flat source files into rectangular tables of text
// cells ready to be loaded into a warehouse.
package tabular

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Cell is a nullable text value. Staged columns carry no inferred types.
type Cell struct {
	Value string
	Valid bool
}

// Text returns a non-null cell
func Text(s string) Cell { return Cell{Value: s, Valid: true} }

// Null is the missing-value cell
var Null = Cell{}

// Table is a rectangular set of rows; every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]Cell
}

// NumRows returns the number of data rows
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the cells of the named column, or nil when absent
func (t *Table) Column(name string) []Cell {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]Cell, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeColumn maps a source header or JSON key to a warehouse-safe
// identifier: lower case, [a-z0-9_], not starting with a digit.
func NormalizeColumn(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = nonIdent.ReplaceAllString(n, "_")
	n = strings.Trim(n, "_")
	if n == "" {
		n = "col"
	}
	if n[0] >= '0' && n[0] <= '9' {
		n = "c_" + n
	}
	return n
}

// uniqueColumns normalizes names and suffixes duplicates (_2, _3, ...). A
// suffixed name never collides with another emitted column.
func uniqueColumns(names []string) []string {
	used := make(map[string]bool, len(names))
	next := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, raw := range names {
		base := NormalizeColumn(raw)
		n := base
		for used[n] {
			if next[base] < 2 {
				next[base] = 2
			}
			n = fmt.Sprintf("%s_%d", base, next[base])
			next[base]++
		}
		used[n] = true
		out[i] = n
	}
	return out
}

// Decoder returns a reader that converts r from the named charset to UTF-8.
// An empty name or any UTF-8 alias returns r with a leading BOM stripped.
func Decoder(r io.Reader, charset string) (io.Reader, error) {
	name := strings.TrimSpace(strings.ToLower(charset))
	var enc encoding.Encoding
	if name == "" || name == "utf-8" || name == "utf8" {
		enc = unicode.UTF8BOM
	} else {
		var err error
		enc, err = htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("unsupported source encoding %q: %w", charset, err)
		}
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

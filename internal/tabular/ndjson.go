package tabular

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const maxLineSize = 16 * 1024 * 1024

// ReadNDJSON parses newline-delimited JSON: one object per non-blank line.
// The resulting columns are the union of keys in first-seen order; a record
// missing a key gets a null in that column. Strings are kept verbatim,
// numbers keep their source text, nested values are re-encoded as JSON.
func ReadNDJSON(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		rawKeys []string
		index   = make(map[string]int)
		records []map[string]Cell
		line    int
	)

	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		keys, rec, err := decodeObject(raw)
		if err != nil {
			return nil, &LineError{Line: line, Err: err}
		}
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(rawKeys)
				rawKeys = append(rawKeys, k)
			}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, &LineError{Line: line + 1, Err: err}
	}

	t := &Table{Columns: uniqueColumns(rawKeys)}
	t.Rows = make([][]Cell, len(records))
	for i, rec := range records {
		row := make([]Cell, len(rawKeys))
		for k, cell := range rec {
			row[index[k]] = cell
		}
		t.Rows[i] = row
	}
	return t, nil
}

// decodeObject decodes one JSON object preserving key order
func decodeObject(raw []byte) ([]string, map[string]Cell, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var keys []string
	rec := make(map[string]Cell)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected key token %v", kt)
		}

		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("key %q: %w", key, err)
		}
		if _, dup := rec[key]; !dup {
			keys = append(keys, key)
		}
		cell, err := jsonCell(v)
		if err != nil {
			return nil, nil, fmt.Errorf("key %q: %w", key, err)
		}
		rec[key] = cell
	}

	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	if dec.More() {
		return nil, nil, fmt.Errorf("trailing data after object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, fmt.Errorf("trailing data after object")
	}
	return keys, rec, nil
}

func jsonCell(v json.RawMessage) (Cell, error) {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Null, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Null, err
		}
		return Text(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return Null, err
		}
		return Text(buf.String()), nil
	default:
		// numbers and booleans keep their literal text
		return Text(string(trimmed)), nil
	}
}

package tabular

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	src := "parcel_id,Weight KG,hub_id\nP1,2.5,H1\nP2,,H2\n"

	table, err := ReadCSV(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"parcel_id", "weight_kg", "hub_id"}, table.Columns)
	require.Equal(t, 2, table.NumRows())
	assert.Equal(t, Text("P1"), table.Rows[0][0])
	assert.Equal(t, Null, table.Rows[1][1], "empty field should be null")
	assert.Equal(t, []Cell{Text("H1"), Text("H2")}, table.Column("hub_id"))
}

func TestReadCSVEmpty(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.Equal(t, 0, table.NumRows())

	table, err = ReadCSV(strings.NewReader("route_id,origin\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"route_id", "origin"}, table.Columns)
	assert.Equal(t, 0, table.NumRows())
}

func TestReadCSVRaggedRow(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n1,2\n3\n"))
	require.Error(t, err)

	var lerr *LineError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 3, lerr.Line)
}

func TestReadNDJSONUnionOfKeys(t *testing.T) {
	src := `{"event_id": "E1", "parcel_id": "P1", "status": "picked_up"}
{"event_id": "E2", "parcel_id": "P1", "hub_id": "H9"}

{"event_id": "E3", "scanned_at": 1735689600, "meta": {"device": "scanner-4"}, "late": true}
`
	table, err := ReadNDJSON(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"event_id", "parcel_id", "status", "hub_id", "scanned_at", "meta", "late"}, table.Columns)
	require.Equal(t, 3, table.NumRows())
	for _, row := range table.Rows {
		assert.Len(t, row, len(table.Columns))
	}

	assert.Equal(t, Null, table.Rows[0][3], "hub_id missing in first record")
	assert.Equal(t, Text("H9"), table.Rows[1][3])
	assert.Equal(t, Text("1735689600"), table.Rows[2][4], "numbers keep their literal text")
	assert.Equal(t, Text(`{"device":"scanner-4"}`), table.Rows[2][5])
	assert.Equal(t, Text("true"), table.Rows[2][6])
}

func TestReadNDJSONNullsAndEmpty(t *testing.T) {
	table, err := ReadNDJSON(strings.NewReader(`{"a": null, "b": "x"}`))
	require.NoError(t, err)
	assert.Equal(t, []Cell{Null, Text("x")}, table.Rows[0])

	table, err = ReadNDJSON(strings.NewReader("\n  \n"))
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.Equal(t, 0, table.NumRows())
}

func TestReadNDJSONMalformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"broken object", "{\"a\": 1}\n{\"a\": \n", 2},
		{"array instead of object", "[1,2]\n", 1},
		{"two objects on one line", "{\"a\":1} {\"a\":2}\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadNDJSON(strings.NewReader(tt.src))
			require.Error(t, err)
			var lerr *LineError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, tt.line, lerr.Line)
		})
	}
}

func TestNormalizeColumn(t *testing.T) {
	tests := map[string]string{
		"parcel_id":     "parcel_id",
		"Parcel ID":     "parcel_id",
		"  weight (kg)": "weight_kg",
		"2nd_attempt":   "c_2nd_attempt",
		"%%":            "col",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeColumn(in), in)
	}

	assert.Equal(t, []string{"id", "id_2", "id_3"}, uniqueColumns([]string{"id", "ID", "Id"}))
}

func TestSuffixedColumnsNeverCollide(t *testing.T) {
	want := []string{"id", "id_2", "id_2_2"}

	table, err := ReadCSV(strings.NewReader("id,ID,id_2\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, want, table.Columns)
	assert.Equal(t, []Cell{Text("3")}, table.Column("id_2_2"))

	table, err = ReadNDJSON(strings.NewReader(`{"id": "1", "ID": "2", "id_2": "3"}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, want, table.Columns)

	assert.Equal(t, []string{"id_2", "id", "id_3"}, uniqueColumns([]string{"id_2", "id", "ID"}))
}

func TestDecoder(t *testing.T) {
	r, err := Decoder(strings.NewReader("\ufeffa,b\n"), "")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(b), "BOM should be stripped")

	r, err = Decoder(strings.NewReader("caf\xe9"), "windows-1252")
	require.NoError(t, err)
	b, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "café", string(b))

	_, err = Decoder(strings.NewReader(""), "no-such-charset")
	assert.Error(t, err)
}

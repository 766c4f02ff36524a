// Package dataset models an uploaded table as an ordered set of read-only
// records with explicit per-field presence.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoHeader is returned when a CSV input has no header row.
var ErrNoHeader = errors.New("dataset has no header row")

// FieldState separates a missing column from an empty cell.
type FieldState int

const (
	// FieldAbsent means the record has no such column.
	FieldAbsent FieldState = iota
	// FieldBlank means the column exists but the cell is empty or NaN-like.
	FieldBlank
	// FieldPresent means the cell carries a non-empty value.
	FieldPresent
)

func (s FieldState) String() string {
	switch s {
	case FieldAbsent:
		return "absent"
	case FieldBlank:
		return "blank"
	case FieldPresent:
		return "present"
	default:
		return fmt.Sprintf("FieldState(%d)", int(s))
	}
}

// Field is one cell lookup result.
type Field struct {
	Value string
	State FieldState
}

// Present reports whether the field carries a value.
func (f Field) Present() bool { return f.State == FieldPresent }

// missingTokens are the default NA markers of dataframe CSV readers. They
// match case-sensitively, so a surname like "Na" or "Null" stays a value.
var missingTokens = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// IsMissing reports whether a raw cell value should be treated as empty.
func IsMissing(raw string) bool {
	_, ok := missingTokens[strings.TrimSpace(raw)]
	return ok
}

// Dataset is an immutable table of records.
type Dataset struct {
	columns  []string
	colIndex map[string]int
	records  []Record
}

// Record is one row. Index is its 0-based position in the dataset.
type Record struct {
	Index  int
	ds     *Dataset
	values []string
}

// New builds a dataset from a header and rows. Short rows are padded with
// blanks, extra cells are ignored.
func New(columns []string, rows [][]string) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, ErrNoHeader
	}
	d := &Dataset{
		columns:  make([]string, len(columns)),
		colIndex: make(map[string]int, len(columns)),
		records:  make([]Record, 0, len(rows)),
	}
	for i, c := range columns {
		name := strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
		if _, dup := d.colIndex[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		d.columns[i] = name
		d.colIndex[name] = i
	}
	for i, row := range rows {
		values := make([]string, len(columns))
		copy(values, row)
		d.records = append(d.records, Record{Index: i, ds: d, values: values})
	}
	return d, nil
}

// ReadCSV parses a comma separated file with a header row.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
	return New(header, rows)
}

// Columns returns the column names in file order.
func (d *Dataset) Columns() []string {
	return append([]string(nil), d.columns...)
}

// HasColumn reports whether the exact column name exists.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.colIndex[name]
	return ok
}

// Len is the number of records.
func (d *Dataset) Len() int { return len(d.records) }

// Records returns the records in input order.
func (d *Dataset) Records() []Record {
	return d.records
}

// Record returns the record at position i.
func (d *Dataset) Record(i int) Record {
	return d.records[i]
}

// Field looks up a cell by column name.
func (r Record) Field(name string) Field {
	if r.ds == nil {
		return Field{State: FieldAbsent}
	}
	idx, ok := r.ds.colIndex[name]
	if !ok {
		return Field{State: FieldAbsent}
	}
	raw := r.values[idx]
	if IsMissing(raw) {
		return Field{State: FieldBlank}
	}
	return Field{Value: strings.TrimSpace(raw), State: FieldPresent}
}

// Values returns the raw cells in column order.
func (r Record) Values() []string {
	return append([]string(nil), r.values...)
}

package fields

import (
	"strconv"
	"strings"
)

// Field is one key/value cell of a Record.
type Field struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Record is an ordered mapping from arbitrary column names to scalar values.
// Order follows the source columns and is significant for resolution.
type Record struct {
	fields []Field
}

// NewRecord builds a Record from fields, keeping their order. Later duplicates
// of a key overwrite the earlier value in place.
func NewRecord(fs ...Field) Record {
	r := Record{fields: make([]Field, 0, len(fs))}
	for _, f := range fs {
		r = r.With(f.Key, f.Value)
	}
	return r
}

// FromRow zips a header with a row of cells. Blank headers are skipped and
// numeric cells are stored as float64.
func FromRow(header, row []string) Record {
	r := Record{fields: make([]Field, 0, len(header))}
	for i, h := range header {
		key := strings.TrimSpace(h)
		if key == "" {
			continue
		}
		var cell string
		if i < len(row) {
			cell = strings.TrimSpace(row[i])
		}
		r = r.With(key, CellValue(cell))
	}
	return r
}

// CellValue converts a raw cell into float64 when it parses as a plain
// number, otherwise returns the string unchanged.
func CellValue(cell string) any {
	if cell == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err == nil {
		return f
	}
	return cell
}

// With returns a copy of r with key set to value.
func (r Record) With(key string, value any) Record {
	out := Record{fields: make([]Field, len(r.fields), len(r.fields)+1)}
	copy(out.fields, r.fields)
	for i := range out.fields {
		if out.fields[i].Key == key {
			out.fields[i].Value = value
			return out
		}
	}
	out.fields = append(out.fields, Field{Key: key, Value: value})
	return out
}

// Get returns the raw value stored under key (exact match).
func (r Record) Get(key string) (any, bool) {
	for _, f := range r.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Fields returns the fields in natural order. The slice must not be modified.
func (r Record) Fields() []Field { return r.fields }

// Len reports the number of fields.
func (r Record) Len() int { return len(r.fields) }

package sheet

import (
	"strings"
)

// Table is a decoded sheet: one header row plus data rows padded to the
// header width.
type Table struct {
	Name   string     `json:"name,omitempty"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// FromRows treats the first non-empty row as the header and keeps every
// later non-empty row as data.
func FromRows(name string, rows [][]string) Table {
	t := Table{Name: name}
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		if t.Header == nil {
			t.Header = trimAll(row)
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	width := len(t.Header)
	for i := range t.Rows {
		if len(t.Rows[i]) > width {
			width = len(t.Rows[i])
		}
	}
	for i := range t.Rows {
		t.Rows[i] = padRow(t.Rows[i], width)
	}
	return t
}

// Column returns the index of the first header matching any of names,
// compared case- and whitespace-insensitively; -1 when absent.
func (t Table) Column(names ...string) int {
	for _, want := range names {
		w := squash(want)
		for i, h := range t.Header {
			if squash(h) == w {
				return i
			}
		}
	}
	return -1
}

// ColumnContaining returns the first header whose squashed form contains
// sub; -1 when absent.
func (t Table) ColumnContaining(sub string) int {
	s := squash(sub)
	for i, h := range t.Header {
		if strings.Contains(squash(h), s) {
			return i
		}
	}
	return -1
}

// Cell returns the trimmed cell at (row, col), or "" when out of range.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// Empty reports whether the table has no data rows.
func (t Table) Empty() bool { return len(t.Rows) == 0 }

func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

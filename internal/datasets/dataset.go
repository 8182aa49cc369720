package datasets

import (
	"errors"
	"strings"
	"time"

	"github.com/vinodismyname/leverlab/internal/drivertree"
	"github.com/vinodismyname/leverlab/internal/facts"
	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/sheet"
)

var (
	// ErrDatasetNotFound indicates an unknown or expired dataset ID.
	ErrDatasetNotFound = errors.New("datasets: dataset not found")
	// ErrUnsupportedFormat indicates a file extension the loader cannot decode.
	ErrUnsupportedFormat = errors.New("datasets: unsupported format")
	// ErrNoSheets indicates a workbook without any recognised sheet.
	ErrNoSheets = errors.New("datasets: no recognised sheets")
	// ErrCapacity indicates the open-dataset limit was reached.
	ErrCapacity = errors.New("datasets: open dataset limit reached")
)

// Kind classifies a workbook sheet.
type Kind string

const (
	KindTree       Kind = "driver_tree"
	KindAccounting Kind = "accounting"
	KindNaming     Kind = "naming"
	KindDimension  Kind = "dimension"
	KindFacts      Kind = "facts"
	KindIgnored    Kind = "ignored"
)

// SheetInfo describes how one sheet was interpreted.
type SheetInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Rows int    `json:"rows"`
}

// Dimension is a lookup sheet keyed by its first column.
type Dimension struct {
	Name  string
	Table sheet.Table
	index map[string]int
}

func newDimension(t sheet.Table) Dimension {
	d := Dimension{Name: t.Name, Table: t, index: make(map[string]int, len(t.Rows))}
	for i, row := range t.Rows {
		id := strings.ToLower(sheet.Cell(row, 0))
		if _, dup := d.index[id]; id != "" && !dup {
			d.index[id] = i
		}
	}
	return d
}

// KeyColumn returns the header of the id column.
func (d Dimension) KeyColumn() string {
	if len(d.Table.Header) == 0 {
		return ""
	}
	return d.Table.Header[0]
}

// Lookup returns the attributes of id, compared case-insensitively.
func (d Dimension) Lookup(id string) (fields.Record, bool) {
	i, ok := d.index[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return fields.Record{}, false
	}
	return fields.FromRow(d.Table.Header, d.Table.Rows[i]), true
}

// Dataset is one decoded workbook. It is treated as immutable once stored;
// derived structures are built from clones.
type Dataset struct {
	ID         string
	Name       string
	Path       string
	Tree       *drivertree.Tree
	Accounting facts.Accounting
	Records    []fields.Record
	Dimensions []Dimension
	Naming     sheet.Table
	Sheets     []SheetInfo
	LoadedAt   time.Time
}

// HasNaming reports whether the workbook carried a naming sheet.
func (d *Dataset) HasNaming() bool { return len(d.Naming.Header) > 0 }

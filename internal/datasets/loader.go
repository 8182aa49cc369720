package datasets

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vinodismyname/leverlab/internal/drivertree"
	"github.com/vinodismyname/leverlab/internal/facts"
	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/sheet"
)

// PathValidator abstracts filesystem path validation. Implementations
// return a canonical absolute path if allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

var supportedExts = map[string]bool{".xlsx": true, ".xlsm": true, ".xltx": true, ".xltm": true}

// Loader decodes spreadsheet workbooks into Datasets.
type Loader struct {
	Logger    zerolog.Logger
	Validator PathValidator
}

// NewLoader returns a Loader. validator may be nil, in which case any
// readable path is accepted.
func NewLoader(logger zerolog.Logger, validator PathValidator) *Loader {
	return &Loader{Logger: logger, Validator: validator}
}

// Load opens and decodes the workbook at path. Decoding is all-or-nothing:
// any sheet failing to decode fails the whole load.
func (l *Loader) Load(ctx context.Context, path string) (*Dataset, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExts[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if l.Validator != nil {
		canonical, err := l.Validator.ValidateOpenPath(path)
		if err != nil {
			return nil, err
		}
		path = canonical
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("datasets: open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := l.Decode(ctx, f)
	if err != nil {
		return nil, err
	}
	ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ds.Path = path
	return ds, nil
}

// Read decodes a workbook streamed from r.
func (l *Loader) Read(ctx context.Context, name string, r io.Reader) (*Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("datasets: open %s: %w", name, err)
	}
	defer f.Close()

	ds, err := l.Decode(ctx, f)
	if err != nil {
		return nil, err
	}
	ds.Name = name
	return ds, nil
}

type decoded struct {
	info       SheetInfo
	table      sheet.Table
	tree       *drivertree.Tree
	accounting facts.Accounting
	records    []fields.Record
}

// Decode classifies and decodes every sheet of f.
func (l *Loader) Decode(ctx context.Context, f *excelize.File) (*Dataset, error) {
	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, ErrNoSheets
	}

	// excelize reads are done serially; decoding fans out per sheet.
	raw := make([][][]string, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("datasets: read sheet %q: %w", name, err)
		}
		raw[i] = rows
	}

	parts := make([]decoded, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := decodeSheet(sheet.FromRows(names[i], raw[i]))
			if err != nil {
				return err
			}
			parts[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return l.merge(parts)
}

func (l *Loader) merge(parts []decoded) (*Dataset, error) {
	ds := &Dataset{Accounting: facts.Accounting{}}
	recognised := 0
	for _, p := range parts {
		ds.Sheets = append(ds.Sheets, p.info)
		switch p.info.Kind {
		case KindTree:
			if ds.Tree != nil {
				l.Logger.Warn().Str("sheet", p.info.Name).Msg("additional driver tree sheet ignored")
				continue
			}
			ds.Tree = p.tree
		case KindAccounting:
			for name, amounts := range p.accounting {
				ds.Accounting[name] = append(ds.Accounting[name], amounts...)
			}
		case KindNaming:
			if ds.HasNaming() {
				l.Logger.Warn().Str("sheet", p.info.Name).Msg("additional naming sheet ignored")
				continue
			}
			ds.Naming = p.table
		case KindDimension:
			ds.Dimensions = append(ds.Dimensions, newDimension(p.table))
		case KindFacts:
			ds.Records = append(ds.Records, p.records...)
		default:
			l.Logger.Debug().Str("sheet", p.info.Name).Msg("sheet not recognised")
			continue
		}
		recognised++
	}
	if recognised == 0 {
		return nil, ErrNoSheets
	}
	if ds.Tree == nil {
		ds.Tree = drivertree.New()
	}
	ds.Records = enrich(ds.Records, ds.Dimensions)

	l.Logger.Info().
		Int("sheets", len(parts)).
		Int("records", len(ds.Records)).
		Int("tree_nodes", ds.Tree.Len()).
		Int("accounting_lines", len(ds.Accounting)).
		Bool("naming", ds.HasNaming()).
		Msg("workbook decoded")
	return ds, nil
}

// Classify maps a sheet onto its role from its name, falling back to the
// header for fact sheets.
func Classify(t sheet.Table) Kind {
	name := strings.ToLower(strings.Join(strings.Fields(t.Name), " "))
	switch {
	case strings.Contains(name, "driver tree"), strings.Contains(name, "drivertree"), strings.Contains(name, "hierarchy"):
		return KindTree
	case strings.Contains(name, "accounting"):
		return KindAccounting
	case strings.Contains(name, "naming"):
		return KindNaming
	case strings.HasPrefix(name, "dim"):
		return KindDimension
	}
	for _, h := range t.Header {
		if facts.IsPeriodKey(h) {
			return KindFacts
		}
	}
	return KindIgnored
}

func decodeSheet(t sheet.Table) (decoded, error) {
	d := decoded{info: SheetInfo{Name: t.Name, Kind: Classify(t), Rows: len(t.Rows)}, table: t}
	var err error
	switch d.info.Kind {
	case KindTree:
		d.tree = drivertree.Build(t)
	case KindAccounting:
		d.accounting, err = decodeAccounting(t)
	case KindFacts:
		d.records = make([]fields.Record, 0, len(t.Rows))
		for _, row := range t.Rows {
			d.records = append(d.records, fields.FromRow(t.Header, row))
		}
	}
	return d, err
}

var (
	accountingNameCols   = []string{"Name", "Account", "Line Item", "Line", "Item", "Metric"}
	accountingPeriodCols = []string{"Period", "Quarter", "Qtr", "Fiscal Period"}
	accountingAmountCols = []string{"Amount", "Value", "Actual"}
)

// decodeAccounting reads either a long table (name, period, amount) or a
// wide one (name plus one column per period).
func decodeAccounting(t sheet.Table) (facts.Accounting, error) {
	acct := facts.Accounting{}
	nameCol := t.Column(accountingNameCols...)
	if nameCol < 0 {
		nameCol = 0
	}
	periodCol := t.Column(accountingPeriodCols...)
	amountCol := t.Column(accountingAmountCols...)

	add := func(row int, name, period, cell string) error {
		if name == "" || period == "" || cell == "" {
			return nil
		}
		v, err := parseAmount(cell)
		if err != nil {
			return fmt.Errorf("datasets: accounting sheet %q row %d: %w", t.Name, row+2, err)
		}
		acct[name] = append(acct[name], facts.PeriodAmount{Period: period, Amount: v})
		return nil
	}

	for r, row := range t.Rows {
		name := sheet.Cell(row, nameCol)
		if periodCol >= 0 && amountCol >= 0 {
			if err := add(r, name, sheet.Cell(row, periodCol), sheet.Cell(row, amountCol)); err != nil {
				return nil, err
			}
			continue
		}
		for c, h := range t.Header {
			if c == nameCol {
				continue
			}
			if err := add(r, name, h, sheet.Cell(row, c)); err != nil {
				return nil, err
			}
		}
	}
	return acct, nil
}

// parseAmount accepts plain numbers plus currency signs, thousands
// separators and accounting parentheses for negatives.
func parseAmount(cell string) (float64, error) {
	s := strings.TrimSpace(cell)
	neg := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if neg {
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not numeric", cell)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// enrich appends dimension attributes to records carrying the dimension's
// key column. Existing record fields are never overwritten.
func enrich(records []fields.Record, dims []Dimension) []fields.Record {
	if len(dims) == 0 {
		return records
	}
	out := make([]fields.Record, len(records))
	for i, rec := range records {
		for _, dim := range dims {
			key := dim.KeyColumn()
			id, ok := lookupFold(rec, key)
			if !ok {
				continue
			}
			attrs, ok := dim.Lookup(fmt.Sprint(id))
			if !ok {
				continue
			}
			for _, f := range attrs.Fields() {
				if _, exists := lookupFold(rec, f.Key); !exists {
					rec = rec.With(f.Key, f.Value)
				}
			}
		}
		out[i] = rec
	}
	return out
}

func lookupFold(rec fields.Record, key string) (any, bool) {
	for _, f := range rec.Fields() {
		if strings.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return nil, false
}

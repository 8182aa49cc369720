package naming

import (
	"strconv"
	"strings"

	"github.com/vinodismyname/leverlab/config"
	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/sheet"
)

// Impact classifies a P&L line item by the section it belongs to.
type Impact string

const (
	Revenue Impact = "revenue"
	Expense Impact = "expense"
	Margin  Impact = "margin"
)

// Line item depths.
const (
	DepthSection    = 0
	DepthSubsection = 1
	DepthDetail     = 2
)

// FinancialResult is the Category value that admits a row into the P&L.
const FinancialResult = "Financial Result"

// Column aliases of the naming-convention table, compared case- and
// whitespace-insensitively.
var (
	colCanonical   = []string{"Fact_Margin Naming", "FactMargin Naming", "Fact Margin Naming", "Canonical Name"}
	colCategory    = []string{"Category"}
	colPnLImpact   = []string{"P&L Impact", "PnL Impact", "PL Impact"}
	colLeverImpact = []string{"Lever Impact", "Lever Impacts"}
	colReport      = []string{"Report Naming", "Report Name"}
	colLevel       = []string{"P&L Level", "PnL Level", "Level"}
	colLeverMin    = []string{"Lever Min", "Min"}
	colLeverMax    = []string{"Lever Max", "Max"}
)

// LineItem is one row of the P&L presentation.
type LineItem struct {
	Label     string `json:"label"`
	Key       string `json:"key"`
	Depth     int    `json:"depth"`
	IsTotal   bool   `json:"is_total"`
	Impact    Impact `json:"impact"`
	Ratio     bool   `json:"ratio,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// Statement is the ordered list of P&L line items.
type Statement struct {
	Items []LineItem `json:"items"`
}

// Empty reports whether the statement has no line items.
func (s Statement) Empty() bool { return len(s.Items) == 0 }

// Total returns the section header row for impact.
func (s Statement) Total(impact Impact) (LineItem, bool) {
	for _, it := range s.Items {
		if it.Impact == impact && it.IsTotal && !it.Ratio {
			return it, true
		}
	}
	return LineItem{}, false
}

// Details returns the detail rows of a section.
func (s Statement) Details(impact Impact) []LineItem {
	var out []LineItem
	for _, it := range s.Items {
		if it.Impact == impact && it.Depth == DepthDetail {
			out = append(out, it)
		}
	}
	return out
}

// Subtotals maps each subsection row of a section to the detail rows it
// sums: the details that follow it in statement order up to the next row of
// depth one or less. Subsections with no such details are left out.
func (s Statement) Subtotals(impact Impact) map[string][]LineItem {
	out := map[string][]LineItem{}
	owner := ""
	for _, it := range s.Items {
		if it.Depth < DepthDetail {
			owner = ""
			if it.Impact == impact && it.Depth == DepthSubsection && !it.Ratio {
				owner = it.Key
			}
			continue
		}
		if owner != "" && it.Impact == impact {
			out[owner] = append(out[owner], it)
		}
	}
	return out
}

// Contributors returns the rows whose values add up to a section total:
// every detail row plus subsections that have no details of their own.
func (s Statement) Contributors(impact Impact) []LineItem {
	subs := s.Subtotals(impact)
	var out []LineItem
	for _, it := range s.Items {
		if it.Impact != impact || it.Ratio {
			continue
		}
		if it.Depth == DepthDetail || (it.Depth == DepthSubsection && len(subs[it.Key]) == 0) {
			out = append(out, it)
		}
	}
	return out
}

// Derived reports whether key is computed from other rows (a section
// total, the margin rows, or a subsection with details) and so cannot be
// moved by a lever directly.
func (s Statement) Derived(key string) bool {
	it, ok := s.Item(key)
	if !ok {
		return false
	}
	if it.IsTotal || it.Impact == Margin {
		return true
	}
	return it.Depth == DepthSubsection && len(s.Subtotals(it.Impact)[key]) > 0
}

// MarginPct returns the margin-percentage row.
func (s Statement) MarginPct() (LineItem, bool) {
	for _, it := range s.Items {
		if it.Impact == Margin && it.Ratio {
			return it, true
		}
	}
	return LineItem{}, false
}

// Keys returns line item keys in statement order.
func (s Statement) Keys() []string {
	out := make([]string, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.Key
	}
	return out
}

// Item looks up a line item by key.
func (s Statement) Item(key string) (LineItem, bool) {
	for _, it := range s.Items {
		if it.Key == key {
			return it, true
		}
	}
	return LineItem{}, false
}

// HasCanonicalColumn reports whether t carries a canonical-name column.
func HasCanonicalColumn(t sheet.Table) bool { return t.Column(colCanonical...) >= 0 }

// ParseImpact maps a "P&L Impact" cell onto a section.
func ParseImpact(v string) (Impact, bool) {
	low := strings.ToLower(v)
	switch {
	case strings.Contains(low, "revenue"):
		return Revenue, true
	case strings.Contains(low, "expense"):
		return Expense, true
	case strings.Contains(low, "margin"):
		return Margin, true
	}
	return "", false
}

func isRatioName(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "pct") || strings.Contains(low, "percent") || strings.Contains(low, "%")
}

// BuildStatement builds P&L line items from the naming-convention table.
// Missing columns or no "Financial Result" rows give an empty statement.
// Sections lacking a declared total, and a missing margin or margin
// percentage row, are synthesized so every section has a header.
func BuildStatement(t sheet.Table) Statement {
	canon := t.Column(colCanonical...)
	cat := t.Column(colCategory...)
	imp := t.Column(colPnLImpact...)
	if canon < 0 || cat < 0 || imp < 0 {
		return Statement{}
	}
	report := t.Column(colReport...)
	level := t.Column(colLevel...)

	var st Statement
	seen := map[string]bool{}
	for _, row := range t.Rows {
		key := sheet.Cell(row, canon)
		if key == "" || seen[key] {
			continue
		}
		if !strings.EqualFold(sheet.Cell(row, cat), FinancialResult) {
			continue
		}
		impact, ok := ParseImpact(sheet.Cell(row, imp))
		if !ok {
			continue
		}
		label := sheet.Cell(row, report)
		if label == "" {
			label = key
		}
		it := LineItem{Label: label, Key: key, Impact: impact}
		it.Ratio = impact == Margin && (isRatioName(key) || isRatioName(label))
		it.Depth = inferDepth(it, sheet.Cell(row, level))
		it.IsTotal = it.Depth == DepthSection
		seen[key] = true
		st.Items = append(st.Items, it)
	}
	if st.Empty() {
		return st
	}
	return synthesize(st)
}

func inferDepth(it LineItem, explicit string) int {
	if explicit != "" {
		if n, err := strconv.Atoi(explicit); err == nil {
			switch {
			case n < DepthSection:
				return DepthSection
			case n > DepthDetail:
				return DepthDetail
			}
			return n
		}
	}
	if it.Impact == Margin {
		return DepthSection
	}
	low := strings.ToLower(it.Key + " " + it.Label)
	switch {
	case strings.Contains(low, "subtotal"):
		return DepthSubsection
	case strings.Contains(low, "total"):
		return DepthSection
	}
	return DepthDetail
}

func synthesize(st Statement) Statement {
	for _, impact := range []Impact{Revenue, Expense} {
		if _, ok := st.Total(impact); ok || len(st.Details(impact)) == 0 {
			continue
		}
		label := "Total " + strings.ToUpper(string(impact[:1])) + string(impact[1:])
		// Synthesized headers lead their section.
		st.Items = insertBeforeSection(st.Items, LineItem{Label: label, Key: label, Depth: DepthSection, IsTotal: true, Impact: impact, Synthetic: true})
	}
	if _, ok := st.Total(Margin); !ok {
		st.Items = append(st.Items, LineItem{Label: "Margin", Key: "Margin", Depth: DepthSection, IsTotal: true, Impact: Margin, Synthetic: true})
	}
	if _, ok := st.MarginPct(); !ok {
		st.Items = append(st.Items, LineItem{Label: "Margin %", Key: "MarginPct", Depth: DepthSection, IsTotal: true, Impact: Margin, Ratio: true, Synthetic: true})
	}
	return st
}

func insertBeforeSection(items []LineItem, it LineItem) []LineItem {
	at := len(items)
	for i, x := range items {
		if x.Impact == it.Impact {
			at = i
			break
		}
	}
	items = append(items, LineItem{})
	copy(items[at+1:], items[at:])
	items[at] = it
	return items
}

// Lever is a named, bounded percentage input.
type Lever struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Field        string  `json:"field"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Unit         string  `json:"unit"`
	CurrentValue float64 `json:"current_value"`
}

// Clamp bounds v to the lever's range.
func (l Lever) Clamp(v float64) float64 {
	if v < l.Min {
		return l.Min
	}
	if v > l.Max {
		return l.Max
	}
	return v
}

// Default lever bounds.
const (
	DefaultLeverMin  = config.DefaultLeverMin
	DefaultLeverMax  = config.DefaultLeverMax
	DefaultLeverUnit = config.DefaultLeverUnit
)

// Levers reads lever declarations (Category containing "lever" or "driver")
// from the naming table, falling back to defaults when none are declared.
func Levers(t sheet.Table, defaults []Lever) []Lever {
	canon := t.Column(colCanonical...)
	cat := t.Column(colCategory...)
	if canon < 0 || cat < 0 {
		return cloneLevers(defaults)
	}
	report := t.Column(colReport...)
	minCol := t.Column(colLeverMin...)
	maxCol := t.Column(colLeverMax...)

	var out []Lever
	seen := map[string]bool{}
	for _, row := range t.Rows {
		c := strings.ToLower(sheet.Cell(row, cat))
		if !strings.Contains(c, "lever") && !strings.Contains(c, "driver") {
			continue
		}
		id := sheet.Cell(row, canon)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		name := sheet.Cell(row, report)
		if name == "" {
			name = id
		}
		l := Lever{ID: id, Name: name, Field: id, Min: DefaultLeverMin, Max: DefaultLeverMax, Unit: DefaultLeverUnit}
		if v, ok := fields.Coerce(sheet.Cell(row, minCol)); ok {
			l.Min = v
		}
		if v, ok := fields.Coerce(sheet.Cell(row, maxCol)); ok {
			l.Max = v
		}
		if l.Min > l.Max {
			l.Min, l.Max = l.Max, l.Min
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return cloneLevers(defaults)
	}
	return out
}

func cloneLevers(ls []Lever) []Lever {
	out := make([]Lever, len(ls))
	copy(out, ls)
	return out
}

// ImpactMapping lists, per lever ID, the canonical measures it influences.
type ImpactMapping map[string][]string

// Measures returns the measures impacted by lever id.
func (m ImpactMapping) Measures(id string) []string { return m[id] }

// Impacts reads the "Lever Impact" column: each cell lists lever names or IDs
// separated by commas, semicolons, pipes or newlines, and the row's
// canonical name is appended to every listed lever. Tokens that match no
// lever are returned separately.
func Impacts(t sheet.Table, levers []Lever) (ImpactMapping, []string) {
	m := ImpactMapping{}
	canon := t.Column(colCanonical...)
	li := t.Column(colLeverImpact...)
	if canon < 0 || li < 0 {
		return m, nil
	}
	var unknown []string
	for _, row := range t.Rows {
		measure := sheet.Cell(row, canon)
		cell := sheet.Cell(row, li)
		if measure == "" || cell == "" {
			continue
		}
		for _, tok := range splitList(cell) {
			l, ok := findLever(levers, tok)
			if !ok {
				unknown = append(unknown, tok)
				continue
			}
			if l.ID == measure || contains(m[l.ID], measure) {
				continue
			}
			m[l.ID] = append(m[l.ID], measure)
		}
	}
	return m, unknown
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '\n'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func findLever(levers []Lever, tok string) (Lever, bool) {
	for _, l := range levers {
		if strings.EqualFold(l.ID, tok) || strings.EqualFold(l.Name, tok) {
			return l, true
		}
	}
	for _, l := range levers {
		if fields.Normalize(l.ID) == fields.Normalize(tok) || fields.Normalize(l.Name) == fields.Normalize(tok) {
			return l, true
		}
	}
	for _, l := range levers {
		if fields.NamesMatch(l.ID, tok) || fields.NamesMatch(l.Name, tok) {
			return l, true
		}
	}
	return Lever{}, false
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// Gaps returns levers without any impacted measure.
func Gaps(levers []Lever, m ImpactMapping) []Lever {
	var out []Lever
	for _, l := range levers {
		if len(m[l.ID]) == 0 {
			out = append(out, l)
		}
	}
	return out
}

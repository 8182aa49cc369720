package facts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vinodismyname/leverlab/internal/drivertree"
	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/naming"
)

// Record is one fact row.
type Record = fields.Record

// periodKeys are matched against lowercase record keys in priority order.
var periodKeys = []string{"quarter", "qtr", "period", "fiscal"}

// IsPeriodKey reports whether a column name would be read as a period.
func IsPeriodKey(key string) bool {
	low := strings.ToLower(key)
	for _, needle := range periodKeys {
		if strings.Contains(low, needle) {
			return true
		}
	}
	return false
}

// PeriodOf returns the record's period label, or "" when it has none.
// Blank period cells are passed over.
func PeriodOf(rec Record) string {
	for _, needle := range periodKeys {
		for _, f := range rec.Fields() {
			if !strings.Contains(strings.ToLower(f.Key), needle) {
				continue
			}
			if p := periodString(f.Value); p != "" {
				return p
			}
		}
	}
	return ""
}

func periodString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return strings.TrimSpace(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// Grouped holds records partitioned by period.
type Grouped struct {
	Periods  []string
	ByPeriod map[string][]Record
	Dropped  int
}

// GroupByPeriod partitions records by PeriodOf, keeping periods in
// first-encounter order. Records without a period are counted and dropped.
func GroupByPeriod(records []Record) Grouped {
	g := Grouped{ByPeriod: map[string][]Record{}}
	for _, rec := range records {
		p := PeriodOf(rec)
		if p == "" {
			g.Dropped++
			continue
		}
		if _, ok := g.ByPeriod[p]; !ok {
			g.Periods = append(g.Periods, p)
		}
		g.ByPeriod[p] = append(g.ByPeriod[p], rec)
	}
	return g
}

// PeriodAmount is one value of the accounting-facts table.
type PeriodAmount struct {
	Period string  `json:"period"`
	Amount float64 `json:"amount"`
}

// Accounting maps a line name onto its per-period amounts.
type Accounting map[string][]PeriodAmount

// Lookup finds amounts by name, ignoring case and surrounding space.
func (a Accounting) Lookup(name string) ([]PeriodAmount, bool) {
	if v, ok := a[name]; ok {
		return v, true
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for k, v := range a {
		if strings.ToLower(strings.TrimSpace(k)) == want {
			return v, true
		}
	}
	return nil, false
}

// periods lists accounting periods in first-encounter order over sorted names.
func (a Accounting) periods() []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range sortedKeys(a) {
		for _, pa := range a[name] {
			if !seen[pa.Period] {
				seen[pa.Period] = true
				out = append(out, pa.Period)
			}
		}
	}
	return out
}

// NormalizePercent maps a fraction onto a percentage: values with magnitude
// below 1 are multiplied by 100, others are kept.
func NormalizePercent(v float64) float64 {
	if v > -1 && v < 1 {
		return v * 100
	}
	return v
}

// Aggregator computes per-period amounts for tree leaves and P&L line items.
type Aggregator struct {
	Resolver *fields.Resolver
	Logger   zerolog.Logger
}

// NewAggregator returns an Aggregator whose resolver logs through logger.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{Resolver: fields.NewResolver(logger), Logger: logger}
}

// AggregateTree fills leaf amounts from records, falling back to the
// accounting table for leaves no record resolves, then rolls the tree up.
// Every node ends with an entry for every returned period.
func (a *Aggregator) AggregateTree(tree *drivertree.Tree, records []Record, acct Accounting) []string {
	g := GroupByPeriod(records)
	periods := mergePeriods(g.Periods, acct.periods())

	fallbacks := 0
	for _, leaf := range tree.Leaves() {
		leaf.Amounts = map[string]float64{}
		hit := false
		for _, p := range g.Periods {
			var sum float64
			for _, rec := range g.ByPeriod[p] {
				if v, ok := a.Resolver.Value(rec, leaf.Name); ok {
					sum += v
					hit = true
				}
			}
			leaf.Amounts[p] = sum
		}
		if hit {
			continue
		}
		if rows, ok := acct.Lookup(leaf.Name); ok {
			fallbacks++
			for _, pa := range rows {
				leaf.Amounts[pa.Period] += pa.Amount
			}
		}
	}
	drivertree.RollUp(tree)
	drivertree.FillPeriods(tree, periods)

	a.Logger.Debug().
		Int("leaves", len(tree.Leaves())).
		Int("periods", len(periods)).
		Int("accounting_fallbacks", fallbacks).
		Int("dropped_records", g.Dropped).
		Msg("driver tree aggregated")
	return periods
}

func mergePeriods(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := map[string]bool{}
	for _, list := range [][]string{a, b} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Baseline is the per-period value of every P&L line item.
type Baseline struct {
	Periods []string                      `json:"periods"`
	Values  map[string]map[string]float64 `json:"values"`
}

// Get returns the value for (period, key), 0 when absent.
func (b Baseline) Get(period, key string) float64 { return b.Values[period][key] }

// Has reports whether (period, key) carries a value.
func (b Baseline) Has(period, key string) bool {
	_, ok := b.Values[period][key]
	return ok
}

// Period returns a copy of the values for one period.
func (b Baseline) Period(period string) map[string]float64 {
	src := b.Values[period]
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Baseline computes every line item's per-period value. Ratio rows are
// averaged over the period's resolving records after percent
// normalization; synthesized rows are derived from the resolved ones.
func (a *Aggregator) Baseline(st naming.Statement, records []Record) Baseline {
	g := GroupByPeriod(records)
	b := Baseline{Periods: g.Periods, Values: make(map[string]map[string]float64, len(g.Periods))}
	for _, p := range g.Periods {
		vals := make(map[string]float64, len(st.Items))
		for _, it := range st.Items {
			if it.Synthetic {
				continue
			}
			vals[it.Key] = a.resolveItem(it, g.ByPeriod[p])
		}
		derive(st, vals)
		b.Values[p] = vals
	}
	return b
}

func (a *Aggregator) resolveItem(it naming.LineItem, recs []Record) float64 {
	var sum float64
	n := 0
	for _, rec := range recs {
		v, ok := a.Resolver.Value(rec, it.Key)
		if !ok {
			continue
		}
		if it.Ratio {
			v = NormalizePercent(v)
		}
		sum += v
		n++
	}
	if it.Ratio && n > 0 {
		return sum / float64(n)
	}
	return sum
}

// derive fills synthesized totals, margin and margin percentage.
func derive(st naming.Statement, vals map[string]float64) {
	for _, impact := range []naming.Impact{naming.Revenue, naming.Expense} {
		total, ok := st.Total(impact)
		if !ok || !total.Synthetic {
			continue
		}
		var sum float64
		for _, d := range st.Contributors(impact) {
			sum += vals[d.Key]
		}
		vals[total.Key] = sum
	}
	revenue := sectionTotal(st, naming.Revenue, vals)
	expense := sectionTotal(st, naming.Expense, vals)
	if m, ok := st.Total(naming.Margin); ok && m.Synthetic {
		vals[m.Key] = revenue - expense
	}
	if pct, ok := st.MarginPct(); ok && pct.Synthetic {
		vals[pct.Key] = MarginPct(marginValue(st, vals, revenue, expense), revenue)
	}
}

func sectionTotal(st naming.Statement, impact naming.Impact, vals map[string]float64) float64 {
	if t, ok := st.Total(impact); ok {
		return vals[t.Key]
	}
	return 0
}

func marginValue(st naming.Statement, vals map[string]float64, revenue, expense float64) float64 {
	if m, ok := st.Total(naming.Margin); ok {
		return vals[m.Key]
	}
	return revenue - expense
}

// MarginPct returns 100 * margin / revenue, or 0 when revenue is 0.
func MarginPct(margin, revenue float64) float64 {
	if revenue == 0 {
		return 0
	}
	return 100 * margin / revenue
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

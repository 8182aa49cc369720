package scenario

import (
	"github.com/rs/zerolog"

	"github.com/vinodismyname/leverlab/internal/drivertree"
	"github.com/vinodismyname/leverlab/internal/elasticity"
	"github.com/vinodismyname/leverlab/internal/facts"
	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/naming"
)

// Input is everything a scenario computation reads. Lever values are taken
// from each lever's CurrentValue.
type Input struct {
	Statement    naming.Statement
	Baseline     facts.Baseline
	Tree         *drivertree.Tree
	Elasticities elasticity.Table
	Impacts      naming.ImpactMapping
	Levers       []naming.Lever
	Periods      []string
}

// PeriodResult holds the P&L of one period.
type PeriodResult struct {
	Period   string             `json:"period"`
	Baseline map[string]float64 `json:"baseline"`
	Scenario map[string]float64 `json:"scenario"`
	Delta    map[string]float64 `json:"delta"`
}

// NodeResult holds one driver-tree node's amounts over the selected periods.
type NodeResult struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Level    int                `json:"level"`
	ParentID string             `json:"parent_id,omitempty"`
	Baseline map[string]float64 `json:"baseline"`
	Scenario map[string]float64 `json:"scenario"`
}

// AppliedLever is a lever that moved at least one measure or node.
type AppliedLever struct {
	ID        string  `json:"id"`
	Requested float64 `json:"requested"`
	Value     float64 `json:"value"`
	Clamped   bool    `json:"clamped,omitempty"`
}

// Result is the outcome of one scenario computation.
type Result struct {
	Periods []PeriodResult   `json:"periods"`
	Nodes   []NodeResult     `json:"nodes,omitempty"`
	Applied []AppliedLever   `json:"applied,omitempty"`
	Gaps    []string         `json:"gaps,omitempty"`
	Tree    *drivertree.Tree `json:"-"`
}

// Period returns the result for one period.
func (r Result) Period(p string) (PeriodResult, bool) {
	for _, pr := range r.Periods {
		if pr.Period == p {
			return pr, true
		}
	}
	return PeriodResult{}, false
}

// Engine applies lever values to a baseline. It never mutates its input.
type Engine struct {
	Logger zerolog.Logger
}

// NewEngine returns an Engine logging through logger.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{Logger: logger}
}

type activeLever struct {
	lever    naming.Lever
	value    float64
	measures []string
}

// Compute derives the scenario P&L and driver tree. Section totals are
// reconciled from detail deltas; margin follows the revenue and expense
// section deltas.
func (e *Engine) Compute(in Input) Result {
	var res Result
	active := e.activeLevers(in, &res)
	periods := selectPeriods(in)

	for _, p := range periods {
		res.Periods = append(res.Periods, e.computePeriod(in, active, p))
	}
	if in.Tree != nil {
		res.Tree = applyTree(in, active, periods)
		res.Nodes = nodeResults(in.Tree, res.Tree, periods)
	}
	return res
}

func (e *Engine) activeLevers(in Input, res *Result) []activeLever {
	var out []activeLever
	for _, l := range in.Levers {
		v := l.Clamp(l.CurrentValue)
		if v == 0 {
			continue
		}
		ms := in.Impacts.Measures(l.ID)
		if len(ms) == 0 {
			e.Logger.Warn().Str("lever", l.ID).Float64("value", v).Msg("lever has no impacted measures; configuration gap")
			res.Gaps = append(res.Gaps, l.ID)
			continue
		}
		out = append(out, activeLever{lever: l, value: v, measures: ms})
		res.Applied = append(res.Applied, AppliedLever{
			ID:        l.ID,
			Requested: l.CurrentValue,
			Value:     v,
			Clamped:   v != l.CurrentValue,
		})
	}
	return out
}

func selectPeriods(in Input) []string {
	if len(in.Periods) > 0 {
		return in.Periods
	}
	out := append([]string(nil), in.Baseline.Periods...)
	if in.Tree == nil {
		return out
	}
	seen := map[string]bool{}
	for _, p := range out {
		seen[p] = true
	}
	for _, p := range in.Tree.Periods() {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) computePeriod(in Input, active []activeLever, p string) PeriodResult {
	base := in.Baseline.Period(p)
	scen := in.Baseline.Period(p)

	deltas := map[string]float64{}
	for _, al := range active {
		for _, m := range al.measures {
			if !in.Baseline.Has(p, m) {
				continue
			}
			deltas[m] += base[m] * al.value / 100 * in.Elasticities.Get(al.lever.ID, m)
		}
	}
	for k, d := range deltas {
		if in.Statement.Derived(k) {
			e.Logger.Debug().Str("measure", k).Msg("lever on a derived row ignored")
			delete(deltas, k)
			continue
		}
		scen[k] = base[k] + d
	}

	revDelta := e.reconcile(in.Statement, naming.Revenue, base, scen, deltas)
	expDelta := e.reconcile(in.Statement, naming.Expense, base, scen, deltas)

	if m, ok := in.Statement.Total(naming.Margin); ok {
		scen[m.Key] = base[m.Key] + (revDelta - expDelta)
	}
	// The baseline percentage may be an average of per-record ratios, so it
	// moves by the change in margin over revenue rather than being replaced.
	if pct, ok := in.Statement.MarginPct(); ok && (revDelta != 0 || expDelta != 0) {
		before := facts.MarginPct(marginValue(in.Statement, base), sectionValue(in.Statement, naming.Revenue, base))
		after := facts.MarginPct(marginValue(in.Statement, scen), sectionValue(in.Statement, naming.Revenue, scen))
		scen[pct.Key] = base[pct.Key] + (after - before)
	}

	delta := make(map[string]float64, len(scen))
	for k, v := range scen {
		delta[k] = v - base[k]
	}
	return PeriodResult{Period: p, Baseline: base, Scenario: scen, Delta: delta}
}

// reconcile moves each subsection and the section total by the deltas of
// the rows they sum, and returns the section delta.
func (e *Engine) reconcile(st naming.Statement, impact naming.Impact, base, scen, deltas map[string]float64) float64 {
	for sub, details := range st.Subtotals(impact) {
		var d float64
		for _, it := range details {
			d += deltas[it.Key]
		}
		if _, ok := base[sub]; ok && d != 0 {
			scen[sub] = base[sub] + d
		}
	}
	var sum float64
	for _, it := range st.Contributors(impact) {
		sum += deltas[it.Key]
	}
	if t, ok := st.Total(impact); ok {
		scen[t.Key] = base[t.Key] + sum
	}
	return sum
}

func sectionValue(st naming.Statement, impact naming.Impact, vals map[string]float64) float64 {
	if t, ok := st.Total(impact); ok {
		return vals[t.Key]
	}
	return 0
}

func marginValue(st naming.Statement, vals map[string]float64) float64 {
	if m, ok := st.Total(naming.Margin); ok {
		return vals[m.Key]
	}
	return sectionValue(st, naming.Revenue, vals) - sectionValue(st, naming.Expense, vals)
}

// applyTree perturbs leaves of a cloned tree and rolls it up. A lever whose
// own field names the leaf moves it one for one; otherwise the first
// impacted measure naming the leaf moves it by that measure's elasticity.
func applyTree(in Input, active []activeLever, periods []string) *drivertree.Tree {
	t := in.Tree.Clone()
	if len(active) == 0 {
		return t
	}
	for _, leaf := range t.Leaves() {
		factors := leafFactors(in, active, leaf.Name)
		if len(factors) == 0 {
			continue
		}
		for _, p := range periods {
			base, ok := leaf.Amounts[p]
			if !ok {
				continue
			}
			var d float64
			for _, f := range factors {
				d += base * f
			}
			leaf.Amounts[p] = base + d
		}
	}
	drivertree.RollUp(t)
	return t
}

// leafFactors returns, per lever touching the leaf, value/100 * elasticity.
func leafFactors(in Input, active []activeLever, leaf string) []float64 {
	var out []float64
	for _, al := range active {
		field := al.lever.Field
		if field == "" {
			field = al.lever.ID
		}
		if fields.NamesMatch(leaf, field) {
			out = append(out, al.value/100)
			continue
		}
		for _, m := range al.measures {
			if fields.NamesMatch(leaf, m) {
				out = append(out, al.value/100*in.Elasticities.Get(al.lever.ID, m))
				break
			}
		}
	}
	return out
}

func nodeResults(base, scen *drivertree.Tree, periods []string) []NodeResult {
	out := make([]NodeResult, 0, scen.Len())
	for _, n := range scen.Flatten() {
		b, _ := base.Find(n.ID)
		nr := NodeResult{
			ID:       n.ID,
			Name:     n.Name,
			Level:    n.Level,
			ParentID: n.ParentID,
			Baseline: make(map[string]float64, len(periods)),
			Scenario: make(map[string]float64, len(periods)),
		}
		for _, p := range periods {
			if b != nil {
				nr.Baseline[p] = b.Amount(p)
			}
			nr.Scenario[p] = n.Amount(p)
		}
		out = append(out, nr)
	}
	return out
}

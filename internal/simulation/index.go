package simulation

import (
	"github.com/rs/zerolog"

	"github.com/vinodismyname/leverlab/config"
	"github.com/vinodismyname/leverlab/internal/datasets"
	"github.com/vinodismyname/leverlab/internal/drivertree"
	"github.com/vinodismyname/leverlab/internal/elasticity"
	"github.com/vinodismyname/leverlab/internal/facts"
	"github.com/vinodismyname/leverlab/internal/naming"
	"github.com/vinodismyname/leverlab/internal/sheet"
)

// Index holds everything derived from a dataset and its naming table. It is
// immutable once built; a naming replacement builds a new Index with a
// higher Version.
type Index struct {
	DatasetID      string
	Version        int64
	Statement      naming.Statement
	Levers         []naming.Lever
	Impacts        naming.ImpactMapping
	UnknownImpacts []string
	Gaps           []string
	Elasticities   elasticity.Table
	Entries        []elasticity.Entry
	Baseline       facts.Baseline
	Tree           *drivertree.Tree
	Periods        []string
}

// Lever returns the declared lever with id.
func (x *Index) Lever(id string) (naming.Lever, bool) {
	for _, l := range x.Levers {
		if l.ID == id {
			return l, true
		}
	}
	return naming.Lever{}, false
}

// HasPeriod reports whether p occurs in the baseline or the tree.
func (x *Index) HasPeriod(p string) bool {
	for _, q := range x.Periods {
		if q == p {
			return true
		}
	}
	return false
}

// IndexBuilder derives an Index from a dataset.
type IndexBuilder struct {
	Logger        zerolog.Logger
	DefaultLevers []naming.Lever
	Elasticity    config.Elasticity
}

// Build runs the naming, aggregation and elasticity stages. The dataset is
// not modified; the tree is aggregated on a clone.
func (b IndexBuilder) Build(ds *datasets.Dataset, namingTable sheet.Table, version int64) *Index {
	log := b.Logger.With().Str("dataset", ds.ID).Int64("version", version).Logger()

	st := naming.BuildStatement(namingTable)
	levers := naming.Levers(namingTable, b.DefaultLevers)
	impacts, unknown := naming.Impacts(namingTable, levers)
	for _, tok := range unknown {
		log.Warn().Str("token", tok).Msg("lever impact names no declared lever")
	}
	var gaps []string
	for _, l := range naming.Gaps(levers, impacts) {
		log.Warn().Str("lever", l.ID).Msg("lever has no impacted measures; configuration gap")
		gaps = append(gaps, l.ID)
	}

	est := elasticity.NewEstimator(log)
	if b.Elasticity.Max > 0 {
		est.Min, est.Max = b.Elasticity.Min, b.Elasticity.Max
	}
	if b.Elasticity.CorrelationThreshold > 0 {
		est.CorrelationThreshold = b.Elasticity.CorrelationThreshold
	}
	table, entries := est.Estimate(levers, impacts, ds.Records)

	agg := facts.NewAggregator(log)
	tree := drivertree.New()
	if ds.Tree != nil {
		tree = ds.Tree.Clone()
	}
	treePeriods := agg.AggregateTree(tree, ds.Records, ds.Accounting)
	baseline := agg.Baseline(st, ds.Records)

	idx := &Index{
		DatasetID:      ds.ID,
		Version:        version,
		Statement:      st,
		Levers:         levers,
		Impacts:        impacts,
		UnknownImpacts: unknown,
		Gaps:           gaps,
		Elasticities:   table,
		Entries:        entries,
		Baseline:       baseline,
		Tree:           tree,
		Periods:        union(baseline.Periods, treePeriods),
	}
	log.Debug().
		Int("line_items", len(st.Items)).
		Int("levers", len(levers)).
		Int("periods", len(idx.Periods)).
		Msg("index built")
	return idx
}

// LeversFromConfig converts configured default levers.
func LeversFromConfig(ls []config.Lever) []naming.Lever {
	out := make([]naming.Lever, 0, len(ls))
	for _, l := range ls {
		out = append(out, naming.Lever{
			ID:    l.ID,
			Name:  l.Name,
			Field: l.Field,
			Min:   l.Min,
			Max:   l.Max,
			Unit:  naming.DefaultLeverUnit,
		})
	}
	return out
}

func union(a, b []string) []string {
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

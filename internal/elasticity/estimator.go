package elasticity

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/vinodismyname/leverlab/config"
	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/naming"
)

// Estimation bounds and thresholds.
const (
	DefaultMin                  = config.DefaultElasticityMin
	DefaultMax                  = config.DefaultElasticityMax
	DefaultCorrelationThreshold = config.DefaultCorrelationThreshold
	Neutral                     = 1.0
)

// Method names how an elasticity value was derived.
type Method string

const (
	MethodCVRatio     Method = "cv_ratio"
	MethodCorrelation Method = "correlation"
	MethodDefault     Method = "default"
	MethodNoSamples   Method = "no_samples"
)

// Key identifies one (lever, measure) pair.
type Key struct {
	Lever   string
	Measure string
}

// Table holds elasticity coefficients. It is built once per index and read
// concurrently afterwards.
type Table map[Key]float64

// Get returns the coefficient for (lever, measure), or 1.0 when unknown.
func (t Table) Get(lever, measure string) float64 {
	if v, ok := t[Key{Lever: lever, Measure: measure}]; ok {
		return v
	}
	return Neutral
}

// Entry is the diagnostic record of one estimate.
type Entry struct {
	Lever       string  `json:"lever"`
	Measure     string  `json:"measure"`
	Samples     int     `json:"samples"`
	Correlation float64 `json:"correlation"`
	Value       float64 `json:"value"`
	Method      Method  `json:"method"`
}

// Estimator derives elasticities from paired historical observations.
type Estimator struct {
	Resolver             *fields.Resolver
	Logger               zerolog.Logger
	Min                  float64
	Max                  float64
	CorrelationThreshold float64
}

// NewEstimator returns an Estimator with default bounds.
func NewEstimator(logger zerolog.Logger) *Estimator {
	return &Estimator{
		Resolver:             fields.NewResolver(logger),
		Logger:               logger,
		Min:                  DefaultMin,
		Max:                  DefaultMax,
		CorrelationThreshold: DefaultCorrelationThreshold,
	}
}

// Estimate computes one coefficient per (lever, impacted measure). Entries
// follow lever order, then impact order.
func (e *Estimator) Estimate(levers []naming.Lever, impacts naming.ImpactMapping, records []fields.Record) (Table, []Entry) {
	table := Table{}
	var entries []Entry
	for _, l := range levers {
		for _, m := range impacts.Measures(l.ID) {
			ent := e.estimatePair(l, m, records)
			table[Key{Lever: l.ID, Measure: m}] = ent.Value
			entries = append(entries, ent)
		}
	}
	e.Logger.Debug().Int("pairs", len(entries)).Msg("elasticities estimated")
	return table, entries
}

func (e *Estimator) estimatePair(l naming.Lever, measure string, records []fields.Record) Entry {
	field := l.Field
	if field == "" {
		field = l.ID
	}
	var xs, ys []float64
	for _, rec := range records {
		x, ok := e.Resolver.Value(rec, field)
		if !ok || x == 0 {
			continue
		}
		y, ok := e.Resolver.Value(rec, measure)
		if !ok || y == 0 {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	ent := Entry{Lever: l.ID, Measure: measure, Samples: len(xs)}
	if len(xs) == 0 {
		ent.Value, ent.Method = Neutral, MethodNoSamples
		return ent
	}

	mx, sx := meanStdev(xs)
	my, sy := meanStdev(ys)
	r := correlation(xs, ys, mx, my, sx, sy)
	ent.Correlation = r

	cvx, cvy := sx/mx, sy/my
	switch {
	case positiveFinite(cvx) && positiveFinite(cvy) && positiveFinite(cvy/cvx):
		ent.Value, ent.Method = cvy/cvx, MethodCVRatio
	case math.Abs(r) > e.CorrelationThreshold:
		ent.Value, ent.Method = math.Abs(r), MethodCorrelation
	default:
		ent.Value, ent.Method = Neutral, MethodDefault
	}
	ent.Value = clamp(ent.Value, e.Min, e.Max)
	return ent
}

// meanStdev returns the mean and population standard deviation.
func meanStdev(v []float64) (float64, float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var ss float64
	for _, x := range v {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(v)))
}

// correlation returns Pearson's r, or 0 when either series is constant.
func correlation(xs, ys []float64, mx, my, sx, sy float64) float64 {
	if sx == 0 || sy == 0 {
		return 0
	}
	var cov float64
	for i := range xs {
		cov += (xs[i] - mx) * (ys[i] - my)
	}
	cov /= float64(len(xs))
	r := cov / (sx * sy)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return Neutral
	}
	return math.Max(lo, math.Min(hi, v))
}

package elasticity

import (
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/naming"
)

func pairs(lever, measure []float64) []fields.Record {
	out := make([]fields.Record, len(lever))
	for i := range lever {
		out[i] = fields.NewRecord(
			fields.Field{Key: "Quarter", Value: "Q1"},
			fields.Field{Key: "AvgAUM", Value: lever[i]},
			fields.Field{Key: "Fees", Value: measure[i]},
		)
	}
	return out
}

func estimate(t *testing.T, recs []fields.Record) Entry {
	t.Helper()
	levers := []naming.Lever{{ID: "AvgAUM", Field: "AvgAUM"}}
	impacts := naming.ImpactMapping{"AvgAUM": {"Fees"}}
	table, entries := NewEstimator(zerolog.Nop()).Estimate(levers, impacts, recs)
	require.Len(t, entries, 1)
	require.Equal(t, entries[0].Value, table.Get("AvgAUM", "Fees"))
	return entries[0]
}

func TestEstimate_NoSamplesIsNeutral(t *testing.T) {
	ent := estimate(t, nil)
	require.Equal(t, 1.0, ent.Value)
	require.Equal(t, MethodNoSamples, ent.Method)

	// Zero-valued pairs do not count as samples.
	ent = estimate(t, pairs([]float64{0, 5}, []float64{10, 0}))
	require.Equal(t, 0, ent.Samples)
	require.Equal(t, 1.0, ent.Value)
}

func TestEstimate_ProportionalSeriesIsUnitElastic(t *testing.T) {
	ent := estimate(t, pairs([]float64{10, 20, 30, 40}, []float64{20, 40, 60, 80}))
	require.Equal(t, MethodCVRatio, ent.Method)
	require.InDelta(t, 1.0, ent.Value, 1e-9)
	require.InDelta(t, 1.0, ent.Correlation, 1e-9)
	require.Equal(t, 4, ent.Samples)
}

func TestEstimate_ClampsToBounds(t *testing.T) {
	hi := estimate(t, pairs([]float64{10, 11, 12}, []float64{1, 10, 100}))
	require.Equal(t, DefaultMax, hi.Value)

	lo := estimate(t, pairs([]float64{1, 10, 100}, []float64{100, 101, 102}))
	require.Equal(t, DefaultMin, lo.Value)
}

func TestEstimate_ConstantMeasureFallsBackToNeutral(t *testing.T) {
	ent := estimate(t, pairs([]float64{1, 2, 3}, []float64{7, 7, 7}))
	require.Equal(t, MethodDefault, ent.Method)
	require.Equal(t, 1.0, ent.Value)
}

func TestEstimate_NegativeMeanUsesCorrelation(t *testing.T) {
	ent := estimate(t, pairs([]float64{1, 2, 3, 4}, []float64{-1, -2, -3, -4}))
	require.Equal(t, MethodCorrelation, ent.Method)
	require.InDelta(t, 1.0, ent.Value, 1e-9)
}

func TestEstimate_AlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := rng.Intn(6)
		xs, ys := make([]float64, n), make([]float64, n)
		for j := 0; j < n; j++ {
			xs[j] = rng.NormFloat64() * 100
			ys[j] = rng.NormFloat64() * 1000
		}
		ent := estimate(t, pairs(xs, ys))
		require.GreaterOrEqual(t, ent.Value, DefaultMin)
		require.LessOrEqual(t, ent.Value, DefaultMax)
	}
}

func TestTable_GetDefaultsToNeutral(t *testing.T) {
	require.Equal(t, 1.0, Table{}.Get("x", "y"))
	require.Equal(t, 0.5, Table{{Lever: "x", Measure: "y"}: 0.5}.Get("x", "y"))
}

func TestEstimate_LeverWithoutImpactsHasNoEntries(t *testing.T) {
	table, entries := NewEstimator(zerolog.Nop()).Estimate(
		[]naming.Lever{{ID: "Price", Field: "Price"}}, naming.ImpactMapping{}, nil)
	require.Empty(t, table)
	require.Empty(t, entries)
}

package facts

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leverlab/internal/drivertree"
	"github.com/vinodismyname/leverlab/internal/fields"
	"github.com/vinodismyname/leverlab/internal/naming"
	"github.com/vinodismyname/leverlab/internal/sheet"
)

func rec(kv ...any) Record {
	fs := make([]fields.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fs = append(fs, fields.Field{Key: kv[i].(string), Value: kv[i+1]})
	}
	return fields.NewRecord(fs...)
}

func TestPeriodOf_Priority(t *testing.T) {
	require.Equal(t, "Q1", PeriodOf(rec("Fiscal_Year", 2024.0, "Quarter", " Q1 ")))
	require.Equal(t, "2024-Q2", PeriodOf(rec("Fiscal Period", "2024-Q2")))
	require.Equal(t, "3", PeriodOf(rec("Period", 3.0)))
	require.Equal(t, "", PeriodOf(rec("Fees", 1.0)))
	require.Equal(t, "", PeriodOf(rec("Qtr", "  ")))
	require.Equal(t, "FY24-Q3", PeriodOf(rec("Quarter", "", "Fiscal Quarter", "FY24-Q3")))
	require.Equal(t, "Q4", PeriodOf(rec("Quarter", nil, "Period", "Q4")))
}

func TestGroupByPeriod(t *testing.T) {
	g := GroupByPeriod([]Record{
		rec("Quarter", "Q2", "Fees", 1.0),
		rec("Quarter", "Q1", "Fees", 2.0),
		rec("Fees", 3.0),
		rec("Quarter", "Q2", "Fees", 4.0),
	})
	require.Equal(t, []string{"Q2", "Q1"}, g.Periods)
	require.Len(t, g.ByPeriod["Q2"], 2)
	require.Equal(t, 1, g.Dropped)
}

func TestNormalizePercent(t *testing.T) {
	require.InDelta(t, 83.0, NormalizePercent(0.83), 1e-9)
	require.InDelta(t, 83.0, NormalizePercent(83), 1e-9)
	require.InDelta(t, -25.0, NormalizePercent(-0.25), 1e-9)
	require.InDelta(t, 1.0, NormalizePercent(1), 1e-9)
	require.InDelta(t, 0.0, NormalizePercent(0), 1e-9)
}

func hierarchy() *drivertree.Tree {
	return drivertree.Build(sheet.FromRows("Driver Tree", [][]string{
		{"Level 0", "Level 1", "Level 2"},
		{"Total", "Revenue", "Fees"},
		{"Total", "Revenue", "Interest"},
		{"Total", "Expense", "Comp"},
		{"Total", "Expense", "Other"},
	}))
}

func TestAggregateTree_LeavesRollUpAndFallback(t *testing.T) {
	tree := hierarchy()
	records := []Record{
		rec("Quarter", "Q1", "Fees", 100.0, "Interest", 50.0, "Comp", 70.0),
		rec("Quarter", "Q1", "Fees", 10.0, "Interest", "n/a", "Comp", 5.0),
		rec("Quarter", "Q2", "Fees", 200.0, "Interest", 25.0, "Comp", 80.0),
		rec("Fees", 999.0),
	}
	acct := Accounting{"other": {{Period: "Q1", Amount: 3}, {Period: "Q3", Amount: 4}}}

	periods := NewAggregator(zerolog.Nop()).AggregateTree(tree, records, acct)
	require.Equal(t, []string{"Q1", "Q2", "Q3"}, periods)

	amount := func(name, period string) float64 {
		for _, n := range tree.Nodes() {
			if n.Name == name {
				return n.Amount(period)
			}
		}
		t.Fatalf("node %s not found", name)
		return 0
	}
	require.Equal(t, 110.0, amount("Fees", "Q1"))
	require.Equal(t, 50.0, amount("Interest", "Q1"))
	require.Equal(t, 75.0, amount("Comp", "Q1"))
	require.Equal(t, 3.0, amount("Other", "Q1"))
	require.Equal(t, 160.0, amount("Revenue", "Q1"))
	require.Equal(t, 78.0, amount("Expense", "Q1"))
	require.Equal(t, 238.0, amount("Total", "Q1"))
	require.Equal(t, 305.0, amount("Total", "Q2"))
	require.Equal(t, 4.0, amount("Total", "Q3"))

	for _, n := range tree.Nodes() {
		for _, p := range periods {
			_, ok := n.Amounts[p]
			require.True(t, ok, "node %s lacks period %s", n.Name, p)
		}
	}
}

func TestAggregateTree_UnresolvedLeafIsZero(t *testing.T) {
	tree := hierarchy()
	periods := NewAggregator(zerolog.Nop()).AggregateTree(tree, []Record{rec("Quarter", "Q1", "Fees", 5.0)}, nil)
	require.Equal(t, []string{"Q1"}, periods)
	require.Equal(t, 5.0, tree.Roots[0].Amount("Q1"))
}

func pnlStatement() naming.Statement {
	return naming.BuildStatement(sheet.FromRows("Naming", [][]string{
		{"Fact_Margin Naming", "Category", "P&L Impact"},
		{"Total_Revenue", "Financial Result", "Revenue"},
		{"Fees", "Financial Result", "Revenue"},
		{"Comp", "Financial Result", "Expense"},
		{"Margin_Pct", "Financial Result", "Margin"},
	}))
}

func TestBaseline_ValuesAndDerivedRows(t *testing.T) {
	st := pnlStatement()
	b := NewAggregator(zerolog.Nop()).Baseline(st, []Record{
		rec("Quarter", "Q1", "Total_Revenue", 1000.0, "Fees", 200.0, "Comp", 700.0, "Margin_Pct", 0.83),
		rec("Quarter", "Q1", "Margin_Pct", 83.0),
		rec("Quarter", "Q2", "Total_Revenue", 500.0, "Margin_Pct", "50%"),
	})
	require.Equal(t, []string{"Q1", "Q2"}, b.Periods)

	require.Equal(t, 1000.0, b.Get("Q1", "Total_Revenue"))
	require.Equal(t, 200.0, b.Get("Q1", "Fees"))
	require.Equal(t, 700.0, b.Get("Q1", "Total Expense"), "synthesized total sums details")
	require.Equal(t, 300.0, b.Get("Q1", "Margin"), "synthesized margin is revenue minus expense")
	require.InDelta(t, 83.0, b.Get("Q1", "Margin_Pct"), 1e-9, "fraction and percent forms agree")

	require.InDelta(t, 50.0, b.Get("Q2", "Margin_Pct"), 1e-9)
	require.True(t, b.Has("Q2", "Fees"), "unresolved items still carry a value")
	require.Equal(t, 0.0, b.Get("Q2", "Fees"))
}

func TestBaseline_SynthesizedMarginPct(t *testing.T) {
	st := naming.BuildStatement(sheet.FromRows("Naming", [][]string{
		{"Fact_Margin Naming", "Category", "P&L Impact"},
		{"Fees", "Financial Result", "Revenue"},
		{"Comp", "Financial Result", "Expense"},
	}))
	b := NewAggregator(zerolog.Nop()).Baseline(st, []Record{
		rec("Quarter", "Q1", "Fees", 400.0, "Comp", 300.0),
		rec("Quarter", "Q2", "Comp", 10.0),
	})
	require.Equal(t, 100.0, b.Get("Q1", "Margin"))
	require.InDelta(t, 25.0, b.Get("Q1", "MarginPct"), 1e-9)
	require.Equal(t, -10.0, b.Get("Q2", "Margin"))
	require.Equal(t, 0.0, b.Get("Q2", "MarginPct"), "zero revenue gives zero percentage")
}

func TestBaseline_EmptyStatement(t *testing.T) {
	b := NewAggregator(zerolog.Nop()).Baseline(naming.Statement{}, []Record{rec("Quarter", "Q1", "Fees", 1.0)})
	require.Equal(t, []string{"Q1"}, b.Periods)
	require.Empty(t, b.Values["Q1"])
}

func TestIsPeriodKey(t *testing.T) {
	require.True(t, IsPeriodKey("Fiscal Quarter"))
	require.True(t, IsPeriodKey("QTR"))
	require.False(t, IsPeriodKey("Revenue"))
}

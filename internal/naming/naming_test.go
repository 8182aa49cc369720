package naming

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leverlab/internal/sheet"
)

func namingTable() sheet.Table {
	return sheet.FromRows("Naming", [][]string{
		{"Fact_Margin Naming", "Category", "P&L Impact", "Lever Impact", "Report Naming"},
		{"Total_Revenue", "Financial Result", "Revenue", "", "Total Revenue"},
		{"Advisory_Fees", "Financial Result", "Revenue", "AvgAUM", "Advisory Fees"},
		{"Interest_Income", "Financial Result", "Revenue", "", "Interest Income"},
		{"Comp_Expense", "Financial Result", "Expense", "Headcount; AvgAUM", "Compensation"},
		{"Margin", "Financial Result", "Margin", "", "Margin"},
		{"Margin_Pct", "Financial Result", "Margin", "", "Margin %"},
		{"AvgAUM", "Lever", "", "", "Average AUM"},
		{"Headcount", "Driver", "", "", "Headcount"},
		{"Region_ID", "Dimension", "", "", ""},
	})
}

func TestBuildStatement_FromNamingTable(t *testing.T) {
	st := BuildStatement(namingTable())
	require.Equal(t, []string{
		"Total_Revenue", "Advisory_Fees", "Interest_Income",
		"Total Expense", "Comp_Expense",
		"Margin", "Margin_Pct",
	}, st.Keys())

	total, ok := st.Total(Revenue)
	require.True(t, ok)
	require.Equal(t, "Total_Revenue", total.Key)
	require.Equal(t, DepthSection, total.Depth)
	require.False(t, total.Synthetic)

	exp, ok := st.Total(Expense)
	require.True(t, ok)
	require.True(t, exp.Synthetic, "expense section has no declared total")

	require.Len(t, st.Details(Revenue), 2)
	fees, _ := st.Item("Advisory_Fees")
	require.Equal(t, "Advisory Fees", fees.Label)
	require.Equal(t, DepthDetail, fees.Depth)

	pct, ok := st.MarginPct()
	require.True(t, ok)
	require.Equal(t, "Margin_Pct", pct.Key)
	require.True(t, pct.Ratio)
}

func TestBuildStatement_MissingColumnsIsEmpty(t *testing.T) {
	st := BuildStatement(sheet.FromRows("x", [][]string{{"Name", "Amount"}, {"a", "1"}}))
	require.True(t, st.Empty())
	require.True(t, BuildStatement(sheet.Table{}).Empty())
}

func TestBuildStatement_SynthesizesMargin(t *testing.T) {
	st := BuildStatement(sheet.FromRows("n", [][]string{
		{"fact_margin naming", "CATEGORY", "p&l impact"},
		{"Fees", "financial result", "Revenue"},
		{"Comp", "financial result", "Expense"},
	}))
	require.Equal(t, []string{"Total Revenue", "Fees", "Total Expense", "Comp", "Margin", "MarginPct"}, st.Keys())
	pct, ok := st.MarginPct()
	require.True(t, ok)
	require.True(t, pct.Synthetic)
}

func TestBuildStatement_ExplicitLevel(t *testing.T) {
	st := BuildStatement(sheet.FromRows("n", [][]string{
		{"Fact_Margin Naming", "Category", "P&L Impact", "P&L Level"},
		{"Revenue", "Financial Result", "Revenue", "0"},
		{"Fee Revenue", "Financial Result", "Revenue", "1"},
		{"Advisory", "Financial Result", "Revenue", "7"},
	}))
	depths := map[string]int{}
	for _, it := range st.Items {
		depths[it.Key] = it.Depth
	}
	require.Equal(t, DepthSection, depths["Revenue"])
	require.Equal(t, DepthSubsection, depths["Fee Revenue"])
	require.Equal(t, DepthDetail, depths["Advisory"])
}

func TestLevers_DeclaredAndDefaults(t *testing.T) {
	levers := Levers(namingTable(), nil)
	require.Len(t, levers, 2)
	require.Equal(t, "AvgAUM", levers[0].ID)
	require.Equal(t, "Average AUM", levers[0].Name)
	require.Equal(t, DefaultLeverMin, levers[0].Min)
	require.Equal(t, DefaultLeverMax, levers[0].Max)
	require.Equal(t, "%", levers[0].Unit)

	defaults := []Lever{{ID: "Price", Name: "Price", Field: "Price", Min: -10, Max: 10, Unit: "%"}}
	got := Levers(sheet.Table{}, defaults)
	require.Equal(t, defaults, got)
	got[0].Min = -99
	require.Equal(t, -10.0, defaults[0].Min, "defaults are copied")
}

func TestLevers_Bounds(t *testing.T) {
	levers := Levers(sheet.FromRows("n", [][]string{
		{"Fact_Margin Naming", "Category", "Lever Min", "Lever Max"},
		{"Price", "Lever", "20", "-5"},
	}), nil)
	require.Len(t, levers, 1)
	require.Equal(t, -5.0, levers[0].Min)
	require.Equal(t, 20.0, levers[0].Max)
	require.Equal(t, 20.0, levers[0].Clamp(75))
	require.Equal(t, -5.0, levers[0].Clamp(-75))
	require.Equal(t, 3.0, levers[0].Clamp(3))
}

func TestImpacts_AndGaps(t *testing.T) {
	tbl := namingTable()
	levers := Levers(tbl, nil)
	m, unknown := Impacts(tbl, levers)
	require.Empty(t, unknown)
	require.Equal(t, []string{"Advisory_Fees", "Comp_Expense"}, m.Measures("AvgAUM"))
	require.Equal(t, []string{"Comp_Expense"}, m.Measures("Headcount"))
	require.Empty(t, Gaps(levers, m))

	levers = append(levers, Lever{ID: "Price"})
	gaps := Gaps(levers, m)
	require.Len(t, gaps, 1)
	require.Equal(t, "Price", gaps[0].ID)
}

func TestImpacts_MatchesByNameAndReportsUnknown(t *testing.T) {
	levers := []Lever{{ID: "AvgAUM", Name: "Average AUM"}}
	tbl := sheet.FromRows("n", [][]string{
		{"Fact_Margin Naming", "Lever Impact"},
		{"Fees", "average aum, Mystery"},
		{"Fees", "AvgAUM"},
	})
	m, unknown := Impacts(tbl, levers)
	require.Equal(t, []string{"Fees"}, m.Measures("AvgAUM"))
	require.Equal(t, []string{"Mystery"}, unknown)
}

func keys(items []LineItem) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Key)
	}
	return out
}

func TestStatement_SubtotalsAndContributors(t *testing.T) {
	st := BuildStatement(sheet.FromRows("n", [][]string{
		{"Fact_Margin Naming", "Category", "P&L Impact", "P&L Level"},
		{"Total_Revenue", "Financial Result", "Revenue", "0"},
		{"Fee_Subtotal", "Financial Result", "Revenue", "1"},
		{"Advisory_Fees", "Financial Result", "Revenue", "2"},
		{"Custody_Fees", "Financial Result", "Revenue", "2"},
		{"Interest_Income", "Financial Result", "Revenue", "1"},
		{"Total_Expense", "Financial Result", "Expense", "0"},
		{"Comp_Expense", "Financial Result", "Expense", "2"},
	}))

	subs := st.Subtotals(Revenue)
	require.Len(t, subs, 1)
	require.Equal(t, []string{"Advisory_Fees", "Custody_Fees"}, keys(subs["Fee_Subtotal"]))
	require.Empty(t, st.Subtotals(Expense))

	require.Equal(t, []string{"Advisory_Fees", "Custody_Fees", "Interest_Income"}, keys(st.Contributors(Revenue)))
	require.Equal(t, []string{"Comp_Expense"}, keys(st.Contributors(Expense)))

	for key, want := range map[string]bool{
		"Total_Revenue": true, "Fee_Subtotal": true, "Margin": true, "MarginPct": true,
		"Advisory_Fees": false, "Interest_Income": false, "Missing": false,
	} {
		require.Equal(t, want, st.Derived(key), key)
	}
}

package sheet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromRows_SkipsBlankRowsAndPads(t *testing.T) {
	tbl := FromRows("Naming", [][]string{
		{"", " "},
		{" Fact_Margin Naming ", "Category"},
		{"Advisory_Fees"},
		{},
		{"Margin", "Financial Result", "extra"},
	})
	require.Equal(t, "Naming", tbl.Name)
	require.Equal(t, []string{"Fact_Margin Naming", "Category"}, tbl.Header)
	require.Equal(t, [][]string{
		{"Advisory_Fees", "", ""},
		{"Margin", "Financial Result", "extra"},
	}, tbl.Rows)
	require.False(t, tbl.Empty())
}

func TestColumnLookup(t *testing.T) {
	tbl := FromRows("", [][]string{{"Fact_Margin Naming", "P&L  Impact", "Lever Impact"}})
	require.True(t, tbl.Empty())
	require.Equal(t, 1, tbl.Column("p&l impact"))
	require.Equal(t, 2, tbl.Column("Lever Impacts", "LEVER IMPACT"))
	require.Equal(t, -1, tbl.Column("Level"))
	require.Equal(t, 0, tbl.ColumnContaining("naming"))
	require.Equal(t, -1, tbl.ColumnContaining("period"))
}

func TestCell(t *testing.T) {
	row := []string{" a ", "b"}
	require.Equal(t, "a", Cell(row, 0))
	require.Empty(t, Cell(row, -1))
	require.Empty(t, Cell(row, 2))
}

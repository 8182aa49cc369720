package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/leverlab/config"
	"github.com/vinodismyname/leverlab/internal/security"
	"github.com/vinodismyname/leverlab/internal/simulation"
)

func writeWorkbook(t *testing.T, dir string) string {
	t.Helper()
	data := []struct {
		name string
		rows [][]string
	}{
		{"Driver Tree", [][]string{
			{"Level0", "Level1", "Level2"},
			{"Total", "Revenue", "Advisory Fees"},
			{"Total", "Expense", "Comp"},
		}},
		{"Naming", [][]string{
			{"Fact_Margin Naming", "Category", "P&L Impact", "Lever Impact"},
			{"Total_Revenue", "Financial Result", "Revenue", ""},
			{"Advisory_Fees", "Financial Result", "Revenue", "AvgAUM"},
			{"Total_Expense", "Financial Result", "Expense", ""},
			{"Comp_Expense", "Financial Result", "Expense", ""},
			{"Margin", "Financial Result", "Margin", ""},
			{"AvgAUM", "Lever", "", ""},
		}},
		{"Facts", [][]string{
			{"Quarter", "AvgAUM", "Advisory_Fees", "Total_Revenue", "Comp_Expense", "Total_Expense", "Margin"},
			{"Q1", "50", "200", "200", "150", "150", "50"},
			{"Q2", "100", "400", "400", "300", "300", "100"},
		}},
	}
	f := excelize.NewFile()
	for i, s := range data {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.name))
		} else {
			_, err := f.NewSheet(s.name)
			require.NoError(t, err)
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(s.name, cell, &row))
		}
	}
	path := filepath.Join(dir, "pnl.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

// prepare resets the package state a command run reads.
func prepare(t *testing.T, levers, periods []string, asJSON bool) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cfg = config.Default()
	logger = zerolog.Nop()
	simLevers, simPeriods, simJSON = levers, periods, asJSON
	t.Cleanup(func() { simLevers, simPeriods, simJSON = nil, nil, false })

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&buf)
	return cmd, &buf
}

func row(out, first string) []string {
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) > 0 && f[0] == first {
			return f
		}
	}
	return nil
}

func TestParseLevers(t *testing.T) {
	got, err := parseLevers([]string{"AvgAUM=10", " Price = -2.5% ", "AvgAUM=12"})
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"AvgAUM": 12, "Price": -2.5}, got)

	_, err = parseLevers([]string{"AvgAUM"})
	require.ErrorContains(t, err, "expected id=value")
	_, err = parseLevers([]string{"=5"})
	require.Error(t, err)
	_, err = parseLevers([]string{"AvgAUM=ten"})
	require.Error(t, err)
}

func TestRunSimulate_Table(t *testing.T) {
	cmd, buf := prepare(t, []string{"AvgAUM=10"}, []string{"Q1"}, false)
	require.NoError(t, runSimulate(cmd, []string{writeWorkbook(t, t.TempDir())}))

	out := buf.String()
	require.Equal(t, []string{"Q1", "BASELINE", "SCENARIO", "DELTA"}, row(out, "Q1"))
	require.Equal(t, []string{"Advisory_Fees", "200.00", "220.00", "20.00"}, row(out, "Advisory_Fees"))
	require.Equal(t, []string{"Margin", "50.00", "70.00", "20.00"}, row(out, "Margin"))
	require.Nil(t, row(out, "Q2"))
	require.Contains(t, out, "applied AvgAUM +10%")
}

func TestRunSimulate_JSONAndClamp(t *testing.T) {
	cmd, buf := prepare(t, []string{"AvgAUM=90"}, nil, true)
	require.NoError(t, runSimulate(cmd, []string{writeWorkbook(t, t.TempDir())}))

	var view simulation.ScenarioView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	require.Len(t, view.Result.Periods, 2)
	require.Len(t, view.Result.Applied, 1)
	require.True(t, view.Result.Applied[0].Clamped)
	require.Equal(t, 50.0, view.Result.Applied[0].Value)
	q2, ok := view.Result.Period("Q2")
	require.True(t, ok)
	require.InDelta(t, 600.0, q2.Scenario["Advisory_Fees"], 1e-9)
}

func TestRunSimulate_Errors(t *testing.T) {
	cmd, _ := prepare(t, []string{"Price=5"}, nil, false)
	err := runSimulate(cmd, []string{writeWorkbook(t, t.TempDir())})
	require.ErrorIs(t, err, simulation.ErrUnknownLever)

	cmd, _ = prepare(t, nil, nil, false)
	cfg.AllowedDirs = []string{t.TempDir()}
	err = runSimulate(cmd, []string{writeWorkbook(t, t.TempDir())})
	require.ErrorIs(t, err, security.ErrNotAllowed)
}

func TestRunServe_RequiresTransport(t *testing.T) {
	cmd, _ := prepare(t, nil, nil, false)
	require.ErrorContains(t, runServe(cmd, nil), "no transport selected")
}

func TestBuildApp(t *testing.T) {
	prepare(t, nil, nil, false)
	a, err := buildApp(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, a.server)
	require.Equal(t, cfg.MaxOpenDatasets, a.limits.MaxOpenDatasets)
	require.NoError(t, a.store.Close(context.Background()))
	require.NoError(t, a.metrics.Close(context.Background()))
}

func TestSetup_RejectsBadLogLevel(t *testing.T) {
	t.Cleanup(func() { logLevel = "" })
	logLevel = "loud"
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	require.ErrorContains(t, setup(cmd, nil), "invalid log level")

	logLevel = "warn"
	require.NoError(t, setup(cmd, nil))
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

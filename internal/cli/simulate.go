package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vinodismyname/leverlab/internal/datasets"
	"github.com/vinodismyname/leverlab/internal/naming"
	"github.com/vinodismyname/leverlab/internal/runtime"
	"github.com/vinodismyname/leverlab/internal/security"
	"github.com/vinodismyname/leverlab/internal/simulation"
)

var (
	simLevers  []string
	simPeriods []string
	simJSON    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <file.xlsx>",
	Short: "Compute a scenario P&L from a workbook",
	Long: `Load a workbook, apply lever changes in percent and print the baseline,
scenario and delta of every P&L line item.

Examples:
  leverlab simulate pnl.xlsx --lever AvgAUM=10
  leverlab simulate pnl.xlsx --lever AvgAUM=10 --lever Headcount=-5 --period Q1 --period Q2
  leverlab simulate pnl.xlsx --lever AvgAUM=10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringArrayVar(&simLevers, "lever", nil, "Lever change as id=percent (repeatable)")
	simulateCmd.Flags().StringArrayVar(&simPeriods, "period", nil, "Period to compute (repeatable); all when omitted")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "Print the scenario as JSON")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	levers, err := parseLevers(simLevers)
	if err != nil {
		return err
	}

	// Local runs honour the allow-list only when one is configured.
	var validator datasets.PathValidator
	if len(cfg.AllowedDirs) > 0 {
		mgr, err := security.NewManager(cfg.AllowedDirs, nil)
		if err != nil {
			return err
		}
		validator = mgr.WithMaxFileBytes(cfg.MaxFileBytes)
	}

	svc := simulation.NewService(simulation.Options{
		Loader:        datasets.NewLoader(logger, validator),
		Logger:        logger,
		DefaultLevers: simulation.LeversFromConfig(cfg.Levers),
		Elasticity:    cfg.Elasticity,
		Limits:        runtime.LimitsFromConfig(cfg),
	})
	ctx := cmd.Context()
	sum, err := svc.LoadDataset(ctx, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = svc.CloseDataset(ctx, sum.DatasetID) }()

	view, err := svc.ComputeScenario(ctx, simulation.ScenarioRequest{
		DatasetID: sum.DatasetID,
		Levers:    levers,
		Periods:   simPeriods,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if simJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	return writeScenario(out, view)
}

// parseLevers reads id=value pairs. A repeated id keeps the last value.
func parseLevers(raw []string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for _, r := range raw {
		id, val, ok := strings.Cut(r, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --lever %q: expected id=value", r)
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(val), "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --lever %q: %w", r, err)
		}
		out[id] = v
	}
	return out, nil
}

// writeScenario prints one table per period followed by applied levers and gaps.
func writeScenario(w io.Writer, view simulation.ScenarioView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, pr := range view.Result.Periods {
		fmt.Fprintf(tw, "%s\tBASELINE\tSCENARIO\tDELTA\t\n", pr.Period)
		for _, it := range view.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
				label(it),
				amount(it, pr.Baseline[it.Key]),
				amount(it, pr.Scenario[it.Key]),
				amount(it, pr.Delta[it.Key]))
		}
		fmt.Fprintln(tw, "\t\t\t\t")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, a := range view.Result.Applied {
		note := ""
		if a.Clamped {
			note = fmt.Sprintf(" (clamped from %g)", a.Requested)
		}
		fmt.Fprintf(w, "applied %s %+g%%%s\n", a.ID, a.Value, note)
	}
	for _, g := range view.Result.Gaps {
		fmt.Fprintf(w, "gap %s: lever moves no line item\n", g)
	}
	return nil
}

func label(it naming.LineItem) string {
	return strings.Repeat("  ", it.Depth) + it.Label
}

func amount(it naming.LineItem, v float64) string {
	if it.Ratio {
		return strconv.FormatFloat(v, 'f', 2, 64) + "%"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

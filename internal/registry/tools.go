package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/leverlab/internal/naming"
	"github.com/vinodismyname/leverlab/internal/runtime"
	"github.com/vinodismyname/leverlab/internal/simulation"
	"github.com/vinodismyname/leverlab/pkg/mcperr"
	"github.com/vinodismyname/leverlab/pkg/validation"
)

// --- Input / Output Schemas (typed for discovery) ---

// LoadDatasetInput defines parameters for load_dataset.
type LoadDatasetInput struct {
	Path string `json:"path" validate:"required,xlsx_path" jsonschema_description:"Absolute or allowed path to a P&L workbook (.xlsx, .xlsm, .xltx, .xltm)"`
}

// DatasetInput addresses one loaded dataset.
type DatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle returned by load_dataset"`
}

// CloseDatasetOutput reports whether a handle was closed.
type CloseDatasetOutput struct {
	Success bool `json:"success" jsonschema_description:"True when the dataset and its sessions were dropped"`
}

// CloseScenarioOutput reports whether a session was closed.
type CloseScenarioOutput struct {
	Success bool `json:"success" jsonschema_description:"True when the session was discarded"`
}

// BaselineInput selects periods of the baseline P&L.
type BaselineInput struct {
	DatasetID string   `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle"`
	Periods   []string `json:"periods,omitempty" validate:"omitempty,dive,period" jsonschema_description:"Periods to return; all when omitted"`
}

// ListLeversOutput lists a dataset's levers.
type ListLeversOutput struct {
	DatasetID string         `json:"dataset_id"`
	Levers    []LeverSummary `json:"levers"`
}

// LeverSummary describes one lever and its bounds.
type LeverSummary struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Field string  `json:"field"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Unit  string  `json:"unit"`
}

// ElasticitiesInput filters elasticity diagnostics.
type ElasticitiesInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle"`
	Lever     string `json:"lever,omitempty" jsonschema_description:"Restrict to one lever id"`
}

// SessionInput addresses one scenario session.
type SessionInput struct {
	SessionID string `json:"session_id" validate:"required" jsonschema_description:"Session handle returned by open_scenario"`
}

// SetLeversInput moves levers of a session.
type SetLeversInput struct {
	SessionID string             `json:"session_id" validate:"required" jsonschema_description:"Session handle"`
	Levers    map[string]float64 `json:"levers" validate:"required,min=1" jsonschema_description:"Lever id to percent change; 0 returns a lever to baseline"`
}

// ComputeScenarioInput selects the lever vector and periods of a scenario.
type ComputeScenarioInput struct {
	DatasetID    string             `json:"dataset_id,omitempty" validate:"required_without=SessionID" jsonschema_description:"Dataset handle; implied by session_id"`
	SessionID    string             `json:"session_id,omitempty" jsonschema_description:"Session whose levers apply first"`
	Levers       map[string]float64 `json:"levers,omitempty" jsonschema_description:"Lever overrides in percent; not stored in the session"`
	Periods      []string           `json:"periods,omitempty" validate:"omitempty,dive,period" jsonschema_description:"Periods to compute; all when omitted"`
	IncludeNodes bool               `json:"include_nodes,omitempty" jsonschema_description:"Include per-node driver tree amounts"`
}

// DeltaAttributionInput selects the scenario whose movement is ranked.
type DeltaAttributionInput struct {
	DatasetID string             `json:"dataset_id,omitempty" validate:"required_without=SessionID" jsonschema_description:"Dataset handle; implied by session_id"`
	SessionID string             `json:"session_id,omitempty" jsonschema_description:"Session whose levers apply first"`
	Levers    map[string]float64 `json:"levers,omitempty" jsonschema_description:"Lever overrides in percent"`
	Period    string             `json:"period,omitempty" validate:"omitempty,period" jsonschema_description:"Period to attribute; the last period when omitted"`
	TopN      int                `json:"top_n,omitempty" validate:"omitempty,min=1,max=50" jsonschema_description:"Contributors to list (default 5)"`
}

// DriverTreeInput pages through the driver tree.
type DriverTreeInput struct {
	DatasetID string   `json:"dataset_id,omitempty" validate:"required_without=Cursor" jsonschema_description:"Dataset handle; implied by cursor"`
	SessionID string   `json:"session_id,omitempty" jsonschema_description:"Include this session's scenario amounts"`
	Cursor    string   `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page"`
	PageSize  int      `json:"page_size,omitempty" validate:"omitempty,min=1" jsonschema_description:"Nodes per page (bounded)"`
	Periods   []string `json:"periods,omitempty" validate:"omitempty,dive,period" jsonschema_description:"Periods to include; all tree periods when omitted"`
}

// ReplaceNamingInput supplies a new naming table as rows of cells.
type ReplaceNamingInput struct {
	DatasetID string     `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle"`
	Rows      [][]string `json:"rows" validate:"required,min=2" jsonschema_description:"Header row followed by one row per measure"`
}

// Tools holds the dependencies of the simulation tool handlers.
type Tools struct {
	svc    *simulation.Service
	limits runtime.Limits
	budget TokenBudget
	logger zerolog.Logger
}

// NewTools binds handlers to a service.
func NewTools(svc *simulation.Service, limits runtime.Limits, logger zerolog.Logger) *Tools {
	return &Tools{svc: svc, limits: limits, logger: logger}
}

// WithTokenBudget bounds results by tokens as well as bytes.
func (t *Tools) WithTokenBudget(b TokenBudget) *Tools {
	t.budget = b
	return t
}

// RegisterTools adds every simulation tool to s and records it in reg.
func RegisterTools(s *server.MCPServer, reg *Registry, t *Tools) {
	add := func(tool mcp.Tool, h server.ToolHandlerFunc, mutating bool) {
		s.AddTool(tool, h)
		if mutating {
			reg.RegisterMutating(tool)
			return
		}
		reg.Register(tool)
	}

	add(mcp.NewTool(
		"load_dataset",
		mcp.WithDescription("Load a P&L workbook (driver tree, accounting facts, naming table, dimensions, fact records) and return a dataset handle with its periods, levers and coverage gaps. Errors: PERMISSION_DENIED, FILE_TOO_LARGE, NO_SHEETS, LOAD_FAILED."),
		mcp.WithInputSchema[LoadDatasetInput](),
		mcp.WithOutputSchema[simulation.Summary](),
	), mcp.NewTypedToolHandler(t.LoadDataset), false)

	add(mcp.NewTool(
		"close_dataset",
		mcp.WithDescription("Close a dataset handle and every scenario session opened on it"),
		mcp.WithInputSchema[DatasetInput](),
		mcp.WithOutputSchema[CloseDatasetOutput](),
	), mcp.NewTypedToolHandler(t.CloseDataset), true)

	add(mcp.NewTool(
		"dataset_summary",
		mcp.WithDescription("Describe a loaded dataset: sheets, record counts, periods, levers, unknown impacts and levers without coverage"),
		mcp.WithInputSchema[DatasetInput](),
		mcp.WithOutputSchema[simulation.Summary](),
	), mcp.NewTypedToolHandler(t.DatasetSummary), false)

	add(mcp.NewTool(
		"pnl_baseline",
		mcp.WithDescription("Return the baseline P&L line items and their values per period"),
		mcp.WithInputSchema[BaselineInput](),
		mcp.WithOutputSchema[simulation.BaselineView](),
	), mcp.NewTypedToolHandler(t.Baseline), false)

	add(mcp.NewTool(
		"list_levers",
		mcp.WithDescription("List the levers a dataset declares with their bounds and units"),
		mcp.WithInputSchema[DatasetInput](),
		mcp.WithOutputSchema[ListLeversOutput](),
	), mcp.NewTypedToolHandler(t.ListLevers), false)

	add(mcp.NewTool(
		"elasticities",
		mcp.WithDescription("Return estimated lever elasticities with sample counts, correlation and the estimation method"),
		mcp.WithInputSchema[ElasticitiesInput](),
		mcp.WithOutputSchema[simulation.ElasticityView](),
	), mcp.NewTypedToolHandler(t.Elasticities), false)

	add(mcp.NewTool(
		"open_scenario",
		mcp.WithDescription("Open a scenario session on a dataset with every lever at zero"),
		mcp.WithInputSchema[DatasetInput](),
		mcp.WithOutputSchema[simulation.Session](),
	), mcp.NewTypedToolHandler(t.OpenScenario), false)

	add(mcp.NewTool(
		"set_levers",
		mcp.WithDescription("Move levers of a scenario session in percent. Values outside a lever's bounds are clamped when the scenario is computed."),
		mcp.WithInputSchema[SetLeversInput](),
		mcp.WithOutputSchema[simulation.Session](),
	), mcp.NewTypedToolHandler(t.SetLevers), false)

	add(mcp.NewTool(
		"reset_levers",
		mcp.WithDescription("Return every lever of a scenario session to zero"),
		mcp.WithInputSchema[SessionInput](),
		mcp.WithOutputSchema[simulation.Session](),
	), mcp.NewTypedToolHandler(t.ResetLevers), false)

	add(mcp.NewTool(
		"close_scenario",
		mcp.WithDescription("Discard a scenario session and free its slot on the dataset. Errors: INVALID_SESSION."),
		mcp.WithInputSchema[SessionInput](),
		mcp.WithOutputSchema[CloseScenarioOutput](),
	), mcp.NewTypedToolHandler(t.CloseScenario), true)

	add(mcp.NewTool(
		"compute_scenario",
		mcp.WithDescription("Apply a lever vector to the baseline and return scenario values and deltas per period, the applied levers and levers without coverage. Session levers apply first; levers in the request override them."),
		mcp.WithInputSchema[ComputeScenarioInput](),
		mcp.WithOutputSchema[simulation.ScenarioView](),
	), mcp.NewTypedToolHandler(t.ComputeScenario), false)

	add(mcp.NewTool(
		"delta_attribution",
		mcp.WithDescription("Rank the driver-tree leaves (or detail line items when there is no tree) that move a scenario period, with Top-N shares of the absolute movement and an HHI concentration band"),
		mcp.WithInputSchema[DeltaAttributionInput](),
		mcp.WithOutputSchema[simulation.AttributionView](),
	), mcp.NewTypedToolHandler(t.DeltaAttribution), false)

	add(mcp.NewTool(
		"driver_tree",
		mcp.WithDescription("Page through the driver tree depth-first with baseline amounts, plus scenario amounts when a session is given. Use next_cursor to continue; reloading naming invalidates cursors."),
		mcp.WithInputSchema[DriverTreeInput](),
		mcp.WithOutputSchema[simulation.TreePage](),
	), mcp.NewTypedToolHandler(t.DriverTree), false)

	add(mcp.NewTool(
		"replace_naming",
		mcp.WithDescription("Replace a dataset's naming table and rebuild its statement, levers and elasticities"),
		mcp.WithInputSchema[ReplaceNamingInput](),
		mcp.WithOutputSchema[simulation.Summary](),
	), mcp.NewTypedToolHandler(t.ReplaceNaming), true)
}

// LoadDataset handles load_dataset.
func (t *Tools) LoadDataset(ctx context.Context, _ mcp.CallToolRequest, in LoadDatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sum, err := t.svc.LoadDataset(ctx, strings.TrimSpace(in.Path))
	if err != nil {
		return toolError(err, mcperr.LoadFailed), nil
	}
	return t.result(sum, fmt.Sprintf("dataset=%s periods=%d levers=%d gaps=%d", sum.DatasetID, len(sum.Periods), len(sum.Levers), len(sum.Gaps)))
}

// CloseDataset handles close_dataset.
func (t *Tools) CloseDataset(ctx context.Context, _ mcp.CallToolRequest, in DatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := t.svc.CloseDataset(ctx, in.DatasetID); err != nil {
		return toolError(err, mcperr.InvalidDataset), nil
	}
	return t.result(CloseDatasetOutput{Success: true}, "closed "+in.DatasetID)
}

// DatasetSummary handles dataset_summary.
func (t *Tools) DatasetSummary(ctx context.Context, _ mcp.CallToolRequest, in DatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sum, err := t.svc.Summary(ctx, in.DatasetID)
	if err != nil {
		return toolError(err, mcperr.InvalidDataset), nil
	}
	return t.result(sum, fmt.Sprintf("dataset=%s records=%d nodes=%d items=%d", sum.DatasetID, sum.Records, sum.TreeNodes, sum.LineItems))
}

// Baseline handles pnl_baseline.
func (t *Tools) Baseline(ctx context.Context, _ mcp.CallToolRequest, in BaselineInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	view, err := t.svc.Baseline(ctx, in.DatasetID, in.Periods)
	if err != nil {
		return toolError(err, mcperr.ScenarioFailed), nil
	}
	return t.result(view, fmt.Sprintf("items=%d periods=%s", len(view.Items), strings.Join(view.Periods, ",")))
}

// ListLevers handles list_levers.
func (t *Tools) ListLevers(ctx context.Context, _ mcp.CallToolRequest, in DatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	levers, err := t.svc.Levers(ctx, in.DatasetID)
	if err != nil {
		return toolError(err, mcperr.InvalidDataset), nil
	}
	out := ListLeversOutput{DatasetID: in.DatasetID, Levers: make([]LeverSummary, 0, len(levers))}
	ids := make([]string, 0, len(levers))
	for _, l := range levers {
		out.Levers = append(out.Levers, LeverSummary{ID: l.ID, Name: l.Name, Field: l.Field, Min: l.Min, Max: l.Max, Unit: l.Unit})
		ids = append(ids, l.ID)
	}
	return t.result(out, "levers: "+strings.Join(ids, ", "))
}

// Elasticities handles elasticities.
func (t *Tools) Elasticities(ctx context.Context, _ mcp.CallToolRequest, in ElasticitiesInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	view, err := t.svc.Elasticities(ctx, in.DatasetID, strings.TrimSpace(in.Lever))
	if err != nil {
		return toolError(err, mcperr.ScenarioFailed), nil
	}
	return t.result(view, fmt.Sprintf("entries=%d", len(view.Entries)))
}

// OpenScenario handles open_scenario.
func (t *Tools) OpenScenario(ctx context.Context, _ mcp.CallToolRequest, in DatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, err := t.svc.OpenSession(ctx, in.DatasetID)
	if err != nil {
		return toolError(err, mcperr.InvalidDataset), nil
	}
	return t.result(sess, "session="+sess.ID)
}

// SetLevers handles set_levers.
func (t *Tools) SetLevers(ctx context.Context, _ mcp.CallToolRequest, in SetLeversInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, err := t.svc.SetLevers(ctx, in.SessionID, in.Levers)
	if err != nil {
		return toolError(err, mcperr.ScenarioFailed), nil
	}
	return t.result(sess, fmt.Sprintf("session=%s levers=%d", sess.ID, len(sess.Values)))
}

// ResetLevers handles reset_levers.
func (t *Tools) ResetLevers(ctx context.Context, _ mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sess, err := t.svc.ResetLevers(ctx, in.SessionID)
	if err != nil {
		return toolError(err, mcperr.InvalidSession), nil
	}
	return t.result(sess, "session="+sess.ID+" reset")
}

// CloseScenario handles close_scenario.
func (t *Tools) CloseScenario(ctx context.Context, _ mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := t.svc.CloseSession(ctx, in.SessionID); err != nil {
		return toolError(err, mcperr.InvalidSession), nil
	}
	return t.result(CloseScenarioOutput{Success: true}, "closed session "+in.SessionID)
}

// ComputeScenario handles compute_scenario.
func (t *Tools) ComputeScenario(ctx context.Context, _ mcp.CallToolRequest, in ComputeScenarioInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	view, err := t.svc.ComputeScenario(ctx, simulation.ScenarioRequest{
		DatasetID: in.DatasetID,
		SessionID: in.SessionID,
		Levers:    in.Levers,
		Periods:   in.Periods,
	})
	if err != nil {
		return toolError(err, mcperr.ScenarioFailed), nil
	}
	if !in.IncludeNodes {
		view.Result.Nodes = nil
	}
	return t.result(view, scenarioSummary(view))
}

// DeltaAttribution handles delta_attribution.
func (t *Tools) DeltaAttribution(ctx context.Context, _ mcp.CallToolRequest, in DeltaAttributionInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	view, err := t.svc.Attribution(ctx, simulation.AttributionRequest{
		ScenarioRequest: simulation.ScenarioRequest{DatasetID: in.DatasetID, SessionID: in.SessionID, Levers: in.Levers},
		Period:          in.Period,
		TopN:            in.TopN,
	})
	if err != nil {
		return toolError(err, mcperr.ScenarioFailed), nil
	}
	c := view.Concentration
	lines := []string{fmt.Sprintf("period=%s source=%s abs_delta=%.2f hhi=%.3f band=%s", view.Period, view.Source, c.AbsDelta, c.HHI, c.Band)}
	for _, g := range c.Groups {
		lines = append(lines, fmt.Sprintf("- %s %+.2f (%.1f%%)", g.Name, g.Delta, g.Share*100))
	}
	return t.result(view, strings.Join(lines, "\n"))
}

// DriverTree handles driver_tree.
func (t *Tools) DriverTree(ctx context.Context, _ mcp.CallToolRequest, in DriverTreeInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if in.PageSize > t.limits.MaxTreePageSize {
		return mcperr.Wrapf(mcperr.Validation, "page_size must be at most %d", t.limits.MaxTreePageSize), nil
	}
	page, err := t.svc.DriverTree(ctx, simulation.TreeRequest{
		DatasetID: in.DatasetID,
		SessionID: in.SessionID,
		Cursor:    in.Cursor,
		PageSize:  in.PageSize,
		Periods:   in.Periods,
	})
	if err != nil {
		return toolError(err, mcperr.ScenarioFailed), nil
	}
	return t.result(page, fmt.Sprintf("nodes=%d offset=%d total=%d more=%v", len(page.Nodes), page.Offset, page.Total, page.NextCursor != ""))
}

// ReplaceNaming handles replace_naming.
func (t *Tools) ReplaceNaming(ctx context.Context, _ mcp.CallToolRequest, in ReplaceNamingInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	sum, err := t.svc.ReplaceNaming(ctx, in.DatasetID, in.Rows)
	if err != nil {
		return toolError(err, mcperr.NamingInvalid), nil
	}
	return t.result(sum, fmt.Sprintf("dataset=%s version=%d items=%d", sum.DatasetID, sum.Version, sum.LineItems))
}

// result wraps out as a structured result, refusing payloads above the
// configured size.
func (t *Tools) result(out any, summary string) (*mcp.CallToolResult, error) {
	if t.limits.MaxPayloadBytes > 0 || t.budget.Enabled() {
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		if t.limits.MaxPayloadBytes > 0 && len(raw) > t.limits.MaxPayloadBytes {
			t.logger.Warn().Int("bytes", len(raw)).Int("max", t.limits.MaxPayloadBytes).Msg("result exceeds payload limit")
			return mcperr.Wrapf(mcperr.PayloadTooLarge, "result is %d bytes (max=%d)", len(raw), t.limits.MaxPayloadBytes), nil
		}
		if n, ok := t.budget.Fits(raw); !ok {
			t.logger.Warn().Int("tokens", n).Int("max", t.budget.Tokens()).Str("model", t.budget.Model()).Msg("result exceeds token budget")
			return mcperr.Wrapf(mcperr.PayloadTooLarge, "result is %d tokens for %s (max=%d)", n, t.budget.Model(), t.budget.Tokens()), nil
		}
	}
	res := mcp.NewToolResultStructured(out, summary)
	res.Content = []mcp.Content{mcp.NewTextContent(summary)}
	return res, nil
}

func scenarioSummary(view simulation.ScenarioView) string {
	lines := []string{fmt.Sprintf("applied=%d gaps=%d periods=%d", len(view.Result.Applied), len(view.Result.Gaps), len(view.Result.Periods))}
	margin := ""
	for _, it := range view.Items {
		if it.Impact == naming.Margin && !it.Ratio {
			margin = it.Key
			break
		}
	}
	if margin == "" {
		return lines[0]
	}
	for _, pr := range view.Result.Periods {
		lines = append(lines, fmt.Sprintf("- %s %s: %.2f -> %.2f (%+.2f)", pr.Period, margin, pr.Baseline[margin], pr.Scenario[margin], pr.Delta[margin]))
	}
	return strings.Join(lines, "\n")
}

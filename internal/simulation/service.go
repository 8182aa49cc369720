package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vinodismyname/leverlab/config"
	"github.com/vinodismyname/leverlab/internal/datasets"
	"github.com/vinodismyname/leverlab/internal/elasticity"
	"github.com/vinodismyname/leverlab/internal/insights"
	"github.com/vinodismyname/leverlab/internal/naming"
	"github.com/vinodismyname/leverlab/internal/runtime"
	"github.com/vinodismyname/leverlab/internal/scenario"
	"github.com/vinodismyname/leverlab/internal/sheet"
	"github.com/vinodismyname/leverlab/pkg/pagination"
)

var (
	// ErrUnknownLever indicates a lever id the dataset does not declare.
	ErrUnknownLever = errors.New("simulation: unknown lever")
	// ErrUnknownPeriod indicates a period absent from the dataset.
	ErrUnknownPeriod = errors.New("simulation: unknown period")
	// ErrInvalidNaming indicates a naming table without a canonical-name column.
	ErrInvalidNaming = errors.New("simulation: naming table has no canonical name column")
	// ErrStaleCursor indicates a cursor issued for another dataset or index version.
	ErrStaleCursor = errors.New("simulation: cursor no longer matches dataset")
)

// Metrics receives service events. telemetry.Metrics implements it.
type Metrics interface {
	DatasetLoaded(ctx context.Context, sheets int)
	ScenarioComputed(ctx context.Context, levers int, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) DatasetLoaded(context.Context, int)                   {}
func (noopMetrics) ScenarioComputed(context.Context, int, time.Duration) {}

// Options configures a Service.
type Options struct {
	Loader        *datasets.Loader
	Store         *datasets.Store
	Sessions      *SessionStore
	Logger        zerolog.Logger
	DefaultLevers []naming.Lever
	Elasticity    config.Elasticity
	Limits        runtime.Limits
	Metrics       Metrics
}

// Service exposes dataset loading and scenario operations. It is safe for
// concurrent use.
type Service struct {
	loader   *datasets.Loader
	store    *datasets.Store
	sessions *SessionStore
	builder  IndexBuilder
	engine   *scenario.Engine
	limits   runtime.Limits
	metrics  Metrics
	logger   zerolog.Logger

	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewService wires a Service. Missing collaborators get in-memory defaults.
func NewService(opts Options) *Service {
	if opts.Loader == nil {
		opts.Loader = datasets.NewLoader(opts.Logger, nil)
	}
	if opts.Store == nil {
		opts.Store = datasets.NewStore(0, 0, nil, nil)
	}
	if opts.Sessions == nil {
		opts.Sessions = NewSessionStore(0, nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Limits.MaxTreePageSize == 0 {
		opts.Limits = runtime.NewLimits(0, 0)
	}
	s := &Service{
		loader:   opts.Loader,
		store:    opts.Store,
		sessions: opts.Sessions,
		builder: IndexBuilder{
			Logger:        opts.Logger,
			DefaultLevers: opts.DefaultLevers,
			Elasticity:    opts.Elasticity,
		},
		engine:  scenario.NewEngine(opts.Logger),
		limits:  opts.Limits,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		indexes: map[string]*Index{},
	}
	s.store.OnEvict(s.forget)
	return s
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.indexes, id)
	s.mu.Unlock()
	n := s.sessions.DropDataset(id)
	s.logger.Info().Str("dataset", id).Int("sessions", n).Msg("dataset released")
}

func (s *Service) index(id string) (*Index, error) {
	if _, ok := s.store.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", datasets.ErrDatasetNotFound, id)
	}
	s.mu.RLock()
	idx, ok := s.indexes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", datasets.ErrDatasetNotFound, id)
	}
	return idx, nil
}

// Summary describes a loaded dataset and its derived index.
type Summary struct {
	DatasetID      string               `json:"dataset_id"`
	Name           string               `json:"name"`
	Version        int64                `json:"version"`
	LoadedAt       time.Time            `json:"loaded_at"`
	Sheets         []datasets.SheetInfo `json:"sheets"`
	Records        int                  `json:"records"`
	TreeNodes      int                  `json:"tree_nodes"`
	LineItems      int                  `json:"line_items"`
	Periods        []string             `json:"periods"`
	Levers         []naming.Lever       `json:"levers"`
	Gaps           []string             `json:"gaps,omitempty"`
	UnknownImpacts []string             `json:"unknown_impacts,omitempty"`
	HasNaming      bool                 `json:"has_naming"`
}

func summarize(ds *datasets.Dataset, idx *Index) Summary {
	return Summary{
		DatasetID:      ds.ID,
		Name:           ds.Name,
		Version:        idx.Version,
		LoadedAt:       ds.LoadedAt,
		Sheets:         ds.Sheets,
		Records:        len(ds.Records),
		TreeNodes:      idx.Tree.Len(),
		LineItems:      len(idx.Statement.Items),
		Periods:        idx.Periods,
		Levers:         idx.Levers,
		Gaps:           idx.Gaps,
		UnknownImpacts: idx.UnknownImpacts,
		HasNaming:      !idx.Statement.Empty(),
	}
}

// LoadDataset decodes a workbook, stores it and builds its index.
func (s *Service) LoadDataset(ctx context.Context, path string) (Summary, error) {
	ds, err := s.loader.Load(ctx, path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("dataset load failed")
		return Summary{}, err
	}
	return s.adopt(ctx, ds)
}

func (s *Service) adopt(ctx context.Context, ds *datasets.Dataset) (Summary, error) {
	id, err := s.store.Add(ctx, ds)
	if err != nil {
		return Summary{}, err
	}
	idx := s.builder.Build(ds, ds.Naming, 1)
	s.mu.Lock()
	s.indexes[id] = idx
	s.mu.Unlock()

	s.metrics.DatasetLoaded(ctx, len(ds.Sheets))
	s.logger.Info().Str("dataset", id).Str("name", ds.Name).Int("records", len(ds.Records)).Msg("dataset loaded")
	return summarize(ds, idx), nil
}

// CloseDataset drops a dataset together with its sessions.
func (s *Service) CloseDataset(_ context.Context, id string) error {
	if err := s.store.Remove(id); err != nil {
		return fmt.Errorf("%w: %s", err, id)
	}
	return nil
}

// Summary returns the current summary of a dataset.
func (s *Service) Summary(_ context.Context, id string) (Summary, error) {
	idx, err := s.index(id)
	if err != nil {
		return Summary{}, err
	}
	ds, ok := s.store.Get(id)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", datasets.ErrDatasetNotFound, id)
	}
	return summarize(ds, idx), nil
}

// BaselineView is the baseline P&L over selected periods.
type BaselineView struct {
	DatasetID string                        `json:"dataset_id"`
	Items     []naming.LineItem             `json:"items"`
	Periods   []string                      `json:"periods"`
	Values    map[string]map[string]float64 `json:"values"`
}

// Baseline returns the baseline P&L. Empty periods selects all.
func (s *Service) Baseline(_ context.Context, id string, periods []string) (BaselineView, error) {
	idx, err := s.index(id)
	if err != nil {
		return BaselineView{}, err
	}
	sel, err := selectPeriods(idx, periods, idx.Baseline.Periods)
	if err != nil {
		return BaselineView{}, err
	}
	out := BaselineView{DatasetID: id, Items: idx.Statement.Items, Periods: sel, Values: map[string]map[string]float64{}}
	for _, p := range sel {
		out.Values[p] = idx.Baseline.Period(p)
	}
	return out, nil
}

// Levers returns the dataset's declared levers at zero.
func (s *Service) Levers(_ context.Context, id string) ([]naming.Lever, error) {
	idx, err := s.index(id)
	if err != nil {
		return nil, err
	}
	return append([]naming.Lever(nil), idx.Levers...), nil
}

// ElasticityView lists the estimated coefficients of a dataset.
type ElasticityView struct {
	DatasetID string             `json:"dataset_id"`
	Entries   []elasticity.Entry `json:"entries"`
}

// Elasticities returns the estimate diagnostics, optionally for one lever.
func (s *Service) Elasticities(_ context.Context, id, lever string) (ElasticityView, error) {
	idx, err := s.index(id)
	if err != nil {
		return ElasticityView{}, err
	}
	if lever != "" {
		if _, ok := idx.Lever(lever); !ok {
			return ElasticityView{}, fmt.Errorf("%w: %s", ErrUnknownLever, lever)
		}
	}
	out := ElasticityView{DatasetID: id, Entries: []elasticity.Entry{}}
	for _, e := range idx.Entries {
		if lever == "" || e.Lever == lever {
			out.Entries = append(out.Entries, e)
		}
	}
	return out, nil
}

// OpenSession starts a scenario session on a dataset.
func (s *Service) OpenSession(_ context.Context, datasetID string) (Session, error) {
	if _, err := s.index(datasetID); err != nil {
		return Session{}, err
	}
	return s.sessions.Open(datasetID)
}

// SetLevers moves levers within a session. Values outside a lever's bounds
// are kept as requested and clamped at computation time.
func (s *Service) SetLevers(_ context.Context, sessionID string, values map[string]float64) (Session, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	idx, err := s.index(sess.DatasetID)
	if err != nil {
		return Session{}, err
	}
	for _, id := range sortedIDs(values) {
		if _, ok := idx.Lever(id); !ok {
			return Session{}, fmt.Errorf("%w: %s", ErrUnknownLever, id)
		}
	}
	return s.sessions.Set(sessionID, values)
}

// CloseSession discards a scenario session and frees its slot on the dataset.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	if err := s.sessions.Close(sessionID); err != nil {
		return fmt.Errorf("%w: %s", err, sessionID)
	}
	s.logger.Debug().Str("session_id", sessionID).Msg("scenario session closed")
	return nil
}

// ResetLevers returns every lever of a session to zero.
func (s *Service) ResetLevers(_ context.Context, sessionID string) (Session, error) {
	sess, err := s.sessions.Reset(sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s", err, sessionID)
	}
	return sess, nil
}

// ScenarioRequest selects a lever vector and periods. When SessionID is set
// its lever values apply first and Levers overrides them.
type ScenarioRequest struct {
	DatasetID string
	SessionID string
	Levers    map[string]float64
	Periods   []string
}

// ScenarioView is a computed scenario.
type ScenarioView struct {
	DatasetID string            `json:"dataset_id"`
	SessionID string            `json:"session_id,omitempty"`
	Items     []naming.LineItem `json:"items"`
	Result    scenario.Result   `json:"result"`
}

// ComputeScenario applies a lever vector to the dataset's baseline.
func (s *Service) ComputeScenario(ctx context.Context, req ScenarioRequest) (ScenarioView, error) {
	start := time.Now()
	values := map[string]float64{}
	if req.SessionID != "" {
		sess, ok := s.sessions.Get(req.SessionID)
		if !ok {
			return ScenarioView{}, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
		}
		if req.DatasetID != "" && req.DatasetID != sess.DatasetID {
			return ScenarioView{}, fmt.Errorf("%w: session %s belongs to dataset %s", ErrSessionNotFound, req.SessionID, sess.DatasetID)
		}
		req.DatasetID = sess.DatasetID
		values = sess.Values
	}
	idx, err := s.index(req.DatasetID)
	if err != nil {
		return ScenarioView{}, err
	}
	for _, id := range sortedIDs(req.Levers) {
		if _, ok := idx.Lever(id); !ok {
			return ScenarioView{}, fmt.Errorf("%w: %s", ErrUnknownLever, id)
		}
		values[id] = req.Levers[id]
	}
	if err := ctx.Err(); err != nil {
		return ScenarioView{}, err
	}
	periods, err := selectPeriods(idx, req.Periods, nil)
	if err != nil {
		return ScenarioView{}, err
	}

	levers := make([]naming.Lever, len(idx.Levers))
	for i, l := range idx.Levers {
		l.CurrentValue = values[l.ID]
		levers[i] = l
	}
	res := s.engine.Compute(scenario.Input{
		Statement:    idx.Statement,
		Baseline:     idx.Baseline,
		Tree:         idx.Tree,
		Elasticities: idx.Elasticities,
		Impacts:      idx.Impacts,
		Levers:       levers,
		Periods:      periods,
	})
	s.metrics.ScenarioComputed(ctx, len(res.Applied), time.Since(start))
	return ScenarioView{DatasetID: req.DatasetID, SessionID: req.SessionID, Items: idx.Statement.Items, Result: res}, nil
}

// AttributionRequest selects the scenario and the period whose movement is
// ranked. An empty Period selects the last period of the dataset.
type AttributionRequest struct {
	ScenarioRequest
	Period string
	TopN   int
}

// Attribution sources.
const (
	SourceDriverTree = "driver_tree"
	SourceLineItems  = "line_items"
)

// AttributionView ranks the contributors to one period's scenario movement.
type AttributionView struct {
	DatasetID     string                 `json:"dataset_id"`
	SessionID     string                 `json:"session_id,omitempty"`
	Period        string                 `json:"period"`
	Source        string                 `json:"source"`
	Concentration insights.Concentration `json:"concentration"`
}

// Attribution computes a scenario and ranks what moved it: driver-tree
// leaves when the dataset has a tree, detail line items otherwise.
func (s *Service) Attribution(ctx context.Context, req AttributionRequest) (AttributionView, error) {
	req.Periods = nil
	if req.Period != "" {
		req.Periods = []string{req.Period}
	}
	view, err := s.ComputeScenario(ctx, req.ScenarioRequest)
	if err != nil {
		return AttributionView{}, err
	}
	if len(view.Result.Periods) == 0 {
		return AttributionView{}, fmt.Errorf("%w: dataset has no periods", ErrUnknownPeriod)
	}
	pr := view.Result.Periods[len(view.Result.Periods)-1]
	out := AttributionView{DatasetID: view.DatasetID, SessionID: view.SessionID, Period: pr.Period}

	contrib := map[string]float64{}
	if len(view.Result.Nodes) > 0 {
		out.Source = SourceDriverTree
		parents := map[string]bool{}
		for _, n := range view.Result.Nodes {
			parents[n.ParentID] = true
		}
		for _, n := range view.Result.Nodes {
			if parents[n.ID] {
				continue
			}
			name := n.Name
			if _, dup := contrib[name]; dup {
				name = n.Name + " (" + n.ID + ")"
			}
			contrib[name] = n.Scenario[pr.Period] - n.Baseline[pr.Period]
		}
	} else {
		out.Source = SourceLineItems
		st := naming.Statement{Items: view.Items}
		for _, impact := range []naming.Impact{naming.Revenue, naming.Expense} {
			for _, it := range st.Contributors(impact) {
				contrib[it.Label] += pr.Delta[it.Key]
			}
		}
	}
	out.Concentration = insights.Concentrate(contrib, req.TopN)
	return out, nil
}

// TreeRequest pages through the driver tree in depth-first order.
type TreeRequest struct {
	DatasetID string
	SessionID string
	Cursor    string
	PageSize  int
	Periods   []string
}

// TreeNode is one driver-tree node with baseline and optional scenario amounts.
type TreeNode struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Level    int                `json:"level"`
	ParentID string             `json:"parent_id,omitempty"`
	Leaf     bool               `json:"leaf"`
	Baseline map[string]float64 `json:"baseline"`
	Scenario map[string]float64 `json:"scenario,omitempty"`
}

// TreePage is one page of the driver tree.
type TreePage struct {
	DatasetID  string     `json:"dataset_id"`
	Total      int        `json:"total"`
	Offset     int        `json:"offset"`
	Nodes      []TreeNode `json:"nodes"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// DriverTree returns a page of the baseline tree. With a session the
// session's scenario amounts are included.
func (s *Service) DriverTree(ctx context.Context, req TreeRequest) (TreePage, error) {
	off := 0
	ps := s.limits.PageSize(req.PageSize)
	var cur *pagination.Cursor
	if req.Cursor != "" {
		c, err := pagination.DecodeCursor(req.Cursor)
		if err != nil {
			return TreePage{}, fmt.Errorf("%w: %v", ErrStaleCursor, err)
		}
		if c.U != pagination.UnitNodes || (req.DatasetID != "" && req.DatasetID != c.Did) {
			return TreePage{}, ErrStaleCursor
		}
		cur = c
		req.DatasetID, off, ps = c.Did, c.Off, s.limits.PageSize(c.Ps)
		if len(req.Periods) == 0 {
			req.Periods = c.Per
		}
	}
	idx, err := s.index(req.DatasetID)
	if err != nil {
		return TreePage{}, err
	}
	if cur != nil && cur.Ver != idx.Version {
		return TreePage{}, ErrStaleCursor
	}
	periods, err := selectPeriods(idx, req.Periods, idx.Tree.Periods())
	if err != nil {
		return TreePage{}, err
	}

	var scen map[string]map[string]float64
	if req.SessionID != "" {
		view, err := s.ComputeScenario(ctx, ScenarioRequest{DatasetID: req.DatasetID, SessionID: req.SessionID, Periods: periods})
		if err != nil {
			return TreePage{}, err
		}
		scen = make(map[string]map[string]float64, len(view.Result.Nodes))
		for _, n := range view.Result.Nodes {
			scen[n.ID] = n.Scenario
		}
	}

	nodes := idx.Tree.Flatten()
	start, end, more := pagination.Window(len(nodes), off, ps)
	page := TreePage{DatasetID: req.DatasetID, Total: len(nodes), Offset: start, Nodes: make([]TreeNode, 0, end-start)}
	for _, n := range nodes[start:end] {
		tn := TreeNode{ID: n.ID, Name: n.Name, Level: n.Level, ParentID: n.ParentID, Leaf: n.IsLeaf(), Baseline: map[string]float64{}}
		for _, p := range periods {
			tn.Baseline[p] = n.Amounts[p]
		}
		if scen != nil {
			tn.Scenario = scen[n.ID]
		}
		page.Nodes = append(page.Nodes, tn)
	}
	if more {
		tok, err := pagination.EncodeCursor(pagination.Cursor{
			Did: req.DatasetID,
			Ver: idx.Version,
			U:   pagination.UnitNodes,
			Off: pagination.NextOffset(start, end-start),
			Ps:  ps,
			Per: req.Periods,
		})
		if err != nil {
			return TreePage{}, err
		}
		page.NextCursor = tok
	}
	return page, nil
}

// ReplaceNaming swaps the dataset's naming table and rebuilds its index.
// Open sessions keep their lever values; values for levers the new table
// no longer declares are ignored at computation time.
func (s *Service) ReplaceNaming(_ context.Context, id string, rows [][]string) (Summary, error) {
	old, err := s.index(id)
	if err != nil {
		return Summary{}, err
	}
	ds, ok := s.store.Get(id)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", datasets.ErrDatasetNotFound, id)
	}
	tbl := sheet.FromRows("Naming", rows)
	if !naming.HasCanonicalColumn(tbl) {
		return Summary{}, ErrInvalidNaming
	}
	idx := s.builder.Build(ds, tbl, old.Version+1)

	s.mu.Lock()
	s.indexes[id] = idx
	s.mu.Unlock()
	s.logger.Info().Str("dataset", id).Int64("version", idx.Version).Msg("naming table replaced")
	return summarize(ds, idx), nil
}

// selectPeriods validates requested periods, defaulting to fallback (or
// every index period when fallback is nil).
func selectPeriods(idx *Index, requested, fallback []string) ([]string, error) {
	if len(requested) == 0 {
		if fallback == nil {
			return idx.Periods, nil
		}
		return fallback, nil
	}
	for _, p := range requested {
		if !idx.HasPeriod(p) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPeriod, p)
		}
	}
	return requested, nil
}

func sortedIDs(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/vinodismyname/leverlab/internal/datasets"
	"github.com/vinodismyname/leverlab/internal/registry"
	"github.com/vinodismyname/leverlab/internal/runtime"
	"github.com/vinodismyname/leverlab/internal/security"
	"github.com/vinodismyname/leverlab/internal/simulation"
	"github.com/vinodismyname/leverlab/internal/telemetry"
	"github.com/vinodismyname/leverlab/pkg/version"
)

var (
	serveStdio      bool
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Serve the leverlab tools over the Model Context Protocol.

Workbooks may only be opened from the allowed directories, configured with
allowed_dirs in leverlab.yaml or LEVERLAB_ALLOWED_DIRS.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Run server over stdio transport")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
}

// app is the wired server state shared by serve and its shutdown path.
type app struct {
	server  *server.MCPServer
	store   *datasets.Store
	metrics *telemetry.Metrics
	limits  runtime.Limits
	budget  registry.TokenBudget
}

func runServe(cmd *cobra.Command, _ []string) error {
	if !serveStdio {
		return errors.New("no transport selected; use --stdio to run over stdio")
	}
	ctx := cmd.Context()

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManager(cfg.AllowedDirs, nil)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager")
		return fmt.Errorf("invalid security configuration; set %s", security.AllowedDirsEnv)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		return fmt.Errorf("no allowed directories configured; set %s", security.AllowedDirsEnv)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	a, err := buildApp(ctx, secMgr.WithMaxFileBytes(cfg.MaxFileBytes))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.store.Close(sctx); err != nil {
			logger.Warn().Err(err).Msg("dataset store shutdown")
		}
		if err := a.metrics.Close(sctx); err != nil {
			logger.Warn().Err(err).Msg("metrics shutdown")
		}
	}()

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Int("max_concurrent_requests", a.limits.MaxConcurrentRequests).
		Int("max_open_datasets", a.limits.MaxOpenDatasets).
		Dur("dataset_idle_ttl", cfg.DatasetIdleTTL).
		Bool("telemetry", cfg.Telemetry.Enabled).
		Str("model", a.budget.Model()).
		Int("result_token_budget", a.budget.Tokens()).
		Msg("server bootstrap configured")

	// Use stderr for transport errors so clients don't misinterpret output
	if err := server.ServeStdio(a.server); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildApp wires the runtime controller, dataset store, simulation service,
// telemetry and tools into an MCP server.
func buildApp(ctx context.Context, validator datasets.PathValidator) (*app, error) {
	limits := runtime.LimitsFromConfig(cfg)
	ctrl := runtime.NewController(limits)

	metrics, err := telemetry.NewMetrics(ctx, cfg.Telemetry, version.Version())
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store := datasets.NewStore(cfg.DatasetIdleTTL, cfg.CleanupPeriod, ctrl, nil)
	svc := simulation.NewService(simulation.Options{
		Loader:        datasets.NewLoader(logger, validator),
		Store:         store,
		Sessions:      simulation.NewSessionStore(cfg.MaxSessions, nil),
		Logger:        logger,
		DefaultLevers: simulation.LeversFromConfig(cfg.Levers),
		Elasticity:    cfg.Elasticity,
		Limits:        limits,
		Metrics:       metrics,
	})
	store.Start()

	reg := registry.New()
	filter := registry.NewReadOnlyFilterFromEnv(reg)
	srv := server.NewMCPServer(
		"leverlab",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(telemetry.NewHooks(logger, metrics).Server()),
		server.WithToolHandlerMiddleware(runtime.NewMiddleware(ctrl).WithLogger(logger).ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return filter.FilterTools(ctx, tools) }),
	)
	budget := registry.NewTokenBudget(cfg.Model, cfg.ModelContextShare)
	registry.RegisterTools(srv, reg, registry.NewTools(svc, limits, logger).WithTokenBudget(budget))

	return &app{server: srv, store: store, metrics: metrics, limits: limits, budget: budget}, nil
}

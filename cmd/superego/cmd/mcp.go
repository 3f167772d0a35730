package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/superego-ai/superego/internal/adapter/inbound/http"
	"github.com/superego-ai/superego/internal/adapter/inbound/stdio"
	"github.com/superego-ai/superego/internal/adapter/inbound/websocket"
	"github.com/superego-ai/superego/internal/adapter/outbound/advisor"
	auditsink "github.com/superego-ai/superego/internal/adapter/outbound/audit"
	"github.com/superego-ai/superego/internal/adapter/outbound/cel"
	"github.com/superego-ai/superego/internal/adapter/outbound/rulefile"
	"github.com/superego-ai/superego/internal/config"
	"github.com/superego-ai/superego/internal/domain/audit"
	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/rule"
	"github.com/superego-ai/superego/internal/port/outbound"
	"github.com/superego-ai/superego/internal/service"
	"github.com/superego-ai/superego/internal/telemetry"
)

// Transport mode flag values.
const (
	transportStdio     = "stdio"
	transportHTTP      = "http"
	transportWebSocket = "websocket"
	transportUnified   = "unified"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the decision server",
	Long: `Start the Superego decision server.

The server evaluates agent tool requests against the configured rule file
and answers allow or deny on one or more transports:

  stdio      MCP over stdin/stdout (default; for agents spawning superego)
  http       JSON over HTTP (POST /v1/evaluate, GET /health, /info, /metrics)
  websocket  HTTP listener plus a frame protocol on /v1/ws
  unified    stdio and the HTTP/WebSocket listener together

Examples:
  # Serve MCP on stdin/stdout (the usual agent integration)
  superego mcp

  # Serve HTTP on the configured address
  superego mcp -t http

  # Serve HTTP and WebSocket on port 9000
  superego mcp -t websocket -p 9000

  # Serve every transport at once
  superego mcp -t unified

  # Start with a specific config file
  superego --config /path/to/superego.yaml mcp`,
	RunE: runMCP,
}

var (
	mcpTransport string
	mcpPort      int
	devMode      bool
)

func init() {
	mcpCmd.Flags().StringVarP(&mcpTransport, "transport", "t", transportStdio, "transport: stdio, http, websocket, or unified")
	mcpCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "listen port for http/websocket/unified (overrides config)")
	mcpCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, mock advisor, stdout traces)")
	rootCmd.AddCommand(mcpCmd)
}

// runMCP is the entry point; it calls run (where defers execute on return)
// and then propagates the exit code via os.Exit if needed.
func runMCP(cmd *cobra.Command, args []string) error {
	exitCode, err := run(cmd)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// run assembles and serves the decision engine. It returns exit code 2
// for invalid configuration or rules, 130 when stopped by SIGINT, and a
// non-nil error for fatal startup failures.
func run(cmd *cobra.Command) (exitCode int, retErr error) {
	switch mcpTransport {
	case transportStdio, transportHTTP, transportWebSocket, transportUnified:
	default:
		fmt.Fprintf(os.Stderr, "error: invalid transport %q: must be stdio, http, websocket, or unified\n", mcpTransport)
		return 2, nil
	}

	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2, nil
	}

	// Override dev mode and port from CLI flags
	if devMode {
		cfg.DevMode = true
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = mcpPort
	}

	// Apply dev defaults (debug logging, mock advisor) before validating
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2, nil
	}

	// Create signal context for graceful shutdown, remembering which
	// signal fired so the exit code can reflect it (130 for Ctrl+C).
	// After the first signal, default handling is restored: a second
	// Ctrl+C does a hard kill.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, gracefulSignals()...)

	var sigMu sync.Mutex
	var received os.Signal
	go func() {
		select {
		case sig := <-sigCh:
			sigMu.Lock()
			received = sig
			sigMu.Unlock()
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	// Logger to stderr (stdout is reserved for the MCP stdio stream)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	logger.Debug("log level configured", "level", cfg.LogLevel)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// ===== Telemetry =====
	_, stopTracing, err := telemetry.SetupTracing(cfg.DevMode, Version)
	if err != nil {
		return 0, fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := stopTracing(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	// ===== Rule store =====
	compiler, err := cel.NewCompiler()
	if err != nil {
		return 0, fmt.Errorf("failed to create rule expression compiler: %w", err)
	}

	ruleStore := rulefile.NewStore(cfg.RulesFile, compiler, logger, rulefile.WithMetrics(metrics))
	if err := ruleStore.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid rules file %s: %v\n", cfg.RulesFile, err)
		return 2, nil
	}
	ruleCount := ruleStore.Snapshot().Len()
	logger.Info("rules loaded", "path", cfg.RulesFile, "rules", ruleCount)

	watcher, err := rulefile.NewWatcher(ruleStore, rulefile.WatcherConfig{
		PollInterval: cfg.Watch.PollInterval(),
		Debounce:     cfg.Watch.Debounce(),
	}, logger)
	if err != nil {
		return 0, fmt.Errorf("failed to create rules watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Start(ctx); err != nil {
		return 0, fmt.Errorf("failed to start rules watcher: %w", err)
	}

	// ===== Advisor =====
	provider, err := buildAdvisorProvider(cfg, logger)
	if err != nil {
		return 0, err
	}

	failureMode := decision.ActionDeny
	if cfg.Advisor.SampleFailureMode == "allow" {
		failureMode = decision.ActionAllow
	}

	advisorService := service.NewAdvisorService(provider, service.AdvisorConfig{
		Timeout:          cfg.Advisor.Timeout(),
		FailureMode:      failureMode,
		MaxConcurrent:    int64(cfg.Advisor.MaxConcurrent),
		MaxQueue:         int64(cfg.Advisor.MaxQueue),
		RetryAttempts:    cfg.Advisor.RetryAttempts,
		BreakerThreshold: uint32(cfg.Advisor.Breaker.OpenThreshold),
		BreakerCooldown:  cfg.Advisor.Breaker.Cooldown(),
		CacheSize:        cfg.Advisor.Cache.Size,
		CacheTTL:         cfg.Advisor.Cache.TTL(),
	}, logger, service.WithAdvisorMetrics(metrics))

	// A reload can flip a sample rule to deny or change its guidance;
	// verdicts cached under the old rules must not survive it.
	ruleStore.OnReload(func(*rule.RuleSet) {
		advisorService.ClearCache()
	})

	// ===== Audit sink =====
	auditStore, err := buildAuditSink(cfg, logger)
	if err != nil {
		return 0, fmt.Errorf("failed to create audit sink: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	// The file sink sweeps its own files; sqlite needs an external driver.
	if strings.HasPrefix(cfg.Audit.Output, "sqlite://") {
		startRetentionSweep(ctx, auditStore, cfg.Audit.RetentionDays, logger)
	}

	recorder := service.NewAuditRecorder(auditStore, logger, service.WithRecorderMetrics(metrics))

	// ===== Engine =====
	engine := service.NewEngine(ruleStore, advisorService, recorder, logger, service.WithEngineMetrics(metrics))
	healthService := service.NewHealthService(ruleStore, advisorService, Version)

	logger.Info("superego starting",
		"version", Version,
		"transport", mcpTransport,
		"dev_mode", cfg.DevMode,
		"rules", ruleCount,
		"advisor", cfg.Advisor.Provider,
		"sample_failure_mode", cfg.Advisor.SampleFailureMode,
		"audit_output", cfg.Audit.Output,
	)

	if err := serveTransports(ctx, cfg, engine, healthService, metrics, registry, ruleCount, logger); err != nil {
		return 0, err
	}

	logger.Info("superego stopped")

	sigMu.Lock()
	sig := received
	sigMu.Unlock()
	if sig != nil && isInterrupt(sig) {
		return 130, nil
	}
	return 0, nil
}

// serveTransports starts the transports selected by the -t flag and
// blocks until they stop. In unified mode the stdio side may stay parked
// in a stdin read after cancellation, so shutdown waits on the HTTP side
// and only collects a stdio error if one already surfaced.
func serveTransports(
	ctx context.Context,
	cfg *config.Config,
	engine *service.Engine,
	health *service.HealthService,
	metrics *telemetry.Metrics,
	registry *prometheus.Registry,
	ruleCount int,
	logger *slog.Logger,
) error {
	if mcpTransport == transportStdio {
		server := stdio.NewServer(engine, health, Version, logger)
		health.RegisterTransport(transportStdio)
		logger.Info("transport mode: stdio")
		health.SetTransportRunning(transportStdio, true)
		err := server.Serve(ctx)
		health.SetTransportRunning(transportStdio, false)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio transport: %w", err)
		}
		return nil
	}

	httpOpts := []http.Option{
		http.WithAddr(cfg.Server.ListenAddr()),
		http.WithMetrics(metrics, registry),
	}

	var wsHandler *websocket.Handler
	if mcpTransport == transportWebSocket || mcpTransport == transportUnified {
		wsHandler = websocket.NewHandler(engine, logger)
		httpOpts = append(httpOpts, http.WithWebSocket(wsHandler))
		health.RegisterTransport(transportWebSocket)
	}

	httpServer := http.NewServer(engine, health, Version, logger, httpOpts...)
	health.RegisterTransport(transportHTTP)

	printBanner(cfg, ruleCount, wsHandler != nil)

	// The WebSocket endpoint rides on the HTTP listener, so the two
	// share a running state.
	setHTTPRunning := func(running bool) {
		health.SetTransportRunning(transportHTTP, running)
		if wsHandler != nil {
			health.SetTransportRunning(transportWebSocket, running)
		}
	}

	if mcpTransport != transportUnified {
		logger.Info("transport mode: HTTP", "addr", cfg.Server.ListenAddr(), "websocket", wsHandler != nil)
		setHTTPRunning(true)
		err := httpServer.Serve(ctx)
		setHTTPRunning(false)
		if wsHandler != nil {
			// Graceful HTTP shutdown does not reach hijacked
			// connections; drop them explicitly.
			_ = wsHandler.Close()
		}
		if err != nil {
			return fmt.Errorf("http transport: %w", err)
		}
		return nil
	}

	// Unified: stdio and HTTP together. A stdio failure takes the HTTP
	// side down; a stdin EOF (agent exited) leaves HTTP serving.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	stdioServer := stdio.NewServer(engine, health, Version, logger)
	health.RegisterTransport(transportStdio)
	stdioErrCh := make(chan error, 1)
	go func() {
		health.SetTransportRunning(transportStdio, true)
		err := stdioServer.Serve(runCtx)
		health.SetTransportRunning(transportStdio, false)
		if err != nil && !errors.Is(err, context.Canceled) {
			stdioErrCh <- err
			cancelRun()
			return
		}
		logger.Info("stdio transport stopped")
		stdioErrCh <- nil
	}()

	logger.Info("transport mode: unified", "addr", cfg.Server.ListenAddr())
	setHTTPRunning(true)
	err := httpServer.Serve(runCtx)
	setHTTPRunning(false)
	if wsHandler != nil {
		_ = wsHandler.Close()
	}
	if err != nil {
		return fmt.Errorf("http transport: %w", err)
	}

	select {
	case serr := <-stdioErrCh:
		if serr != nil {
			return fmt.Errorf("stdio transport: %w", serr)
		}
	default:
		// Still parked in a stdin read; the process is exiting anyway.
	}
	return nil
}

// buildAdvisorProvider selects the advisor backend. A missing API key is
// not fatal: the service runs with the advisor unconfigured and sampled
// requests resolve through the failure mode.
func buildAdvisorProvider(cfg *config.Config, logger *slog.Logger) (outbound.AdvisorProvider, error) {
	switch cfg.Advisor.Provider {
	case "mock":
		logger.Warn("using mock advisor: sampled requests get scripted verdicts")
		return advisor.NewMockProvider(), nil
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			logger.Warn("ANTHROPIC_API_KEY not set, sampled requests resolve through the failure mode",
				"sample_failure_mode", cfg.Advisor.SampleFailureMode)
			return nil, nil
		}
		provider, err := advisor.NewAnthropicProvider(apiKey, cfg.Advisor.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic advisor: %w", err)
		}
		logger.Info("advisor configured", "provider", "anthropic", "model", cfg.Advisor.Model)
		return provider, nil
	default:
		// Unreachable: config validation restricts the values.
		return nil, fmt.Errorf("unknown advisor provider %q", cfg.Advisor.Provider)
	}
}

// buildAuditSink creates the audit store selected by audit.output. The
// config validator has already checked the scheme and absolute paths.
func buildAuditSink(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	output := cfg.Audit.Output
	switch {
	case output == "stderr":
		return auditsink.NewStderrStore(), nil
	case output == "memory":
		return auditsink.NewMemoryStore(1024), nil
	case strings.HasPrefix(output, "file://"):
		return auditsink.NewFileStore(auditsink.FileConfig{
			Dir:           strings.TrimPrefix(output, "file://"),
			RetentionDays: cfg.Audit.RetentionDays,
		}, logger)
	case strings.HasPrefix(output, "sqlite://"):
		return auditsink.NewSQLiteStore(strings.TrimPrefix(output, "sqlite://"))
	default:
		return nil, fmt.Errorf("unknown audit output %q", output)
	}
}

// startRetentionSweep purges aged audit entries hourly for sinks that
// support it.
func startRetentionSweep(ctx context.Context, store audit.Store, retentionDays int, logger *slog.Logger) {
	purger, ok := store.(audit.Purger)
	if !ok || retentionDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			if removed, err := purger.PurgeOlderThan(ctx, cutoff); err != nil {
				logger.Warn("audit retention purge failed", "error", err)
			} else if removed > 0 {
				logger.Info("audit retention purge", "removed", removed)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// printBanner prints a formatted startup banner to stderr with version,
// endpoints, mode, and rule counts. Stderr is safe in every transport
// mode; stdout belongs to the MCP stdio stream.
func printBanner(cfg *config.Config, ruleCount int, ws bool) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	addr := cfg.Server.ListenAddr()

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset
	}

	advisorStr := cfg.Advisor.Provider
	if cfg.Advisor.Provider == "anthropic" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		advisorStr = "not configured (fail-" + cfg.Advisor.SampleFailureMode + ")"
	} else if cfg.Advisor.Model != "" {
		advisorStr = fmt.Sprintf("%s (%s)", cfg.Advisor.Provider, cfg.Advisor.Model)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%sSuperego %s%s\n", bold, cyan, Version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-12s http://%s/v1/evaluate\n", "Decisions:", addr)
	if ws {
		fmt.Fprintf(os.Stderr, "  %-12s ws://%s/v1/ws\n", "WebSocket:", addr)
	}
	fmt.Fprintf(os.Stderr, "  %-12s http://%s/health\n", "Health:", addr)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-12s %d active\n", "Rules:", ruleCount)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Advisor:", advisorStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

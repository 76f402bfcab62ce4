package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/nexus-gateway/llmgateway/internal/backend"
	"github.com/nexus-gateway/llmgateway/internal/config"
	"github.com/nexus-gateway/llmgateway/internal/convstate"
	"github.com/nexus-gateway/llmgateway/internal/httpapi"
	"github.com/nexus-gateway/llmgateway/internal/observability"
	"github.com/nexus-gateway/llmgateway/internal/proxy"
	"github.com/nexus-gateway/llmgateway/internal/ratelimit"
	"github.com/nexus-gateway/llmgateway/internal/sanitize"
	"github.com/nexus-gateway/llmgateway/internal/signature"
)

// buildServeCmd creates the "serve" command that starts the gateway server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the llmgateway server",
		Long: `Start the llmgateway server.

The server will:
1. Load and validate configuration from the specified file
2. Open the signature store's L2 SQLite database
3. Register the configured backends and routing rules
4. Optionally construct an in-process Gemini client for the antigravity backend
5. Serve the spec's wire endpoints behind the IDE-compatibility middleware

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  llmgateway serve
  llmgateway serve --config /etc/llmgateway/production.yaml
  llmgateway serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewSlogLogger(cfg.Logging)
	logger.Info("starting llmgateway", "version", version, "commit", commit, "config", configPath)

	server, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	defer cleanup()

	sanitizer := sanitize.New(signature.NewRecovery(server.signatureStore), server.signatureStore, logger)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.api.Mux(sanitizer),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// builtServer bundles the pieces buildServer assembles that runServe and
// doctor both need a handle on.
type builtServer struct {
	api            *httpapi.Server
	signatureStore *signature.Store
}

// buildServer wires C1 (signature store), C8 (backend registry/router), C9
// (proxy engine), and, if configured, the in-process antigravity handler,
// into an httpapi.Server. The returned cleanup func closes the signature
// store's async write queue, L2 database, and tracer exporter.
func buildServer(cfg *config.Config, logger *slog.Logger) (*builtServer, func(), error) {
	l2, err := signature.OpenL2(cfg.Signature.DatabasePath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open signature store: %w", err)
	}
	store := signature.NewStore(l2, cfg.Signature.Store)

	registry := backend.NewRegistry()
	for _, b := range cfg.Backends {
		registry.Register(b)
	}
	registry.SetRules(cfg.Routing)
	router := backend.NewRouter(registry)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}
	tracer, shutdownTracer := observability.NewTracer(cfg.Tracing)

	engine := proxy.NewEngine(&http.Client{}, ratelimit.NewRegistry(), cfg.Retry.Enabled, logger, metrics, tracer)

	if cfg.Antigravity.Enabled {
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  cfg.Antigravity.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, func() {}, fmt.Errorf("antigravity: create genai client: %w", err)
		}
		handler := httpapi.NewAntigravityHandler(client, store, logger)
		handler.RegisterOn(engine)
	}

	api := httpapi.NewServer(registry, router, engine, logger)
	api.ConvState = convstate.NewMachine(convstate.NewSQLitePersister(l2.DB()), logger)
	api.Metrics = metrics
	api.Tracer = tracer

	cleanup := func() {
		if err := l2.Close(); err != nil {
			logger.Warn("close signature store", "error", err)
		}
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("shut down tracer", "error", err)
		}
	}

	return &builtServer{api: api, signatureStore: store}, cleanup, nil
}

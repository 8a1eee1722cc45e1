// Package main implements the entry point for the session core, the
// message routing, connection tracking, and response optimization
// backend of the interactive query service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/connection"
	"github.com/c360/sessioncore/generator"
	"github.com/c360/sessioncore/logging"
	"github.com/c360/sessioncore/message"
	"github.com/c360/sessioncore/metric"
	"github.com/c360/sessioncore/optimizer"
	"github.com/c360/sessioncore/router"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sessioncore"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	slogger := setupLogger(cliCfg)
	slog.SetDefault(slogger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting session core",
		"version", Version,
		"build_time", BuildTime,
		"instance", cfg.Instance.ID,
		"config_path", cliCfg.ConfigPath)

	nc, err := connectNATS(cfg.NATS)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
	}

	logger := logging.New(appName, cfg.Instance.ID, nc, slogger)
	registry := metric.NewRegistry()

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	c, cleanup, err := buildCore(cfg, logger, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.registerHandlers(); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}
	if err := c.manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	if err := c.router.Start(signalCtx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	if cfg.Metrics.Enabled {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.Metrics.Addr, registry)
		})
	}

	slog.Info("Session core started",
		"workers", cfg.Router.Workers,
		"queue_capacity", cfg.Router.QueueCapacity,
		"metrics_enabled", cfg.Metrics.Enabled)

	<-groupCtx.Done()
	slog.Info("Received shutdown signal")

	if err := c.router.Stop(cliCfg.ShutdownTimeout); err != nil {
		slog.Error("Router shutdown incomplete", "error", err)
	}
	if err := c.manager.Stop(); err != nil {
		slog.Error("Connection manager shutdown failed", "error", err)
	}
	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}

	slog.Info("Session core shutdown complete")
	return nil
}

// connectNATS dials the optional log/event streaming broker. An empty
// URL disables publishing without failing startup.
func connectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		slog.Info("NATS disabled, logging locally only")
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name(appName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	slog.Info("Connected to NATS", "url", cfg.URL)
	return nc, nil
}

// buildCore assembles the router, connection manager, and optimizer.
func buildCore(cfg *config.Config, logger *logging.Logger, registry *metric.Registry) (*core, func(), error) {
	gen, err := buildGenerator(cfg.Generator, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create generator: %w", err)
	}

	opt, err := optimizer.New(cfg.Optimizer, gen, logger.Named("ResponseOptimizer"))
	if err != nil {
		return nil, nil, fmt.Errorf("create optimizer: %w", err)
	}

	r, err := router.New(cfg.Router, logger.Named("MessageRouter"), registry.CoreMetrics())
	if err != nil {
		_ = opt.Close()
		return nil, nil, fmt.Errorf("create router: %w", err)
	}

	manager, err := connection.NewManager(cfg.Connection, newLoopbackTransport(r, logger),
		logger.Named("ConnectionManager"), registry.CoreMetrics())
	if err != nil {
		_ = opt.Close()
		return nil, nil, fmt.Errorf("create connection manager: %w", err)
	}

	c := &core{
		router:  r,
		manager: manager,
		opt:     opt,
		logger:  logger,
	}
	cleanup := func() {
		_ = opt.Close()
	}
	return c, cleanup, nil
}

// buildGenerator picks the upstream completion client, or a canned
// fallback when no upstream is configured so the core stays usable in
// development.
func buildGenerator(cfg config.GeneratorConfig, logger *logging.Logger) (optimizer.Generator, error) {
	if cfg.BaseURL == "" {
		slog.Warn("No generator base_url configured, using echo fallback")
		return optimizer.GeneratorFunc(func(_ context.Context, query string, _ map[string]string) (string, error) {
			return "echo: " + query, nil
		}), nil
	}
	return generator.NewHTTPGenerator(cfg, logger.Named("HTTPGenerator"))
}

// loopbackTransport is the delivery seam for the out-of-process client
// link. The wire layer (websocket gateway, etc.) plugs in here; this
// implementation logs deliveries so the core runs standalone.
type loopbackTransport struct {
	router *router.Router
	logger *logging.Logger
}

func newLoopbackTransport(r *router.Router, logger *logging.Logger) *loopbackTransport {
	return &loopbackTransport{router: r, logger: logger.Named("Transport")}
}

func (t *loopbackTransport) Connect(_ context.Context, clientID string) error {
	t.logger.Debug("transport connect", "client_id", clientID)
	return nil
}

func (t *loopbackTransport) Send(_ context.Context, clientID string, env message.Envelope) error {
	t.logger.Info("outbound message",
		"client_id", clientID, "type", env.Type, "message_id", env.ID)
	return nil
}

// serveMetrics runs the Prometheus exposition endpoint until ctx ends.
func serveMetrics(ctx context.Context, addr string, registry *metric.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Command gateway runs the multiai gateway: an OpenAI-compatible HTTP
// server over the free-model fleet, an MCP comparison server on stdio, and
// a spending status report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/multiai/gateway/internal/compare"
	"github.com/multiai/gateway/internal/config"
	"github.com/multiai/gateway/internal/gateway"
	"github.com/multiai/gateway/internal/inspector"
	"github.com/multiai/gateway/internal/mcp"
	"github.com/multiai/gateway/internal/registry"
	"github.com/multiai/gateway/internal/spending"
	"github.com/multiai/gateway/internal/telemetry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "multiai",
		Short:         "Local gateway unifying free LLM providers behind one OpenAI-compatible API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "gateway.yaml", "path to the configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(mcpCmd(&configPath))
	root.AddCommand(spendingCmd(&configPath))
	return root
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func mcpCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the model comparison server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(*configPath)
		},
	}
}

func spendingCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "spending",
		Short: "Print judge spending status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpending(*configPath)
		},
	}
}

func newLogger(level string, w *os.File) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

func loadConfig(path string, logger *slog.Logger) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(path, logger)
	if err := loader.Load(); err != nil {
		return nil, nil, err
	}
	return loader, loader.Config(), nil
}

func runServe(configPath string) error {
	logger := newLogger("info", os.Stdout)
	loader, cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	logger = newLogger(cfg.Telemetry.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if registry.DetectPeer(ctx, "http://"+probeAddr(cfg)) {
		return fmt.Errorf("another multiai instance is already serving on %s", addr)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	regOpts := []registry.Option{registry.WithMetrics(metrics)}
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		regOpts = append(regOpts, registry.WithRedis(rdb))
	}
	reg := registry.New(cfg, logger, regOpts...)

	insp := inspector.New(cfg.Inspector.Enabled, cfg.Inspector.MaxTransactions)
	loader.OnReload(func() {
		insp.SetEnabled(loader.Config().Inspector.Enabled)
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload unavailable", slog.String("error", err.Error()))
	}

	handler := gateway.New(loader, reg, insp, metrics, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle(cfg.Telemetry.MetricsPath, promhttp.Handler())
	handler.Routes(r)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Warm the snapshot so the first client request does not pay for
	// discovery.
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.Registry.FetchTimeout)
		defer cancel()
		if _, err := reg.Snapshot(warmCtx, false); err != nil {
			logger.Warn("snapshot warmup failed", slog.String("error", err.Error()))
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// probeAddr is where a peer would answer. A wildcard bind is probed on
// loopback.
func probeAddr(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
}

func runMCP(configPath string) error {
	// stdout carries the protocol, so logs go to stderr.
	logger := newLogger("info", os.Stderr)
	loader, cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	logger = newLogger(cfg.Telemetry.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(cfg, logger)
	insp := inspector.New(cfg.Inspector.Enabled, cfg.Inspector.MaxTransactions)
	handler := gateway.New(loader, reg, insp, nil, logger)

	store, err := newSpendingStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	tracker := spending.NewTracker(store, trackerCaps(cfg), logger)

	var judge compare.Judge
	if cfg.APIKeys.OpenRouter != "" {
		judge = compare.NewPanel(judgeEndpoint(cfg), cfg.APIKeys.OpenRouter, logger)
	}
	comparator := compare.New(handler, judge, tracker, logger)

	logger.Info("mcp server ready")
	return mcp.NewServer(comparator, logger, os.Stdin, os.Stdout).Serve(ctx)
}

func runSpending(configPath string) error {
	logger := newLogger("warn", os.Stderr)
	_, cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newSpendingStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	status, err := spending.NewTracker(store, trackerCaps(cfg), logger).Status(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

// newSpendingStore picks Postgres when a DSN is configured, the embedded
// bolt file otherwise.
func newSpendingStore(ctx context.Context, cfg *config.Config) (spending.Store, error) {
	if cfg.Spending.DatabaseDSN != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return spending.NewPostgresStore(connectCtx, cfg.Spending.DatabaseDSN)
	}
	return spending.NewBoltStore(cfg.Spending.BoltPath)
}

func trackerCaps(cfg *config.Config) spending.Caps {
	return spending.Caps{
		Daily:         cfg.Spending.DailyCap,
		Monthly:       cfg.Spending.MonthlyCap,
		WarnAtPercent: cfg.Spending.WarnAtPercent,
	}
}

func judgeEndpoint(cfg *config.Config) string {
	return strings.TrimSuffix(cfg.Sources.OpenRouterURL, "/models")
}

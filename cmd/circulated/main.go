// Command circulated runs the circulation engine as a daemon: HTTP API,
// live event stream, scheduled catalog syncs, and webhook delivery, all
// configured from a YAML file that is watched for changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/api"
	"github.com/xraph/circulate/engine"
	"github.com/xraph/circulate/syncer"
	"github.com/xraph/circulate/webhook"
	"github.com/xraph/circulate/wire"
)

func main() {
	configPath := flag.String("config", "circulate.yaml", "path to the config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "circulated:", err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgMgr := NewConfigManager(configPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	c, err := circulate.New(
		circulate.WithStore(st),
		circulate.WithLogger(logger),
		circulate.WithConfig(engineConfig(cfg)),
	)
	if err != nil {
		st.Close()
		return err
	}

	eng, err := engine.Build(c, engineOptions(cfg, logger)...)
	if err != nil {
		st.Close()
		return fmt.Errorf("build engine: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		st.Close()
		return fmt.Errorf("start: %w", err)
	}

	mux := http.NewServeMux()
	api.New(eng, api.WithLogger(logger)).RegisterRoutes(mux)
	mux.Handle("GET /v1/stream", streamGateway(eng, cfg, logger))

	addr := cfg.Addr
	if addrOverride != "" {
		addr = addrOverride
	}
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go watchConfig(ctx, cfgMgr, eng, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopTimeout(c, cfg)
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	return c.Stop(shutCtx)
}

// engineConfig maps the file config onto the engine config, keeping
// defaults for anything unset.
func engineConfig(cfg *FileConfig) circulate.Config {
	conf := circulate.DefaultConfig()
	if cfg.Concurrency > 0 {
		conf.Concurrency = cfg.Concurrency
	}
	if cfg.LoanPeriod > 0 {
		conf.LoanPeriod = time.Duration(cfg.LoanPeriod)
	}
	if cfg.LoanLimit > 0 {
		conf.LoanLimit = cfg.LoanLimit
	}
	if cfg.SyncSchedule != "" {
		conf.SyncSchedule = cfg.SyncSchedule
	}
	if cfg.ShutdownTimeout > 0 {
		conf.ShutdownTimeout = time.Duration(cfg.ShutdownTimeout)
	}
	return conf
}

func engineOptions(cfg *FileConfig, logger *slog.Logger) []engine.Option {
	var opts []engine.Option

	if len(cfg.SyncSources) > 0 {
		sources := make([]syncer.Source, 0, len(cfg.SyncSources))
		for _, sc := range cfg.SyncSources {
			var srcOpts []syncer.HTTPSourceOption
			if sc.RateLimit > 0 {
				burst := sc.Burst
				if burst <= 0 {
					burst = 1
				}
				srcOpts = append(srcOpts, syncer.WithRateLimit(rate.Limit(sc.RateLimit), burst))
			}
			sources = append(sources, syncer.NewHTTPSource(sc.Name, sc.URL, srcOpts...))
		}
		opts = append(opts, engine.WithSyncSource(sources...))
	}

	if cfg.Webhook.URL != "" {
		whOpts := []webhook.Option{webhook.WithLogger(logger)}
		if cfg.Webhook.Secret != "" {
			whOpts = append(whOpts, webhook.WithSecret(cfg.Webhook.Secret))
		}
		if len(cfg.Webhook.Events) > 0 {
			whOpts = append(whOpts, webhook.WithEvents(cfg.Webhook.Events...))
		}
		opts = append(opts, engine.WithExtension(webhook.New(cfg.Webhook.URL, whOpts...)))
	}

	return opts
}

// streamGateway exposes the broker over WebSocket, with API key auth
// when keys are configured.
func streamGateway(eng *engine.Engine, cfg *FileConfig, logger *slog.Logger) http.Handler {
	opts := []wire.Option{wire.WithLogger(logger)}
	if len(cfg.APIKeys) > 0 {
		entries := make([]wire.APIKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, wire.APIKeyEntry{
				Name: k.Name,
				Hash: []byte(k.Hash),
				Identity: wire.Identity{
					Subject: k.Name,
					Scopes:  k.Scopes,
				},
			})
		}
		opts = append(opts, wire.WithAuth(wire.NewAPIKeyAuthenticator(entries...)))
	}
	return wire.NewGateway(eng.Broker(), opts...)
}

// watchConfig reloads the file on change and applies the settings that
// can move at runtime. Everything else needs a restart.
func watchConfig(ctx context.Context, cfgMgr *ConfigManager, eng *engine.Engine, logger *slog.Logger) {
	updates := cfgMgr.Subscribe(1)
	go func() {
		if err := cfgMgr.Watch(ctx); err != nil {
			logger.Error("config watch error", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-updates:
			if next.Concurrency > 0 {
				eng.SetConcurrency(ctx, next.Concurrency)
				logger.Info("config reloaded", "concurrency", next.Concurrency)
			}
		}
	}
}

func shutdownTimeout(cfg *FileConfig) time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return time.Duration(cfg.ShutdownTimeout)
	}
	return circulate.DefaultConfig().ShutdownTimeout
}

func stopTimeout(c *circulate.Circulator, cfg *FileConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	c.Stop(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

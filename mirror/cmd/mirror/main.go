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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/snapsync/mirror/internal/alerts"
	"github.com/obsidianstack/snapsync/mirror/internal/api"
	"github.com/obsidianstack/snapsync/mirror/internal/config"
	"github.com/obsidianstack/snapsync/mirror/internal/metrics"
	"github.com/obsidianstack/snapsync/mirror/internal/persist"
	"github.com/obsidianstack/snapsync/mirror/internal/supervisor"
	"github.com/obsidianstack/snapsync/mirror/internal/syncarray"
	"github.com/obsidianstack/snapsync/mirror/internal/upstream"
	"github.com/obsidianstack/snapsync/mirror/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("snapsync-mirror starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Mirror.Level())

	for _, cs := range upstream.CheckCerts(cfg.Mirror.Upstream.Auth, time.Now()) {
		if cs.Status != "valid" {
			slog.Warn("upstream certificate needs attention",
				"file", cs.File, "role", cs.Role, "status", cs.Status, "days_left", cs.DaysLeft)
		}
	}

	slog.Info("config loaded",
		"endpoint", cfg.Mirror.Upstream.Endpoint,
		"collection", cfg.Mirror.Upstream.Collection,
		"auth_mode", cfg.Mirror.Upstream.Auth.Mode,
		"http_port", cfg.Mirror.HTTPPort,
		"checkpoint", cfg.Mirror.Checkpoint.Backend,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	reg.MustRegister(collector, collectors.NewGoCollector())

	conn, err := upstream.Dial(ctx, cfg.Mirror.Upstream)
	if err != nil {
		slog.Error("failed to dial feed", "endpoint", cfg.Mirror.Upstream.Endpoint, "err", err)
		os.Exit(1)
	}
	defer conn.Close()
	src := upstream.New(conn, cfg.Mirror.Upstream)

	sup := supervisor.New(func() *supervisor.Array {
		return syncarray.NewRaw(src, syncarray.WithObserver(collector))
	}, cfg.Mirror.Reconnect.Initial, cfg.Mirror.Reconnect.Max)

	cp, err := persist.Open(cfg.Mirror.Checkpoint)
	if err != nil {
		slog.Error("failed to open checkpoint", "err", err)
		os.Exit(1)
	}
	if cp != nil {
		defer cp.Close()
		entries, err := cp.Load(ctx)
		switch {
		case err != nil:
			// Serving nothing until the first sync beats refusing to start.
			slog.Warn("failed to load checkpoint", "err", err)
		case entries != nil:
			sup.Restore(entries)
			slog.Info("checkpoint restored", "entries", len(entries))
		}
	}

	hub := ws.New(sup)
	sup.AddListener(hub)

	alertEngine := alerts.New(cfg.Mirror.Upstream.Collection, cfg.Mirror.Alerts)
	sup.AddListener(alertEngine)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(sup, reg, alertEngine, api.WithCerts(func() []upstream.CertStatus {
		return upstream.CheckCerts(cfg.Mirror.Upstream.Auth, time.Now())
	})))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Mirror.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sup.Run(ctx)
		return nil
	})

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if cp != nil {
		g.Go(func() error {
			persist.Run(ctx, cp, cfg.Mirror.Checkpoint.Interval, sup)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Mirror.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	// Only the log level is hot-reloaded; everything else needs a restart.
	g.Go(func() error {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Mirror.Level())
			slog.Info("config hot-reloaded", "log_level", updated.Mirror.LogLevel)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("snapsync-mirror shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
		alertEngine.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("snapsync-mirror stopped", "err", err)
		os.Exit(1)
	}
}

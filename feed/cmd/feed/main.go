package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/obsidianstack/snapsync/feed/internal/auth"
	"github.com/obsidianstack/snapsync/feed/internal/collection"
	"github.com/obsidianstack/snapsync/feed/internal/config"
	"github.com/obsidianstack/snapsync/feed/internal/server"
	"github.com/obsidianstack/snapsync/pkg/feedrpc"
)

const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload the collection file when it changes")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("snapsync-feed starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Feed.Level())

	slog.Info("config loaded",
		"grpc_port", cfg.Feed.GRPCPort,
		"collection", cfg.Feed.Collection.Name,
		"path", cfg.Feed.Collection.Path,
		"auth_mode", cfg.Feed.Auth.Mode,
		"send_buffer", cfg.Feed.SendBuffer,
	)

	items, err := collection.Load(cfg.Feed.Collection.Path)
	if err != nil {
		slog.Error("failed to load collection", "err", err)
		os.Exit(1)
	}
	coll := collection.New(cfg.Feed.Collection.Name, items)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	interceptor := auth.APIKeyStreamInterceptor(
		cfg.Feed.Auth.Mode,
		cfg.Feed.Auth.EffectiveHeader(),
		cfg.Feed.Auth.Key(),
	)
	grpcSrv := grpc.NewServer(grpc.StreamInterceptor(interceptor))
	feedrpc.RegisterFeedServer(grpcSrv, server.New(cfg.Feed.SendBuffer, coll))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Feed.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", cfg.Feed.GRPCPort, "err", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("feed listening", "port", cfg.Feed.GRPCPort, "items", len(items))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	// Only the log level is hot-reloaded; ports and auth need a restart.
	g.Go(func() error {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Feed.Level())
			slog.Info("config hot-reloaded", "log_level", updated.Feed.LogLevel)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	if *watch {
		g.Go(func() error {
			return collection.Watch(ctx, cfg.Feed.Collection.Path, coll)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("snapsync-feed shutting down")
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		// Subscribe streams never finish on their own.
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			grpcSrv.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("snapsync-feed stopped", "err", err)
		os.Exit(1)
	}
}

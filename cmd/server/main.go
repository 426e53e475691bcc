package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gyaneshwarpardhi/eventman/internal/api"
	"github.com/gyaneshwarpardhi/eventman/internal/config"
	"github.com/gyaneshwarpardhi/eventman/internal/resource"
	"github.com/gyaneshwarpardhi/eventman/internal/store"
	"github.com/gyaneshwarpardhi/eventman/internal/trigger"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("eventman", pflag.ContinueOnError)
	addr := flagSet.String("addr", ":5242", "HTTP listen address")
	cfgPath := flagSet.String("config", "", "path to YAML config file (defaults only when empty)")
	dataDir := flagSet.String("data", "", "data directory; triggers are read from <data>/triggers")
	mongoURL := flagSet.String("mongodb-url", "", "MongoDB connection URL; selects the mongodb storage driver")
	dbName := flagSet.String("db-name", "eventman", "MongoDB database name")
	debug := flagSet.Bool("debug", false, "enable debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Flags set on the command line win over the file on every (re)load.
	override := func(c *config.Config) {
		if flagSet.Changed("addr") {
			c.Server.Addr = *addr
		}
		if flagSet.Changed("data") {
			c.Triggers.Dir = filepath.Join(*dataDir, "triggers")
		}
		if flagSet.Changed("mongodb-url") {
			c.Storage.MongoDBURL = *mongoURL
			c.Storage.Driver = config.DriverMongoDB
		}
		if flagSet.Changed("db-name") {
			c.Storage.Database = *dbName
		}
		if *debug {
			c.Log.Level = "debug"
		}
	}

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath, override, logger)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if err := setLevel(level, cfg.Log.Level); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──────────────────────────────────────────────────────────────
	db, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := db.Close(closeCtx); err != nil {
			slog.Warn("store close failed", "err", err)
		}
	}()
	slog.Info("store ready", "driver", cfg.Storage.Driver)

	// ── Triggers ─────────────────────────────────────────────────────────────
	runner := trigger.New(ctx, trigger.Config{
		Dir:        cfg.Triggers.Dir,
		Timeout:    cfg.Triggers.Timeout(),
		Workers:    cfg.Triggers.Workers,
		QueueDepth: cfg.Triggers.QueueDepth,
	}, logger)
	slog.Info("trigger runner started", "dir", cfg.Triggers.Dir, "timeout", cfg.Triggers.Timeout(), "workers", cfg.Triggers.Workers)

	svc := resource.NewService(db, runner, logger)
	for _, k := range svc.Registry().Keys() {
		slog.Debug("sub-resource registered", "route", k.String())
	}

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		runner.Reconfigure(newCfg.Triggers.Dir, newCfg.Triggers.Timeout())
		if err := setLevel(level, newCfg.Log.Level); err != nil {
			slog.Warn("hot-reload: log level unchanged", "err", err)
		}
		slog.Info("config hot-reloaded", "trigger_dir", newCfg.Triggers.Dir, "trigger_timeout", newCfg.Triggers.Timeout(), "log_level", newCfg.Log.Level)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(svc, db, runner, logger),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // kill in-flight triggers
	runner.Shutdown()
	slog.Info("goodbye")
	return nil
}

func openStore(ctx context.Context, conf config.StorageConf) (store.Store, error) {
	switch conf.Driver {
	case config.DriverMongoDB:
		return store.NewMongo(ctx, store.MongoConfig{
			URL:      conf.MongoDBURL,
			Database: conf.Database,
			Timeout:  10 * time.Second,
		})
	default:
		return store.NewMemory(), nil
	}
}

func setLevel(v *slog.LevelVar, name string) error {
	lvl, err := config.ParseLevel(name)
	if err != nil {
		return err
	}
	v.Set(lvl)
	return nil
}

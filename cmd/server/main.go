package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/httpapi"
	"github.com/p-n-ai/pai-learn/internal/learning"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      app.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store, "lock", cfg.Lock)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// newLogger builds the process logger from LEARN_LOG_FORMAT and LEARN_LOG_LEVEL.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires the course catalogue, storage, locking and HTTP API chosen by cfg.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	checks := map[string]httpapi.HealthChecker{}

	courses, err := course.NewLoader(cfg.CoursesPath)
	if err != nil {
		return nil, err
	}

	feed := progression.NewBroadcaster()
	events := progression.MultiEventLogger{feed}
	svcCfg := learning.ServiceConfig{Courses: courses}

	if cfg.Store == config.StorePostgres {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := database.Migrate(ctx, db); err != nil {
			a.close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		store, err := progression.NewPostgresStore(db.Pool)
		if err != nil {
			a.close()
			return nil, err
		}
		svcCfg.Store = store
		events = append(events, progression.NewPostgresEventLogger(db.Pool))
		checks["database"] = db.HealthCheck
	}

	if cfg.Lock == config.LockRedis {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connecting to cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		svcCfg.Locker = c
		checks["cache"] = c.HealthCheck
	}

	svcCfg.Events = events
	svc, err := learning.NewService(svcCfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.handler = httpapi.New(httpapi.Config{
		Courses:  courses,
		Learning: svc,
		Feed:     feed,
		Checks:   checks,
	}).Handler()
	return a, nil
}

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

	"github.com/input-output-hk/catalyst-core-sub000/internal/eventdb"
	"github.com/input-output-hk/catalyst-core-sub000/internal/jcli"
	"github.com/input-output-hk/catalyst-core-sub000/internal/jormungandr"
	"github.com/input-output-hk/catalyst-core-sub000/internal/node"
	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/env"
	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/httpserver"
	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/metrics"
	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/objectstore"
	"github.com/input-output-hk/catalyst-core-sub000/internal/schedule"
	"github.com/input-output-hk/catalyst-core-sub000/internal/supervisor"
)

const service = "voting-node"

func main() {
	os.Exit(run())
}

func run() int {
	level, levelErr := env.LogLevel("VOTING_NODE_LOG_LEVEL", slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if levelErr != nil {
		logger.Error("invalid env", "error", levelErr)
		return 2
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("VOTING_NODE_HTTP_ADDR", ":8000")
	shutdownTimeout, err := env.Duration("VOTING_NODE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		return 2
	}
	supervisorCfg, err := supervisor.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		return 2
	}

	settings, err := node.SettingsFromEnv()
	if err != nil {
		logger.Error("invalid node settings", "error", err)
		return 2
	}
	// Role resolution failures are not retried.
	leadership, err := node.ResolveRole(settings.Hostname)
	if err != nil {
		logger.Error("invalid hostname", "hostname", settings.Hostname, "error", err)
		return 2
	}
	logger = logger.With("hostname", settings.Hostname, "role", leadership.String())

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		return 2
	}
	var mirror node.ArtifactMirror
	if storeCfg.Enabled() {
		m, err := objectstore.NewMirror(storeCfg)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			return 1
		}
		mirror = m
	}

	db := eventdb.New(logger, settings.Database)
	defer func() { _ = db.Close() }()

	ledger := jormungandr.New(logger, settings.JormPath)
	defer func() { _ = ledger.Stop() }()

	scheduleMetrics := metrics.NewSchedule(nil, leadership.String())

	sched, err := node.NewSchedule(node.Deps{
		Logger:     logger,
		Settings:   settings,
		Leadership: leadership,
		DB:         db,
		Keys:       jcli.New(settings.JCliPath),
		Ledger:     ledger,
		Mirror:     mirror,
		Observer:   scheduleMetrics,
	})
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		return 2
	}
	logger.Info("schedule built", "steps", len(sched.Steps()), "storage", settings.Storage, "database", settings.Database.Redacted())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(service, map[string]any{
		"hostname": settings.Hostname,
		"role":     leadership.String(),
	}))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			service,
			httpserver.ReadinessCheck{
				Name: "schedule",
				Check: func(context.Context) error {
					if state := sched.State(); state != schedule.StateCompleted {
						step, _ := sched.Current()
						return fmt.Errorf("schedule %s at step %q", state, step)
					}
					return nil
				},
			},
		),
	)
	mux.Handle("/metrics", scheduleMetrics.Handler())

	httpCfg := httpserver.Config{
		Service:         service,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	liveness := func(ctx context.Context) error {
		return httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, service, mux))
	}

	if err := supervisor.New(logger, supervisorCfg, sched, liveness).Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("voting node failed", "error", err)
		return 1
	}
	return 0
}

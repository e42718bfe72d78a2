// Package supervisor keeps retrying a node schedule next to the liveness
// server until the schedule completes or the server stops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/env"
	"github.com/input-output-hk/catalyst-core-sub000/internal/schedule"
)

type Config struct {
	RetryInterval time.Duration
}

func ConfigFromEnv() (Config, error) {
	interval, err := env.Duration("VOTING_NODE_RETRY_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{RetryInterval: interval}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RetryInterval <= 0 {
		return errors.New("VOTING_NODE_RETRY_INTERVAL must be positive")
	}
	return nil
}

// Schedule is the pipeline being supervised.
type Schedule interface {
	Run(ctx context.Context) error
}

// Liveness serves until ctx is done or it fails. Its return stops the
// supervisor.
type Liveness func(ctx context.Context) error

var errStopped = errors.New("supervisor stopped")

type Supervisor struct {
	logger   *slog.Logger
	cfg      Config
	schedule Schedule
	liveness Liveness
	running  *atomic.Bool
}

func New(logger *slog.Logger, cfg Config, sched Schedule, liveness Liveness) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger:   logger,
		cfg:      cfg,
		schedule: sched,
		liveness: liveness,
		running:  atomic.NewBool(true),
	}
}

// Running reports whether new schedule attempts may still start.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Run blocks until both the liveness server and the retry loop are done. A
// schedule that completes leaves the liveness server up.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.schedule == nil || s.liveness == nil {
		return errors.New("schedule and liveness are required")
	}

	stopCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.liveness(gctx)
		s.running.Store(false)
		stop()
		if err != nil {
			return fmt.Errorf("liveness: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.retry(stopCtx)
	})
	return g.Wait()
}

// retry runs the schedule until it succeeds. Every unsuccessful attempt,
// a requested restart included, waits the retry interval. ctx only bounds
// the waits between attempts, never a running step.
func (s *Supervisor) retry(ctx context.Context) error {
	attempts := 0
	op := func() error {
		if !s.running.Load() {
			return backoff.Permanent(errStopped)
		}
		attempts++
		return s.schedule.Run(context.WithoutCancel(ctx))
	}
	notify := func(err error, wait time.Duration) {
		if errors.Is(err, schedule.ErrRestartRequested) {
			s.logger.Info("schedule restart", "attempt", attempts, "reason", err, "retry_in", wait.String())
			return
		}
		s.logger.Error("schedule failed", "attempt", attempts, "error", err, "retry_in", wait.String())
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.RetryInterval), ctx)
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		s.logger.Info("schedule completed", "attempts", attempts)
		return nil
	case errors.Is(err, errStopped), errors.Is(err, context.Canceled):
		s.logger.Info("supervisor stopped", "attempts", attempts)
		return nil
	default:
		return err
	}
}

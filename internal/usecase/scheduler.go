package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"FeedSentry/internal/ports"
)

// Scheduler wires the periodic drivers with the sweep and digest use cases.
type Scheduler struct {
	pollDriver   ports.Scheduler
	digestDriver ports.Scheduler
	poller       *Poller
	digest       *Digest
	logger       *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs. Nil drivers or use cases are skipped.
func NewScheduler(pollDriver, digestDriver ports.Scheduler, poller *Poller, digest *Digest, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pollDriver:   pollDriver,
		digestDriver: digestDriver,
		poller:       poller,
		digest:       digest,
		logger:       logger.With("component", "scheduler"),
	}
}

// Start registers the sweep and the digest tick with their drivers.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.pollDriver != nil && s.poller != nil {
		err := s.pollDriver.Start(ctx, func(time.Time) {
			if _, err := s.poller.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) && ctx.Err() == nil {
				s.logger.Error("scheduled sweep failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
	}

	if s.digestDriver != nil && s.digest != nil {
		err := s.digestDriver.Start(ctx, func(time.Time) {
			if _, err := s.digest.Tick(ctx); err != nil && !errors.Is(err, ErrDigestInProgress) && ctx.Err() == nil {
				s.logger.Error("scheduled digest failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully tears down the underlying drivers.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	if s.pollDriver != nil {
		errs = append(errs, s.pollDriver.Stop(ctx))
	}
	if s.digestDriver != nil {
		errs = append(errs, s.digestDriver.Stop(ctx))
	}
	return errors.Join(errs...)
}

// Package scheduler drives all account pollers on a fixed interval and
// aggregates their outcomes into the shared service status.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ylr9527/mail-wx/internal/poller"
	"github.com/ylr9527/mail-wx/internal/status"
)

// ErrAlreadyChecking is returned by RunAll when a full pass is already in
// flight. Scheduled ticks treat it as a skip; the control surface reports
// it to the caller.
var ErrAlreadyChecking = errors.New("a check is already in progress")

// passTimeout bounds every full pass, scheduled or triggered, so a hung
// account cannot pin the global gate forever.
const passTimeout = 5 * time.Minute

// Scheduler runs every configured account poller on a timer. Account
// cycles within one pass run concurrently; the per-account guards and the
// global in-progress gate prevent overlap.
type Scheduler struct {
	pollers  []*poller.Poller
	interval time.Duration
	status   *status.Status
	logger   *slog.Logger
}

// New creates a Scheduler.
func New(pollers []*poller.Poller, interval time.Duration, st *status.Status, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pollers:  pollers,
		interval: interval,
		status:   st,
		logger:   logger,
	}
}

// Run polls on the configured interval until ctx is cancelled. The first
// pass starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler starting", "accounts", len(s.pollers), "interval", s.interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()

	err := s.RunAll(ctx)
	switch {
	case errors.Is(err, ErrAlreadyChecking):
		// Previous pass overran the interval; skip, don't queue.
		s.logger.Info("previous pass still running, skipping tick")
	case err != nil:
		s.logger.Error("pass finished with errors", "error", err)
	}
}

// RunAll synchronously runs one full pass over all accounts and records
// the aggregate outcome. It returns ErrAlreadyChecking when another pass
// holds the gate.
func (s *Scheduler) RunAll(ctx context.Context) error {
	cycleID := uuid.NewString()
	if !s.status.BeginCheck(cycleID) {
		return ErrAlreadyChecking
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(s.pollers))
	for _, p := range s.pollers {
		wg.Add(1)
		go func(p *poller.Poller) {
			defer wg.Done()
			if _, err := p.RunCycle(ctx); err != nil {
				errCh <- err
			}
		}(p)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	s.status.EndCheck(err)
	return err
}

// Trigger starts a background pass and returns immediately. A pass that
// is already running makes the trigger a no-op.
func (s *Scheduler) Trigger() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
		defer cancel()
		if err := s.RunAll(ctx); err != nil && !errors.Is(err, ErrAlreadyChecking) {
			s.logger.Error("triggered pass finished with errors", "error", err)
		}
	}()
}

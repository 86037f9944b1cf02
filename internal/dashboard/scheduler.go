package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"example.com/presence/internal/domain"
)

// Scheduler reconciles every configured group on a fixed interval.
type Scheduler struct {
	reconciler       *Reconciler
	configs          domain.ConfigStore
	interval         time.Duration
	logger           zerolog.Logger
	shutdownComplete chan struct{}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(reconciler *Reconciler, configs domain.ConfigStore, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		reconciler:       reconciler,
		configs:          configs,
		interval:         interval,
		logger:           logger,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the ticker loop. It should be called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until the scheduler stops.
func (s *Scheduler) Wait() {
	<-s.shutdownComplete
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	listCtx, cancel := context.WithTimeout(ctx, s.reconciler.callTimeout)
	groups, err := s.configs.ListGroups(listCtx)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("dashboard scheduler could not list groups")
		return
	}

	// Passes already started finish even if shutdown begins; their calls are bounded.
	passCtx := context.WithoutCancel(ctx)
	for _, group := range groups {
		if ctx.Err() != nil {
			return
		}
		if s.reconciler.Target(group) == "" && !group.Pointer.HasMessage() {
			continue
		}

		err := s.reconciler.TryReconcile(passCtx, group.GroupID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrReconcileInFlight):
			s.logger.Debug().Str("group_id", group.GroupID).Msg("dashboard pass still in flight, skipping tick")
		default:
			s.logger.Error().Err(err).Str("group_id", group.GroupID).Msg("dashboard reconcile failed")
		}
	}
}

// Package scheduler runs the reconciliation sweep: a periodic safety net that
// triggers every due occurrence whose timer was lost, never armed, or fired
// into a dead process.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"remindd/internal/contract"
)

const (
	DefaultSweepInterval = 5 * time.Minute

	// sweepWorkers bounds concurrent dispatches within one pass.
	sweepWorkers = 4
)

type Sweeper struct {
	store      contract.ReminderStore
	dispatcher contract.Dispatcher
	interval   time.Duration
	log        zerolog.Logger
	notifyCh   chan struct{}
}

func New(store contract.ReminderStore, dispatcher contract.Dispatcher, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		log:        log.With().Str("component", "sweeper").Logger(),
		notifyCh:   make(chan struct{}, 1),
	}
}

// Notify requests an immediate sweep. Non-blocking if one is already pending.
func (s *Sweeper) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Wait a bit for migrations and timer re-arming to settle before the
	// first pass.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.notifyCh:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass: every untriggered occurrence whose
// fire_at has passed goes through the dispatcher. The dispatcher's
// compare-and-set makes racing a concurrently firing timer harmless.
func (s *Sweeper) Sweep(ctx context.Context) {
	due, err := s.store.DueNotTriggered(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to query due reminders")
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Info().Int("due", len(due)).Msg("sweeping missed reminders")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepWorkers)
	for _, r := range due {
		id := r.ID
		g.Go(func() error {
			if _, err := s.dispatcher.Trigger(ctx, id); err != nil {
				s.log.Error().Err(err).Str("reminder_id", id).Msg("sweep trigger failed")
			}
			return nil
		})
	}
	g.Wait()
}

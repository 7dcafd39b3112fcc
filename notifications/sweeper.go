// notifications/sweeper.go
package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const sweepBatchSize = 200

// Reminder sends reminders for cases waiting on approvers longer than olderThan.
type Reminder interface {
	RemindPendingApprovals(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically hands due failed notifications back to the retrier,
// which also picks up records left behind by a restart, and sends pending
// approval reminders.
type Sweeper struct {
	store            Store
	retrier          *Retrier
	reminder         Reminder
	interval         time.Duration
	reminderInterval time.Duration
	logger           zerolog.Logger
	now              func() time.Time
}

// NewSweeper builds a sweeper. reminder may be nil; reminderInterval <= 0 disables reminders.
func NewSweeper(store Store, retrier *Retrier, reminder Reminder, interval, reminderInterval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:            store,
		retrier:          retrier,
		reminder:         reminder,
		interval:         interval,
		reminderInterval: reminderInterval,
		logger:           logger.With().Str("component", "notifications.sweeper").Logger(),
		now:              time.Now,
	}
}

// Run loops until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	sweep := time.NewTicker(s.interval)
	defer sweep.Stop()

	var remind <-chan time.Time
	if s.reminder != nil && s.reminderInterval > 0 {
		t := time.NewTicker(s.reminderInterval)
		defer t.Stop()
		remind = t.C
	}

	s.logger.Info().Dur("interval", s.interval).Dur("reminder_interval", s.reminderInterval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n, err := s.SweepFailed(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("failed notification sweep")
			} else if n > 0 {
				s.logger.Info().Int("scheduled", n).Msg("failed notifications rescheduled")
			}
		case <-remind:
			if n, err := s.reminder.RemindPendingApprovals(ctx, s.reminderInterval); err != nil {
				s.logger.Warn().Err(err).Msg("pending approval reminders")
			} else if n > 0 {
				s.logger.Info().Int("cases", n).Msg("pending approval reminders sent")
			}
		}
	}
}

// SweepFailed schedules every due failed record and every stale pending record,
// and returns how many were scheduled.
func (s *Sweeper) SweepFailed(ctx context.Context) (int, error) {
	now := s.now().UTC()
	staleBefore := now.Add(-s.retrier.d.Policy().StaleAfter())
	due, err := s.store.ListRetryable(ctx, now, staleBefore, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, n := range due {
		if s.retrier.Schedule(n.ID, s.now()) {
			scheduled++
		}
	}
	return scheduled, nil
}

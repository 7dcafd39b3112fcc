// notifications/retrier.go
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"leaseexit/models"
)

// Retrier redelivers failed notifications in the background until they are
// sent or their retry budget is spent. Retries are detached from the request
// that caused them and stop when the retrier's context ends.
type Retrier struct {
	d      *Dispatcher
	logger zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	inflight map[primitive.ObjectID]bool
	wg       sync.WaitGroup
}

func NewRetrier(d *Dispatcher, logger zerolog.Logger) *Retrier {
	return &Retrier{
		d:        d,
		logger:   logger.With().Str("component", "notifications.retrier").Logger(),
		inflight: make(map[primitive.ObjectID]bool),
	}
}

// Start enables scheduling. Retries run until ctx is done.
func (r *Retrier) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

// Schedule queues a retry of id at the given time. It returns false when the
// retrier is not started, is stopping, or already tracks id.
func (r *Retrier) Schedule(id primitive.ObjectID, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil || r.ctx.Err() != nil || r.inflight[id] {
		return false
	}
	r.inflight[id] = true
	r.wg.Add(1)
	go r.run(r.ctx, id, at)
	return true
}

// Pending returns the number of records currently tracked.
func (r *Retrier) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Wait blocks until every scheduled retry has returned.
func (r *Retrier) Wait() {
	r.wg.Wait()
}

func (r *Retrier) run(ctx context.Context, id primitive.ObjectID, at time.Time) {
	defer func() {
		r.mu.Lock()
		delete(r.inflight, id)
		r.mu.Unlock()
		r.wg.Done()
	}()

	for {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		n, err := r.d.Redeliver(ctx, id)
		if n == nil {
			r.logger.Warn().Err(err).Str("notification_id", id.Hex()).Msg("retry aborted, record unavailable")
			return
		}
		switch {
		case n.Status == models.NotificationSent:
			r.logger.Info().Str("notification_id", id.Hex()).Int("attempts", n.Attempts).Msg("notification delivered on retry")
			return
		case n.Exhausted:
			r.logger.Warn().Str("notification_id", id.Hex()).Int("attempts", n.Attempts).Str("last_error", n.LastError).
				Msg("notification retries exhausted")
			return
		case n.NextAttemptAt == nil:
			return
		}
		at = *n.NextAttemptAt
	}
}

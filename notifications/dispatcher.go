// Package notifications records and delivers workflow notifications, one
// record per recipient role, and retries failed deliveries in the background.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"leaseexit/models"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrNotResendable is returned when a manual resend targets a record that did not fail.
	ErrNotResendable = errors.New("only failed notifications can be resent")
	// ErrDeliveryFailure wraps channel errors.
	ErrDeliveryFailure = errors.New("delivery failure")
)

// Store persists notification records.
type Store interface {
	Insert(ctx context.Context, n *models.Notification) error
	Update(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Notification, error)
	ListByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.Notification, error)
	ListByRole(ctx context.Context, role models.Role, status models.NotificationStatus) ([]models.Notification, error)
	// ListRetryable returns failed, not exhausted records due at or before now,
	// and pending records last updated at or before staleBefore.
	ListRetryable(ctx context.Context, now, staleBefore time.Time, limit int64) ([]models.Notification, error)
}

// Request asks for one notification per recipient role.
type Request struct {
	CaseID     primitive.ObjectID
	Event      string
	Recipients []models.Role
	Subject    string
	Message    string
}

// Batch is the set of records created by one Notify call.
type Batch struct {
	ID            string                `json:"id"`
	CaseID        primitive.ObjectID    `json:"caseId"`
	Notifications []models.Notification `json:"notifications"`
}

// Recipients lists the roles of the batch in request order.
func (b *Batch) Recipients() []models.Role {
	out := make([]models.Role, 0, len(b.Notifications))
	for _, n := range b.Notifications {
		out = append(out, n.RecipientRole)
	}
	return out
}

// Count returns how many records of the batch are in status.
func (b *Batch) Count(status models.NotificationStatus) int {
	c := 0
	for _, n := range b.Notifications {
		if n.Status == status {
			c++
		}
	}
	return c
}

// Policy holds delivery and retry settings.
type Policy struct {
	// MaxRetries counts attempts after the first one.
	MaxRetries      int
	Backoff         time.Duration
	MaxBackoff      time.Duration
	DeliveryTimeout time.Duration
	Workers         int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		Backoff:         30 * time.Second,
		MaxBackoff:      30 * time.Minute,
		DeliveryTimeout: 15 * time.Second,
		Workers:         4,
	}
}

// Delay is the wait before the retry following the given attempt number
// (1 for the first attempt). It doubles per attempt and is capped by MaxBackoff.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// StaleAfter is how long a record may stay pending before it counts as
// abandoned, for example after a crash between insert and delivery.
func (p Policy) StaleAfter() time.Duration {
	if p.DeliveryTimeout <= 0 {
		return time.Minute
	}
	return 2 * p.DeliveryTimeout
}

type Dispatcher struct {
	store     Store
	channel   Channel
	directory Directory
	policy    Policy
	logger    zerolog.Logger
	retrier   *Retrier
	now       func() time.Time
}

func NewDispatcher(store Store, channel Channel, directory Directory, policy Policy, logger zerolog.Logger) *Dispatcher {
	if policy.Workers <= 0 {
		policy.Workers = 1
	}
	return &Dispatcher{
		store:     store,
		channel:   channel,
		directory: directory,
		policy:    policy,
		logger:    logger.With().Str("component", "notifications").Logger(),
		now:       time.Now,
	}
}

// UseRetrier hands failed deliveries to r. Without one, failed records wait for the sweeper.
func (d *Dispatcher) UseRetrier(r *Retrier) {
	d.retrier = r
}

func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Notify creates one pending record per recipient and delivers them
// concurrently. Delivery failures never fail the call; they leave the record
// failed and scheduled for retry. A recipient whose record cannot be stored is
// skipped; the others are still delivered and the returned error names every
// skipped role.
func (d *Dispatcher) Notify(ctx context.Context, req Request) (*Batch, error) {
	batch := &Batch{
		ID:            uuid.NewString(),
		CaseID:        req.CaseID,
		Notifications: make([]models.Notification, 0, len(req.Recipients)),
	}

	now := d.now().UTC()
	var insertErrs []error
	for _, role := range req.Recipients {
		n := models.Notification{
			ID:            primitive.NewObjectID(),
			BatchID:       batch.ID,
			CaseID:        req.CaseID,
			RecipientRole: role,
			Event:         req.Event,
			Subject:       req.Subject,
			Message:       req.Message,
			Status:        models.NotificationPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := d.store.Insert(ctx, &n); err != nil {
			d.logger.Error().Err(err).
				Str("case_id", req.CaseID.Hex()).
				Str("role", string(role)).
				Msg("failed to store notification")
			insertErrs = append(insertErrs, fmt.Errorf("store notification for %s: %w", role, err))
			continue
		}
		batch.Notifications = append(batch.Notifications, n)
	}

	var g errgroup.Group
	g.SetLimit(d.policy.Workers)
	for i := range batch.Notifications {
		n := &batch.Notifications[i]
		g.Go(func() error {
			if err := d.attempt(ctx, n); err != nil {
				d.logger.Warn().Err(err).
					Str("case_id", req.CaseID.Hex()).
					Str("role", string(n.RecipientRole)).
					Str("notification_id", n.ID.Hex()).
					Msg("notification delivery failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, n := range batch.Notifications {
		if n.Status == models.NotificationFailed && !n.Exhausted && d.retrier != nil {
			d.retrier.Schedule(n.ID, *n.NextAttemptAt)
		}
	}

	d.logger.Info().
		Str("case_id", req.CaseID.Hex()).
		Str("batch_id", batch.ID).
		Str("event", req.Event).
		Int("sent", batch.Count(models.NotificationSent)).
		Int("failed", batch.Count(models.NotificationFailed)).
		Int("unstored", len(insertErrs)).
		Msg("notifications dispatched")
	return batch, errors.Join(insertErrs...)
}

// attempt delivers n once and stores the result. It returns the delivery error, if any.
func (d *Dispatcher) attempt(ctx context.Context, n *models.Notification) error {
	deliverErr := d.deliver(ctx, n)

	now := d.now().UTC()
	n.Attempts++
	n.UpdatedAt = now
	if deliverErr == nil {
		n.Status = models.NotificationSent
		n.SentAt = &now
		n.LastError = ""
		n.NextAttemptAt = nil
	} else {
		n.Status = models.NotificationFailed
		n.LastError = deliverErr.Error()
		if n.Attempts > d.policy.MaxRetries {
			n.Exhausted = true
			n.NextAttemptAt = nil
		} else {
			next := now.Add(d.policy.Delay(n.Attempts))
			n.NextAttemptAt = &next
		}
	}

	if err := d.store.Update(context.WithoutCancel(ctx), n); err != nil {
		d.logger.Error().Err(err).Str("notification_id", n.ID.Hex()).Msg("failed to store delivery result")
	}
	return deliverErr
}

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) error {
	if d.directory != nil {
		emails, err := d.directory.Emails(ctx, n.RecipientRole)
		if err != nil {
			return fmt.Errorf("%w: resolve recipients for %s: %v", ErrDeliveryFailure, n.RecipientRole, err)
		}
		n.RecipientEmails = emails
	}

	if d.policy.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.policy.DeliveryTimeout)
		defer cancel()
	}
	if err := d.channel.Deliver(ctx, messageFor(n)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailure, d.channel.Name(), err)
	}
	return nil
}

// Redeliver makes one more attempt on a failed record, or on a pending one
// left behind longer than StaleAfter, as the retrier and the sweeper do.
// Anything else is left alone.
func (d *Dispatcher) Redeliver(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	n, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.redeliverable(n) {
		return n, nil
	}
	err = d.attempt(ctx, n)
	return n, err
}

func (d *Dispatcher) redeliverable(n *models.Notification) bool {
	switch n.Status {
	case models.NotificationFailed:
		return !n.Exhausted
	case models.NotificationPending:
		return !n.UpdatedAt.After(d.now().UTC().Add(-d.policy.StaleAfter()))
	}
	return false
}

// Resend appends a new record for the same case, recipient and content as a
// failed one and delivers it. The failed record keeps its status; the new one
// points back at it through ResendOf.
func (d *Dispatcher) Resend(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	orig, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.NotificationFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResendable, id.Hex(), orig.Status)
	}

	now := d.now().UTC()
	origID := orig.ID
	n := models.Notification{
		ID:            primitive.NewObjectID(),
		BatchID:       uuid.NewString(),
		CaseID:        orig.CaseID,
		RecipientRole: orig.RecipientRole,
		Event:         orig.Event,
		Subject:       orig.Subject,
		Message:       orig.Message,
		Status:        models.NotificationPending,
		ResendOf:      &origID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.Insert(ctx, &n); err != nil {
		return nil, fmt.Errorf("store resent notification: %w", err)
	}

	if err := d.attempt(ctx, &n); err != nil {
		d.logger.Warn().Err(err).Str("notification_id", n.ID.Hex()).Str("resend_of", origID.Hex()).Msg("resend failed")
		if !n.Exhausted && d.retrier != nil {
			d.retrier.Schedule(n.ID, *n.NextAttemptAt)
		}
	}
	return &n, nil
}

func (d *Dispatcher) ListByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.Notification, error) {
	return d.store.ListByCase(ctx, caseID)
}

func (d *Dispatcher) ListByRole(ctx context.Context, role models.Role, status models.NotificationStatus) ([]models.Notification, error) {
	return d.store.ListByRole(ctx, role, status)
}

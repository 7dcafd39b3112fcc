// workflow/engine.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"leaseexit/forms"
	"leaseexit/lock"
	"leaseexit/models"
	"leaseexit/notifications"
)

// CaseStore persists cases. Get and Update report ErrCaseNotFound; Update
// reports ErrPersistenceConflict when the stored version moved on.
type CaseStore interface {
	Insert(ctx context.Context, c *models.Case) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Case, error)
	List(ctx context.Context, f models.CaseFilter) ([]models.Case, error)
	Update(ctx context.Context, c *models.Case, expectedVersion int64) error
	MarkHalted(ctx context.Context, id primitive.ObjectID, reason string) error
}

type FormValidator interface {
	Validate(formType string, data map[string]interface{}) (forms.Result, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notifications.Request) (*notifications.Batch, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

// CaseUpdate is pushed to live clients after every accepted event.
type CaseUpdate struct {
	Type      string            `json:"type"`
	CaseID    string            `json:"caseId"`
	LeaseID   string            `json:"leaseId"`
	Event     EventKind         `json:"event"`
	From      models.Step       `json:"from"`
	To        models.Step       `json:"to"`
	Status    models.CaseStatus `json:"status"`
	Actor     models.Role       `json:"actor"`
	Notified  []models.Role     `json:"notified,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type Broadcaster interface {
	BroadcastCaseUpdate(u CaseUpdate)
}

// Actor identifies the caller. The role is never taken from ambient state.
type Actor struct {
	UserID string
	Role   models.Role
}

// Result is what a mutation returns.
type Result struct {
	Case     *models.Case         `json:"case"`
	Outcome  Outcome              `json:"-"`
	Batch    *notifications.Batch `json:"notifications,omitempty"`
	Warnings []forms.FieldError   `json:"warnings,omitempty"`
}

// Engine runs workflow events against stored cases. Events on one case are
// serialized in process by a per-case lock; across processes the version
// check on Update rejects the slower writer.
type Engine struct {
	machine     *Machine
	cases       CaseStore
	forms       FormValidator
	notifier    Notifier
	audit       AuditStore
	broadcaster Broadcaster
	locks       *lock.KeyedMutex
	logger      zerolog.Logger
	now         func() time.Time
}

func NewEngine(policy *Policy, cases CaseStore, validator FormValidator, notifier Notifier, audit AuditStore, logger zerolog.Logger) *Engine {
	return &Engine{
		machine:  NewMachine(policy),
		cases:    cases,
		forms:    validator,
		notifier: notifier,
		audit:    audit,
		locks:    lock.NewKeyedMutex(),
		logger:   logger.With().Str("component", "workflow").Logger(),
		now:      time.Now,
	}
}

// SetBroadcaster enables live case updates.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

func (e *Engine) Policy() *Policy {
	return e.machine.Policy()
}

// CreateCase validates the initial form, stores the case and moves it past
// the initial step.
func (e *Engine) CreateCase(ctx context.Context, actor Actor, in models.CaseInput) (*Result, error) {
	creation := e.machine.Policy().Creation()
	data := in.FormData()

	check, err := e.forms.Validate(creation.FormType, data)
	if err != nil {
		return nil, err
	}

	now := e.now()
	c := e.machine.NewCase(in, actor.UserID, actor.Role, now)
	c.ID = primitive.NewObjectID()

	ev := Event{Kind: EventCaseCreated, Role: actor.Role, FormType: creation.FormType}
	if _, err := e.machine.Resolve(c, ev); err != nil {
		return nil, err
	}
	if !check.Valid {
		return nil, &ValidationError{FormType: creation.FormType, Errors: check.Errors}
	}

	out, err := e.machine.Apply(c, ev, now)
	if err != nil {
		return nil, err
	}
	c.Forms = append(c.Forms, submission(creation.FormType, data, actor.Role, now))

	unlock := e.locks.Lock(c.ID.Hex())
	defer unlock()

	if err := e.cases.Insert(ctx, c); err != nil {
		return nil, err
	}
	e.logger.Info().Str("case_id", c.ID.Hex()).Str("lease_id", c.LeaseID).Msg("lease exit case created")

	res := e.finish(ctx, c, actor, ev, out, bson.M{"leaseId": c.LeaseID})
	res.Warnings = check.Warnings
	return res, nil
}

// SubmitForm validates data and routes it through the form_submitted
// transition of the case's current step. An invalid submission leaves the case untouched.
func (e *Engine) SubmitForm(ctx context.Context, actor Actor, caseID primitive.ObjectID, formType string, data map[string]interface{}) (*Result, error) {
	check, err := e.forms.Validate(formType, data)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(caseID.Hex())
	defer unlock()

	c, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	ev := Event{Kind: EventFormSubmitted, Role: actor.Role, FormType: formType}
	if _, err := e.machine.Resolve(c, ev); err != nil {
		return nil, err
	}
	if !check.Valid {
		return nil, &ValidationError{FormType: formType, Errors: check.Errors}
	}

	now := e.now()
	expected := c.Version
	out, err := e.machine.Apply(c, ev, now)
	if err != nil {
		return nil, err
	}
	c.Forms = append(c.Forms, submission(formType, data, actor.Role, now))

	if err := e.cases.Update(ctx, c, expected); err != nil {
		return nil, err
	}

	res := e.finish(ctx, c, actor, ev, out, bson.M{"formType": formType})
	res.Warnings = check.Warnings
	return res, nil
}

// RecordApproval records one approver decision. The case only moves when the
// decision closes the approval phase.
func (e *Engine) RecordApproval(ctx context.Context, actor Actor, caseID primitive.ObjectID, decision models.Decision, comments string) (*Result, error) {
	unlock := e.locks.Lock(caseID.Hex())
	defer unlock()

	c, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}

	ev := Event{Kind: EventApprovalRecorded, Role: actor.Role, Decision: decision, Comments: comments}
	expected := c.Version
	out, err := e.machine.Apply(c, ev, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.cases.Update(ctx, c, expected); err != nil {
		return nil, err
	}

	return e.finish(ctx, c, actor, ev, out, bson.M{
		"decision": decision,
		"verdict":  out.Verdict,
		"comments": comments,
	}), nil
}

// RequestRevision reopens a rejected case.
func (e *Engine) RequestRevision(ctx context.Context, actor Actor, caseID primitive.ObjectID, comments string) (*Result, error) {
	unlock := e.locks.Lock(caseID.Hex())
	defer unlock()

	c, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}

	ev := Event{Kind: EventRevisionRequested, Role: actor.Role, Comments: comments}
	expected := c.Version
	out, err := e.machine.Apply(c, ev, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.cases.Update(ctx, c, expected); err != nil {
		return nil, err
	}

	return e.finish(ctx, c, actor, ev, out, bson.M{"comments": comments}), nil
}

func (e *Engine) GetCase(ctx context.Context, id primitive.ObjectID) (*models.Case, error) {
	return e.cases.Get(ctx, id)
}

func (e *Engine) ListCases(ctx context.Context, f models.CaseFilter) ([]models.Case, error) {
	return e.cases.List(ctx, f)
}

// RemindPendingApprovals notifies outstanding approvers of cases that have
// waited in the approval phase for longer than olderThan. It returns the number
// of cases reminded.
func (e *Engine) RemindPendingApprovals(ctx context.Context, olderThan time.Duration) (int, error) {
	cases, err := e.cases.List(ctx, models.CaseFilter{
		Step:          e.machine.Policy().Approval.From,
		UpdatedBefore: e.now().Add(-olderThan),
		Limit:         500,
	})
	if err != nil {
		return 0, fmt.Errorf("list cases awaiting approval: %w", err)
	}

	reminded := 0
	for i := range cases {
		c := &cases[i]
		roles, subject, message, ok, err := e.machine.Reminder(c)
		if err != nil {
			e.logger.Warn().Err(err).Str("case_id", c.ID.Hex()).Msg("render approval reminder")
			continue
		}
		if !ok {
			continue
		}
		batch, err := e.notifier.Notify(ctx, notifications.Request{
			CaseID:     c.ID,
			Event:      "approval_reminder",
			Recipients: roles,
			Subject:    subject,
			Message:    message,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("case_id", c.ID.Hex()).Msg("approval reminder not fully stored")
		}
		if batch == nil || len(batch.Notifications) == 0 {
			continue
		}
		reminded++
	}
	return reminded, nil
}

// load fetches a case and refuses to go on with one whose state cannot be
// processed. A corrupt case is halted so later events fail fast.
func (e *Engine) load(ctx context.Context, id primitive.ObjectID) (*models.Case, error) {
	c, err := e.cases.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.machine.Check(c); err != nil {
		if errors.Is(err, ErrCorruptState) {
			e.logger.Error().Err(err).
				Str("case_id", id.Hex()).
				Str("step", string(c.Workflow.CurrentStep)).
				Msg("corrupt workflow state, halting case")
			if herr := e.cases.MarkHalted(ctx, id, err.Error()); herr != nil {
				e.logger.Error().Err(herr).Str("case_id", id.Hex()).Msg("failed to halt case")
			}
		}
		return nil, err
	}
	return c, nil
}

// finish runs the side effects of a persisted event: notifications, audit and
// live update. None of them can fail the event.
func (e *Engine) finish(ctx context.Context, c *models.Case, actor Actor, ev Event, out Outcome, details bson.M) *Result {
	res := &Result{Case: c, Outcome: out}

	if len(out.Notify) > 0 && e.notifier != nil {
		batch, err := e.notifier.Notify(ctx, notifications.Request{
			CaseID:     c.ID,
			Event:      string(out.To),
			Recipients: out.Notify,
			Subject:    out.Subject,
			Message:    out.Message,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("case_id", c.ID.Hex()).Str("step", string(out.To)).Msg("notification dispatch incomplete")
		}
		res.Batch = batch
	}

	if details == nil {
		details = bson.M{}
	}
	details["from"] = out.From
	details["to"] = out.To
	if len(out.Notify) > 0 {
		details["notified"] = out.Notify
	}
	e.appendAudit(ctx, &models.AuditLog{
		CaseID:    c.ID,
		UserID:    actor.UserID,
		Role:      actor.Role,
		Action:    string(ev.Kind),
		Details:   details,
		CreatedAt: e.now().UTC(),
	})

	if e.broadcaster != nil {
		e.broadcaster.BroadcastCaseUpdate(CaseUpdate{
			Type:      "CASE_UPDATED",
			CaseID:    c.ID.Hex(),
			LeaseID:   c.LeaseID,
			Event:     ev.Kind,
			From:      out.From,
			To:        out.To,
			Status:    c.Status,
			Actor:     actor.Role,
			Notified:  out.Notify,
			Timestamp: c.UpdatedAt,
		})
	}

	e.logger.Info().
		Str("case_id", c.ID.Hex()).
		Str("event", string(ev.Kind)).
		Str("role", string(actor.Role)).
		Str("from", string(out.From)).
		Str("to", string(out.To)).
		Msg("workflow event applied")
	return res
}

// appendAudit never fails the caller.
func (e *Engine) appendAudit(ctx context.Context, entry *models.AuditLog) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Warn().Err(err).
			Str("case_id", entry.CaseID.Hex()).
			Str("action", entry.Action).
			Msg("failed to write audit log entry")
	}
}

func submission(formType string, data map[string]interface{}, role models.Role, now time.Time) models.FormSubmission {
	return models.FormSubmission{
		ID:          primitive.NewObjectID(),
		FormType:    formType,
		Data:        data,
		SubmittedBy: role,
		Timestamp:   now.UTC(),
	}
}

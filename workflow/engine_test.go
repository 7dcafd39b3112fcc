package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"leaseexit/approvals"
	"leaseexit/forms"
	"leaseexit/models"
	"leaseexit/notifications"
)

type memCases struct {
	mu          sync.Mutex
	cases       map[primitive.ObjectID]*models.Case
	halted      []primitive.ObjectID
	updateDelay time.Duration
	conflictOn  int
	updates     int
}

func newMemCases() *memCases {
	return &memCases{cases: map[primitive.ObjectID]*models.Case{}}
}

func cloneCase(c *models.Case) *models.Case {
	cp := *c
	cp.Forms = append([]models.FormSubmission(nil), c.Forms...)
	cp.Workflow.History = append([]models.HistoryEntry(nil), c.Workflow.History...)
	cp.Workflow.RequiredApprovers = append([]models.Role(nil), c.Workflow.RequiredApprovers...)
	cp.Workflow.Approvals = make(map[models.Role]models.ApprovalEntry, len(c.Workflow.Approvals))
	for k, v := range c.Workflow.Approvals {
		cp.Workflow.Approvals[k] = v
	}
	return &cp
}

func (m *memCases) Insert(ctx context.Context, c *models.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Version = 1
	m.cases[c.ID] = cloneCase(c)
	return nil
}

func (m *memCases) Get(ctx context.Context, id primitive.ObjectID) (*models.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return cloneCase(c), nil
}

func (m *memCases) List(ctx context.Context, f models.CaseFilter) ([]models.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Case{}
	for _, c := range m.cases {
		if f.Step != "" && c.Workflow.CurrentStep != f.Step {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !c.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		out = append(out, *cloneCase(c))
	}
	return out, nil
}

func (m *memCases) Update(ctx context.Context, c *models.Case, expectedVersion int64) error {
	if m.updateDelay > 0 {
		time.Sleep(m.updateDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.conflictOn > 0 && m.updates == m.conflictOn {
		return ErrPersistenceConflict
	}
	stored, ok := m.cases[c.ID]
	if !ok {
		return ErrCaseNotFound
	}
	if stored.Version != expectedVersion {
		return ErrPersistenceConflict
	}
	c.Version = expectedVersion + 1
	m.cases[c.ID] = cloneCase(c)
	return nil
}

func (m *memCases) MarkHalted(ctx context.Context, id primitive.ObjectID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return ErrCaseNotFound
	}
	c.Workflow.Halted = true
	c.Workflow.HaltReason = reason
	m.halted = append(m.halted, id)
	return nil
}

// put stores c verbatim, bypassing the engine.
func (m *memCases) put(c *models.Case) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = cloneCase(c)
}

type fakeNotifier struct {
	mu       sync.Mutex
	requests []notifications.Request
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, req notifications.Request) (*notifications.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	batch := &notifications.Batch{ID: fmt.Sprintf("batch-%d", len(f.requests)), CaseID: req.CaseID}
	for _, r := range req.Recipients {
		status := models.NotificationSent
		if f.err != nil {
			status = models.NotificationFailed
		}
		batch.Notifications = append(batch.Notifications, models.Notification{
			ID:            primitive.NewObjectID(),
			CaseID:        req.CaseID,
			RecipientRole: r,
			Subject:       req.Subject,
			Message:       req.Message,
			Status:        status,
		})
	}
	return batch, f.err
}

func (f *fakeNotifier) last() notifications.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (a *memAudit) Append(ctx context.Context, entry *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, *entry)
	return nil
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []CaseUpdate
}

func (b *recordingBroadcaster) BroadcastCaseUpdate(u CaseUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, u)
}

type fixture struct {
	engine   *Engine
	cases    *memCases
	notifier *fakeNotifier
	audit    *memAudit
	bus      *recordingBroadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy, err := DefaultPolicy()
	require.NoError(t, err)

	registry := forms.NewRegistry(zerolog.Nop(), forms.EmbeddedSource{})
	require.NoError(t, registry.Refresh(context.Background()))

	f := &fixture{
		cases:    newMemCases(),
		notifier: &fakeNotifier{},
		audit:    &memAudit{},
		bus:      &recordingBroadcaster{},
	}
	f.engine = NewEngine(policy, f.cases, registry, f.notifier, f.audit, zerolog.Nop())
	f.engine.SetBroadcaster(f.bus)
	return f
}

var (
	lem      = Actor{UserID: "u-lem", Role: models.RoleLeaseExitManagement}
	advisory = Actor{UserID: "u-adv", Role: models.RoleAdvisory}
	ifm      = Actor{UserID: "u-ifm", Role: models.RoleIFM}
	legal    = Actor{UserID: "u-legal", Role: models.RoleLegal}
	mac      = Actor{UserID: "u-mac", Role: models.RoleMAC}
	pjm      = Actor{UserID: "u-pjm", Role: models.RolePJM}
)

func l100() models.CaseInput {
	return models.CaseInput{
		LeaseID:         "L-100",
		PropertyAddress: "1 Main St",
		ExitDate:        "2099-12-31",
		ReasonForExit:   "Consolidation",
	}
}

var reviewForms = []struct {
	actor    Actor
	formType string
	data     map[string]interface{}
}{
	{advisory, "advisory_review", map[string]interface{}{
		"lease_requirements": "90 days notice",
		"cost_information":   "Break fee 10k",
		"documents":          []interface{}{"lease.pdf"},
	}},
	{ifm, "ifm_review", map[string]interface{}{
		"exit_requirements": "Remove fit-out",
		"scope_details":     "Floors 1-3",
		"timeline":          "2025-10-01",
	}},
	{mac, "mac_review", map[string]interface{}{
		"scope_details": "Strip out",
		"cost_estimate": 25000,
	}},
	{pjm, "pjm_review", map[string]interface{}{
		"scope_details": "Strip out",
		"project_plan":  "Six weeks",
		"cost_estimate": "25000",
		"timeline":      "2025-11-15",
	}},
}

// readyForApproval drives a fresh case through every review.
func (f *fixture) readyForApproval(t *testing.T) *models.Case {
	t.Helper()
	ctx := context.Background()
	res, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)
	for _, rf := range reviewForms {
		res, err = f.engine.SubmitForm(ctx, rf.actor, res.Case.ID, rf.formType, rf.data)
		require.NoError(t, err, rf.formType)
	}
	require.Equal(t, models.StepPJMReviewCompleted, res.Case.Workflow.CurrentStep)
	return res.Case
}

func TestCreateCaseNotifiesInitialRecipients(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.CreateCase(context.Background(), lem, l100())
	require.NoError(t, err)

	c := res.Case
	assert.Equal(t, models.StepNotificationsSent, c.Workflow.CurrentStep)
	assert.Equal(t, models.CaseStatusPending, c.Status)
	assert.Equal(t, int64(1), c.Version)
	require.Len(t, c.Workflow.History, 2)
	assert.Equal(t, models.StepInitialSubmission, c.Workflow.History[0].Step)
	assert.Equal(t, models.StepNotificationsSent, c.Workflow.History[1].Step)
	require.Len(t, c.Forms, 1)
	assert.Equal(t, "initial_submission", c.Forms[0].FormType)

	req := f.notifier.last()
	assert.ElementsMatch(t, []models.Role{models.RoleAdvisory, models.RoleIFM, models.RoleLegal}, req.Recipients)
	assert.Contains(t, req.Subject, "L-100")
	assert.Contains(t, req.Message, "1 Main St")
	require.NotNil(t, res.Batch)
	assert.Len(t, res.Batch.Notifications, 3)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, string(EventCaseCreated), f.audit.entries[0].Action)
	require.Len(t, f.bus.updates, 1)
	assert.Equal(t, models.StepNotificationsSent, f.bus.updates[0].To)
}

func TestCreateCaseRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	in := l100()
	in.ExitDate = "next year"
	in.PropertyAddress = ""

	_, err := f.engine.CreateCase(context.Background(), lem, in)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := []string{}
	for _, fe := range verr.Errors {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"property_address", "exit_date"}, fields)
	assert.Empty(t, f.cases.cases)
	assert.Equal(t, 0, f.notifier.count())
}

func TestCreateCaseRequiresLeaseExitManagement(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateCase(context.Background(), advisory, l100())

	assert.ErrorIs(t, err, ErrNotAuthorizedForStep)
	assert.Empty(t, f.cases.cases)
}

func TestAdvisoryReviewNotifiesLegalIFMAccounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)

	res, err := f.engine.SubmitForm(ctx, advisory, created.Case.ID, "advisory_review", reviewForms[0].data)
	require.NoError(t, err)

	assert.Equal(t, models.StepAdvisoryReviewCompleted, res.Case.Workflow.CurrentStep)
	assert.Equal(t, models.StepNotificationsSent, res.Outcome.From)
	assert.ElementsMatch(t,
		[]models.Role{models.RoleLegal, models.RoleIFM, models.RoleAccounting},
		f.notifier.last().Recipients)
	assert.Len(t, res.Case.Forms, 2)
}

func TestFullApprovalNotifiesAllStakeholders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.readyForApproval(t)

	sentBefore := f.notifier.count()
	var res *Result
	var err error
	for i, actor := range []Actor{ifm, legal, advisory} {
		res, err = f.engine.RecordApproval(ctx, actor, c.ID, models.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, approvals.ResultPending, res.Outcome.Verdict, "approval %d", i)
		assert.Equal(t, models.StepPJMReviewCompleted, res.Case.Workflow.CurrentStep)
		assert.Nil(t, res.Batch)
	}
	assert.Equal(t, sentBefore, f.notifier.count(), "partial approvals notify no one")

	res, err = f.engine.RecordApproval(ctx, lem, c.ID, models.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, approvals.ResultApproved, res.Outcome.Verdict)
	assert.Equal(t, models.StepApprovalApproved, res.Case.Workflow.CurrentStep)
	assert.Equal(t, models.CaseStatusApproved, res.Case.Status)
	assert.ElementsMatch(t, models.AllRoles, f.notifier.last().Recipients)
	assert.Len(t, res.Case.Workflow.Approvals, 4)

	_, err = f.engine.RecordApproval(ctx, legal, c.ID, models.DecisionReject, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectionNotifiesOnlyLeaseExitManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.readyForApproval(t)

	res, err := f.engine.RecordApproval(ctx, advisory, c.ID, models.DecisionReject, "cost too high")
	require.NoError(t, err)

	assert.Equal(t, approvals.ResultRejected, res.Outcome.Verdict)
	assert.Equal(t, models.StepApprovalRejected, res.Case.Workflow.CurrentStep)
	assert.Equal(t, models.CaseStatusRejected, res.Case.Status)
	req := f.notifier.last()
	assert.Equal(t, []models.Role{models.RoleLeaseExitManagement}, req.Recipients)
	assert.Contains(t, req.Message, "Advisory")
	assert.Contains(t, req.Message, "cost too high")

	for _, actor := range []Actor{ifm, legal, lem} {
		_, err := f.engine.RecordApproval(ctx, actor, c.ID, models.DecisionApprove, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	stored, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepApprovalRejected, stored.Workflow.CurrentStep)
}

func TestApprovalErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.readyForApproval(t)

	_, err := f.engine.RecordApproval(ctx, mac, c.ID, models.DecisionApprove, "")
	assert.ErrorIs(t, err, approvals.ErrNotAnApprover)

	_, err = f.engine.RecordApproval(ctx, legal, c.ID, models.DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.engine.RecordApproval(ctx, legal, c.ID, models.DecisionReject, "changed my mind")
	assert.ErrorIs(t, err, approvals.ErrDuplicateApproval)

	stored, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApprove, stored.Workflow.Approvals[models.RoleLegal].Decision)
	assert.Equal(t, models.StepPJMReviewCompleted, stored.Workflow.CurrentStep)
}

func TestApprovalBeforeReviewsComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)

	_, err = f.engine.RecordApproval(ctx, legal, created.Case.ID, models.DecisionApprove, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestForwardOnlyProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)
	id := created.Case.ID

	// IFM form while Advisory is due.
	_, err = f.engine.SubmitForm(ctx, ifm, id, "ifm_review", reviewForms[1].data)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Right form, wrong role.
	_, err = f.engine.SubmitForm(ctx, legal, id, "advisory_review", reviewForms[0].data)
	assert.ErrorIs(t, err, ErrNotAuthorizedForStep)

	_, err = f.engine.SubmitForm(ctx, advisory, id, "advisory_review", reviewForms[0].data)
	require.NoError(t, err)

	// The same form again is a step backwards.
	_, err = f.engine.SubmitForm(ctx, advisory, id, "advisory_review", reviewForms[0].data)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.engine.GetCase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StepAdvisoryReviewCompleted, stored.Workflow.CurrentStep)
	assert.Len(t, stored.Workflow.History, 3)
}

func TestUnknownFormType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)

	_, err = f.engine.SubmitForm(ctx, advisory, created.Case.ID, "budget_review", map[string]interface{}{})
	assert.ErrorIs(t, err, forms.ErrUnknownFormType)
}

func TestInvalidFormLeavesCaseUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)
	sent := f.notifier.count()

	_, err = f.engine.SubmitForm(ctx, advisory, created.Case.ID, "advisory_review", map[string]interface{}{
		"lease_requirements": "90 days notice",
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "advisory_review", verr.FormType)
	assert.Len(t, verr.Errors, 2)

	stored, err := f.engine.GetCase(ctx, created.Case.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepNotificationsSent, stored.Workflow.CurrentStep)
	assert.Len(t, stored.Forms, 1)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, sent, f.notifier.count())
}

func TestSubmitFormReturnsWarnings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)

	data := map[string]interface{}{"reviewer": "J. Doe"}
	for k, v := range reviewForms[0].data {
		data[k] = v
	}
	res, err := f.engine.SubmitForm(ctx, advisory, created.Case.ID, "advisory_review", data)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "reviewer", res.Warnings[0].Field)
}

func TestCorruptStepHaltsCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)

	broken := cloneCase(created.Case)
	broken.Workflow.CurrentStep = "legal_review_completed"
	f.cases.put(broken)

	_, err = f.engine.SubmitForm(ctx, advisory, broken.ID, "advisory_review", reviewForms[0].data)
	assert.ErrorIs(t, err, ErrCorruptState)
	assert.Equal(t, []primitive.ObjectID{broken.ID}, f.cases.halted)

	_, err = f.engine.SubmitForm(ctx, advisory, broken.ID, "advisory_review", reviewForms[0].data)
	assert.ErrorIs(t, err, ErrCaseHalted)
	_, err = f.engine.RecordApproval(ctx, legal, broken.ID, models.DecisionApprove, "")
	assert.ErrorIs(t, err, ErrCaseHalted)

	stored, err := f.engine.GetCase(ctx, broken.ID)
	require.NoError(t, err)
	assert.True(t, stored.Workflow.Halted)
}

func TestRevisionReopensRejectedCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.readyForApproval(t)
	_, err := f.engine.RecordApproval(ctx, legal, c.ID, models.DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.engine.RecordApproval(ctx, ifm, c.ID, models.DecisionReject, "missing scope")
	require.NoError(t, err)

	_, err = f.engine.RequestRevision(ctx, advisory, c.ID, "")
	assert.ErrorIs(t, err, ErrNotAuthorizedForStep)

	res, err := f.engine.RequestRevision(ctx, lem, c.ID, "scope added")
	require.NoError(t, err)

	assert.Equal(t, models.StepNotificationsSent, res.Case.Workflow.CurrentStep)
	assert.Equal(t, models.CaseStatusPending, res.Case.Status)
	assert.Empty(t, res.Case.Workflow.Approvals)
	assert.ElementsMatch(t, []models.Role{models.RoleAdvisory, models.RoleIFM, models.RoleLegal}, f.notifier.last().Recipients)
	last := res.Case.Workflow.History[len(res.Case.Workflow.History)-1]
	assert.Equal(t, "Revision requested: scope added", last.Action)

	_, err = f.engine.RequestRevision(ctx, lem, c.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestVersionConflictIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateCase(ctx, lem, l100())
	require.NoError(t, err)
	sent := f.notifier.count()

	f.cases.conflictOn = 1
	_, err = f.engine.SubmitForm(ctx, advisory, created.Case.ID, "advisory_review", reviewForms[0].data)
	assert.ErrorIs(t, err, ErrPersistenceConflict)
	assert.Equal(t, sent, f.notifier.count())

	// A retry of the whole operation goes through.
	_, err = f.engine.SubmitForm(ctx, advisory, created.Case.ID, "advisory_review", reviewForms[0].data)
	require.NoError(t, err)
}

func TestConcurrentApprovalsSerialize(t *testing.T) {
	f := newFixture(t)
	c := f.readyForApproval(t)
	f.cases.updateDelay = 5 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for _, actor := range []Actor{advisory, ifm, legal, lem} {
		wg.Add(1)
		go func(a Actor) {
			defer wg.Done()
			_, err := f.engine.RecordApproval(context.Background(), a, c.ID, models.DecisionApprove, "")
			errs <- err
		}(actor)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	stored, err := f.engine.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepApprovalApproved, stored.Workflow.CurrentStep)
	assert.Len(t, stored.Workflow.Approvals, 4)
}

func TestDispatchAndAuditFailuresDoNotFailEvent(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = notifications.ErrDeliveryFailure
	f.audit.err = errors.New("audit store down")

	res, err := f.engine.CreateCase(context.Background(), lem, l100())
	require.NoError(t, err)
	assert.Equal(t, models.StepNotificationsSent, res.Case.Workflow.CurrentStep)
	require.NotNil(t, res.Batch)
	assert.Equal(t, 3, res.Batch.Count(models.NotificationFailed))
}

func TestRemindPendingApprovals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.readyForApproval(t)
	_, err := f.engine.RecordApproval(ctx, legal, c.ID, models.DecisionApprove, "")
	require.NoError(t, err)

	// Nothing has waited long enough yet.
	n, err := f.engine.RemindPendingApprovals(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.engine.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = f.engine.RemindPendingApprovals(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	req := f.notifier.last()
	assert.Equal(t, "approval_reminder", req.Event)
	assert.ElementsMatch(t,
		[]models.Role{models.RoleAdvisory, models.RoleIFM, models.RoleLeaseExitManagement},
		req.Recipients)
	assert.Contains(t, req.Message, "IFM")
	assert.NotContains(t, req.Message, "Legal")
}

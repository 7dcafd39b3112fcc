// workflow/machine.go
package workflow

import (
	"fmt"
	"strings"
	"time"

	"leaseexit/approvals"
	"leaseexit/models"
)

// Event is something a caller asks the workflow to do to a case. Role is
// always supplied by the caller.
type Event struct {
	Kind     EventKind
	Role     models.Role
	FormType string
	Decision models.Decision
	Comments string
}

// Outcome describes what Apply did to the case.
type Outcome struct {
	From     models.Step
	To       models.Step
	Advanced bool
	// Verdict is set for approval events.
	Verdict approvals.Result
	Notify  []models.Role
	Subject string
	Message string
	Action  string
}

// Machine applies events to cases. It never performs I/O.
type Machine struct {
	policy *Policy
}

func NewMachine(policy *Policy) *Machine {
	return &Machine{policy: policy}
}

func (m *Machine) Policy() *Policy {
	return m.policy
}

// Check verifies that the case state is processable.
func (m *Machine) Check(c *models.Case) error {
	if c.Workflow.Halted {
		return fmt.Errorf("%w: %s", ErrCaseHalted, c.Workflow.HaltReason)
	}
	if !m.policy.Knows(c.Workflow.CurrentStep) {
		return fmt.Errorf("%w: unknown step %q", ErrCorruptState, c.Workflow.CurrentStep)
	}
	return nil
}

// Resolve finds the transition a form or creation event would take without
// touching the case.
func (m *Machine) Resolve(c *models.Case, ev Event) (*Transition, error) {
	if err := m.Check(c); err != nil {
		return nil, err
	}
	current := c.Workflow.CurrentStep

	switch ev.Kind {
	case EventCaseCreated, EventFormSubmitted:
		t, ok := m.policy.TransitionFrom(current)
		if !ok || t.Event != ev.Kind {
			return nil, fmt.Errorf("%w: %s not accepted at %s", ErrInvalidTransition, ev.Kind, current)
		}
		if ev.FormType != t.FormType {
			if _, known := m.policy.TransitionForForm(ev.FormType); known {
				return nil, fmt.Errorf("%w: form %s not accepted at %s", ErrInvalidTransition, ev.FormType, current)
			}
			return nil, fmt.Errorf("%w: form %s is not part of the workflow", ErrInvalidTransition, ev.FormType)
		}
		if ev.Role != t.Role {
			return nil, fmt.Errorf("%w: %s has no pending action at %s", ErrNotAuthorizedForStep, ev.Role.DisplayName(), current)
		}
		return t, nil

	case EventRevisionRequested:
		t := &m.policy.Revision
		if current != t.From {
			return nil, fmt.Errorf("%w: revision not accepted at %s", ErrInvalidTransition, current)
		}
		if ev.Role != t.Role {
			return nil, fmt.Errorf("%w: %s cannot request a revision", ErrNotAuthorizedForStep, ev.Role.DisplayName())
		}
		return t, nil

	case EventApprovalRecorded:
		if current != m.policy.Approval.From {
			return nil, fmt.Errorf("%w: approvals not accepted at %s", ErrInvalidTransition, current)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev.Kind)
}

// Apply mutates c according to ev. On error c is unchanged.
func (m *Machine) Apply(c *models.Case, ev Event, now time.Time) (Outcome, error) {
	t, err := m.Resolve(c, ev)
	if err != nil {
		return Outcome{}, err
	}
	now = now.UTC()
	data := messageData(c, ev)

	if ev.Kind == EventApprovalRecorded {
		return m.applyApproval(c, ev, data, now)
	}

	subject, message, err := t.render(data)
	if err != nil {
		return Outcome{}, fmt.Errorf("render %s notification: %w", t.To, err)
	}

	if ev.Kind == EventRevisionRequested {
		c.Workflow.Approvals = map[models.Role]models.ApprovalEntry{}
		c.Status = models.CaseStatusPending
	}
	c.Workflow.CurrentStep = t.To
	c.Workflow.History = append(c.Workflow.History, models.HistoryEntry{
		Step:      t.To,
		Action:    historyAction(t.Action, ev.Comments),
		Role:      ev.Role,
		Timestamp: now,
	})
	c.UpdatedAt = now

	return Outcome{
		From:     t.From,
		To:       t.To,
		Advanced: true,
		Notify:   append([]models.Role(nil), t.Notify...),
		Subject:  subject,
		Message:  message,
		Action:   t.Action,
	}, nil
}

func (m *Machine) applyApproval(c *models.Case, ev Event, data MessageData, now time.Time) (Outcome, error) {
	from := c.Workflow.CurrentStep

	// Record works on a copy so a render failure cannot leave a half applied approval.
	state := c.Workflow
	state.Approvals = make(map[models.Role]models.ApprovalEntry, len(c.Workflow.Approvals)+1)
	for k, v := range c.Workflow.Approvals {
		state.Approvals[k] = v
	}
	verdict, err := approvals.Record(&state, ev.Role, ev.Decision, ev.Comments, now)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{From: from, To: from, Verdict: verdict}
	status := c.Status
	var branch *Branch
	switch verdict {
	case approvals.ResultApproved:
		branch = &m.policy.Approval.Approved
		status = models.CaseStatusApproved
	case approvals.ResultRejected:
		branch = &m.policy.Approval.Rejected
		status = models.CaseStatusRejected
	}

	if branch != nil {
		subject, message, err := branch.render(data)
		if err != nil {
			return Outcome{}, fmt.Errorf("render %s notification: %w", branch.To, err)
		}
		state.CurrentStep = branch.To
		state.History = append(state.History, models.HistoryEntry{
			Step:      branch.To,
			Action:    historyAction(branch.Action, ev.Comments),
			Role:      ev.Role,
			Timestamp: now,
		})
		out.To = branch.To
		out.Advanced = true
		out.Notify = append([]models.Role(nil), branch.Notify...)
		out.Subject = subject
		out.Message = message
		out.Action = branch.Action
	}

	c.Workflow = state
	c.Status = status
	c.UpdatedAt = now
	return out, nil
}

// Reminder builds the pending approval reminder for c, or ok=false when no one is pending.
func (m *Machine) Reminder(c *models.Case) (roles []models.Role, subject, message string, ok bool, err error) {
	if c.Workflow.CurrentStep != m.policy.Approval.From || c.Workflow.Halted {
		return nil, "", "", false, nil
	}
	roles = approvals.Pending(c.Workflow)
	if len(roles) == 0 {
		return nil, "", "", false, nil
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.DisplayName())
	}
	data := messageData(c, Event{})
	data.Pending = strings.Join(names, ", ")
	subject, message, err = m.policy.RenderReminder(data)
	if err != nil {
		return nil, "", "", false, err
	}
	return roles, subject, message, true, nil
}

// NewCase builds a case in the initial step. It is not yet created: run
// EventCaseCreated through Apply to move it on.
func (m *Machine) NewCase(in models.CaseInput, createdBy string, role models.Role, now time.Time) *models.Case {
	now = now.UTC()
	initial := m.policy.InitialStep()
	return &models.Case{
		LeaseID:         in.LeaseID,
		PropertyAddress: in.PropertyAddress,
		ExitDate:        in.ExitDate,
		ReasonForExit:   in.ReasonForExit,
		AdditionalNotes: in.AdditionalNotes,
		Details:         in.Details,
		Status:          models.CaseStatusPending,
		Workflow: models.WorkflowState{
			CurrentStep: initial,
			History: []models.HistoryEntry{{
				Step:      initial,
				Action:    "Case created",
				Role:      role,
				Timestamp: now,
			}},
			Approvals:         map[models.Role]models.ApprovalEntry{},
			RequiredApprovers: m.policy.RequiredApprovers(),
		},
		Forms:     []models.FormSubmission{},
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func messageData(c *models.Case, ev Event) MessageData {
	actor := ""
	if ev.Role != "" {
		actor = ev.Role.DisplayName()
	}
	comments := ev.Comments
	if comments == "" {
		comments = "none"
	}
	return MessageData{
		CaseID:          c.ID.Hex(),
		LeaseID:         c.LeaseID,
		PropertyAddress: c.PropertyAddress,
		ExitDate:        c.ExitDate,
		ReasonForExit:   c.ReasonForExit,
		Actor:           actor,
		Comments:        comments,
	}
}

func historyAction(action, comments string) string {
	if comments == "" {
		return action
	}
	return action + ": " + comments
}

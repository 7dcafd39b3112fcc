// models/step.go
package models

import (
	"fmt"
	"strings"
)

// Step is a named stage of the lease exit workflow.
type Step string

const (
	StepInitialSubmission       Step = "initial_submission"
	StepNotificationsSent       Step = "notifications_sent"
	StepAdvisoryReviewCompleted Step = "advisory_review_completed"
	StepIFMReviewCompleted      Step = "ifm_review_completed"
	StepMACReviewCompleted      Step = "mac_review_completed"
	StepPJMReviewCompleted      Step = "pjm_review_completed"
	StepApprovalApproved        Step = "approval_approved"
	StepApprovalRejected        Step = "approval_rejected"
)

var knownSteps = map[Step]bool{
	StepInitialSubmission:       true,
	StepNotificationsSent:       true,
	StepAdvisoryReviewCompleted: true,
	StepIFMReviewCompleted:      true,
	StepMACReviewCompleted:      true,
	StepPJMReviewCompleted:      true,
	StepApprovalApproved:        true,
	StepApprovalRejected:        true,
}

var terminalSteps = map[Step]bool{
	StepApprovalApproved: true,
	StepApprovalRejected: true,
}

// IsKnown returns true if the step is one of the workflow steps.
func (s Step) IsKnown() bool {
	return knownSteps[s]
}

// IsTerminal returns true once the approval phase has closed.
func (s Step) IsTerminal() bool {
	return terminalSteps[s]
}

func (s Step) String() string {
	return string(s)
}

// Decision is an approver's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts "Approve", "approve", "REJECT", ...
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionReject:
		return DecisionReject, nil
	}
	return "", fmt.Errorf("decision must be Approve or Reject, got %q", s)
}

// CaseStatus is the overall status of a case.
type CaseStatus string

const (
	CaseStatusPending  CaseStatus = "pending"
	CaseStatusApproved CaseStatus = "approved"
	CaseStatusRejected CaseStatus = "rejected"
)

// Package approvals aggregates approver decisions on a lease exit case.
//
// The verdict is a pure function of the set of recorded decisions: any reject
// wins, otherwise every required role must have approved.
package approvals

import (
	"errors"
	"fmt"
	"time"

	"leaseexit/models"
)

var (
	ErrNotAnApprover     = errors.New("role is not a required approver")
	ErrDuplicateApproval = errors.New("role has already recorded a decision")
)

// Result is the aggregate verdict.
type Result string

const (
	ResultPending  Result = "pending"
	ResultApproved Result = "approved"
	ResultRejected Result = "rejected"
)

// Aggregate computes the verdict for the given decisions. Decisions from roles
// outside required are ignored.
func Aggregate(required []models.Role, decisions map[models.Role]models.ApprovalEntry) Result {
	approved := 0
	for _, role := range required {
		entry, ok := decisions[role]
		if !ok {
			continue
		}
		if entry.Decision == models.DecisionReject {
			return ResultRejected
		}
		if entry.Decision == models.DecisionApprove {
			approved++
		}
	}
	if len(required) > 0 && approved == len(required) {
		return ResultApproved
	}
	return ResultPending
}

// Record adds role's decision to state and returns the new verdict.
// On error state is left untouched.
func Record(state *models.WorkflowState, role models.Role, decision models.Decision, comments string, now time.Time) (Result, error) {
	if !models.ContainsRole(state.RequiredApprovers, role) {
		return "", fmt.Errorf("%w: %s", ErrNotAnApprover, role)
	}
	if _, exists := state.Approvals[role]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateApproval, role)
	}
	if decision != models.DecisionApprove && decision != models.DecisionReject {
		return "", fmt.Errorf("invalid decision %q", decision)
	}

	if state.Approvals == nil {
		state.Approvals = make(map[models.Role]models.ApprovalEntry)
	}
	state.Approvals[role] = models.ApprovalEntry{
		Decision:  decision,
		Comments:  comments,
		Timestamp: now.UTC(),
	}
	return Aggregate(state.RequiredApprovers, state.Approvals), nil
}

// Pending lists required roles that have not responded yet, in required order.
func Pending(state models.WorkflowState) []models.Role {
	var out []models.Role
	for _, role := range state.RequiredApprovers {
		if _, ok := state.Approvals[role]; !ok {
			out = append(out, role)
		}
	}
	return out
}

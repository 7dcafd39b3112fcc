package workflow

import (
	"errors"
	"fmt"
	"strings"

	"leaseexit/forms"
)

var (
	// ErrInvalidTransition is returned when an event is not valid for the current step.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotAuthorizedForStep is returned when the acting role has no pending action.
	ErrNotAuthorizedForStep = errors.New("role not authorized for step")
	// ErrCorruptState marks a stored step this workflow does not know.
	ErrCorruptState = errors.New("corrupt workflow state")
	// ErrCaseHalted is returned for every event on a case halted after corruption.
	ErrCaseHalted   = errors.New("case halted")
	ErrCaseNotFound = errors.New("case not found")
	// ErrPersistenceConflict means another writer updated the case first; retry the whole operation.
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// ValidationError carries field level detail for a rejected form.
type ValidationError struct {
	FormType string
	Errors   []forms.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Reason)
	}
	return fmt.Sprintf("form %s is invalid: %s", e.FormType, strings.Join(parts, "; "))
}

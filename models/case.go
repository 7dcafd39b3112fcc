// models/case.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Case is one lease exit request. Cases are never deleted; terminal cases stay for audit.
type Case struct {
	ID              primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	LeaseID         string                 `bson:"leaseId" json:"leaseId"`
	PropertyAddress string                 `bson:"propertyAddress" json:"propertyAddress"`
	ExitDate        string                 `bson:"exitDate" json:"exitDate"`
	ReasonForExit   string                 `bson:"reasonForExit" json:"reasonForExit"`
	AdditionalNotes string                 `bson:"additionalNotes,omitempty" json:"additionalNotes,omitempty"`
	Details         map[string]interface{} `bson:"details,omitempty" json:"details,omitempty"`
	Status          CaseStatus             `bson:"status" json:"status"`
	Workflow        WorkflowState          `bson:"workflow" json:"workflow"`
	Forms           []FormSubmission       `bson:"forms" json:"forms"`
	CreatedBy       string                 `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt       time.Time              `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time              `bson:"updatedAt" json:"updatedAt"`
	// Version is bumped on every write and compared on update.
	Version int64 `bson:"version" json:"version"`
}

// WorkflowState is embedded in the case document.
type WorkflowState struct {
	CurrentStep       Step                   `bson:"currentStep" json:"currentStep"`
	History           []HistoryEntry         `bson:"history" json:"history"`
	Approvals         map[Role]ApprovalEntry `bson:"approvals" json:"approvals"`
	RequiredApprovers []Role                 `bson:"requiredApprovers" json:"requiredApprovers"`
	Halted            bool                   `bson:"halted,omitempty" json:"halted,omitempty"`
	HaltReason        string                 `bson:"haltReason,omitempty" json:"haltReason,omitempty"`
}

// HistoryEntry is one append-only log record. Order of insertion is the order of events.
type HistoryEntry struct {
	Step      Step      `bson:"step" json:"step"`
	Action    string    `bson:"action" json:"action"`
	Role      Role      `bson:"role,omitempty" json:"role,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

type ApprovalEntry struct {
	Decision  Decision  `bson:"decision" json:"decision"`
	Comments  string    `bson:"comments,omitempty" json:"comments,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// FormSubmission is immutable once appended to a case.
type FormSubmission struct {
	ID          primitive.ObjectID     `bson:"id" json:"id"`
	FormType    string                 `bson:"formType" json:"formType"`
	Data        map[string]interface{} `bson:"data" json:"data"`
	SubmittedBy Role                   `bson:"submittedBy" json:"submittedBy"`
	Timestamp   time.Time              `bson:"timestamp" json:"timestamp"`
}

// CaseInput is the creation payload.
type CaseInput struct {
	LeaseID         string                 `json:"lease_id"`
	PropertyAddress string                 `json:"property_address"`
	ExitDate        string                 `json:"exit_date"`
	ReasonForExit   string                 `json:"reason_for_exit"`
	AdditionalNotes string                 `json:"additional_notes,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// FormData returns the input as initial_submission form data. Details keys are
// merged in but never shadow the named fields.
func (in CaseInput) FormData() map[string]interface{} {
	data := make(map[string]interface{}, len(in.Details)+5)
	for k, v := range in.Details {
		data[k] = v
	}
	for k, v := range map[string]interface{}{
		"lease_id":         in.LeaseID,
		"property_address": in.PropertyAddress,
		"exit_date":        in.ExitDate,
		"reason_for_exit":  in.ReasonForExit,
	} {
		data[k] = v
	}
	if in.AdditionalNotes != "" {
		data["additional_notes"] = in.AdditionalNotes
	}
	return data
}

// CaseFilter narrows case listings. Zero values mean "any".
type CaseFilter struct {
	Status  CaseStatus
	Step    Step
	LeaseID string
	// UpdatedBefore selects cases untouched since the given time.
	UpdatedBefore time.Time
	Limit         int64
	Skip          int64
}

// models/notification.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is one message to one recipient role.
// Status moves pending -> sent, or pending -> failed -> sent when a retry succeeds.
type Notification struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	BatchID         string             `bson:"batchId" json:"batchId"`
	CaseID          primitive.ObjectID `bson:"caseId" json:"caseId"`
	RecipientRole   Role               `bson:"recipientRole" json:"recipientRole"`
	RecipientEmails []string           `bson:"recipientEmails,omitempty" json:"recipientEmails,omitempty"`
	Event           string             `bson:"event,omitempty" json:"event,omitempty"`
	Subject         string             `bson:"subject" json:"subject"`
	Message         string             `bson:"message" json:"message"`
	Status          NotificationStatus `bson:"status" json:"status"`
	Attempts        int                `bson:"attempts" json:"attempts"`
	LastError       string             `bson:"lastError,omitempty" json:"lastError,omitempty"`
	// Exhausted is set once the retry budget is spent; the record then stays failed.
	Exhausted     bool                `bson:"exhausted,omitempty" json:"exhausted,omitempty"`
	ResendOf      *primitive.ObjectID `bson:"resendOf,omitempty" json:"resendOf,omitempty"`
	NextAttemptAt *time.Time          `bson:"nextAttemptAt,omitempty" json:"nextAttemptAt,omitempty"`
	SentAt        *time.Time          `bson:"sentAt,omitempty" json:"sentAt,omitempty"`
	CreatedAt     time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time           `bson:"updatedAt" json:"updatedAt"`
}

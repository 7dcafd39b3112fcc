// models/audit_log.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AuditLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CaseID    primitive.ObjectID `bson:"caseId" json:"caseId"`
	UserID    string             `bson:"userId,omitempty" json:"userId,omitempty"`
	Role      Role               `bson:"role,omitempty" json:"role,omitempty"`
	Action    string             `bson:"action" json:"action"` // e.g. "case_created", "form_submitted", "approval_recorded"
	Details   bson.M             `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// Package repository holds the MongoDB implementations of the stores used by
// the workflow, the notification dispatcher, the form registry and login.
package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionCases         = "lease_exits"
	CollectionNotifications = "notifications"
	CollectionAuditLogs     = "audit_logs"
	CollectionFormTemplates = "form_templates"
	CollectionUsers         = "users"
)

var indexes = map[string][]mongo.IndexModel{
	CollectionCases: {
		{Keys: bson.D{{Key: "leaseId", Value: 1}}},
		{Keys: bson.D{{Key: "workflow.currentStep", Value: 1}, {Key: "updatedAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	},
	CollectionNotifications: {
		{Keys: bson.D{{Key: "caseId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "recipientRole", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextAttemptAt", Value: 1}}},
	},
	CollectionAuditLogs: {
		{Keys: bson.D{{Key: "caseId", Value: 1}, {Key: "createdAt", Value: 1}}},
	},
	CollectionFormTemplates: {
		{Keys: bson.D{{Key: "formType", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	CollectionUsers: {
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "active", Value: 1}}},
	},
}

// EnsureIndexes creates the indexes every repository relies on. It is safe to
// call on every start.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, idx := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// repository/notification_repository.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"leaseexit/models"
	"leaseexit/notifications"
)

type NotificationRepository struct {
	coll *mongo.Collection
}

func NewNotificationRepository(db *mongo.Database) *NotificationRepository {
	return &NotificationRepository{coll: db.Collection(CollectionNotifications)}
}

func (r *NotificationRepository) Insert(ctx context.Context, n *models.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) Update(ctx context.Context, n *models.Notification) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": n.ID}, n)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", notifications.ErrNotificationNotFound, n.ID.Hex())
	}
	return nil
}

func (r *NotificationRepository) Get(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	var n models.Notification
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", notifications.ErrNotificationNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return &n, nil
}

func (r *NotificationRepository) ListByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"caseId": caseID}, opts)
}

func (r *NotificationRepository) ListByRole(ctx context.Context, role models.Role, status models.NotificationStatus) ([]models.Notification, error) {
	filter := bson.M{"recipientRole": role}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(maxListLimit)
	return r.find(ctx, filter, opts)
}

// ListRetryable returns due failed records and pending records not touched
// since staleBefore.
func (r *NotificationRepository) ListRetryable(ctx context.Context, now, staleBefore time.Time, limit int64) ([]models.Notification, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{
			"status":        models.NotificationFailed,
			"exhausted":     bson.M{"$ne": true},
			"nextAttemptAt": bson.M{"$lte": now},
		},
		bson.M{
			"status":    models.NotificationPending,
			"updatedAt": bson.M{"$lte": staleBefore},
		},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: 1}}).
		SetLimit(limit)
	return r.find(ctx, filter, opts)
}

func (r *NotificationRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Notification, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	out := []models.Notification{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return out, nil
}

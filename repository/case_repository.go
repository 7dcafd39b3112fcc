// repository/case_repository.go
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
	"leaseexit/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CaseRepository stores cases as single documents. Every write bumps
// "version"; Update only matches the version the caller read.
type CaseRepository struct {
	coll *mongo.Collection
}

func NewCaseRepository(db *mongo.Database) *CaseRepository {
	return &CaseRepository{coll: db.Collection(CollectionCases)}
}

func (r *CaseRepository) Insert(ctx context.Context, c *models.Case) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *CaseRepository) Get(ctx context.Context, id primitive.ObjectID) (*models.Case, error) {
	var c models.Case
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrCaseNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("find case: %w", err)
	}
	return &c, nil
}

func (r *CaseRepository) List(ctx context.Context, f models.CaseFilter) ([]models.Case, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Step != "" {
		filter["workflow.currentStep"] = f.Step
	}
	if f.LeaseID != "" {
		filter["leaseId"] = f.LeaseID
	}
	if !f.UpdatedBefore.IsZero() {
		filter["updatedAt"] = bson.M{"$lt": f.UpdatedBefore}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(f.Skip)

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer cursor.Close(ctx)

	cases := []models.Case{}
	if err := cursor.All(ctx, &cases); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	return cases, nil
}

// Update replaces the case if its stored version still equals expectedVersion.
// On success c.Version holds the new version.
func (r *CaseRepository) Update(ctx context.Context, c *models.Case, expectedVersion int64) error {
	c.Version = expectedVersion + 1
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": c.ID, "version": expectedVersion}, c)
	if err != nil {
		c.Version = expectedVersion
		return fmt.Errorf("update case: %w", err)
	}
	if res.MatchedCount == 0 {
		c.Version = expectedVersion
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": c.ID})
		if err == nil && n == 0 {
			return fmt.Errorf("%w: %s", workflow.ErrCaseNotFound, c.ID.Hex())
		}
		return fmt.Errorf("%w: case %s changed since version %d", workflow.ErrPersistenceConflict, c.ID.Hex(), expectedVersion)
	}
	return nil
}

// MarkHalted flags a case for manual intervention.
func (r *CaseRepository) MarkHalted(ctx context.Context, id primitive.ObjectID, reason string) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"workflow.halted":     true,
			"workflow.haltReason": reason,
			"updatedAt":           time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	})
	if err != nil {
		return fmt.Errorf("halt case: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrCaseNotFound, id.Hex())
	}
	return nil
}

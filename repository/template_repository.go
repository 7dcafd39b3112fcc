// repository/template_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"leaseexit/models"
)

// TemplateRepository keeps form template overrides. It is also a forms.Source.
type TemplateRepository struct {
	coll *mongo.Collection
}

func NewTemplateRepository(db *mongo.Database) *TemplateRepository {
	return &TemplateRepository{coll: db.Collection(CollectionFormTemplates)}
}

func (r *TemplateRepository) Name() string { return "mongo" }

func (r *TemplateRepository) Load(ctx context.Context) ([]models.FormTemplate, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "formType", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list form templates: %w", err)
	}
	defer cursor.Close(ctx)

	out := []models.FormTemplate{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode form templates: %w", err)
	}
	return out, nil
}

// Upsert stores t keyed by its form type.
func (r *TemplateRepository) Upsert(ctx context.Context, t *models.FormTemplate) error {
	t.UpdatedAt = time.Now().UTC()
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"formType": t.FormType},
		t,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert form template %s: %w", t.FormType, err)
	}
	return nil
}

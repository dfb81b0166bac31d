package repositories

import (
	"context"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// FailureRepository stores audit-only payment failure records
type FailureRepository struct {
	collection *mongo.Collection
}

func NewFailureRepository(db *mongo.Database) *FailureRepository {
	return &FailureRepository{
		collection: db.Collection("payment_failures"),
	}
}

func (r *FailureRepository) Insert(ctx context.Context, failure *models.PaymentFailure) error {
	if failure.ID.IsZero() {
		failure.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, failure)
	return translate(err)
}

// BackfillAuditRepository stores the trail of reconciliation writes
type BackfillAuditRepository struct {
	collection *mongo.Collection
}

func NewBackfillAuditRepository(db *mongo.Database) *BackfillAuditRepository {
	return &BackfillAuditRepository{
		collection: db.Collection("backfill_audit"),
	}
}

func (r *BackfillAuditRepository) Insert(ctx context.Context, entry *models.BackfillAudit) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, entry)
	return translate(err)
}

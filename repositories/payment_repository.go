package repositories

import (
	"context"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type PaymentRepository struct {
	collection *mongo.Collection
}

func NewPaymentRepository(db *mongo.Database) *PaymentRepository {
	return &PaymentRepository{
		collection: db.Collection("payments"),
	}
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.collection.FindOne(ctx, bson.M{"transactionId": transactionID}).Decode(&payment)
	if err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

// Insert writes a new payment; a second insert for the same transaction id
// fails with ErrDuplicate because of the unique index.
func (r *PaymentRepository) Insert(ctx context.Context, payment *models.Payment) error {
	if payment.ID.IsZero() {
		payment.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, payment)
	return translate(err)
}

// Update replaces the mutable fields of an existing payment
func (r *PaymentRepository) Update(ctx context.Context, payment *models.Payment) error {
	payment.UpdatedAt = time.Now()
	update := bson.M{
		"$set": bson.M{
			"memberId":               payment.MemberID,
			"sessionId":              payment.SessionID,
			"amount":                 payment.Amount,
			"status":                 payment.Status,
			"paymentToken":           payment.PaymentToken,
			"authorizationReference": payment.AuthorizationReference,
			"paymentMethodType":      payment.PaymentMethodType,
			"metadata":               payment.Metadata,
			"updatedAt":              payment.UpdatedAt,
		},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": payment.ID}, update)
	if err != nil {
		return translate(err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]models.Payment, error) {
	return r.find(ctx, bson.M{"memberId": memberID})
}

// ListUnlinked returns payments carrying no member reference
func (r *PaymentRepository) ListUnlinked(ctx context.Context) ([]models.Payment, error) {
	return r.find(ctx, bson.M{"$or": []bson.M{
		{"memberId": bson.M{"$exists": false}},
		{"memberId": primitive.NilObjectID},
	}})
}

// MemberIDs returns every member id referenced by at least one payment
func (r *PaymentRepository) MemberIDs(ctx context.Context) (map[primitive.ObjectID]bool, error) {
	values, err := r.collection.Distinct(ctx, "memberId", bson.M{"memberId": bson.M{"$exists": true}})
	if err != nil {
		return nil, translate(err)
	}
	return objectIDSet(values), nil
}

func (r *PaymentRepository) find(ctx context.Context, filter bson.M) ([]models.Payment, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	defer cursor.Close(ctx)

	var payments []models.Payment
	if err := cursor.All(ctx, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func objectIDSet(values []interface{}) map[primitive.ObjectID]bool {
	set := make(map[primitive.ObjectID]bool, len(values))
	for _, v := range values {
		if id, ok := v.(primitive.ObjectID); ok && !id.IsZero() {
			set[id] = true
		}
	}
	return set
}

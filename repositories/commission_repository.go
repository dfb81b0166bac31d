package repositories

import (
	"context"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CommissionRepository struct {
	collection *mongo.Collection
}

func NewCommissionRepository(db *mongo.Database) *CommissionRepository {
	return &CommissionRepository{
		collection: db.Collection("commissions"),
	}
}

// Insert writes a commission; (paymentId, commissionType) is unique
func (r *CommissionRepository) Insert(ctx context.Context, commission *models.AgentCommission) error {
	if commission.ID.IsZero() {
		commission.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, commission)
	return translate(err)
}

func (r *CommissionRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.AgentCommission, error) {
	var commission models.AgentCommission
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&commission)
	if err != nil {
		return nil, translate(err)
	}
	return &commission, nil
}

func (r *CommissionRepository) ListByPayment(ctx context.Context, paymentID primitive.ObjectID) ([]models.AgentCommission, error) {
	return r.find(ctx, bson.M{"paymentId": paymentID})
}

func (r *CommissionRepository) ListByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.AgentCommission, error) {
	return r.find(ctx, bson.M{"agentId": agentID})
}

func (r *CommissionRepository) ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]models.AgentCommission, error) {
	return r.find(ctx, bson.M{"memberId": memberID})
}

// ListPayable returns active, unpaid, unbatched commissions eligible on or before asOf
func (r *CommissionRepository) ListPayable(ctx context.Context, asOf time.Time) ([]models.AgentCommission, error) {
	return r.find(ctx, bson.M{
		"status":              models.CommissionStatusActive,
		"paymentStatus":       models.CommissionUnpaid,
		"payoutId":            bson.M{"$exists": false},
		"paymentEligibleDate": bson.M{"$lte": asOf},
	})
}

func (r *CommissionRepository) ListUnpaid(ctx context.Context) ([]models.AgentCommission, error) {
	return r.find(ctx, bson.M{"paymentStatus": models.CommissionUnpaid})
}

// MarkPaid links unpaid commissions to a payout; the returned count only
// includes rows that were still unpaid.
func (r *CommissionRepository) MarkPaid(ctx context.Context, ids []primitive.ObjectID, payoutID primitive.ObjectID, paidAt time.Time) (int64, error) {
	filter := bson.M{
		"_id":           bson.M{"$in": ids},
		"paymentStatus": models.CommissionUnpaid,
		"payoutId":      bson.M{"$exists": false},
	}
	update := bson.M{
		"$set": bson.M{
			"paymentStatus": models.CommissionPaid,
			"payoutId":      payoutID,
			"paidDate":      paidAt,
			"updatedAt":     paidAt,
		},
	}
	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, translate(err)
	}
	return result.ModifiedCount, nil
}

// TransitionStatus moves a commission from one status to another; it returns
// false when the commission was not in the expected status.
func (r *CommissionRepository) TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to string) (bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": time.Now()}})
	if err != nil {
		return false, translate(err)
	}
	return result.ModifiedCount == 1, nil
}

func (r *CommissionRepository) SetEligibleDate(ctx context.Context, id primitive.ObjectID, eligible time.Time) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "paymentStatus": models.CommissionUnpaid},
		bson.M{"$set": bson.M{"paymentEligibleDate": eligible, "updatedAt": time.Now()}})
	return translate(err)
}

// CancelForMember cancels every non-cancelled commission of a member. Only
// unpaid commissions move to payment status cancelled.
func (r *CommissionRepository) CancelForMember(ctx context.Context, memberID primitive.ObjectID, at time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"memberId": memberID, "status": bson.M{"$ne": models.CommissionStatusCancelled}},
		bson.M{"$set": bson.M{"status": models.CommissionStatusCancelled, "updatedAt": at}})
	if err != nil {
		return 0, translate(err)
	}

	_, err = r.collection.UpdateMany(ctx,
		bson.M{"memberId": memberID, "paymentStatus": models.CommissionUnpaid},
		bson.M{"$set": bson.M{"paymentStatus": models.CommissionCancelled, "updatedAt": at}})
	if err != nil {
		return 0, translate(err)
	}
	return result.ModifiedCount, nil
}

// MemberIDs returns every member id that has at least one commission
func (r *CommissionRepository) MemberIDs(ctx context.Context) (map[primitive.ObjectID]bool, error) {
	values, err := r.collection.Distinct(ctx, "memberId", bson.M{})
	if err != nil {
		return nil, translate(err)
	}
	return objectIDSet(values), nil
}

func (r *CommissionRepository) find(ctx context.Context, filter bson.M) ([]models.AgentCommission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err)
	}
	defer cursor.Close(ctx)

	var commissions []models.AgentCommission
	if err := cursor.All(ctx, &commissions); err != nil {
		return nil, err
	}
	return commissions, nil
}

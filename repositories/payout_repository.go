package repositories

import (
	"context"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PayoutRepository struct {
	collection *mongo.Collection
}

func NewPayoutRepository(db *mongo.Database) *PayoutRepository {
	return &PayoutRepository{
		collection: db.Collection("payouts"),
	}
}

// Insert writes a payout; (agentId, period) is unique
func (r *PayoutRepository) Insert(ctx context.Context, payout *models.CommissionPayout) error {
	if payout.ID.IsZero() {
		payout.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, payout)
	return translate(err)
}

func (r *PayoutRepository) FindByAgentPeriod(ctx context.Context, agentID primitive.ObjectID, period string) (*models.CommissionPayout, error) {
	var payout models.CommissionPayout
	err := r.collection.FindOne(ctx, bson.M{"agentId": agentID, "period": period}).Decode(&payout)
	if err != nil {
		return nil, translate(err)
	}
	return &payout, nil
}

func (r *PayoutRepository) ListByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.CommissionPayout, error) {
	opts := options.Find().SetSort(bson.D{{Key: "period", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"agentId": agentID}, opts)
	if err != nil {
		return nil, translate(err)
	}
	defer cursor.Close(ctx)

	var payouts []models.CommissionPayout
	if err := cursor.All(ctx, &payouts); err != nil {
		return nil, err
	}
	return payouts, nil
}

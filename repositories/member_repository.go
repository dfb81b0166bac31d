package repositories

import (
	"context"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type MemberRepository struct {
	collection *mongo.Collection
}

func NewMemberRepository(db *mongo.Database) *MemberRepository {
	return &MemberRepository{
		collection: db.Collection("members"),
	}
}

func (r *MemberRepository) Insert(ctx context.Context, member *models.Member) error {
	if member.ID.IsZero() {
		member.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, member)
	return translate(err)
}

func (r *MemberRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Member, error) {
	var member models.Member
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&member)
	if err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

// Activate flips an inactive member to active and stamps the activating
// transaction. It returns false when the member was already active.
func (r *MemberRepository) Activate(ctx context.Context, id primitive.ObjectID, transactionID string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "isActive": false}
	update := bson.M{
		"$set": bson.M{
			"isActive":                true,
			"activationTransactionId": transactionID,
			"activatedAt":             at,
			"updatedAt":               at,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, translate(err)
	}
	return result.ModifiedCount == 1, nil
}

// ListBilled returns members carrying a monthly price
func (r *MemberRepository) ListBilled(ctx context.Context) ([]models.Member, error) {
	return r.find(ctx, bson.M{"monthlyPrice": bson.M{"$gt": 0}})
}

func (r *MemberRepository) ListActive(ctx context.Context) ([]models.Member, error) {
	return r.find(ctx, bson.M{"isActive": true})
}

func (r *MemberRepository) find(ctx context.Context, filter bson.M) ([]models.Member, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	defer cursor.Close(ctx)

	var members []models.Member
	if err := cursor.All(ctx, &members); err != nil {
		return nil, err
	}
	return members, nil
}

package repositories

import (
	"context"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type AgentRepository struct {
	collection *mongo.Collection
}

func NewAgentRepository(db *mongo.Database) *AgentRepository {
	return &AgentRepository{
		collection: db.Collection("agents"),
	}
}

func (r *AgentRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Agent, error) {
	var agent models.Agent
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&agent)
	if err != nil {
		return nil, translate(err)
	}
	return &agent, nil
}

package repositories

import (
	"context"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type SessionRepository struct {
	collection *mongo.Collection
}

func NewSessionRepository(db *mongo.Database) *SessionRepository {
	return &SessionRepository{
		collection: db.Collection("payment_sessions"),
	}
}

func (r *SessionRepository) Insert(ctx context.Context, session *models.PaymentSession) error {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, session)
	return translate(err)
}

func (r *SessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.collection.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&session)
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *SessionRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.collection.FindOne(ctx, bson.M{"transactionId": transactionID}).Decode(&session)
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *SessionRepository) UpdateState(ctx context.Context, sessionID, state, message string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{"$set": bson.M{"state": state, "message": message, "updatedAt": time.Now()}})
	if err != nil {
		return translate(err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionState moves a session to state only while it is in one of from.
// It reports whether the session moved.
func (r *SessionRepository) TransitionState(ctx context.Context, sessionID string, from []string, state, message string) (bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"sessionId": sessionID, "state": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"state": state, "message": message, "updatedAt": time.Now()}})
	if err != nil {
		return false, translate(err)
	}
	if result.MatchedCount == 0 {
		if _, err := r.FindBySessionID(ctx, sessionID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

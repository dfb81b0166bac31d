package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Failure kinds stored on PaymentFailure
const (
	FailureKindDeclined        = "declined"
	FailureKindTokenExtraction = "token_extraction"
	FailureKindOrphanedSuccess = "orphaned_success"
	FailureKindUnverified      = "unverified"
)

// PaymentFailure is an audit-only record; it never changes member state
type PaymentFailure struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Kind          string             `json:"kind" bson:"kind"`
	SessionID     string             `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	TransactionID string             `json:"transactionId,omitempty" bson:"transactionId,omitempty"`
	MemberID      primitive.ObjectID `json:"memberId,omitempty" bson:"memberId,omitempty"`
	Amount        float64            `json:"amount" bson:"amount"`
	StatusCode    string             `json:"statusCode,omitempty" bson:"statusCode,omitempty"`
	StatusMessage string             `json:"statusMessage,omitempty" bson:"statusMessage,omitempty"`
	RawPayload    string             `json:"rawPayload,omitempty" bson:"rawPayload,omitempty"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
}

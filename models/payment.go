package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusPending   = "pending"
)

// Metadata keys written by the finalizer
const (
	PaymentMetaOrphaned         = "orphaned"
	PaymentMetaFinalizeError    = "finalizeError"
	PaymentMetaIntendedMemberID = "intendedMemberId"
	PaymentMetaDuplicateCharge  = "duplicateSessionCharge"
	PaymentMetaDuplicateOf      = "duplicateOf"
	PaymentMetaAmountMismatch   = "amountMismatch"
	PaymentMetaLinkedBy         = "linkedBy"
)

// Payment is one captured charge. TransactionID is unique.
type Payment struct {
	ID                     primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	MemberID               primitive.ObjectID     `json:"memberId,omitempty" bson:"memberId,omitempty"`
	SessionID              string                 `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	Amount                 float64                `json:"amount" bson:"amount"`
	Currency               string                 `json:"currency" bson:"currency"`
	Status                 string                 `json:"status" bson:"status"`
	TransactionID          string                 `json:"transactionId" bson:"transactionId"`
	PaymentToken           string                 `json:"-" bson:"paymentToken"`
	AuthorizationReference string                 `json:"authorizationReference,omitempty" bson:"authorizationReference,omitempty"`
	PaymentMethodType      string                 `json:"paymentMethodType,omitempty" bson:"paymentMethodType,omitempty"`
	Metadata               map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt              time.Time              `json:"createdAt" bson:"createdAt"`
	UpdatedAt              time.Time              `json:"updatedAt" bson:"updatedAt"`
}

// IsLinked reports whether the payment references a member
func (p *Payment) IsLinked() bool {
	return !p.MemberID.IsZero()
}

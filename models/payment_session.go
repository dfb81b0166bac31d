package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Observable session states
const (
	SessionStateInitializing        = "initializing"
	SessionStateReady               = "ready"
	SessionStateSubmitting          = "submitting"
	SessionStateSucceeded           = "succeeded"
	SessionStateNeedsManualFinalize = "succeeded-needs-manual-finalize"
	SessionStateFailed              = "failed"
)

// PaymentSession tracks one hosted-checkout attempt. No Payment row exists
// until the session is finalized.
type PaymentSession struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SessionID      string             `json:"sessionId" bson:"sessionId"`
	TransactionID  string             `json:"transactionId" bson:"transactionId"`
	MemberID       primitive.ObjectID `json:"memberId" bson:"memberId"`
	SubscriptionID primitive.ObjectID `json:"subscriptionId,omitempty" bson:"subscriptionId,omitempty"`
	Amount         float64            `json:"amount" bson:"amount"`
	CatalogAmount  float64            `json:"catalogAmount" bson:"catalogAmount"`
	Currency       string             `json:"currency" bson:"currency"`
	Description    string             `json:"description" bson:"description"`
	Email          string             `json:"email" bson:"email"`
	CustomerName   string             `json:"customerName" bson:"customerName"`
	BillingAddress Address            `json:"billingAddress" bson:"billingAddress"`

	AmountOverridden bool   `json:"amountOverridden" bson:"amountOverridden"`
	OverrideReason   string `json:"overrideReason,omitempty" bson:"overrideReason,omitempty"`
	OverrideBy       string `json:"overrideBy,omitempty" bson:"overrideBy,omitempty"`

	GatewaySessionToken string `json:"-" bson:"gatewaySessionToken"`
	ScriptURL           string `json:"scriptUrl" bson:"scriptUrl"`
	PublicKey           string `json:"publicKey,omitempty" bson:"publicKey,omitempty"`
	TerminalID          string `json:"terminalId,omitempty" bson:"terminalId,omitempty"`
	AntiBotToken        string `json:"-" bson:"antiBotToken,omitempty"`
	SuccessCallback     string `json:"successCallback" bson:"successCallback"`
	FailureCallback     string `json:"failureCallback" bson:"failureCallback"`

	State     string    `json:"state" bson:"state"`
	Message   string    `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CommissionTypeDirect   = "direct"
	CommissionTypeOverride = "override"
)

// Commission lifecycle: pending -> active -> cancelled
const (
	CommissionStatusPending   = "pending"
	CommissionStatusActive    = "active"
	CommissionStatusCancelled = "cancelled"
)

// Commission payout lifecycle: unpaid -> paid, unpaid -> cancelled
const (
	CommissionUnpaid    = "unpaid"
	CommissionPaid      = "paid"
	CommissionCancelled = "cancelled"
)

// AgentCommission is one earned commission. Amount and the plan snapshot never
// change after insert.
type AgentCommission struct {
	ID                    primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	AgentID               primitive.ObjectID  `json:"agentId" bson:"agentId"`
	MemberID              primitive.ObjectID  `json:"memberId" bson:"memberId"`
	SubscriptionID        primitive.ObjectID  `json:"subscriptionId,omitempty" bson:"subscriptionId,omitempty"`
	PaymentID             primitive.ObjectID  `json:"paymentId" bson:"paymentId"`
	TransactionID         string              `json:"transactionId" bson:"transactionId"`
	Amount                float64             `json:"amount" bson:"amount"`
	PlanTier              string              `json:"planTier" bson:"planTier"`
	CoverageTier          string              `json:"coverageTier" bson:"coverageTier"`
	AddOns                []string            `json:"addOns,omitempty" bson:"addOns,omitempty"`
	CommissionType        string              `json:"commissionType" bson:"commissionType"`
	OverrideTargetAgentID *primitive.ObjectID `json:"overrideTargetAgentId,omitempty" bson:"overrideTargetAgentId,omitempty"`
	Status                string              `json:"status" bson:"status"`
	PaymentStatus         string              `json:"paymentStatus" bson:"paymentStatus"`
	EnrollmentDate        time.Time           `json:"enrollmentDate" bson:"enrollmentDate"`
	PaymentEligibleDate   time.Time           `json:"paymentEligibleDate" bson:"paymentEligibleDate"`
	PaidDate              *time.Time          `json:"paidDate,omitempty" bson:"paidDate,omitempty"`
	PayoutID              *primitive.ObjectID `json:"payoutId,omitempty" bson:"payoutId,omitempty"`
	CreatedAt             time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// CommissionPayout batches one agent's commissions paid in one cycle.
// (AgentID, Period) is unique.
type CommissionPayout struct {
	ID            primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	AgentID       primitive.ObjectID   `json:"agentId" bson:"agentId"`
	Period        string               `json:"period" bson:"period"`
	TotalAmount   float64              `json:"totalAmount" bson:"totalAmount"`
	CommissionIDs []primitive.ObjectID `json:"commissionIds" bson:"commissionIds"`
	PaidAt        time.Time            `json:"paidAt" bson:"paidAt"`
	CreatedAt     time.Time            `json:"createdAt" bson:"createdAt"`
}

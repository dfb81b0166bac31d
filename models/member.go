package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Address is a postal billing address
type Address struct {
	Line1      string `json:"line1" bson:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty"`
	City       string `json:"city" bson:"city" validate:"required"`
	State      string `json:"state" bson:"state" validate:"required"`
	PostalCode string `json:"postalCode" bson:"postalCode" validate:"required"`
	Country    string `json:"country,omitempty" bson:"country,omitempty"`
}

// Member is an enrolled customer. The enrollment wizard creates the record
// inactive; the first successful finalize activates it.
type Member struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	FirstName      string             `json:"firstName" bson:"firstName"`
	LastName       string             `json:"lastName" bson:"lastName"`
	Email          string             `json:"email" bson:"email"`
	Phone          string             `json:"phone,omitempty" bson:"phone,omitempty"`
	PlanTier       string             `json:"planTier" bson:"planTier"`
	CoverageTier   string             `json:"coverageTier" bson:"coverageTier"`
	AddOns         []string           `json:"addOns,omitempty" bson:"addOns,omitempty"`
	MonthlyPrice   float64            `json:"monthlyPrice" bson:"monthlyPrice"`
	AgentID        primitive.ObjectID `json:"agentId,omitempty" bson:"agentId,omitempty"`
	SubscriptionID primitive.ObjectID `json:"subscriptionId,omitempty" bson:"subscriptionId,omitempty"`
	BillingAddress Address            `json:"billingAddress" bson:"billingAddress"`
	EnrolledAt     time.Time          `json:"enrolledAt" bson:"enrolledAt"`
	IsActive       bool               `json:"isActive" bson:"isActive"`

	// Set once, by the transaction that activated the member
	ActivationTransactionID string     `json:"activationTransactionId,omitempty" bson:"activationTransactionId,omitempty"`
	ActivatedAt             *time.Time `json:"activatedAt,omitempty" bson:"activatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// FullName returns the member's display name
func (m *Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

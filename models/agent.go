package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Agent is a referring sales agent. SponsorID points at the upline agent that
// earns override commissions on this agent's enrollments.
type Agent struct {
	ID        primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	FullName  string              `json:"fullName" bson:"fullName"`
	Email     string              `json:"email" bson:"email"`
	SponsorID *primitive.ObjectID `json:"sponsorId,omitempty" bson:"sponsorId,omitempty"`
	IsActive  bool                `json:"isActive" bson:"isActive"`
	CreatedAt time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// HasSponsor reports whether the agent has an upline
func (a *Agent) HasSponsor() bool {
	return a.SponsorID != nil && !a.SponsorID.IsZero()
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReconciliationReport is produced by the auditor; it is never applied automatically
type ReconciliationReport struct {
	GeneratedAt                    time.Time       `json:"generatedAt"`
	BilledMembersWithoutPayment    []MemberSummary `json:"billedMembersWithoutPayment"`
	PaymentsWithoutMember          []Payment       `json:"paymentsWithoutMember"`
	ActiveMembersWithoutCommission []MemberSummary `json:"activeMembersWithoutCommission"`
}

// Empty reports whether the sweep found nothing to fix
func (r *ReconciliationReport) Empty() bool {
	return len(r.BilledMembersWithoutPayment) == 0 &&
		len(r.PaymentsWithoutMember) == 0 &&
		len(r.ActiveMembersWithoutCommission) == 0
}

// MemberSummary is the slice of a member an operator needs to act on a finding
type MemberSummary struct {
	ID           primitive.ObjectID `json:"id"`
	Email        string             `json:"email"`
	Name         string             `json:"name"`
	PlanTier     string             `json:"planTier"`
	CoverageTier string             `json:"coverageTier"`
	MonthlyPrice float64            `json:"monthlyPrice"`
	IsActive     bool               `json:"isActive"`
	EnrolledAt   time.Time          `json:"enrolledAt"`
}

// BackfillAudit records every corrective write made from reconciliation tooling
type BackfillAudit struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OperatorID string             `json:"operatorId" bson:"operatorId"`
	Action     string             `json:"action" bson:"action"`
	TargetID   string             `json:"targetId" bson:"targetId"`
	Reason     string             `json:"reason" bson:"reason"`
	Result     string             `json:"result" bson:"result"`
	CreatedAt  time.Time          `json:"createdAt" bson:"createdAt"`
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Payment methods that settle after the charge is confirmed. Their
// commissions start pending and are activated once the funds clear.
var deferredSettlementMethods = map[string]bool{
	"ach":    true,
	"echeck": true,
	"bank":   true,
}

// AttributionInput is a finalized payment and the member it activated
type AttributionInput struct {
	Member  *models.Member
	Payment *models.Payment
}

// AttributionResult holds the commissions of one payment. Replayed is set
// when they already existed.
type AttributionResult struct {
	Direct   *models.AgentCommission `json:"direct"`
	Override *models.AgentCommission `json:"override,omitempty"`
	Replayed bool                    `json:"replayed"`
}

type Attributor struct {
	rates       *RateTable
	agents      AgentStore
	commissions CommissionStore
	calendar    PayoutCalendar
	now         func() time.Time
}

func NewAttributor(rates *RateTable, agents AgentStore, commissions CommissionStore, calendar PayoutCalendar) *Attributor {
	return &Attributor{
		rates:       rates,
		agents:      agents,
		commissions: commissions,
		calendar:    calendar,
		now:         time.Now,
	}
}

// Attribute creates the direct commission for the enrolling agent and, when
// that agent has a sponsor, one override commission for the sponsor. Every
// amount is resolved before anything is written, so a missing rate creates
// nothing. Calling it again for the same payment returns the stored rows.
func (a *Attributor) Attribute(ctx context.Context, in AttributionInput) (*AttributionResult, error) {
	if in.Member == nil || in.Payment == nil {
		return nil, validationError("member and payment are required for attribution")
	}

	if existing, err := a.existing(ctx, in.Payment.ID); err != nil || existing != nil {
		return existing, err
	}

	if in.Member.AgentID.IsZero() {
		return nil, newPaymentError(KindConfigurationGap,
			fmt.Sprintf("member %s has no referring agent", in.Member.ID.Hex()), ErrNoReferringAgent)
	}
	agent, err := a.agents.FindByID(ctx, in.Member.AgentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindConfigurationGap,
				fmt.Sprintf("referring agent %s not found", in.Member.AgentID.Hex()), ErrNoReferringAgent)
		}
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}

	plan, coverage := planSnapshot(in.Member)
	directAmount, err := a.rates.Commission(plan, coverage, in.Member.AddOns)
	if err != nil {
		return nil, newPaymentError(KindConfigurationGap, "direct commission rate missing", err)
	}

	var overrideAmount float64
	if agent.HasSponsor() {
		amount, err := a.rates.Override(plan, coverage)
		if err != nil {
			return nil, newPaymentError(KindConfigurationGap, "override commission rate missing", err)
		}
		overrideAmount, _ = amount.Float64()
	}

	enrolled := in.Member.EnrolledAt
	if enrolled.IsZero() {
		enrolled = in.Payment.CreatedAt
	}
	status := models.CommissionStatusActive
	if deferredSettlementMethods[strings.ToLower(in.Payment.PaymentMethodType)] {
		status = models.CommissionStatusPending
	}

	now := a.now()
	base := models.AgentCommission{
		MemberID:            in.Member.ID,
		SubscriptionID:      in.Member.SubscriptionID,
		PaymentID:           in.Payment.ID,
		TransactionID:       in.Payment.TransactionID,
		PlanTier:            plan,
		CoverageTier:        coverage,
		AddOns:              append([]string(nil), in.Member.AddOns...),
		Status:              status,
		PaymentStatus:       models.CommissionUnpaid,
		EnrollmentDate:      enrolled,
		PaymentEligibleDate: a.calendar.EligibleDate(enrolled),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	direct := base
	direct.AgentID = agent.ID
	direct.CommissionType = models.CommissionTypeDirect
	direct.Amount, _ = directAmount.Float64()
	if err := a.commissions.Insert(ctx, &direct); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return a.existing(ctx, in.Payment.ID)
		}
		return nil, fmt.Errorf("failed to insert direct commission: %w", err)
	}
	result := &AttributionResult{Direct: &direct}

	if agent.HasSponsor() {
		override := base
		override.AgentID = *agent.SponsorID
		override.CommissionType = models.CommissionTypeOverride
		override.Amount = overrideAmount
		target := agent.ID
		override.OverrideTargetAgentID = &target
		if err := a.commissions.Insert(ctx, &override); err != nil {
			return nil, fmt.Errorf("failed to insert override commission: %w", err)
		}
		result.Override = &override
	}
	return result, nil
}

func (a *Attributor) existing(ctx context.Context, paymentID primitive.ObjectID) (*AttributionResult, error) {
	rows, err := a.commissions.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load commissions: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	result := &AttributionResult{Replayed: true}
	for i := range rows {
		switch rows[i].CommissionType {
		case models.CommissionTypeDirect:
			result.Direct = &rows[i]
		case models.CommissionTypeOverride:
			result.Override = &rows[i]
		}
	}
	return result, nil
}

// ActivateCommission moves a pending commission to active once its payment
// has settled.
func (a *Attributor) ActivateCommission(ctx context.Context, id primitive.ObjectID) (*models.AgentCommission, error) {
	ok, err := a.commissions.TransitionStatus(ctx, id, models.CommissionStatusPending, models.CommissionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to activate commission: %w", err)
	}
	commission, err := a.commissions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "commission not found", err)
		}
		return nil, err
	}
	if !ok {
		return nil, validationError("commission %s is %s, only pending commissions can be activated", id.Hex(), commission.Status)
	}
	return commission, nil
}

// CancelMemberCommissions cancels every commission of a member. Paid
// commissions keep their payment status.
func (a *Attributor) CancelMemberCommissions(ctx context.Context, memberID primitive.ObjectID) (int64, error) {
	n, err := a.commissions.CancelForMember(ctx, memberID, a.now())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel commissions: %w", err)
	}
	return n, nil
}

// planSnapshot returns the member's plan and coverage, splitting combined
// labels such as "Base/Member-Spouse".
func planSnapshot(m *models.Member) (plan, coverage string) {
	plan, coverage = m.PlanTier, m.CoverageTier
	if coverage == "" && strings.Contains(plan, "/") {
		plan, coverage = SplitPlanLabel(plan)
	}
	return strings.TrimSpace(plan), strings.TrimSpace(coverage)
}

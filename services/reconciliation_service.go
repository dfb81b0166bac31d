package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Backfill actions recorded in the audit trail
const (
	AuditActionLinkPayment = "link_orphan_payment"
	AuditActionReattribute = "reattribute_member"
)

// PermissionReconcile lets a non-admin operator run the reconciliation
// report and the backfill operations
const PermissionReconcile = "payments.reconcile"

// LinkPaymentInput asks for an orphaned payment to be finalized against a
// member chosen by an operator.
type LinkPaymentInput struct {
	TransactionID string             `json:"transactionId" validate:"required"`
	MemberID      primitive.ObjectID `json:"memberId" validate:"required"`
	PaymentToken  string             `json:"paymentToken,omitempty"`
	OperatorID    string             `json:"-"`
	Reason        string             `json:"reason" validate:"required"`
}

// ReattributeInput asks for commissions to be created for an active member
// whose attribution was missed.
type ReattributeInput struct {
	MemberID   primitive.ObjectID `json:"memberId" validate:"required"`
	OperatorID string             `json:"-"`
	Reason     string             `json:"reason" validate:"required"`
}

// Reconciler reports payment and commission gaps. Corrective writes go
// through the finalizer and the attributor and are audited.
type Reconciler struct {
	tx          Transactor
	members     MemberStore
	payments    PaymentStore
	commissions CommissionStore
	audits      BackfillAuditStore
	finalizer   *Finalizer
	attributor  *Attributor
	alerts      Alerter
	now         func() time.Time
}

func NewReconciler(tx Transactor, members MemberStore, payments PaymentStore, commissions CommissionStore, audits BackfillAuditStore, finalizer *Finalizer, attributor *Attributor, alerts Alerter) *Reconciler {
	if alerts == nil {
		alerts = LogAlerter{}
	}
	return &Reconciler{
		tx:          tx,
		members:     members,
		payments:    payments,
		commissions: commissions,
		audits:      audits,
		finalizer:   finalizer,
		attributor:  attributor,
		alerts:      alerts,
		now:         time.Now,
	}
}

// Audit builds the reconciliation report. It never writes.
func (r *Reconciler) Audit(ctx context.Context) (*models.ReconciliationReport, error) {
	report := &models.ReconciliationReport{
		GeneratedAt:                    r.now(),
		BilledMembersWithoutPayment:    []models.MemberSummary{},
		PaymentsWithoutMember:          []models.Payment{},
		ActiveMembersWithoutCommission: []models.MemberSummary{},
	}

	billed, err := r.members.ListBilled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list billed members: %w", err)
	}
	paid, err := r.payments.MemberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list paying members: %w", err)
	}
	for i := range billed {
		if !paid[billed[i].ID] {
			report.BilledMembersWithoutPayment = append(report.BilledMembersWithoutPayment, summarize(&billed[i]))
		}
	}

	unlinked, err := r.payments.ListUnlinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked payments: %w", err)
	}
	report.PaymentsWithoutMember = append(report.PaymentsWithoutMember, unlinked...)

	active, err := r.members.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active members: %w", err)
	}
	commissioned, err := r.commissions.MemberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissioned members: %w", err)
	}
	for i := range active {
		if !commissioned[active[i].ID] {
			report.ActiveMembersWithoutCommission = append(report.ActiveMembersWithoutCommission, summarize(&active[i]))
		}
	}
	return report, nil
}

// Sweep runs the audit, logs the counts and alerts operators when anything
// needs attention.
func (r *Reconciler) Sweep(ctx context.Context) (*models.ReconciliationReport, error) {
	report, err := r.Audit(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[RECONCILE] billed without payment=%d payments without member=%d active without commission=%d",
		len(report.BilledMembersWithoutPayment), len(report.PaymentsWithoutMember), len(report.ActiveMembersWithoutCommission))
	if report.Empty() {
		return report, nil
	}

	fields := map[string]string{
		"billedMembersWithoutPayment":    strconv.Itoa(len(report.BilledMembersWithoutPayment)),
		"paymentsWithoutMember":          strconv.Itoa(len(report.PaymentsWithoutMember)),
		"activeMembersWithoutCommission": strconv.Itoa(len(report.ActiveMembersWithoutCommission)),
		"at":                             report.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if len(report.PaymentsWithoutMember) > 0 {
		ids := make([]string, 0, len(report.PaymentsWithoutMember))
		for _, p := range report.PaymentsWithoutMember {
			ids = append(ids, p.TransactionID)
		}
		fields["unlinkedTransactions"] = strings.Join(ids, ",")
	}
	if err := r.alerts.Send(ctx, Alert{
		Kind:    AlertReconciliationGaps,
		Subject: "Reconciliation found payments or commissions to review",
		Fields:  fields,
	}); err != nil {
		log.Printf("[RECONCILE] failed to send alert: %v", err)
	}
	return report, nil
}

// LinkOrphanPayment finalizes an unlinked payment against the member an
// operator chose. The normal finalize path does the writes.
func (r *Reconciler) LinkOrphanPayment(ctx context.Context, in LinkPaymentInput) (*FinalizeResult, error) {
	if err := requireOperator(in.OperatorID, in.Reason); err != nil {
		return nil, err
	}
	if in.TransactionID == "" || in.MemberID.IsZero() {
		return nil, validationError("transactionId and memberId are required")
	}

	payment, err := r.payments.FindByTransactionID(ctx, in.TransactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "payment not found", err)
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment.IsLinked() && payment.Status == models.PaymentStatusSucceeded {
		return nil, validationError("payment %s is already linked to member %s", in.TransactionID, payment.MemberID.Hex())
	}
	if _, err := r.members.FindByID(ctx, in.MemberID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "member not found", err)
		}
		return nil, fmt.Errorf("failed to load member: %w", err)
	}

	token := in.PaymentToken
	if token == "" {
		token = payment.PaymentToken
	}
	if token == "" {
		return nil, validationError("payment %s has no stored token; supply the token from the gateway record", in.TransactionID)
	}

	result, err := r.finalizer.Finalize(ctx, CompletionInput{
		TransactionID:          payment.TransactionID,
		PaymentToken:           token,
		AuthorizationReference: payment.AuthorizationReference,
		PaymentMethodType:      payment.PaymentMethodType,
		Amount:                 payment.Amount,
		MemberID:               in.MemberID,
		LinkedBy:               in.OperatorID,
	})
	if err != nil {
		r.audit(ctx, in.OperatorID, AuditActionLinkPayment, in.TransactionID, in.Reason, "failed: "+err.Error())
		return nil, err
	}

	outcome := "linked to member " + in.MemberID.Hex()
	switch {
	case result.DuplicateCharge:
		outcome = "member already active; flagged as duplicate charge"
	case result.CommissionGap:
		outcome += "; commission gap"
	}
	r.audit(ctx, in.OperatorID, AuditActionLinkPayment, in.TransactionID, in.Reason, outcome)
	log.Printf("[RECONCILE] %s linked transaction=%s member=%s: %s", in.OperatorID, in.TransactionID, in.MemberID.Hex(), outcome)
	return result, nil
}

// ReattributeMember runs attribution for the payment that activated a
// member. Existing commissions are returned unchanged.
func (r *Reconciler) ReattributeMember(ctx context.Context, in ReattributeInput) (*AttributionResult, error) {
	if err := requireOperator(in.OperatorID, in.Reason); err != nil {
		return nil, err
	}
	member, err := r.members.FindByID(ctx, in.MemberID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "member not found", err)
		}
		return nil, fmt.Errorf("failed to load member: %w", err)
	}

	payments, err := r.payments.ListByMember(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member payments: %w", err)
	}
	payment := activatingPayment(member, payments)
	if payment == nil {
		return nil, validationError("member %s has no succeeded payment", member.ID.Hex())
	}

	var result *AttributionResult
	err = r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		result, err = r.attributor.Attribute(ctx, AttributionInput{Member: member, Payment: payment})
		return err
	})
	target := member.ID.Hex()
	if err != nil {
		r.audit(ctx, in.OperatorID, AuditActionReattribute, target, in.Reason, "failed: "+err.Error())
		return nil, err
	}

	outcome := "created commissions for transaction " + payment.TransactionID
	if result.Replayed {
		outcome = "commissions already existed for transaction " + payment.TransactionID
	}
	r.audit(ctx, in.OperatorID, AuditActionReattribute, target, in.Reason, outcome)
	log.Printf("[RECONCILE] %s reattributed member=%s: %s", in.OperatorID, target, outcome)
	return result, nil
}

func (r *Reconciler) audit(ctx context.Context, operator, action, target, reason, outcome string) {
	entry := &models.BackfillAudit{
		ID:         primitive.NewObjectID(),
		OperatorID: operator,
		Action:     action,
		TargetID:   target,
		Reason:     reason,
		Result:     outcome,
		CreatedAt:  r.now(),
	}
	if err := r.audits.Insert(ctx, entry); err != nil {
		log.Printf("[RECONCILE] failed to write audit entry %s %s: %v", action, target, err)
	}
}

func requireOperator(operator, reason string) error {
	if operator == "" {
		return newPaymentError(KindPermission, "backfill operations require an authenticated operator", nil)
	}
	if strings.TrimSpace(reason) == "" {
		return validationError("a reason is required for every backfill operation")
	}
	return nil
}

// activatingPayment prefers the payment that activated the member, else the
// earliest succeeded one.
func activatingPayment(member *models.Member, payments []models.Payment) *models.Payment {
	var first *models.Payment
	for i := range payments {
		p := &payments[i]
		if p.Status != models.PaymentStatusSucceeded {
			continue
		}
		if p.TransactionID == member.ActivationTransactionID {
			return p
		}
		if first == nil || p.CreatedAt.Before(first.CreatedAt) {
			first = p
		}
	}
	return first
}

func summarize(m *models.Member) models.MemberSummary {
	return models.MemberSummary{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.FullName(),
		PlanTier:     m.PlanTier,
		CoverageTier: m.CoverageTier,
		MonthlyPrice: m.MonthlyPrice,
		IsActive:     m.IsActive,
		EnrolledAt:   m.EnrolledAt,
	}
}

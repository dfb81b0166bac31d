package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories"
	"github.com/HSouheill/enrollment_backend/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Messages shown to the member
const (
	MessageSucceeded      = "Payment received. Your membership is active."
	MessageContactSupport = "Your payment was received, but we could not finish your enrollment automatically. Please contact support with reference %s. Do not pay again."
	MessageDuplicate      = "This membership was already paid by an earlier checkout. Support has been notified to review the extra charge with reference %s."
	MessageFailed         = "The payment was not completed. No charge was made."
	MessageNotConfirmed   = "The payment processor has not confirmed this payment."
	MessageVerifyLater    = "The payment could not be confirmed yet. Please try again shortly."
)

// openSessionStates are the states a decline may still move to failed
var openSessionStates = []string{
	models.SessionStateInitializing,
	models.SessionStateReady,
	models.SessionStateSubmitting,
}

// TransactionVerifier asks the gateway for its record of a transaction
type TransactionVerifier interface {
	GetTransactionStatus(ctx context.Context, transactionID string) (*GatewayTransaction, error)
}

// CompletionInput is a canonical gateway success
type CompletionInput struct {
	SessionID              string
	TransactionID          string
	PaymentToken           string
	AuthorizationReference string
	PaymentMethodType      string
	Amount                 float64
	MemberID               primitive.ObjectID
	RawPayload             string
	// LinkedBy is the operator who linked an orphaned payment
	LinkedBy string
}

// FinalizeResult is what one finalize produced. A replay returns the result
// of the run that created the payment.
type FinalizeResult struct {
	Payment         *models.Payment    `json:"payment"`
	Member          *models.Member     `json:"member,omitempty"`
	Commissions     *AttributionResult `json:"commissions,omitempty"`
	Replayed        bool               `json:"replayed"`
	CommissionGap   bool               `json:"commissionGap"`
	DuplicateCharge bool               `json:"duplicateCharge"`
	State           string             `json:"state"`
	Message         string             `json:"message"`
}

// FailureInput is a gateway decline reported by the browser
type FailureInput struct {
	SessionID     string
	TransactionID string
	MemberID      primitive.ObjectID
	Amount        float64
	StatusCode    string
	StatusMessage string
	RawPayload    string
}

type Finalizer struct {
	tx         Transactor
	members    MemberStore
	payments   PaymentStore
	sessions   SessionStore
	failures   FailureStore
	attributor *Attributor
	verifier   TransactionVerifier
	alerts     Alerter
	registry   *SessionRegistry
	now        func() time.Time
}

func NewFinalizer(tx Transactor, members MemberStore, payments PaymentStore, sessions SessionStore, failures FailureStore, attributor *Attributor, verifier TransactionVerifier, alerts Alerter, registry *SessionRegistry) *Finalizer {
	if alerts == nil {
		alerts = LogAlerter{}
	}
	return &Finalizer{
		tx:         tx,
		members:    members,
		payments:   payments,
		sessions:   sessions,
		failures:   failures,
		attributor: attributor,
		verifier:   verifier,
		alerts:     alerts,
		registry:   registry,
		now:        time.Now,
	}
}

// HandleSuccessCallback parses a raw success notification for a session and
// finalizes it.
func (f *Finalizer) HandleSuccessCallback(ctx context.Context, sessionID string, payload []byte) (*FinalizeResult, error) {
	session, err := f.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "payment session not found", err)
		}
		return nil, err
	}
	// A redelivered callback must not move a settled session back
	if _, err := f.sessions.TransitionState(ctx, sessionID, []string{models.SessionStateReady}, models.SessionStateSubmitting, ""); err != nil {
		log.Printf("[FINALIZE] failed to mark session %s submitting: %v", sessionID, err)
	}

	parsed, err := ParseCallback(payload, session.TransactionID)
	if err != nil {
		in := CompletionInput{
			SessionID:     session.SessionID,
			TransactionID: session.TransactionID,
			Amount:        session.Amount,
			MemberID:      session.MemberID,
			RawPayload:    truncate(string(payload), maxRawPayload),
		}
		if parsed != nil {
			in.TransactionID = parsed.TransactionID
			if parsed.Amount > 0 {
				in.Amount = parsed.Amount
			}
		}
		return nil, f.unfinalized(ctx, KindTokenExtraction, in, session, err)
	}

	if parsed.TransactionID != session.TransactionID {
		log.Printf("[FINALIZE] callback for session %s names transaction %s, using %s",
			sessionID, parsed.TransactionID, session.TransactionID)
	}
	amount := parsed.Amount
	if amount == 0 {
		amount = session.Amount
	}
	return f.Finalize(ctx, CompletionInput{
		SessionID:              session.SessionID,
		TransactionID:          session.TransactionID,
		PaymentToken:           parsed.PaymentToken,
		AuthorizationReference: parsed.AuthorizationReference,
		PaymentMethodType:      parsed.PaymentMethodType,
		Amount:                 amount,
		MemberID:               session.MemberID,
		RawPayload:             parsed.Raw,
	})
}

// HandleFailureCallback records a raw failure notification for a session
func (f *Finalizer) HandleFailureCallback(ctx context.Context, sessionID string, payload []byte) (*models.PaymentFailure, error) {
	session, err := f.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "payment session not found", err)
		}
		return nil, err
	}

	in := FailureInput{
		SessionID:     session.SessionID,
		TransactionID: session.TransactionID,
		MemberID:      session.MemberID,
		Amount:        session.Amount,
		RawPayload:    truncate(string(payload), maxRawPayload),
	}
	// A failure payload is kept even when nothing can be extracted from it
	if parsed, _ := ParseCallback(payload, session.TransactionID); parsed != nil {
		in.TransactionID = parsed.TransactionID
		in.StatusCode = parsed.StatusCode
		in.StatusMessage = parsed.StatusMessage
		if parsed.Amount > 0 {
			in.Amount = parsed.Amount
		}
	}
	return f.RecordFailure(ctx, in)
}

// Finalize records a confirmed charge, activates the member and creates the
// commissions in one transaction. The transaction id is the idempotency key:
// a second call for a succeeded transaction returns the first result. The
// charge is confirmed with the gateway first; the browser's word is never
// proof of payment.
func (f *Finalizer) Finalize(ctx context.Context, in CompletionInput) (*FinalizeResult, error) {
	session, err := f.lookupSession(ctx, in)
	if err != nil {
		return nil, err
	}
	if session != nil && in.TransactionID != "" && in.TransactionID != session.TransactionID {
		return nil, validationError("transaction %s does not belong to session %s", in.TransactionID, session.SessionID)
	}
	if in.TransactionID == "" && session != nil {
		in.TransactionID = session.TransactionID
	}
	if in.TransactionID == "" {
		return nil, validationError("transactionId is required")
	}
	if session != nil {
		if in.SessionID == "" {
			in.SessionID = session.SessionID
		}
		if in.MemberID.IsZero() {
			in.MemberID = session.MemberID
		}
		if in.Amount == 0 {
			in.Amount = session.Amount
		}
	}

	// A settled transaction replays without asking the gateway again
	if existing, err := f.payments.FindByTransactionID(ctx, in.TransactionID); err == nil && existing.Status == models.PaymentStatusSucceeded {
		return f.replay(ctx, existing)
	}
	if err := f.verify(ctx, &in, session); err != nil {
		return nil, err
	}

	if in.PaymentToken == "" {
		return nil, f.unfinalized(ctx, KindTokenExtraction, in, session,
			newPaymentError(KindTokenExtraction, "completion carried no payment token", ErrTokenNotFound))
	}
	if in.MemberID.IsZero() {
		return nil, f.unfinalized(ctx, KindOrphanedSuccess, in, session, errors.New("no member is associated with the transaction"))
	}

	var result *FinalizeResult
	var gapErr error
	err = f.tx.WithTransaction(ctx, func(ctx context.Context) error {
		result, gapErr = nil, nil

		existing, err := f.payments.FindByTransactionID(ctx, in.TransactionID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if existing != nil && existing.Status == models.PaymentStatusSucceeded {
			result = &FinalizeResult{Payment: existing, Replayed: true}
			return nil
		}
		if existing != nil && existing.Metadata[models.PaymentMetaDuplicateCharge] == true {
			result = &FinalizeResult{Payment: existing, Replayed: true, DuplicateCharge: true}
			return nil
		}

		member, err := f.members.FindByID(ctx, in.MemberID)
		if err != nil {
			return fmt.Errorf("failed to load member %s: %w", in.MemberID.Hex(), err)
		}

		now := f.now()
		payment := f.buildPayment(in, session, member, existing, now)

		activated, err := f.members.Activate(ctx, member.ID, in.TransactionID, now)
		if err != nil {
			return fmt.Errorf("failed to activate member: %w", err)
		}
		if !activated && member.ActivationTransactionID != in.TransactionID {
			// Another session already paid for this membership
			payment.Status = models.PaymentStatusPending
			payment.Metadata[models.PaymentMetaDuplicateCharge] = true
			payment.Metadata[models.PaymentMetaDuplicateOf] = member.ActivationTransactionID
			if err := f.savePayment(ctx, payment, existing != nil); err != nil {
				return err
			}
			result = &FinalizeResult{Payment: payment, Member: member, DuplicateCharge: true}
			return nil
		}
		if activated {
			member.IsActive = true
			member.ActivationTransactionID = in.TransactionID
			member.ActivatedAt = &now
		}

		if err := f.savePayment(ctx, payment, existing != nil); err != nil {
			return err
		}

		commissions, err := f.attributor.Attribute(ctx, AttributionInput{Member: member, Payment: payment})
		if err != nil {
			if KindOf(err) != KindConfigurationGap {
				return fmt.Errorf("commission attribution failed: %w", err)
			}
			// A missing rate never blocks activation
			gapErr = err
		}
		result = &FinalizeResult{Payment: payment, Member: member, Commissions: commissions, CommissionGap: gapErr != nil}
		return nil
	})

	if err != nil && errors.Is(err, repositories.ErrDuplicate) {
		// A concurrent finalize for the same transaction committed first
		if winner, findErr := f.payments.FindByTransactionID(ctx, in.TransactionID); findErr == nil && winner.Status == models.PaymentStatusSucceeded {
			return f.replay(ctx, winner)
		}
	}
	if err != nil {
		return nil, f.unfinalized(ctx, KindOrphanedSuccess, in, session, err)
	}

	if result.Replayed && !result.DuplicateCharge {
		return f.replay(ctx, result.Payment)
	}

	switch {
	case result.DuplicateCharge && result.Replayed:
		result.State = models.SessionStateNeedsManualFinalize
		result.Message = fmt.Sprintf(MessageDuplicate, in.TransactionID)
		return result, nil
	case result.DuplicateCharge:
		result.State = models.SessionStateNeedsManualFinalize
		result.Message = fmt.Sprintf(MessageDuplicate, in.TransactionID)
		log.Printf("[FINALIZE] duplicate charge transaction=%s member=%s first=%s amount=%.2f",
			in.TransactionID, in.MemberID.Hex(), result.Member.ActivationTransactionID, result.Payment.Amount)
		f.alert(ctx, Alert{
			Kind:    AlertDuplicateCharge,
			Subject: "Duplicate membership charge needs refund review",
			Fields:  alertFields(in, map[string]string{"firstTransactionId": result.Member.ActivationTransactionID}),
		})
	default:
		result.State = models.SessionStateSucceeded
		result.Message = MessageSucceeded
		log.Printf("[FINALIZE] transaction=%s member=%s amount=%.2f finalized", in.TransactionID, in.MemberID.Hex(), result.Payment.Amount)
	}
	if result.CommissionGap {
		log.Printf("[FINALIZE] commission gap for transaction=%s member=%s: %v", in.TransactionID, in.MemberID.Hex(), gapErr)
		f.alert(ctx, Alert{
			Kind:    AlertConfigurationGap,
			Subject: "Member activated without a commission record",
			Fields:  alertFields(in, map[string]string{"error": gapErr.Error()}),
		})
	}

	f.settleSession(ctx, in, result.State, result.Message, result.Payment)
	return result, nil
}

// RecordFailure stores a declined payment for audit. Member state is not
// touched.
func (f *Finalizer) RecordFailure(ctx context.Context, in FailureInput) (*models.PaymentFailure, error) {
	if in.SessionID == "" && in.TransactionID == "" && in.MemberID.IsZero() {
		return nil, validationError("a session id, transaction id or member id is required")
	}
	failure := &models.PaymentFailure{
		ID:            primitive.NewObjectID(),
		Kind:          models.FailureKindDeclined,
		SessionID:     in.SessionID,
		TransactionID: in.TransactionID,
		MemberID:      in.MemberID,
		Amount:        utils.RoundMoney(in.Amount),
		StatusCode:    utils.SanitizeInput(in.StatusCode),
		StatusMessage: utils.SanitizeInput(in.StatusMessage),
		RawPayload:    auditPayload(in.RawPayload),
		CreatedAt:     f.now(),
	}
	if err := f.failures.Insert(ctx, failure); err != nil {
		return nil, fmt.Errorf("failed to record payment failure: %w", err)
	}

	f.failSession(ctx, in.SessionID, in.TransactionID, failure.StatusMessage)
	log.Printf("[FINALIZE] payment declined session=%s transaction=%s code=%s", in.SessionID, in.TransactionID, failure.StatusCode)
	return failure, nil
}

// failSession moves a session that has not settled to failed. A decline that
// arrives after the charge succeeded is audit only.
func (f *Finalizer) failSession(ctx context.Context, sessionID, transactionID, message string) {
	if sessionID == "" {
		return
	}
	moved, err := f.sessions.TransitionState(ctx, sessionID, openSessionStates, models.SessionStateFailed, message)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			log.Printf("[FINALIZE] failed to mark session %s failed: %v", sessionID, err)
		}
		return
	}
	if !moved {
		log.Printf("[FINALIZE] session %s already settled, late failure kept for audit only", sessionID)
		return
	}
	if f.registry != nil {
		f.registry.Resolve(SessionResult{
			SessionID:     sessionID,
			State:         models.SessionStateFailed,
			Message:       MessageFailed,
			TransactionID: transactionID,
		})
	}
}

// verify confirms the charge with the gateway. The gateway's amount replaces
// whatever the client reported. A transaction the gateway has not approved is
// recorded and never finalized.
func (f *Finalizer) verify(ctx context.Context, in *CompletionInput, session *models.PaymentSession) error {
	if f.verifier == nil {
		return newPaymentError(KindGatewayUnavailable, MessageVerifyLater, errors.New("no transaction verifier configured"))
	}
	tx, err := f.verifier.GetTransactionStatus(ctx, in.TransactionID)
	if err != nil {
		log.Printf("[FINALIZE] could not verify transaction=%s: %v", in.TransactionID, err)
		return newPaymentError(KindGatewayUnavailable, MessageVerifyLater, err)
	}

	if !tx.Approved() {
		log.Printf("[FINALIZE] transaction=%s not approved by gateway, status=%s", in.TransactionID, tx.Status)
		failure := &models.PaymentFailure{
			ID:            primitive.NewObjectID(),
			Kind:          models.FailureKindUnverified,
			SessionID:     in.SessionID,
			TransactionID: in.TransactionID,
			MemberID:      in.MemberID,
			Amount:        utils.RoundMoney(in.Amount),
			StatusCode:    tx.Status,
			StatusMessage: ErrNotApproved.Error(),
			RawPayload:    auditPayload(in.RawPayload),
			CreatedAt:     f.now(),
		}
		if err := f.failures.Insert(ctx, failure); err != nil {
			log.Printf("[FINALIZE] failed to record unverified transaction %s: %v", in.TransactionID, err)
		}
		if tx.Status == TransactionDeclined {
			f.failSession(ctx, in.SessionID, in.TransactionID, MessageFailed)
		}
		return newPaymentError(KindUnverified, MessageNotConfirmed, fmt.Errorf("%w: status %s", ErrNotApproved, tx.Status))
	}

	expected := in.Amount
	if session != nil {
		expected = session.Amount
	}
	reported := in.Amount
	in.Amount = tx.Amount
	if in.AuthorizationReference == "" {
		in.AuthorizationReference = tx.AuthorizationReference
	}
	// An operator linking an orphan has already reviewed the amount
	if in.LinkedBy == "" && expected > 0 && !utils.MoneyEqual(tx.Amount, expected) {
		return f.unfinalized(ctx, KindOrphanedSuccess, *in, session,
			fmt.Errorf("gateway charged %.2f but %.2f was expected", tx.Amount, expected))
	}
	if !utils.MoneyEqual(reported, tx.Amount) && reported > 0 {
		log.Printf("[FINALIZE] transaction=%s client reported %.2f, gateway charged %.2f", in.TransactionID, reported, tx.Amount)
	}
	return nil
}

func (f *Finalizer) lookupSession(ctx context.Context, in CompletionInput) (*models.PaymentSession, error) {
	var session *models.PaymentSession
	var err error
	switch {
	case in.SessionID != "":
		session, err = f.sessions.FindBySessionID(ctx, in.SessionID)
	case in.TransactionID != "":
		session, err = f.sessions.FindByTransactionID(ctx, in.TransactionID)
	default:
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			if in.SessionID != "" {
				return nil, newPaymentError(KindNotFound, "payment session not found", err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

func (f *Finalizer) buildPayment(in CompletionInput, session *models.PaymentSession, member *models.Member, existing *models.Payment, now time.Time) *models.Payment {
	payment := &models.Payment{
		ID:        primitive.NewObjectID(),
		Currency:  "USD",
		CreatedAt: now,
		Metadata:  map[string]interface{}{},
	}
	if existing != nil {
		payment = existing
		if payment.Metadata == nil {
			payment.Metadata = map[string]interface{}{}
		}
		delete(payment.Metadata, models.PaymentMetaOrphaned)
		delete(payment.Metadata, models.PaymentMetaFinalizeError)
	}

	payment.MemberID = member.ID
	payment.SessionID = in.SessionID
	payment.Amount = utils.RoundMoney(in.Amount)
	payment.Status = models.PaymentStatusSucceeded
	payment.TransactionID = in.TransactionID
	payment.PaymentToken = in.PaymentToken
	payment.AuthorizationReference = in.AuthorizationReference
	payment.PaymentMethodType = in.PaymentMethodType
	payment.UpdatedAt = now
	if in.LinkedBy != "" {
		payment.Metadata[models.PaymentMetaLinkedBy] = in.LinkedBy
	}
	if session != nil {
		if session.Currency != "" {
			payment.Currency = session.Currency
		}
		if !utils.MoneyEqual(in.Amount, session.Amount) {
			payment.Metadata[models.PaymentMetaAmountMismatch] = fmt.Sprintf("charged %.2f, session %.2f", in.Amount, session.Amount)
		}
	}
	return payment
}

func (f *Finalizer) savePayment(ctx context.Context, payment *models.Payment, exists bool) error {
	var err error
	if exists {
		err = f.payments.Update(ctx, payment)
	} else {
		err = f.payments.Insert(ctx, payment)
	}
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// replay rebuilds the result of the finalize that created payment
func (f *Finalizer) replay(ctx context.Context, payment *models.Payment) (*FinalizeResult, error) {
	result := &FinalizeResult{
		Payment:  payment,
		Replayed: true,
		State:    models.SessionStateSucceeded,
		Message:  MessageSucceeded,
	}
	if payment.IsLinked() {
		if member, err := f.members.FindByID(ctx, payment.MemberID); err == nil {
			result.Member = member
		}
	}
	commissions, err := f.attributor.existing(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	result.Commissions = commissions
	result.CommissionGap = commissions == nil
	return result, nil
}

// unfinalized handles a confirmed charge that could not be finalized: it
// keeps an unlinked pending payment, writes the audit record, logs the
// ORPHANED_SUCCESS line and alerts operators. The returned error is never
// retryable.
func (f *Finalizer) unfinalized(ctx context.Context, kind ErrorKind, in CompletionInput, session *models.PaymentSession, cause error) error {
	now := f.now()
	sessionID := in.SessionID
	if sessionID == "" && session != nil {
		sessionID = session.SessionID
	}

	log.Printf("ORPHANED_SUCCESS kind=%s transaction=%s amount=%.2f member=%s session=%s at=%s error=%v",
		kind, in.TransactionID, in.Amount, in.MemberID.Hex(), sessionID, now.UTC().Format(time.RFC3339), cause)

	if in.TransactionID != "" {
		orphan := &models.Payment{
			ID:                     primitive.NewObjectID(),
			SessionID:              sessionID,
			Amount:                 utils.RoundMoney(in.Amount),
			Currency:               "USD",
			Status:                 models.PaymentStatusPending,
			TransactionID:          in.TransactionID,
			PaymentToken:           in.PaymentToken,
			AuthorizationReference: in.AuthorizationReference,
			PaymentMethodType:      in.PaymentMethodType,
			Metadata: map[string]interface{}{
				models.PaymentMetaOrphaned:      true,
				models.PaymentMetaFinalizeError: cause.Error(),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if !in.MemberID.IsZero() {
			orphan.Metadata[models.PaymentMetaIntendedMemberID] = in.MemberID.Hex()
		}
		if err := f.payments.Insert(ctx, orphan); err != nil && !errors.Is(err, repositories.ErrDuplicate) {
			log.Printf("[FINALIZE] failed to keep orphan payment %s: %v", in.TransactionID, err)
		}
	}

	failureKind := models.FailureKindOrphanedSuccess
	if kind == KindTokenExtraction {
		failureKind = models.FailureKindTokenExtraction
	}
	failure := &models.PaymentFailure{
		ID:            primitive.NewObjectID(),
		Kind:          failureKind,
		SessionID:     sessionID,
		TransactionID: in.TransactionID,
		MemberID:      in.MemberID,
		Amount:        utils.RoundMoney(in.Amount),
		StatusMessage: cause.Error(),
		RawPayload:    auditPayload(in.RawPayload),
		CreatedAt:     now,
	}
	if err := f.failures.Insert(ctx, failure); err != nil {
		log.Printf("[FINALIZE] failed to record orphaned success %s: %v", in.TransactionID, err)
	}

	alertKind := AlertOrphanedSuccess
	if kind == KindTokenExtraction {
		alertKind = AlertTokenExtraction
	}
	f.alert(ctx, Alert{
		Kind:    alertKind,
		Subject: "Charge succeeded but enrollment was not finalized",
		Fields:  alertFields(in, map[string]string{"sessionId": sessionID, "error": cause.Error()}),
	})

	message := fmt.Sprintf(MessageContactSupport, in.TransactionID)
	in.SessionID = sessionID
	f.settleSession(ctx, in, models.SessionStateNeedsManualFinalize, message, nil)
	return newPaymentError(kind, message, cause)
}

func (f *Finalizer) settleSession(ctx context.Context, in CompletionInput, state, message string, payment *models.Payment) {
	if in.SessionID == "" {
		return
	}
	if err := f.sessions.UpdateState(ctx, in.SessionID, state, message); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		log.Printf("[FINALIZE] failed to update session %s: %v", in.SessionID, err)
	}
	if f.registry != nil {
		res := SessionResult{SessionID: in.SessionID, State: state, Message: message, TransactionID: in.TransactionID}
		if payment != nil {
			res.PaymentID = payment.ID.Hex()
		}
		f.registry.Resolve(res)
	}
}

func (f *Finalizer) alert(ctx context.Context, alert Alert) {
	if err := f.alerts.Send(ctx, alert); err != nil {
		log.Printf("[FINALIZE] failed to send %s alert: %v", alert.Kind, err)
	}
}

func alertFields(in CompletionInput, extra map[string]string) map[string]string {
	fields := map[string]string{
		"transactionId": in.TransactionID,
		"amount":        fmt.Sprintf("%.2f", in.Amount),
		"memberId":      in.MemberID.Hex(),
		"at":            time.Now().UTC().Format(time.RFC3339),
	}
	if in.SessionID != "" {
		fields["sessionId"] = in.SessionID
	}
	for k, v := range extra {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

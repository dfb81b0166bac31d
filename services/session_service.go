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
	"github.com/HSouheill/enrollment_backend/utils"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PermissionAmountOverride lets an operator charge an amount other than the
// catalog price
const PermissionAmountOverride = "payments.amount_override"

// Caller is the authenticated identity behind a request, if any
type Caller struct {
	UserID      string
	UserType    string
	Permissions []string
}

// Can reports whether the caller holds permission. Admins hold all.
func (c *Caller) Can(permission string) bool {
	if c == nil {
		return false
	}
	if c.UserType == "admin" {
		return true
	}
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

type Gateway interface {
	CreateSession(ctx context.Context, req models.GatewaySessionRequest) (*GatewaySession, error)
}

type AntiBot interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// CreateSessionInput is everything needed to open a hosted checkout
type CreateSessionInput struct {
	MemberID       primitive.ObjectID
	SubscriptionID primitive.ObjectID
	Amount         float64
	Currency       string
	Email          string
	FirstName      string
	LastName       string
	Description    string
	BillingAddress models.Address
	AntiBotToken   string
	RemoteIP       string

	// Bank details are checked locally when the member pays by ACH
	RoutingNumber string
	AccountNumber string

	AmountOverride *float64
	OverrideReason string
	Caller         *Caller
}

// CheckoutForm is the field set the hosted checkout script reads from the page
type CheckoutForm struct {
	Amount            string `json:"amount"`
	OrderNumber       string `json:"orderNumber"`
	InvoiceNumber     string `json:"invoiceNumber"`
	PublicKey         string `json:"publicKey"`
	TerminalProfileID string `json:"terminalProfileId"`
	CaptchaToken      string `json:"captchaToken"`
	SuccessCallback   string `json:"successCallback"`
	FailureCallback   string `json:"failureCallback"`
	ScriptURL         string `json:"scriptUrl"`
}

// SessionDescriptor is returned to the client that opened the session
type SessionDescriptor struct {
	Success       bool         `json:"success"`
	SessionID     string       `json:"sessionId"`
	TransactionID string       `json:"transactionId"`
	ScriptURL     string       `json:"scriptUrl"`
	PublicKey     string       `json:"publicKey,omitempty"`
	TerminalID    string       `json:"terminalId,omitempty"`
	Amount        float64      `json:"amount"`
	State         string       `json:"state"`
	CheckoutForm  CheckoutForm `json:"checkoutForm"`
}

type SessionService struct {
	members  MemberStore
	sessions SessionStore
	gateway  Gateway
	antiBot  AntiBot
	registry *SessionRegistry
	now      func() time.Time
}

func NewSessionService(members MemberStore, sessions SessionStore, gateway Gateway, antiBot AntiBot, registry *SessionRegistry) *SessionService {
	return &SessionService{
		members:  members,
		sessions: sessions,
		gateway:  gateway,
		antiBot:  antiBot,
		registry: registry,
		now:      time.Now,
	}
}

// CreateSession validates the request locally, verifies the anti-bot token
// and opens a hosted checkout session. No payment row is written here.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*SessionDescriptor, error) {
	if in.MemberID.IsZero() {
		return nil, validationError("memberId is required")
	}
	member, err := s.members.FindByID(ctx, in.MemberID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "member not found", err)
		}
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	if member.IsActive {
		return nil, validationError("member %s is already active", member.ID.Hex())
	}

	amount, err := resolveAmount(in, member.MonthlyPrice)
	if err != nil {
		return nil, err
	}
	if err := validateBilling(&in, member); err != nil {
		return nil, err
	}

	if err := s.antiBot.Verify(ctx, in.AntiBotToken, in.RemoteIP); err != nil {
		return nil, newPaymentError(KindSessionCreation, "anti-bot verification failed", err)
	}

	now := s.now()
	session := &models.PaymentSession{
		SessionID:      uuid.New().String(),
		TransactionID:  newOrderNumber(now),
		MemberID:       member.ID,
		SubscriptionID: in.SubscriptionID,
		Amount:         amount,
		CatalogAmount:  member.MonthlyPrice,
		Currency:       in.Currency,
		Description:    in.Description,
		Email:          in.Email,
		CustomerName:   strings.TrimSpace(in.FirstName + " " + in.LastName),
		BillingAddress: in.BillingAddress,
		AntiBotToken:   in.AntiBotToken,
		State:          models.SessionStateInitializing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if session.SubscriptionID.IsZero() {
		session.SubscriptionID = member.SubscriptionID
	}
	if session.Description == "" {
		session.Description = strings.TrimSpace(member.PlanTier + " " + member.CoverageTier + " membership")
	}
	if in.AmountOverride != nil {
		session.AmountOverridden = true
		session.OverrideReason = in.OverrideReason
		session.OverrideBy = in.Caller.UserID
		log.Printf("[SESSION] amount override by %s for member %s: %.2f (catalog %.2f): %s",
			in.Caller.UserID, member.ID.Hex(), amount, member.MonthlyPrice, in.OverrideReason)
	}
	session.SuccessCallback, session.FailureCallback = callbackNames(session.SessionID)

	gw, err := s.gateway.CreateSession(ctx, models.GatewaySessionRequest{
		Amount:       amount,
		Currency:     session.Currency,
		OrderNumber:  session.TransactionID,
		Invoice:      session.TransactionID,
		CustomerID:   member.ID.Hex(),
		Email:        session.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Address:      in.BillingAddress,
		CaptchaToken: in.AntiBotToken,
	})
	if err != nil {
		return nil, newPaymentError(KindSessionCreation, "payment gateway unavailable, please retry", err)
	}
	session.GatewaySessionToken = gw.SessionToken
	session.ScriptURL = gw.ScriptURL
	session.PublicKey = gw.PublicKey
	session.TerminalID = gw.TerminalID
	session.State = models.SessionStateReady

	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, newPaymentError(KindSessionCreation, "failed to store payment session", err)
	}
	if s.registry != nil {
		s.registry.Register(session.SessionID)
	}

	return &SessionDescriptor{
		Success:       true,
		SessionID:     session.SessionID,
		TransactionID: session.TransactionID,
		ScriptURL:     session.ScriptURL,
		PublicKey:     session.PublicKey,
		TerminalID:    session.TerminalID,
		Amount:        session.Amount,
		State:         session.State,
		CheckoutForm:  BuildCheckoutForm(session),
	}, nil
}

// GetSession returns a stored session by its id
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	session, err := s.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newPaymentError(KindNotFound, "payment session not found", err)
		}
		return nil, err
	}
	return session, nil
}

// BuildCheckoutForm returns the fields the hosted checkout script reads
func BuildCheckoutForm(session *models.PaymentSession) CheckoutForm {
	return CheckoutForm{
		Amount:            strconv.FormatFloat(utils.RoundMoney(session.Amount), 'f', 2, 64),
		OrderNumber:       session.TransactionID,
		InvoiceNumber:     session.TransactionID,
		PublicKey:         session.PublicKey,
		TerminalProfileID: session.TerminalID,
		CaptchaToken:      session.AntiBotToken,
		SuccessCallback:   session.SuccessCallback,
		FailureCallback:   session.FailureCallback,
		ScriptURL:         session.ScriptURL,
	}
}

// callbackNames derives per-session browser hook names. Dashes are dropped
// so the names are valid script identifiers.
func callbackNames(sessionID string) (success, failure string) {
	id := strings.ReplaceAll(sessionID, "-", "")
	return "paymentSuccess_" + id, "paymentFailure_" + id
}

func newOrderNumber(now time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return fmt.Sprintf("ENR-%s-%s", now.UTC().Format("20060102"), id[:12])
}

// resolveAmount returns the amount to charge: the catalog price, or an
// override from a caller holding the override permission.
func resolveAmount(in CreateSessionInput, catalog float64) (float64, error) {
	if in.AmountOverride != nil {
		if !in.Caller.Can(PermissionAmountOverride) {
			return 0, newPaymentError(KindPermission, "amount override is not permitted for this user", ErrAmountOverrideForbidden)
		}
		if strings.TrimSpace(in.OverrideReason) == "" {
			return 0, validationError("an amount override requires a reason")
		}
		if *in.AmountOverride <= 0 {
			return 0, validationError("amount must be greater than zero")
		}
		return utils.RoundMoney(*in.AmountOverride), nil
	}

	amount := in.Amount
	if amount == 0 {
		amount = catalog
	}
	if amount <= 0 {
		return 0, validationError("amount must be greater than zero")
	}
	if catalog > 0 && !utils.MoneyEqual(amount, catalog) {
		return 0, validationError("amount %.2f does not match the plan price %.2f", amount, catalog)
	}
	return utils.RoundMoney(amount), nil
}

// validateBilling rejects malformed contact and bank details before the
// gateway is contacted. Missing fields are filled from the member record.
func validateBilling(in *CreateSessionInput, member *models.Member) error {
	if in.Email == "" {
		in.Email = member.Email
	}
	email, err := utils.SanitizeEmail(in.Email)
	if err != nil {
		return validationError("%v", err)
	}
	in.Email = email

	if in.FirstName == "" && in.LastName == "" {
		in.FirstName, in.LastName = member.FirstName, member.LastName
	}
	in.FirstName = utils.SanitizeInput(in.FirstName)
	in.LastName = utils.SanitizeInput(in.LastName)

	if in.BillingAddress.Line1 == "" {
		in.BillingAddress = member.BillingAddress
	}
	addr := in.BillingAddress
	if err := utils.ValidateUSAddress(addr.Line1, addr.City, addr.State, addr.PostalCode); err != nil {
		return validationError("%v", err)
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}

	if in.RoutingNumber != "" || in.AccountNumber != "" {
		if err := utils.ValidateRoutingNumber(in.RoutingNumber); err != nil {
			return validationError("%v", err)
		}
		if err := utils.ValidateAccountNumber(in.AccountNumber); err != nil {
			return validationError("%v", err)
		}
	}
	return nil
}

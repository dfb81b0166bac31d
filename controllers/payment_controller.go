// controllers/payment_controller.go
package controllers

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxCallbackBody bounds the raw callback payload read from the browser
const maxCallbackBody = 64 << 10

// PaymentController handles hosted checkout sessions and their callbacks
type PaymentController struct {
	Sessions  *services.SessionService
	Finalizer *services.Finalizer
}

// NewPaymentController creates a new payment controller
func NewPaymentController(sessions *services.SessionService, finalizer *services.Finalizer) *PaymentController {
	return &PaymentController{Sessions: sessions, Finalizer: finalizer}
}

// CreateSessionRequest is the body of POST /api/payments/sessions
type CreateSessionRequest struct {
	MemberID       primitive.ObjectID `json:"memberId" validate:"required"`
	SubscriptionID primitive.ObjectID `json:"subscriptionId"`
	Amount         float64            `json:"amount" validate:"gte=0"`
	Currency       string             `json:"currency" validate:"omitempty,len=3"`
	Email          string             `json:"email" validate:"omitempty,email"`
	FirstName      string             `json:"firstName"`
	LastName       string             `json:"lastName"`
	Description    string             `json:"description"`
	BillingAddress *models.Address    `json:"billingAddress" validate:"omitempty"`
	CaptchaToken   string             `json:"captchaToken"`
	RoutingNumber  string             `json:"routingNumber"`
	AccountNumber  string             `json:"accountNumber"`
	AmountOverride *float64           `json:"amountOverride"`
	OverrideReason string             `json:"overrideReason"`
}

// CompleteRequest is the structured completion posted by the client
type CompleteRequest struct {
	SessionID              string  `json:"sessionId" validate:"required"`
	TransactionID          string  `json:"transactionId"`
	PaymentToken           string  `json:"paymentToken"`
	AuthorizationReference string  `json:"authorizationReference"`
	PaymentMethodType      string  `json:"paymentMethodType"`
	Amount                 float64 `json:"amount" validate:"gte=0"`
}

// RecordFailureRequest is a declined payment reported for audit
type RecordFailureRequest struct {
	SessionID     string             `json:"sessionId"`
	TransactionID string             `json:"transactionId"`
	MemberID      primitive.ObjectID `json:"memberId"`
	Amount        float64            `json:"amount" validate:"gte=0"`
	StatusCode    string             `json:"statusCode"`
	StatusMessage string             `json:"statusMessage"`
	RawPayload    string             `json:"rawPayload"`
}

// SessionStatus is the public view of a payment session
type SessionStatus struct {
	SessionID     string  `json:"sessionId"`
	TransactionID string  `json:"transactionId"`
	State         string  `json:"state"`
	Message       string  `json:"message,omitempty"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// CreateSession opens a hosted checkout session
func (pc *PaymentController) CreateSession(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var req CreateSessionRequest
	if msg := decodeRequest(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	in := services.CreateSessionInput{
		MemberID:       req.MemberID,
		SubscriptionID: req.SubscriptionID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Description:    req.Description,
		AntiBotToken:   req.CaptchaToken,
		RemoteIP:       c.RealIP(),
		RoutingNumber:  req.RoutingNumber,
		AccountNumber:  req.AccountNumber,
		AmountOverride: req.AmountOverride,
		OverrideReason: req.OverrideReason,
		Caller:         middleware.CallerFromContext(c),
	}
	if req.BillingAddress != nil {
		in.BillingAddress = *req.BillingAddress
	}

	desc, err := pc.Sessions.CreateSession(ctx, in)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Payment session created",
		Data:    desc,
	})
}

// GetSession returns the state of a payment session
func (pc *PaymentController) GetSession(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := pc.Sessions.GetSession(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payment session retrieved",
		Data: SessionStatus{
			SessionID:     session.SessionID,
			TransactionID: session.TransactionID,
			State:         session.State,
			Message:       session.Message,
			Amount:        session.Amount,
			Currency:      session.Currency,
		},
	})
}

// GetCheckoutForm returns the fields the hosted checkout script reads
func (pc *PaymentController) GetCheckoutForm(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := pc.Sessions.GetSession(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if session.State != models.SessionStateReady {
		return c.JSON(http.StatusConflict, models.Response{
			Status:  http.StatusConflict,
			Message: "Payment session is no longer open",
			Data:    SessionStatus{SessionID: session.SessionID, State: session.State},
		})
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Checkout form retrieved",
		Data:    services.BuildCheckoutForm(session),
	})
}

// HandleSuccessCallback receives the raw argument the hosted page passed to
// the session's success hook
func (pc *PaymentController) HandleSuccessCallback(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessionID := c.Param("id")
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return badRequest(c, "Failed to read callback payload")
	}
	log.Printf("[CALLBACK] success callback for session %s (%d bytes)", sessionID, len(payload))

	result, err := pc.Finalizer.HandleSuccessCallback(ctx, sessionID, payload)
	if err != nil {
		return respondError(c, err)
	}
	return respondFinalized(c, result)
}

// HandleFailureCallback receives the raw argument the hosted page passed to
// the session's failure hook
func (pc *PaymentController) HandleFailureCallback(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionID := c.Param("id")
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return badRequest(c, "Failed to read callback payload")
	}
	log.Printf("[CALLBACK] failure callback for session %s (%d bytes)", sessionID, len(payload))

	failure, err := pc.Finalizer.HandleFailureCallback(ctx, sessionID, payload)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: services.MessageFailed,
		Data:    failure,
	})
}

// Complete finalizes a structured completion for a session. Nothing is
// written until the gateway confirms the charge.
func (pc *PaymentController) Complete(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var req CompleteRequest
	if msg := decodeRequest(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	result, err := pc.Finalizer.Finalize(ctx, services.CompletionInput{
		SessionID:              req.SessionID,
		TransactionID:          req.TransactionID,
		PaymentToken:           req.PaymentToken,
		AuthorizationReference: req.AuthorizationReference,
		PaymentMethodType:      req.PaymentMethodType,
		Amount:                 req.Amount,
	})
	if err != nil {
		return respondError(c, err)
	}
	return respondFinalized(c, result)
}

// RecordFailure stores a declined payment for audit
func (pc *PaymentController) RecordFailure(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var req RecordFailureRequest
	if msg := decodeRequest(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	failure, err := pc.Finalizer.RecordFailure(ctx, services.FailureInput{
		SessionID:     req.SessionID,
		TransactionID: req.TransactionID,
		MemberID:      req.MemberID,
		Amount:        req.Amount,
		StatusCode:    req.StatusCode,
		StatusMessage: req.StatusMessage,
		RawPayload:    req.RawPayload,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Payment failure recorded",
		Data:    failure,
	})
}

func respondFinalized(c echo.Context, result *services.FinalizeResult) error {
	status := http.StatusOK
	if result.State == models.SessionStateNeedsManualFinalize {
		status = http.StatusAccepted
	}
	return c.JSON(status, models.Response{
		Status:  status,
		Message: result.Message,
		Data:    result,
	})
}

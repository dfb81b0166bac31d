package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories/memstore"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	testSecret = "test-secret"
	testGUID   = "abc12345-6789-4def-8123-456789abcdef"
)

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

// stubGateway approves every charge for a stored session at the session
// amount unless status names another outcome
type stubGateway struct {
	sessions *memstore.SessionStore
	status   map[string]string
}

func (g *stubGateway) GetTransactionStatus(ctx context.Context, transactionID string) (*services.GatewayTransaction, error) {
	session, err := g.sessions.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return &services.GatewayTransaction{TransactionID: transactionID, Status: services.TransactionUnknown}, nil
	}
	status := services.TransactionApproved
	if s, ok := g.status[transactionID]; ok {
		status = s
	}
	return &services.GatewayTransaction{TransactionID: transactionID, Status: status, Amount: session.Amount}, nil
}

func (*stubGateway) CreateSession(ctx context.Context, req models.GatewaySessionRequest) (*services.GatewaySession, error) {
	return &services.GatewaySession{
		SessionToken: "gw-" + req.OrderNumber,
		ScriptURL:    "https://pay.example/checkout.js",
		PublicKey:    "pk_test",
		TerminalID:   "TERM-1",
	}, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	e        *echo.Echo
	db       *memstore.DB
	gateway  *stubGateway
	registry *services.SessionRegistry
	agent    models.Agent
	member   models.Member
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	rates, err := services.NewRateTable(services.DefaultRateConfig())
	require.NoError(t, err)

	db := memstore.New()
	registry := services.NewSessionRegistry()
	calendar := services.PayoutCalendar{NoticeDays: services.DefaultNoticeDays, Location: time.UTC}
	antiBot := services.NewAntiBotVerifier(services.AntiBotConfig{Development: true}, nil)

	gateway := &stubGateway{sessions: db.Sessions(), status: map[string]string{}}
	sessions := services.NewSessionService(db.Members(), db.Sessions(), gateway, antiBot, registry)
	attributor := services.NewAttributor(rates, db.Agents(), db.Commissions(), calendar)
	finalizer := services.NewFinalizer(db, db.Members(), db.Payments(), db.Sessions(), db.Failures(), attributor, gateway, services.LogAlerter{}, registry)
	scheduler := services.NewPayoutScheduler(db, db.Commissions(), db.Payouts(), nil, calendar)
	reconciler := services.NewReconciler(db, db.Members(), db.Payments(), db.Commissions(), db.BackfillAudits(), finalizer, attributor, services.LogAlerter{})

	pc := NewPaymentController(sessions, finalizer)
	cc := NewCommissionController(db.Commissions(), db.Payouts(), attributor, scheduler)
	rc := NewReconciliationController(reconciler)

	e := echo.New()
	e.Validator = &testValidator{validator: validator.New()}

	payments := e.Group("/api/payments")
	payments.Use(middleware.OptionalJWT(testSecret))
	payments.POST("/sessions", pc.CreateSession)
	payments.GET("/sessions/:id", pc.GetSession)
	payments.GET("/sessions/:id/checkout-form", pc.GetCheckoutForm)
	payments.POST("/sessions/:id/callback/success", pc.HandleSuccessCallback)
	payments.POST("/sessions/:id/callback/failure", pc.HandleFailureCallback)
	payments.POST("/complete", pc.Complete)
	payments.POST("/record-failure", pc.RecordFailure)

	agents := e.Group("/api/agents")
	agents.Use(middleware.JWTMiddleware(testSecret))
	agents.Use(middleware.RequireUserType("agent"))
	agents.GET("/me/commissions", cc.GetMyCommissions)

	reconciliation := e.Group("/api/admin/reconciliation")
	reconciliation.Use(middleware.JWTMiddleware(testSecret))
	reconciliation.Use(middleware.RequirePermission(services.PermissionReconcile))
	reconciliation.GET("", rc.GetReport)

	admin := e.Group("/api/admin")
	admin.Use(middleware.JWTMiddleware(testSecret))
	admin.Use(middleware.RequireUserType("admin"))
	admin.POST("/payouts/run", cc.RunPayouts)

	enrolledAt := time.Date(2024, time.March, 4, 15, 30, 0, 0, time.UTC)
	agent := models.Agent{
		ID:        primitive.NewObjectID(),
		FullName:  "Sam Agent",
		Email:     "sam@example.com",
		IsActive:  true,
		CreatedAt: enrolledAt,
	}
	require.NoError(t, db.Agents().Insert(context.Background(), &agent))

	member := models.Member{
		ID:           primitive.NewObjectID(),
		FirstName:    "Jane",
		LastName:     "Roe",
		Email:        "jane.roe@example.com",
		PlanTier:     "Base",
		CoverageTier: "Member-Spouse",
		MonthlyPrice: 99.99,
		AgentID:      agent.ID,
		BillingAddress: models.Address{
			Line1:      "100 Main St",
			City:       "Austin",
			State:      "TX",
			PostalCode: "78701",
		},
		EnrolledAt: enrolledAt,
		CreatedAt:  enrolledAt,
	}
	require.NoError(t, db.Members().Insert(context.Background(), &member))

	return &testAPI{e: e, db: db, gateway: gateway, registry: registry, agent: agent, member: member}
}

func (a *testAPI) do(t *testing.T, method, path, contentType, body, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (a *testAPI) token(t *testing.T, userID, userType string, permissions ...string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testSecret, userID, userType+"@example.com", userType, permissions, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) createSession(t *testing.T, captcha string) services.SessionDescriptor {
	t.Helper()
	body := `{"memberId":"` + a.member.ID.Hex() + `","captchaToken":"` + captcha + `"}`
	rec, env := a.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var desc services.SessionDescriptor
	require.NoError(t, json.Unmarshal(env.Data, &desc))
	return desc
}

func TestPaymentFlow_SessionToActivation(t *testing.T) {
	api := newTestAPI(t)
	desc := api.createSession(t, "captcha-1")
	assert.Equal(t, models.SessionStateReady, desc.State)
	assert.Equal(t, 99.99, desc.Amount)

	rec, env := api.do(t, http.MethodGet, "/api/payments/sessions/"+desc.SessionID+"/checkout-form", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var form services.CheckoutForm
	require.NoError(t, json.Unmarshal(env.Data, &form))
	assert.Equal(t, desc.TransactionID, form.OrderNumber)
	assert.Equal(t, "99.99", form.Amount)

	payload := "AUTH_RESP=00&AUTH_GUID=" + testGUID + "&BRIC=xyz789&AUTH_AMOUNT=99.99"
	rec, env = api.do(t, http.MethodPost, "/api/payments/sessions/"+desc.SessionID+"/callback/success", echo.MIMETextPlain, payload, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result services.FinalizeResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.SessionStateSucceeded, result.State)
	assert.Equal(t, desc.TransactionID, result.Payment.TransactionID)
	assert.Equal(t, services.MessageSucceeded, env.Message)

	rec, env = api.do(t, http.MethodGet, "/api/payments/sessions/"+desc.SessionID, "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status SessionStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, models.SessionStateSucceeded, status.State)

	rec, _ = api.do(t, http.MethodGet, "/api/payments/sessions/"+desc.SessionID+"/checkout-form", "", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	res, ok := api.registry.Result(desc.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateSucceeded, res.State)

	// a repeated delivery replays the stored result
	rec, env = api.do(t, http.MethodPost, "/api/payments/sessions/"+desc.SessionID+"/callback/success", echo.MIMETextPlain, payload, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Replayed)
	assert.Len(t, api.db.Payments().All(), 1)

	rec, env = api.do(t, http.MethodGet, "/api/payments/sessions/"+desc.SessionID, "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, models.SessionStateSucceeded, status.State)

	agentToken := api.token(t, api.agent.ID.Hex(), "agent")
	rec, env = api.do(t, http.MethodGet, "/api/agents/me/commissions", "", "", agentToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary CommissionSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	require.Len(t, summary.Commissions, 1)
	assert.Equal(t, 15.00, summary.Unpaid)
	assert.Equal(t, 0.0, summary.Paid)
}

func TestCreateSession_Errors(t *testing.T) {
	api := newTestAPI(t)

	t.Run("missing anti-bot token", func(t *testing.T) {
		body := `{"memberId":"` + api.member.ID.Hex() + `"}`
		rec, env := api.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var data ErrorData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, services.KindSessionCreation, data.Kind)
		assert.True(t, data.Retryable)
	})

	t.Run("missing member id", func(t *testing.T) {
		rec, _ := api.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, `{"captchaToken":"c-2"}`, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown member", func(t *testing.T) {
		body := `{"memberId":"` + primitive.NewObjectID().Hex() + `","captchaToken":"c-3"}`
		rec, env := api.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, body, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		var data ErrorData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, services.KindNotFound, data.Kind)
	})

	t.Run("amount different from plan price", func(t *testing.T) {
		body := `{"memberId":"` + api.member.ID.Hex() + `","captchaToken":"c-4","amount":10}`
		rec, _ := api.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("anonymous amount override", func(t *testing.T) {
		body := `{"memberId":"` + api.member.ID.Hex() + `","captchaToken":"c-5","amountOverride":50,"overrideReason":"promo"}`
		rec, _ := api.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, body, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("invalid bearer token", func(t *testing.T) {
		body := `{"memberId":"` + api.member.ID.Hex() + `","captchaToken":"c-6"}`
		rec, _ := api.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, body, "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCreateSession_AmountOverrideWithPermission(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, primitive.NewObjectID().Hex(), "operator", services.PermissionAmountOverride)

	body := `{"memberId":"` + api.member.ID.Hex() + `","captchaToken":"c-7","amountOverride":50,"overrideReason":"first month promo"}`
	rec, env := api.do(t, http.MethodPost, "/api/payments/sessions", echo.MIMEApplicationJSON, body, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var desc services.SessionDescriptor
	require.NoError(t, json.Unmarshal(env.Data, &desc))
	assert.Equal(t, 50.0, desc.Amount)
}

func TestSuccessCallback_TokenNotFound(t *testing.T) {
	api := newTestAPI(t)
	desc := api.createSession(t, "captcha-8")

	rec, env := api.do(t, http.MethodPost, "/api/payments/sessions/"+desc.SessionID+"/callback/success",
		echo.MIMEApplicationJSON, `{"status":"approved"}`, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, services.KindTokenExtraction, data.Kind)
	assert.Equal(t, models.SessionStateNeedsManualFinalize, data.State)
	assert.False(t, data.Retryable)
}

func TestSuccessCallback_UnknownSession(t *testing.T) {
	api := newTestAPI(t)
	rec, _ := api.do(t, http.MethodPost, "/api/payments/sessions/nope/callback/success", echo.MIMETextPlain, "BRIC=abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailureCallback(t *testing.T) {
	api := newTestAPI(t)
	desc := api.createSession(t, "captcha-9")

	rec, env := api.do(t, http.MethodPost, "/api/payments/sessions/"+desc.SessionID+"/callback/failure",
		echo.MIMETextPlain, "AUTH_RESP=05&AUTH_RESP_TEXT=DO+NOT+HONOR", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.MessageFailed, env.Message)

	var failure models.PaymentFailure
	require.NoError(t, json.Unmarshal(env.Data, &failure))
	assert.Equal(t, "05", failure.StatusCode)

	stored, err := api.db.Members().FindByID(context.Background(), api.member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestRecordFailure(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(t, http.MethodPost, "/api/payments/record-failure", echo.MIMEApplicationJSON,
		`{"transactionId":"ENR-20240304-abc","statusCode":"51","statusMessage":"INSUFFICIENT FUNDS","amount":99.99}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, api.db.FailureRecords(), 1)
	assert.Equal(t, "51", api.db.FailureRecords()[0].StatusCode)

	rec, _ = api.do(t, http.MethodPost, "/api/payments/record-failure", echo.MIMEApplicationJSON, `{"amount":-1}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComplete_RequiresSessionID(t *testing.T) {
	api := newTestAPI(t)
	rec, _ := api.do(t, http.MethodPost, "/api/payments/complete", echo.MIMEApplicationJSON,
		`{"transactionId":"ENR-20240304-abc","paymentToken":"tok"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, api.db.Payments().All())
	assert.Empty(t, api.db.FailureRecords())
}

func TestComplete_UnconfirmedChargeDoesNotActivate(t *testing.T) {
	api := newTestAPI(t)
	desc := api.createSession(t, "captcha-11")
	api.gateway.status[desc.TransactionID] = services.TransactionPending

	body := `{"sessionId":"` + desc.SessionID + `","transactionId":"` + desc.TransactionID + `","paymentToken":"made-up"}`
	rec, env := api.do(t, http.MethodPost, "/api/payments/complete", echo.MIMEApplicationJSON, body, "")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, services.KindUnverified, data.Kind)

	stored, err := api.db.Members().FindByID(context.Background(), api.member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Empty(t, api.db.Payments().All())
}

func TestComplete_ConfirmedCharge(t *testing.T) {
	api := newTestAPI(t)
	desc := api.createSession(t, "captcha-12")

	body := `{"sessionId":"` + desc.SessionID + `","paymentToken":"bric-1","amount":1}`
	rec, env := api.do(t, http.MethodPost, "/api/payments/complete", echo.MIMEApplicationJSON, body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result services.FinalizeResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.SessionStateSucceeded, result.State)
	assert.Equal(t, 99.99, result.Payment.Amount, "the gateway amount wins over the client's")
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(t, http.MethodGet, "/api/admin/reconciliation", "", "", "")
	assert.NotEqual(t, http.StatusOK, rec.Code)

	agentToken := api.token(t, api.agent.ID.Hex(), "agent")
	rec, _ = api.do(t, http.MethodGet, "/api/admin/reconciliation", "", "", agentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := api.token(t, primitive.NewObjectID().Hex(), "admin")
	rec, env := api.do(t, http.MethodGet, "/api/admin/reconciliation", "", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.ReconciliationReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Len(t, report.ActiveMembersWithoutCommission, 0)

	operatorToken := api.token(t, primitive.NewObjectID().Hex(), "operator", services.PermissionReconcile)
	rec, _ = api.do(t, http.MethodGet, "/api/admin/reconciliation", "", "", operatorToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/admin/payouts/run", echo.MIMEApplicationJSON, `{}`, operatorToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRunPayouts_Empty(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.token(t, primitive.NewObjectID().Hex(), "admin")

	rec, env := api.do(t, http.MethodPost, "/api/admin/payouts/run", echo.MIMEApplicationJSON, `{"asOf":"2024-03-22T12:00:00Z"}`, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary services.PayoutRunSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Empty(t, summary.Payouts)
}

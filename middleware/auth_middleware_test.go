package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

func newProtectedServer(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		caller := CallerFromContext(c)
		if caller == nil {
			return c.String(http.StatusOK, "anonymous")
		}
		return c.String(http.StatusOK, caller.UserID)
	}, mw...)
	return e
}

func request(t *testing.T, e *echo.Echo, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func signed(t *testing.T, userID, userType string, permissions ...string) string {
	t.Helper()
	token, err := GenerateJWT(testSecret, userID, userID+"@example.com", userType, permissions, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRequireUserType(t *testing.T) {
	e := newProtectedServer(JWTMiddleware(testSecret), RequireUserType("admin"))

	rec := request(t, e, signed(t, "admin-1", "admin"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-1", rec.Body.String())

	rec = request(t, e, signed(t, "agent-1", "agent"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = request(t, e, "")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestRequirePermission(t *testing.T) {
	e := newProtectedServer(JWTMiddleware(testSecret), RequirePermission("payments.reconcile"))

	assert.Equal(t, http.StatusOK, request(t, e, signed(t, "op-1", "operator", "payments.reconcile")).Code)
	assert.Equal(t, http.StatusOK, request(t, e, signed(t, "admin-1", "admin")).Code)
	assert.Equal(t, http.StatusForbidden, request(t, e, signed(t, "op-2", "operator", "payments.amount_override")).Code)
}

func TestOptionalJWT(t *testing.T) {
	e := newProtectedServer(OptionalJWT(testSecret))

	rec := request(t, e, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	rec = request(t, e, signed(t, "op-1", "operator"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "op-1", rec.Body.String())

	rec = request(t, e, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateJWT_RequiresSecret(t *testing.T) {
	_, err := GenerateJWT("", "u", "u@example.com", "admin", nil, time.Hour)
	assert.Error(t, err)
}

package controllers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrorData accompanies every error response from the payment endpoints
type ErrorData struct {
	Kind      services.ErrorKind `json:"kind"`
	State     string             `json:"state,omitempty"`
	Retryable bool               `json:"retryable"`
}

// respondError maps a service error onto an HTTP status and the response
// envelope. Money-moved kinds surface the manual-finalize state.
func respondError(c echo.Context, err error) error {
	var pe *services.PaymentError
	if !errors.As(err, &pe) {
		log.Printf("Internal error on %s: %v", c.Request().URL.Path, err)
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Internal server error",
			Data:    ErrorData{Kind: services.KindInternal},
		})
	}

	status := http.StatusInternalServerError
	data := ErrorData{Kind: pe.Kind, Retryable: pe.Retryable()}
	message := pe.Message
	switch pe.Kind {
	case services.KindValidation:
		status = http.StatusBadRequest
	case services.KindPermission:
		status = http.StatusForbidden
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindSessionCreation:
		status = http.StatusServiceUnavailable
		data.State = models.SessionStateInitializing
		if errors.Is(err, services.ErrAntiBotTokenMissing) || errors.Is(err, services.ErrAntiBotTokenStale) {
			status = http.StatusBadRequest
			message = "Please complete the verification challenge again"
		}
	case services.KindTokenExtraction, services.KindOrphanedSuccess:
		status = http.StatusBadGateway
		data.State = models.SessionStateNeedsManualFinalize
	case services.KindConfigurationGap:
		status = http.StatusUnprocessableEntity
	case services.KindUnverified:
		status = http.StatusPaymentRequired
	case services.KindGatewayUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		log.Printf("Request %s failed: %v", c.Request().URL.Path, err)
	}
	return c.JSON(status, models.Response{
		Status:  status,
		Message: message,
		Data:    data,
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, models.Response{
		Status:  http.StatusBadRequest,
		Message: message,
	})
}

// decodeRequest binds and validates req, returning a message for the client
// when either fails
func decodeRequest(c echo.Context, req interface{}) string {
	if err := c.Bind(req); err != nil {
		return "Invalid request body"
	}
	if err := c.Validate(req); err != nil {
		return "Validation failed: " + err.Error()
	}
	return ""
}

func parseObjectID(value string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(value))
	return id, err == nil
}

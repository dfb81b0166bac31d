// controllers/reconciliation_controller.go
package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/labstack/echo/v4"
)

// ReconciliationController exposes the reconciliation report and the
// audited backfill operations to admins
type ReconciliationController struct {
	Reconciler *services.Reconciler
}

// NewReconciliationController creates a new reconciliation controller
func NewReconciliationController(reconciler *services.Reconciler) *ReconciliationController {
	return &ReconciliationController{Reconciler: reconciler}
}

// GetReport runs the reconciliation audit
func (rc *ReconciliationController) GetReport(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := rc.Reconciler.Audit(ctx)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Reconciliation report generated",
		Data:    report,
	})
}

// LinkPayment finalizes an orphaned payment against a member
func (rc *ReconciliationController) LinkPayment(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var req services.LinkPaymentInput
	if msg := decodeRequest(c, &req); msg != "" {
		return badRequest(c, msg)
	}
	req.OperatorID = middleware.GetUserIDFromToken(c)

	result, err := rc.Reconciler.LinkOrphanPayment(ctx, req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payment linked",
		Data:    result,
	})
}

// Reattribute creates missing commissions for an active member
func (rc *ReconciliationController) Reattribute(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var req services.ReattributeInput
	if msg := decodeRequest(c, &req); msg != "" {
		return badRequest(c, msg)
	}
	req.OperatorID = middleware.GetUserIDFromToken(c)

	result, err := rc.Reconciler.ReattributeMember(ctx, req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Member commissions reattributed",
		Data:    result,
	})
}

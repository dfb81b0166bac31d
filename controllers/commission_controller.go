// controllers/commission_controller.go
package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/HSouheill/enrollment_backend/middleware"
	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/HSouheill/enrollment_backend/utils"
	"github.com/labstack/echo/v4"
)

// CommissionController serves agent commission views and the admin payout
// operations
type CommissionController struct {
	Commissions services.CommissionStore
	Payouts     services.PayoutStore
	Attributor  *services.Attributor
	Scheduler   *services.PayoutScheduler
}

// NewCommissionController creates a new commission controller
func NewCommissionController(commissions services.CommissionStore, payouts services.PayoutStore, attributor *services.Attributor, scheduler *services.PayoutScheduler) *CommissionController {
	return &CommissionController{
		Commissions: commissions,
		Payouts:     payouts,
		Attributor:  attributor,
		Scheduler:   scheduler,
	}
}

// CommissionSummary totals an agent's commissions by payout state
type CommissionSummary struct {
	Commissions []models.AgentCommission `json:"commissions"`
	Unpaid      float64                  `json:"unpaid"`
	Paid        float64                  `json:"paid"`
}

// RunPayoutsRequest optionally backdates a payout run
type RunPayoutsRequest struct {
	AsOf *time.Time `json:"asOf"`
}

// GetMyCommissions returns the authenticated agent's commissions
func (cc *CommissionController) GetMyCommissions(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agentID, ok := parseObjectID(middleware.GetUserIDFromToken(c))
	if !ok {
		return badRequest(c, "Invalid agent ID in token")
	}

	commissions, err := cc.Commissions.ListByAgent(ctx, agentID)
	if err != nil {
		return respondError(c, err)
	}

	summary := CommissionSummary{Commissions: commissions}
	if summary.Commissions == nil {
		summary.Commissions = []models.AgentCommission{}
	}
	var unpaid, paid []float64
	for _, cm := range commissions {
		if cm.Status != models.CommissionStatusActive && cm.Status != models.CommissionStatusPending {
			continue
		}
		switch cm.PaymentStatus {
		case models.CommissionUnpaid:
			unpaid = append(unpaid, cm.Amount)
		case models.CommissionPaid:
			paid = append(paid, cm.Amount)
		}
	}
	summary.Unpaid = utils.SumMoney(unpaid...)
	summary.Paid = utils.SumMoney(paid...)

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commissions retrieved successfully",
		Data:    summary,
	})
}

// GetMyPayouts returns the authenticated agent's payouts
func (cc *CommissionController) GetMyPayouts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agentID, ok := parseObjectID(middleware.GetUserIDFromToken(c))
	if !ok {
		return badRequest(c, "Invalid agent ID in token")
	}

	payouts, err := cc.Payouts.ListByAgent(ctx, agentID)
	if err != nil {
		return respondError(c, err)
	}
	if payouts == nil {
		payouts = []models.CommissionPayout{}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payouts retrieved successfully",
		Data:    payouts,
	})
}

// RunPayouts runs the payout batch now, or as of the requested time
func (cc *CommissionController) RunPayouts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var req RunPayoutsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	asOf := time.Now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	summary, err := cc.Scheduler.RunPayouts(ctx, asOf)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout run completed",
		Data:    summary,
	})
}

// RecomputeEligibleDates re-derives eligible dates for unpaid commissions
func (cc *CommissionController) RecomputeEligibleDates(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	updated, err := cc.Scheduler.RecomputeEligibleDates(ctx)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Eligible dates recomputed",
		Data:    map[string]int{"updated": updated},
	})
}

// ActivateCommission moves a pending commission to active once its payment
// has settled
func (cc *CommissionController) ActivateCommission(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, ok := parseObjectID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid commission ID")
	}

	commission, err := cc.Attributor.ActivateCommission(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission activated",
		Data:    commission,
	})
}

// CancelMemberCommissions cancels a member's commissions
func (cc *CommissionController) CancelMemberCommissions(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	memberID, ok := parseObjectID(c.Param("id"))
	if !ok {
		return badRequest(c, "Invalid member ID")
	}

	cancelled, err := cc.Attributor.CancelMemberCommissions(ctx, memberID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Member commissions cancelled",
		Data:    map[string]int64{"cancelled": cancelled},
	})
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories"
	"github.com/HSouheill/enrollment_backend/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultNoticeDays = 14
	periodLayout      = "2006-01-02"
	payoutLockTTL     = 2 * time.Minute
)

var errPayoutConflict = errors.New("commission set changed while the payout was being created")

// PaymentEligibleDate returns midnight, in loc, of the first Friday on or
// after the enrollment date plus noticeDays. The notice period is counted in
// calendar dates of loc, not as an exact duration: an enrollment at 15:30 on
// a Friday becomes eligible at 00:00 on the Friday two weeks later, hours
// before the exact instant enrollment + 14 days.
func PaymentEligibleDate(enrollment time.Time, noticeDays int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	d := enrollment.In(loc)
	day := time.Date(d.Year(), d.Month(), d.Day()+noticeDays, 0, 0, 0, 0, loc)
	offset := (int(time.Friday) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, offset)
}

// PayoutPeriod names the payout cycle containing t: the Friday on or before
// t, as YYYY-MM-DD in loc.
func PayoutPeriod(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	d := t.In(loc)
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	offset := (int(day.Weekday()) - int(time.Friday) + 7) % 7
	return day.AddDate(0, 0, -offset).Format(periodLayout)
}

// PayoutCalendar carries the notice period and the business time zone
type PayoutCalendar struct {
	NoticeDays int
	Location   *time.Location
}

func (c PayoutCalendar) EligibleDate(enrollment time.Time) time.Time {
	return PaymentEligibleDate(enrollment, c.NoticeDays, c.Location)
}

func (c PayoutCalendar) Period(t time.Time) string {
	return PayoutPeriod(t, c.Location)
}

// PayoutRunSummary reports what one payout run did
type PayoutRunSummary struct {
	Period          string                    `json:"period"`
	AsOf            time.Time                 `json:"asOf"`
	Payouts         []models.CommissionPayout `json:"payouts"`
	SkippedAgents   []primitive.ObjectID      `json:"skippedAgents,omitempty"`
	LockedAgents    []primitive.ObjectID      `json:"lockedAgents,omitempty"`
	Errors          []string                  `json:"errors,omitempty"`
	CommissionCount int                       `json:"commissionCount"`
	TotalAmount     float64                   `json:"totalAmount"`
}

type PayoutScheduler struct {
	tx          Transactor
	commissions CommissionStore
	payouts     PayoutStore
	locker      Locker
	calendar    PayoutCalendar
	now         func() time.Time
}

func NewPayoutScheduler(tx Transactor, commissions CommissionStore, payouts PayoutStore, locker Locker, calendar PayoutCalendar) *PayoutScheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &PayoutScheduler{
		tx:          tx,
		commissions: commissions,
		payouts:     payouts,
		locker:      locker,
		calendar:    calendar,
		now:         time.Now,
	}
}

// RunPayouts batches every payable commission eligible on or before asOf into
// one payout per agent for the period containing asOf. Agents that already
// hold a payout for the period are skipped, so re-running is safe.
func (s *PayoutScheduler) RunPayouts(ctx context.Context, asOf time.Time) (*PayoutRunSummary, error) {
	period := s.calendar.Period(asOf)
	summary := &PayoutRunSummary{Period: period, AsOf: asOf, Payouts: []models.CommissionPayout{}}

	payable, err := s.commissions.ListPayable(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list payable commissions: %w", err)
	}

	byAgent := make(map[primitive.ObjectID][]models.AgentCommission)
	for _, c := range payable {
		byAgent[c.AgentID] = append(byAgent[c.AgentID], c)
	}
	agents := make([]primitive.ObjectID, 0, len(byAgent))
	for id := range byAgent {
		agents = append(agents, id)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Hex() < agents[j].Hex() })

	for _, agentID := range agents {
		payout, err := s.payAgent(ctx, agentID, period, byAgent[agentID])
		switch {
		case err == nil && payout == nil:
			summary.SkippedAgents = append(summary.SkippedAgents, agentID)
		case err == nil:
			summary.Payouts = append(summary.Payouts, *payout)
			summary.CommissionCount += len(payout.CommissionIDs)
			summary.TotalAmount = utils.SumMoney(summary.TotalAmount, payout.TotalAmount)
		case errors.Is(err, ErrLockHeld):
			log.Printf("[PAYOUT] agent %s period %s is locked by another run", agentID.Hex(), period)
			summary.LockedAgents = append(summary.LockedAgents, agentID)
		default:
			log.Printf("[PAYOUT] agent %s period %s failed: %v", agentID.Hex(), period, err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", agentID.Hex(), err))
		}
	}

	log.Printf("[PAYOUT] period %s: %d payouts, %d commissions, total %.2f, %d skipped, %d locked, %d errors",
		period, len(summary.Payouts), summary.CommissionCount, summary.TotalAmount,
		len(summary.SkippedAgents), len(summary.LockedAgents), len(summary.Errors))
	return summary, nil
}

// payAgent returns a nil payout when the agent already has one for the period
func (s *PayoutScheduler) payAgent(ctx context.Context, agentID primitive.ObjectID, period string, commissions []models.AgentCommission) (*models.CommissionPayout, error) {
	if existing, err := s.payouts.FindByAgentPeriod(ctx, agentID, period); err == nil && existing != nil {
		return nil, nil
	} else if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("payout:%s:%s", agentID.Hex(), period), payoutLockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			log.Printf("[PAYOUT] failed to release lock for agent %s: %v", agentID.Hex(), err)
		}
	}()

	now := s.now()
	payout := &models.CommissionPayout{
		ID:            primitive.NewObjectID(),
		AgentID:       agentID,
		Period:        period,
		CommissionIDs: make([]primitive.ObjectID, 0, len(commissions)),
		PaidAt:        now,
		CreatedAt:     now,
	}
	amounts := make([]float64, 0, len(commissions))
	for _, c := range commissions {
		payout.CommissionIDs = append(payout.CommissionIDs, c.ID)
		amounts = append(amounts, c.Amount)
	}
	payout.TotalAmount = utils.SumMoney(amounts...)

	skipped := false
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		// Checked again under the lock; a run that finished in between wins
		if _, err := s.payouts.FindByAgentPeriod(ctx, agentID, period); err == nil {
			skipped = true
			return nil
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		if err := s.payouts.Insert(ctx, payout); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				skipped = true
				return nil
			}
			return fmt.Errorf("failed to insert payout: %w", err)
		}

		n, err := s.commissions.MarkPaid(ctx, payout.CommissionIDs, payout.ID, now)
		if err != nil {
			return fmt.Errorf("failed to mark commissions paid: %w", err)
		}
		if n != int64(len(payout.CommissionIDs)) {
			return fmt.Errorf("%w: marked %d of %d", errPayoutConflict, n, len(payout.CommissionIDs))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		return nil, nil
	}

	log.Printf("[PAYOUT] agent %s period %s: %d commissions, total %.2f",
		agentID.Hex(), period, len(payout.CommissionIDs), payout.TotalAmount)
	return payout, nil
}

// RecomputeEligibleDates re-derives the eligible date of every unpaid
// commission from its enrollment date. It returns how many dates changed.
func (s *PayoutScheduler) RecomputeEligibleDates(ctx context.Context) (int, error) {
	unpaid, err := s.commissions.ListUnpaid(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpaid commissions: %w", err)
	}

	changed := 0
	for _, c := range unpaid {
		eligible := s.calendar.EligibleDate(c.EnrollmentDate)
		if eligible.Equal(c.PaymentEligibleDate) {
			continue
		}
		if err := s.commissions.SetEligibleDate(ctx, c.ID, eligible); err != nil {
			return changed, fmt.Errorf("failed to update commission %s: %w", c.ID.Hex(), err)
		}
		changed++
	}
	return changed, nil
}

// jobs/cron.go
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/services"
	"github.com/robfig/cron/v3"
)

// DefaultSessionMaxAge is how long a session result stays in memory
const DefaultSessionMaxAge = 2 * time.Hour

// PayoutRunner runs a payout batch
type PayoutRunner interface {
	RunPayouts(ctx context.Context, asOf time.Time) (*services.PayoutRunSummary, error)
}

// Sweeper runs the reconciliation sweep
type Sweeper interface {
	Sweep(ctx context.Context) (*models.ReconciliationReport, error)
}

// Pruner drops stale session results
type Pruner interface {
	Prune(maxAge time.Duration) int
}

// Config holds the schedules of the background jobs
type Config struct {
	PayoutSpec    string
	ReconcileSpec string
	PruneSpec     string
	SessionMaxAge time.Duration
	Location      *time.Location
}

// Scheduler owns the cron runner and the jobs registered on it
type Scheduler struct {
	cron          *cron.Cron
	payouts       PayoutRunner
	sweeper       Sweeper
	pruner        Pruner
	sessionMaxAge time.Duration
	now           func() time.Time
}

// NewScheduler registers the payout, reconciliation and prune jobs. A job
// still running when its next tick fires is skipped.
func NewScheduler(cfg Config, payouts PayoutRunner, sweeper Sweeper, pruner Pruner) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = "@every 10m"
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = DefaultSessionMaxAge
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		payouts:       payouts,
		sweeper:       sweeper,
		pruner:        pruner,
		sessionMaxAge: cfg.SessionMaxAge,
		now:           time.Now,
	}

	if payouts != nil && cfg.PayoutSpec != "" {
		if _, err := s.cron.AddFunc(cfg.PayoutSpec, s.runPayouts); err != nil {
			return nil, err
		}
	}
	if sweeper != nil && cfg.ReconcileSpec != "" {
		if _, err := s.cron.AddFunc(cfg.ReconcileSpec, s.runSweep); err != nil {
			return nil, err
		}
	}
	if pruner != nil {
		if _, err := s.cron.AddFunc(cfg.PruneSpec, s.runPrune); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[CRON] Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs until ctx ends
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		log.Println("[CRON] Scheduler stopped")
	case <-ctx.Done():
		log.Println("[CRON] Scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) runPayouts() {
	log.Println("[CRON] Starting payout run...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := s.payouts.RunPayouts(ctx, s.now())
	if err != nil {
		log.Printf("[CRON] Error running payouts: %v", err)
		return
	}
	log.Printf("[CRON] Payout run for %s created %d payouts covering %d commissions (%.2f), %d agents locked, %d errors",
		summary.Period, len(summary.Payouts), summary.CommissionCount, summary.TotalAmount, len(summary.LockedAgents), len(summary.Errors))
}

func (s *Scheduler) runSweep() {
	log.Println("[CRON] Starting reconciliation sweep...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		log.Printf("[CRON] Error running reconciliation sweep: %v", err)
		return
	}
	log.Println("[CRON] Finished reconciliation sweep")
}

func (s *Scheduler) runPrune() {
	if n := s.pruner.Prune(s.sessionMaxAge); n > 0 {
		log.Printf("[CRON] Pruned %d stale session results", n)
	}
}

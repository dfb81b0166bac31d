package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories/memstore"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testEnrolledAt = time.Date(2024, time.March, 4, 15, 30, 0, 0, time.UTC) // a Monday

type fixture struct {
	db         *memstore.DB
	rates      *RateTable
	calendar   PayoutCalendar
	attributor *Attributor
	alerts     *recordingAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rates, err := NewRateTable(DefaultRateConfig())
	require.NoError(t, err)

	db := memstore.New()
	calendar := PayoutCalendar{NoticeDays: DefaultNoticeDays, Location: time.UTC}
	return &fixture{
		db:         db,
		rates:      rates,
		calendar:   calendar,
		attributor: NewAttributor(rates, db.Agents(), db.Commissions(), calendar),
		alerts:     &recordingAlerter{},
	}
}

func (f *fixture) addAgent(t *testing.T, sponsor *primitive.ObjectID) models.Agent {
	t.Helper()
	agent := models.Agent{
		ID:        primitive.NewObjectID(),
		FullName:  "Agent " + primitive.NewObjectID().Hex()[18:],
		Email:     "agent@example.com",
		SponsorID: sponsor,
		IsActive:  true,
		CreatedAt: testEnrolledAt,
	}
	require.NoError(t, f.db.Agents().Insert(context.Background(), &agent))
	return agent
}

func (f *fixture) addMember(t *testing.T, agentID primitive.ObjectID, plan, coverage string, price float64) models.Member {
	t.Helper()
	member := models.Member{
		ID:           primitive.NewObjectID(),
		FirstName:    "Jane",
		LastName:     "Roe",
		Email:        "jane.roe@example.com",
		PlanTier:     plan,
		CoverageTier: coverage,
		MonthlyPrice: price,
		AgentID:      agentID,
		BillingAddress: models.Address{
			Line1:      "100 Main St",
			City:       "Austin",
			State:      "TX",
			PostalCode: "78701",
		},
		EnrolledAt: testEnrolledAt,
		CreatedAt:  testEnrolledAt,
	}
	require.NoError(t, f.db.Members().Insert(context.Background(), &member))
	return member
}

// recordingAlerter keeps every alert for assertions
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingAlerter) Send(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingAlerter) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Kind)
	}
	return out
}

package services

import (
	"context"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Transactor runs fn atomically; stores called with the ctx passed to fn
// take part in the same transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type MemberStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Member, error)
	Activate(ctx context.Context, id primitive.ObjectID, transactionID string, at time.Time) (bool, error)
	ListBilled(ctx context.Context) ([]models.Member, error)
	ListActive(ctx context.Context) ([]models.Member, error)
}

type AgentStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Agent, error)
}

type PaymentStore interface {
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	Insert(ctx context.Context, payment *models.Payment) error
	Update(ctx context.Context, payment *models.Payment) error
	ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]models.Payment, error)
	ListUnlinked(ctx context.Context) ([]models.Payment, error)
	MemberIDs(ctx context.Context) (map[primitive.ObjectID]bool, error)
}

type CommissionStore interface {
	Insert(ctx context.Context, commission *models.AgentCommission) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.AgentCommission, error)
	ListByPayment(ctx context.Context, paymentID primitive.ObjectID) ([]models.AgentCommission, error)
	ListByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.AgentCommission, error)
	ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]models.AgentCommission, error)
	ListPayable(ctx context.Context, asOf time.Time) ([]models.AgentCommission, error)
	ListUnpaid(ctx context.Context) ([]models.AgentCommission, error)
	MarkPaid(ctx context.Context, ids []primitive.ObjectID, payoutID primitive.ObjectID, paidAt time.Time) (int64, error)
	TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to string) (bool, error)
	SetEligibleDate(ctx context.Context, id primitive.ObjectID, eligible time.Time) error
	CancelForMember(ctx context.Context, memberID primitive.ObjectID, at time.Time) (int64, error)
	MemberIDs(ctx context.Context) (map[primitive.ObjectID]bool, error)
}

type PayoutStore interface {
	Insert(ctx context.Context, payout *models.CommissionPayout) error
	FindByAgentPeriod(ctx context.Context, agentID primitive.ObjectID, period string) (*models.CommissionPayout, error)
	ListByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.CommissionPayout, error)
}

type SessionStore interface {
	Insert(ctx context.Context, session *models.PaymentSession) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentSession, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentSession, error)
	UpdateState(ctx context.Context, sessionID, state, message string) error
	TransitionState(ctx context.Context, sessionID string, from []string, state, message string) (bool, error)
}

type FailureStore interface {
	Insert(ctx context.Context, failure *models.PaymentFailure) error
}

type BackfillAuditStore interface {
	Insert(ctx context.Context, entry *models.BackfillAudit) error
}

// Package memstore keeps every collection in process memory. It enforces the
// same unique keys as the MongoDB indexes and rolls back the writes of a
// failed transaction, so it backs the test suite and STORAGE_DRIVER=memory
// local runs.
package memstore

import (
	"context"
	"sync"

	"github.com/HSouheill/enrollment_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DB holds all collections
type DB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	members     map[primitive.ObjectID]models.Member
	agents      map[primitive.ObjectID]models.Agent
	payments    map[primitive.ObjectID]models.Payment
	commissions map[primitive.ObjectID]models.AgentCommission
	payouts     map[primitive.ObjectID]models.CommissionPayout
	sessions    map[string]models.PaymentSession
	failures    []models.PaymentFailure
	audits      []models.BackfillAudit
}

func New() *DB {
	return &DB{
		members:     make(map[primitive.ObjectID]models.Member),
		agents:      make(map[primitive.ObjectID]models.Agent),
		payments:    make(map[primitive.ObjectID]models.Payment),
		commissions: make(map[primitive.ObjectID]models.AgentCommission),
		payouts:     make(map[primitive.ObjectID]models.CommissionPayout),
		sessions:    make(map[string]models.PaymentSession),
	}
}

type txKey struct{}

// undoLog holds the inverse of every write made inside one transaction
type undoLog struct {
	steps []func()
}

// WithTransaction serializes transactions. When fn returns an error only the
// writes made through fn's context are undone; concurrent writes made outside
// the transaction are kept.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	undo := &undoLog{}
	if err := fn(context.WithValue(ctx, txKey{}, undo)); err != nil {
		db.mu.Lock()
		for i := len(undo.steps) - 1; i >= 0; i-- {
			undo.steps[i]()
		}
		db.mu.Unlock()
		return err
	}
	return nil
}

// track records step if ctx belongs to a transaction. Callers hold db.mu.
func (db *DB) track(ctx context.Context, step func()) {
	if undo, ok := ctx.Value(txKey{}).(*undoLog); ok {
		undo.steps = append(undo.steps, step)
	}
}

func (db *DB) trackMember(ctx context.Context, id primitive.ObjectID) {
	prev, existed := db.members[id]
	db.track(ctx, func() {
		if existed {
			db.members[id] = prev
		} else {
			delete(db.members, id)
		}
	})
}

func (db *DB) trackAgent(ctx context.Context, id primitive.ObjectID) {
	prev, existed := db.agents[id]
	db.track(ctx, func() {
		if existed {
			db.agents[id] = prev
		} else {
			delete(db.agents, id)
		}
	})
}

func (db *DB) trackPayment(ctx context.Context, id primitive.ObjectID) {
	prev, existed := db.payments[id]
	prev = copyPayment(prev)
	db.track(ctx, func() {
		if existed {
			db.payments[id] = prev
		} else {
			delete(db.payments, id)
		}
	})
}

func (db *DB) trackCommission(ctx context.Context, id primitive.ObjectID) {
	prev, existed := db.commissions[id]
	db.track(ctx, func() {
		if existed {
			db.commissions[id] = prev
		} else {
			delete(db.commissions, id)
		}
	})
}

func (db *DB) trackPayout(ctx context.Context, id primitive.ObjectID) {
	prev, existed := db.payouts[id]
	db.track(ctx, func() {
		if existed {
			db.payouts[id] = prev
		} else {
			delete(db.payouts, id)
		}
	})
}

func (db *DB) trackSession(ctx context.Context, sessionID string) {
	prev, existed := db.sessions[sessionID]
	db.track(ctx, func() {
		if existed {
			db.sessions[sessionID] = prev
		} else {
			delete(db.sessions, sessionID)
		}
	})
}

func (db *DB) trackFailure(ctx context.Context, id primitive.ObjectID) {
	db.track(ctx, func() {
		for i, f := range db.failures {
			if f.ID == id {
				db.failures = append(db.failures[:i], db.failures[i+1:]...)
				return
			}
		}
	})
}

func (db *DB) trackAudit(ctx context.Context, id primitive.ObjectID) {
	db.track(ctx, func() {
		for i, a := range db.audits {
			if a.ID == id {
				db.audits = append(db.audits[:i], db.audits[i+1:]...)
				return
			}
		}
	})
}

func copyPayment(p models.Payment) models.Payment {
	if p.Metadata != nil {
		meta := make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			meta[k] = v
		}
		p.Metadata = meta
	}
	return p
}

func (db *DB) Members() *MemberStore { return &MemberStore{db: db} }
func (db *DB) Agents() *AgentStore { return &AgentStore{db: db} }
func (db *DB) Payments() *PaymentStore { return &PaymentStore{db: db} }
func (db *DB) Commissions() *CommissionStore { return &CommissionStore{db: db} }
func (db *DB) Payouts() *PayoutStore { return &PayoutStore{db: db} }
func (db *DB) Sessions() *SessionStore { return &SessionStore{db: db} }
func (db *DB) Failures() *FailureStore { return &FailureStore{db: db} }
func (db *DB) BackfillAudits() *BackfillStore { return &BackfillStore{db: db} }

// FailureRecords returns a copy of every stored failure
func (db *DB) FailureRecords() []models.PaymentFailure {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.PaymentFailure(nil), db.failures...)
}

// AuditRecords returns a copy of every stored backfill audit row
func (db *DB) AuditRecords() []models.BackfillAudit {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.BackfillAudit(nil), db.audits...)
}

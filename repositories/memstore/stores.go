package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MemberStore struct{ db *DB }

func (s *MemberStore) Insert(ctx context.Context, member *models.Member) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if member.ID.IsZero() {
		member.ID = primitive.NewObjectID()
	}
	if _, exists := s.db.members[member.ID]; exists {
		return repositories.ErrDuplicate
	}
	s.db.trackMember(ctx, member.ID)
	s.db.members[member.ID] = *member
	return nil
}

func (s *MemberStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Member, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	member, ok := s.db.members[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &member, nil
}

func (s *MemberStore) Activate(ctx context.Context, id primitive.ObjectID, transactionID string, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	member, ok := s.db.members[id]
	if !ok || member.IsActive {
		return false, nil
	}
	member.IsActive = true
	member.ActivationTransactionID = transactionID
	member.ActivatedAt = &at
	member.UpdatedAt = at
	s.db.trackMember(ctx, id)
	s.db.members[id] = member
	return true, nil
}

func (s *MemberStore) ListBilled(ctx context.Context) ([]models.Member, error) {
	return s.filter(func(m models.Member) bool { return m.MonthlyPrice > 0 }), nil
}

func (s *MemberStore) ListActive(ctx context.Context) ([]models.Member, error) {
	return s.filter(func(m models.Member) bool { return m.IsActive }), nil
}

func (s *MemberStore) filter(keep func(models.Member) bool) []models.Member {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Member
	for _, m := range s.db.members {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out
}

type AgentStore struct{ db *DB }

func (s *AgentStore) Insert(ctx context.Context, agent *models.Agent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if agent.ID.IsZero() {
		agent.ID = primitive.NewObjectID()
	}
	s.db.trackAgent(ctx, agent.ID)
	s.db.agents[agent.ID] = *agent
	return nil
}

func (s *AgentStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Agent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	agent, ok := s.db.agents[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &agent, nil
}

type PaymentStore struct{ db *DB }

func (s *PaymentStore) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.payments {
		if p.TransactionID == transactionID {
			cp := copyPayment(p)
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *PaymentStore) Insert(ctx context.Context, payment *models.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.payments {
		if p.TransactionID == payment.TransactionID {
			return repositories.ErrDuplicate
		}
	}
	if payment.ID.IsZero() {
		payment.ID = primitive.NewObjectID()
	}
	s.db.trackPayment(ctx, payment.ID)
	s.db.payments[payment.ID] = copyPayment(*payment)
	return nil
}

func (s *PaymentStore) Update(ctx context.Context, payment *models.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.payments[payment.ID]; !ok {
		return repositories.ErrNotFound
	}
	payment.UpdatedAt = time.Now()
	s.db.trackPayment(ctx, payment.ID)
	s.db.payments[payment.ID] = copyPayment(*payment)
	return nil
}

func (s *PaymentStore) ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]models.Payment, error) {
	return s.filter(func(p models.Payment) bool { return p.MemberID == memberID }), nil
}

func (s *PaymentStore) ListUnlinked(ctx context.Context) ([]models.Payment, error) {
	return s.filter(func(p models.Payment) bool { return p.MemberID.IsZero() }), nil
}

func (s *PaymentStore) MemberIDs(ctx context.Context) (map[primitive.ObjectID]bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	set := make(map[primitive.ObjectID]bool)
	for _, p := range s.db.payments {
		if !p.MemberID.IsZero() {
			set[p.MemberID] = true
		}
	}
	return set, nil
}

// All returns every stored payment ordered by creation
func (s *PaymentStore) All() []models.Payment {
	return s.filter(func(models.Payment) bool { return true })
}

func (s *PaymentStore) filter(keep func(models.Payment) bool) []models.Payment {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Payment
	for _, p := range s.db.payments {
		if keep(p) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out
}

type CommissionStore struct{ db *DB }

func (s *CommissionStore) Insert(ctx context.Context, commission *models.AgentCommission) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.commissions {
		if c.PaymentID == commission.PaymentID && c.CommissionType == commission.CommissionType {
			return repositories.ErrDuplicate
		}
	}
	if commission.ID.IsZero() {
		commission.ID = primitive.NewObjectID()
	}
	s.db.trackCommission(ctx, commission.ID)
	s.db.commissions[commission.ID] = *commission
	return nil
}

func (s *CommissionStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.AgentCommission, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.commissions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (s *CommissionStore) ListByPayment(ctx context.Context, paymentID primitive.ObjectID) ([]models.AgentCommission, error) {
	return s.filter(func(c models.AgentCommission) bool { return c.PaymentID == paymentID }), nil
}

func (s *CommissionStore) ListByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.AgentCommission, error) {
	return s.filter(func(c models.AgentCommission) bool { return c.AgentID == agentID }), nil
}

func (s *CommissionStore) ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]models.AgentCommission, error) {
	return s.filter(func(c models.AgentCommission) bool { return c.MemberID == memberID }), nil
}

func (s *CommissionStore) ListPayable(ctx context.Context, asOf time.Time) ([]models.AgentCommission, error) {
	return s.filter(func(c models.AgentCommission) bool {
		return c.Status == models.CommissionStatusActive &&
			c.PaymentStatus == models.CommissionUnpaid &&
			c.PayoutID == nil &&
			!c.PaymentEligibleDate.After(asOf)
	}), nil
}

func (s *CommissionStore) ListUnpaid(ctx context.Context) ([]models.AgentCommission, error) {
	return s.filter(func(c models.AgentCommission) bool { return c.PaymentStatus == models.CommissionUnpaid }), nil
}

func (s *CommissionStore) MarkPaid(ctx context.Context, ids []primitive.ObjectID, payoutID primitive.ObjectID, paidAt time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for _, id := range ids {
		c, ok := s.db.commissions[id]
		if !ok || c.PaymentStatus != models.CommissionUnpaid || c.PayoutID != nil {
			continue
		}
		pid := payoutID
		at := paidAt
		c.PaymentStatus = models.CommissionPaid
		c.PayoutID = &pid
		c.PaidDate = &at
		c.UpdatedAt = paidAt
		s.db.trackCommission(ctx, id)
		s.db.commissions[id] = c
		n++
	}
	return n, nil
}

func (s *CommissionStore) TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.commissions[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	s.db.trackCommission(ctx, id)
	s.db.commissions[id] = c
	return true, nil
}

func (s *CommissionStore) SetEligibleDate(ctx context.Context, id primitive.ObjectID, eligible time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.commissions[id]
	if !ok || c.PaymentStatus != models.CommissionUnpaid {
		return nil
	}
	c.PaymentEligibleDate = eligible
	s.db.trackCommission(ctx, id)
	s.db.commissions[id] = c
	return nil
}

func (s *CommissionStore) CancelForMember(ctx context.Context, memberID primitive.ObjectID, at time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, c := range s.db.commissions {
		if c.MemberID != memberID {
			continue
		}
		if c.Status != models.CommissionStatusCancelled {
			c.Status = models.CommissionStatusCancelled
			n++
		}
		if c.PaymentStatus == models.CommissionUnpaid {
			c.PaymentStatus = models.CommissionCancelled
		}
		c.UpdatedAt = at
		s.db.trackCommission(ctx, id)
		s.db.commissions[id] = c
	}
	return n, nil
}

func (s *CommissionStore) MemberIDs(ctx context.Context) (map[primitive.ObjectID]bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	set := make(map[primitive.ObjectID]bool)
	for _, c := range s.db.commissions {
		set[c.MemberID] = true
	}
	return set, nil
}

// All returns every stored commission ordered by creation
func (s *CommissionStore) All() []models.AgentCommission {
	return s.filter(func(models.AgentCommission) bool { return true })
}

func (s *CommissionStore) filter(keep func(models.AgentCommission) bool) []models.AgentCommission {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.AgentCommission
	for _, c := range s.db.commissions {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out
}

type PayoutStore struct{ db *DB }

func (s *PayoutStore) Insert(ctx context.Context, payout *models.CommissionPayout) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.payouts {
		if p.AgentID == payout.AgentID && p.Period == payout.Period {
			return repositories.ErrDuplicate
		}
	}
	if payout.ID.IsZero() {
		payout.ID = primitive.NewObjectID()
	}
	s.db.trackPayout(ctx, payout.ID)
	s.db.payouts[payout.ID] = *payout
	return nil
}

func (s *PayoutStore) FindByAgentPeriod(ctx context.Context, agentID primitive.ObjectID, period string) (*models.CommissionPayout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.payouts {
		if p.AgentID == agentID && p.Period == period {
			return &p, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *PayoutStore) ListByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.CommissionPayout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.CommissionPayout
	for _, p := range s.db.payouts {
		if p.AgentID == agentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	return out, nil
}

// All returns every stored payout
func (s *PayoutStore) All() []models.CommissionPayout {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]models.CommissionPayout, 0, len(s.db.payouts))
	for _, p := range s.db.payouts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out
}

type SessionStore struct{ db *DB }

func (s *SessionStore) Insert(ctx context.Context, session *models.PaymentSession) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.sessions[session.SessionID]; exists {
		return repositories.ErrDuplicate
	}
	for _, existing := range s.db.sessions {
		if existing.TransactionID == session.TransactionID {
			return repositories.ErrDuplicate
		}
	}
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	s.db.trackSession(ctx, session.SessionID)
	s.db.sessions[session.SessionID] = *session
	return nil
}

func (s *SessionStore) FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	session, ok := s.db.sessions[sessionID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &session, nil
}

func (s *SessionStore) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentSession, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, session := range s.db.sessions {
		if session.TransactionID == transactionID {
			return &session, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *SessionStore) UpdateState(ctx context.Context, sessionID, state, message string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	session, ok := s.db.sessions[sessionID]
	if !ok {
		return repositories.ErrNotFound
	}
	session.State = state
	session.Message = message
	session.UpdatedAt = time.Now()
	s.db.trackSession(ctx, sessionID)
	s.db.sessions[sessionID] = session
	return nil
}

// TransitionState moves a session to state only while it is in one of from
func (s *SessionStore) TransitionState(ctx context.Context, sessionID string, from []string, state, message string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	session, ok := s.db.sessions[sessionID]
	if !ok {
		return false, repositories.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if session.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	session.State = state
	session.Message = message
	session.UpdatedAt = time.Now()
	s.db.trackSession(ctx, sessionID)
	s.db.sessions[sessionID] = session
	return true, nil
}

type FailureStore struct{ db *DB }

func (s *FailureStore) Insert(ctx context.Context, failure *models.PaymentFailure) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if failure.ID.IsZero() {
		failure.ID = primitive.NewObjectID()
	}
	s.db.trackFailure(ctx, failure.ID)
	s.db.failures = append(s.db.failures, *failure)
	return nil
}

type BackfillStore struct{ db *DB }

func (s *BackfillStore) Insert(ctx context.Context, entry *models.BackfillAudit) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	s.db.trackAudit(ctx, entry.ID)
	s.db.audits = append(s.db.audits, *entry)
	return nil
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/repositories/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeVerifier answers status lookups from a fixed set of gateway records
type fakeVerifier struct {
	mu           sync.Mutex
	transactions map[string]GatewayTransaction
	err          error
	calls        int
}

func (v *fakeVerifier) GetTransactionStatus(ctx context.Context, transactionID string) (*GatewayTransaction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	tx, ok := v.transactions[transactionID]
	if !ok {
		return &GatewayTransaction{TransactionID: transactionID, Status: TransactionUnknown}, nil
	}
	return &tx, nil
}

func (v *fakeVerifier) set(transactionID, status string, amount float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transactions[transactionID] = GatewayTransaction{TransactionID: transactionID, Status: status, Amount: amount}
}

type finalizeFixture struct {
	*fixture
	registry  *SessionRegistry
	verifier  *fakeVerifier
	finalizer *Finalizer
	clock     time.Time
}

func newFinalizeFixture(t *testing.T) *finalizeFixture {
	f := &finalizeFixture{
		fixture:  newFixture(t),
		registry: NewSessionRegistry(),
		verifier: &fakeVerifier{transactions: map[string]GatewayTransaction{}},
		clock:    testEnrolledAt,
	}
	f.finalizer = f.newFinalizer(f.attributor)
	return f
}

func (f *finalizeFixture) newFinalizer(attributor *Attributor) *Finalizer {
	fin := NewFinalizer(f.db, f.db.Members(), f.db.Payments(), f.db.Sessions(), f.db.Failures(), attributor, f.verifier, f.alerts, f.registry)
	fin.now = func() time.Time { return f.clock }
	return fin
}

func (f *finalizeFixture) addSession(t *testing.T, member models.Member, transactionID string) models.PaymentSession {
	t.Helper()
	session := models.PaymentSession{
		SessionID:     primitive.NewObjectID().Hex(),
		TransactionID: transactionID,
		MemberID:      member.ID,
		Amount:        member.MonthlyPrice,
		CatalogAmount: member.MonthlyPrice,
		Currency:      "USD",
		State:         models.SessionStateReady,
		CreatedAt:     f.clock,
	}
	require.NoError(t, f.db.Sessions().Insert(context.Background(), &session))
	f.registry.Register(session.SessionID)
	f.verifier.set(transactionID, TransactionApproved, session.Amount)
	return session
}

func completion(session models.PaymentSession) CompletionInput {
	return CompletionInput{
		SessionID:              session.SessionID,
		TransactionID:          session.TransactionID,
		PaymentToken:           "bric-" + session.TransactionID,
		AuthorizationReference: "auth-" + session.TransactionID,
		PaymentMethodType:      "card",
		Amount:                 session.Amount,
	}
}

func TestFinalize_ActivatesAndAttributes(t *testing.T) {
	f := newFinalizeFixture(t)
	sponsor := f.addAgent(t, nil)
	agent := f.addAgent(t, &sponsor.ID)
	member := f.addMember(t, agent.ID, "Base", "Member-Spouse", 99.99)
	session := f.addSession(t, member, "TX-100")

	result, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, models.SessionStateSucceeded, result.State)
	assert.Equal(t, models.PaymentStatusSucceeded, result.Payment.Status)
	assert.Equal(t, "bric-TX-100", result.Payment.PaymentToken)
	require.NotNil(t, result.Commissions)
	assert.Equal(t, 15.00, result.Commissions.Direct.Amount)
	assert.Equal(t, 3.00, result.Commissions.Override.Amount)

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, "TX-100", stored.ActivationTransactionID)

	s, err := f.db.Sessions().FindBySessionID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateSucceeded, s.State)

	res, ok := f.registry.Result(session.SessionID)
	require.True(t, ok)
	assert.Equal(t, result.Payment.ID.Hex(), res.PaymentID)
}

func TestFinalize_DuplicateDeliveryIsReplayed(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Member-Spouse", 99.99)
	session := f.addSession(t, member, "TX-1")

	first, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.NoError(t, err)

	f.clock = f.clock.Add(3 * time.Second)
	second, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, first.Commissions.Direct.ID, second.Commissions.Direct.ID)
	assert.Equal(t, first.State, second.State)

	payments := f.db.Payments().All()
	require.Len(t, payments, 1)
	assert.Equal(t, "TX-1", payments[0].TransactionID)
	assert.Len(t, f.db.Commissions().All(), 1)
}

func TestFinalize_ConcurrentCallsCreateOnePayment(t *testing.T) {
	f := newFinalizeFixture(t)
	sponsor := f.addAgent(t, nil)
	member := f.addMember(t, f.addAgent(t, &sponsor.ID).ID, "Plus", "Family", 149)
	session := f.addSession(t, member, "TX-CONC")

	var wg sync.WaitGroup
	ids := make(chan primitive.ObjectID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.finalizer.Finalize(context.Background(), completion(session))
			if assert.NoError(t, err) {
				ids <- result.Payment.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var first primitive.ObjectID
	for id := range ids {
		if first.IsZero() {
			first = id
		}
		assert.Equal(t, first, id)
	}
	assert.Len(t, f.db.Payments().All(), 1)
	assert.Len(t, f.db.Commissions().All(), 2, "one direct and one override")
}

func TestFinalize_SecondSessionChargeIsFlagged(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	first := f.addSession(t, member, "TX-A")
	second := f.addSession(t, member, "TX-B")

	_, err := f.finalizer.Finalize(context.Background(), completion(first))
	require.NoError(t, err)

	result, err := f.finalizer.Finalize(context.Background(), completion(second))
	require.NoError(t, err)
	assert.True(t, result.DuplicateCharge)
	assert.Equal(t, models.SessionStateNeedsManualFinalize, result.State)
	assert.Equal(t, models.PaymentStatusPending, result.Payment.Status)
	assert.Equal(t, "TX-A", result.Payment.Metadata[models.PaymentMetaDuplicateOf])
	assert.Nil(t, result.Commissions)

	again, err := f.finalizer.Finalize(context.Background(), completion(second))
	require.NoError(t, err)
	assert.True(t, again.DuplicateCharge)

	assert.Len(t, f.db.Payments().All(), 2)
	assert.Len(t, f.db.Commissions().All(), 1, "only the activating payment earns a commission")
	assert.Equal(t, []string{AlertDuplicateCharge}, f.alerts.kinds(), "a redelivery does not alert twice")

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Equal(t, "TX-A", stored.ActivationTransactionID)
}

func TestFinalize_ConfigurationGapDoesNotBlockActivation(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Platinum", "Family", 199)
	session := f.addSession(t, member, "TX-GAP")

	result, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.NoError(t, err)
	assert.True(t, result.CommissionGap)
	assert.Equal(t, models.SessionStateSucceeded, result.State)
	assert.Equal(t, []string{AlertConfigurationGap}, f.alerts.kinds())
	assert.Empty(t, f.db.Commissions().All())

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

// brokenCommissionStore fails every insert
type brokenCommissionStore struct {
	*memstore.CommissionStore
}

func (brokenCommissionStore) Insert(ctx context.Context, commission *models.AgentCommission) error {
	return errors.New("write concern timeout")
}

func TestFinalize_OrphanedSuccess(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-ORPHAN")

	broken := NewAttributor(f.rates, f.db.Agents(), brokenCommissionStore{f.db.Commissions()}, f.calendar)
	_, err := f.newFinalizer(broken).Finalize(context.Background(), completion(session))
	require.Error(t, err)
	assert.Equal(t, KindOrphanedSuccess, KindOf(err))
	var pe *PaymentError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.Retryable())
	assert.Contains(t, pe.Message, "TX-ORPHAN")

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "activation is rolled back with the transaction")

	payments := f.db.Payments().All()
	require.Len(t, payments, 1)
	assert.False(t, payments[0].IsLinked())
	assert.Equal(t, models.PaymentStatusPending, payments[0].Status)
	assert.Equal(t, true, payments[0].Metadata[models.PaymentMetaOrphaned])
	assert.Equal(t, member.ID.Hex(), payments[0].Metadata[models.PaymentMetaIntendedMemberID])

	failures := f.db.FailureRecords()
	require.Len(t, failures, 1)
	assert.Equal(t, models.FailureKindOrphanedSuccess, failures[0].Kind)
	assert.Equal(t, []string{AlertOrphanedSuccess}, f.alerts.kinds())

	s, err := f.db.Sessions().FindBySessionID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateNeedsManualFinalize, s.State)

	// The same delivery succeeds once the store recovers and links the orphan
	result, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.NoError(t, err)
	assert.True(t, result.Payment.IsLinked())
	assert.Equal(t, payments[0].ID, result.Payment.ID)
	_, orphaned := result.Payment.Metadata[models.PaymentMetaOrphaned]
	assert.False(t, orphaned)
	assert.Len(t, f.db.Payments().All(), 1)
}

func TestHandleSuccessCallback(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Member-Spouse", 99.99)
	session := f.addSession(t, member, "TX-CB")

	payload := "AUTH_RESP=00&AUTH_GUID=" + testAuth + "&BRIC=xyz789&AUTH_AMOUNT=99.99"
	result, err := f.finalizer.HandleSuccessCallback(context.Background(), session.SessionID, []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "TX-CB", result.Payment.TransactionID)
	assert.Equal(t, "xyz789", result.Payment.PaymentToken)
	assert.Equal(t, testAuth, result.Payment.AuthorizationReference)
	assert.Equal(t, 99.99, result.Payment.Amount)
}

func TestHandleSuccessCallback_TokenNotFound(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Member-Spouse", 99.99)
	session := f.addSession(t, member, "TX-NOTOKEN")

	_, err := f.finalizer.HandleSuccessCallback(context.Background(), session.SessionID, []byte(`{"status":"approved"}`))
	require.Error(t, err)
	assert.Equal(t, KindTokenExtraction, KindOf(err))
	assert.True(t, errors.Is(err, ErrTokenNotFound))

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "finalize does not run without a token")

	payments := f.db.Payments().All()
	require.Len(t, payments, 1)
	assert.Equal(t, "TX-NOTOKEN", payments[0].TransactionID)
	assert.False(t, payments[0].IsLinked())

	failures := f.db.FailureRecords()
	require.Len(t, failures, 1)
	assert.Equal(t, models.FailureKindTokenExtraction, failures[0].Kind)
	assert.Equal(t, `{"status":"approved"}`, failures[0].RawPayload)

	res, ok := f.registry.Result(session.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateNeedsManualFinalize, res.State)
}

func TestRecordFailure_LeavesMemberUntouched(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-DECLINE")

	failure, err := f.finalizer.HandleFailureCallback(context.Background(), session.SessionID,
		[]byte("AUTH_RESP=05&AUTH_RESP_TEXT=DO+NOT+HONOR"))
	require.NoError(t, err)
	assert.Equal(t, models.FailureKindDeclined, failure.Kind)
	assert.Equal(t, "05", failure.StatusCode)
	assert.Equal(t, "DO NOT HONOR", failure.StatusMessage)
	assert.Equal(t, 89.0, failure.Amount)

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Empty(t, f.db.Payments().All())

	s, err := f.db.Sessions().FindBySessionID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateFailed, s.State)

	_, err = f.finalizer.RecordFailure(context.Background(), FailureInput{})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestFinalize_MadeUpCompletionIsRejected(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Member-Spouse", 99.99)
	session := f.addSession(t, member, "TX-FORGED")
	f.verifier.set("TX-FORGED", TransactionPending, 0)

	_, err := f.finalizer.Finalize(context.Background(), CompletionInput{
		TransactionID: session.TransactionID,
		PaymentToken:  "made-up",
	})
	require.Error(t, err)
	assert.Equal(t, KindUnverified, KindOf(err))
	assert.True(t, errors.Is(err, ErrNotApproved))

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Empty(t, f.db.Payments().All())
	assert.Empty(t, f.db.Commissions().All())
	assert.Empty(t, f.alerts.kinds())

	failures := f.db.FailureRecords()
	require.Len(t, failures, 1)
	assert.Equal(t, models.FailureKindUnverified, failures[0].Kind)

	s, err := f.db.Sessions().FindBySessionID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateReady, s.State, "a pending charge leaves the session open")
}

func TestFinalize_DeclinedByGatewayFailsSession(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-DECLINED")
	f.verifier.set("TX-DECLINED", TransactionDeclined, 89)

	_, err := f.finalizer.Finalize(context.Background(), completion(session))
	assert.Equal(t, KindUnverified, KindOf(err))

	s, err := f.db.Sessions().FindBySessionID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateFailed, s.State)
	assert.Empty(t, f.db.Payments().All())
}

func TestFinalize_GatewayAmountMismatchIsNotFinalized(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-SHORT")
	f.verifier.set("TX-SHORT", TransactionApproved, 1.00)

	_, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.Error(t, err)
	assert.Equal(t, KindOrphanedSuccess, KindOf(err))

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	payments := f.db.Payments().All()
	require.Len(t, payments, 1)
	assert.False(t, payments[0].IsLinked())
	assert.Equal(t, 1.00, payments[0].Amount)
	assert.Equal(t, []string{AlertOrphanedSuccess}, f.alerts.kinds())
}

func TestFinalize_GatewayUnavailable(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-DOWN")
	f.verifier.err = errors.New("connection refused")

	_, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.Error(t, err)
	assert.Equal(t, KindGatewayUnavailable, KindOf(err))
	var pe *PaymentError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Retryable())
	assert.Empty(t, f.db.Payments().All())
	assert.Empty(t, f.db.FailureRecords())
}

func TestFinalize_TransactionMustBelongToSession(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-MINE")
	f.addSession(t, f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89), "TX-THEIRS")

	in := completion(session)
	in.TransactionID = "TX-THEIRS"
	_, err := f.finalizer.Finalize(context.Background(), in)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Zero(t, f.verifier.calls)
}

func TestFinalize_ReplayDoesNotAskGatewayAgain(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-ONCE")

	_, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.NoError(t, err)
	require.Equal(t, 1, f.verifier.calls)

	result, err := f.finalizer.Finalize(context.Background(), CompletionInput{SessionID: session.SessionID})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, 1, f.verifier.calls)
}

func TestHandleFailureCallback_AfterSuccessKeepsSucceeded(t *testing.T) {
	f := newFinalizeFixture(t)
	member := f.addMember(t, f.addAgent(t, nil).ID, "Base", "Family", 89)
	session := f.addSession(t, member, "TX-LATE")

	_, err := f.finalizer.Finalize(context.Background(), completion(session))
	require.NoError(t, err)

	failure, err := f.finalizer.HandleFailureCallback(context.Background(), session.SessionID,
		[]byte("AUTH_RESP=05&AUTH_RESP_TEXT=DECLINED"))
	require.NoError(t, err)
	assert.Equal(t, "DECLINED", failure.StatusMessage)
	assert.Len(t, f.db.FailureRecords(), 1, "the late failure is still kept for audit")

	s, err := f.db.Sessions().FindBySessionID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateSucceeded, s.State)
	assert.Equal(t, MessageSucceeded, s.Message)

	res, ok := f.registry.Result(session.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateSucceeded, res.State)

	stored, err := f.db.Members().FindByID(context.Background(), member.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errAbort = errors.New("abort")

func TestWithTransaction_RollbackKeepsOutsideWrites(t *testing.T) {
	db := New()
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, db.Payments().Insert(txCtx, &models.Payment{TransactionID: "TX-IN"}))

		done := make(chan error, 1)
		go func() {
			done <- db.Sessions().Insert(ctx, &models.PaymentSession{SessionID: "other-request", TransactionID: "TX-OTHER"})
		}()
		require.NoError(t, <-done)
		require.NoError(t, db.Failures().Insert(ctx, &models.PaymentFailure{TransactionID: "TX-OTHER"}))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	assert.Empty(t, db.Payments().All())
	_, err = db.Sessions().FindBySessionID(ctx, "other-request")
	assert.NoError(t, err)
	assert.Len(t, db.FailureRecords(), 1)
}

func TestWithTransaction_RollbackRestoresUpdates(t *testing.T) {
	db := New()
	ctx := context.Background()

	member := models.Member{ID: primitive.NewObjectID(), MonthlyPrice: 89}
	require.NoError(t, db.Members().Insert(ctx, &member))
	payment := models.Payment{TransactionID: "TX-1", Status: models.PaymentStatusPending, Metadata: map[string]interface{}{models.PaymentMetaOrphaned: true}}
	require.NoError(t, db.Payments().Insert(ctx, &payment))

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		activated, err := db.Members().Activate(txCtx, member.ID, "TX-1", time.Now())
		require.NoError(t, err)
		require.True(t, activated)

		payment.Status = models.PaymentStatusSucceeded
		delete(payment.Metadata, models.PaymentMetaOrphaned)
		require.NoError(t, db.Payments().Update(txCtx, &payment))
		require.NoError(t, db.Failures().Insert(txCtx, &models.PaymentFailure{TransactionID: "TX-1"}))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	stored, err := db.Members().FindByID(ctx, member.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	p, err := db.Payments().FindByTransactionID(ctx, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, true, p.Metadata[models.PaymentMetaOrphaned])
	assert.Empty(t, db.FailureRecords())
}

func TestWithTransaction_CommitKeepsWrites(t *testing.T) {
	db := New()
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		return db.Payments().Insert(txCtx, &models.Payment{TransactionID: "TX-OK"})
	})
	require.NoError(t, err)
	assert.Len(t, db.Payments().All(), 1)
}

func TestSessionStore_TransitionState(t *testing.T) {
	db := New()
	ctx := context.Background()
	require.NoError(t, db.Sessions().Insert(ctx, &models.PaymentSession{
		SessionID:     "s-1",
		TransactionID: "TX-1",
		State:         models.SessionStateSucceeded,
	}))

	moved, err := db.Sessions().TransitionState(ctx, "s-1",
		[]string{models.SessionStateReady, models.SessionStateSubmitting}, models.SessionStateFailed, "declined")
	require.NoError(t, err)
	assert.False(t, moved)

	session, err := db.Sessions().FindBySessionID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateSucceeded, session.State)

	moved, err = db.Sessions().TransitionState(ctx, "s-1",
		[]string{models.SessionStateSucceeded}, models.SessionStateNeedsManualFinalize, "review")
	require.NoError(t, err)
	assert.True(t, moved)

	_, err = db.Sessions().TransitionState(ctx, "missing", nil, models.SessionStateFailed, "")
	assert.Error(t, err)
}

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/ledger/store"
	"github.com/warp/pair-ledger/settlement"
)

func TestMemory_RejectsForgedToken(t *testing.T) {
	// GIVEN: A caller outside the engine with direct access to a transaction
	// WHEN: It tries to lock or write a balance with a zero-value token
	// THEN: Every mutation fails with a consistency violation and nothing is stored

	ctx := context.Background()
	st := store.NewMemory()
	key := ledger.NewPairKey(1, 1, 2)

	err := st.WithTx(ctx, func(tx ledger.TxStore) error {
		forged := &ledger.WriteToken{}
		_, err := tx.LockPair(ctx, forged, key)
		assert.ErrorIs(t, err, ledger.ErrConsistencyViolation)

		err = tx.PutBalance(ctx, nil, ledger.BalanceRow{GroupID: 1, UserLow: 1, UserHigh: 2, Amount: ledger.MustMoney("100")})
		assert.ErrorIs(t, err, ledger.ErrConsistencyViolation)

		err = tx.AppendAudit(ctx, forged, ledger.AuditEntry{GroupID: 1, DebtorID: 1, CreditorID: 2})
		assert.ErrorIs(t, err, ledger.ErrConsistencyViolation)
		return nil
	})
	require.NoError(t, err)

	_, ok, err := st.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Rollback_DiscardsRecordsAndBalances(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	engine := ledger.NewEngine(st)
	boom := errors.New("boom")

	err := engine.Atomically(ctx, func(tx *ledger.Tx) error {
		recs := tx.Backend().(expense.Records)
		require.NoError(t, recs.InsertExpense(ctx, expense.Expense{ID: "e-1", GroupID: 1, PayerID: 1}))
		_, err := tx.AdjustPairBalance(ctx, ledger.Adjustment{
			GroupID: 1, DebtorID: 2, CreditorID: 1, Delta: ledger.MustMoney("5"),
			Reason: ledger.ReasonExpense, RelatedType: ledger.RelatedExpense, RelatedID: "e-1",
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.GetExpense(ctx, "e-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	rows, err := st.ListGroupBalances(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemory_DuplicateInsertRejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	insert := func() error {
		return st.WithTx(ctx, func(tx ledger.TxStore) error {
			return tx.(settlement.Records).InsertSettlement(ctx, settlement.Settlement{ID: "s-1", GroupID: 1})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ledger.ErrInvalidEvent)
}

func TestMemory_RecordLock_Timeout(t *testing.T) {
	// GIVEN: One transaction holds the record lock of expense e-1
	// WHEN: A second transaction asks for the same record with a short deadline
	// THEN: It fails with ErrLockTimeout

	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.WithTx(ctx, func(tx ledger.TxStore) error {
		return tx.(expense.Records).InsertExpense(ctx, expense.Expense{ID: "e-1", GroupID: 1})
	}))

	held := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		finished <- st.WithTx(ctx, func(tx ledger.TxStore) error {
			if _, err := tx.(expense.Records).GetExpenseForUpdate(ctx, "e-1"); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := st.WithTx(ctx, func(tx ledger.TxStore) error {
		lctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := tx.(expense.Records).GetExpenseForUpdate(lctx, "e-1")
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)

	close(done)
	require.NoError(t, <-finished)
}

func TestMemory_SoftDelete_KeepsRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.WithTx(ctx, func(tx ledger.TxStore) error {
		recs := tx.(expense.Records)
		if err := recs.InsertExpense(ctx, expense.Expense{ID: "e-9", GroupID: 1}); err != nil {
			return err
		}
		return recs.SoftDeleteExpense(ctx, "e-9", at)
	}))

	e, err := st.GetExpense(ctx, "e-9")
	require.NoError(t, err)
	require.True(t, e.Deleted())
	assert.Equal(t, at, *e.DeletedAt)
}

package mysql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/settlement"
)

// =============================================================================
// UNIT TESTS (no server needed)
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"lock wait timeout", &mysql.MySQLError{Number: errLockWaitTimeout, Message: "Lock wait timeout exceeded"}, ledger.ErrLockTimeout},
		{"deadlock", &mysql.MySQLError{Number: errLockDeadlock, Message: "Deadlock found"}, ledger.ErrLockTimeout},
		{"trigger signal", &mysql.MySQLError{Number: errSignalException, Message: "audit entries are append-only"}, ledger.ErrConsistencyViolation},
		{"check constraint", &mysql.MySQLError{Number: errCheckViolated, Message: "chk_balances_normalized"}, ledger.ErrConsistencyViolation},
		{"context deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ledger.ErrLockTimeout},
		{"bad connection", mysql.ErrInvalidConn, ledger.ErrStorageFailure},
		{"other server error", &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}, ledger.ErrStorageFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}

	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
	assert.False(t, ledger.IsRetryable(classify("op", context.Canceled)))
}

func TestIsDuplicateAndLockTimeout(t *testing.T) {
	assert.True(t, isDuplicate(&mysql.MySQLError{Number: errDupEntry}))
	assert.False(t, isDuplicate(errors.New("duplicate")))
	assert.True(t, isLockTimeout(&mysql.MySQLError{Number: errLockDeadlock}))
	assert.False(t, isLockTimeout(&mysql.MySQLError{Number: errDupEntry}))
}

func TestLockError_PairTimeout(t *testing.T) {
	key := ledger.NewPairKey(1, 1, 2)
	err := lockError(key, time.Now(), &mysql.MySQLError{Number: errLockWaitTimeout})
	var lte *ledger.LockTimeoutError
	require.ErrorAs(t, err, &lte)
	assert.Equal(t, key, lte.Key)

	err = lockError(key, time.Now(), context.DeadlineExceeded)
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
}

func TestLockWaitSeconds(t *testing.T) {
	assert.Equal(t, 1, lockWaitSeconds(0))
	assert.Equal(t, 1, lockWaitSeconds(200*time.Millisecond))
	assert.Equal(t, 5, lockWaitSeconds(5*time.Second))
	assert.Equal(t, 6, lockWaitSeconds(5100*time.Millisecond))
}

// =============================================================================
// INTEGRATION TESTS (LEDGER_MYSQL_DSN)
// =============================================================================

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEDGER_MYSQL_DSN")
	if dsn == "" {
		t.Skip("LEDGER_MYSQL_DSN not set")
	}
	store, err := New(dsn, WithLockWait(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// uniqueGroup keeps runs against a shared database apart.
func uniqueGroup() ledger.GroupID {
	return ledger.GroupID(time.Now().UnixNano())
}

func TestMySQL_RoundTripAndReconcile(t *testing.T) {
	ctx := context.Background()
	store := newIntegrationStore(t)
	engine := ledger.NewEngine(store)
	expenses := expense.NewAdapter(engine, nil)
	settlements := settlement.NewAdapter(engine, nil)
	group := uniqueGroup()

	e, err := expenses.CreateExpense(ctx, expense.CreateExpenseEvent{
		GroupID: group, Title: "Dinner", TotalAmount: ledger.MustMoney("90.00"), PayerID: 1,
		Splits: []expense.Split{
			{UserID: 1, ShareAmount: ledger.MustMoney("30.00")},
			{UserID: 2, ShareAmount: ledger.MustMoney("30.00")},
			{UserID: 3, ShareAmount: ledger.MustMoney("30.00")},
		},
	})
	require.NoError(t, err)

	_, err = settlements.CreateSettlement(ctx, settlement.CreateSettlementEvent{
		GroupID: group, FromID: 2, ToID: 1, Amount: ledger.MustMoney("30.01"),
	})
	var over *ledger.OverSettlementError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, "30.00", ledger.FormatMoney(over.MaxAllowed))

	_, err = settlements.CreateSettlement(ctx, settlement.CreateSettlementEvent{
		GroupID: group, FromID: 2, ToID: 1, Amount: ledger.MustMoney("30.00"),
	})
	require.NoError(t, err)

	require.NoError(t, expenses.DeleteExpense(ctx, e.ID))
	net, err := engine.GetNetBalanceBetweenUsers(ctx, group, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "30.00", ledger.FormatMoney(net), "after the expense is deleted the settlement leaves user 1 owing user 2")

	report, err := engine.Reconcile(ctx, group)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "%+v", report.Discrepancies)

	_, err = store.db.ExecContext(ctx, "DELETE FROM audit_entries WHERE group_id = ?", int64(group))
	assert.ErrorIs(t, classify("raw delete", err), ledger.ErrConsistencyViolation)
}

func TestMySQL_ConcurrentAdjustments(t *testing.T) {
	ctx := context.Background()
	store := newIntegrationStore(t)
	engine := ledger.NewEngine(store)
	group := uniqueGroup()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := engine.AdjustPairBalance(ctx, ledger.Adjustment{
				GroupID: group, DebtorID: 9, CreditorID: 4, Delta: ledger.MustMoney("0.01"),
				Reason: ledger.ReasonExpense, RelatedType: ledger.RelatedExpense, RelatedID: "load",
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	net, err := engine.GetNetBalanceBetweenUsers(ctx, group, 9, 4)
	require.NoError(t, err)
	assert.Equal(t, "0.50", ledger.FormatMoney(net))
}

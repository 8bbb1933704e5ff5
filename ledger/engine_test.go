package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const group ledger.GroupID = 1

func newTestEngine(t *testing.T, opts ...ledger.Option) (*ledger.Engine, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return ledger.NewEngine(st, opts...), st
}

func money(s string) decimal.Decimal {
	return ledger.MustMoney(s)
}

func owes(debtor, creditor ledger.UserID, delta string) ledger.Adjustment {
	return ledger.Adjustment{
		GroupID:     group,
		DebtorID:    debtor,
		CreditorID:  creditor,
		Delta:       money(delta),
		Reason:      ledger.ReasonExpense,
		RelatedType: ledger.RelatedExpense,
		RelatedID:   "exp-1",
	}
}

func net(t *testing.T, e *ledger.Engine, a, b ledger.UserID) string {
	t.Helper()
	amount, err := e.GetNetBalanceBetweenUsers(context.Background(), group, a, b)
	require.NoError(t, err)
	return ledger.FormatMoney(amount)
}

// =============================================================================
// PAIR NORMALIZATION
// =============================================================================

func TestAdjustPairBalance_NormalizesPair_BothDirections(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: The higher id owes the lower id, and separately the lower owes the higher
	// THEN: Net balance reads x from the debtor's side and -x from the creditor's

	ctx := context.Background()
	engine, _ := newTestEngine(t)

	res, err := engine.AdjustPairBalance(ctx, owes(7, 3, "12.50"))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "0.00", ledger.FormatMoney(res.Old))
	assert.Equal(t, "-12.50", ledger.FormatMoney(res.New), "row stores low-owes-high, so 7 owing 3 is negative")

	assert.Equal(t, "12.50", net(t, engine, 7, 3))
	assert.Equal(t, "-12.50", net(t, engine, 3, 7))

	_, err = engine.AdjustPairBalance(ctx, owes(3, 9, "4.00"))
	require.NoError(t, err)
	assert.Equal(t, "4.00", net(t, engine, 3, 9))
	assert.Equal(t, "-4.00", net(t, engine, 9, 3))
}

func TestAdjustPairBalance_SingleRowPerPair(t *testing.T) {
	// GIVEN: Adjustments in both directions between the same two users
	// WHEN: Listing the group's balances
	// THEN: Exactly one row exists and it holds the net amount

	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.AdjustPairBalance(ctx, owes(1, 2, "30.00"))
	require.NoError(t, err)
	_, err = engine.AdjustPairBalance(ctx, owes(2, 1, "10.00"))
	require.NoError(t, err)

	rows, err := engine.GetGroupBalances(ctx, group)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.UserID(1), rows[0].UserLow)
	assert.Equal(t, ledger.UserID(2), rows[0].UserHigh)
	assert.Equal(t, "20.00", ledger.FormatMoney(rows[0].Amount))
}

func TestGetNetBalance_MissingRowIsZero(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.Equal(t, "0.00", net(t, engine, 4, 5))
	assert.Equal(t, "0.00", net(t, engine, 4, 4))
}

// =============================================================================
// NO-OPS AND REJECTIONS
// =============================================================================

func TestAdjustPairBalance_SelfAdjustment_IsNoOp(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: A user is both debtor and creditor
	// THEN: Nothing is written and Applied is false

	ctx := context.Background()
	engine, st := newTestEngine(t)

	res, err := engine.AdjustPairBalance(ctx, owes(5, 5, "99.99"))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	rows, err := st.ListUserBalances(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
	entries, err := engine.AuditTrail(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdjustPairBalance_ZeroDelta_IsNoOp(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	res, err := engine.AdjustPairBalance(ctx, owes(1, 2, "0"))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	rows, err := engine.GetGroupBalances(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, rows, "zero delta must not materialize a row")
}

func TestAdjustPairBalance_ZeroDelta_ReportsCurrentAmount(t *testing.T) {
	// GIVEN: User 1 owes user 2 20.00
	// WHEN: A zero delta is applied, alone and after an adjustment in the same tx
	// THEN: Old and New both carry the current amount, nothing is applied or audited

	ctx := context.Background()
	engine, _ := newTestEngine(t)
	_, err := engine.AdjustPairBalance(ctx, owes(1, 2, "20.00"))
	require.NoError(t, err)

	res, err := engine.AdjustPairBalance(ctx, owes(2, 1, "0"))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "20.00", ledger.FormatMoney(res.Old))
	assert.Equal(t, "20.00", ledger.FormatMoney(res.New))

	err = engine.Atomically(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.AdjustPairBalance(ctx, owes(1, 2, "5.00")); err != nil {
			return err
		}
		res, err = tx.AdjustPairBalance(ctx, owes(1, 2, "0"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "25.00", ledger.FormatMoney(res.Old), "sees the write made earlier in the tx")
	assert.Equal(t, "25.00", ledger.FormatMoney(res.New))

	entries, err := engine.AuditTrail(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	res, err = engine.AdjustPairBalance(ctx, owes(3, 3, "0"))
	require.NoError(t, err)
	assert.Equal(t, ledger.AdjustResult{}, res, "a self pair has no row")
}

func TestAdjustPairBalance_SubCentDelta_Rejected(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	adj := owes(1, 2, "1.00")
	adj.Delta = decimal.RequireFromString("1.005")
	_, err := engine.AdjustPairBalance(ctx, adj)

	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.True(t, ledger.IsClientError(err))
	assert.Equal(t, "0.00", net(t, engine, 1, 2))
}

func TestAdjustPairBalance_UnknownReason_IsConsistencyViolation(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	adj := owes(1, 2, "1.00")
	adj.Reason = "gift"
	_, err := engine.AdjustPairBalance(ctx, adj)

	var cerr *ledger.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, ledger.ErrConsistencyViolation)
	assert.False(t, ledger.IsRetryable(err))
}

// =============================================================================
// AUDIT ENTRIES
// =============================================================================

func TestAdjustPairBalance_WritesAuditEntry(t *testing.T) {
	// GIVEN: A fixed clock
	// WHEN: Two adjustments hit the same pair, the second one negative
	// THEN: Each writes one entry with |delta|, before/after and increasing Seq

	ctx := context.Background()
	at := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine(t, ledger.WithClock(func() time.Time { return at }))

	_, err := engine.AdjustPairBalance(ctx, owes(2, 1, "10.00"))
	require.NoError(t, err)
	_, err = engine.AdjustPairBalance(ctx, owes(2, 1, "-4.00"))
	require.NoError(t, err)

	entries, err := engine.AuditTrail(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first, second := entries[0], entries[1]
	assert.Equal(t, "10.00", ledger.FormatMoney(first.Magnitude))
	assert.Equal(t, "0.00", ledger.FormatMoney(first.BalanceBefore))
	assert.Equal(t, "-10.00", ledger.FormatMoney(first.BalanceAfter))
	assert.Equal(t, ledger.ReasonExpense, first.Reason)
	assert.Equal(t, "exp-1", first.RelatedID)
	assert.Equal(t, at, first.CreatedAt)
	assert.NotEmpty(t, first.ID)

	assert.Equal(t, "4.00", ledger.FormatMoney(second.Magnitude), "magnitude is never negative")
	assert.Equal(t, "-10.00", ledger.FormatMoney(second.BalanceBefore))
	assert.Equal(t, "-6.00", ledger.FormatMoney(second.BalanceAfter))
	assert.Greater(t, second.Seq, first.Seq)
}

func TestAuditTrail_Filters(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.AdjustPairBalance(ctx, owes(1, 2, "1.00"))
	require.NoError(t, err)
	other := owes(1, 3, "2.00")
	other.RelatedID = "exp-2"
	_, err = engine.AdjustPairBalance(ctx, other)
	require.NoError(t, err)

	pair := ledger.NewPairKey(group, 3, 1)
	entries, err := engine.AuditTrail(ctx, ledger.AuditFilter{Pair: &pair})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "exp-2", entries[0].RelatedID)

	entries, err = engine.AuditTrail(ctx, ledger.AuditFilter{RelatedType: ledger.RelatedExpense, RelatedID: "exp-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.UserID(2), entries[0].CreditorID)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestAtomically_RollsBackEveryAdjustment(t *testing.T) {
	// GIVEN: A unit of work that adjusts two pairs and then fails
	// WHEN: The callback returns an error
	// THEN: Neither pair changes and no audit entry is visible

	ctx := context.Background()
	engine, _ := newTestEngine(t)
	boom := errors.New("split 3 failed")

	err := engine.Atomically(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.AdjustPairBalance(ctx, owes(2, 1, "5.00")); err != nil {
			return err
		}
		if _, err := tx.AdjustPairBalance(ctx, owes(3, 1, "5.00")); err != nil {
			return err
		}
		assert.Len(t, tx.Entries(), 2)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "0.00", net(t, engine, 2, 1))
	assert.Equal(t, "0.00", net(t, engine, 3, 1))
	entries, err := engine.AuditTrail(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTx_NetBalance_SeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	err := engine.Atomically(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.AdjustPairBalance(ctx, owes(2, 1, "8.00")); err != nil {
			return err
		}
		owed, err := tx.NetBalance(ctx, group, 2, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, "8.00", ledger.FormatMoney(owed))
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// SUMMARIES AND PROJECTIONS
// =============================================================================

func TestGetUserBalanceSummary_FlipsSignPerSide(t *testing.T) {
	// GIVEN: User 5 owes 1 (5 is high) and user 9 owes 5 (5 is low), in two groups
	// WHEN: Summarizing user 5
	// THEN: Owed and owed-to are split by direction and net is their difference

	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.AdjustPairBalance(ctx, owes(5, 1, "20.00"))
	require.NoError(t, err)
	adj := owes(9, 5, "35.50")
	adj.GroupID = 2
	_, err = engine.AdjustPairBalance(ctx, adj)
	require.NoError(t, err)

	sum, err := engine.GetUserBalanceSummary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "20.00", ledger.FormatMoney(sum.TotalOwed))
	assert.Equal(t, "35.50", ledger.FormatMoney(sum.TotalOwedTo))
	assert.Equal(t, "15.50", ledger.FormatMoney(sum.Net))
}

func TestGetUserBalancesForGroup_FiltersByUser(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	for _, adj := range []ledger.Adjustment{owes(1, 2, "1.00"), owes(2, 3, "1.00"), owes(3, 4, "1.00")} {
		_, err := engine.AdjustPairBalance(ctx, adj)
		require.NoError(t, err)
	}

	rows, err := engine.GetUserBalancesForGroup(ctx, group, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.Involves(2))
	}
}

func TestEnsureGroupSettled(t *testing.T) {
	// GIVEN: A pair with an open balance
	// WHEN: Checking the closing guards, then settling to zero
	// THEN: The guards fail while open and pass once the row reads zero

	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.AdjustPairBalance(ctx, owes(1, 2, "3.00"))
	require.NoError(t, err)

	err = engine.EnsureGroupSettled(ctx, group)
	var open *ledger.OutstandingBalanceError
	require.ErrorAs(t, err, &open)
	assert.Len(t, open.Rows, 1)
	assert.ErrorIs(t, engine.EnsureMemberSettled(ctx, group, 2), ledger.ErrOutstandingBalance)
	assert.NoError(t, engine.EnsureMemberSettled(ctx, group, 3))

	_, err = engine.AdjustPairBalance(ctx, owes(1, 2, "-3.00"))
	require.NoError(t, err)
	assert.NoError(t, engine.EnsureGroupSettled(ctx, group))

	rows, err := engine.GetGroupBalances(ctx, group)
	require.NoError(t, err)
	require.Len(t, rows, 1, "settled rows are kept")
	assert.True(t, rows[0].Amount.IsZero())
}

func TestReconcile_ConsistentAfterMixedAdjustments(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	for _, adj := range []ledger.Adjustment{
		owes(1, 2, "10.00"), owes(2, 1, "3.33"), owes(3, 1, "0.01"), owes(1, 2, "-6.67"),
	} {
		_, err := engine.AdjustPairBalance(ctx, adj)
		require.NoError(t, err)
	}

	report, err := engine.Reconcile(ctx, group)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "discrepancies: %+v", report.Discrepancies)
	assert.Equal(t, 2, report.PairsChecked)
	assert.Equal(t, 4, report.EntriesRead)
}

func TestReconcileAll_SweepsEveryGroup(t *testing.T) {
	// GIVEN: Balances in groups 3 and 1
	// WHEN: Reconciling everything
	// THEN: One consistent report per group, ascending by group id

	ctx := context.Background()
	engine, _ := newTestEngine(t)

	for _, g := range []ledger.GroupID{3, 1} {
		adj := owes(1, 2, "4.20")
		adj.GroupID = g
		_, err := engine.AdjustPairBalance(ctx, adj)
		require.NoError(t, err)
	}

	groups, err := engine.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.GroupID{1, 3}, groups)

	reports, err := engine.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, ledger.GroupID(1), reports[0].GroupID)
	assert.Equal(t, ledger.GroupID(3), reports[1].GroupID)
	for _, r := range reports {
		assert.True(t, r.Consistent())
	}
}

// eagerStore writes the zero row as soon as a missing pair is locked, the way
// the MySQL backend upserts before SELECT ... FOR UPDATE.
type eagerStore struct {
	*store.Memory
}

func (s eagerStore) WithTx(ctx context.Context, fn func(ledger.TxStore) error) error {
	return s.Memory.WithTx(ctx, func(ts ledger.TxStore) error {
		return fn(eagerTx{TxStore: ts, parent: s.Memory})
	})
}

type eagerTx struct {
	ledger.TxStore
	parent *store.Memory
}

func (tx eagerTx) LockPair(ctx context.Context, tok *ledger.WriteToken, key ledger.PairKey) (ledger.BalanceRow, error) {
	row, err := tx.TxStore.LockPair(ctx, tok, key)
	if err != nil {
		return row, err
	}
	if _, ok, _ := tx.parent.GetBalance(ctx, key); !ok {
		err = tx.TxStore.PutBalance(ctx, tok, row)
	}
	return row, err
}

func TestLockPairs_LockOnlyRowsStaySettledAndConsistent(t *testing.T) {
	// GIVEN: A backend that creates the row when a missing pair is locked
	// WHEN: A tx locks two new pairs, adjusts one of them and commits
	// THEN: The untouched pair remains as a zero row with no audit entry,
	//       replay and the settled guards accept it

	ctx := context.Background()
	engine := ledger.NewEngine(eagerStore{Memory: store.NewMemory()})

	err := engine.Atomically(ctx, func(tx *ledger.Tx) error {
		if err := tx.LockPairs(ctx, ledger.NewPairKey(group, 1, 2), ledger.NewPairKey(group, 1, 3)); err != nil {
			return err
		}
		_, err := tx.AdjustPairBalance(ctx, owes(2, 1, "7.00"))
		return err
	})
	require.NoError(t, err)

	rows, err := engine.GetGroupBalances(ctx, group)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.UserID(3), rows[1].UserHigh)
	assert.True(t, rows[1].Amount.IsZero())

	pair := ledger.NewPairKey(group, 1, 3)
	entries, err := engine.AuditTrail(ctx, ledger.AuditFilter{Pair: &pair})
	require.NoError(t, err)
	assert.Empty(t, entries)

	report, err := engine.Reconcile(ctx, group)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "discrepancies: %+v", report.Discrepancies)
	assert.Equal(t, 2, report.PairsChecked)
	assert.NoError(t, engine.EnsureMemberSettled(ctx, group, 3))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAdjustPairBalance_ConcurrentSamePair_NoLostUpdates(t *testing.T) {
	// GIVEN: 100 concurrent adjustments of 0.01 on one pair
	// WHEN: All of them commit
	// THEN: The row is exactly 1.00 and the audit chain has no gaps

	ctx := context.Background()
	engine, _ := newTestEngine(t)

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			_, err := engine.AdjustPairBalance(ctx, owes(1, 2, "0.01"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, "1.00", net(t, engine, 1, 2))
	report, err := engine.Reconcile(ctx, group)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 100, report.EntriesRead)
}

func TestLockPairs_OppositeOrder_NoDeadlock(t *testing.T) {
	// GIVEN: Two kinds of unit of work touching the same two pairs in opposite order
	// WHEN: Both pre-lock with LockPairs and run concurrently
	// THEN: All of them finish

	ctx := context.Background()
	engine, _ := newTestEngine(t, ledger.WithLockTimeout(2*time.Second))
	ab := ledger.NewPairKey(group, 1, 2)
	cd := ledger.NewPairKey(group, 3, 4)

	run := func(first, second ledger.Adjustment, keys ...ledger.PairKey) error {
		return engine.Atomically(ctx, func(tx *ledger.Tx) error {
			if err := tx.LockPairs(ctx, keys...); err != nil {
				return err
			}
			if _, err := tx.AdjustPairBalance(ctx, first); err != nil {
				return err
			}
			_, err := tx.AdjustPairBalance(ctx, second)
			return err
		})
	}

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error { return run(owes(1, 2, "1.00"), owes(3, 4, "1.00"), ab, cd) })
		g.Go(func() error { return run(owes(4, 3, "1.00"), owes(2, 1, "1.00"), cd, ab) })
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, "0.00", net(t, engine, 1, 2))
	assert.Equal(t, "0.00", net(t, engine, 3, 4))
}

func TestAdjustPairBalance_LockTimeout_IsRetryable(t *testing.T) {
	// GIVEN: A unit of work holding the lock on pair (1,2)
	// WHEN: Another adjustment of the same pair waits longer than the lock timeout
	// THEN: It fails with ErrLockTimeout; an unrelated pair is not blocked

	ctx := context.Background()
	engine, _ := newTestEngine(t, ledger.WithLockTimeout(50*time.Millisecond))

	held := make(chan struct{})
	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return engine.Atomically(ctx, func(tx *ledger.Tx) error {
			if _, err := tx.AdjustPairBalance(ctx, owes(1, 2, "1.00")); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	})
	<-held

	_, err := engine.AdjustPairBalance(ctx, owes(2, 1, "1.00"))
	var timeout *ledger.LockTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, ledger.NewPairKey(group, 1, 2), timeout.Key)

	_, err = engine.AdjustPairBalance(ctx, owes(3, 4, "1.00"))
	assert.NoError(t, err, "different pair must not wait")

	close(done)
	require.NoError(t, g.Wait())
	assert.Equal(t, "1.00", net(t, engine, 1, 2))
}

func TestAdjustPairBalance_ConcurrentDifferentPairs(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	var mu sync.Mutex
	applied := 0
	var g errgroup.Group
	for u := ledger.UserID(2); u <= 40; u++ {
		g.Go(func() error {
			res, err := engine.AdjustPairBalance(ctx, owes(u, 1, "2.50"))
			if err == nil && res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 39, applied)

	sum, err := engine.GetUserBalanceSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "97.50", ledger.FormatMoney(sum.TotalOwedTo))
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetrics_CountsCommitsAndFailures(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	engine, _ := newTestEngine(t, ledger.WithMetrics(ledger.NewMetrics(reg)))

	_, err := engine.AdjustPairBalance(ctx, owes(1, 2, "1.00"))
	require.NoError(t, err)
	_, err = engine.AdjustPairBalance(ctx, owes(1, 3, "2.00"))
	require.NoError(t, err)
	bad := owes(1, 2, "1.00")
	bad.Delta = decimal.RequireFromString("0.001")
	_, err = engine.AdjustPairBalance(ctx, bad)
	require.Error(t, err)

	expected := `
# HELP pairledger_adjustments_total Committed pair balance adjustments by reason.
# TYPE pairledger_adjustments_total counter
pairledger_adjustments_total{reason="expense"} 2
# HELP pairledger_adjustment_failures_total Aborted ledger transactions by failure kind.
# TYPE pairledger_adjustment_failures_total counter
pairledger_adjustment_failures_total{kind="validation"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pairledger_adjustments_total", "pairledger_adjustment_failures_total"))
	count, err := testutil.GatherAndCount(reg, "pairledger_lock_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

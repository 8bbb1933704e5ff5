package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/ledger/store"
)

// driftStore reports a stored amount one cent off for one group, the way a
// manual UPDATE against the balances table would.
type driftStore struct {
	*store.Memory
	group ledger.GroupID
}

func (d driftStore) ListGroupBalances(ctx context.Context, groupID ledger.GroupID) ([]ledger.BalanceRow, error) {
	rows, err := d.Memory.ListGroupBalances(ctx, groupID)
	if err != nil || groupID != d.group || len(rows) == 0 {
		return rows, err
	}
	rows[0].Amount = rows[0].Amount.Add(ledger.MustMoney("0.01"))
	return rows, nil
}

func seedGroups(t *testing.T, engine *ledger.Engine, groups ...ledger.GroupID) {
	t.Helper()
	for _, g := range groups {
		_, err := engine.AdjustPairBalance(context.Background(), ledger.Adjustment{
			GroupID: g, DebtorID: 1, CreditorID: 2, Delta: ledger.MustMoney("12.00"),
			Reason: ledger.ReasonExpense, RelatedType: ledger.RelatedExpense, RelatedID: "seed",
		})
		require.NoError(t, err)
	}
}

func TestScheduler_RunNow_FlagsDriftedGroup(t *testing.T) {
	// GIVEN: Three groups, the stored row of group 2 drifted by a cent
	// WHEN: Running a sweep
	// THEN: Every group is checked and only group 2 is reported

	engine := ledger.NewEngine(driftStore{Memory: store.NewMemory(), group: 2})
	seedGroups(t, engine, 1, 2, 3)
	rs := NewReconciliationScheduler(engine, 0, nil)

	run := rs.RunNow(context.Background())
	assert.Equal(t, 3, run.GroupsChecked)
	assert.Equal(t, 3, run.PairsChecked)
	assert.Equal(t, []ledger.GroupID{2}, run.Inconsistent)
	assert.Empty(t, run.Error)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	runs := rs.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, run.StartedAt, runs[0].StartedAt)
}

func TestScheduler_Runs_NewestFirstAndBounded(t *testing.T) {
	engine := ledger.NewEngine(store.NewMemory())
	seedGroups(t, engine, 1)
	rs := NewReconciliationScheduler(engine, 0, nil)

	for i := 0; i < maxRuns+5; i++ {
		rs.RunNow(context.Background())
	}
	runs := rs.Runs()
	require.Len(t, runs, maxRuns)
	assert.False(t, runs[0].StartedAt.Before(runs[len(runs)-1].StartedAt))
}

func TestScheduler_StartStop(t *testing.T) {
	// GIVEN: An enabled scheduler
	// WHEN: Starting it
	// THEN: A sweep runs right away and Stop returns once the loop exits

	engine := ledger.NewEngine(store.NewMemory())
	seedGroups(t, engine, 1)
	rs := NewReconciliationScheduler(engine, time.Hour, nil)

	rs.Start()
	rs.Start()
	require.Eventually(t, func() bool { return len(rs.Runs()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, rs.NextRunTime().IsZero())

	rs.Stop()
	rs.Stop()
	assert.True(t, rs.NextRunTime().IsZero())
	assert.Len(t, rs.Runs(), 1)
}

func TestScheduler_Disabled(t *testing.T) {
	rs := NewReconciliationScheduler(ledger.NewEngine(store.NewMemory()), 0, nil)
	assert.False(t, rs.Enabled())
	rs.Start()
	assert.True(t, rs.NextRunTime().IsZero())
	rs.Stop()
	assert.Empty(t, rs.Runs())
}

func TestReconciliationEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createExpense(1, dinner())

	rec := s.do(http.MethodPost, "/api/admin/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[ReconciliationRunDTO](t, rec)
	assert.Equal(t, 1, run.GroupsChecked)
	assert.Empty(t, run.Inconsistent)

	rec = s.do(http.MethodGet, "/api/admin/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[ReconciliationStatusDTO](t, rec)
	assert.False(t, status.Enabled)
	assert.Len(t, status.Runs, 1)
}

// Package store provides the in-memory ledger store.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps balances, the audit log and expense/settlement records in
// maps. Writers lock individual pairs, so transactions on different pairs
// run concurrently. Their writes stay in a tx-local overlay until commit,
// which applies the overlay under one short store mutex.
type Memory struct {
	mu          sync.RWMutex
	balances    map[ledger.PairKey]ledger.BalanceRow
	audit       []ledger.AuditEntry
	seq         int64
	expenses    map[string]expense.Expense
	settlements map[string]settlement.Settlement

	pairLocks   *ledger.LockTable[ledger.PairKey]
	recordLocks *ledger.LockTable[string]
}

func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[ledger.PairKey]ledger.BalanceRow),
		expenses:    make(map[string]expense.Expense),
		settlements: make(map[string]settlement.Settlement),
		pairLocks:   ledger.NewLockTable[ledger.PairKey](),
		recordLocks: ledger.NewLockTable[string](),
	}
}

// =============================================================================
// READS - Committed state only
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, key ledger.PairKey) (ledger.BalanceRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.balances[key]
	return row, ok, nil
}

func (m *Memory) ListGroupBalances(_ context.Context, groupID ledger.GroupID) ([]ledger.BalanceRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []ledger.BalanceRow
	for k, row := range m.balances {
		if k.GroupID == groupID {
			rows = append(rows, row)
		}
	}
	sortRows(rows)
	return rows, nil
}

func (m *Memory) ListGroups(_ context.Context) ([]ledger.GroupID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[ledger.GroupID]bool)
	var out []ledger.GroupID
	for k := range m.balances {
		if !seen[k.GroupID] {
			seen[k.GroupID] = true
			out = append(out, k.GroupID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) ListUserBalances(_ context.Context, userID ledger.UserID) ([]ledger.BalanceRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []ledger.BalanceRow
	for _, row := range m.balances {
		if row.Involves(userID) {
			rows = append(rows, row)
		}
	}
	sortRows(rows)
	return rows, nil
}

func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) GetExpense(_ context.Context, id string) (expense.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.expenses[id]
	if !ok {
		return expense.Expense{}, fmt.Errorf("expense %s: %w", id, ledger.ErrNotFound)
	}
	return cloneExpense(e), nil
}

func (m *Memory) GetSettlement(_ context.Context, id string) (settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[id]
	if !ok {
		return settlement.Settlement{}, fmt.Errorf("settlement %s: %w", id, ledger.ErrNotFound)
	}
	return s, nil
}

func sortRows(rows []ledger.BalanceRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key().Less(rows[j].Key()) })
}

func cloneExpense(e expense.Expense) expense.Expense {
	e.Splits = append([]expense.Split(nil), e.Splits...)
	return e
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a tx-local overlay. On success the overlay is
// committed atomically and audit entries receive their Seq. Locks taken
// during fn are released after commit or rollback.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.TxStore) error) error {
	tx := &memoryTx{
		parent:      m,
		held:        make(map[ledger.PairKey]bool),
		heldRecords: make(map[string]bool),
		balances:    make(map[ledger.PairKey]ledger.BalanceRow),
		expenses:    make(map[string]expense.Expense),
		settlements: make(map[string]settlement.Settlement),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Inserts are checked again here: two transactions may insert the same id.
	for id, kind := range tx.inserted {
		_, expenseExists := m.expenses[id]
		_, settlementExists := m.settlements[id]
		if (kind == "expense" && expenseExists) || (kind == "settlement" && settlementExists) {
			return fmt.Errorf("%w: %s %s already exists", ledger.ErrInvalidEvent, kind, id)
		}
	}

	for k, row := range tx.balances {
		m.balances[k] = row
	}
	for _, e := range tx.audit {
		m.seq++
		e.Seq = m.seq
		m.audit = append(m.audit, e)
	}
	for id, e := range tx.expenses {
		m.expenses[id] = e
	}
	for id, s := range tx.settlements {
		m.settlements[id] = s
	}
	return nil
}

type memoryTx struct {
	parent *Memory

	held        map[ledger.PairKey]bool
	heldRecords map[string]bool
	releases    []func()

	balances    map[ledger.PairKey]ledger.BalanceRow
	audit       []ledger.AuditEntry
	expenses    map[string]expense.Expense
	settlements map[string]settlement.Settlement
	inserted    map[string]string // id -> kind
}

func (tx *memoryTx) release() {
	for i := len(tx.releases) - 1; i >= 0; i-- {
		tx.releases[i]()
	}
	tx.releases = nil
}

// -----------------------------------------------------------------------------
// ledger.TxStore
// -----------------------------------------------------------------------------

func (tx *memoryTx) LockPair(ctx context.Context, tok *ledger.WriteToken, key ledger.PairKey) (ledger.BalanceRow, error) {
	if err := ledger.CheckToken(tok, key); err != nil {
		return ledger.BalanceRow{}, err
	}
	if !tx.held[key] {
		started := time.Now()
		release, err := tx.parent.pairLocks.Acquire(ctx, key)
		if err != nil {
			return ledger.BalanceRow{}, ledger.LockWaitError(key, started, err)
		}
		tx.held[key] = true
		tx.releases = append(tx.releases, release)
	}
	if row, ok := tx.balances[key]; ok {
		return row, nil
	}
	row, ok, _ := tx.parent.GetBalance(ctx, key)
	if !ok {
		row = ledger.BalanceRow{GroupID: key.GroupID, UserLow: key.Low, UserHigh: key.High}
	}
	return row, nil
}

func (tx *memoryTx) PutBalance(_ context.Context, tok *ledger.WriteToken, row ledger.BalanceRow) error {
	key := row.Key()
	if err := ledger.CheckToken(tok, key); err != nil {
		return err
	}
	if !tx.held[key] {
		return &ledger.ConsistencyError{Key: key, Detail: "balance written without holding its lock"}
	}
	tx.balances[key] = row
	return nil
}

func (tx *memoryTx) AppendAudit(_ context.Context, tok *ledger.WriteToken, entry ledger.AuditEntry) error {
	if err := ledger.CheckToken(tok, entry.Key()); err != nil {
		return err
	}
	if entry.Magnitude.IsNegative() {
		return &ledger.ConsistencyError{Key: entry.Key(), Detail: "negative audit magnitude"}
	}
	tx.audit = append(tx.audit, entry)
	return nil
}

// -----------------------------------------------------------------------------
// Record locks
// -----------------------------------------------------------------------------

func (tx *memoryTx) lockRecord(ctx context.Context, kind, id string) error {
	name := kind + ":" + id
	if tx.heldRecords[name] {
		return nil
	}
	release, err := tx.parent.recordLocks.Acquire(ctx, name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", ledger.ErrLockTimeout, kind, id)
		}
		return err
	}
	tx.heldRecords[name] = true
	tx.releases = append(tx.releases, release)
	return nil
}

func (tx *memoryTx) markInserted(kind, id string) {
	if tx.inserted == nil {
		tx.inserted = make(map[string]string)
	}
	tx.inserted[id] = kind
}

// -----------------------------------------------------------------------------
// expense.Records
// -----------------------------------------------------------------------------

func (tx *memoryTx) InsertExpense(ctx context.Context, e expense.Expense) error {
	if _, err := tx.expense(ctx, e.ID); err == nil {
		return fmt.Errorf("%w: expense %s already exists", ledger.ErrInvalidEvent, e.ID)
	}
	tx.expenses[e.ID] = cloneExpense(e)
	tx.markInserted("expense", e.ID)
	return nil
}

func (tx *memoryTx) GetExpenseForUpdate(ctx context.Context, id string) (expense.Expense, error) {
	if err := tx.lockRecord(ctx, "expense", id); err != nil {
		return expense.Expense{}, err
	}
	return tx.expense(ctx, id)
}

func (tx *memoryTx) expense(ctx context.Context, id string) (expense.Expense, error) {
	if e, ok := tx.expenses[id]; ok {
		return cloneExpense(e), nil
	}
	return tx.parent.GetExpense(ctx, id)
}

func (tx *memoryTx) UpdateExpense(ctx context.Context, e expense.Expense) error {
	if _, err := tx.expense(ctx, e.ID); err != nil {
		return err
	}
	tx.expenses[e.ID] = cloneExpense(e)
	return nil
}

func (tx *memoryTx) SoftDeleteExpense(ctx context.Context, id string, at time.Time) error {
	e, err := tx.expense(ctx, id)
	if err != nil {
		return err
	}
	e.DeletedAt = &at
	e.UpdatedAt = at
	tx.expenses[id] = e
	return nil
}

// -----------------------------------------------------------------------------
// settlement.Records
// -----------------------------------------------------------------------------

func (tx *memoryTx) InsertSettlement(ctx context.Context, s settlement.Settlement) error {
	if _, err := tx.settlement(ctx, s.ID); err == nil {
		return fmt.Errorf("%w: settlement %s already exists", ledger.ErrInvalidEvent, s.ID)
	}
	tx.settlements[s.ID] = s
	tx.markInserted("settlement", s.ID)
	return nil
}

func (tx *memoryTx) GetSettlementForUpdate(ctx context.Context, id string) (settlement.Settlement, error) {
	if err := tx.lockRecord(ctx, "settlement", id); err != nil {
		return settlement.Settlement{}, err
	}
	return tx.settlement(ctx, id)
}

func (tx *memoryTx) settlement(ctx context.Context, id string) (settlement.Settlement, error) {
	if s, ok := tx.settlements[id]; ok {
		return s, nil
	}
	return tx.parent.GetSettlement(ctx, id)
}

func (tx *memoryTx) SoftDeleteSettlement(ctx context.Context, id string, at time.Time) error {
	s, err := tx.settlement(ctx, id)
	if err != nil {
		return err
	}
	s.DeletedAt = &at
	tx.settlements[id] = s
	return nil
}

var (
	_ ledger.Store       = (*Memory)(nil)
	_ ledger.TxStore     = (*memoryTx)(nil)
	_ expense.Records    = (*memoryTx)(nil)
	_ settlement.Records = (*memoryTx)(nil)
	_ expense.Reader     = (*Memory)(nil)
	_ settlement.Reader  = (*Memory)(nil)
)

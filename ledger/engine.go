/*
engine.go - The balance engine: atomic pair adjustments

PURPOSE:
  Engine is the only component that mutates balance rows or appends audit
  entries. Everything else hands it elementary Adjustments.

ALGORITHM (AdjustPairBalance):
  1. low, high = min/max(debtor, creditor)
  2. actual = delta if low == debtor else -delta
  3. lock row (group, low, high), creating it at zero if absent
  4. new = old + actual; write row
  5. append AuditEntry{magnitude: |delta|, before: old, after: new}
  Steps 3-5 run inside one store transaction.

CONCURRENCY:
  Locks are per pair. Adjustments to the same pair serialize in commit
  order; unrelated pairs do not wait for each other (backend permitting).
  Lock waits are bounded by the lock timeout and surface as ErrLockTimeout.

NO-OPS:
  debtor == creditor touches nothing and returns zeros with Applied=false.
  delta == 0 locks the pair, writes nothing and returns the current amount
  as both Old and New with Applied=false.

LOCK-ONLY PAIRS:
  A backend may create the zero row when the pair is locked (MySQL does, to
  lock a row that does not exist yet). A tx that locks a new pair and never
  adjusts it therefore commits a zero row with no audit entry. Replay and
  the settlement guards treat such rows as settled.

DEDUPLICATION:
  None. Callers compensate with explicit reversals.

EXAMPLE:
  engine := ledger.NewEngine(store.NewMemory())
  err := engine.Atomically(ctx, func(tx *ledger.Tx) error {
      _, err := tx.AdjustPairBalance(ctx, ledger.Adjustment{...})
      return err
  })
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultLockTimeout bounds how long an adjustment waits for a pair lock.
const DefaultLockTimeout = 5 * time.Second

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store       Store
	token       *WriteToken
	lockTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     *Metrics
}

type Option func(*Engine)

func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates the engine and mints its write token.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.token = &WriteToken{issuer: e}
	return e
}

// Now returns the engine clock in UTC. Adapters stamp their records with it.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// AdjustPairBalance applies one adjustment in its own transaction.
func (e *Engine) AdjustPairBalance(ctx context.Context, adj Adjustment) (AdjustResult, error) {
	var res AdjustResult
	err := e.Atomically(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.AdjustPairBalance(ctx, adj)
		return err
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return res, nil
}

// Atomically runs fn as one unit of work. Every adjustment and every record
// write made through tx commits together or not at all. Locks are released
// after commit or rollback.
func (e *Engine) Atomically(ctx context.Context, fn func(tx *Tx) error) error {
	var tx *Tx
	err := e.store.WithTx(ctx, func(ts TxStore) error {
		tx = &Tx{engine: e, store: ts, rows: make(map[PairKey]BalanceRow)}
		return fn(tx)
	})
	if err != nil {
		e.metrics.failed(err)
		if errors.Is(err, ErrConsistencyViolation) {
			e.logger.Error("ledger transaction aborted", "error", err)
		} else {
			e.logger.Debug("ledger transaction rolled back", "error", err, "retryable", IsRetryable(err))
		}
		return err
	}
	if tx == nil {
		return nil
	}
	e.metrics.committed(tx.entries)
	for _, entry := range tx.entries {
		e.logger.Debug("balance adjusted",
			"group_id", entry.GroupID,
			"debtor_id", entry.DebtorID,
			"creditor_id", entry.CreditorID,
			"reason", entry.Reason,
			"related_id", entry.RelatedID,
			"before", FormatMoney(entry.BalanceBefore),
			"after", FormatMoney(entry.BalanceAfter),
		)
	}
	return nil
}

// =============================================================================
// TX - One unit of work
// =============================================================================

// Tx is handed to Atomically callbacks. It must not be used after the
// callback returns.
type Tx struct {
	engine  *Engine
	store   TxStore
	rows    map[PairKey]BalanceRow // locked in this tx, with in-tx amounts
	entries []AuditEntry
}

// Backend exposes the running store transaction so adapters can reach the
// record capabilities it implements (see expense.Records). It cannot be used
// to mutate balances without the engine's token.
func (tx *Tx) Backend() TxStore {
	return tx.store
}

// Now returns the engine clock in UTC.
func (tx *Tx) Now() time.Time {
	return tx.engine.Now()
}

// LockContext derives a context bounded by the engine lock timeout, for
// record locks taken by adapters.
func (tx *Tx) LockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tx.engine.lockTimeout)
}

// Entries returns the audit entries written so far in this tx.
func (tx *Tx) Entries() []AuditEntry {
	out := make([]AuditEntry, len(tx.entries))
	copy(out, tx.entries)
	return out
}

// LockPairs locks keys in canonical order. Events that touch several pairs
// call this first so that two concurrent events never wait on each other in
// opposite order. On backends that create rows at lock time, a locked pair
// that is never adjusted commits as a zero row without audit entries.
func (tx *Tx) LockPairs(ctx context.Context, keys ...PairKey) error {
	sorted := make([]PairKey, 0, len(keys))
	seen := make(map[PairKey]bool, len(keys))
	for _, k := range keys {
		if k.Low == k.High || seen[k] {
			continue
		}
		seen[k] = true
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	for _, k := range sorted {
		if _, err := tx.lock(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) lock(ctx context.Context, key PairKey) (BalanceRow, error) {
	if row, ok := tx.rows[key]; ok {
		return row, nil
	}
	if key.Low >= key.High {
		return BalanceRow{}, &ConsistencyError{Key: key, Detail: "pair key is not normalized"}
	}

	lctx, cancel := tx.LockContext(ctx)
	defer cancel()
	started := time.Now()
	row, err := tx.store.LockPair(lctx, tx.engine.token, key)
	tx.engine.metrics.waited(time.Since(started).Seconds())
	if err != nil {
		return BalanceRow{}, err
	}
	if row.Key() != key {
		return BalanceRow{}, &ConsistencyError{Key: key, Detail: fmt.Sprintf("store returned row for %s", row.Key())}
	}
	tx.rows[key] = row
	return row, nil
}

// NetBalance locks the pair and returns what a owes b (negative when b owes
// a). Use it for check-then-adjust logic: the value cannot change before the
// tx ends.
func (tx *Tx) NetBalance(ctx context.Context, groupID GroupID, a, b UserID) (decimal.Decimal, error) {
	if a == b {
		return decimal.Zero, nil
	}
	row, err := tx.lock(ctx, NewPairKey(groupID, a, b))
	if err != nil {
		return decimal.Zero, err
	}
	return row.OwedBy(a), nil
}

// AdjustPairBalance applies adj inside this tx. See the file header for the
// algorithm.
func (tx *Tx) AdjustPairBalance(ctx context.Context, adj Adjustment) (AdjustResult, error) {
	key, actual := adj.Normalize()
	if !adj.Reason.Valid() {
		return AdjustResult{}, &ConsistencyError{Key: key, Detail: fmt.Sprintf("unknown adjustment reason %q", adj.Reason)}
	}
	if !IsCents(adj.Delta) {
		return AdjustResult{}, fmt.Errorf("%w: delta %s has more than %d decimal places", ErrInvalidAmount, adj.Delta, Scale)
	}
	if adj.DebtorID == adj.CreditorID {
		tx.engine.logger.Warn("self adjustment ignored",
			"group_id", adj.GroupID, "user_id", adj.DebtorID, "related_id", adj.RelatedID)
		return AdjustResult{}, nil
	}

	row, err := tx.lock(ctx, key)
	if err != nil {
		return AdjustResult{}, err
	}
	if adj.Delta.IsZero() {
		return AdjustResult{Old: row.Amount, New: row.Amount}, nil
	}

	old := row.Amount
	row.Amount = old.Add(actual)
	row.UpdatedAt = tx.engine.Now()

	entry := AuditEntry{
		ID:            uuid.NewString(),
		GroupID:       adj.GroupID,
		DebtorID:      adj.DebtorID,
		CreditorID:    adj.CreditorID,
		Magnitude:     adj.Delta.Abs(),
		Reason:        adj.Reason,
		RelatedType:   adj.RelatedType,
		RelatedID:     adj.RelatedID,
		BalanceBefore: old,
		BalanceAfter:  row.Amount,
		Note:          fmt.Sprintf("Adjustment of delta %s between user %d and %d", FormatMoney(adj.Delta), adj.DebtorID, adj.CreditorID),
		CreatedAt:     row.UpdatedAt,
	}
	if err := checkEntry(key, entry, actual); err != nil {
		return AdjustResult{}, err
	}

	if err := tx.store.PutBalance(ctx, tx.engine.token, row); err != nil {
		return AdjustResult{}, err
	}
	if err := tx.store.AppendAudit(ctx, tx.engine.token, entry); err != nil {
		return AdjustResult{}, err
	}

	tx.rows[key] = row
	tx.entries = append(tx.entries, entry)
	return AdjustResult{Old: old, New: row.Amount, Applied: true}, nil
}

func checkEntry(key PairKey, e AuditEntry, actual decimal.Decimal) error {
	if e.Magnitude.IsNegative() {
		return &ConsistencyError{Key: key, Detail: "negative audit magnitude"}
	}
	if !e.Delta().Equal(actual) {
		return &ConsistencyError{Key: key, Detail: fmt.Sprintf("audit delta %s does not match applied delta %s", e.Delta(), actual)}
	}
	if !IsCents(e.BalanceAfter) {
		return &ConsistencyError{Key: key, Detail: "balance lost fixed-point precision"}
	}
	return nil
}

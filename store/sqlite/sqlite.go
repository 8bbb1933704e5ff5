/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements ledger.Store plus the expense and settlement record
  capabilities on SQLite. The MySQL store (store/mysql) follows the same
  layout with row-level locking.

INTERFACES IMPLEMENTED:
  ledger.Store:       balances + audit log reads, WithTx
  ledger.TxStore:     LockPair / PutBalance / AppendAudit (token checked)
  expense.Records:    expense rows and their splits
  settlement.Records: settlement rows

APPEND-ONLY ENFORCEMENT:
  Triggers abort every UPDATE or DELETE on audit_entries and every DELETE
  on balances, so even a hand-written statement cannot rewrite history.
  CHECK (user_low < user_high) rejects non-normalized rows.

KEY TABLES:
  balances:        one row per (group_id, user_low, user_high)
  audit_entries:   immutable log; seq is the commit order
  expenses:        expense records (soft deleted via deleted_at)
  expense_splits:  shares per expense
  settlements:     settlement records (soft deleted via deleted_at)

INDEXES:
  - audit_entries(group_id), (related_type, related_id), (created_at)
  - audit_entries(group_id, pair_low, pair_high, seq): replay per pair
  - balances(user_low), balances(user_high): user summaries

CONCURRENCY:
  SQLite has one writer. WithTx takes the store's writer slot before it
  begins, waiting at most the writer timeout (ErrLockTimeout after that).
  Pair locks are therefore logical only: every writer is serialized, which
  trivially satisfies per-pair serialization. Reads do not take the slot.

WAL MODE:
  Opened with WAL, so readers never block the writer and see committed
  state only.

USAGE:
  store, err := sqlite.New("./data/pair-ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/settlement"
	"github.com/warp/pair-ledger/store/internal/sqlq"
)

// DefaultWriterTimeout bounds the wait for the writer slot.
const DefaultWriterTimeout = 5 * time.Second

// timeLayout is fixed width so that TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db            *sql.DB
	writer        chan struct{}
	writerTimeout time.Duration
}

type Option func(*Store)

// WithWriterTimeout sets how long WithTx waits for the writer slot.
func WithWriterTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writerTimeout = d
		}
	}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{
		db:            db,
		writer:        make(chan struct{}, 1),
		writerTimeout: DefaultWriterTimeout,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Balances: one normalized row per pair, never deleted
	CREATE TABLE IF NOT EXISTS balances (
		group_id INTEGER NOT NULL,
		user_low INTEGER NOT NULL,
		user_high INTEGER NOT NULL,
		amount TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (group_id, user_low, user_high),
		CHECK (user_low < user_high)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_user_low ON balances(user_low);
	CREATE INDEX IF NOT EXISTS idx_balances_user_high ON balances(user_high);

	CREATE TRIGGER IF NOT EXISTS trg_balances_no_delete
	BEFORE DELETE ON balances
	BEGIN
		SELECT RAISE(ABORT, 'balance rows are never deleted');
	END;

	-- Audit entries (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		group_id INTEGER NOT NULL,
		debtor_id INTEGER NOT NULL,
		creditor_id INTEGER NOT NULL,
		pair_low INTEGER NOT NULL,
		pair_high INTEGER NOT NULL,
		magnitude TEXT NOT NULL,
		reason TEXT NOT NULL CHECK (reason IN ('expense', 'expense_reversal', 'settlement', 'settlement_reversal')),
		related_type TEXT NOT NULL,
		related_id TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_group ON audit_entries(group_id);
	CREATE INDEX IF NOT EXISTS idx_audit_related ON audit_entries(related_type, related_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_entries(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_pair ON audit_entries(group_id, pair_low, pair_high, seq);

	CREATE TRIGGER IF NOT EXISTS trg_audit_no_update
	BEFORE UPDATE ON audit_entries
	BEGIN
		SELECT RAISE(ABORT, 'audit entries are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_audit_no_delete
	BEFORE DELETE ON audit_entries
	BEGIN
		SELECT RAISE(ABORT, 'audit entries are append-only');
	END;

	-- Expenses
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		group_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		payer_id INTEGER NOT NULL,
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_group ON expenses(group_id);

	CREATE TABLE IF NOT EXISTS expense_splits (
		expense_id TEXT NOT NULL REFERENCES expenses(id),
		position INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		share_amount TEXT NOT NULL,
		PRIMARY KEY (expense_id, position)
	);

	-- Settlements
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		group_id INTEGER NOT NULL,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		payment_mode TEXT NOT NULL DEFAULT 'cash',
		note TEXT,
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_group ON settlements(group_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READS (ledger.Reader)
// =============================================================================

// GetBalance returns the committed row for key.
func (s *Store) GetBalance(ctx context.Context, key ledger.PairKey) (ledger.BalanceRow, bool, error) {
	return getBalance(ctx, s.db, key)
}

// ListGroupBalances returns every row of a group ordered by (low, high).
func (s *Store) ListGroupBalances(ctx context.Context, groupID ledger.GroupID) ([]ledger.BalanceRow, error) {
	return s.queryBalances(ctx, `
		SELECT group_id, user_low, user_high, amount, updated_at
		FROM balances
		WHERE group_id = ?
		ORDER BY user_low, user_high
	`, int64(groupID))
}

// ListUserBalances returns the user's rows across all groups.
func (s *Store) ListUserBalances(ctx context.Context, userID ledger.UserID) ([]ledger.BalanceRow, error) {
	return s.queryBalances(ctx, `
		SELECT group_id, user_low, user_high, amount, updated_at
		FROM balances
		WHERE user_low = ? OR user_high = ?
		ORDER BY group_id, user_low, user_high
	`, int64(userID), int64(userID))
}

// ListGroups returns every group with a balance row.
func (s *Store) ListGroups(ctx context.Context) ([]ledger.GroupID, error) {
	return sqlq.ListGroups(ctx, s.db, classify)
}

// QueryAudit returns matching entries in seq order.
func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	where, args := sqlq.AuditWhere(filter, func(t time.Time) any { return formatTime(t) })
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqlq.AuditColumns+" FROM audit_entries"+where+" ORDER BY seq ASC", args...)
	if err != nil {
		return nil, classify("query audit", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, classify("query audit", rows.Err())
}

// GetExpense returns the committed expense with its splits.
func (s *Store) GetExpense(ctx context.Context, id string) (expense.Expense, error) {
	return getExpense(ctx, s.db, id)
}

// GetSettlement returns the committed settlement.
func (s *Store) GetSettlement(ctx context.Context, id string) (settlement.Settlement, error) {
	return getSettlement(ctx, s.db, id)
}

func (s *Store) queryBalances(ctx context.Context, query string, args ...any) ([]ledger.BalanceRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query balances", err)
	}
	defer rows.Close()

	var out []ledger.BalanceRow
	for rows.Next() {
		row, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, classify("query balances", rows.Err())
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore)
// =============================================================================

// WithTx takes the writer slot, then runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.TxStore) error) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer func() { <-s.writer }()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	ts := &txStore{tx: sqlTx, locked: make(map[ledger.PairKey]bool)}
	if err := fn(ts); err != nil {
		return err
	}

	return classify("commit", sqlTx.Commit())
}

func (s *Store) acquireWriter(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, s.writerTimeout)
	defer cancel()
	started := time.Now()
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-wctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: sqlite writer slot busy for %s", ledger.ErrLockTimeout, time.Since(started).Round(time.Millisecond))
	}
}

type txStore struct {
	tx     *sql.Tx
	locked map[ledger.PairKey]bool
}

// LockPair reads the row inside the write transaction. The writer slot
// already excludes every other writer.
func (ts *txStore) LockPair(ctx context.Context, tok *ledger.WriteToken, key ledger.PairKey) (ledger.BalanceRow, error) {
	if err := ledger.CheckToken(tok, key); err != nil {
		return ledger.BalanceRow{}, err
	}
	row, ok, err := getBalance(ctx, ts.tx, key)
	if err != nil {
		return ledger.BalanceRow{}, err
	}
	if !ok {
		row = ledger.BalanceRow{GroupID: key.GroupID, UserLow: key.Low, UserHigh: key.High}
	}
	ts.locked[key] = true
	return row, nil
}

func (ts *txStore) PutBalance(ctx context.Context, tok *ledger.WriteToken, row ledger.BalanceRow) error {
	key := row.Key()
	if err := ledger.CheckToken(tok, key); err != nil {
		return err
	}
	if !ts.locked[key] {
		return &ledger.ConsistencyError{Key: key, Detail: "balance written without holding its lock"}
	}
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO balances (group_id, user_low, user_high, amount, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (group_id, user_low, user_high)
		DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at
	`, int64(row.GroupID), int64(row.UserLow), int64(row.UserHigh), row.Amount.String(), formatTime(row.UpdatedAt))
	return classify("put balance", err)
}

func (ts *txStore) AppendAudit(ctx context.Context, tok *ledger.WriteToken, e ledger.AuditEntry) error {
	key := e.Key()
	if err := ledger.CheckToken(tok, key); err != nil {
		return err
	}
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, group_id, debtor_id, creditor_id, pair_low, pair_high, magnitude, reason,
		 related_type, related_id, balance_before, balance_after, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, int64(e.GroupID), int64(e.DebtorID), int64(e.CreditorID), int64(key.Low), int64(key.High),
		e.Magnitude.String(), string(e.Reason), string(e.RelatedType), e.RelatedID,
		e.BalanceBefore.String(), e.BalanceAfter.String(), sqlq.NullString(e.Note), formatTime(e.CreatedAt),
	)
	return classify("append audit", err)
}

// =============================================================================
// EXPENSE RECORDS (expense.Records)
// =============================================================================

func (ts *txStore) InsertExpense(ctx context.Context, e expense.Expense) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO expenses (id, group_id, title, total_amount, payer_id, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, int64(e.GroupID), e.Title, e.TotalAmount.String(), int64(e.PayerID), int64(e.CreatedBy),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: expense %s already exists", ledger.ErrInvalidEvent, e.ID)
	}
	if err != nil {
		return classify("insert expense", err)
	}
	return ts.insertSplits(ctx, e)
}

func (ts *txStore) insertSplits(ctx context.Context, e expense.Expense) error {
	for i, sp := range e.Splits {
		_, err := ts.tx.ExecContext(ctx, `
			INSERT INTO expense_splits (expense_id, position, user_id, share_amount)
			VALUES (?, ?, ?, ?)
		`, e.ID, i, int64(sp.UserID), sp.ShareAmount.String())
		if err != nil {
			return classify("insert expense split", err)
		}
	}
	return nil
}

// GetExpenseForUpdate reads inside the write transaction; the writer slot
// is the record lock.
func (ts *txStore) GetExpenseForUpdate(ctx context.Context, id string) (expense.Expense, error) {
	return getExpense(ctx, ts.tx, id)
}

func (ts *txStore) UpdateExpense(ctx context.Context, e expense.Expense) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE expenses SET title = ?, total_amount = ?, payer_id = ?, updated_at = ?
		WHERE id = ?
	`, e.Title, e.TotalAmount.String(), int64(e.PayerID), formatTime(e.UpdatedAt), e.ID)
	if err := expectOne(res, err, "update expense", "expense", e.ID); err != nil {
		return err
	}
	if _, err := ts.tx.ExecContext(ctx, "DELETE FROM expense_splits WHERE expense_id = ?", e.ID); err != nil {
		return classify("replace expense splits", err)
	}
	return ts.insertSplits(ctx, e)
}

func (ts *txStore) SoftDeleteExpense(ctx context.Context, id string, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE expenses SET deleted_at = ?, updated_at = ? WHERE id = ?",
		formatTime(at), formatTime(at), id)
	return expectOne(res, err, "delete expense", "expense", id)
}

// =============================================================================
// SETTLEMENT RECORDS (settlement.Records)
// =============================================================================

func (ts *txStore) InsertSettlement(ctx context.Context, st settlement.Settlement) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO settlements (id, group_id, from_id, to_id, amount, payment_mode, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, int64(st.GroupID), int64(st.FromID), int64(st.ToID), st.Amount.String(),
		st.PaymentMode, sqlq.NullString(st.Note), int64(st.CreatedBy), formatTime(st.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: settlement %s already exists", ledger.ErrInvalidEvent, st.ID)
	}
	return classify("insert settlement", err)
}

func (ts *txStore) GetSettlementForUpdate(ctx context.Context, id string) (settlement.Settlement, error) {
	return getSettlement(ctx, ts.tx, id)
}

func (ts *txStore) SoftDeleteSettlement(ctx context.Context, id string, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx, "UPDATE settlements SET deleted_at = ? WHERE id = ?", formatTime(at), id)
	return expectOne(res, err, "delete settlement", "settlement", id)
}

// =============================================================================
// QUERIES SHARED BY STORE AND TX
// =============================================================================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getBalance(ctx context.Context, q querier, key ledger.PairKey) (ledger.BalanceRow, bool, error) {
	row, err := scanBalance(q.QueryRowContext(ctx, `
		SELECT group_id, user_low, user_high, amount, updated_at
		FROM balances
		WHERE group_id = ? AND user_low = ? AND user_high = ?
	`, int64(key.GroupID), int64(key.Low), int64(key.High)))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.BalanceRow{}, false, nil
	}
	if err != nil {
		return ledger.BalanceRow{}, false, err
	}
	return row, true, nil
}

func scanBalance(sc scanner) (ledger.BalanceRow, error) {
	var (
		row       ledger.BalanceRow
		amount    string
		updatedAt string
	)
	if err := sc.Scan(&row.GroupID, &row.UserLow, &row.UserHigh, &amount, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, err
		}
		return row, classify("scan balance", err)
	}
	var err error
	if row.Amount, err = sqlq.Decimal("balances.amount", amount); err != nil {
		return row, err
	}
	row.UpdatedAt = parseTime(updatedAt)
	return row, nil
}

func scanAudit(sc scanner) (ledger.AuditEntry, error) {
	var (
		e                               ledger.AuditEntry
		magnitude, before, after, stamp string
		note                            sql.NullString
	)
	err := sc.Scan(&e.Seq, &e.ID, &e.GroupID, &e.DebtorID, &e.CreditorID, &magnitude, &e.Reason,
		&e.RelatedType, &e.RelatedID, &before, &after, &note, &stamp)
	if err != nil {
		return e, classify("scan audit entry", err)
	}
	if e.Magnitude, err = sqlq.Decimal("audit_entries.magnitude", magnitude); err != nil {
		return e, err
	}
	if e.BalanceBefore, err = sqlq.Decimal("audit_entries.balance_before", before); err != nil {
		return e, err
	}
	if e.BalanceAfter, err = sqlq.Decimal("audit_entries.balance_after", after); err != nil {
		return e, err
	}
	e.Note = note.String
	e.CreatedAt = parseTime(stamp)
	return e, nil
}

func getExpense(ctx context.Context, q querier, id string) (expense.Expense, error) {
	var (
		e                              expense.Expense
		total, createdAt, updatedAt    string
		deletedAt                      sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, group_id, title, total_amount, payer_id, created_by, created_at, updated_at, deleted_at
		FROM expenses WHERE id = ?
	`, id).Scan(&e.ID, &e.GroupID, &e.Title, &total, &e.PayerID, &e.CreatedBy, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return expense.Expense{}, fmt.Errorf("expense %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return expense.Expense{}, classify("get expense", err)
	}
	if e.TotalAmount, err = sqlq.Decimal("expenses.total_amount", total); err != nil {
		return expense.Expense{}, err
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	if deletedAt.Valid {
		at := parseTime(deletedAt.String)
		e.DeletedAt = &at
	}

	rows, err := q.QueryContext(ctx,
		"SELECT user_id, share_amount FROM expense_splits WHERE expense_id = ? ORDER BY position", id)
	if err != nil {
		return expense.Expense{}, classify("get expense splits", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sp    expense.Split
			share string
		)
		if err := rows.Scan(&sp.UserID, &share); err != nil {
			return expense.Expense{}, classify("scan expense split", err)
		}
		if sp.ShareAmount, err = sqlq.Decimal("expense_splits.share_amount", share); err != nil {
			return expense.Expense{}, err
		}
		e.Splits = append(e.Splits, sp)
	}
	return e, classify("get expense splits", rows.Err())
}

func getSettlement(ctx context.Context, q querier, id string) (settlement.Settlement, error) {
	var (
		st               settlement.Settlement
		amount, created  string
		note, deletedAt  sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, group_id, from_id, to_id, amount, payment_mode, note, created_by, created_at, deleted_at
		FROM settlements WHERE id = ?
	`, id).Scan(&st.ID, &st.GroupID, &st.FromID, &st.ToID, &amount, &st.PaymentMode, &note, &st.CreatedBy, &created, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Settlement{}, fmt.Errorf("settlement %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return settlement.Settlement{}, classify("get settlement", err)
	}
	if st.Amount, err = sqlq.Decimal("settlements.amount", amount); err != nil {
		return settlement.Settlement{}, err
	}
	st.Note = note.String
	st.CreatedAt = parseTime(created)
	if deletedAt.Valid {
		at := parseTime(deletedAt.String)
		st.DeletedAt = &at
	}
	return st, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func expectOne(res sql.Result, err error, op, kind, id string) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// classify maps driver errors onto the ledger taxonomy: busy/locked is a
// lock timeout, constraint and trigger aborts are consistency violations,
// everything else is a storage failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s: %v", ledger.ErrLockTimeout, op, err)
		case sqlite3.ErrConstraint:
			return &ledger.ConsistencyError{Detail: fmt.Sprintf("%s: %v", op, err)}
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return ledger.Storage(op, err)
}

var (
	_ ledger.Store       = (*Store)(nil)
	_ ledger.TxStore     = (*txStore)(nil)
	_ expense.Records    = (*txStore)(nil)
	_ settlement.Records = (*txStore)(nil)
	_ expense.Reader     = (*Store)(nil)
	_ settlement.Reader  = (*Store)(nil)
)

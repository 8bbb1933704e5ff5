/*
Package mysql provides a MySQL (InnoDB) implementation of the ledger store.

PURPOSE:
  Production backend with real row-level locking. Pairs that do not share a
  balance row never wait for each other.

LOCKING:
  LockPair runs
      INSERT INTO balances (...) VALUES (..., 0.00, ...)
          ON DUPLICATE KEY UPDATE group_id = group_id
      SELECT ... FOR UPDATE
  The upsert takes an exclusive record lock whether or not the row exists,
  so first-time writers queue on one lock instead of deadlocking on gap or
  shared locks. A transaction that rolls back (rejected settlement) removes
  a freshly materialized row again.

  innodb_lock_wait_timeout is set per session from WithLockWait. Lock wait
  timeouts (1205), deadlocks (1213) and context deadlines map to
  ErrLockTimeout.

APPEND-ONLY ENFORCEMENT:
  BEFORE UPDATE / BEFORE DELETE triggers on audit_entries and BEFORE DELETE
  on balances SIGNAL SQLSTATE 45000. CHECK (user_low < user_high) rejects
  non-normalized rows (MySQL 8.0.16+).

AMOUNTS:
  DECIMAL(14,2) columns. The driver returns them as text and they are
  parsed back into decimal.Decimal without going through float64.

USAGE:
  store, err := mysql.New("ledger:secret@tcp(localhost:3306)/pair_ledger")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite: single-writer variant with the same schema
*/
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/settlement"
	"github.com/warp/pair-ledger/store/internal/sqlq"
)

// MySQL server error numbers the store classifies.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errLockDeadlock    = 1213
	errNoReferencedRow = 1452
	errSignalException = 1644
	errCheckViolated   = 3819
)

// DefaultLockWait is the InnoDB lock wait applied to every session.
const DefaultLockWait = 5 * time.Second

// Store implements the ledger storage interfaces using MySQL.
type Store struct {
	db *sql.DB
}

type options struct {
	lockWait     time.Duration
	maxOpenConns int
}

type Option func(*options)

// WithLockWait sets innodb_lock_wait_timeout (rounded up to whole seconds).
func WithLockWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockWait = d
		}
	}
}

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// New connects to MySQL and migrates the schema.
func New(dsn string, opts ...Option) (*Store, error) {
	o := options{lockWait: DefaultLockWait, maxOpenConns: 20}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(lockWaitSeconds(o.lockWait))
	cfg.Params["time_zone"] = "'+00:00'"

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func lockWaitSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// schema is executed one statement at a time; the driver does not enable
// multi statements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS balances (
		group_id BIGINT NOT NULL,
		user_low BIGINT NOT NULL,
		user_high BIGINT NOT NULL,
		amount DECIMAL(14,2) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (group_id, user_low, user_high),
		KEY idx_balances_user_low (user_low),
		KEY idx_balances_user_high (user_high),
		CONSTRAINT chk_balances_normalized CHECK (user_low < user_high)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id CHAR(36) NOT NULL UNIQUE,
		group_id BIGINT NOT NULL,
		debtor_id BIGINT NOT NULL,
		creditor_id BIGINT NOT NULL,
		pair_low BIGINT NOT NULL,
		pair_high BIGINT NOT NULL,
		magnitude DECIMAL(14,2) NOT NULL,
		reason ENUM('expense', 'expense_reversal', 'settlement', 'settlement_reversal') NOT NULL,
		related_type VARCHAR(32) NOT NULL,
		related_id VARCHAR(64) NOT NULL,
		balance_before DECIMAL(14,2) NOT NULL,
		balance_after DECIMAL(14,2) NOT NULL,
		note TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_audit_group (group_id),
		KEY idx_audit_related (related_type, related_id),
		KEY idx_audit_created_at (created_at),
		KEY idx_audit_pair (group_id, pair_low, pair_high, seq),
		CONSTRAINT chk_audit_magnitude CHECK (magnitude >= 0)
	) ENGINE=InnoDB`,

	`CREATE TRIGGER IF NOT EXISTS trg_audit_no_update BEFORE UPDATE ON audit_entries
	FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'audit entries are append-only'`,

	`CREATE TRIGGER IF NOT EXISTS trg_audit_no_delete BEFORE DELETE ON audit_entries
	FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'audit entries are append-only'`,

	`CREATE TRIGGER IF NOT EXISTS trg_balances_no_delete BEFORE DELETE ON balances
	FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'balance rows are never deleted'`,

	`CREATE TABLE IF NOT EXISTS expenses (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		group_id BIGINT NOT NULL,
		title VARCHAR(255) NOT NULL,
		total_amount DECIMAL(14,2) NOT NULL,
		payer_id BIGINT NOT NULL,
		created_by BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		deleted_at DATETIME(6) NULL,
		KEY idx_expenses_group (group_id)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS expense_splits (
		expense_id VARCHAR(64) NOT NULL,
		position INT NOT NULL,
		user_id BIGINT NOT NULL,
		share_amount DECIMAL(14,2) NOT NULL,
		PRIMARY KEY (expense_id, position),
		CONSTRAINT fk_splits_expense FOREIGN KEY (expense_id) REFERENCES expenses(id)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS settlements (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		group_id BIGINT NOT NULL,
		from_id BIGINT NOT NULL,
		to_id BIGINT NOT NULL,
		amount DECIMAL(14,2) NOT NULL,
		payment_mode VARCHAR(32) NOT NULL DEFAULT 'cash',
		note TEXT NULL,
		created_by BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		deleted_at DATETIME(6) NULL,
		KEY idx_settlements_group (group_id)
	) ENGINE=InnoDB`,
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}

// =============================================================================
// READS (ledger.Reader)
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key ledger.PairKey) (ledger.BalanceRow, bool, error) {
	row, err := scanBalance(s.db.QueryRowContext(ctx, `
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

func (s *Store) ListGroupBalances(ctx context.Context, groupID ledger.GroupID) ([]ledger.BalanceRow, error) {
	return s.queryBalances(ctx, `
		SELECT group_id, user_low, user_high, amount, updated_at
		FROM balances WHERE group_id = ?
		ORDER BY user_low, user_high
	`, int64(groupID))
}

func (s *Store) ListUserBalances(ctx context.Context, userID ledger.UserID) ([]ledger.BalanceRow, error) {
	return s.queryBalances(ctx, `
		SELECT group_id, user_low, user_high, amount, updated_at
		FROM balances WHERE user_low = ? OR user_high = ?
		ORDER BY group_id, user_low, user_high
	`, int64(userID), int64(userID))
}

func (s *Store) ListGroups(ctx context.Context) ([]ledger.GroupID, error) {
	return sqlq.ListGroups(ctx, s.db, classify)
}

func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	where, args := sqlq.AuditWhere(filter, func(t time.Time) any { return t.UTC() })
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

func (s *Store) GetExpense(ctx context.Context, id string) (expense.Expense, error) {
	return getExpense(ctx, s.db, id, "")
}

func (s *Store) GetSettlement(ctx context.Context, id string) (settlement.Settlement, error) {
	return getSettlement(ctx, s.db, id, "")
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

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken by
// LockPair and the *ForUpdate reads are held until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.TxStore) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, locked: make(map[ledger.PairKey]bool)}); err != nil {
		return err
	}
	return classify("commit", sqlTx.Commit())
}

type txStore struct {
	tx     *sql.Tx
	locked map[ledger.PairKey]bool
}

// LockPair upserts the zero row before SELECT ... FOR UPDATE so that a pair
// with no row still has a row lock to wait on. A tx that commits after only
// locking a new pair leaves that zero row behind with no audit entry.
func (ts *txStore) LockPair(ctx context.Context, tok *ledger.WriteToken, key ledger.PairKey) (ledger.BalanceRow, error) {
	if err := ledger.CheckToken(tok, key); err != nil {
		return ledger.BalanceRow{}, err
	}
	started := time.Now()
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO balances (group_id, user_low, user_high, amount, updated_at)
		VALUES (?, ?, ?, 0.00, ?)
		ON DUPLICATE KEY UPDATE group_id = group_id
	`, int64(key.GroupID), int64(key.Low), int64(key.High), time.Now().UTC())
	if err != nil {
		return ledger.BalanceRow{}, lockError(key, started, err)
	}
	row, err := scanBalance(ts.tx.QueryRowContext(ctx, `
		SELECT group_id, user_low, user_high, amount, updated_at
		FROM balances
		WHERE group_id = ? AND user_low = ? AND user_high = ?
		FOR UPDATE
	`, int64(key.GroupID), int64(key.Low), int64(key.High)))
	if err != nil {
		return ledger.BalanceRow{}, lockError(key, started, err)
	}
	ts.locked[key] = true
	return row, nil
}

func lockError(key ledger.PairKey, started time.Time, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ledger.LockWaitError(key, started, err)
	}
	if isLockTimeout(err) {
		return &ledger.LockTimeoutError{Key: key, Waited: time.Since(started)}
	}
	return classify("lock pair", err)
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
		UPDATE balances SET amount = ?, updated_at = ?
		WHERE group_id = ? AND user_low = ? AND user_high = ?
	`, row.Amount.StringFixed(ledger.Scale), row.UpdatedAt.UTC(), int64(key.GroupID), int64(key.Low), int64(key.High))
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
		e.Magnitude.StringFixed(ledger.Scale), string(e.Reason), string(e.RelatedType), e.RelatedID,
		e.BalanceBefore.StringFixed(ledger.Scale), e.BalanceAfter.StringFixed(ledger.Scale),
		sqlq.NullString(e.Note), e.CreatedAt.UTC(),
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
	`, e.ID, int64(e.GroupID), e.Title, e.TotalAmount.StringFixed(ledger.Scale), int64(e.PayerID),
		int64(e.CreatedBy), e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if isDuplicate(err) {
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
		`, e.ID, i, int64(sp.UserID), sp.ShareAmount.StringFixed(ledger.Scale))
		if err != nil {
			return classify("insert expense split", err)
		}
	}
	return nil
}

func (ts *txStore) GetExpenseForUpdate(ctx context.Context, id string) (expense.Expense, error) {
	e, err := getExpense(ctx, ts.tx, id, " FOR UPDATE")
	if err != nil && isLockTimeout(err) {
		return expense.Expense{}, fmt.Errorf("%w: expense %s", ledger.ErrLockTimeout, id)
	}
	return e, err
}

func (ts *txStore) UpdateExpense(ctx context.Context, e expense.Expense) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE expenses SET title = ?, total_amount = ?, payer_id = ?, updated_at = ?
		WHERE id = ?
	`, e.Title, e.TotalAmount.StringFixed(ledger.Scale), int64(e.PayerID), e.UpdatedAt.UTC(), e.ID)
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
		"UPDATE expenses SET deleted_at = ?, updated_at = ? WHERE id = ?", at.UTC(), at.UTC(), id)
	return expectOne(res, err, "delete expense", "expense", id)
}

// =============================================================================
// SETTLEMENT RECORDS (settlement.Records)
// =============================================================================

func (ts *txStore) InsertSettlement(ctx context.Context, st settlement.Settlement) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO settlements (id, group_id, from_id, to_id, amount, payment_mode, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, int64(st.GroupID), int64(st.FromID), int64(st.ToID), st.Amount.StringFixed(ledger.Scale),
		st.PaymentMode, sqlq.NullString(st.Note), int64(st.CreatedBy), st.CreatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("%w: settlement %s already exists", ledger.ErrInvalidEvent, st.ID)
	}
	return classify("insert settlement", err)
}

func (ts *txStore) GetSettlementForUpdate(ctx context.Context, id string) (settlement.Settlement, error) {
	st, err := getSettlement(ctx, ts.tx, id, " FOR UPDATE")
	if err != nil && isLockTimeout(err) {
		return settlement.Settlement{}, fmt.Errorf("%w: settlement %s", ledger.ErrLockTimeout, id)
	}
	return st, err
}

func (ts *txStore) SoftDeleteSettlement(ctx context.Context, id string, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx, "UPDATE settlements SET deleted_at = ? WHERE id = ?", at.UTC(), id)
	return expectOne(res, err, "delete settlement", "settlement", id)
}

// =============================================================================
// SCANNING
// =============================================================================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(sc scanner) (ledger.BalanceRow, error) {
	var (
		row    ledger.BalanceRow
		amount string
	)
	if err := sc.Scan(&row.GroupID, &row.UserLow, &row.UserHigh, &amount, &row.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, err
		}
		return row, classify("scan balance", err)
	}
	var err error
	row.Amount, err = sqlq.Decimal("balances.amount", amount)
	return row, err
}

func scanAudit(sc scanner) (ledger.AuditEntry, error) {
	var (
		e                        ledger.AuditEntry
		magnitude, before, after string
		note                     sql.NullString
	)
	err := sc.Scan(&e.Seq, &e.ID, &e.GroupID, &e.DebtorID, &e.CreditorID, &magnitude, &e.Reason,
		&e.RelatedType, &e.RelatedID, &before, &after, &note, &e.CreatedAt)
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
	return e, nil
}

func getExpense(ctx context.Context, q querier, id, suffix string) (expense.Expense, error) {
	var (
		e         expense.Expense
		total     string
		deletedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, group_id, title, total_amount, payer_id, created_by, created_at, updated_at, deleted_at
		FROM expenses WHERE id = ?`+suffix, id,
	).Scan(&e.ID, &e.GroupID, &e.Title, &total, &e.PayerID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return expense.Expense{}, fmt.Errorf("expense %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return expense.Expense{}, classify("get expense", err)
	}
	if e.TotalAmount, err = sqlq.Decimal("expenses.total_amount", total); err != nil {
		return expense.Expense{}, err
	}
	if deletedAt.Valid {
		at := deletedAt.Time
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

func getSettlement(ctx context.Context, q querier, id, suffix string) (settlement.Settlement, error) {
	var (
		st        settlement.Settlement
		amount    string
		note      sql.NullString
		deletedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, group_id, from_id, to_id, amount, payment_mode, note, created_by, created_at, deleted_at
		FROM settlements WHERE id = ?`+suffix, id,
	).Scan(&st.ID, &st.GroupID, &st.FromID, &st.ToID, &amount, &st.PaymentMode, &note, &st.CreatedBy, &st.CreatedAt, &deletedAt)
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
	if deletedAt.Valid {
		at := deletedAt.Time
		st.DeletedAt = &at
	}
	return st, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

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

func serverError(err error) (*mysql.MySQLError, bool) {
	var me *mysql.MySQLError
	ok := errors.As(err, &me)
	return me, ok
}

func isDuplicate(err error) bool {
	me, ok := serverError(err)
	return ok && me.Number == errDupEntry
}

func isLockTimeout(err error) bool {
	if errors.Is(err, ledger.ErrLockTimeout) {
		return true
	}
	me, ok := serverError(err)
	return ok && (me.Number == errLockWaitTimeout || me.Number == errLockDeadlock)
}

// classify maps driver errors onto the ledger taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if me, ok := serverError(err); ok {
		switch me.Number {
		case errLockWaitTimeout, errLockDeadlock:
			return fmt.Errorf("%w: %s: %v", ledger.ErrLockTimeout, op, err)
		case errSignalException, errCheckViolated, errNoReferencedRow:
			return &ledger.ConsistencyError{Detail: fmt.Sprintf("%s: %v", op, err)}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ledger.ErrLockTimeout, op, err)
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

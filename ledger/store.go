/*
store.go - Persistence interfaces for balance rows and the audit log

PURPOSE:
  Defines the boundary between the engine and the database. A Store keeps
  exactly one BalanceRow per PairKey and an append-only list of AuditEntry.

KEY INTERFACES:
  Reader:  read-only projections, snapshot consistent, no locks
  Store:   Reader + WithTx for atomic units of work
  TxStore: the mutation surface, only reachable inside WithTx and only
           usable with a WriteToken minted by the Engine

APPEND-ONLY CONTRACT:
  - AppendAudit is the only audit write. No update, no delete.
  - PutBalance overwrites the amount of a row locked by LockPair.
  - Balance rows are never deleted.

ATOMICITY:
  WithTx commits every PutBalance/AppendAudit made by fn, or none of them.
  Locks taken by LockPair are held until commit or rollback.

EXTENDED CAPABILITIES:
  Record stores (expense.Records, settlement.Records) are implemented by the
  same TxStore value and discovered by type assertion through Tx.Backend().

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, per-pair locks
  - store/sqlite:           SQLite, single writer slot
  - store/mysql:            MySQL/InnoDB, row-level SELECT ... FOR UPDATE
*/
package ledger

import "context"

// Reader exposes read-only access to balances and audit entries.
type Reader interface {
	// GetBalance returns the row for key. ok is false when the pair has never
	// been adjusted.
	GetBalance(ctx context.Context, key PairKey) (row BalanceRow, ok bool, err error)

	// ListGroupBalances returns every row of a group ordered by (low, high).
	ListGroupBalances(ctx context.Context, groupID GroupID) ([]BalanceRow, error)

	// ListUserBalances returns every row, across all groups, where user is
	// low or high.
	ListUserBalances(ctx context.Context, userID UserID) ([]BalanceRow, error)

	// QueryAudit returns matching entries in commit (Seq) order.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)

	// ListGroups returns, ascending, every group that has a balance row.
	ListGroups(ctx context.Context) ([]GroupID, error)
}

// Store is a Reader that can run atomic units of work.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(TxStore) error) error
}

// TxStore is the mutation surface of a running transaction.
type TxStore interface {
	// LockPair acquires the exclusive lock on key's row and returns it. A
	// missing row is returned with a zero amount. It is materialized by
	// PutBalance, or by LockPair itself on backends that need a row to lock
	// (store/mysql); such a row survives commit even if never written.
	// Waiting stops when ctx is done; a deadline surfaces as ErrLockTimeout.
	LockPair(ctx context.Context, tok *WriteToken, key PairKey) (BalanceRow, error)

	// PutBalance writes the amount of a row previously locked in this tx.
	PutBalance(ctx context.Context, tok *WriteToken, row BalanceRow) error

	// AppendAudit appends one immutable entry. Seq is assigned at commit.
	AppendAudit(ctx context.Context, tok *WriteToken, entry AuditEntry) error
}

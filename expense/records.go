package expense

import (
	"context"
	"time"
)

// Records is the expense record capability of a ledger store transaction.
// The adapter reaches it through ledger.Tx.Backend(); a backend that does
// not implement it cannot store expenses (ledger.ErrStoreRequired).
type Records interface {
	// InsertExpense stores a new expense and its splits.
	InsertExpense(ctx context.Context, e Expense) error

	// GetExpenseForUpdate returns the expense and holds its record lock until
	// the transaction ends. Missing ids return ledger.ErrNotFound.
	GetExpenseForUpdate(ctx context.Context, id string) (Expense, error)

	// UpdateExpense replaces the expense fields and its splits.
	UpdateExpense(ctx context.Context, e Expense) error

	// SoftDeleteExpense marks the expense deleted at the given time.
	SoftDeleteExpense(ctx context.Context, id string, at time.Time) error
}

// Reader is the read-only side, implemented by the store itself.
type Reader interface {
	GetExpense(ctx context.Context, id string) (Expense, error)
}

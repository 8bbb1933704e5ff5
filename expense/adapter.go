package expense

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/warp/pair-ledger/ledger"
)

// Adapter applies expense events to the ledger.
type Adapter struct {
	engine *ledger.Engine
	logger *slog.Logger
}

func NewAdapter(engine *ledger.Engine, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{engine: engine, logger: logger.With("component", "expense")}
}

// =============================================================================
// COMMANDS - Each runs as one ledger transaction
// =============================================================================

// CreateExpense stores the expense and applies its splits. Nothing is written
// if any adjustment fails.
func (a *Adapter) CreateExpense(ctx context.Context, ev CreateExpenseEvent) (Expense, error) {
	id := ev.ExpenseID
	if id == "" {
		id = uuid.NewString()
	}
	var created Expense
	err := a.engine.Atomically(ctx, func(tx *ledger.Tx) error {
		recs, err := records(tx)
		if err != nil {
			return err
		}
		now := tx.Now()
		e := Expense{
			ID:          id,
			GroupID:     ev.GroupID,
			Title:       ev.Title,
			TotalAmount: ev.TotalAmount,
			PayerID:     ev.PayerID,
			Splits:      ev.Splits,
			CreatedBy:   ev.CreatedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := recs.InsertExpense(ctx, e); err != nil {
			return err
		}
		if err := a.ApplyExpense(ctx, tx, e); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return Expense{}, fmt.Errorf("create expense %s: %w", id, err)
	}
	a.logger.Info("expense created", "expense_id", id, "group_id", ev.GroupID, "total", ledger.FormatMoney(ev.TotalAmount))
	return created, nil
}

// UpdateExpense reverses the current splits, rewrites the record and applies
// the new splits.
func (a *Adapter) UpdateExpense(ctx context.Context, id string, ev UpdateExpenseEvent) (Expense, error) {
	var updated Expense
	err := a.engine.Atomically(ctx, func(tx *ledger.Tx) error {
		recs, current, err := a.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}

		next := current
		next.Title = ev.Title
		next.TotalAmount = ev.TotalAmount
		next.PayerID = ev.PayerID
		next.Splits = ev.Splits
		next.UpdatedAt = tx.Now()

		if err := tx.LockPairs(ctx, append(current.Pairs(), next.Pairs()...)...); err != nil {
			return err
		}
		if err := a.ReverseExpense(ctx, tx, current); err != nil {
			return err
		}
		if err := recs.UpdateExpense(ctx, next); err != nil {
			return err
		}
		if err := a.ApplyExpense(ctx, tx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return Expense{}, fmt.Errorf("update expense %s: %w", id, err)
	}
	a.logger.Info("expense updated", "expense_id", id, "group_id", updated.GroupID)
	return updated, nil
}

// DeleteExpense reverses the splits and soft deletes the record.
func (a *Adapter) DeleteExpense(ctx context.Context, id string) error {
	err := a.engine.Atomically(ctx, func(tx *ledger.Tx) error {
		recs, current, err := a.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := a.ReverseExpense(ctx, tx, current); err != nil {
			return err
		}
		return recs.SoftDeleteExpense(ctx, id, tx.Now())
	})
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	a.logger.Info("expense deleted", "expense_id", id)
	return nil
}

// =============================================================================
// BALANCE STEPS - Usable inside a caller's transaction
// =============================================================================

// ApplyExpense adds every non-payer share to what that participant owes the
// payer. The payer's own split is skipped.
func (a *Adapter) ApplyExpense(ctx context.Context, tx *ledger.Tx, e Expense) error {
	return a.adjust(ctx, tx, e, ledger.ReasonExpense)
}

// ReverseExpense undoes ApplyExpense with negated shares.
func (a *Adapter) ReverseExpense(ctx context.Context, tx *ledger.Tx, e Expense) error {
	return a.adjust(ctx, tx, e, ledger.ReasonExpenseReversal)
}

func (a *Adapter) adjust(ctx context.Context, tx *ledger.Tx, e Expense, reason ledger.Reason) error {
	if err := tx.LockPairs(ctx, e.Pairs()...); err != nil {
		return err
	}
	for _, adj := range e.Adjustments(reason) {
		if _, err := tx.AdjustPairBalance(ctx, adj); err != nil {
			return fmt.Errorf("split of user %d: %w", adj.DebtorID, err)
		}
	}
	return nil
}

// lockLive locks the expense record and rejects deleted expenses.
func (a *Adapter) lockLive(ctx context.Context, tx *ledger.Tx, id string) (Records, Expense, error) {
	recs, err := records(tx)
	if err != nil {
		return nil, Expense{}, err
	}
	lctx, cancel := tx.LockContext(ctx)
	defer cancel()
	current, err := recs.GetExpenseForUpdate(lctx, id)
	if err != nil {
		return nil, Expense{}, err
	}
	if current.Deleted() {
		return nil, Expense{}, ledger.ErrAlreadyReversed
	}
	return recs, current, nil
}

func records(tx *ledger.Tx) (Records, error) {
	recs, ok := tx.Backend().(Records)
	if !ok {
		return nil, fmt.Errorf("expense records: %w", ledger.ErrStoreRequired)
	}
	return recs, nil
}

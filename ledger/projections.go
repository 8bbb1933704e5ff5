package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// READ PROJECTIONS - No locks, snapshot reads
// =============================================================================

// GetNetBalanceBetweenUsers returns the balance from userA's perspective:
// positive means userA owes userB, negative means userB owes userA. A pair
// that was never adjusted reads zero.
func (e *Engine) GetNetBalanceBetweenUsers(ctx context.Context, groupID GroupID, userA, userB UserID) (decimal.Decimal, error) {
	if userA == userB {
		return decimal.Zero, nil
	}
	row, ok, err := e.store.GetBalance(ctx, NewPairKey(groupID, userA, userB))
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	return row.OwedBy(userA), nil
}

// GetUserBalanceSummary aggregates what the user owes and is owed across
// every group.
func (e *Engine) GetUserBalanceSummary(ctx context.Context, userID UserID) (UserBalanceSummary, error) {
	rows, err := e.store.ListUserBalances(ctx, userID)
	if err != nil {
		return UserBalanceSummary{}, err
	}
	return Summarize(userID, rows), nil
}

// Summarize folds rows into a summary for userID. Rows not involving the user
// are ignored.
func Summarize(userID UserID, rows []BalanceRow) UserBalanceSummary {
	s := UserBalanceSummary{
		UserID:      userID,
		TotalOwed:   decimal.Zero,
		TotalOwedTo: decimal.Zero,
	}
	for _, row := range rows {
		if !row.Involves(userID) {
			continue
		}
		owed := row.OwedBy(userID)
		if owed.IsPositive() {
			s.TotalOwed = s.TotalOwed.Add(owed)
		} else {
			s.TotalOwedTo = s.TotalOwedTo.Add(owed.Neg())
		}
	}
	s.Net = s.TotalOwedTo.Sub(s.TotalOwed)
	return s
}

// GetGroupBalances returns every pair row of the group, settled rows included.
func (e *Engine) GetGroupBalances(ctx context.Context, groupID GroupID) ([]BalanceRow, error) {
	return e.store.ListGroupBalances(ctx, groupID)
}

// GetUserBalancesForGroup returns the group's rows that involve userID.
func (e *Engine) GetUserBalancesForGroup(ctx context.Context, groupID GroupID, userID UserID) ([]BalanceRow, error) {
	rows, err := e.store.ListGroupBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var out []BalanceRow
	for _, row := range rows {
		if row.Involves(userID) {
			out = append(out, row)
		}
	}
	return out, nil
}

// AuditTrail returns audit entries in commit order.
func (e *Engine) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return e.store.QueryAudit(ctx, filter)
}

// =============================================================================
// CLOSING GUARDS
// =============================================================================

// EnsureGroupSettled returns an OutstandingBalanceError unless every row of
// the group reads zero. Group deletion is only permitted after this passes.
func (e *Engine) EnsureGroupSettled(ctx context.Context, groupID GroupID) error {
	rows, err := e.store.ListGroupBalances(ctx, groupID)
	if err != nil {
		return err
	}
	return outstanding(groupID, rows)
}

// EnsureMemberSettled is the member-removal variant of EnsureGroupSettled.
func (e *Engine) EnsureMemberSettled(ctx context.Context, groupID GroupID, userID UserID) error {
	rows, err := e.GetUserBalancesForGroup(ctx, groupID, userID)
	if err != nil {
		return err
	}
	return outstanding(groupID, rows)
}

func outstanding(groupID GroupID, rows []BalanceRow) error {
	var open []BalanceRow
	for _, row := range rows {
		if !row.Amount.IsZero() {
			open = append(open, row)
		}
	}
	if len(open) > 0 {
		return &OutstandingBalanceError{GroupID: groupID, Rows: open}
	}
	return nil
}

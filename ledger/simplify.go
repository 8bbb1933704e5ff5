package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Transfer is a suggested payment that would clear part of the group's debt.
type Transfer struct {
	From   UserID
	To     UserID
	Amount decimal.Decimal
}

// SuggestSettlements proposes payments that settle the whole group.
// Read-only: nothing is recorded until a settlement is created.
func (e *Engine) SuggestSettlements(ctx context.Context, groupID GroupID) ([]Transfer, error) {
	rows, err := e.store.ListGroupBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return SimplifyDebts(rows), nil
}

// SimplifyDebts nets each user's position over rows and greedily matches the
// largest debtor with the largest creditor. Amounts are exact; no epsilon.
// Ties are broken by user id so the output is deterministic.
func SimplifyDebts(rows []BalanceRow) []Transfer {
	net := make(map[UserID]decimal.Decimal)
	for _, row := range rows {
		// positive amount: low owes high
		net[row.UserLow] = net[row.UserLow].Sub(row.Amount)
		net[row.UserHigh] = net[row.UserHigh].Add(row.Amount)
	}

	type position struct {
		user UserID
		left decimal.Decimal
	}
	var debtors, creditors []position
	for user, amount := range net {
		switch {
		case amount.IsNegative():
			debtors = append(debtors, position{user, amount.Neg()})
		case amount.IsPositive():
			creditors = append(creditors, position{user, amount})
		}
	}
	byLargest := func(p []position) func(i, j int) bool {
		return func(i, j int) bool {
			if c := p[i].left.Cmp(p[j].left); c != 0 {
				return c > 0
			}
			return p[i].user < p[j].user
		}
	}
	sort.Slice(debtors, byLargest(debtors))
	sort.Slice(creditors, byLargest(creditors))

	var out []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].left, creditors[j].left)
		out = append(out, Transfer{From: debtors[i].user, To: creditors[j].user, Amount: amount})
		debtors[i].left = debtors[i].left.Sub(amount)
		creditors[j].left = creditors[j].left.Sub(amount)
		if debtors[i].left.IsZero() {
			i++
		}
		if creditors[j].left.IsZero() {
			j++
		}
	}
	return out
}

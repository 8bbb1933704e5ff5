/*
Package ledger provides the pairwise balance ledger engine.

PURPOSE:
  Converts expense and settlement events into one normalized balance row per
  (group, unordered user pair), and records every mutation in an append-only
  audit log that can always reproduce the rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - UserID / GroupID: numeric identities (pair order is numeric, not temporal)
  - PairKey:     normalized (group, low, high) key of a balance row
  - BalanceRow:  signed amount, positive = low owes high
  - AuditEntry:  immutable record of one elementary adjustment
  - Adjustment:  "debtor's debt to creditor changes by delta"

SIGN CONVENTION:
  Row amount > 0  -> UserLow owes UserHigh
  Row amount < 0  -> UserHigh owes UserLow
  Row amount == 0 -> settled (row is kept, never deleted)

SEE ALSO:
  - engine.go: AdjustPairBalance and the read projections
  - store.go:  persistence interfaces
  - errors.go: error taxonomy
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type GroupID int64

// PairKey identifies one balance row. Low < High always holds for keys built
// with NewPairKey.
type PairKey struct {
	GroupID GroupID
	Low     UserID
	High    UserID
}

// NewPairKey normalizes an unordered user pair by numeric identity.
func NewPairKey(groupID GroupID, a, b UserID) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{GroupID: groupID, Low: a, High: b}
}

// Less orders keys canonically. Multi-pair transactions lock in this order.
func (k PairKey) Less(o PairKey) bool {
	if k.GroupID != o.GroupID {
		return k.GroupID < o.GroupID
	}
	if k.Low != o.Low {
		return k.Low < o.Low
	}
	return k.High < o.High
}

func (k PairKey) String() string {
	return fmt.Sprintf("group=%d pair=(%d,%d)", k.GroupID, k.Low, k.High)
}

// =============================================================================
// REASONS
// =============================================================================

// Reason says why a balance moved.
type Reason string

const (
	ReasonExpense            Reason = "expense"
	ReasonExpenseReversal    Reason = "expense_reversal"
	ReasonSettlement         Reason = "settlement"
	ReasonSettlementReversal Reason = "settlement_reversal"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonExpense, ReasonExpenseReversal, ReasonSettlement, ReasonSettlementReversal:
		return true
	}
	return false
}

// RelatedType names the kind of record an audit entry points back to.
type RelatedType string

const (
	RelatedExpense    RelatedType = "expense"
	RelatedSettlement RelatedType = "settlement"
)

// =============================================================================
// BALANCE ROW
// =============================================================================

// BalanceRow is the single normalized row for a pair within a group.
type BalanceRow struct {
	GroupID   GroupID
	UserLow   UserID
	UserHigh  UserID
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

func (r BalanceRow) Key() PairKey {
	return PairKey{GroupID: r.GroupID, Low: r.UserLow, High: r.UserHigh}
}

// Involves reports whether user is one side of the pair.
func (r BalanceRow) Involves(user UserID) bool {
	return r.UserLow == user || r.UserHigh == user
}

// OwedBy returns the amount from user's perspective: positive means user owes
// the counterparty, negative means the counterparty owes user.
func (r BalanceRow) OwedBy(user UserID) decimal.Decimal {
	if user == r.UserLow {
		return r.Amount
	}
	return r.Amount.Neg()
}

// Counterparty returns the other side of the pair.
func (r BalanceRow) Counterparty(user UserID) UserID {
	if user == r.UserLow {
		return r.UserHigh
	}
	return r.UserLow
}

// =============================================================================
// AUDIT ENTRY
// =============================================================================

// AuditEntry is written once per elementary adjustment and never changed.
// Replaying BalanceAfter-BalanceBefore for a pair in Seq order reproduces the
// row amount exactly.
type AuditEntry struct {
	ID            string
	Seq           int64 // commit order, assigned by the store
	GroupID       GroupID
	DebtorID      UserID
	CreditorID    UserID
	Magnitude     decimal.Decimal // abs(delta), never negative
	Reason        Reason
	RelatedType   RelatedType
	RelatedID     string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Note          string
	CreatedAt     time.Time
}

func (e AuditEntry) Key() PairKey {
	return NewPairKey(e.GroupID, e.DebtorID, e.CreditorID)
}

// Delta is the signed change applied to the normalized row.
func (e AuditEntry) Delta() decimal.Decimal {
	return e.BalanceAfter.Sub(e.BalanceBefore)
}

// AuditFilter selects audit entries. Zero fields match everything.
type AuditFilter struct {
	GroupID     *GroupID
	Pair        *PairKey
	RelatedType RelatedType
	RelatedID   string
	From        *time.Time
	To          *time.Time
}

// Matches applies the filter in memory. SQL stores translate it to WHERE
// clauses instead.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.GroupID != nil && e.GroupID != *f.GroupID {
		return false
	}
	if f.Pair != nil && e.Key() != *f.Pair {
		return false
	}
	if f.RelatedType != "" && e.RelatedType != f.RelatedType {
		return false
	}
	if f.RelatedID != "" && e.RelatedID != f.RelatedID {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

// Adjustment is one elementary "debtor owes creditor delta more" event.
// A negative delta reduces the debt (settlements, reversals).
type Adjustment struct {
	GroupID     GroupID
	DebtorID    UserID
	CreditorID  UserID
	Delta       decimal.Decimal
	Reason      Reason
	RelatedType RelatedType
	RelatedID   string
}

// Normalize returns the row key and the delta expressed in the row's
// "low owes high" convention.
func (a Adjustment) Normalize() (PairKey, decimal.Decimal) {
	key := NewPairKey(a.GroupID, a.DebtorID, a.CreditorID)
	if key.Low == a.DebtorID {
		return key, a.Delta
	}
	return key, a.Delta.Neg()
}

// AdjustResult reports the row amount before and after an adjustment.
// Applied is false for no-ops. A zero delta reports the current amount as
// both Old and New; a self pair has no row and reports zeros.
type AdjustResult struct {
	Old     decimal.Decimal
	New     decimal.Decimal
	Applied bool
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// UserBalanceSummary aggregates a user's exposure across all groups.
type UserBalanceSummary struct {
	UserID      UserID
	TotalOwed   decimal.Decimal // what the user owes others
	TotalOwedTo decimal.Decimal // what others owe the user
	Net         decimal.Decimal // TotalOwedTo - TotalOwed
}

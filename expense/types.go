/*
Package expense turns expense events into pair balance adjustments.

PURPOSE:
  An expense has one payer and N splits. Every participant other than the
  payer ends up owing the payer their share. The adapter decomposes the
  event into one ledger.Adjustment per non-payer split and applies them,
  together with the expense record itself, in a single ledger transaction.

LIFECYCLE:
  create  -> apply splits (reason expense)
  update  -> reverse old splits, rewrite record, apply new splits
  delete  -> reverse splits (reason expense_reversal), soft delete record
  Edits always reverse then reapply; they never diff-patch balances.

VALIDATION:
  The adapter trusts its input: membership and "splits sum to total" are
  checked upstream. CreateExpenseEvent.Validate is the helper upstream
  callers use for that.

SEE ALSO:
  - adapter.go: Adapter
  - split.go:   EqualSplit
  - ledger/engine.go
*/
package expense

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pair-ledger/ledger"
)

// Validation limits for upstream callers.
const (
	MaxSplits   = 100
	MaxTitleLen = 255
)

var (
	MinAmount = ledger.MinAmount
	MaxAmount = ledger.MaxAmount
)

// =============================================================================
// RECORDS
// =============================================================================

// Split is one participant's share of an expense.
type Split struct {
	UserID      ledger.UserID
	ShareAmount decimal.Decimal
}

// Expense is the stored expense record. Deleted expenses keep their row with
// DeletedAt set.
type Expense struct {
	ID          string
	GroupID     ledger.GroupID
	Title       string
	TotalAmount decimal.Decimal
	PayerID     ledger.UserID
	Splits      []Split
	CreatedBy   ledger.UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Deleted reports whether the expense was soft deleted.
func (e Expense) Deleted() bool {
	return e.DeletedAt != nil
}

// Adjustments decomposes the expense into one adjustment per non-payer split.
// ReasonExpenseReversal negates every share.
func (e Expense) Adjustments(reason ledger.Reason) []ledger.Adjustment {
	var out []ledger.Adjustment
	for _, s := range e.Splits {
		if s.UserID == e.PayerID {
			continue
		}
		delta := s.ShareAmount
		if reason == ledger.ReasonExpenseReversal {
			delta = delta.Neg()
		}
		out = append(out, ledger.Adjustment{
			GroupID:     e.GroupID,
			DebtorID:    s.UserID,
			CreditorID:  e.PayerID,
			Delta:       delta,
			Reason:      reason,
			RelatedType: ledger.RelatedExpense,
			RelatedID:   e.ID,
		})
	}
	return out
}

// Pairs returns the balance rows the expense touches.
func (e Expense) Pairs() []ledger.PairKey {
	var keys []ledger.PairKey
	for _, s := range e.Splits {
		if s.UserID != e.PayerID {
			keys = append(keys, ledger.NewPairKey(e.GroupID, s.UserID, e.PayerID))
		}
	}
	return keys
}

// =============================================================================
// EVENTS
// =============================================================================

// CreateExpenseEvent is the validated input of CreateExpense. ExpenseID is
// optional; a uuid is generated when empty.
type CreateExpenseEvent struct {
	ExpenseID   string
	GroupID     ledger.GroupID
	Title       string
	TotalAmount decimal.Decimal
	PayerID     ledger.UserID
	Splits      []Split
	CreatedBy   ledger.UserID
}

// UpdateExpenseEvent replaces the mutable fields of an expense. The group
// never changes.
type UpdateExpenseEvent struct {
	Title       string
	TotalAmount decimal.Decimal
	PayerID     ledger.UserID
	Splits      []Split
}

// ValidationError names the offending field. It matches ledger.ErrInvalidEvent
// or ledger.ErrInvalidAmount.
type ValidationError = ledger.ValidationError

// Validate applies the upstream rules: a non-empty title, amounts in
// [0.01, 999999.99] with at most two decimals, 1 to 100 splits over distinct
// users, and a split total exactly equal to the expense total.
func (ev CreateExpenseEvent) Validate() error {
	if ev.GroupID <= 0 {
		return &ValidationError{Field: "group_id", Message: "is required", Kind: ledger.ErrInvalidEvent}
	}
	if ev.PayerID <= 0 {
		return &ValidationError{Field: "paid_by", Message: "is required", Kind: ledger.ErrInvalidEvent}
	}
	return validateBody(ev.Title, ev.TotalAmount, ev.Splits)
}

// Validate applies the same rules as CreateExpenseEvent.Validate.
func (ev UpdateExpenseEvent) Validate() error {
	if ev.PayerID <= 0 {
		return &ValidationError{Field: "paid_by", Message: "is required", Kind: ledger.ErrInvalidEvent}
	}
	return validateBody(ev.Title, ev.TotalAmount, ev.Splits)
}

func validateBody(title string, total decimal.Decimal, splits []Split) error {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > MaxTitleLen {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("must be 1 to %d characters", MaxTitleLen), Kind: ledger.ErrInvalidEvent}
	}
	if err := checkAmount("total_amount", total); err != nil {
		return err
	}
	if len(splits) == 0 || len(splits) > MaxSplits {
		return &ValidationError{Field: "splits", Message: fmt.Sprintf("must have 1 to %d entries", MaxSplits), Kind: ledger.ErrInvalidEvent}
	}

	seen := make(map[ledger.UserID]bool, len(splits))
	sum := decimal.Zero
	for i, s := range splits {
		field := fmt.Sprintf("splits.%d", i)
		if s.UserID <= 0 {
			return &ValidationError{Field: field + ".user_id", Message: "is required", Kind: ledger.ErrInvalidEvent}
		}
		if seen[s.UserID] {
			return &ValidationError{Field: field + ".user_id", Message: fmt.Sprintf("user %d appears more than once", s.UserID), Kind: ledger.ErrInvalidEvent}
		}
		seen[s.UserID] = true
		if err := checkAmount(field+".share_amount", s.ShareAmount); err != nil {
			return err
		}
		sum = sum.Add(s.ShareAmount)
	}

	if !sum.Equal(total) {
		diff := sum.Sub(total).Abs()
		return &ValidationError{
			Field: "splits",
			Message: fmt.Sprintf("Split total ($%s) must EXACTLY equal expense amount ($%s). Difference: $%s",
				ledger.FormatMoney(sum), ledger.FormatMoney(total), ledger.FormatMoney(diff)),
			Kind: ledger.ErrInvalidAmount,
		}
	}
	return nil
}

func checkAmount(field string, d decimal.Decimal) error {
	return ledger.CheckAmount(field, d)
}

/*
Package settlement records payments that reduce a debt.

PURPOSE:
  A settlement "from pays to amount" becomes one ledger adjustment with a
  negative delta. It is only allowed while from owes to at least amount.

VALIDATION ORDER (CreateSettlement):
  1. CreateSettlementEvent.Validate     -> *ledger.ValidationError
       from == to                         (matches ledger.ErrSelfAdjustment)
       amount outside [0.01, 999999.99]   (matches ledger.ErrInvalidAmount)
       or sub-cent precision
       unknown payment mode, long note    (matches ledger.ErrInvalidEvent)
  2. lock the pair, read what from owes to
  3. owed <= 0                          -> ledger.ErrNothingOwed
  4. amount > owed                      -> *ledger.OverSettlementError
  5. insert record, adjust by -amount (reason settlement)
  Steps 2-5 run in one transaction, so no concurrent write can change the
  balance between the check and the adjustment. The boundary is strict:
  owing 50.00 permits exactly 50.00, never 50.01.

REVERSAL:
  DeleteSettlement adjusts by +amount (reason settlement_reversal) and soft
  deletes the record.
*/
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/pair-ledger/ledger"
)

// DefaultPaymentMode is used when an event does not name one.
const DefaultPaymentMode = "cash"

// MaxNoteLen is the longest note accepted, in characters.
const MaxNoteLen = 255

// PaymentModes lists the accepted payment modes.
var PaymentModes = []string{"cash", "bank_transfer", "upi", "other"}

func validPaymentMode(mode string) bool {
	for _, m := range PaymentModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Settlement is the stored payment record.
type Settlement struct {
	ID          string
	GroupID     ledger.GroupID
	FromID      ledger.UserID
	ToID        ledger.UserID
	Amount      decimal.Decimal
	PaymentMode string
	Note        string
	CreatedBy   ledger.UserID
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

func (s Settlement) Deleted() bool {
	return s.DeletedAt != nil
}

func (s Settlement) adjustment(reason ledger.Reason) ledger.Adjustment {
	delta := s.Amount.Neg()
	if reason == ledger.ReasonSettlementReversal {
		delta = s.Amount
	}
	return ledger.Adjustment{
		GroupID:     s.GroupID,
		DebtorID:    s.FromID,
		CreditorID:  s.ToID,
		Delta:       delta,
		Reason:      reason,
		RelatedType: ledger.RelatedSettlement,
		RelatedID:   s.ID,
	}
}

// CreateSettlementEvent is the input of CreateSettlement. SettlementID is
// optional; a uuid is generated when empty.
type CreateSettlementEvent struct {
	SettlementID string
	GroupID      ledger.GroupID
	FromID       ledger.UserID
	ToID         ledger.UserID
	Amount       decimal.Decimal
	PaymentMode  string
	Note         string
	CreatedBy    ledger.UserID
}

// Validate checks the event before any balance is read: both users and the
// group are set and distinct, the amount is within [0.01, 999999.99] with at
// most two decimals, the payment mode is one of PaymentModes (empty means
// DefaultPaymentMode) and the note fits MaxNoteLen.
func (ev CreateSettlementEvent) Validate() error {
	switch {
	case ev.GroupID <= 0:
		return &ledger.ValidationError{Field: "group_id", Message: "is required", Kind: ledger.ErrInvalidEvent}
	case ev.FromID <= 0:
		return &ledger.ValidationError{Field: "paid_from", Message: "is required", Kind: ledger.ErrInvalidEvent}
	case ev.ToID <= 0:
		return &ledger.ValidationError{Field: "paid_to", Message: "is required", Kind: ledger.ErrInvalidEvent}
	case ev.FromID == ev.ToID:
		return &ledger.ValidationError{Field: "paid_to", Message: "must be different from paid_from", Kind: ledger.ErrSelfAdjustment}
	}
	if err := ledger.CheckAmount("amount", ev.Amount); err != nil {
		return err
	}
	if ev.PaymentMode != "" && !validPaymentMode(ev.PaymentMode) {
		return &ledger.ValidationError{
			Field:   "payment_mode",
			Message: "must be one of " + strings.Join(PaymentModes, ", "),
			Kind:    ledger.ErrInvalidEvent,
		}
	}
	if utf8.RuneCountInString(ev.Note) > MaxNoteLen {
		return &ledger.ValidationError{Field: "note", Message: fmt.Sprintf("must not exceed %d characters", MaxNoteLen), Kind: ledger.ErrInvalidEvent}
	}
	return nil
}

// Records is the settlement record capability of a ledger store transaction.
type Records interface {
	InsertSettlement(ctx context.Context, s Settlement) error
	// GetSettlementForUpdate holds the record lock until the transaction ends.
	GetSettlementForUpdate(ctx context.Context, id string) (Settlement, error)
	SoftDeleteSettlement(ctx context.Context, id string, at time.Time) error
}

// Reader is the read-only side, implemented by the store itself.
type Reader interface {
	GetSettlement(ctx context.Context, id string) (Settlement, error)
}

// =============================================================================
// ADAPTER
// =============================================================================

type Adapter struct {
	engine *ledger.Engine
	logger *slog.Logger
}

func NewAdapter(engine *ledger.Engine, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{engine: engine, logger: logger.With("component", "settlement")}
}

// CreateSettlement validates the payment against the live balance and records
// it. See the package doc for the check order.
func (a *Adapter) CreateSettlement(ctx context.Context, ev CreateSettlementEvent) (Settlement, error) {
	if err := ev.Validate(); err != nil {
		return Settlement{}, err
	}

	s := Settlement{
		ID:          ev.SettlementID,
		GroupID:     ev.GroupID,
		FromID:      ev.FromID,
		ToID:        ev.ToID,
		Amount:      ev.Amount,
		PaymentMode: ev.PaymentMode,
		Note:        ev.Note,
		CreatedBy:   ev.CreatedBy,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.PaymentMode == "" {
		s.PaymentMode = DefaultPaymentMode
	}

	err := a.engine.Atomically(ctx, func(tx *ledger.Tx) error {
		recs, err := records(tx)
		if err != nil {
			return err
		}
		owed, err := tx.NetBalance(ctx, s.GroupID, s.FromID, s.ToID)
		if err != nil {
			return err
		}
		if !owed.IsPositive() {
			return ledger.ErrNothingOwed
		}
		if s.Amount.GreaterThan(owed) {
			return &ledger.OverSettlementError{Requested: s.Amount, MaxAllowed: owed}
		}

		s.CreatedAt = tx.Now()
		if err := recs.InsertSettlement(ctx, s); err != nil {
			return err
		}
		_, err = tx.AdjustPairBalance(ctx, s.adjustment(ledger.ReasonSettlement))
		return err
	})
	if err != nil {
		if ledger.IsClientError(err) {
			return Settlement{}, err
		}
		return Settlement{}, fmt.Errorf("create settlement %s: %w", s.ID, err)
	}
	a.logger.Info("settlement recorded",
		"settlement_id", s.ID, "group_id", s.GroupID, "from", s.FromID, "to", s.ToID,
		"amount", ledger.FormatMoney(s.Amount))
	return s, nil
}

// ReverseSettlement restores the debt a settlement removed, inside tx.
func (a *Adapter) ReverseSettlement(ctx context.Context, tx *ledger.Tx, s Settlement) error {
	_, err := tx.AdjustPairBalance(ctx, s.adjustment(ledger.ReasonSettlementReversal))
	return err
}

// DeleteSettlement reverses the settlement and soft deletes the record.
func (a *Adapter) DeleteSettlement(ctx context.Context, id string) error {
	err := a.engine.Atomically(ctx, func(tx *ledger.Tx) error {
		recs, err := records(tx)
		if err != nil {
			return err
		}
		lctx, cancel := tx.LockContext(ctx)
		defer cancel()
		s, err := recs.GetSettlementForUpdate(lctx, id)
		if err != nil {
			return err
		}
		if s.Deleted() {
			return ledger.ErrAlreadyReversed
		}
		if err := a.ReverseSettlement(ctx, tx, s); err != nil {
			return err
		}
		return recs.SoftDeleteSettlement(ctx, id, tx.Now())
	})
	if err != nil {
		return fmt.Errorf("delete settlement %s: %w", id, err)
	}
	a.logger.Info("settlement deleted", "settlement_id", id)
	return nil
}

func records(tx *ledger.Tx) (Records, error) {
	recs, ok := tx.Backend().(Records)
	if !ok {
		return nil, fmt.Errorf("settlement records: %w", ledger.ErrStoreRequired)
	}
	return recs, nil
}

/*
errors.go - Error taxonomy for the ledger engine and its adapters

ERROR CATEGORIES:
  1. Validation - caller input is wrong; shown verbatim, never retried
       ErrNothingOwed, ErrOverSettlement, ErrInvalidAmount, ErrSelfAdjustment,
       ErrInvalidEvent
  2. Transient - infrastructure hiccup; retryable, shown as "try again"
       ErrLockTimeout, ErrStorageFailure
  3. Consistency - a bug; fatal, logged, aborts the enclosing transaction
       ErrConsistencyViolation

PROPAGATION:
  Errors leave the transaction boundary unmodified. Adapters may wrap them
  with fmt.Errorf("...: %w", err) but never recover from them.

USAGE:
  if errors.Is(err, ledger.ErrOverSettlement) {
      var over *ledger.OverSettlementError
      errors.As(err, &over) // over.MaxAllowed
  }
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSelfAdjustment is returned when debtor and creditor are the same user
	// at a boundary that must reject it (settlements). The engine itself
	// treats a self adjustment as a no-op.
	ErrSelfAdjustment = errors.New("debtor and creditor are the same user")

	// ErrNothingOwed is returned when a settlement is attempted but the payer
	// does not currently owe the recipient anything.
	ErrNothingOwed = errors.New("user does not owe any money to this participant")

	// ErrOverSettlement is returned when a settlement exceeds the amount owed.
	ErrOverSettlement = errors.New("settlement exceeds amount owed")

	// ErrInvalidAmount is returned for non-positive settlement amounts and for
	// any amount with more than two decimal places.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidEvent is returned by event validation helpers for malformed
	// expense or settlement input (missing title, duplicate split users, ...).
	ErrInvalidEvent = errors.New("invalid event")

	// ErrLockTimeout is returned when a pair lock is not granted within the
	// configured wait. Retryable.
	ErrLockTimeout = errors.New("timed out waiting for balance lock")

	// ErrStorageFailure is returned when the backing store fails. Retryable.
	ErrStorageFailure = errors.New("storage failure")

	// ErrConsistencyViolation signals a bug: a broken invariant detected at
	// runtime. The transaction is aborted, never repaired.
	ErrConsistencyViolation = errors.New("ledger consistency violation")

	// ErrOutstandingBalance is returned when a group or member is closed while
	// a non-zero balance row remains.
	ErrOutstandingBalance = errors.New("outstanding balances remain")

	// ErrNotFound is returned when a referenced expense or settlement is missing.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyReversed is returned when reversing a record that was already
	// deleted (its balances were already reversed).
	ErrAlreadyReversed = errors.New("record already reversed")

	// ErrStoreRequired is returned when an operation needs a store capability
	// the configured backend does not implement.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverSettlementError reports the maximum permitted settlement amount.
type OverSettlementError struct {
	Requested  decimal.Decimal
	MaxAllowed decimal.Decimal
}

func (e *OverSettlementError) Error() string {
	return fmt.Sprintf("settlement amount (%s) exceeds amount owed (%s). Maximum allowed: %s",
		FormatMoney(e.Requested), FormatMoney(e.MaxAllowed), FormatMoney(e.MaxAllowed))
}

func (e *OverSettlementError) Unwrap() error {
	return ErrOverSettlement
}

// LockTimeoutError names the pair whose lock could not be acquired.
type LockTimeoutError struct {
	Key    PairKey
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for balance lock on %s", e.Waited, e.Key)
}

func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// StorageError wraps a backend failure. It matches both ErrStorageFailure and
// the underlying driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// Storage wraps err as a StorageError unless it is nil or already carries a
// ledger classification.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStorageFailure) ||
		errors.Is(err, ErrConsistencyViolation) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ConsistencyError describes the invariant that was broken.
type ConsistencyError struct {
	Key    PairKey
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency violation on %s: %s", e.Key, e.Detail)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistencyViolation
}

// OutstandingBalanceError lists the rows that still carry a balance.
type OutstandingBalanceError struct {
	GroupID GroupID
	Rows    []BalanceRow
}

func (e *OutstandingBalanceError) Error() string {
	return fmt.Sprintf("group %d has %d outstanding balance(s)", e.GroupID, len(e.Rows))
}

func (e *OutstandingBalanceError) Unwrap() error {
	return ErrOutstandingBalance
}

// ValidationError names the offending input field of an expense or
// settlement event. Kind is ErrInvalidEvent, ErrInvalidAmount or
// ErrSelfAdjustment.
type ValidationError struct {
	Field   string
	Message string
	Kind    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStorageFailure)
}

// IsClientError returns true if the error is due to invalid caller input and
// should be shown to the end user verbatim.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNothingOwed) ||
		errors.Is(err, ErrOverSettlement) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrSelfAdjustment) ||
		errors.Is(err, ErrOutstandingBalance) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// failureKind labels an error for metrics.
func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrConsistencyViolation):
		return "consistency"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrStorageFailure):
		return "storage"
	case IsClientError(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	default:
		return "other"
	}
}

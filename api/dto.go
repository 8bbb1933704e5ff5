/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Money always travels
  as a decimal string ("12.50") and is parsed with ledger.ParseMoney, so
  no amount ever passes through float64.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Expenses:     CreateExpenseRequest, UpdateExpenseRequest, ExpenseDTO, SplitDTO
  Settlements:  CreateSettlementRequest, SettlementDTO
  Balances:     BalanceRowDTO, PairBalanceDTO, UserSummaryDTO, TransferDTO
  Audit:        AuditEntryDTO, ActivityDTO, ReconcileDTO
  Errors:       ErrorResponse

VALIDATION:
  Handlers convert requests to adapter events and call the events'
  Validate methods. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/settlement"
)

// Split types accepted by expense requests.
const (
	SplitExact = "exact"
	SplitEqual = "equal"
)

// =============================================================================
// EXPENSES
// =============================================================================

// SplitDTO is one participant's share.
type SplitDTO struct {
	UserID      int64  `json:"user_id"`
	ShareAmount string `json:"share_amount"`
}

// CreateExpenseRequest is the body of POST /api/groups/{groupID}/expenses.
// With split_type "equal", participants replaces splits.
type CreateExpenseRequest struct {
	ID           string     `json:"id,omitempty"`
	Title        string     `json:"title"`
	Amount       string     `json:"amount"`
	PaidBy       int64      `json:"paid_by"`
	SplitType    string     `json:"split_type,omitempty"`
	Splits       []SplitDTO `json:"splits,omitempty"`
	Participants []int64    `json:"participants,omitempty"`
	CreatedBy    int64      `json:"created_by,omitempty"`
}

// UpdateExpenseRequest is the body of PUT /api/expenses/{id}.
type UpdateExpenseRequest struct {
	Title        string     `json:"title"`
	Amount       string     `json:"amount"`
	PaidBy       int64      `json:"paid_by"`
	SplitType    string     `json:"split_type,omitempty"`
	Splits       []SplitDTO `json:"splits,omitempty"`
	Participants []int64    `json:"participants,omitempty"`
}

// ExpenseDTO represents an expense in API responses.
type ExpenseDTO struct {
	ID        string     `json:"id"`
	GroupID   int64      `json:"group_id"`
	Title     string     `json:"title"`
	Amount    string     `json:"amount"`
	PaidBy    int64      `json:"paid_by"`
	Splits    []SplitDTO `json:"splits"`
	CreatedBy int64      `json:"created_by,omitempty"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
	DeletedAt string     `json:"deleted_at,omitempty"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// CreateSettlementRequest is the body of POST /api/groups/{groupID}/settlements.
type CreateSettlementRequest struct {
	ID          string `json:"id,omitempty"`
	FromUserID  int64  `json:"from_user_id"`
	ToUserID    int64  `json:"to_user_id"`
	Amount      string `json:"amount"`
	PaymentMode string `json:"payment_mode,omitempty"`
	Note        string `json:"note,omitempty"`
	CreatedBy   int64  `json:"created_by,omitempty"`
}

// SettlementDTO represents a settlement in API responses.
type SettlementDTO struct {
	ID          string `json:"id"`
	GroupID     int64  `json:"group_id"`
	FromUserID  int64  `json:"from_user_id"`
	ToUserID    int64  `json:"to_user_id"`
	Amount      string `json:"amount"`
	PaymentMode string `json:"payment_mode"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at"`
	DeletedAt   string `json:"deleted_at,omitempty"`
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceRowDTO is a stored row. Positive amount: user_low owes user_high.
type BalanceRowDTO struct {
	GroupID   int64  `json:"group_id"`
	UserLow   int64  `json:"user_low"`
	UserHigh  int64  `json:"user_high"`
	Amount    string `json:"amount"`
	UpdatedAt string `json:"updated_at"`
}

// PairBalanceDTO is a balance from one user's point of view. Positive
// amount: user owes other_user.
type PairBalanceDTO struct {
	GroupID     int64  `json:"group_id"`
	UserID      int64  `json:"user_id"`
	OtherUserID int64  `json:"other_user_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// UserSummaryDTO aggregates a user's balances across groups.
type UserSummaryDTO struct {
	UserID      int64  `json:"user_id"`
	TotalOwed   string `json:"total_owed"`
	TotalOwedTo string `json:"total_owed_to"`
	Net         string `json:"net"`
}

// TransferDTO is one suggested payment.
type TransferDTO struct {
	FromUserID int64  `json:"from_user_id"`
	ToUserID   int64  `json:"to_user_id"`
	Amount     string `json:"amount"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO represents one audit entry.
type AuditEntryDTO struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	GroupID       int64  `json:"group_id"`
	DebtorID      int64  `json:"debtor_id"`
	CreditorID    int64  `json:"creditor_id"`
	Amount        string `json:"amount"`
	Reason        string `json:"reason"`
	RelatedType   string `json:"related_type"`
	RelatedID     string `json:"related_id"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	Note          string `json:"note,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// ActivityDTO is one entry of a group's activity feed.
type ActivityDTO struct {
	RelatedType string          `json:"related_type"`
	RelatedID   string          `json:"related_id"`
	Action      string          `json:"action"`
	Amount      string          `json:"amount"`
	At          string          `json:"at"`
	Entries     []AuditEntryDTO `json:"entries"`
}

// ReconcileDTO reports an audit replay of a group.
type ReconcileDTO struct {
	GroupID       int64            `json:"group_id"`
	Consistent    bool             `json:"consistent"`
	PairsChecked  int              `json:"pairs_checked"`
	EntriesRead   int              `json:"entries_read"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

type DiscrepancyDTO struct {
	UserLow  int64  `json:"user_low"`
	UserHigh int64  `json:"user_high"`
	Stored   string `json:"stored"`
	Replayed string `json:"replayed"`
	Entries  int    `json:"entries"`
	Detail   string `json:"detail"`
}

// ReconciliationRunDTO summarizes one background sweep.
type ReconciliationRunDTO struct {
	StartedAt     string  `json:"started_at"`
	FinishedAt    string  `json:"finished_at"`
	GroupsChecked int     `json:"groups_checked"`
	PairsChecked  int     `json:"pairs_checked"`
	Inconsistent  []int64 `json:"inconsistent_groups"`
	Error         string  `json:"error,omitempty"`
}

// ReconciliationStatusDTO is the scheduler state plus its recent runs.
type ReconciliationStatusDTO struct {
	Enabled     bool                   `json:"enabled"`
	Interval    string                 `json:"interval"`
	NextRunTime string                 `json:"next_run_time,omitempty"`
	Runs        []ReconciliationRunDTO `json:"runs"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Users       []int64 `json:"users"`
}

// ScenarioResultDTO is returned after loading a scenario.
type ScenarioResultDTO struct {
	Scenario    string          `json:"scenario"`
	GroupID     int64           `json:"group_id"`
	Expenses    int             `json:"expenses"`
	Settlements int             `json:"settlements"`
	Deleted     int             `json:"deleted"`
	Balances    []BalanceRowDTO `json:"balances"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Field      string `json:"field,omitempty"`
	MaxAllowed string `json:"max_allowed,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// toSplits parses the request splits, or builds equal shares when the split
// type is "equal".
func toSplits(total string, splitType string, splits []SplitDTO, participants []int64) ([]expense.Split, error) {
	switch splitType {
	case "", SplitExact:
		out := make([]expense.Split, 0, len(splits))
		for i, s := range splits {
			share, err := ledger.ParseMoney(s.ShareAmount)
			if err != nil {
				return nil, &expense.ValidationError{Field: fmt.Sprintf("splits.%d.share_amount", i), Message: err.Error(), Kind: ledger.ErrInvalidAmount}
			}
			out = append(out, expense.Split{UserID: ledger.UserID(s.UserID), ShareAmount: share})
		}
		return out, nil
	case SplitEqual:
		amount, err := ledger.ParseMoney(total)
		if err != nil {
			return nil, &expense.ValidationError{Field: "amount", Message: err.Error(), Kind: ledger.ErrInvalidAmount}
		}
		users := make([]ledger.UserID, len(participants))
		for i, p := range participants {
			users[i] = ledger.UserID(p)
		}
		return expense.EqualSplit(amount, users)
	default:
		return nil, &expense.ValidationError{Field: "split_type", Message: fmt.Sprintf("must be %q or %q", SplitExact, SplitEqual), Kind: ledger.ErrInvalidEvent}
	}
}

func parseAmountField(field, value string) error {
	_, err := ledger.ParseMoney(value)
	if err != nil {
		return &expense.ValidationError{Field: field, Message: err.Error(), Kind: ledger.ErrInvalidAmount}
	}
	return nil
}

func (req CreateExpenseRequest) toEvent(groupID ledger.GroupID) (expense.CreateExpenseEvent, error) {
	if err := parseAmountField("amount", req.Amount); err != nil {
		return expense.CreateExpenseEvent{}, err
	}
	splits, err := toSplits(req.Amount, req.SplitType, req.Splits, req.Participants)
	if err != nil {
		return expense.CreateExpenseEvent{}, err
	}
	createdBy := req.CreatedBy
	if createdBy == 0 {
		createdBy = req.PaidBy
	}
	ev := expense.CreateExpenseEvent{
		ExpenseID:   req.ID,
		GroupID:     groupID,
		Title:       req.Title,
		TotalAmount: ledger.MustMoney(req.Amount),
		PayerID:     ledger.UserID(req.PaidBy),
		Splits:      splits,
		CreatedBy:   ledger.UserID(createdBy),
	}
	return ev, ev.Validate()
}

func (req UpdateExpenseRequest) toEvent() (expense.UpdateExpenseEvent, error) {
	if err := parseAmountField("amount", req.Amount); err != nil {
		return expense.UpdateExpenseEvent{}, err
	}
	splits, err := toSplits(req.Amount, req.SplitType, req.Splits, req.Participants)
	if err != nil {
		return expense.UpdateExpenseEvent{}, err
	}
	ev := expense.UpdateExpenseEvent{
		Title:       req.Title,
		TotalAmount: ledger.MustMoney(req.Amount),
		PayerID:     ledger.UserID(req.PaidBy),
		Splits:      splits,
	}
	return ev, ev.Validate()
}

func (req CreateSettlementRequest) toEvent(groupID ledger.GroupID) (settlement.CreateSettlementEvent, error) {
	amount, err := ledger.ParseMoney(req.Amount)
	if err != nil {
		return settlement.CreateSettlementEvent{}, &ledger.ValidationError{Field: "amount", Message: err.Error(), Kind: ledger.ErrInvalidAmount}
	}
	ev := settlement.CreateSettlementEvent{
		SettlementID: req.ID,
		GroupID:      groupID,
		FromID:       ledger.UserID(req.FromUserID),
		ToID:         ledger.UserID(req.ToUserID),
		Amount:       amount,
		PaymentMode:  req.PaymentMode,
		Note:         req.Note,
		CreatedBy:    ledger.UserID(req.CreatedBy),
	}
	return ev, ev.Validate()
}

func toExpenseDTO(e expense.Expense) ExpenseDTO {
	splits := make([]SplitDTO, len(e.Splits))
	for i, s := range e.Splits {
		splits[i] = SplitDTO{UserID: int64(s.UserID), ShareAmount: ledger.FormatMoney(s.ShareAmount)}
	}
	return ExpenseDTO{
		ID:        e.ID,
		GroupID:   int64(e.GroupID),
		Title:     e.Title,
		Amount:    ledger.FormatMoney(e.TotalAmount),
		PaidBy:    int64(e.PayerID),
		Splits:    splits,
		CreatedBy: int64(e.CreatedBy),
		CreatedAt: formatTime(e.CreatedAt),
		UpdatedAt: formatTime(e.UpdatedAt),
		DeletedAt: formatTimePtr(e.DeletedAt),
	}
}

func toSettlementDTO(s settlement.Settlement) SettlementDTO {
	return SettlementDTO{
		ID:          s.ID,
		GroupID:     int64(s.GroupID),
		FromUserID:  int64(s.FromID),
		ToUserID:    int64(s.ToID),
		Amount:      ledger.FormatMoney(s.Amount),
		PaymentMode: s.PaymentMode,
		Note:        s.Note,
		CreatedAt:   formatTime(s.CreatedAt),
		DeletedAt:   formatTimePtr(s.DeletedAt),
	}
}

func toBalanceRowDTOs(rows []ledger.BalanceRow) []BalanceRowDTO {
	out := make([]BalanceRowDTO, len(rows))
	for i, r := range rows {
		out[i] = BalanceRowDTO{
			GroupID:   int64(r.GroupID),
			UserLow:   int64(r.UserLow),
			UserHigh:  int64(r.UserHigh),
			Amount:    ledger.FormatMoney(r.Amount),
			UpdatedAt: formatTime(r.UpdatedAt),
		}
	}
	return out
}

// toPairBalanceDTO renders a net balance (positive: user owes other).
func toPairBalanceDTO(groupID ledger.GroupID, user, other ledger.UserID, amount decimal.Decimal) PairBalanceDTO {
	var desc string
	switch {
	case amount.IsPositive():
		desc = fmt.Sprintf("user %d owes user %d %s", user, other, ledger.FormatMoney(amount))
	case amount.IsNegative():
		desc = fmt.Sprintf("user %d owes user %d %s", other, user, ledger.FormatMoney(amount.Neg()))
	default:
		desc = "settled up"
	}
	return PairBalanceDTO{
		GroupID:     int64(groupID),
		UserID:      int64(user),
		OtherUserID: int64(other),
		Amount:      ledger.FormatMoney(amount),
		Description: desc,
	}
}

func toAuditEntryDTOs(entries []ledger.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			ID:            e.ID,
			Seq:           e.Seq,
			GroupID:       int64(e.GroupID),
			DebtorID:      int64(e.DebtorID),
			CreditorID:    int64(e.CreditorID),
			Amount:        ledger.FormatMoney(e.Magnitude),
			Reason:        string(e.Reason),
			RelatedType:   string(e.RelatedType),
			RelatedID:     e.RelatedID,
			BalanceBefore: ledger.FormatMoney(e.BalanceBefore),
			BalanceAfter:  ledger.FormatMoney(e.BalanceAfter),
			Note:          e.Note,
			CreatedAt:     formatTime(e.CreatedAt),
		}
	}
	return out
}

func toActivityDTOs(items []ledger.Activity) []ActivityDTO {
	out := make([]ActivityDTO, len(items))
	for i, a := range items {
		out[i] = ActivityDTO{
			RelatedType: string(a.RelatedType),
			RelatedID:   a.RelatedID,
			Action:      string(a.Action),
			Amount:      ledger.FormatMoney(a.Amount),
			At:          formatTime(a.At),
			Entries:     toAuditEntryDTOs(a.Entries),
		}
	}
	return out
}

func toReconcileDTO(r ledger.ReconcileReport) ReconcileDTO {
	out := ReconcileDTO{
		GroupID:       int64(r.GroupID),
		Consistent:    r.Consistent(),
		PairsChecked:  r.PairsChecked,
		EntriesRead:   r.EntriesRead,
		Discrepancies: make([]DiscrepancyDTO, len(r.Discrepancies)),
	}
	for i, d := range r.Discrepancies {
		out.Discrepancies[i] = DiscrepancyDTO{
			UserLow:  int64(d.Key.Low),
			UserHigh: int64(d.Key.High),
			Stored:   ledger.FormatMoney(d.Stored),
			Replayed: ledger.FormatMoney(d.Replayed),
			Entries:  d.Entries,
			Detail:   d.Detail,
		}
	}
	return out
}

func toReconciliationRunDTO(run ReconciliationRun) ReconciliationRunDTO {
	out := ReconciliationRunDTO{
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		GroupsChecked: run.GroupsChecked,
		PairsChecked:  run.PairsChecked,
		Inconsistent:  make([]int64, len(run.Inconsistent)),
		Error:         run.Error,
	}
	for i, g := range run.Inconsistent {
		out.Inconsistent[i] = int64(g)
	}
	return out
}

func toTransferDTOs(ts []ledger.Transfer) []TransferDTO {
	out := make([]TransferDTO, len(ts))
	for i, t := range ts {
		out[i] = TransferDTO{FromUserID: int64(t.From), ToUserID: int64(t.To), Amount: ledger.FormatMoney(t.Amount)}
	}
	return out
}

/*
handlers.go - HTTP API handlers for the pair balance ledger

PURPOSE:
  Thin JSON collaborator: parses requests, builds validated events, hands
  them to the expense and settlement adapters and renders projections.
  No balance arithmetic happens here.

ENDPOINTS:
  Expenses:
    POST   /api/groups/{groupID}/expenses       Create expense
    GET    /api/expenses/{id}                   Get expense
    PUT    /api/expenses/{id}                   Update expense (reverse + reapply)
    DELETE /api/expenses/{id}                   Delete expense (reverse + soft delete)

  Settlements:
    POST   /api/groups/{groupID}/settlements    Record settlement
    GET    /api/settlements/{id}                Get settlement
    DELETE /api/settlements/{id}                Delete settlement (reverse)

  Balances:
    GET    /api/groups/{groupID}/balances[?user=]      Group rows, or one user's view
    GET    /api/groups/{groupID}/balances/{a}/{b}      Net between two users
    GET    /api/groups/{groupID}/suggestions           Simplified payments
    GET    /api/users/{userID}/summary                 Totals across groups

  Audit:
    GET    /api/groups/{groupID}/audit          Audit trail (filters: related_type,
                                                related_id, user_a+user_b, from, to)
    GET    /api/groups/{groupID}/activity       Per-record feed built from the audit
                                                trail (limit)
    GET    /api/groups/{groupID}/reconcile      Replay audit against rows
    GET    /api/admin/reconciliation            Background sweep status (scheduler.go)
    POST   /api/admin/reconciliation            Sweep every group now

  Demo data:
    GET    /api/scenarios                       List seed scenarios (scenarios.go)
    POST   /api/groups/{groupID}/scenarios/{name}  Load a scenario into a group

ERROR HANDLING:
  - 400: malformed JSON or path parameters
  - 404: unknown expense or settlement
  - 422: validation class, message shown verbatim (max_allowed on
         over-settlement)
  - 503: lock timeout or storage failure, "please try again"
  - 500: consistency violation or anything unexpected

SECURITY NOTE:
  Authentication and group membership are enforced upstream.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/settlement"
)

// retryMessage is shown for retryable failures.
const retryMessage = "Unable to process the request right now, please try again."

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Records is the read side of the record stores.
type Records interface {
	expense.Reader
	settlement.Reader
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine      *ledger.Engine
	Expenses    *expense.Adapter
	Settlements *settlement.Adapter
	Records     Records

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Scheduler backs /api/admin/reconciliation. Nil disables the endpoints.
	Scheduler *ReconciliationScheduler

	// Scenarios backs /api/scenarios. Nil disables the endpoints.
	Scenarios *ScenarioLoader

	logger *slog.Logger
}

// NewHandler wires the adapters around engine. records is usually the same
// store value the engine was built with.
func NewHandler(engine *ledger.Engine, records Records, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")
	return &Handler{
		Engine:      engine,
		Expenses:    expense.NewAdapter(engine, logger),
		Settlements: settlement.NewAdapter(engine, logger),
		Records:     records,
		logger:      logger,
	}
}

// =============================================================================
// EXPENSE ENDPOINTS
// =============================================================================

// CreateExpense handles POST /api/groups/{groupID}/expenses.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	var req CreateExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := req.toEvent(groupID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	e, err := h.Expenses.CreateExpense(r.Context(), ev)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

// GetExpense handles GET /api/expenses/{id}.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.Records.GetExpense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// UpdateExpense handles PUT /api/expenses/{id}.
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req UpdateExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	e, err := h.Expenses.UpdateExpense(r.Context(), chi.URLParam(r, "id"), ev)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// DeleteExpense handles DELETE /api/expenses/{id}.
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.Expenses.DeleteExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

// CreateSettlement handles POST /api/groups/{groupID}/settlements.
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	var req CreateSettlementRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := req.toEvent(groupID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	s, err := h.Settlements.CreateSettlement(r.Context(), ev)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(s))
}

// GetSettlement handles GET /api/settlements/{id}.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Records.GetSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// DeleteSettlement handles DELETE /api/settlements/{id}.
func (h *Handler) DeleteSettlement(w http.ResponseWriter, r *http.Request) {
	if err := h.Settlements.DeleteSettlement(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

// GetGroupBalances handles GET /api/groups/{groupID}/balances. With ?user=
// it returns that user's non-zero balances from their point of view.
func (h *Handler) GetGroupBalances(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if raw := r.URL.Query().Get("user"); raw != "" {
		user, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid user", err)
			return
		}
		rows, err := h.Engine.GetUserBalancesForGroup(ctx, groupID, ledger.UserID(user))
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		out := make([]PairBalanceDTO, 0, len(rows))
		for _, row := range rows {
			u := ledger.UserID(user)
			out = append(out, toPairBalanceDTO(groupID, u, row.Counterparty(u), row.OwedBy(u)))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	rows, err := h.Engine.GetGroupBalances(ctx, groupID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceRowDTOs(rows))
}

// GetPairBalance handles GET /api/groups/{groupID}/balances/{a}/{b}.
func (h *Handler) GetPairBalance(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	a, okA := pathInt(w, r, "a")
	if !okA {
		return
	}
	b, okB := pathInt(w, r, "b")
	if !okB {
		return
	}
	net, err := h.Engine.GetNetBalanceBetweenUsers(r.Context(), groupID, ledger.UserID(a), ledger.UserID(b))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPairBalanceDTO(groupID, ledger.UserID(a), ledger.UserID(b), net))
}

// GetSuggestions handles GET /api/groups/{groupID}/suggestions.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	transfers, err := h.Engine.SuggestSettlements(r.Context(), groupID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTOs(transfers))
}

// GetUserSummary handles GET /api/users/{userID}/summary.
func (h *Handler) GetUserSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}
	sum, err := h.Engine.GetUserBalanceSummary(r.Context(), ledger.UserID(userID))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserSummaryDTO{
		UserID:      int64(sum.UserID),
		TotalOwed:   ledger.FormatMoney(sum.TotalOwed),
		TotalOwedTo: ledger.FormatMoney(sum.TotalOwedTo),
		Net:         ledger.FormatMoney(sum.Net),
	})
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// GetAuditTrail handles GET /api/groups/{groupID}/audit.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	filter, err := auditFilter(groupID, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid audit filter", err)
		return
	}
	entries, err := h.Engine.AuditTrail(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditEntryDTOs(entries))
}

// GetActivity handles GET /api/groups/{groupID}/activity?limit=N.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	items, err := h.Engine.GroupActivity(r.Context(), groupID, limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityDTOs(items))
}

func auditFilter(groupID ledger.GroupID, r *http.Request) (ledger.AuditFilter, error) {
	q := r.URL.Query()
	filter := ledger.AuditFilter{
		GroupID:     &groupID,
		RelatedType: ledger.RelatedType(q.Get("related_type")),
		RelatedID:   q.Get("related_id"),
	}

	userA, userB := q.Get("user_a"), q.Get("user_b")
	if (userA == "") != (userB == "") {
		return filter, errors.New("user_a and user_b must be given together")
	}
	if userA != "" {
		a, err := strconv.ParseInt(userA, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("user_a: %w", err)
		}
		b, err := strconv.ParseInt(userB, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("user_b: %w", err)
		}
		key := ledger.NewPairKey(groupID, ledger.UserID(a), ledger.UserID(b))
		filter.Pair = &key
	}

	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%s: %w", name, err)
		}
		*dst = &t
	}
	return filter, nil
}

// Reconcile handles GET /api/groups/{groupID}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	report, err := h.Engine.Reconcile(r.Context(), groupID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) groupID(w http.ResponseWriter, r *http.Request) (ledger.GroupID, bool) {
	id, ok := pathInt(w, r, "groupID")
	return ledger.GroupID(id), ok
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeLedgerError maps the ledger error taxonomy to HTTP responses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		over  *ledger.OverSettlementError
		field *ledger.ValidationError
	)
	switch {
	case errors.As(err, &over):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      over.Error(),
			MaxAllowed: ledger.FormatMoney(over.MaxAllowed),
		})
	case errors.As(err, &field):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: field.Message, Field: field.Field})
	case ledger.IsClientError(err):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsRetryable(err):
		h.logger.Warn("retryable ledger failure",
			"error", err, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: retryMessage})
	default:
		h.logger.Error("request failed",
			"error", err, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

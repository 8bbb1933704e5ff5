/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a group with realistic
	expenses and settlements. Every step goes through the same adapters the
	HTTP endpoints use, so a loaded scenario has a complete audit trail.

AVAILABLE SCENARIOS:

	roommates: Rent and groceries between three flatmates, one partial payback
	trip:      Exact and equal splits, a deleted taxi ride, one full settle-up

HOW SCENARIOS WORK:
 1. Steps are JSON documents using the public request bodies
 2. Record ids are prefixed with the scenario and group id
 3. Steps run in order; delete steps refer to earlier ids

USAGE VIA API:

	GET  /api/scenarios
	POST /api/groups/{groupID}/scenarios/{name}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with the steps as JSON
 2. Add a test asserting the resulting rows

NOTE:

	Loading is not atomic across steps. Loading the same scenario twice into
	one group fails on the first duplicate id.

SEE ALSO:
  - dto.go: CreateExpenseRequest, CreateSettlementRequest
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/pair-ledger/expense"
	"github.com/warp/pair-ledger/ledger"
	"github.com/warp/pair-ledger/settlement"
)

// ErrUnknownScenario is returned for a scenario id that is not defined.
var ErrUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	steps string
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "roommates",
			Name:        "Roommates",
			Description: "Rent and groceries split three ways, one partial payback",
			Users:       []int64{1, 2, 3},
		},
		steps: `[
			{"expense": {"id": "rent", "title": "October rent", "amount": "1500.00", "paid_by": 1,
				"split_type": "equal", "participants": [1, 2, 3]}},
			{"expense": {"id": "groceries", "title": "Groceries", "amount": "90.10", "paid_by": 2,
				"split_type": "equal", "participants": [1, 2, 3]}},
			{"settlement": {"id": "payback", "from_user_id": 3, "to_user_id": 1, "amount": "200.00",
				"payment_mode": "bank_transfer", "note": "part of rent"}}
		]`,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "trip",
			Name:        "Weekend Trip",
			Description: "Exact and equal splits, a deleted taxi ride and a full settle-up",
			Users:       []int64{4, 5, 6, 7},
		},
		steps: `[
			{"expense": {"id": "hotel", "title": "Hotel", "amount": "400.00", "paid_by": 4,
				"splits": [
					{"user_id": 4, "share_amount": "100.00"},
					{"user_id": 5, "share_amount": "100.00"},
					{"user_id": 6, "share_amount": "100.00"},
					{"user_id": 7, "share_amount": "100.00"}]}},
			{"expense": {"id": "dinner", "title": "Dinner", "amount": "120.00", "paid_by": 5,
				"split_type": "equal", "participants": [4, 5, 6]}},
			{"expense": {"id": "taxi", "title": "Taxi", "amount": "33.00", "paid_by": 6,
				"split_type": "equal", "participants": [5, 6, 7]}},
			{"delete_expense": "taxi"},
			{"settlement": {"id": "hotel-7", "from_user_id": 7, "to_user_id": 4, "amount": "100.00"}}
		]`,
	},
}

type scenarioStep struct {
	Expense          *CreateExpenseRequest    `json:"expense,omitempty"`
	Settlement       *CreateSettlementRequest `json:"settlement,omitempty"`
	DeleteExpense    string                   `json:"delete_expense,omitempty"`
	DeleteSettlement string                   `json:"delete_settlement,omitempty"`
}

// =============================================================================
// LOADER
// =============================================================================

// ScenarioLoader replays scenario steps through the adapters.
type ScenarioLoader struct {
	expenses    *expense.Adapter
	settlements *settlement.Adapter
	logger      *slog.Logger
}

// ScenarioResult counts what a load applied.
type ScenarioResult struct {
	Scenario    string
	GroupID     ledger.GroupID
	Expenses    int
	Settlements int
	Deleted     int
}

// NewScenarioLoader creates a loader writing through expenses and settlements.
func NewScenarioLoader(expenses *expense.Adapter, settlements *settlement.Adapter, logger *slog.Logger) *ScenarioLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScenarioLoader{expenses: expenses, settlements: settlements, logger: logger.With("component", "scenarios")}
}

// List returns the available scenarios.
func (l *ScenarioLoader) List() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	return out
}

// Load applies scenario id to groupID.
func (l *ScenarioLoader) Load(ctx context.Context, id string, groupID ledger.GroupID) (ScenarioResult, error) {
	var def *scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			def = &scenarios[i]
			break
		}
	}
	if def == nil {
		return ScenarioResult{}, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	var steps []scenarioStep
	dec := json.NewDecoder(bytes.NewReader([]byte(def.steps)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&steps); err != nil {
		return ScenarioResult{}, fmt.Errorf("scenario %s: parse steps: %w", id, err)
	}

	result := ScenarioResult{Scenario: id, GroupID: groupID}
	scoped := func(ref string) string { return fmt.Sprintf("%s-%d-%s", id, groupID, ref) }
	for i, step := range steps {
		if err := l.apply(ctx, groupID, step, scoped, &result); err != nil {
			return result, fmt.Errorf("scenario %s step %d: %w", id, i+1, err)
		}
	}
	l.logger.Info("scenario loaded",
		"scenario", id, "group_id", groupID,
		"expenses", result.Expenses, "settlements", result.Settlements, "deleted", result.Deleted)
	return result, nil
}

func (l *ScenarioLoader) apply(ctx context.Context, groupID ledger.GroupID, step scenarioStep, scoped func(string) string, result *ScenarioResult) error {
	switch {
	case step.Expense != nil:
		req := *step.Expense
		req.ID = scoped(req.ID)
		ev, err := req.toEvent(groupID)
		if err != nil {
			return err
		}
		if _, err := l.expenses.CreateExpense(ctx, ev); err != nil {
			return err
		}
		result.Expenses++
	case step.Settlement != nil:
		req := *step.Settlement
		req.ID = scoped(req.ID)
		ev, err := req.toEvent(groupID)
		if err != nil {
			return err
		}
		if _, err := l.settlements.CreateSettlement(ctx, ev); err != nil {
			return err
		}
		result.Settlements++
	case step.DeleteExpense != "":
		if err := l.expenses.DeleteExpense(ctx, scoped(step.DeleteExpense)); err != nil {
			return err
		}
		result.Deleted++
	case step.DeleteSettlement != "":
		if err := l.settlements.DeleteSettlement(ctx, scoped(step.DeleteSettlement)); err != nil {
			return err
		}
		result.Deleted++
	default:
		return errors.New("empty step")
	}
	return nil
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// ListScenarios handles GET /api/scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scenarios.List())
}

// LoadScenario handles POST /api/groups/{groupID}/scenarios/{name}.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	result, err := h.Scenarios.Load(r.Context(), chi.URLParam(r, "name"), groupID)
	if errors.Is(err, ErrUnknownScenario) {
		writeError(w, http.StatusNotFound, "Scenario not found", err)
		return
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	rows, err := h.Engine.GetGroupBalances(r.Context(), groupID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ScenarioResultDTO{
		Scenario:    result.Scenario,
		GroupID:     int64(result.GroupID),
		Expenses:    result.Expenses,
		Settlements: result.Settlements,
		Deleted:     result.Deleted,
		Balances:    toBalanceRowDTOs(rows),
	})
}

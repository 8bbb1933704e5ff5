/*
reconcile.go - Audit replay

PURPOSE:
  The audit log is the reconstruction source of truth. Replaying every entry
  of a pair in commit order and summing (after - before) must give the
  stored row amount exactly. Reconcile checks that for a whole group and
  reports every pair where it does not hold.

CHECKS PER PAIR:
  - replayed sum == stored amount
  - entry N's BalanceBefore == entry N-1's BalanceAfter (no gaps)
  - a row exists for every pair that has entries, and vice versa unless the
    row is zero

Reconcile never repairs anything. A non-empty report is a bug to escalate.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Discrepancy describes one pair whose row disagrees with its audit trail.
type Discrepancy struct {
	Key      PairKey
	Stored   decimal.Decimal
	Replayed decimal.Decimal
	Entries  int
	Detail   string
}

// ReconcileReport is the result of replaying a group's audit trail.
type ReconcileReport struct {
	GroupID       GroupID
	PairsChecked  int
	EntriesRead   int
	Discrepancies []Discrepancy
}

// Consistent reports whether no discrepancy was found.
func (r ReconcileReport) Consistent() bool {
	return len(r.Discrepancies) == 0
}

// Reconcile replays the audit log of groupID against its balance rows.
func (e *Engine) Reconcile(ctx context.Context, groupID GroupID) (ReconcileReport, error) {
	rows, err := e.store.ListGroupBalances(ctx, groupID)
	if err != nil {
		return ReconcileReport{}, err
	}
	entries, err := e.store.QueryAudit(ctx, AuditFilter{GroupID: &groupID})
	if err != nil {
		return ReconcileReport{}, err
	}
	report := Replay(groupID, rows, entries)
	if !report.Consistent() {
		e.logger.Error("audit replay does not match balances",
			"group_id", groupID, "discrepancies", len(report.Discrepancies))
	}
	return report, nil
}

// ListGroups returns every group with at least one balance row.
func (e *Engine) ListGroups(ctx context.Context) ([]GroupID, error) {
	return e.store.ListGroups(ctx)
}

// ReconcileAll replays every group. A failing group does not stop the sweep;
// its error is joined into the returned error and it has no report.
func (e *Engine) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	groups, err := e.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	var (
		reports []ReconcileReport
		errs    []error
	)
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := e.Reconcile(ctx, g)
		if err != nil {
			errs = append(errs, fmt.Errorf("group %d: %w", g, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// Replay is the pure part of Reconcile. entries must be in Seq order.
func Replay(groupID GroupID, rows []BalanceRow, entries []AuditEntry) ReconcileReport {
	type trail struct {
		sum     decimal.Decimal
		last    *decimal.Decimal
		count   int
		gapNote string
	}
	trails := make(map[PairKey]*trail)
	for _, entry := range entries {
		key := entry.Key()
		t, ok := trails[key]
		if !ok {
			t = &trail{sum: decimal.Zero}
			trails[key] = t
		}
		if t.last == nil && !entry.BalanceBefore.IsZero() && t.gapNote == "" {
			t.gapNote = "first entry does not start from zero"
		}
		if t.last != nil && !t.last.Equal(entry.BalanceBefore) && t.gapNote == "" {
			t.gapNote = "entry before-balance does not continue previous after-balance"
		}
		after := entry.BalanceAfter
		t.last = &after
		t.sum = t.sum.Add(entry.Delta())
		t.count++
	}

	report := ReconcileReport{GroupID: groupID, EntriesRead: len(entries)}
	seen := make(map[PairKey]bool, len(rows))
	for _, row := range rows {
		key := row.Key()
		seen[key] = true
		report.PairsChecked++
		t, ok := trails[key]
		if !ok {
			if !row.Amount.IsZero() {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Key: key, Stored: row.Amount, Replayed: decimal.Zero,
					Detail: "row has a balance but no audit entries",
				})
			}
			continue
		}
		switch {
		case !t.sum.Equal(row.Amount):
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Key: key, Stored: row.Amount, Replayed: t.sum, Entries: t.count,
				Detail: "replayed sum differs from stored amount",
			})
		case t.gapNote != "":
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Key: key, Stored: row.Amount, Replayed: t.sum, Entries: t.count,
				Detail: t.gapNote,
			})
		}
	}
	for key, t := range trails {
		if seen[key] {
			continue
		}
		report.PairsChecked++
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Key: key, Stored: decimal.Zero, Replayed: t.sum, Entries: t.count,
			Detail: "audit entries exist for a pair with no balance row",
		})
	}
	sort.Slice(report.Discrepancies, func(i, j int) bool {
		return report.Discrepancies[i].Key.Less(report.Discrepancies[j].Key)
	})
	return report
}

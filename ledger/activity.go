/*
activity.go - Activity feed derived from the audit log

PURPOSE:
  Answers "what happened in this group" one expense or settlement at a
  time. Nothing extra is stored: activities are rebuilt from audit entries
  grouped by their related record.

DERIVATION (per related record, entries in Seq order):
  forward run                      -> created (first run) or updated
  reversal run + forward run       -> updated
  reversal run, nothing after it   -> deleted
  An event that moved no balance (a payer-only expense) has no entries and
  therefore no activity.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ActivityAction is what happened to a record.
type ActivityAction string

const (
	ActivityCreated ActivityAction = "created"
	ActivityUpdated ActivityAction = "updated"
	ActivityDeleted ActivityAction = "deleted"
)

// Activity is one create, update or delete of an expense or settlement.
type Activity struct {
	GroupID     GroupID
	RelatedType RelatedType
	RelatedID   string
	Action      ActivityAction
	// Amount is the sum of magnitudes moved by the forward entries, or by
	// the reversal entries for a deletion.
	Amount  decimal.Decimal
	At      time.Time
	Entries []AuditEntry
}

func (a Activity) lastSeq() int64 {
	return a.Entries[len(a.Entries)-1].Seq
}

func isReversal(r Reason) bool {
	return r == ReasonExpenseReversal || r == ReasonSettlementReversal
}

// GroupActivity returns the group's activities, newest first. limit <= 0
// returns all of them.
func (e *Engine) GroupActivity(ctx context.Context, groupID GroupID, limit int) ([]Activity, error) {
	entries, err := e.store.QueryAudit(ctx, AuditFilter{GroupID: &groupID})
	if err != nil {
		return nil, err
	}
	out := BuildActivity(entries)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BuildActivity is the pure part of GroupActivity. entries must be in Seq
// order; the result is ordered by the Seq of each activity's last entry,
// newest first.
func BuildActivity(entries []AuditEntry) []Activity {
	type record struct {
		typ RelatedType
		id  string
	}
	var (
		order    []record
		byRecord = make(map[record][]AuditEntry)
	)
	for _, entry := range entries {
		r := record{entry.RelatedType, entry.RelatedID}
		if _, ok := byRecord[r]; !ok {
			order = append(order, r)
		}
		byRecord[r] = append(byRecord[r], entry)
	}

	var out []Activity
	for _, r := range order {
		out = append(out, recordActivity(byRecord[r])...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].lastSeq() > out[j].lastSeq() })
	return out
}

// recordActivity splits one record's entries into runs and names each run.
func recordActivity(entries []AuditEntry) []Activity {
	var (
		out     []Activity
		pending []AuditEntry // reversal run waiting for its forward run
	)
	emit := func(action ActivityAction, run []AuditEntry, moved []AuditEntry) {
		amount := decimal.Zero
		for _, e := range moved {
			amount = amount.Add(e.Magnitude)
		}
		last := run[len(run)-1]
		out = append(out, Activity{
			GroupID:     last.GroupID,
			RelatedType: last.RelatedType,
			RelatedID:   last.RelatedID,
			Action:      action,
			Amount:      amount,
			At:          last.CreatedAt,
			Entries:     run,
		})
	}

	for i := 0; i < len(entries); {
		j := i
		reversal := isReversal(entries[i].Reason)
		for j < len(entries) && isReversal(entries[j].Reason) == reversal {
			j++
		}
		run := entries[i:j:j]
		i = j

		switch {
		case reversal:
			pending = run
		case pending != nil:
			emit(ActivityUpdated, append(append([]AuditEntry(nil), pending...), run...), run)
			pending = nil
		case len(out) == 0:
			emit(ActivityCreated, run, run)
		default:
			emit(ActivityUpdated, run, run)
		}
	}
	if pending != nil {
		emit(ActivityDeleted, pending, pending)
	}
	return out
}

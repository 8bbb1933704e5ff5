package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activityEntry(seq int64, reason Reason, related RelatedType, id string, magnitude string) AuditEntry {
	return AuditEntry{
		Seq:         seq,
		GroupID:     1,
		DebtorID:    2,
		CreditorID:  1,
		Magnitude:   MustMoney(magnitude),
		Reason:      reason,
		RelatedType: related,
		RelatedID:   id,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, int(seq), 0, time.UTC),
	}
}

func TestBuildActivity_NamesEachChange(t *testing.T) {
	// GIVEN: An expense created, edited and deleted, and a settlement created
	//        between the edit and the delete
	// WHEN: Building the activity feed
	// THEN: One activity per change, newest first, each carrying its own entries

	entries := []AuditEntry{
		activityEntry(1, ReasonExpense, RelatedExpense, "dinner", "30.00"),
		activityEntry(2, ReasonExpense, RelatedExpense, "dinner", "30.00"),
		activityEntry(3, ReasonExpenseReversal, RelatedExpense, "dinner", "30.00"),
		activityEntry(4, ReasonExpenseReversal, RelatedExpense, "dinner", "30.00"),
		activityEntry(5, ReasonExpense, RelatedExpense, "dinner", "40.00"),
		activityEntry(6, ReasonSettlement, RelatedSettlement, "pay-1", "15.00"),
		activityEntry(7, ReasonExpenseReversal, RelatedExpense, "dinner", "40.00"),
		activityEntry(8, ReasonSettlementReversal, RelatedSettlement, "pay-1", "15.00"),
	}

	feed := BuildActivity(entries)
	require.Len(t, feed, 5)

	assert.Equal(t, activitySummary{RelatedSettlement, "pay-1", ActivityDeleted, "15.00", 1}, summarize(feed[0]))
	assert.Equal(t, activitySummary{RelatedExpense, "dinner", ActivityDeleted, "40.00", 1}, summarize(feed[1]))
	assert.Equal(t, activitySummary{RelatedSettlement, "pay-1", ActivityCreated, "15.00", 1}, summarize(feed[2]))
	assert.Equal(t, activitySummary{RelatedExpense, "dinner", ActivityUpdated, "40.00", 3}, summarize(feed[3]))
	assert.Equal(t, activitySummary{RelatedExpense, "dinner", ActivityCreated, "60.00", 2}, summarize(feed[4]))

	assert.Equal(t, entries[6].CreatedAt, feed[1].At)
	assert.Equal(t, int64(3), feed[3].Entries[0].Seq, "an edit carries its reversal entries too")
}

func TestBuildActivity_Empty(t *testing.T) {
	assert.Empty(t, BuildActivity(nil))
}

// activitySummary flattens an Activity for comparison.
type activitySummary struct {
	RelatedType RelatedType
	RelatedID   string
	Action      ActivityAction
	Amount      string
	Entries     int
}

func summarize(a Activity) activitySummary {
	return activitySummary{a.RelatedType, a.RelatedID, a.Action, FormatMoney(a.Amount), len(a.Entries)}
}

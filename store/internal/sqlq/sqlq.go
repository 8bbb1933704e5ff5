// Package sqlq holds query fragments shared by the SQL ledger stores.
package sqlq

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pair-ledger/ledger"
)

// AuditColumns is the column list every audit SELECT uses, in scan order.
const AuditColumns = `seq, id, group_id, debtor_id, creditor_id, magnitude, reason,
	related_type, related_id, balance_before, balance_after, note, created_at`

// AuditWhere translates filter into a WHERE clause (empty when the filter
// matches everything). formatTime converts time bounds to the driver's
// representation.
func AuditWhere(filter ledger.AuditFilter, formatTime func(time.Time) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.GroupID != nil {
		conds = append(conds, "group_id = ?")
		args = append(args, int64(*filter.GroupID))
	}
	if filter.Pair != nil {
		conds = append(conds, "group_id = ? AND pair_low = ? AND pair_high = ?")
		args = append(args, int64(filter.Pair.GroupID), int64(filter.Pair.Low), int64(filter.Pair.High))
	}
	if filter.RelatedType != "" {
		conds = append(conds, "related_type = ?")
		args = append(args, string(filter.RelatedType))
	}
	if filter.RelatedID != "" {
		conds = append(conds, "related_id = ?")
		args = append(args, filter.RelatedID)
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*filter.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListGroups reads the distinct group ids of the balances table. classify
// maps driver errors onto the ledger taxonomy.
func ListGroups(ctx context.Context, db *sql.DB, classify func(op string, err error) error) ([]ledger.GroupID, error) {
	rows, err := db.QueryContext(ctx, "SELECT DISTINCT group_id FROM balances ORDER BY group_id")
	if err != nil {
		return nil, classify("list groups", err)
	}
	defer rows.Close()
	var out []ledger.GroupID
	for rows.Next() {
		var g ledger.GroupID
		if err := rows.Scan(&g); err != nil {
			return nil, classify("list groups", err)
		}
		out = append(out, g)
	}
	return out, classify("list groups", rows.Err())
}

// Decimal parses a stored amount. Stored amounts are written by the ledger,
// so a parse failure means the row was corrupted.
func Decimal(column, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, &ledger.ConsistencyError{Detail: fmt.Sprintf("column %s holds %q, not a decimal", column, value)}
	}
	return d, nil
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

package expense

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/pair-ledger/ledger"
)

// EqualSplit divides total evenly between users. Every share is the total
// divided by the number of users, truncated to cents; the user with the
// highest id absorbs the remainder. The result is ordered by user id and does
// not depend on the order of users.
//
//	EqualSplit(10.00, [3, 1, 2]) -> [1: 3.33, 2: 3.33, 3: 3.34]
func EqualSplit(total decimal.Decimal, users []ledger.UserID) ([]Split, error) {
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: equal split needs at least one user", ledger.ErrInvalidEvent)
	}
	if !total.IsPositive() || !ledger.IsCents(total) {
		return nil, fmt.Errorf("%w: cannot split %s", ledger.ErrInvalidAmount, total)
	}

	sorted := make([]ledger.UserID, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return nil, fmt.Errorf("%w: user %d appears more than once", ledger.ErrInvalidEvent, sorted[i])
		}
	}

	// Truncation keeps the remainder non-negative.
	share := total.Div(decimal.NewFromInt(int64(len(sorted)))).Truncate(ledger.Scale)
	splits := make([]Split, len(sorted))
	allocated := decimal.Zero
	for i, u := range sorted {
		splits[i] = Split{UserID: u, ShareAmount: share}
		allocated = allocated.Add(share)
	}
	last := len(splits) - 1
	splits[last].ShareAmount = splits[last].ShareAmount.Add(total.Sub(allocated))
	return splits, nil
}

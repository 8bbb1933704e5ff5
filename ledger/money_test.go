package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "10", want: "10.00"},
		{in: "3.3", want: "3.30"},
		{in: "-0.01", want: "-0.01"},
		{in: "1.005", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseMoney(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatMoney(d))
		})
	}
}

func TestIsCents(t *testing.T) {
	assert.True(t, IsCents(decimal.RequireFromString("6.67")))
	assert.True(t, IsCents(decimal.RequireFromString("6.670")))
	assert.False(t, IsCents(decimal.RequireFromString("6.671")))
}

func TestDecimalAccumulation_IsExact(t *testing.T) {
	// 0.1 + 0.2 in binary floating point is 0.30000000000000004
	sum := decimal.Zero
	for i := 0; i < 1000; i++ {
		sum = sum.Add(MustMoney("0.10"))
	}
	assert.Equal(t, "100.00", FormatMoney(sum))
}

func TestStorage_KeepsClassification(t *testing.T) {
	driverErr := errors.New("disk I/O error")
	err := Storage("put balance", driverErr)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.ErrorIs(t, err, driverErr)
	assert.True(t, IsRetryable(err))

	timeout := &LockTimeoutError{Key: NewPairKey(1, 1, 2)}
	assert.Same(t, timeout, Storage("lock", timeout))
	assert.NoError(t, Storage("noop", nil))
}

func TestOverSettlementError_Message(t *testing.T) {
	err := &OverSettlementError{Requested: MustMoney("50.01"), MaxAllowed: MustMoney("50")}
	assert.Equal(t, "settlement amount (50.01) exceeds amount owed (50.00). Maximum allowed: 50.00", err.Error())
	assert.ErrorIs(t, err, ErrOverSettlement)
	assert.True(t, IsClientError(err))
	assert.Equal(t, "validation", failureKind(err))
}

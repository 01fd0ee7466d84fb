package treasury

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundWithdrawsBalance(t *testing.T) {
	treas := NewInMemory(sdkmath.NewInt(1000))

	require.NoError(t, treas.Fund(sdkmath.NewInt(400)))
	assert.Equal(t, int64(600), treas.GetBalance().Int64())

	// Overdrawing fails without a partial withdrawal.
	assert.Error(t, treas.Fund(sdkmath.NewInt(601)))
	assert.Equal(t, int64(600), treas.GetBalance().Int64())

	assert.Error(t, treas.Fund(sdkmath.ZeroInt()))
}

func TestDepositCredits(t *testing.T) {
	treas := NewInMemory(sdkmath.ZeroInt())

	treas.Deposit(sdkmath.NewInt(250))
	treas.Deposit(sdkmath.NewInt(50))
	assert.Equal(t, int64(300), treas.GetBalance().Int64())

	// Non-positive deposits are ignored.
	treas.Deposit(sdkmath.NewInt(-10))
	treas.Deposit(sdkmath.ZeroInt())
	assert.Equal(t, int64(300), treas.GetBalance().Int64())
}

func TestNegativeInitialBalanceClamped(t *testing.T) {
	treas := NewInMemory(sdkmath.NewInt(-5))
	assert.True(t, treas.GetBalance().IsZero())
}

package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisispalash/tits-dot-fun/internal/fixedpoint"
	"github.com/thisispalash/tits-dot-fun/internal/oracle"
	"github.com/thisispalash/tits-dot-fun/internal/treasury"
	"github.com/thisispalash/tits-dot-fun/internal/types"
)

var launchTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// captureOracle records requests without delivering, so tests drive
// OnRandomnessDelivered explicitly.
type captureOracle struct {
	calls int
	count int
	seed  uint64
}

func (c *captureOracle) Request(count int, seed uint64) (string, error) {
	c.calls++
	c.count = count
	c.seed = seed
	return "req-test", nil
}

func newTestRegistry(orc oracle.RandomnessOracle) (*Registry, *treasury.InMemory) {
	treas := treasury.NewInMemory(fixedpoint.ToFixed(100_000))
	reg := New(Config{
		Treasury:          treas,
		Oracle:            orc,
		SeedFunding:       fixedpoint.ToFixed(10_000),
		InitialYSupply:    2_349,
		InitialHeight:     fixedpoint.ToFixed(1),
		TradeFeeBP:        0,
		DefaultStartDelay: time.Hour,
		HeightRule:        HeightSqrtProduct,
	})
	return reg, treas
}

func TestCreatePoolValidation(t *testing.T) {
	reg, treas := newTestRegistry(&captureOracle{})
	before := treas.GetBalance()

	cases := []struct {
		name      string
		ticker    uint8
		threshold uint16
		delay     time.Duration
		wantErr   error
	}{
		{"invalid ticker", 7, types.DefaultThresholdBP, 0, types.ErrInvalidTickerDuration},
		{"zero threshold", types.TickerFast, 0, 0, types.ErrInvalidThreshold},
		{"threshold too high", types.TickerFast, types.MaxThresholdBP + 1, 0, types.ErrInvalidThreshold},
		{"delay too long", types.TickerFast, types.DefaultThresholdBP, 25 * time.Hour, types.ErrInvalidDelay},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.CreatePool(tc.ticker, tc.threshold, tc.delay, launchTime)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	// Rejections happen before any funding or registration.
	assert.Empty(t, reg.ActivePools())
	assert.Equal(t, before.String(), treas.GetBalance().String())
}

func TestCreatePoolInsufficientFunding(t *testing.T) {
	treas := treasury.NewInMemory(fixedpoint.ToFixed(15_000))
	reg := New(Config{
		Treasury:       treas,
		Oracle:         &captureOracle{},
		SeedFunding:    fixedpoint.ToFixed(10_000),
		InitialYSupply: 2_349,
		InitialHeight:  fixedpoint.ToFixed(1),
	})

	// 15k covers one seed but not the next round's, so creation refuses.
	_, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	assert.ErrorIs(t, err, types.ErrInsufficientFunding)
	assert.Empty(t, reg.ActivePools())
	assert.Equal(t, fixedpoint.ToFixed(15_000).String(), treas.GetBalance().String())
}

func TestCreatePoolSeedsReserves(t *testing.T) {
	reg, treas := newTestRegistry(&captureOracle{})

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	require.NoError(t, err)
	assert.Equal(t, types.PoolID(1), id)
	assert.Equal(t, []types.PoolID{1}, reg.ActivePools())
	assert.Equal(t, fixedpoint.ToFixed(90_000).String(), treas.GetBalance().String())

	p, err := reg.Pool(id)
	require.NoError(t, err)
	snap := p.Snapshot(launchTime)
	assert.Equal(t, fixedpoint.ToFixed(10_000).String(), snap.XReserve.String())
	assert.Equal(t, fixedpoint.ToFixed(2_349).String(), snap.YReserve.String())
	assert.Equal(t, uint64(288), snap.Params.CandleCount)
	assert.Equal(t, types.Active.String(), snap.State)

	// First round's height: sqrt(1) * sqrt(288) in fixed-point.
	h, ok := reg.HeightFor(id)
	require.True(t, ok)
	assert.Equal(t, "1697056274", h.String())
	assert.Equal(t, h.String(), reg.CurrentHeight().String())
}

func TestChainingGraceWindow(t *testing.T) {
	reg, _ := newTestRegistry(&captureOracle{})

	_, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	require.NoError(t, err)

	// 13h past the predecessor's end breaks the 12h grace window.
	_, err = reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 13*time.Hour, launchTime)
	assert.ErrorIs(t, err, types.ErrInvalidTiming)
}

func TestFirstRoundAllowsFullCreateDelay(t *testing.T) {
	reg, _ := newTestRegistry(&captureOracle{})

	// Without a predecessor the grace window does not apply; the full 24h
	// creation delay is legal.
	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 24*time.Hour, launchTime)
	require.NoError(t, err)

	p, err := reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, launchTime.Add(24*time.Hour), p.Snapshot(launchTime).StartTime)
	assert.Equal(t, types.Scheduled.String(), p.Snapshot(launchTime).State)
}

func TestFirstPoolIDContinuity(t *testing.T) {
	reg, _ := newTestRegistry(&captureOracle{})
	reg.cfg.FirstPoolID = 41
	reg.nextPoolID = 41

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	require.NoError(t, err)
	assert.Equal(t, types.PoolID(41), id)
}

func TestHeightRecurrenceRules(t *testing.T) {
	sqrtL := fixedpoint.SqrtFixed(fixedpoint.ToFixed(288))

	t.Run("sqrt product", func(t *testing.T) {
		reg, _ := newTestRegistry(&captureOracle{})
		h1 := reg.nextHeight(288)
		assert.Equal(t, "1697056274", h1.String())

		reg.currentHeight = h1
		h2 := reg.nextHeight(288)
		assert.Equal(t, fixedpoint.MulFixed(fixedpoint.SqrtFixed(h1), sqrtL).String(), h2.String())
	})

	t.Run("additive", func(t *testing.T) {
		reg, _ := newTestRegistry(&captureOracle{})
		reg.cfg.HeightRule = HeightAdditive
		h1 := reg.nextHeight(288)
		assert.Equal(t, "1797056274", h1.String())

		reg.currentHeight = h1
		h2 := reg.nextHeight(288)
		assert.Equal(t, fixedpoint.SafeAdd(h1, sqrtL).String(), h2.String())
	})

	t.Run("multiplicative", func(t *testing.T) {
		reg, _ := newTestRegistry(&captureOracle{})
		reg.cfg.HeightRule = HeightMultiplicative
		h1 := reg.nextHeight(288)
		// H * sqrt(L) with H=1 collapses to sqrt(L).
		assert.Equal(t, sqrtL.String(), h1.String())

		reg.currentHeight = h1
		h2 := reg.nextHeight(288)
		assert.Equal(t, fixedpoint.MulFixed(h1, sqrtL).String(), h2.String())
	})
}

func TestCompletePoolErrors(t *testing.T) {
	reg, _ := newTestRegistry(&captureOracle{})

	assert.ErrorIs(t, reg.CompletePool(99, launchTime), types.ErrPoolNotFound)

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	require.NoError(t, err)

	// Still trading: finalize refuses and the round stays active.
	err = reg.CompletePool(id, launchTime.Add(time.Hour))
	assert.ErrorIs(t, err, types.ErrPoolNotYetEnded)
	assert.Equal(t, []types.PoolID{id}, reg.ActivePools())
}

func TestCompleteWithWinnerChainsSuccessor(t *testing.T) {
	reg, treas := newTestRegistry(&captureOracle{})

	id, err := reg.CreatePool(types.TickerFast, types.MaxThresholdBP, 0, launchTime)
	require.NoError(t, err)

	// Alice's curve-tracking trade makes her the winner, proposing a
	// 2h delay and 10-minute candles for the next round.
	p, err := reg.Pool(id)
	require.NoError(t, err)
	_, err = p.Trade("alice", 1, types.Buy, 2*time.Hour, types.TickerMedium, launchTime.Add(time.Minute))
	require.NoError(t, err)

	prevEnd := p.EndTime()
	now := prevEnd.Add(time.Minute)
	require.NoError(t, reg.CompletePool(id, now))

	outcome, ok := reg.Outcome(id)
	require.True(t, ok)
	require.NotNil(t, outcome.Winner)
	assert.Equal(t, types.Address("alice"), *outcome.Winner)

	// The successor carries the winner's proposals and chains off the
	// predecessor's end, not off wall-clock time.
	assert.Equal(t, []types.PoolID{2}, reg.ActivePools())
	succ, err := reg.Pool(2)
	require.NoError(t, err)
	snap := succ.Snapshot(now)
	assert.Equal(t, types.TickerMedium, snap.Params.TickerMinutes)
	assert.Equal(t, uint64(144), snap.Params.CandleCount)
	assert.Equal(t, types.MaxThresholdBP, snap.Params.ThresholdBP)
	assert.Equal(t, prevEnd.Add(2*time.Hour), snap.StartTime)

	// Two rounds seeded.
	assert.Equal(t, fixedpoint.ToFixed(80_000).String(), treas.GetBalance().String())

	// Height advanced one more recurrence step.
	h2, ok := reg.HeightFor(2)
	require.True(t, ok)
	h1, _ := reg.HeightFor(id)
	assert.Equal(t, fixedpoint.MulFixed(
		fixedpoint.SqrtFixed(h1),
		fixedpoint.SqrtFixed(fixedpoint.ToFixed(144)),
	).String(), h2.String())
}

func TestLockedPoolDefersToRandomness(t *testing.T) {
	orc := &captureOracle{}
	reg, _ := newTestRegistry(orc)

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	require.NoError(t, err)
	p, err := reg.Pool(id)
	require.NoError(t, err)

	lockedAt := launchTime.Add(time.Hour)
	require.NoError(t, p.Lock("aggregate deviation breach", lockedAt))

	// A locked round completes before its natural expiry.
	require.NoError(t, reg.CompletePool(id, lockedAt))

	assert.Equal(t, 1, orc.calls)
	assert.Equal(t, 2, orc.count)
	assert.Equal(t, uint64(id), orc.seed)
	assert.Empty(t, reg.ActivePools())
	assert.Equal(t, []types.PoolID{id}, reg.PendingRandomness())

	outcome, ok := reg.Outcome(id)
	require.True(t, ok)
	assert.True(t, outcome.WasLocked)
	assert.Nil(t, outcome.Winner)

	// A short delivery is rejected as invalid without consuming the
	// pending request.
	err = reg.OnRandomnessDelivered(id, []uint64{1}, lockedAt.Add(time.Second))
	assert.ErrorIs(t, err, types.ErrInvalidRandomness)
	assert.Equal(t, []types.PoolID{id}, reg.PendingRandomness())

	// values[0]%3 == 1 selects the 10-minute ticker; 590 + values[1]%201
	// lands on the 690bp default.
	require.NoError(t, reg.OnRandomnessDelivered(id, []uint64{4, 100}, lockedAt.Add(time.Second)))
	assert.Empty(t, reg.PendingRandomness())

	require.Equal(t, []types.PoolID{2}, reg.ActivePools())
	succ, err := reg.Pool(2)
	require.NoError(t, err)
	snap := succ.Snapshot(lockedAt)
	assert.Equal(t, types.TickerMedium, snap.Params.TickerMinutes)
	assert.Equal(t, uint16(690), snap.Params.ThresholdBP)
	// Scheduled start was fixed at request time: predecessor end plus the
	// default delay.
	assert.Equal(t, p.EndTime().Add(time.Hour), snap.StartTime)

	// The pending request is consumed exactly once.
	err = reg.OnRandomnessDelivered(id, []uint64{4, 100}, lockedAt.Add(2*time.Second))
	assert.ErrorIs(t, err, types.ErrNoPendingRequest)
	assert.Equal(t, []types.PoolID{2}, reg.ActivePools())
}

// flakyOracle fails requests until told otherwise.
type flakyOracle struct {
	fail  bool
	calls int
}

func (f *flakyOracle) Request(count int, seed uint64) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("oracle unavailable")
	}
	return "req-retry", nil
}

func TestRetryRandomnessAfterRequestFailure(t *testing.T) {
	orc := &flakyOracle{fail: true}
	reg, _ := newTestRegistry(orc)

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	require.NoError(t, err)
	p, err := reg.Pool(id)
	require.NoError(t, err)

	lockedAt := launchTime.Add(time.Hour)
	require.NoError(t, p.Lock("aggregate deviation breach", lockedAt))

	// The round completes even though the oracle request fails; the
	// pending entry survives for a later retry.
	require.Error(t, reg.CompletePool(id, lockedAt))
	assert.Equal(t, 1, orc.calls)
	assert.Equal(t, []types.PoolID{id}, reg.PendingRandomness())

	// Completion is not the re-request path: the round already left the
	// active set.
	assert.ErrorIs(t, reg.CompletePool(id, lockedAt), types.ErrPoolNotActive)

	orc.fail = false
	require.NoError(t, reg.RetryRandomness(id))
	assert.Equal(t, 2, orc.calls)

	// An outstanding request is left alone.
	require.NoError(t, reg.RetryRandomness(id))
	assert.Equal(t, 2, orc.calls)

	// The retried request is consumable as usual.
	require.NoError(t, reg.OnRandomnessDelivered(id, []uint64{0, 0}, lockedAt.Add(time.Minute)))
	assert.Empty(t, reg.PendingRandomness())
	assert.Equal(t, []types.PoolID{2}, reg.ActivePools())

	// Nothing pending, nothing to retry.
	assert.ErrorIs(t, reg.RetryRandomness(id), types.ErrNoPendingRequest)
	assert.ErrorIs(t, reg.RetryRandomness(99), types.ErrNoPendingRequest)
}

func TestUnknownRandomnessDeliveryRejected(t *testing.T) {
	reg, _ := newTestRegistry(&captureOracle{})
	err := reg.OnRandomnessDelivered(42, []uint64{1, 2}, launchTime)
	assert.ErrorIs(t, err, types.ErrNoPendingRequest)
}

func TestSynchronousOracleDelivery(t *testing.T) {
	rng := oracle.NewLocal(nil)
	reg, _ := newTestRegistry(rng)
	rng.SetDelivery(func(requestID string, seed uint64, values []uint64) {
		err := reg.OnRandomnessDelivered(types.PoolID(seed), values, launchTime.Add(2*time.Hour))
		require.NoError(t, err)
	})

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, launchTime)
	require.NoError(t, err)
	p, err := reg.Pool(id)
	require.NoError(t, err)

	require.NoError(t, p.Lock("aggregate deviation breach", launchTime.Add(time.Hour)))
	require.NoError(t, reg.CompletePool(id, launchTime.Add(time.Hour)))

	// The local oracle answers inside CompletePool: the successor exists
	// and nothing is left pending.
	assert.Empty(t, reg.PendingRandomness())
	require.Equal(t, []types.PoolID{2}, reg.ActivePools())

	succ, err := reg.Pool(2)
	require.NoError(t, err)
	params := succ.Params()
	assert.True(t, types.ValidTickerDuration(params.TickerMinutes))
	assert.True(t, types.ValidThreshold(params.ThresholdBP))
}

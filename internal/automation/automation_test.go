package automation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisispalash/tits-dot-fun/internal/fixedpoint"
	"github.com/thisispalash/tits-dot-fun/internal/registry"
	"github.com/thisispalash/tits-dot-fun/internal/treasury"
	"github.com/thisispalash/tits-dot-fun/internal/types"
)

var cycleStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type stubOracle struct {
	fail  bool
	calls int
}

func (s *stubOracle) Request(count int, seed uint64) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New("oracle unavailable")
	}
	return "req-test", nil
}

func newRegistry(orc *stubOracle) *registry.Registry {
	return registry.New(registry.Config{
		Treasury:          treasury.NewInMemory(fixedpoint.ToFixed(100_000)),
		Oracle:            orc,
		SeedFunding:       fixedpoint.ToFixed(10_000),
		InitialYSupply:    2_349,
		InitialHeight:     fixedpoint.ToFixed(1),
		DefaultStartDelay: time.Hour,
	})
}

func TestRunCycleCompletesExpiredPool(t *testing.T) {
	reg := newRegistry(&stubOracle{})
	runner := NewRunner(reg, false)

	id, err := reg.CreatePool(types.TickerFast, types.MaxThresholdBP, 0, cycleStart)
	require.NoError(t, err)
	p, err := reg.Pool(id)
	require.NoError(t, err)
	_, err = p.Trade("alice", 1, types.Buy, time.Hour, types.TickerFast, cycleStart.Add(time.Minute))
	require.NoError(t, err)

	// Mid-window: nothing to do.
	runner.RunCycle(cycleStart.Add(10 * time.Minute))
	assert.Equal(t, []types.PoolID{id}, reg.ActivePools())

	// Past expiry: the round completes and its winner-chosen successor
	// launches.
	runner.RunCycle(cycleStart.Add(24*time.Hour + time.Minute))
	assert.Equal(t, []types.PoolID{2}, reg.ActivePools())

	outcome, ok := reg.Outcome(id)
	require.True(t, ok)
	require.NotNil(t, outcome.Winner)
	assert.Equal(t, types.Address("alice"), *outcome.Winner)
}

func TestRunCycleLocksOnAggregateBreach(t *testing.T) {
	orc := &stubOracle{}
	reg := newRegistry(orc)
	runner := NewRunner(reg, false)

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, cycleStart)
	require.NoError(t, err)
	p, err := reg.Pool(id)
	require.NoError(t, err)

	// Alice tracks the curve; bob's oversized trade lands inside the same
	// candle, so the per-trade check never judges it. The aggregate mean
	// across both traders still dwarfs the threshold.
	_, err = p.Trade("alice", 1, types.Buy, time.Hour, types.TickerFast, cycleStart.Add(time.Minute))
	require.NoError(t, err)
	_, err = p.Trade("bob", 200, types.Buy, time.Hour, types.TickerFast, cycleStart.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, types.Active.String(), p.Snapshot(cycleStart.Add(3*time.Minute)).State)

	runner.RunCycle(cycleStart.Add(10 * time.Minute))

	outcome, ok := reg.Outcome(id)
	require.True(t, ok)
	assert.True(t, outcome.WasLocked)
	assert.Nil(t, outcome.Winner)

	// A locked round defers its successor to oracle randomness.
	assert.Empty(t, reg.ActivePools())
	assert.Equal(t, []types.PoolID{id}, reg.PendingRandomness())
	assert.Equal(t, 1, orc.calls)
}

func TestRunCycleRetriesStalledRandomness(t *testing.T) {
	orc := &stubOracle{fail: true}
	reg := newRegistry(orc)
	runner := NewRunner(reg, false)

	id, err := reg.CreatePool(types.TickerFast, types.DefaultThresholdBP, 0, cycleStart)
	require.NoError(t, err)
	p, err := reg.Pool(id)
	require.NoError(t, err)
	require.NoError(t, p.Lock("aggregate deviation breach", cycleStart.Add(time.Hour)))

	// First cycle: completion's request fails, and so does the same
	// cycle's retry. The pending entry survives.
	runner.RunCycle(cycleStart.Add(time.Hour))
	assert.Equal(t, 2, orc.calls)
	assert.Equal(t, []types.PoolID{id}, reg.PendingRandomness())

	// Oracle recovers: the next cycle re-issues the request once.
	orc.fail = false
	runner.RunCycle(cycleStart.Add(time.Hour + time.Minute))
	assert.Equal(t, 3, orc.calls)
	assert.Equal(t, []types.PoolID{id}, reg.PendingRandomness())

	// With a request outstanding, further cycles leave it alone.
	runner.RunCycle(cycleStart.Add(time.Hour + 2*time.Minute))
	assert.Equal(t, 3, orc.calls)
}

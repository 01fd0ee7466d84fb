/*

Automation is the scheduled caller the core assumes exists: it polls the
registry, locks pools whose aggregated deviation breached the threshold,
completes pools whose window expired (or that locked mid-round), and
persists outcomes. The core itself never spawns timers; this layer owns all
clocks.

*/

package automation

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thisispalash/tits-dot-fun/internal/fixedpoint"
	"github.com/thisispalash/tits-dot-fun/internal/logger"
	"github.com/thisispalash/tits-dot-fun/internal/pool"
	"github.com/thisispalash/tits-dot-fun/internal/registry"
	"github.com/thisispalash/tits-dot-fun/internal/state"
	"github.com/thisispalash/tits-dot-fun/internal/types"
)

// Runner drives the pool lifecycle on a schedule.
type Runner struct {
	registry *registry.Registry
	persist  bool // write outcomes/heights through internal/state
	logger   zerolog.Logger
}

// NewRunner creates a lifecycle runner. persist controls whether outcomes
// are written to the database.
func NewRunner(reg *registry.Registry, persist bool) *Runner {
	return &Runner{
		registry: reg,
		persist:  persist,
		logger:   logger.GetForComponent("automation"),
	}
}

// RunLoop polls the registry until the context is cancelled. The first
// cycle runs immediately.
func (r *Runner) RunLoop(ctx context.Context, interval time.Duration) {
	r.logger.Info().Dur("interval", interval).Msg("Starting automation loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.RunCycle(time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Automation loop stopped due to context cancellation")
			return
		case <-ticker.C:
			r.RunCycle(time.Now().UTC())
		}
	}
}

// RunCycle inspects every active pool once and applies any due lifecycle
// transition.
func (r *Runner) RunCycle(now time.Time) {
	cycleLogger := r.logger.With().Str("cycle_id", uuid.New().String()).Logger()

	for _, id := range r.registry.ActivePools() {
		p, err := r.registry.Pool(id)
		if err != nil {
			continue
		}

		st := p.State(now)

		// Offline aggregate check: whole-pool mean deviation, judged
		// against the same threshold as the per-candle trade check.
		if st == types.Active {
			if r.aggregateDeviationBreached(p.Snapshot(now)) {
				if err := p.Lock("aggregate deviation breach", now); err == nil {
					cycleLogger.Warn().Uint64("pool_id", uint64(id)).Msg("Pool locked by aggregate deviation check")
					st = types.Locked
				}
			}
		}

		if st != types.Locked && now.Before(p.EndTime()) {
			continue
		}

		if err := r.registry.CompletePool(id, now); err != nil {
			cycleLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Failed to complete pool")
			continue
		}
		cycleLogger.Info().Uint64("pool_id", uint64(id)).Msg("Pool completed")

		if r.persist {
			r.persistOutcome(id, now, cycleLogger)
		}
	}

	// Re-issue oracle requests for rounds whose original request failed.
	// Rounds already awaiting delivery are skipped by the registry.
	for _, id := range r.registry.PendingRandomness() {
		if err := r.registry.RetryRandomness(id); err != nil {
			cycleLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Randomness retry failed")
		}
	}
}

// aggregateDeviationBreached computes the pool-wide mean deviation across
// all traders and compares it to the pool's threshold.
func (r *Runner) aggregateDeviationBreached(snap pool.Snapshot) bool {
	total := sdkmath.ZeroInt()
	var trades uint64
	for _, s := range snap.TraderScores {
		total = fixedpoint.SafeAdd(total, s.TotalDeviationBP)
		trades += s.TradeCount
	}
	if trades == 0 {
		return false
	}
	mean := fixedpoint.SafeDiv(total, sdkmath.NewIntFromUint64(trades))
	return mean.GT(sdkmath.NewIntFromUint64(uint64(snap.Params.ThresholdBP)))
}

func (r *Runner) persistOutcome(id types.PoolID, now time.Time, cycleLogger zerolog.Logger) {
	outcome, ok := r.registry.Outcome(id)
	if !ok {
		return
	}
	if err := state.SavePoolOutcome(outcome, now); err != nil {
		cycleLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Failed to persist pool outcome")
	}
	if height, ok := r.registry.HeightFor(id); ok {
		if err := state.SaveHeight(id, height); err != nil {
			cycleLogger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Failed to persist height")
		}
	}
	// Heights of pools created as successors are persisted when those
	// pools themselves complete.
}

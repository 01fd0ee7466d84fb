/*

Pool is the central state machine of the protocol: one 24h trading round of
the native asset against the round's pool token, tracked against the bonded
reference curve. Reserves move in continuous time through the constant
product formula; deviation against the curve is evaluated in discrete candle
time. The trader whose deviations average lowest is the live provisional
winner; a per-candle deviation above the threshold locks the pool and burns
its reserves.

All mutations serialize on one mutex per pool instance. Guard failures are
rejected before any reserve or ledger mutation.

*/

package pool

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/thisispalash/tits-dot-fun/internal/events"
	"github.com/thisispalash/tits-dot-fun/internal/fixedpoint"
	"github.com/thisispalash/tits-dot-fun/internal/logger"
	"github.com/thisispalash/tits-dot-fun/internal/treasury"
	"github.com/thisispalash/tits-dot-fun/internal/types"
)

// Config carries everything a pool needs at creation. Reserves are
// fixed-point and must be strictly positive.
type Config struct {
	ID        types.PoolID
	Params    types.CurveParams
	StartTime time.Time
	XReserve  sdkmath.Int
	YReserve  sdkmath.Int
	FeeBP     uint16
	Treasury  treasury.Treasury
	Notifier  events.Notifier // optional
}

// Pool is one trading round. Create via New; mutate only through Trade,
// Lock and Finalize.
type Pool struct {
	mu sync.Mutex

	id        types.PoolID
	params    types.CurveParams
	startTime time.Time
	endTime   time.Time

	xReserve sdkmath.Int
	yReserve sdkmath.Int

	isLocked    bool
	isFinalized bool
	lockReason  string

	totalTrades uint64
	totalVolume uint64

	scores      map[types.Address]*types.TraderScore
	traderOrder []types.Address // insertion order, for deterministic winner search

	currentWinner      *types.Address
	winnerDelay        time.Duration
	winnerCandleSize   uint8
	lastScoredCandle   int64 // deviation is evaluated once per candle
	feeBP              uint16

	treasury treasury.Treasury
	notifier events.Notifier
	logger   zerolog.Logger
}

// New creates a pool in the Scheduled state. Fails if either reserve is not
// strictly positive.
func New(cfg Config) (*Pool, error) {
	if cfg.XReserve.IsNil() || !cfg.XReserve.IsPositive() ||
		cfg.YReserve.IsNil() || !cfg.YReserve.IsPositive() {
		return nil, types.ErrZeroReserves
	}
	if !types.ValidTickerDuration(cfg.Params.TickerMinutes) {
		return nil, types.ErrInvalidTickerDuration
	}
	if !types.ValidThreshold(cfg.Params.ThresholdBP) {
		return nil, types.ErrInvalidThreshold
	}

	p := &Pool{
		id:               cfg.ID,
		params:           cfg.Params,
		startTime:        cfg.StartTime,
		endTime:          cfg.StartTime.Add(types.PoolDuration),
		xReserve:         cfg.XReserve,
		yReserve:         cfg.YReserve,
		scores:           make(map[types.Address]*types.TraderScore),
		lastScoredCandle: -1,
		feeBP:            cfg.FeeBP,
		treasury:         cfg.Treasury,
		notifier:         cfg.Notifier,
		logger:           logger.GetForComponent("pool").With().Uint64("pool_id", uint64(cfg.ID)).Logger(),
	}

	p.logger.Info().
		Time("start", p.startTime).
		Time("end", p.endTime).
		Uint64("candles", p.params.CandleCount).
		Uint16("threshold_bp", p.params.ThresholdBP).
		Msg("Pool created")
	return p, nil
}

// ID returns the registry-assigned pool id.
func (p *Pool) ID() types.PoolID { return p.id }

// Params returns the immutable curve configuration.
func (p *Pool) Params() types.CurveParams { return p.params }

// EndTime returns the natural expiry of the trading window.
func (p *Pool) EndTime() time.Time { return p.endTime }

// State reports the lifecycle state as of now.
func (p *Pool) State(now time.Time) types.PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(now)
}

func (p *Pool) stateLocked(now time.Time) types.PoolState {
	switch {
	case p.isLocked:
		return types.Locked
	case p.isFinalized:
		return types.Completed
	case now.Before(p.startTime):
		return types.Scheduled
	default:
		return types.Active
	}
}

// Trade executes one swap at the given timestamp. quantity is a regular
// (unscaled) amount of the input asset; proposedDelay and proposedCandleSize
// are the trader's choices for the successor round, recorded in their ledger
// entry and applied whenever they hold the provisional lead.
func (p *Pool) Trade(trader types.Address, quantity uint64, side types.Side, proposedDelay time.Duration, proposedCandleSize uint8, at time.Time) (types.TradeReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Structural guards: no state is touched until all pass.
	if p.isLocked || p.isFinalized {
		return types.TradeReceipt{}, types.ErrPoolNotTradeable
	}
	if at.Before(p.startTime) || at.After(p.endTime) {
		return types.TradeReceipt{}, types.ErrPoolNotTradeable
	}
	if proposedDelay < 0 || proposedDelay > types.MaxStartDelay {
		return types.TradeReceipt{}, types.ErrInvalidDelay
	}
	if !types.ValidTickerDuration(proposedCandleSize) {
		return types.TradeReceipt{}, types.ErrInvalidCandleSize
	}
	if quantity == 0 {
		return types.TradeReceipt{}, types.ErrZeroQuantity
	}
	if p.xReserve.IsZero() || p.yReserve.IsZero() {
		return types.TradeReceipt{}, types.ErrZeroReserves
	}

	qty := fixedpoint.ToFixed(quantity)
	fee := fixedpoint.SafeDiv(
		fixedpoint.SafeMul(qty, sdkmath.NewIntFromUint64(uint64(p.feeBP))),
		fixedpoint.BasisPointDenom,
	)
	netIn := fixedpoint.SafeSub(qty, fee)

	var inReserve, outReserve sdkmath.Int
	if side == types.Buy {
		inReserve, outReserve = p.xReserve, p.yReserve
	} else {
		inReserve, outReserve = p.yReserve, p.xReserve
	}

	amountOut := fixedpoint.AMMOut(netIn, inReserve, outReserve)
	if amountOut.IsZero() {
		// Input too small to move the pool at the current depth.
		return types.TradeReceipt{}, types.ErrZeroQuantity
	}

	candleIdx := p.candleIndex(at)
	expected := fixedpoint.CurveY(
		sdkmath.NewInt(candleIdx+1), // next-candle expectation
		p.params.Height,
		sdkmath.NewIntFromUint64(p.params.CandleCount),
	)
	deviation := fixedpoint.DeviationBP(amountOut, expected)
	newCandle := candleIdx > p.lastScoredCandle

	// Guards passed: apply the reserve mutation. From here the trade is
	// committed and cannot be rolled back.
	if side == types.Buy {
		p.xReserve = fixedpoint.SafeAdd(p.xReserve, netIn)
		p.yReserve = fixedpoint.SafeSub(p.yReserve, amountOut)
	} else {
		p.yReserve = fixedpoint.SafeAdd(p.yReserve, netIn)
		p.xReserve = fixedpoint.SafeSub(p.xReserve, amountOut)
	}
	p.totalTrades++
	p.totalVolume += quantity

	if p.treasury != nil && fee.IsPositive() {
		p.treasury.Deposit(fee)
	}

	p.recordDeviation(trader, quantity, deviation, proposedDelay, proposedCandleSize, at)
	p.refreshWinner()

	receipt := types.TradeReceipt{
		PoolID:      p.id,
		Trader:      trader,
		Side:        side,
		AmountOut:   amountOut,
		DeviationBP: deviation,
		CandleIndex: uint64(candleIdx),
		NewCandle:   newCandle,
		FeePaid:     fee,
	}

	// Deviation is only judged against the threshold once per candle.
	if newCandle {
		p.lastScoredCandle = candleIdx
		threshold := sdkmath.NewIntFromUint64(uint64(p.params.ThresholdBP))
		if deviation.GT(threshold) {
			p.lockLocked("deviation threshold breached", at)
		}
	}

	p.logger.Debug().
		Str("trader", string(trader)).
		Str("side", side.String()).
		Uint64("quantity", quantity).
		Str("amount_out", amountOut.String()).
		Str("deviation_bp", deviation.String()).
		Int64("candle", candleIdx).
		Msg("Trade executed")

	return receipt, nil
}

// candleIndex maps a timestamp to its discrete candle, clamped to the final
// candle of the window.
func (p *Pool) candleIndex(at time.Time) int64 {
	elapsed := at.Sub(p.startTime)
	idx := int64(elapsed / p.params.CandleDuration())
	if max := int64(p.params.CandleCount) - 1; idx > max {
		idx = max
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// recordDeviation folds one observed deviation into the trader's ledger
// entry. The running score is the arithmetic mean of all deviations so far;
// the trader's successor proposals track their latest trade.
func (p *Pool) recordDeviation(trader types.Address, quantity uint64, deviation sdkmath.Int, proposedDelay time.Duration, proposedCandleSize uint8, at time.Time) {
	score, ok := p.scores[trader]
	if !ok {
		score = &types.TraderScore{
			Trader:           trader,
			TotalDeviationBP: sdkmath.ZeroInt(),
			RunningScoreBP:   sdkmath.ZeroInt(),
		}
		p.scores[trader] = score
		p.traderOrder = append(p.traderOrder, trader)
	}

	score.TotalDeviationBP = fixedpoint.SafeAdd(score.TotalDeviationBP, deviation)
	score.TradeCount++
	score.Volume += quantity
	score.RunningScoreBP = fixedpoint.SafeDiv(score.TotalDeviationBP, sdkmath.NewIntFromUint64(score.TradeCount))
	score.ProposedDelay = proposedDelay
	score.ProposedCandleSize = proposedCandleSize
	score.LastUpdated = at
}

// bestTrader returns the trader with the lowest running score, ties broken
// by the most recent update. Iteration follows insertion order so the result
// is deterministic.
func (p *Pool) bestTrader() *types.TraderScore {
	var best *types.TraderScore
	for _, addr := range p.traderOrder {
		s := p.scores[addr]
		if best == nil ||
			s.RunningScoreBP.LT(best.RunningScoreBP) ||
			(s.RunningScoreBP.Equal(best.RunningScoreBP) && s.LastUpdated.After(best.LastUpdated)) {
			best = s
		}
	}
	return best
}

// refreshWinner re-derives the provisional winner after a trade. The pool's
// successor proposals always mirror the leading trader's own latest choices,
// including when the lead reverts to a trader whose last trade is older; a
// change of leader is published to subscribers.
func (p *Pool) refreshWinner() {
	best := p.bestTrader()
	if best == nil {
		return
	}

	p.winnerDelay = best.ProposedDelay
	p.winnerCandleSize = best.ProposedCandleSize

	if p.currentWinner != nil && *p.currentWinner == best.Trader {
		return
	}

	winner := best.Trader
	p.currentWinner = &winner

	p.logger.Info().
		Str("trader", string(winner)).
		Str("score_bp", best.RunningScoreBP.String()).
		Msg("New provisional winner")

	if p.notifier != nil {
		p.notifier.Publish(types.PoolEvent{
			Type:    "new_winner",
			PoolID:  p.id,
			Trader:  winner,
			ScoreBP: best.RunningScoreBP,
		})
	}
}

// Lock forces the pool into the terminal Locked state, independent of the
// per-candle trade check. Used when an aggregated offline deviation
// computation breaches the threshold.
func (p *Pool) Lock(reason string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isLocked {
		return types.ErrAlreadyLocked
	}
	if p.isFinalized {
		return types.ErrPoolFinalized
	}
	p.lockLocked(reason, at)
	return nil
}

// lockLocked performs the terminal transition. Caller holds the mutex.
// Remaining native reserve routes to the treasury; the pool-token reserve is
// burned outright.
func (p *Pool) lockLocked(reason string, at time.Time) {
	p.isLocked = true
	p.lockReason = reason

	if p.treasury != nil && p.xReserve.IsPositive() {
		p.treasury.Deposit(p.xReserve)
	}
	p.xReserve = sdkmath.ZeroInt()
	p.yReserve = sdkmath.ZeroInt()

	p.logger.Warn().
		Str("reason", reason).
		Time("at", at).
		Msg("Pool locked, reserves burned")

	if p.notifier != nil {
		p.notifier.Publish(types.PoolEvent{
			Type:   "locked",
			PoolID: p.id,
			Reason: reason,
		})
	}
}

// Finalize closes the round and reports its outcome. Valid once the window
// has expired, or immediately after a lock. Calling it twice fails with
// ErrPoolFinalized and mutates nothing.
func (p *Pool) Finalize(at time.Time) (types.PoolOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isFinalized {
		return types.PoolOutcome{}, types.ErrPoolFinalized
	}
	if !p.isLocked && at.Before(p.endTime) {
		return types.PoolOutcome{}, types.ErrPoolNotYetEnded
	}

	// The live-tracked leader and a full re-selection agree by
	// construction; re-derive anyway, proposals included, so the outcome
	// never depends on update ordering.
	if best := p.bestTrader(); best != nil {
		winner := best.Trader
		p.currentWinner = &winner
		p.winnerDelay = best.ProposedDelay
		p.winnerCandleSize = best.ProposedCandleSize
	}

	p.isFinalized = true

	outcome := types.PoolOutcome{
		PoolID:             p.id,
		Winner:             p.currentWinner,
		WasLocked:          p.isLocked,
		TotalVolume:        p.totalVolume,
		TotalTrades:        p.totalTrades,
		Params:             p.params,
		ProposedDelay:      p.winnerDelay,
		ProposedCandleSize: p.winnerCandleSize,
	}
	if p.isLocked {
		// A locked round has no organic winner to parameterize the
		// successor.
		outcome.Winner = nil
	}

	p.logger.Info().
		Bool("was_locked", p.isLocked).
		Uint64("total_volume", p.totalVolume).
		Uint64("total_trades", p.totalTrades).
		Msg("Pool finalized")

	if p.notifier != nil {
		p.notifier.Publish(types.PoolEvent{
			Type:   "completed",
			PoolID: p.id,
		})
	}
	return outcome, nil
}

// Snapshot is a consistent read-only copy of the pool's observable state.
type Snapshot struct {
	ID            types.PoolID        `json:"id"`
	Params        types.CurveParams   `json:"params"`
	State         string              `json:"state"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       time.Time           `json:"end_time"`
	XReserve      sdkmath.Int         `json:"x_reserve"`
	YReserve      sdkmath.Int         `json:"y_reserve"`
	TotalTrades   uint64              `json:"total_trades"`
	TotalVolume   uint64              `json:"total_volume"`
	CurrentWinner *types.Address      `json:"current_winner,omitempty"`
	LockReason    string              `json:"lock_reason,omitempty"`
	TraderScores  []types.TraderScore `json:"trader_scores"`
}

// Snapshot returns the pool's state as of now.
func (p *Pool) Snapshot(now time.Time) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	scores := make([]types.TraderScore, 0, len(p.traderOrder))
	for _, addr := range p.traderOrder {
		scores = append(scores, *p.scores[addr])
	}

	return Snapshot{
		ID:            p.id,
		Params:        p.params,
		State:         p.stateLocked(now).String(),
		StartTime:     p.startTime,
		EndTime:       p.endTime,
		XReserve:      p.xReserve,
		YReserve:      p.yReserve,
		TotalTrades:   p.totalTrades,
		TotalVolume:   p.totalVolume,
		CurrentWinner: p.currentWinner,
		LockReason:    p.lockReason,
		TraderScores:  scores,
	}
}

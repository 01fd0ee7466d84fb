/*

Registry is the launcher orchestrating the chain of pool rounds: it
allocates ids, derives each round's curve height from the running height,
enforces the 24h-chain-plus-12h-grace timing rule, seeds reserves from the
treasury, and turns each round's outcome (winner-chosen or randomized) into
the next round's parameters. Randomness for winner-less rounds is consumed
exactly once through a stored continuation keyed by pool id.

There is no ambient global state: every Registry is an independent instance,
so tests and multi-chain deployments each own their own.

*/

package registry

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/thisispalash/tits-dot-fun/internal/events"
	"github.com/thisispalash/tits-dot-fun/internal/fixedpoint"
	"github.com/thisispalash/tits-dot-fun/internal/logger"
	"github.com/thisispalash/tits-dot-fun/internal/oracle"
	"github.com/thisispalash/tits-dot-fun/internal/pool"
	"github.com/thisispalash/tits-dot-fun/internal/treasury"
	"github.com/thisispalash/tits-dot-fun/internal/types"
)

// HeightRule selects the cross-round height recurrence. The protocol's
// canonical rule is the fixed-point sqrt product; the additive and
// multiplicative variants are retained as explicit configuration choices.
type HeightRule string

const (
	// HeightSqrtProduct: H' = sqrt(H) * sqrt(L).
	HeightSqrtProduct HeightRule = "sqrt"
	// HeightAdditive: H' = H + sqrt(L).
	HeightAdditive HeightRule = "add"
	// HeightMultiplicative: H' = H * sqrt(L).
	HeightMultiplicative HeightRule = "mul"
)

// Config wires a registry's collaborators and launch parameters.
type Config struct {
	Treasury treasury.Treasury
	Oracle   oracle.RandomnessOracle
	Notifier events.Notifier // optional

	// SeedFunding is the fixed-point native amount used to seed each
	// pool's x reserve. The treasury must hold at least twice this.
	SeedFunding sdkmath.Int

	// InitialYSupply is the regular (unscaled) pool-token supply minted
	// into each round's y reserve.
	InitialYSupply uint64

	// InitialHeight is the fixed-point curve height of the first round.
	InitialHeight sdkmath.Int

	// TradeFeeBP is the per-trade fee forwarded to the treasury.
	TradeFeeBP uint16

	// DefaultStartDelay schedules a randomized successor relative to its
	// predecessor's end when no winner chose a delay.
	DefaultStartDelay time.Duration

	// FirstPoolID seeds the id counter, for restart continuity against
	// persisted outcome history. Zero means start from 1.
	FirstPoolID types.PoolID

	HeightRule HeightRule
}

// pendingRequest is the stored continuation for a round awaiting oracle
// randomness. ScheduledStart is fixed when the request is issued and not
// recomputed at delivery time.
type pendingRequest struct {
	requestID      string
	scheduledStart time.Time
	prevEnd        time.Time
}

// Registry owns the pool chain. All registry-level state mutations hold one
// mutex, held briefly; individual pools serialize their own trades.
type Registry struct {
	mu sync.Mutex

	cfg Config

	pools     map[types.PoolID]*pool.Pool
	active    []types.PoolID
	completed map[types.PoolID]types.PoolOutcome

	nextPoolID    types.PoolID
	currentHeight sdkmath.Int
	heightHistory map[types.PoolID]sdkmath.Int

	pending map[types.PoolID]*pendingRequest

	logger zerolog.Logger
}

// New creates an empty registry. The first CreatePool call uses
// cfg.InitialHeight as the running height.
func New(cfg Config) *Registry {
	if cfg.HeightRule == "" {
		cfg.HeightRule = HeightSqrtProduct
	}
	if cfg.InitialHeight.IsNil() || !cfg.InitialHeight.IsPositive() {
		cfg.InitialHeight = fixedpoint.ToFixed(1)
	}
	if cfg.DefaultStartDelay <= 0 || cfg.DefaultStartDelay > types.MaxStartDelay {
		cfg.DefaultStartDelay = time.Hour
	}
	if cfg.FirstPoolID == 0 {
		cfg.FirstPoolID = 1
	}
	return &Registry{
		cfg:           cfg,
		pools:         make(map[types.PoolID]*pool.Pool),
		completed:     make(map[types.PoolID]types.PoolOutcome),
		nextPoolID:    cfg.FirstPoolID,
		currentHeight: cfg.InitialHeight,
		heightHistory: make(map[types.PoolID]sdkmath.Int),
		pending:       make(map[types.PoolID]*pendingRequest),
		logger:        logger.GetForComponent("registry"),
	}
}

// nextHeight advances the running height for a round with the given candle
// count, per the configured recurrence.
func (r *Registry) nextHeight(candleCount uint64) sdkmath.Int {
	l := fixedpoint.ToFixed(candleCount)
	sqrtL := fixedpoint.SqrtFixed(l)

	switch r.cfg.HeightRule {
	case HeightAdditive:
		return fixedpoint.SafeAdd(r.currentHeight, sqrtL)
	case HeightMultiplicative:
		return fixedpoint.MulFixed(r.currentHeight, sqrtL)
	default:
		return fixedpoint.MulFixed(fixedpoint.SqrtFixed(r.currentHeight), sqrtL)
	}
}

// CreatePool validates parameters, derives the round's curve params from the
// running height, seeds reserves from the treasury and registers the pool as
// active. startDelay is measured from the previous round's end (or from now
// for the first round).
func (r *Registry) CreatePool(tickerMinutes uint8, thresholdBP uint16, startDelay time.Duration, now time.Time) (types.PoolID, error) {
	if !types.ValidTickerDuration(tickerMinutes) {
		return 0, types.ErrInvalidTickerDuration
	}
	if !types.ValidThreshold(thresholdBP) {
		return 0, types.ErrInvalidThreshold
	}
	if startDelay < 0 || startDelay > types.MaxCreateDelay {
		return 0, types.ErrInvalidDelay
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createPoolLocked(tickerMinutes, thresholdBP, startDelay, now)
}

// createPoolLocked performs creation. Caller holds the registry mutex.
func (r *Registry) createPoolLocked(tickerMinutes uint8, thresholdBP uint16, startDelay time.Duration, now time.Time) (types.PoolID, error) {
	startTime := now.Add(startDelay)
	if prevEnd, ok := r.previousEndLocked(); ok {
		proposed := prevEnd.Add(startDelay)
		if proposed.After(prevEnd.Add(types.MaxStartDelay)) {
			return 0, types.ErrInvalidTiming
		}
		if proposed.After(now) {
			startTime = proposed
		} else {
			// The chain fell behind wall-clock time; never schedule a
			// round in the past.
			startTime = now
		}
	}

	// The treasury must be able to seed this round and still cover the
	// next one.
	required := fixedpoint.SafeMul(r.cfg.SeedFunding, sdkmath.NewInt(2))
	if r.cfg.Treasury.GetBalance().LT(required) {
		return 0, types.ErrInsufficientFunding
	}
	if err := r.cfg.Treasury.Fund(r.cfg.SeedFunding); err != nil {
		return 0, types.ErrInsufficientFunding
	}

	candleCount := types.CandleCountFor(tickerMinutes)
	height := r.nextHeight(candleCount)

	id := r.nextPoolID
	p, err := pool.New(pool.Config{
		ID: id,
		Params: types.CurveParams{
			Height:        height,
			CandleCount:   candleCount,
			TickerMinutes: tickerMinutes,
			ThresholdBP:   thresholdBP,
		},
		StartTime: startTime,
		XReserve:  r.cfg.SeedFunding,
		YReserve:  fixedpoint.ToFixed(r.cfg.InitialYSupply),
		FeeBP:     r.cfg.TradeFeeBP,
		Treasury:  r.cfg.Treasury,
		Notifier:  r.cfg.Notifier,
	})
	if err != nil {
		// Creation failed after funding: return the seed.
		r.cfg.Treasury.Deposit(r.cfg.SeedFunding)
		return 0, err
	}

	r.nextPoolID++
	r.currentHeight = height
	r.heightHistory[id] = height
	r.pools[id] = p
	r.active = append(r.active, id)

	r.logger.Info().
		Uint64("pool_id", uint64(id)).
		Uint8("ticker_minutes", tickerMinutes).
		Uint16("threshold_bp", thresholdBP).
		Str("height", height.String()).
		Time("start", startTime).
		Msg("Pool registered")

	if r.cfg.Notifier != nil {
		r.cfg.Notifier.Publish(types.PoolEvent{Type: "created", PoolID: id})
	}
	return id, nil
}

// previousEndLocked returns the end time of the most recent round, active or
// completed. Caller holds the mutex.
func (r *Registry) previousEndLocked() (time.Time, bool) {
	var last *pool.Pool
	for _, p := range r.pools {
		if last == nil || p.ID() > last.ID() {
			last = p
		}
	}
	if last == nil {
		return time.Time{}, false
	}
	return last.EndTime(), true
}

// CompletePool finalizes an active round and launches its successor. A round
// with an organic winner chains immediately with the winner's proposed
// parameters; a locked, winner-less round requests oracle randomness and
// defers creation until OnRandomnessDelivered.
func (r *Registry) CompletePool(id types.PoolID, now time.Time) error {
	r.mu.Lock()

	p, ok := r.pools[id]
	if !ok {
		r.mu.Unlock()
		return types.ErrPoolNotFound
	}
	if !r.isActiveLocked(id) {
		r.mu.Unlock()
		return types.ErrPoolNotActive
	}

	outcome, err := p.Finalize(now)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	r.removeActiveLocked(id)
	r.completed[id] = outcome

	if outcome.Winner != nil {
		// Winner-chosen successor.
		delay := outcome.ProposedDelay
		size := outcome.ProposedCandleSize
		if !types.ValidTickerDuration(size) {
			size = outcome.Params.TickerMinutes
		}
		_, err = r.createPoolLocked(size, outcome.Params.ThresholdBP, delay, now)
		r.mu.Unlock()
		return err
	}

	// No winner: defer to randomness. The scheduled start is fixed here,
	// at request time.
	prevEnd := p.EndTime()
	scheduled := prevEnd.Add(r.cfg.DefaultStartDelay)
	if scheduled.Before(now) {
		scheduled = now.Add(r.cfg.DefaultStartDelay)
	}
	req := &pendingRequest{scheduledStart: scheduled, prevEnd: prevEnd}
	r.pending[id] = req
	r.mu.Unlock()

	return r.requestRandomness(id)
}

// requestRandomness issues the oracle request for an already-stored pending
// entry. The oracle may deliver synchronously, so the registry mutex must be
// free by the time the delivery callback re-enters. On failure the pending
// entry is kept so RetryRandomness can re-issue the request.
func (r *Registry) requestRandomness(id types.PoolID) error {
	requestID, err := r.cfg.Oracle.Request(2, uint64(id))
	if err != nil {
		r.logger.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Randomness request failed")
		return err
	}

	r.mu.Lock()
	if pending, ok := r.pending[id]; ok {
		pending.requestID = requestID
	}
	r.mu.Unlock()

	r.logger.Info().
		Uint64("pool_id", uint64(id)).
		Str("request_id", requestID).
		Msg("Awaiting randomness for successor pool")
	return nil
}

// RetryRandomness re-issues the oracle request for a round whose original
// request failed. A round with an outstanding request is left alone; a round
// with no pending entry fails with ErrNoPendingRequest.
func (r *Registry) RetryRandomness(id types.PoolID) error {
	r.mu.Lock()
	req, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return types.ErrNoPendingRequest
	}
	if req.requestID != "" {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return r.requestRandomness(id)
}

// OnRandomnessDelivered consumes the pending request for a locked round and
// creates the randomized successor. Each pending request is consumed exactly
// once; replays fail with ErrNoPendingRequest and mutate nothing.
func (r *Registry) OnRandomnessDelivered(id types.PoolID, values []uint64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if !ok {
		return types.ErrNoPendingRequest
	}
	// A short payload is a validation failure, not a replay; the pending
	// request stays consumable by a well-formed delivery.
	if len(values) < 2 {
		return types.ErrInvalidRandomness
	}
	delete(r.pending, id)

	tickerMinutes := []uint8{types.TickerFast, types.TickerMedium, types.TickerSlow}[values[0]%3]
	// Threshold jitter: a 200bp band centred on the 690bp default.
	thresholdBP := uint16(590 + values[1]%201)

	// Honor the start scheduled at request time, expressed as a delay from
	// the predecessor's end so the chaining rule still applies.
	delay := req.scheduledStart.Sub(req.prevEnd)
	if delay < 0 {
		delay = 0
	}
	if delay > types.MaxStartDelay {
		delay = types.MaxStartDelay
	}

	r.logger.Info().
		Uint64("pool_id", uint64(id)).
		Uint8("ticker_minutes", tickerMinutes).
		Uint16("threshold_bp", thresholdBP).
		Msg("Randomness delivered, creating successor pool")

	_, err := r.createPoolLocked(tickerMinutes, thresholdBP, delay, now)
	return err
}

// Pool returns the pool with the given id, completed rounds included.
func (r *Registry) Pool(id types.PoolID) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	if !ok {
		return nil, types.ErrPoolNotFound
	}
	return p, nil
}

// ActivePools returns the ids of rounds still trading, in creation order.
func (r *Registry) ActivePools() []types.PoolID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PoolID, len(r.active))
	copy(out, r.active)
	return out
}

// Outcome returns the recorded outcome of a completed round.
func (r *Registry) Outcome(id types.PoolID) (types.PoolOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.completed[id]
	return o, ok
}

// CurrentHeight returns the running fixed-point curve height.
func (r *Registry) CurrentHeight() sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentHeight
}

// HeightFor returns the height assigned to a specific round.
func (r *Registry) HeightFor(id types.PoolID) (sdkmath.Int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.heightHistory[id]
	return h, ok
}

// PendingRandomness reports the rounds awaiting oracle delivery.
func (r *Registry) PendingRandomness() []types.PoolID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PoolID, 0, len(r.pending))
	for id := range r.pending {
		out = append(out, id)
	}
	return out
}

func (r *Registry) isActiveLocked(id types.PoolID) bool {
	for _, a := range r.active {
		if a == id {
			return true
		}
	}
	return false
}

func (r *Registry) removeActiveLocked(id types.PoolID) {
	for i, a := range r.active {
		if a == id {
			r.active = append(r.active[:i], r.active[i+1:]...)
			return
		}
	}
}

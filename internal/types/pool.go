/*

Shared pool-facing types: identifiers, trade sides, lifecycle states, the
per-trader score ledger entry, and the records the pool hands back to its
callers.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

type PoolID uint64

// Address identifies a trader. The core treats it as an opaque string; the
// excluded wallet layer owns its derivation.
type Address string

// Side is the direction of a trade against the pool.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// PoolState is the lifecycle state of a pool round.
type PoolState uint8

const (
	Scheduled PoolState = iota
	Active
	Locked
	Completed
)

func (s PoolState) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Active:
		return "active"
	case Locked:
		return "locked"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// TraderScore tracks one trader's accumulated deviation record inside a pool.
// RunningScoreBP is the arithmetic mean of all deviations observed so far
// (TotalDeviationBP / TradeCount). The proposal fields carry the trader's own
// latest successor choices, so they survive the trader losing and regaining
// the lead.
type TraderScore struct {
	Trader             Address       `json:"trader"`
	TotalDeviationBP   sdkmath.Int   `json:"total_deviation_bp"`
	TradeCount         uint64        `json:"trade_count"`
	Volume             uint64        `json:"volume"`
	RunningScoreBP     sdkmath.Int   `json:"running_score_bp"`
	ProposedDelay      time.Duration `json:"proposed_delay"`
	ProposedCandleSize uint8         `json:"proposed_candle_size"`
	LastUpdated        time.Time     `json:"last_updated"`
}

// TradeReceipt is returned for every accepted trade.
type TradeReceipt struct {
	PoolID      PoolID      `json:"pool_id"`
	Trader      Address     `json:"trader"`
	Side        Side        `json:"side"`
	AmountOut   sdkmath.Int `json:"amount_out"`
	DeviationBP sdkmath.Int `json:"deviation_bp"`
	CandleIndex uint64      `json:"candle_index"`
	NewCandle   bool        `json:"new_candle"`
	FeePaid     sdkmath.Int `json:"fee_paid"`
}

// PoolOutcome is what finalize reports to the launcher: who won (nil when the
// pool locked without an organic winner), the winner's proposed successor
// parameters, and the round totals.
type PoolOutcome struct {
	PoolID             PoolID        `json:"pool_id"`
	Winner             *Address      `json:"winner,omitempty"`
	WasLocked          bool          `json:"was_locked"`
	TotalVolume        uint64        `json:"total_volume"`
	TotalTrades        uint64        `json:"total_trades"`
	Params             CurveParams   `json:"params"`
	ProposedDelay      time.Duration `json:"proposed_delay"`
	ProposedCandleSize uint8         `json:"proposed_candle_size"`
}

// PoolEvent is broadcast over the event hub on lifecycle transitions.
type PoolEvent struct {
	Type        string      `json:"type"` // new_winner | locked | completed | created
	PoolID      PoolID      `json:"pool_id"`
	Trader      Address     `json:"trader,omitempty"`
	ScoreBP     sdkmath.Int `json:"score_bp,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

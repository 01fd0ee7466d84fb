/*

This file contains the immutable per-pool curve configuration and the
validation helpers shared by the pool and registry layers.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Minutes per candle permitted by the protocol. Each maps to a candle count
// spanning the 24h pool window: 5 -> 288, 10 -> 144, 15 -> 96.
const (
	TickerFast   = uint8(5)
	TickerMedium = uint8(10)
	TickerSlow   = uint8(15)

	// MinutesPerDay is the pool trading window expressed in minutes.
	MinutesPerDay = uint64(1440)

	// DefaultThresholdBP is the protocol default deviation threshold (6.9%).
	DefaultThresholdBP = uint16(690)

	// MaxThresholdBP bounds the configurable deviation threshold.
	MaxThresholdBP = uint16(5000)

	// PoolDuration is the fixed trading window of every pool.
	PoolDuration = 24 * time.Hour

	// MaxStartDelay is the longest a successor pool may trail its
	// predecessor's end time, and the cap on trader-proposed delays.
	MaxStartDelay = 12 * time.Hour

	// MaxCreateDelay bounds the start delay passed to pool creation. The
	// chaining grace window still clamps successors to MaxStartDelay past
	// their predecessor's end.
	MaxCreateDelay = 24 * time.Hour
)

// CurveParams is the immutable configuration of a single pool round.
// Height is a fixed-point quantity (see internal/fixedpoint); CandleCount and
// TickerMinutes are regular integers.
type CurveParams struct {
	Height        sdkmath.Int `json:"height"`
	CandleCount   uint64      `json:"candle_count"`
	TickerMinutes uint8       `json:"ticker_minutes"`
	ThresholdBP   uint16      `json:"threshold_bp"`
}

// CandleDuration returns the wall-clock length of one candle.
func (p CurveParams) CandleDuration() time.Duration {
	return time.Duration(p.TickerMinutes) * time.Minute
}

// ValidTickerDuration reports whether minutes is one of the enumerated
// candle sizes.
func ValidTickerDuration(minutes uint8) bool {
	return minutes == TickerFast || minutes == TickerMedium || minutes == TickerSlow
}

// ValidThreshold reports whether bp is inside the permitted (0, 5000] band.
func ValidThreshold(bp uint16) bool {
	return bp > 0 && bp <= MaxThresholdBP
}

// CandleCountFor derives the candle count for a given ticker duration.
// Callers must validate minutes first; an invalid value yields zero.
func CandleCountFor(minutes uint8) uint64 {
	if !ValidTickerDuration(minutes) {
		return 0
	}
	return MinutesPerDay / uint64(minutes)
}

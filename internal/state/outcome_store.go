// ./internal/state/outcome_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/thisispalash/tits-dot-fun/internal/types"
)

// SavePoolOutcome persists a completed round's outcome.
func SavePoolOutcome(outcome types.PoolOutcome, completedAt time.Time) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	var winner sql.NullString
	if outcome.Winner != nil {
		winner = sql.NullString{String: string(*outcome.Winner), Valid: true}
	}

	stmt := `
        INSERT INTO pool_outcomes (
            pool_id, winner, was_locked, total_volume, total_trades,
            ticker_minutes, threshold_bp, candle_count, height,
            proposed_delay_seconds, proposed_candle_size, completed_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (pool_id) DO NOTHING;`

	_, err := DB.Exec(
		stmt,
		uint64(outcome.PoolID), winner, outcome.WasLocked, outcome.TotalVolume, outcome.TotalTrades,
		outcome.Params.TickerMinutes, outcome.Params.ThresholdBP, outcome.Params.CandleCount, outcome.Params.Height.String(),
		int64(outcome.ProposedDelay/time.Second), outcome.ProposedCandleSize, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pool outcome for pool %d: %w", outcome.PoolID, err)
	}

	log.Info().
		Uint64("pool_id", uint64(outcome.PoolID)).
		Bool("was_locked", outcome.WasLocked).
		Msg("Saved pool outcome")
	return nil
}

// SaveHeight records the curve height assigned to a round.
func SaveHeight(id types.PoolID, height sdkmath.Int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO height_history (pool_id, height, recorded_at)
        VALUES ($1, $2, CURRENT_TIMESTAMP)
        ON CONFLICT (pool_id) DO NOTHING;`

	if _, err := DB.Exec(stmt, uint64(id), height.String()); err != nil {
		return fmt.Errorf("failed to save height for pool %d: %w", id, err)
	}
	return nil
}

// LoadLatestHeight returns the most recently recorded height, for restart
// continuity of the chain. The second return is false when no history
// exists.
func LoadLatestHeight() (sdkmath.Int, bool, error) {
	if DB == nil {
		return sdkmath.ZeroInt(), false, fmt.Errorf("database not initialized")
	}

	query := `SELECT height FROM height_history ORDER BY pool_id DESC LIMIT 1;`

	var heightStr string
	err := DB.QueryRow(query).Scan(&heightStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return sdkmath.ZeroInt(), false, nil
		}
		return sdkmath.ZeroInt(), false, fmt.Errorf("failed to load latest height: %w", err)
	}

	height, ok := sdkmath.NewIntFromString(heightStr)
	if !ok {
		return sdkmath.ZeroInt(), false, fmt.Errorf("invalid height value in height_history: %s", heightStr)
	}
	return height, true, nil
}

// LoadLatestPoolID returns the highest pool id recorded in either persistence
// table, so a restarted daemon never re-issues an id already on disk. The
// second return is false when no history exists.
func LoadLatestPoolID() (uint64, bool, error) {
	if DB == nil {
		return 0, false, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT COALESCE(MAX(pool_id), 0) FROM (
            SELECT pool_id FROM pool_outcomes
            UNION ALL
            SELECT pool_id FROM height_history
        ) ids;`

	var latest uint64
	if err := DB.QueryRow(query).Scan(&latest); err != nil {
		return 0, false, fmt.Errorf("failed to load latest pool id: %w", err)
	}
	return latest, latest > 0, nil
}

// RecentOutcome is a row of the pool_outcomes table for the query surface.
type RecentOutcome struct {
	PoolID        uint64    `json:"pool_id"`
	Winner        *string   `json:"winner,omitempty"`
	WasLocked     bool      `json:"was_locked"`
	TotalVolume   uint64    `json:"total_volume"`
	TotalTrades   uint64    `json:"total_trades"`
	TickerMinutes uint8     `json:"ticker_minutes"`
	ThresholdBP   uint16    `json:"threshold_bp"`
	CompletedAt   time.Time `json:"completed_at"`
}

// GetRecentOutcomes returns the most recently completed rounds.
func GetRecentOutcomes(limit int) ([]RecentOutcome, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
        SELECT pool_id, winner, was_locked, total_volume, total_trades,
               ticker_minutes, threshold_bp, completed_at
        FROM pool_outcomes
        ORDER BY completed_at DESC
        LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]RecentOutcome, 0, limit)
	for rows.Next() {
		var o RecentOutcome
		var winner sql.NullString
		if err := rows.Scan(&o.PoolID, &winner, &o.WasLocked, &o.TotalVolume, &o.TotalTrades,
			&o.TickerMinutes, &o.ThresholdBP, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		if winner.Valid {
			w := winner.String
			o.Winner = &w
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome rows: %w", err)
	}
	return outcomes, nil
}

/*

Application configuration loaded from environment variables at startup.
Protocol-critical values are required; operational knobs fall back to
defaults.

*/

package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// SeedFunding is the regular (unscaled) native amount seeding each
	// pool's x reserve.
	SeedFunding uint64

	// InitialYSupply is the regular pool-token supply minted into each
	// round's y reserve.
	InitialYSupply uint64

	// TreasuryBalance is the regular native balance the standalone
	// treasury starts with.
	TreasuryBalance uint64

	// TradeFeeBP is the per-trade fee in basis points.
	TradeFeeBP uint16

	// FirstTickerMinutes parameterizes the first round's candle size.
	FirstTickerMinutes uint8

	// FirstThresholdBP parameterizes the first round's deviation
	// threshold.
	FirstThresholdBP uint16

	// HeightRule selects the cross-round height recurrence
	// (sqrt | add | mul).
	HeightRule string

	// DefaultStartDelay schedules randomized successor rounds relative to
	// their predecessor's end.
	DefaultStartDelay time.Duration

	// AutomationInterval is the polling cadence of the lifecycle runner.
	AutomationInterval time.Duration

	// WebPort serves the read-only HTTP API.
	WebPort string
)

// LoadConfig populates the globals above. Required variables must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	SeedFunding, err = getEnvAsUint64("POOL_SEED_FUNDING")
	if err != nil {
		return err
	}

	InitialYSupply, err = getEnvAsUint64("POOL_INITIAL_Y_SUPPLY")
	if err != nil {
		return err
	}

	TreasuryBalance, err = getEnvAsUint64("TREASURY_BALANCE")
	if err != nil {
		return err
	}

	TradeFeeBP = uint16(getEnvAsUint64OrDefault("TRADE_FEE_BP", 30))
	FirstTickerMinutes = uint8(getEnvAsUint64OrDefault("FIRST_TICKER_MINUTES", 5))
	FirstThresholdBP = uint16(getEnvAsUint64OrDefault("FIRST_THRESHOLD_BP", 690))
	HeightRule = getEnvOrDefault("HEIGHT_RULE", "sqrt")
	DefaultStartDelay = time.Duration(getEnvAsUint64OrDefault("DEFAULT_START_DELAY_MINUTES", 60)) * time.Minute
	AutomationInterval = time.Duration(getEnvAsUint64OrDefault("AUTOMATION_INTERVAL_SECONDS", 30)) * time.Second
	WebPort = getEnvOrDefault("WEB_PORT", "8080")

	log.Debug().
		Uint64("SeedFunding", SeedFunding).
		Uint64("InitialYSupply", InitialYSupply).
		Str("HeightRule", HeightRule).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns
// error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsUint64OrDefault(key string, fallback uint64) uint64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid numeric environment variable, using default")
		return fallback
	}
	return value
}

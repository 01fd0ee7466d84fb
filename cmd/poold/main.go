package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/thisispalash/tits-dot-fun/internal/automation"
	"github.com/thisispalash/tits-dot-fun/internal/config"
	"github.com/thisispalash/tits-dot-fun/internal/events"
	"github.com/thisispalash/tits-dot-fun/internal/fixedpoint"
	"github.com/thisispalash/tits-dot-fun/internal/logger"
	"github.com/thisispalash/tits-dot-fun/internal/oracle"
	"github.com/thisispalash/tits-dot-fun/internal/registry"
	"github.com/thisispalash/tits-dot-fun/internal/state"
	"github.com/thisispalash/tits-dot-fun/internal/treasury"
	"github.com/thisispalash/tits-dot-fun/internal/types"
	"github.com/thisispalash/tits-dot-fun/internal/web"
)

// main is the entry point for the pool protocol daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Pool protocol daemon starting...")

	// Initialize Database Connection (outcome/height persistence).
	// Without DB_HOST the daemon runs in-memory only.
	persist := false
	if os.Getenv("DB_HOST") != "" {
		dbCfg := state.DBConfig{
			Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		persist = true
	} else {
		log.Warn().Msg("DB_HOST not set; running without outcome persistence")
	}

	// --- 2. Collaborators ---
	treas := treasury.NewInMemory(fixedpoint.ToFixed(config.TreasuryBalance))
	hub := events.NewHub()
	rng := oracle.NewLocal(nil)

	// Restart continuity: resume the height chain and the id counter where
	// they left off.
	initialHeight := fixedpoint.ToFixed(1)
	var firstPoolID types.PoolID
	if persist {
		if h, ok, err := state.LoadLatestHeight(); err != nil {
			log.Error().Err(err).Msg("Failed to load height history; starting fresh")
		} else if ok {
			initialHeight = h
			log.Info().Str("height", h.String()).Msg("Resumed height chain from database")
		}
		if last, ok, err := state.LoadLatestPoolID(); err != nil {
			log.Error().Err(err).Msg("Failed to load pool id history; starting fresh")
		} else if ok {
			firstPoolID = types.PoolID(last + 1)
			log.Info().Uint64("next_pool_id", last+1).Msg("Resumed pool id counter from database")
		}
	}

	reg := registry.New(registry.Config{
		Treasury:          treas,
		Oracle:            rng,
		Notifier:          hub,
		SeedFunding:       fixedpoint.ToFixed(config.SeedFunding),
		InitialYSupply:    config.InitialYSupply,
		InitialHeight:     initialHeight,
		FirstPoolID:       firstPoolID,
		TradeFeeBP:        config.TradeFeeBP,
		DefaultStartDelay: config.DefaultStartDelay,
		HeightRule:        registry.HeightRule(config.HeightRule),
	})

	// Randomness deliveries correlate by seed, which the registry sets to
	// the requesting pool id.
	rng.SetDelivery(func(requestID string, seed uint64, values []uint64) {
		if err := reg.OnRandomnessDelivered(types.PoolID(seed), values, time.Now().UTC()); err != nil {
			log.Error().Err(err).Str("request_id", requestID).Msg("Randomness delivery rejected")
		}
	})

	// --- 3. Bootstrap the first round ---
	if len(reg.ActivePools()) == 0 {
		id, err := reg.CreatePool(config.FirstTickerMinutes, config.FirstThresholdBP, 0, time.Now().UTC())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create the first pool")
		}
		log.Info().Uint64("pool_id", uint64(id)).Msg("First pool created")
	}

	// --- 4. Web server ---
	webServer := web.NewWebServer(config.WebPort, reg, hub)
	go func() {
		log.Info().Str("port", config.WebPort).Msg("Starting pool protocol API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Lifecycle automation loop ---
	runner := automation.NewRunner(reg, persist)
	runner.RunLoop(context.Background(), config.AutomationInterval)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}

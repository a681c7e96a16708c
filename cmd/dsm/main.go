package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	sdkmath "cosmossdk.io/math"

	"github.com/dualstake-labs/dsm/internal/chain"
	"github.com/dualstake-labs/dsm/internal/config"
	"github.com/dualstake-labs/dsm/internal/engine"
	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/metrics"
	"github.com/dualstake-labs/dsm/internal/scheduler"
	"github.com/dualstake-labs/dsm/internal/state"
	"github.com/dualstake-labs/dsm/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the DSM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("DSM Core Logic Starting...")

	// Initialize Database Connection
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

	// Load Engine Parameters
	engineParams, err := state.LoadActiveEngineParameters(config.ConfigName)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active engine parameters, using defaults and saving.")
		defaultParams := config.DefaultEngineParameters
		if _, err := state.SaveEngineParameters(defaultParams, config.ConfigName, config.DefaultConfigVersion, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default engine parameters.")
		}
		engineParams = &defaultParams
	}
	log.Info().Msg("Engine parameters loaded successfully.")

	// --- 2. Collaborator Initialization (with Safety Switch) ---
	var collab chain.Collaborators
	dsmMode := os.Getenv("DSM_MODE")

	if dsmMode == "sim" {
		log.Warn().Msg("Initializing DSM in SIM mode. All chain interactions are in-memory.")
		collab = simCollaborators()
	} else {
		log.Fatal().Msg("DSM_MODE is not set to 'sim'. Live chain clients are not configured in this build. Set DSM_MODE=sim to run.")
	}

	// --- 3. Create Engine Instance with Dependency Injection ---
	log.Info().Msg("Creating engine instance with dependency injection...")

	eng, err := engine.New(engine.Config{
		Params:        *engineParams,
		Collaborators: collab,
		Recorder:      state.Recorder{},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	log.Info().Msg("Engine instance created successfully")

	// --- Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	// One recorder backs both the HTTP handlers and the scheduled jobs.
	rec := metrics.New()

	webServer := web.NewWebServer(webPort, eng, rec, config.ConfigName, config.OperatorToken)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting DSM web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Scheduled Tasks ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(ctx, eng, rec)
	if err := sched.RegisterAll(config.RebalanceCron, config.SweepCron, config.CompoundCron); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled tasks")
	}
	sched.Start()

	log.Info().
		Str("rebalance", config.RebalanceCron).
		Str("sweep", config.SweepCron).
		Str("compound", config.CompoundCron).
		Msg("Scheduler running")

	// Block until interrupted, then drain the scheduler before exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	sched.Stop()
	cancel()
	log.Info().Msg("DSM stopped")
}

// simCollaborators wires the in-memory backends used by the sim run mode.
// Prices and the validator set are seeded from defaults that operators can
// move at runtime through the API once live clients land.
func simCollaborators() chain.Collaborators {
	oracle := chain.NewSimOracle(
		sdkmath.LegacyMustNewDecFromStr("1.0"),
		sdkmath.LegacyMustNewDecFromStr("50000.0"),
	)
	registry := chain.NewSimRegistry(chain.DefaultSimValidators())
	return chain.Collaborators{
		Oracle:   oracle,
		Router:   chain.NewSimRouter(oracle, 10),
		Registry: registry,
		Shares:   chain.NewSimShareToken(),
	}
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't
// exist. Exact integer and decimal values (base-unit amounts, ratios) are
// stored as TEXT so nothing is rounded through floating point.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS engine_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			tier_table JSONB NOT NULL,
			global_min_usd TEXT NOT NULL,
			core_floor TEXT NOT NULL,
			btc_floor TEXT NOT NULL,
			size_step_bps INTEGER NOT NULL,
			max_size_magnitude INTEGER NOT NULL,
			risk_ceiling TEXT NOT NULL,
			rebalance_threshold_bps INTEGER NOT NULL,
			max_slippage_bps INTEGER NOT NULL,
			keeper_reward_bps INTEGER NOT NULL,
			min_rebalance_interval_seconds BIGINT NOT NULL,
			swap_deadline_seconds BIGINT NOT NULL,
			max_failures INTEGER NOT NULL,
			failure_window_seconds BIGINT NOT NULL,
			failure_cooloff_seconds BIGINT NOT NULL,
			reserve_ratio_bps INTEGER NOT NULL,
			instant_fee_bps INTEGER NOT NULL,
			lp_fee_share_bps INTEGER NOT NULL,
			max_single_withdrawal_ratio_bps INTEGER NOT NULL,
			per_withdrawal_cap_core TEXT NOT NULL,
			per_withdrawal_cap_btc TEXT NOT NULL,
			unbonding_period_core_seconds BIGINT NOT NULL,
			unbonding_period_btc_seconds BIGINT NOT NULL,
			CONSTRAINT uq_engine_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_engine_parameters_config_active_timestamp ON engine_parameters(config_name, is_active, activated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_engine_parameters_config_timestamp ON engine_parameters(config_name, activated_at DESC);

		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			cycle_id VARCHAR(64) NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			trigger_source VARCHAR(128) NOT NULL,

			-- Pre-execution state
			initial_pool JSONB,
			ratio_before TEXT,
			target_ratio TEXT,

			-- The plan and what actually moved
			direction VARCHAR(16) NOT NULL,
			planned_in TEXT,
			min_amount_out TEXT,
			actual_in TEXT,
			actual_out TEXT,
			keeper_reward TEXT,
			redelegations INTEGER NOT NULL DEFAULT 0,

			-- Post-execution state
			final_pool JSONB,
			ratio_after TEXT,

			success BOOLEAN NOT NULL,
			failure_cause TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle_id ON cycle_snapshots(cycle_id);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

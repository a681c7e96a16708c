package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// ConfigName selects which stored parameter set the engine runs with.
	ConfigName string

	// OperatorToken authorises operator-only operations (resume, parameter
	// updates) on the web API. Possession of the token is the capability.
	OperatorToken string

	// RebalanceCron, SweepCron and CompoundCron are robfig/cron specs for
	// the scheduled trigger paths.
	RebalanceCron string
	SweepCron     string
	CompoundCron  string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All listed environment variables are required.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	ConfigName, err = getEnv("DSM_CONFIG_NAME")
	if err != nil {
		return err
	}

	OperatorToken, err = getEnv("DSM_OPERATOR_TOKEN")
	if err != nil {
		return err
	}

	RebalanceCron, err = getEnv("DSM_REBALANCE_CRON")
	if err != nil {
		return err
	}

	SweepCron, err = getEnv("DSM_SWEEP_CRON")
	if err != nil {
		return err
	}

	CompoundCron, err = getEnv("DSM_COMPOUND_CRON")
	if err != nil {
		return err
	}

	log.Debug().
		Str("ConfigName", ConfigName).
		Str("RebalanceCron", RebalanceCron).
		Str("SweepCron", SweepCron).
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

// GetEnvAsInt retrieves an environment variable as an int with a default.
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid integer env var, using default")
		return defaultValue
	}
	return value
}

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// The cycle counter is a single-row table so rebalance cycles keep a
// continuous number across process restarts. EnsureSchema creates the row;
// everything here just reads and bumps it.

// IncrementCycleNumber bumps the counter and returns the new value.
func IncrementCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var n int
	err := DB.QueryRow(`
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_cycle;`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	log.Debug().Int("newCycle", n).Msg("Incremented cycle counter")
	return n, nil
}

// GetCurrentCycleNumber reads the counter without advancing it.
func GetCurrentCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var n int
	err := DB.QueryRow(`SELECT current_cycle FROM cycle_counter WHERE id = 1;`).Scan(&n)
	switch {
	case err == sql.ErrNoRows:
		// EnsureSchema has not run yet; treat the counter as fresh.
		log.Warn().Msg("No cycle counter row found, reporting 0")
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}
	return n, nil
}

// ResetCycleNumber rewinds or fast-forwards the counter. Maintenance use
// only; live numbering should move through IncrementCycleNumber.
func ResetCycleNumber(cycleNumber int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if cycleNumber < 0 {
		return fmt.Errorf("cycle number cannot be negative: %d", cycleNumber)
	}

	result, err := DB.Exec(`
		UPDATE cycle_counter
		SET current_cycle = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1;`, cycleNumber)
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cycle counter row missing, run EnsureSchema first")
	}

	log.Warn().Int("cycleNumber", cycleNumber).Msg("Reset cycle counter")
	return nil
}

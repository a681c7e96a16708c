package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/dualstake-labs/dsm/internal/types"
)

// Recorder adapts the package-level store to the engine's CycleRecorder.
type Recorder struct{}

func (Recorder) SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	return SaveCycleSnapshot(snapshot)
}

func (Recorder) NextCycleNumber() (int, error) {
	return IncrementCycleNumber()
}

// SaveCycleSnapshot saves a complete rebalance cycle snapshot, successful or
// failed, and returns the new row's id.
func SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	initialPoolJSON, err := json.Marshal(snapshot.InitialPool)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal initial_pool: %w", err)
	}
	finalPoolJSON, err := json.Marshal(snapshot.FinalPool)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal final_pool: %w", err)
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, cycle_id, snapshot_timestamp, trigger_source,
			initial_pool, ratio_before, target_ratio,
			direction, planned_in, min_amount_out, actual_in, actual_out,
			keeper_reward, redelegations,
			final_pool, ratio_after,
			success, failure_cause
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.CycleID, snapshot.Timestamp, snapshot.Trigger,
		initialPoolJSON, decString(snapshot.RatioBefore), decString(snapshot.TargetRatio),
		string(snapshot.Direction), intString(snapshot.PlannedIn), intString(snapshot.MinAmountOut),
		intString(snapshot.ActualIn), intString(snapshot.ActualOut),
		intString(snapshot.KeeperReward), snapshot.Redelegations,
		finalPoolJSON, decString(snapshot.RatioAfter),
		snapshot.Success, snapshot.FailureCause,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Bool("success", snapshot.Success).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}

// GetRecentCycles retrieves recent cycle snapshots, newest first.
func GetRecentCycles(limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := DB.Query(selectSnapshotSQL+`
		ORDER BY snapshot_timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent cycles")
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []types.CycleSnapshot
	for rows.Next() {
		cycle, err := scanSnapshot(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan cycle row")
			continue
		}
		cycles = append(cycles, cycle)
	}
	return cycles, rows.Err()
}

// GetCycleByID retrieves one cycle snapshot by its cycle UUID.
func GetCycleByID(cycleID string) (*types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(selectSnapshotSQL+`
		WHERE cycle_id = $1
		LIMIT 1`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, sql.ErrNoRows
	}
	cycle, err := scanSnapshot(rows)
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

const selectSnapshotSQL = `
		SELECT
			snapshot_id, cycle_number, cycle_id, snapshot_timestamp, trigger_source,
			initial_pool, ratio_before, target_ratio,
			direction, planned_in, min_amount_out, actual_in, actual_out,
			keeper_reward, redelegations,
			final_pool, ratio_after,
			success, failure_cause
		FROM cycle_snapshots`

func scanSnapshot(rows *sql.Rows) (types.CycleSnapshot, error) {
	var cycle types.CycleSnapshot
	var initialPoolJSON, finalPoolJSON []byte
	var ratioBefore, targetRatio, plannedIn, minOut, actualIn, actualOut, reward, ratioAfter, failureCause sql.NullString
	var direction string

	err := rows.Scan(
		&cycle.SnapshotID, &cycle.CycleNumber, &cycle.CycleID, &cycle.Timestamp, &cycle.Trigger,
		&initialPoolJSON, &ratioBefore, &targetRatio,
		&direction, &plannedIn, &minOut, &actualIn, &actualOut,
		&reward, &cycle.Redelegations,
		&finalPoolJSON, &ratioAfter,
		&cycle.Success, &failureCause,
	)
	if err != nil {
		return types.CycleSnapshot{}, err
	}

	cycle.Direction = types.SwapDirection(direction)
	cycle.FailureCause = failureCause.String
	cycle.RatioBefore = parseDec(ratioBefore)
	cycle.TargetRatio = parseDec(targetRatio)
	cycle.RatioAfter = parseDec(ratioAfter)
	cycle.PlannedIn = parseInt(plannedIn)
	cycle.MinAmountOut = parseInt(minOut)
	cycle.ActualIn = parseInt(actualIn)
	cycle.ActualOut = parseInt(actualOut)
	cycle.KeeperReward = parseInt(reward)

	if len(initialPoolJSON) > 0 {
		if err := json.Unmarshal(initialPoolJSON, &cycle.InitialPool); err != nil {
			return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal initial_pool: %w", err)
		}
	}
	if len(finalPoolJSON) > 0 {
		if err := json.Unmarshal(finalPoolJSON, &cycle.FinalPool); err != nil {
			return types.CycleSnapshot{}, fmt.Errorf("failed to unmarshal final_pool: %w", err)
		}
	}
	return cycle, nil
}

func decString(d sdkmath.LegacyDec) string {
	if d.IsNil() {
		return "0"
	}
	return d.String()
}

func intString(i sdkmath.Int) string {
	if i.IsNil() {
		return "0"
	}
	return i.String()
}

func parseDec(s sql.NullString) sdkmath.LegacyDec {
	if !s.Valid || s.String == "" {
		return sdkmath.LegacyZeroDec()
	}
	d, err := sdkmath.LegacyNewDecFromStr(s.String)
	if err != nil {
		return sdkmath.LegacyZeroDec()
	}
	return d
}

func parseInt(s sql.NullString) sdkmath.Int {
	if !s.Valid || s.String == "" {
		return sdkmath.ZeroInt()
	}
	i, ok := sdkmath.NewIntFromString(s.String)
	if !ok {
		return sdkmath.ZeroInt()
	}
	return i
}

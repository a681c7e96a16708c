package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dualstake-labs/dsm/internal/types"
)

// SaveEngineParameters saves a new version of the engine parameter set.
// With makeActive, any previously active row for the same config name is
// deactivated in the same transaction.
func SaveEngineParameters(params types.EngineParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tierTableJSON, err := json.Marshal(params.TierTable)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tier_table: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE engine_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO engine_parameters (
            version, config_name, is_active, activated_at, created_at,
            tier_table, global_min_usd, core_floor, btc_floor,
            size_step_bps, max_size_magnitude, risk_ceiling,
            rebalance_threshold_bps, max_slippage_bps, keeper_reward_bps,
            min_rebalance_interval_seconds, swap_deadline_seconds,
            max_failures, failure_window_seconds, failure_cooloff_seconds,
            reserve_ratio_bps, instant_fee_bps, lp_fee_share_bps,
            max_single_withdrawal_ratio_bps, per_withdrawal_cap_core, per_withdrawal_cap_btc,
            unbonding_period_core_seconds, unbonding_period_btc_seconds
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8, $9,
            $10, $11, $12,
            $13, $14, $15,
            $16, $17,
            $18, $19, $20,
            $21, $22, $23,
            $24, $25, $26,
            $27, $28
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		tierTableJSON, decString(params.GlobalMinUsd), intString(params.CoreFloor), intString(params.BtcFloor),
		params.SizeStepBps, params.MaxSizeMagnitude, decString(params.RiskCeiling),
		params.RebalanceThresholdBps, params.MaxSlippageBps, params.KeeperRewardBps,
		int64(params.MinRebalanceInterval.Seconds()), int64(params.SwapDeadline.Seconds()),
		params.MaxFailures, int64(params.FailureWindow.Seconds()), int64(params.FailureCooloff.Seconds()),
		params.ReserveRatioBps, params.InstantFeeBps, params.LpFeeShareBps,
		params.MaxSingleWithdrawalRatioBps, intString(params.PerWithdrawalCapCore), intString(params.PerWithdrawalCapBtc),
		int64(params.UnbondingPeriodCore.Seconds()), int64(params.UnbondingPeriodBtc.Seconds()),
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert engine parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved engine parameters")
	return paramsID, nil
}

// LoadActiveEngineParameters loads the currently active parameter set for a
// config name.
func LoadActiveEngineParameters(configName string) (*types.EngineParameters, error) {
	return loadEngineParameters(configName, `
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`, "active")
}

// LoadLatestEngineParameters loads the most recently activated parameter set
// for a config name, active or not.
func LoadLatestEngineParameters(configName string) (*types.EngineParameters, error) {
	return loadEngineParameters(configName, `
        WHERE config_name = $1
        ORDER BY activated_at DESC, created_at DESC
        LIMIT 1;`, "latest")
}

func loadEngineParameters(configName, whereClause, kind string) (*types.EngineParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            tier_table, global_min_usd, core_floor, btc_floor,
            size_step_bps, max_size_magnitude, risk_ceiling,
            rebalance_threshold_bps, max_slippage_bps, keeper_reward_bps,
            min_rebalance_interval_seconds, swap_deadline_seconds,
            max_failures, failure_window_seconds, failure_cooloff_seconds,
            reserve_ratio_bps, instant_fee_bps, lp_fee_share_bps,
            max_single_withdrawal_ratio_bps, per_withdrawal_cap_core, per_withdrawal_cap_btc,
            unbonding_period_core_seconds, unbonding_period_btc_seconds
        FROM engine_parameters` + whereClause

	var tierTableJSON []byte
	var globalMinUsd, coreFloor, btcFloor, riskCeiling, capCore, capBtc sql.NullString
	var intervalSec, deadlineSec, windowSec, cooloffSec, unbondCoreSec, unbondBtcSec int64

	p := &types.EngineParameters{}
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&tierTableJSON, &globalMinUsd, &coreFloor, &btcFloor,
		&p.SizeStepBps, &p.MaxSizeMagnitude, &riskCeiling,
		&p.RebalanceThresholdBps, &p.MaxSlippageBps, &p.KeeperRewardBps,
		&intervalSec, &deadlineSec,
		&p.MaxFailures, &windowSec, &cooloffSec,
		&p.ReserveRatioBps, &p.InstantFeeBps, &p.LpFeeShareBps,
		&p.MaxSingleWithdrawalRatioBps, &capCore, &capBtc,
		&unbondCoreSec, &unbondBtcSec,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no %s engine parameters found for config '%s'", kind, configName)
		}
		return nil, fmt.Errorf("failed to scan %s engine parameters for config '%s': %w", kind, configName, err)
	}

	if err := json.Unmarshal(tierTableJSON, &p.TierTable); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tier_table: %w", err)
	}
	p.GlobalMinUsd = parseDec(globalMinUsd)
	p.CoreFloor = parseInt(coreFloor)
	p.BtcFloor = parseInt(btcFloor)
	p.RiskCeiling = parseDec(riskCeiling)
	p.PerWithdrawalCapCore = parseInt(capCore)
	p.PerWithdrawalCapBtc = parseInt(capBtc)
	p.MinRebalanceInterval = time.Duration(intervalSec) * time.Second
	p.SwapDeadline = time.Duration(deadlineSec) * time.Second
	p.FailureWindow = time.Duration(windowSec) * time.Second
	p.FailureCooloff = time.Duration(cooloffSec) * time.Second
	p.UnbondingPeriodCore = time.Duration(unbondCoreSec) * time.Second
	p.UnbondingPeriodBtc = time.Duration(unbondBtcSec) * time.Second

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("stored parameters for config '%s' failed validation: %w", configName, err)
	}

	log.Info().Str("config", configName).Str("kind", kind).Msg("Loaded engine parameters")
	return p, nil
}

// GetActiveEngineParametersID returns the params_id of the currently active
// row, or nil when none is active.
func GetActiveEngineParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT params_id
        FROM engine_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var paramsID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&paramsID)

	if err != nil {
		if err == sql.ErrNoRows {
			log.Debug().Str("config", configName).Msg("No active engine parameters found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active engine parameters ID for config '%s': %w", configName, err)
	}

	return &paramsID, nil
}

/*

EngineParameters is the single tunable parameter set for the whole engine.
An active version is persisted in the database per config name; defaults
live in internal/config.

*/

package types

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

// EngineParameters holds every operator-tunable knob of the engine.
type EngineParameters struct {
	// --- Tier classification ---
	TierTable []TierSpec `json:"tier_table"`

	// GlobalMinUsd is the minimum USD value of any deposit.
	GlobalMinUsd sdkmath.LegacyDec `json:"global_min_usd"`
	// CoreFloor / BtcFloor are absolute per-asset deposit floors in base units.
	CoreFloor sdkmath.Int `json:"core_floor"`
	BtcFloor  sdkmath.Int `json:"btc_floor"`

	// SizeStepBps is the bonus added per order of magnitude of USD value
	// above $1,000. MaxSizeMagnitude saturates the step function.
	SizeStepBps      uint32 `json:"size_step_bps"`
	MaxSizeMagnitude int    `json:"max_size_magnitude"`

	// --- Validator allocation ---
	// RiskCeiling excludes validators with RiskScore >= ceiling, in [0,1].
	RiskCeiling sdkmath.LegacyDec `json:"risk_ceiling"`

	// --- Rebalancing ---
	RebalanceThresholdBps uint32        `json:"rebalance_threshold_bps"`
	MaxSlippageBps        uint32        `json:"max_slippage_bps"`
	KeeperRewardBps       uint32        `json:"keeper_reward_bps"`
	MinRebalanceInterval  time.Duration `json:"min_rebalance_interval"`
	SwapDeadline          time.Duration `json:"swap_deadline"`
	MaxFailures           int           `json:"max_failures"`
	FailureWindow         time.Duration `json:"failure_window"`
	FailureCooloff        time.Duration `json:"failure_cooloff"`

	// --- Liquidity reserve / withdrawals ---
	ReserveRatioBps             uint32        `json:"reserve_ratio_bps"`
	InstantFeeBps               uint32        `json:"instant_fee_bps"`
	LpFeeShareBps               uint32        `json:"lp_fee_share_bps"`
	MaxSingleWithdrawalRatioBps uint32        `json:"max_single_withdrawal_ratio_bps"`
	PerWithdrawalCapCore        sdkmath.Int   `json:"per_withdrawal_cap_core"`
	PerWithdrawalCapBtc         sdkmath.Int   `json:"per_withdrawal_cap_btc"`
	UnbondingPeriodCore         time.Duration `json:"unbonding_period_core"`
	UnbondingPeriodBtc          time.Duration `json:"unbonding_period_btc"`
}

// UnbondingPeriod returns the asset-specific unbonding period. Directly
// delegated CORE unbonds slower than liquid-staked BTC.
func (p EngineParameters) UnbondingPeriod(asset AssetKind) time.Duration {
	if asset == AssetCore {
		return p.UnbondingPeriodCore
	}
	return p.UnbondingPeriodBtc
}

// PerWithdrawalCap returns the per-withdrawal instant cap for the asset.
func (p EngineParameters) PerWithdrawalCap(asset AssetKind) sdkmath.Int {
	if asset == AssetCore {
		return p.PerWithdrawalCapCore
	}
	return p.PerWithdrawalCapBtc
}

var ErrInvalidParameters = errors.New("invalid engine parameters")

// Validate rejects parameter sets that would make the engine unsafe.
func (p EngineParameters) Validate() error {
	if err := ValidateTierTable(p.TierTable); err != nil {
		return errors.Join(ErrInvalidParameters, err)
	}
	if p.GlobalMinUsd.IsNil() || p.GlobalMinUsd.IsNegative() {
		return fmt.Errorf("%w: global min USD must be non-negative", ErrInvalidParameters)
	}
	if p.RiskCeiling.IsNil() || p.RiskCeiling.IsNegative() || p.RiskCeiling.GT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: risk ceiling must be in [0,1]", ErrInvalidParameters)
	}
	for name, bps := range map[string]uint32{
		"rebalance threshold":         p.RebalanceThresholdBps,
		"max slippage":                p.MaxSlippageBps,
		"keeper reward":               p.KeeperRewardBps,
		"reserve ratio":               p.ReserveRatioBps,
		"instant fee":                 p.InstantFeeBps,
		"lp fee share":                p.LpFeeShareBps,
		"max single withdrawal ratio": p.MaxSingleWithdrawalRatioBps,
	} {
		if bps > BpsDenominator {
			return fmt.Errorf("%w: %s %d exceeds %d bps", ErrInvalidParameters, name, bps, BpsDenominator)
		}
	}
	if p.RebalanceThresholdBps == 0 {
		return fmt.Errorf("%w: rebalance threshold cannot be zero", ErrInvalidParameters)
	}
	if p.MinRebalanceInterval <= 0 || p.SwapDeadline <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidParameters)
	}
	if p.MaxFailures <= 0 || p.FailureWindow <= 0 || p.FailureCooloff <= 0 {
		return fmt.Errorf("%w: circuit breaker settings must be positive", ErrInvalidParameters)
	}
	if p.UnbondingPeriodCore <= 0 || p.UnbondingPeriodBtc <= 0 {
		return fmt.Errorf("%w: unbonding periods must be positive", ErrInvalidParameters)
	}
	if p.CoreFloor.IsNil() || p.BtcFloor.IsNil() || p.CoreFloor.IsNegative() || p.BtcFloor.IsNegative() {
		return fmt.Errorf("%w: asset floors must be non-negative", ErrInvalidParameters)
	}
	if p.PerWithdrawalCapCore.IsNil() || p.PerWithdrawalCapBtc.IsNil() {
		return fmt.Errorf("%w: per-withdrawal caps must be set", ErrInvalidParameters)
	}
	return nil
}

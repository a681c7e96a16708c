/*

This file contains the default parameters for the dual-stake engine.

These parameters are designed for managing pooled CORE+BTC stake in a
production environment. Each value balances withdrawal liquidity and keeper
economics against yield.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/dualstake-labs/dsm/internal/types"
)

const (
	DefaultConfigName    = "default_dsm_strategy"
	DefaultConfigVersion = 1
)

// DefaultTierTable partitions the USD value axis into the four tiers.
// Bands are contiguous; the top tier is open-ended. Optimal ratios are
// CORE units per BTC unit.
var DefaultTierTable = []types.TierSpec{
	{
		Tier:         types.TierBronze,
		OptimalRatio: sdkmath.LegacyNewDec(2_000),
		UsdMin:       sdkmath.LegacyZeroDec(),
		UsdMax:       sdkmath.LegacyNewDec(10_000),
		MaxBonusBps:  200,
	},
	{
		Tier:         types.TierSilver,
		OptimalRatio: sdkmath.LegacyNewDec(10_000),
		UsdMin:       sdkmath.LegacyNewDec(10_000),
		UsdMax:       sdkmath.LegacyNewDec(100_000),
		MaxBonusBps:  500,
	},
	{
		Tier:         types.TierGold,
		OptimalRatio: sdkmath.LegacyNewDec(20_000),
		UsdMin:       sdkmath.LegacyNewDec(100_000),
		UsdMax:       sdkmath.LegacyNewDec(1_000_000),
		MaxBonusBps:  1_000,
	},
	{
		Tier:         types.TierSatoshi,
		OptimalRatio: sdkmath.LegacyNewDec(25_000),
		UsdMin:       sdkmath.LegacyNewDec(1_000_000),
		UsdMax:       sdkmath.LegacyZeroDec(),
		OpenEnded:    true,
		MaxBonusBps:  2_000,
	},
}

// DefaultEngineParameters provides the baseline parameter set used when no
// active parameters are found in the database during initialization.
var DefaultEngineParameters = types.EngineParameters{
	TierTable: DefaultTierTable,

	GlobalMinUsd: sdkmath.LegacyNewDec(100), // Reject dust deposits below $100.
	// Rationale: positions below this cost more in share-token gas and
	// accounting churn than they contribute in stake.

	CoreFloor: sdkmath.NewInt(1_000_000_000_000_000_000), // 1 CORE
	BtcFloor:  sdkmath.NewInt(1_000),                     // 1000 sats
	// Rationale: absolute floors prevent single-sided dust legs that would
	// produce zero-value tier classification edge cases.

	SizeStepBps:      25, // +0.25% bonus per order of magnitude above $1k.
	MaxSizeMagnitude: 4,  // Saturate at $10M; the step function must not grow unbounded.

	RiskCeiling: sdkmath.LegacyNewDecWithPrec(70, 2), // Exclude validators with risk >= 0.70.
	// Rationale: slashing on a single validator at 70%+ risk would cost more
	// than its APY edge earns in a year. Diversification below the ceiling
	// is handled by APY-proportional weighting.

	RebalanceThresholdBps: 500, // Act on 5%+ deviation from the target ratio.
	// Rationale: below 5%, swap fees and slippage eat the benefit of
	// correcting drift. Above it, the tier bonus decay outpaces swap costs.

	MaxSlippageBps:  100, // Refuse swaps worse than 1% under the oracle mid.
	KeeperRewardBps: 10,  // Pay the triggering keeper 0.10% of pool USD value.
	// Rationale: enough to cover gas and make permissionless triggering
	// profitable shortly after the threshold is crossed, small enough that
	// a healthy pool loses almost nothing to keeper incentives.

	MinRebalanceInterval: 1 * time.Hour,
	// Rationale: the cooldown bounds keeper-reward extraction and gives the
	// swap market time to absorb the previous correction.

	SwapDeadline: 2 * time.Minute,

	MaxFailures:    3,
	FailureWindow:  6 * time.Hour,
	FailureCooloff: 12 * time.Hour,
	// Rationale: three consecutive execution failures within the window
	// almost always mean a misconfigured router or a validator outage.
	// Halting and paging an operator is the correct response, not retrying.

	ReserveRatioBps:             1_000, // Keep 10% of pooled+queued liquid per asset.
	InstantFeeBps:               30,    // 0.30% fee on instant withdrawals.
	LpFeeShareBps:               5_000, // Half of the instant fee accrues to LPs.
	MaxSingleWithdrawalRatioBps: 2_500, // No instant withdrawal may drain >25% of the reserve.

	PerWithdrawalCapCore: sdkmath.NewIntWithDecimal(1_000_000, 18), // 1,000,000 CORE
	PerWithdrawalCapBtc:  sdkmath.NewInt(10_000_000_000),           // 100 BTC

	UnbondingPeriodCore: 7 * 24 * time.Hour,
	UnbondingPeriodBtc:  24 * time.Hour,
	// Rationale: CORE is directly delegated and bound by the network's
	// unbonding time; lstBTC is liquid-staked and redeemable much faster.
}

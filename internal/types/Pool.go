/*

This file contains the pool-level state shared by the accounting, rebalance
and reserve components, plus the per-user position record.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Position is a user's stake in the pool. Positions are owned by users but
// accounted centrally; shares themselves live in the external share token.
type Position struct {
	Owner      string      `json:"owner"`
	CoreAmount sdkmath.Int `json:"core_amount"`
	BtcAmount  sdkmath.Int `json:"btc_amount"`
	Shares     sdkmath.Int `json:"shares"`
	Tier       Tier        `json:"tier"`
	OpenedAt   time.Time   `json:"opened_at"`
}

// PoolState is the singleton ledger of pooled and staked balances. It is
// exclusively owned by the engine; all mutation goes through the engine's
// single-writer lock.
//
// Invariant: TotalStakedX <= TotalPooledX for each asset X.
type PoolState struct {
	TotalPooledCore sdkmath.Int `json:"total_pooled_core"`
	TotalPooledBtc  sdkmath.Int `json:"total_pooled_btc"`
	TotalStakedCore sdkmath.Int `json:"total_staked_core"`
	TotalStakedBtc  sdkmath.Int `json:"total_staked_btc"`

	// TargetRatio is the CORE:BTC unit ratio the rebalancer steers towards,
	// taken from the target tier's optimal ratio.
	TargetRatio sdkmath.LegacyDec `json:"target_ratio"`
	TargetTier  Tier              `json:"target_tier"`
}

// NewPoolState returns a zeroed pool aimed at the given tier spec.
func NewPoolState(target TierSpec) PoolState {
	return PoolState{
		TotalPooledCore: sdkmath.ZeroInt(),
		TotalPooledBtc:  sdkmath.ZeroInt(),
		TotalStakedCore: sdkmath.ZeroInt(),
		TotalStakedBtc:  sdkmath.ZeroInt(),
		TargetRatio:     target.OptimalRatio,
		TargetTier:      target.Tier,
	}
}

// Pooled returns the pooled balance for the asset.
func (p PoolState) Pooled(asset AssetKind) sdkmath.Int {
	if asset == AssetCore {
		return p.TotalPooledCore
	}
	return p.TotalPooledBtc
}

// Staked returns the staked balance for the asset.
func (p PoolState) Staked(asset AssetKind) sdkmath.Int {
	if asset == AssetCore {
		return p.TotalStakedCore
	}
	return p.TotalStakedBtc
}

// Unstaked returns the pooled-but-not-staked balance for the asset.
func (p PoolState) Unstaked(asset AssetKind) sdkmath.Int {
	return p.Pooled(asset).Sub(p.Staked(asset))
}

// CheckInvariant verifies staked <= pooled per asset.
func (p PoolState) CheckInvariant() error {
	if p.TotalStakedCore.GT(p.TotalPooledCore) {
		return ErrStakedExceedsPooled
	}
	if p.TotalStakedBtc.GT(p.TotalPooledBtc) {
		return ErrStakedExceedsPooled
	}
	return nil
}

// PoolStatus is the read-only view served to status queries. It is built
// under the write lock and published atomically, so readers never observe a
// half-updated pool.
type PoolStatus struct {
	Tier           Tier              `json:"tier"`
	Ratio          sdkmath.LegacyDec `json:"ratio"`
	TargetRatio    sdkmath.LegacyDec `json:"target_ratio"`
	NeedsRebalance bool              `json:"needs_rebalance"`
	Paused         bool              `json:"paused"`
	TotalValueUsd  sdkmath.LegacyDec `json:"total_value_usd"`
	TotalShares    sdkmath.Int       `json:"total_shares"`
	ReserveHealth  map[string]string `json:"reserve_health"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

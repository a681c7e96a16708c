/*

Collaborator interfaces the engine depends on. These abstract the price
oracle, swap router, validator registry and share token so the engine can
run against a live network client or the in-memory simulation backend.
All methods return explicit errors; the engine classifies failures and
decides retry policy centrally.

*/

package chain

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/dualstake-labs/dsm/internal/types"
)

// PriceOracle supplies fixed-point USD prices per whole unit of an asset.
// Valuation and tier classification must be refused while a feed is stale.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset types.AssetKind) (sdkmath.LegacyDec, error)
	IsStale(ctx context.Context, asset types.AssetKind) (bool, error)
}

// SwapRouter executes a swap between the pooled assets. The engine enforces
// minAmountOut client-side from its slippage parameter; the router must
// return the amount actually received, which is the only figure the engine
// credits to its ledgers.
type SwapRouter interface {
	Swap(
		ctx context.Context,
		assetIn, assetOut types.AssetKind,
		amountIn, minAmountOut sdkmath.Int,
		deadline time.Time,
	) (sdkmath.Int, error)
}

// ValidatorRegistry is the staking network surface: CORE delegation
// management plus the validator info mirror and reward claims.
type ValidatorRegistry interface {
	Delegate(ctx context.Context, validator string, amount sdkmath.Int) error
	Undelegate(ctx context.Context, validator string, amount sdkmath.Int) (sdkmath.Int, error)
	Redelegate(ctx context.Context, from, to string, amount sdkmath.Int) error
	GetValidatorInfo(ctx context.Context, validator string) (types.Validator, error)
	ListValidators(ctx context.Context) ([]types.Validator, error)

	// ClaimRewards harvests accrued staking rewards for compounding and
	// returns the claimed amounts per asset.
	ClaimRewards(ctx context.Context) (core, btc sdkmath.Int, err error)
}

// ShareToken is the external fungible token tracking pool ownership.
type ShareToken interface {
	Mint(ctx context.Context, to string, amount sdkmath.Int) error
	Burn(ctx context.Context, from string, amount sdkmath.Int) error
	TotalSupply(ctx context.Context) (sdkmath.Int, error)
}

// Collaborators bundles everything the engine needs injected.
type Collaborators struct {
	Oracle   PriceOracle
	Router   SwapRouter
	Registry ValidatorRegistry
	Shares   ShareToken
}

/*

Share accounting for pool entry and exit. Shares are minted pro-rata against
the pool's USD value (bootstrap price 1.0) and redeemed against the pool's
current asset mix, never a synthetic single-asset payout.

*/

package accounting

import (
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/types"
	"github.com/dualstake-labs/dsm/internal/utils"
)

// Accountant performs the pool's mint/redeem share math. It is stateless;
// pool totals and the share supply are passed in by the engine, which owns
// them under its write lock.
type Accountant struct {
	logger zerolog.Logger
}

func NewAccountant() *Accountant {
	return &Accountant{logger: logger.GetForComponent("share_accountant")}
}

// SharesToMint computes the shares owed for a contribution. With an empty
// pool the bootstrap price is 1 share per whole USD (scaled to CORE
// decimals so share dust behaves like the primary asset's dust).
func (a *Accountant) SharesToMint(
	contributionUsd, poolTotalUsd sdkmath.LegacyDec,
	totalShares sdkmath.Int,
) (sdkmath.Int, error) {
	if contributionUsd.IsNil() || !contributionUsd.IsPositive() {
		return sdkmath.Int{}, types.ErrInsufficientAmount
	}
	if totalShares.IsNil() {
		return sdkmath.Int{}, utils.ErrAmountNil
	}

	if totalShares.IsZero() {
		shares := contributionUsd.MulInt(sdkmath.NewIntWithDecimal(1, types.CoreDecimals)).TruncateInt()
		a.logger.Debug().Str("shares", shares.String()).Msg("Bootstrap mint at NAV 1.0")
		return shares, nil
	}

	if poolTotalUsd.IsNil() || poolTotalUsd.IsZero() {
		return sdkmath.Int{}, types.ErrDivisionByZero
	}
	return contributionUsd.MulInt(totalShares).Quo(poolTotalUsd).TruncateInt(), nil
}

// AssetsToReturn computes the pro-rata asset amounts a redemption of shares
// is owed: pooledX * shares / totalShares per asset.
func (a *Accountant) AssetsToReturn(
	shares sdkmath.Int,
	pool types.PoolState,
	totalShares sdkmath.Int,
) (coreAmount, btcAmount sdkmath.Int, err error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, types.ErrInsufficientAmount
	}
	if totalShares.IsNil() || totalShares.IsZero() {
		return sdkmath.Int{}, sdkmath.Int{}, types.ErrDivisionByZero
	}
	if shares.GT(totalShares) {
		return sdkmath.Int{}, sdkmath.Int{}, types.ErrInsufficientAmount
	}

	coreAmount = pool.TotalPooledCore.Mul(shares).Quo(totalShares)
	btcAmount = pool.TotalPooledBtc.Mul(shares).Quo(totalShares)
	return coreAmount, btcAmount, nil
}

// PoolTotalUsd values the pooled balances at the given prices.
func (a *Accountant) PoolTotalUsd(
	pool types.PoolState,
	corePrice, btcPrice sdkmath.LegacyDec,
) (sdkmath.LegacyDec, error) {
	coreUsd, err := utils.AmountToUsd(pool.TotalPooledCore, corePrice, types.CoreDecimals)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	btcUsd, err := utils.AmountToUsd(pool.TotalPooledBtc, btcPrice, types.BtcDecimals)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return coreUsd.Add(btcUsd), nil
}

// NavPerShare returns the pool's USD value per outstanding share, the
// figure the status API reports. Returns zero for an empty pool.
func (a *Accountant) NavPerShare(
	poolTotalUsd sdkmath.LegacyDec,
	totalShares sdkmath.Int,
) sdkmath.LegacyDec {
	if totalShares.IsNil() || totalShares.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	scale := sdkmath.LegacyNewDecFromInt(sdkmath.NewIntWithDecimal(1, types.CoreDecimals))
	return poolTotalUsd.Mul(scale).QuoInt(totalShares)
}

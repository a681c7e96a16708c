/*

This file contains the tier classification engine. A deposit's CORE+BTC mix
is valued in USD, assigned the highest tier whose band it reaches, and scored
for a bonus yield that rewards holding the tier's optimal CORE:BTC ratio at
size.

*/

package tier

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/types"
	"github.com/dualstake-labs/dsm/internal/utils"
)

var ErrInvalidTierTable = errors.New("invalid tier table")

// Engine classifies positions against an immutable tier table.
type Engine struct {
	params types.EngineParameters
	logger zerolog.Logger
}

// NewEngine validates the tier table and returns a classification engine.
func NewEngine(params types.EngineParameters) (*Engine, error) {
	if err := types.ValidateTierTable(params.TierTable); err != nil {
		return nil, errors.Join(ErrInvalidTierTable, err)
	}
	return &Engine{
		params: params,
		logger: logger.GetForComponent("tier_engine"),
	}, nil
}

// Classify values the contribution and assigns the highest tier whose band
// it reaches. Returns types.ErrBelowMinimum when the USD value is under the
// global minimum or a contributed asset is under its absolute floor; a zero
// contribution on one side is allowed as long as the other clears the bar.
func (e *Engine) Classify(
	coreAmount, btcAmount sdkmath.Int,
	corePrice, btcPrice sdkmath.LegacyDec,
) (types.Tier, sdkmath.LegacyDec, error) {
	if coreAmount.IsNil() || btcAmount.IsNil() {
		return 0, sdkmath.LegacyDec{}, utils.ErrAmountNil
	}
	if coreAmount.IsNegative() || btcAmount.IsNegative() {
		return 0, sdkmath.LegacyDec{}, utils.ErrAmountNegative
	}
	if coreAmount.IsZero() && btcAmount.IsZero() {
		return 0, sdkmath.LegacyDec{}, types.ErrInsufficientAmount
	}
	if !coreAmount.IsZero() && coreAmount.LT(e.params.CoreFloor) {
		return 0, sdkmath.LegacyDec{}, fmt.Errorf("%w: CORE amount under floor", types.ErrBelowMinimum)
	}
	if !btcAmount.IsZero() && btcAmount.LT(e.params.BtcFloor) {
		return 0, sdkmath.LegacyDec{}, fmt.Errorf("%w: BTC amount under floor", types.ErrBelowMinimum)
	}

	coreUsd, err := utils.AmountToUsd(coreAmount, corePrice, types.CoreDecimals)
	if err != nil {
		return 0, sdkmath.LegacyDec{}, err
	}
	btcUsd, err := utils.AmountToUsd(btcAmount, btcPrice, types.BtcDecimals)
	if err != nil {
		return 0, sdkmath.LegacyDec{}, err
	}
	usdValue := coreUsd.Add(btcUsd)

	if usdValue.LT(e.params.GlobalMinUsd) {
		return 0, sdkmath.LegacyDec{}, fmt.Errorf("%w: %s USD under minimum %s",
			types.ErrBelowMinimum, usdValue, e.params.GlobalMinUsd)
	}

	assigned := e.params.TierTable[0].Tier
	for _, spec := range e.params.TierTable {
		if usdValue.GTE(spec.UsdMin) {
			assigned = spec.Tier
		}
	}

	e.logger.Debug().
		Str("usdValue", usdValue.String()).
		Str("tier", assigned.String()).
		Msg("Position classified")

	return assigned, usdValue, nil
}

// Spec returns the tier spec for the given tier.
func (e *Engine) Spec(t types.Tier) (types.TierSpec, error) {
	for _, spec := range e.params.TierTable {
		if spec.Tier == t {
			return spec, nil
		}
	}
	return types.TierSpec{}, fmt.Errorf("%w: no spec for tier %s", ErrInvalidTierTable, t)
}

// BonusBps computes the bonus yield in basis points for a classified
// position. The bonus rewards proximity to the tier's optimal CORE:BTC
// ratio, scaled up by a saturating order-of-magnitude size step. A position
// with no BTC earns no dual-asset bonus.
func (e *Engine) BonusBps(
	coreAmount, btcAmount sdkmath.Int,
	usdValue sdkmath.LegacyDec,
	t types.Tier,
) (uint32, error) {
	spec, err := e.Spec(t)
	if err != nil {
		return 0, err
	}
	if btcAmount.IsNil() || btcAmount.IsZero() || coreAmount.IsNil() || coreAmount.IsZero() {
		return 0, nil
	}

	coreWhole := sdkmath.LegacyNewDecFromInt(coreAmount).Quo(decPow10(types.CoreDecimals))
	btcWhole := sdkmath.LegacyNewDecFromInt(btcAmount).Quo(decPow10(types.BtcDecimals))
	if btcWhole.IsZero() {
		return 0, nil
	}
	actualRatio := coreWhole.Quo(btcWhole)

	ratioDiff := actualRatio.Sub(spec.OptimalRatio).Abs().Quo(spec.OptimalRatio)
	if ratioDiff.GT(sdkmath.LegacyOneDec()) {
		ratioDiff = sdkmath.LegacyOneDec()
	}
	ratioScore := sdkmath.LegacyOneDec().Sub(ratioDiff)

	sizeBps := e.sizeMultiplierBps(usdValue)

	bonus := ratioScore.MulInt64(int64(spec.MaxBonusBps)).TruncateInt64() + int64(sizeBps)
	if bonus > int64(spec.MaxBonusBps) {
		bonus = int64(spec.MaxBonusBps)
	}
	if bonus < 0 {
		bonus = 0
	}
	return uint32(bonus), nil
}

// sizeMultiplierBps is a step function of the order of magnitude of the USD
// value above $1,000, saturating at MaxSizeMagnitude steps.
func (e *Engine) sizeMultiplierBps(usdValue sdkmath.LegacyDec) uint32 {
	usdFloat, err := usdValue.Float64()
	if err != nil || usdFloat < 1_000 {
		return 0
	}
	magnitude := int(math.Floor(math.Log10(usdFloat / 1_000)))
	if magnitude < 0 {
		magnitude = 0
	}
	if magnitude > e.params.MaxSizeMagnitude {
		magnitude = e.params.MaxSizeMagnitude
	}
	return uint32(magnitude) * e.params.SizeStepBps
}

func decPow10(n int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyOneDec()
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < n; i++ {
		factor = factor.Mul(ten)
	}
	return factor
}

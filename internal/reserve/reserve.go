/*

Instant-withdrawal liquidity reserve. A slice of the pool stays unstaked per
asset so small exits settle immediately for a fee; everything else goes
through the unbonding queue. The reserve target auto-sizes against pooled
liquidity plus queued demand whenever either changes.

The reserve is not self-locking: the engine owns it under its single-writer
lock, the same discipline as the pool ledger.

*/

package reserve

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/types"
	"github.com/dualstake-labs/dsm/internal/utils"
)

var ErrInsufficientReserve = errors.New("insufficient reserve liquidity")

// Reserve tracks per-asset instant liquidity, accrued LP fee rewards and
// the auto-sized reserve targets.
type Reserve struct {
	params types.EngineParameters

	available types.AssetAmounts
	target    types.AssetAmounts
	lpRewards types.AssetAmounts

	queue *Queue

	logger zerolog.Logger
}

func New(params types.EngineParameters) *Reserve {
	return &Reserve{
		params:    params,
		available: types.ZeroAssetAmounts(),
		target:    types.ZeroAssetAmounts(),
		lpRewards: types.ZeroAssetAmounts(),
		queue:     NewQueue(),
		logger:    logger.GetForComponent("liquidity_reserve"),
	}
}

// Queue exposes the unbonding queue owned by the reserve.
func (r *Reserve) Queue() *Queue { return r.queue }

// Available returns the instant liquidity for the asset.
func (r *Reserve) Available(asset types.AssetKind) sdkmath.Int {
	return r.available.Get(asset)
}

// Target returns the current auto-sized reserve target for the asset.
func (r *Reserve) Target(asset types.AssetKind) sdkmath.Int {
	return r.target.Get(asset)
}

// LpRewards returns the accrued liquidity-provider fee share for the asset.
func (r *Reserve) LpRewards(asset types.AssetKind) sdkmath.Int {
	return r.lpRewards.Get(asset)
}

// SetReserveRatioBps retunes the reserve sizing parameter and recomputes
// targets. The ratio is operator-tuned against observed withdrawal demand,
// never derived automatically.
func (r *Reserve) SetReserveRatioBps(bps uint32) error {
	if bps > types.BpsDenominator {
		return fmt.Errorf("reserve ratio %d exceeds %d bps", bps, types.BpsDenominator)
	}
	r.params.ReserveRatioBps = bps
	return r.Retarget()
}

// Credit adds released or freshly deposited liquidity to the reserve.
func (r *Reserve) Credit(asset types.AssetKind, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return utils.ErrAmountNegative
	}
	r.available = r.available.Set(asset, r.available.Get(asset).Add(amount))
	return r.Retarget()
}

// Debit removes liquidity that left the pool through a path other than a
// withdrawal, such as a rebalance swap leg or a delegation.
func (r *Reserve) Debit(asset types.AssetKind, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return utils.ErrAmountNegative
	}
	return r.debit(asset, amount)
}

// debit removes liquidity; callers have already validated coverage.
func (r *Reserve) debit(asset types.AssetKind, amount sdkmath.Int) error {
	if amount.GT(r.available.Get(asset)) {
		return ErrInsufficientReserve
	}
	r.available = r.available.Set(asset, r.available.Get(asset).Sub(amount))
	return r.Retarget()
}

// CanWithdrawInstantly applies the three instant-withdrawal gates: the
// per-withdrawal cap, absolute coverage, and the single-withdrawal share of
// the reserve.
func (r *Reserve) CanWithdrawInstantly(amount sdkmath.Int, asset types.AssetKind) bool {
	if amount.IsNil() || !amount.IsPositive() {
		return false
	}
	if amount.GT(r.params.PerWithdrawalCap(asset)) {
		return false
	}
	avail := r.available.Get(asset)
	if amount.GT(avail) {
		return false
	}
	maxShare, err := utils.ApplyBps(avail, r.params.MaxSingleWithdrawalRatioBps)
	if err != nil {
		return false
	}
	return !amount.GT(maxShare)
}

// WithdrawInstant debits the reserve and settles the instant fee. Returns
// the net payout and the fee; the LP share of the fee is accrued to
// lpRewards, the remainder stays in the pool for all shareholders.
func (r *Reserve) WithdrawInstant(amount sdkmath.Int, asset types.AssetKind) (net, fee sdkmath.Int, err error) {
	if !r.CanWithdrawInstantly(amount, asset) {
		return sdkmath.Int{}, sdkmath.Int{}, ErrInsufficientReserve
	}

	fee, err = utils.ApplyBps(amount, r.params.InstantFeeBps)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	net = amount.Sub(fee)

	if err := r.debit(asset, net); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	lpCut, err := utils.ApplyBps(fee, r.params.LpFeeShareBps)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	r.lpRewards = r.lpRewards.Set(asset, r.lpRewards.Get(asset).Add(lpCut))

	r.logger.Debug().
		Str("asset", asset.String()).
		Str("net", net.String()).
		Str("fee", fee.String()).
		Msg("Instant withdrawal settled")

	return net, fee, nil
}

// Release pays out a ready unbonding request from the reserve. A liquidity
// shortfall leaves the request queued for the next sweep; it is never
// dropped.
func (r *Reserve) Release(req *types.UnbondingRequest) error {
	if req.Amount.GT(r.available.Get(req.Asset)) {
		return fmt.Errorf("%w: request %d needs %s %s, reserve has %s",
			ErrInsufficientReserve, req.ID, req.Amount, req.Asset, r.available.Get(req.Asset))
	}
	return r.debit(req.Asset, req.Amount)
}

// Shortfall reports how much liquidity the asset's reserve is missing. The
// reserve must hold enough to honour the whole pending queue or the sizing
// target, whichever is larger.
func (r *Reserve) Shortfall(asset types.AssetKind) sdkmath.Int {
	needed := sdkmath.MaxInt(r.target.Get(asset), r.queue.PendingTotal(asset))
	avail := r.available.Get(asset)
	if avail.GTE(needed) {
		return sdkmath.ZeroInt()
	}
	return needed.Sub(avail)
}

// Retarget recomputes targetReserve = (available + queued) * ratio per
// asset. Called after every liquidity or queue mutation.
func (r *Reserve) Retarget() error {
	for _, asset := range types.AllAssets {
		base := r.available.Get(asset).Add(r.queue.PendingTotal(asset))
		target, err := utils.ApplyBps(base, r.params.ReserveRatioBps)
		if err != nil {
			return err
		}
		r.target = r.target.Set(asset, target)
	}
	return nil
}

// Health summarises reserve coverage per asset for the status API.
func (r *Reserve) Health() map[string]string {
	health := make(map[string]string, len(types.AllAssets))
	for _, asset := range types.AllAssets {
		avail := r.available.Get(asset)
		target := r.target.Get(asset)
		switch {
		case target.IsZero() || avail.GTE(target):
			health[asset.String()] = "ok"
		case avail.MulRaw(2).GTE(target):
			health[asset.String()] = "under_target"
		default:
			health[asset.String()] = "critical"
		}
	}
	return health
}

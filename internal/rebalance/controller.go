/*

This file contains the rebalance decision and execution loop. The controller
compares the pool's CORE:BTC ratio to the tier-optimal target and, when the
deviation exceeds the threshold with the cooldown elapsed, swaps a bounded
amount through the router with a slippage floor. Repeated execution failures
trip a circuit breaker that only an operator can reset.

State machine: Idle -> Evaluating -> Executing -> {Idle on success, Cooling
on failure}, with a terminal Paused reachable once failureCount reaches
maxFailures inside the failure window.

*/

package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dualstake-labs/dsm/internal/chain"
	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/types"
	"github.com/dualstake-labs/dsm/internal/utils"
)

// InternalCaller marks the deposit/compound trigger path: same threshold and
// cooldown logic, but no keeper reward is ever paid to it.
const InternalCaller = "internal"

var (
	ErrNotResumable = errors.New("circuit breaker cool-off has not elapsed")
	ErrNotPaused    = errors.New("controller is not paused")
)

// Controller owns RebalanceState. It is not self-locking; the engine
// serialises all calls under its single-writer lock.
type Controller struct {
	params types.EngineParameters
	state  types.RebalanceState

	oracle chain.PriceOracle
	router chain.SwapRouter

	now    func() time.Time
	logger zerolog.Logger
}

func NewController(params types.EngineParameters, oracle chain.PriceOracle, router chain.SwapRouter) *Controller {
	return &Controller{
		params: params,
		state: types.RebalanceState{
			Phase:         types.PhaseIdle,
			MinInterval:   params.MinRebalanceInterval,
			MaxFailures:   params.MaxFailures,
			FailureWindow: params.FailureWindow,
		},
		oracle: oracle,
		router: router,
		now:    time.Now,
		logger: logger.GetForComponent("rebalance_controller"),
	}
}

// SetClock overrides the time source. Test hook.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// State returns a copy of the controller's safety state.
func (c *Controller) State() types.RebalanceState { return c.state }

// CurrentRatio returns the pool's CORE:BTC ratio in whole units. A pool
// with no BTC has no meaningful ratio and never needs rebalancing.
func CurrentRatio(pool types.PoolState) (sdkmath.LegacyDec, bool) {
	if pool.TotalPooledBtc.IsNil() || pool.TotalPooledBtc.IsZero() {
		return sdkmath.LegacyZeroDec(), false
	}
	coreWhole := sdkmath.LegacyNewDecFromInt(pool.TotalPooledCore).Quo(pow10(types.CoreDecimals))
	btcWhole := sdkmath.LegacyNewDecFromInt(pool.TotalPooledBtc).Quo(pow10(types.BtcDecimals))
	return coreWhole.Quo(btcWhole), true
}

// NeedsRebalance applies the gating chain: circuit breaker, cooldown, then
// threshold deviation from the target ratio.
func (c *Controller) NeedsRebalance(pool types.PoolState) bool {
	if c.state.Paused {
		return false
	}
	now := c.now()
	if now.Before(c.state.LastRebalanceTime.Add(c.state.MinInterval)) {
		return false
	}
	ratio, ok := CurrentRatio(pool)
	if !ok {
		return false
	}
	if pool.TargetRatio.IsNil() || pool.TargetRatio.IsZero() {
		return false
	}
	deviation := ratio.Sub(pool.TargetRatio).Abs().Quo(pool.TargetRatio)
	return deviation.GT(utils.BpsToDec(c.params.RebalanceThresholdBps))
}

// Rebalance re-validates the decision, executes the bounded swap and pays
// the keeper. The pool ledger is mutated only after the router confirms the
// swap, and only by the amount the router reports out. liquid bounds the
// spendable (unstaked) balance per asset.
//
// The returned snapshot is recorded for failed executions too; persisting it
// is the engine's job.
func (c *Controller) Rebalance(
	ctx context.Context,
	pool *types.PoolState,
	liquid types.AssetAmounts,
	caller string,
) (types.RebalanceReceipt, types.CycleSnapshot, error) {
	now := c.now()
	snapshot := types.CycleSnapshot{
		CycleID:      uuid.New().String(),
		Timestamp:    now,
		Trigger:      caller,
		InitialPool:  *pool,
		TargetRatio:  pool.TargetRatio,
		PlannedIn:    sdkmath.ZeroInt(),
		MinAmountOut: sdkmath.ZeroInt(),
		ActualIn:     sdkmath.ZeroInt(),
		ActualOut:    sdkmath.ZeroInt(),
		KeeperReward: sdkmath.ZeroInt(),
		Direction:    types.SwapNone,
	}
	cycleLogger := c.logger.With().Str("cycle_id", snapshot.CycleID).Str("trigger", caller).Logger()

	if c.state.Paused {
		return types.RebalanceReceipt{}, snapshot, types.ErrPaused
	}

	c.state.Phase = types.PhaseEvaluating
	if !c.NeedsRebalance(*pool) {
		c.state.Phase = types.PhaseIdle
		return types.RebalanceReceipt{}, snapshot, types.ErrNotNeeded
	}

	ratioBefore, _ := CurrentRatio(*pool)
	snapshot.RatioBefore = ratioBefore

	corePrice, btcPrice, err := c.freshPrices(ctx)
	if err != nil {
		c.state.Phase = types.PhaseIdle
		snapshot.FailureCause = err.Error()
		return types.RebalanceReceipt{}, snapshot, err
	}

	direction, amountIn, minOut, err := c.plan(*pool, liquid, ratioBefore, corePrice, btcPrice)
	if err != nil {
		c.state.Phase = types.PhaseIdle
		snapshot.FailureCause = err.Error()
		return types.RebalanceReceipt{}, snapshot, err
	}
	snapshot.Direction = direction
	snapshot.PlannedIn = amountIn
	snapshot.MinAmountOut = minOut

	assetIn, assetOut := types.AssetBtc, types.AssetCore
	if direction == types.SwapCoreToBtc {
		assetIn, assetOut = types.AssetCore, types.AssetBtc
	}

	cycleLogger.Info().
		Str("direction", string(direction)).
		Str("amountIn", amountIn.String()).
		Str("minOut", minOut.String()).
		Str("ratio", ratioBefore.String()).
		Str("target", pool.TargetRatio.String()).
		Msg("Executing rebalance swap")

	c.state.Phase = types.PhaseExecuting
	deadline := now.Add(c.params.SwapDeadline)
	actualOut, err := c.router.Swap(ctx, assetIn, assetOut, amountIn, minOut, deadline)
	if err != nil {
		c.recordFailure(now)
		snapshot.FailureCause = err.Error()
		snapshot.FinalPool = *pool
		cycleLogger.Error().Err(err).Int("failureCount", c.state.FailureCount).Msg("Rebalance swap failed")
		return types.RebalanceReceipt{}, snapshot, fmt.Errorf("swap execution: %w", err)
	}

	// Credit only what the router reports, not what was requested.
	switch direction {
	case types.SwapBtcToCore:
		pool.TotalPooledBtc = pool.TotalPooledBtc.Sub(amountIn)
		pool.TotalPooledCore = pool.TotalPooledCore.Add(actualOut)
	case types.SwapCoreToBtc:
		pool.TotalPooledCore = pool.TotalPooledCore.Sub(amountIn)
		pool.TotalPooledBtc = pool.TotalPooledBtc.Add(actualOut)
	}

	reward := sdkmath.ZeroInt()
	if caller != InternalCaller && c.params.KeeperRewardBps > 0 {
		// The reward is paid from the liquid CORE balance as it stands after
		// the swap; staked CORE is not spendable.
		liquidCore := liquid.Core
		switch direction {
		case types.SwapBtcToCore:
			liquidCore = liquidCore.Add(actualOut)
		case types.SwapCoreToBtc:
			liquidCore = liquidCore.Sub(amountIn)
		}
		reward, err = c.keeperReward(*pool, liquidCore, corePrice, btcPrice)
		if err != nil {
			cycleLogger.Warn().Err(err).Msg("Keeper reward computation failed, paying nothing")
			reward = sdkmath.ZeroInt()
		}
		pool.TotalPooledCore = pool.TotalPooledCore.Sub(reward)
	}

	c.state.FailureCount = 0
	c.state.LastRebalanceTime = now
	c.state.RebalanceCount++
	c.state.Phase = types.PhaseIdle

	ratioAfter, _ := CurrentRatio(*pool)
	receipt := types.RebalanceReceipt{
		Direction:    direction,
		SwappedIn:    amountIn,
		SwappedOut:   actualOut,
		KeeperReward: reward,
		Keeper:       caller,
		RatioBefore:  ratioBefore,
		RatioAfter:   ratioAfter,
	}
	snapshot.ActualIn = amountIn
	snapshot.ActualOut = actualOut
	snapshot.KeeperReward = reward
	snapshot.FinalPool = *pool
	snapshot.RatioAfter = ratioAfter
	snapshot.Success = true

	cycleLogger.Info().
		Str("swappedOut", actualOut.String()).
		Str("keeperReward", reward.String()).
		Str("ratioAfter", ratioAfter.String()).
		Uint64("rebalanceCount", c.state.RebalanceCount).
		Msg("Rebalance completed")

	return receipt, snapshot, nil
}

// Resume clears the circuit breaker. Only valid once the cool-off window
// has elapsed; there is deliberately no automatic resume.
func (c *Controller) Resume() error {
	if !c.state.Paused {
		return ErrNotPaused
	}
	if c.now().Before(c.state.PausedAt.Add(c.params.FailureCooloff)) {
		return ErrNotResumable
	}
	c.state.Paused = false
	c.state.FailureCount = 0
	c.state.Phase = types.PhaseIdle
	c.logger.Warn().Msg("Circuit breaker reset by operator")
	return nil
}

// freshPrices fetches both prices, refusing stale feeds.
func (c *Controller) freshPrices(ctx context.Context) (corePrice, btcPrice sdkmath.LegacyDec, err error) {
	for _, asset := range types.AllAssets {
		stale, err := c.oracle.IsStale(ctx, asset)
		if err != nil {
			return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("oracle staleness check for %s: %w", asset, err)
		}
		if stale {
			return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", types.ErrStalePrice, asset)
		}
	}
	corePrice, err = c.oracle.GetPrice(ctx, types.AssetCore)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	btcPrice, err = c.oracle.GetPrice(ctx, types.AssetBtc)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	return corePrice, btcPrice, nil
}

// plan computes swap direction, a bounded input amount and the slippage
// floor. The swap size targets the exact ratio restoration but never
// exceeds half of the smaller pooled asset (by USD value), nor the liquid
// balance of the asset being sold.
func (c *Controller) plan(
	pool types.PoolState,
	liquid types.AssetAmounts,
	ratio sdkmath.LegacyDec,
	corePrice, btcPrice sdkmath.LegacyDec,
) (types.SwapDirection, sdkmath.Int, sdkmath.Int, error) {
	coreWhole := sdkmath.LegacyNewDecFromInt(pool.TotalPooledCore).Quo(pow10(types.CoreDecimals))
	btcWhole := sdkmath.LegacyNewDecFromInt(pool.TotalPooledBtc).Quo(pow10(types.BtcDecimals))
	target := pool.TargetRatio

	// CORE units one BTC unit buys at oracle prices.
	k := btcPrice.Quo(corePrice)

	var direction types.SwapDirection
	var assetIn types.AssetKind
	var inWhole sdkmath.LegacyDec
	if ratio.LT(target) {
		// Too little CORE: sell x BTC so (C + x*k) / (B - x) == T.
		direction = types.SwapBtcToCore
		assetIn = types.AssetBtc
		inWhole = target.Mul(btcWhole).Sub(coreWhole).Quo(target.Add(k))
	} else {
		// Too much CORE: sell y CORE so (C - y) / (B + y/k) == T.
		direction = types.SwapCoreToBtc
		assetIn = types.AssetCore
		inWhole = coreWhole.Sub(target.Mul(btcWhole)).Quo(sdkmath.LegacyOneDec().Add(target.Quo(k)))
	}
	if !inWhole.IsPositive() {
		return types.SwapNone, sdkmath.Int{}, sdkmath.Int{}, types.ErrNotNeeded
	}

	amountIn := inWhole.Mul(pow10(assetIn.Decimals())).TruncateInt()

	// Cap: half of the pooled balance being sold.
	amountIn = utils.MinInt(amountIn, pool.Pooled(assetIn).QuoRaw(2))

	// Cap: half of the smaller pooled asset by USD value, in sell units.
	coreUsd, err := utils.AmountToUsd(pool.TotalPooledCore, corePrice, types.CoreDecimals)
	if err != nil {
		return types.SwapNone, sdkmath.Int{}, sdkmath.Int{}, err
	}
	btcUsd, err := utils.AmountToUsd(pool.TotalPooledBtc, btcPrice, types.BtcDecimals)
	if err != nil {
		return types.SwapNone, sdkmath.Int{}, sdkmath.Int{}, err
	}
	smallerUsd := sdkmath.LegacyMinDec(coreUsd, btcUsd)
	priceIn := corePrice
	if assetIn == types.AssetBtc {
		priceIn = btcPrice
	}
	capBySmaller, err := utils.UsdToAmount(smallerUsd.QuoInt64(2), priceIn, assetIn.Decimals())
	if err != nil {
		return types.SwapNone, sdkmath.Int{}, sdkmath.Int{}, err
	}
	amountIn = utils.MinInt(amountIn, capBySmaller)

	// Cap: only liquid (unstaked) balance can be swapped.
	amountIn = utils.MinInt(amountIn, liquid.Get(assetIn))

	if !amountIn.IsPositive() {
		return types.SwapNone, sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: no liquid balance to swap", types.ErrNotNeeded)
	}

	// Slippage floor from the oracle mid.
	priceOut := btcPrice
	outDecimals := types.BtcDecimals
	if direction == types.SwapBtcToCore {
		priceOut = corePrice
		outDecimals = types.CoreDecimals
	}
	inValue := sdkmath.LegacyNewDecFromInt(amountIn).Quo(pow10(assetIn.Decimals())).Mul(priceIn)
	expectedOut := inValue.Quo(priceOut).Mul(pow10(outDecimals)).TruncateInt()
	minOut, err := utils.ApplyBps(expectedOut, uint32(types.BpsDenominator)-c.params.MaxSlippageBps)
	if err != nil {
		return types.SwapNone, sdkmath.Int{}, sdkmath.Int{}, err
	}

	return direction, amountIn, minOut, nil
}

// keeperReward computes the caller's incentive in CORE, clamped to the
// spendable (unstaked) CORE balance so paying it can never push pooled CORE
// below the staked amount.
func (c *Controller) keeperReward(pool types.PoolState, spendable sdkmath.Int, corePrice, btcPrice sdkmath.LegacyDec) (sdkmath.Int, error) {
	coreUsd, err := utils.AmountToUsd(pool.TotalPooledCore, corePrice, types.CoreDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	btcUsd, err := utils.AmountToUsd(pool.TotalPooledBtc, btcPrice, types.BtcDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	rewardUsd := coreUsd.Add(btcUsd).Mul(utils.BpsToDec(c.params.KeeperRewardBps))
	reward, err := utils.UsdToAmount(rewardUsd, corePrice, types.CoreDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if spendable.IsNegative() {
		spendable = sdkmath.ZeroInt()
	}
	return utils.MinInt(reward, spendable), nil
}

// recordFailure advances the circuit breaker. Failures separated by more
// than the failure window restart the count.
func (c *Controller) recordFailure(now time.Time) {
	if !c.state.LastFailureTime.IsZero() && now.Sub(c.state.LastFailureTime) > c.state.FailureWindow {
		c.state.FailureCount = 0
	}
	c.state.FailureCount++
	c.state.LastFailureTime = now
	c.state.Phase = types.PhaseCooling

	if c.state.FailureCount >= c.state.MaxFailures {
		c.state.Paused = true
		c.state.PausedAt = now
		c.state.Phase = types.PhasePaused
		c.logger.Error().
			Int("failureCount", c.state.FailureCount).
			Msg("Circuit breaker tripped, rebalancing halted until operator resume")
	}
}

func pow10(n int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyOneDec()
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < n; i++ {
		factor = factor.Mul(ten)
	}
	return factor
}

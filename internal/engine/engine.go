/*

This file contains the DSM engine, the single owner of all pool state. Every
mutation (deposit, withdrawal, rebalance, compound) runs under one writer
lock, and a read-only status snapshot is republished after each mutation so
API readers never block the writer or observe a half-updated pool.

The engine composes the tier engine, share accountant, validator allocator,
rebalance controller and liquidity reserve, and talks to the outside world
only through the injected chain collaborators.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/dualstake-labs/dsm/internal/accounting"
	"github.com/dualstake-labs/dsm/internal/allocator"
	"github.com/dualstake-labs/dsm/internal/chain"
	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/rebalance"
	"github.com/dualstake-labs/dsm/internal/reserve"
	"github.com/dualstake-labs/dsm/internal/tier"
	"github.com/dualstake-labs/dsm/internal/types"
	"github.com/dualstake-labs/dsm/internal/utils"
)

var (
	ErrRebalanceInFlight = errors.New("a rebalance is already executing")
	ErrUnknownPosition   = errors.New("no position for this owner")
	ErrUnknownRequest    = errors.New("no such unbonding request")
	ErrNotRequestOwner   = errors.New("unbonding request belongs to another user")
)

// CycleRecorder persists rebalance cycle snapshots. The state package
// implements it against Postgres; tests pass a collector.
type CycleRecorder interface {
	SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error)
	NextCycleNumber() (int, error)
}

// Config holds everything needed to construct an Engine.
type Config struct {
	Params        types.EngineParameters
	Collaborators chain.Collaborators

	// Recorder is optional; without it cycles are logged but not persisted.
	Recorder CycleRecorder
}

type Engine struct {
	mu sync.Mutex

	// rebalancing holds true while a rebalance executes so that concurrent
	// keeper calls fail fast instead of queueing on the lock.
	rebalancing atomic.Bool

	params    types.EngineParameters
	pool      types.PoolState
	positions map[string]*types.Position

	tiers      *tier.Engine
	accountant *accounting.Accountant
	alloc      *allocator.Allocator
	controller *rebalance.Controller
	reserve    *reserve.Reserve
	collab     chain.Collaborators
	recorder   CycleRecorder

	status atomic.Value // types.PoolStatus

	now    func() time.Time
	logger zerolog.Logger
}

func New(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	tiers, err := tier.NewEngine(cfg.Params)
	if err != nil {
		return nil, err
	}
	bottom := cfg.Params.TierTable[0]

	e := &Engine{
		params:     cfg.Params,
		pool:       types.NewPoolState(bottom),
		positions:  make(map[string]*types.Position),
		tiers:      tiers,
		accountant: accounting.NewAccountant(),
		alloc:      allocator.New(cfg.Params.RiskCeiling),
		controller: rebalance.NewController(cfg.Params, cfg.Collaborators.Oracle, cfg.Collaborators.Router),
		reserve:    reserve.New(cfg.Params),
		collab:     cfg.Collaborators,
		recorder:   cfg.Recorder,
		now:        time.Now,
		logger:     logger.GetForComponent("dsm_engine"),
	}
	e.status.Store(types.PoolStatus{UpdatedAt: e.now()})

	e.logger.Info().
		Str("targetTier", bottom.Tier.String()).
		Msg("Engine created")

	return e, nil
}

func validateConfig(cfg Config) error {
	if err := cfg.Params.Validate(); err != nil {
		return err
	}
	if cfg.Collaborators.Oracle == nil {
		return fmt.Errorf("price oracle cannot be nil")
	}
	if cfg.Collaborators.Router == nil {
		return fmt.Errorf("swap router cannot be nil")
	}
	if cfg.Collaborators.Registry == nil {
		return fmt.Errorf("validator registry cannot be nil")
	}
	if cfg.Collaborators.Shares == nil {
		return fmt.Errorf("share token cannot be nil")
	}
	return nil
}

// SetClock overrides the time source for the engine and its controller.
// Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.controller.SetClock(now)
}

// Deposit values the contribution, mints shares at the current NAV and
// credits the pool, then deploys excess liquidity to validators and gives
// the rebalancer a chance to run. The minted shares are recorded on the
// caller's position.
func (e *Engine) Deposit(ctx context.Context, owner string, coreAmount, btcAmount sdkmath.Int) (types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshStatus(ctx)

	corePrice, btcPrice, err := e.prices(ctx)
	if err != nil {
		return types.Position{}, err
	}
	assignedTier, usdValue, err := e.tiers.Classify(coreAmount, btcAmount, corePrice, btcPrice)
	if err != nil {
		return types.Position{}, err
	}

	poolUsd, err := e.accountant.PoolTotalUsd(e.pool, corePrice, btcPrice)
	if err != nil {
		return types.Position{}, err
	}
	totalShares, err := e.collab.Shares.TotalSupply(ctx)
	if err != nil {
		return types.Position{}, fmt.Errorf("share supply lookup: %w", err)
	}
	shares, err := e.accountant.SharesToMint(usdValue, poolUsd, totalShares)
	if err != nil {
		return types.Position{}, err
	}
	if err := e.collab.Shares.Mint(ctx, owner, shares); err != nil {
		return types.Position{}, fmt.Errorf("share mint: %w", err)
	}

	e.pool.TotalPooledCore = e.pool.TotalPooledCore.Add(coreAmount)
	e.pool.TotalPooledBtc = e.pool.TotalPooledBtc.Add(btcAmount)
	if err := e.reserve.Credit(types.AssetCore, coreAmount); err != nil {
		return types.Position{}, err
	}
	if err := e.reserve.Credit(types.AssetBtc, btcAmount); err != nil {
		return types.Position{}, err
	}

	pos := e.positions[owner]
	if pos == nil {
		pos = &types.Position{
			Owner:      owner,
			CoreAmount: sdkmath.ZeroInt(),
			BtcAmount:  sdkmath.ZeroInt(),
			Shares:     sdkmath.ZeroInt(),
			OpenedAt:   e.now(),
		}
		e.positions[owner] = pos
	}
	pos.CoreAmount = pos.CoreAmount.Add(coreAmount)
	pos.BtcAmount = pos.BtcAmount.Add(btcAmount)
	pos.Shares = pos.Shares.Add(shares)
	if posTier, _, err := e.tiers.Classify(pos.CoreAmount, pos.BtcAmount, corePrice, btcPrice); err == nil {
		pos.Tier = posTier
	}

	e.retier(corePrice, btcPrice)

	if err := e.deployExcessCore(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Could not deploy excess liquidity, funds stay in reserve")
	}

	// Deposits may push the ratio over the threshold; correcting it here
	// earns no keeper reward.
	if _, err := e.rebalanceLocked(ctx, rebalance.InternalCaller); err != nil &&
		!errors.Is(err, types.ErrNotNeeded) && !errors.Is(err, types.ErrPaused) {
		e.logger.Warn().Err(err).Msg("Post-deposit rebalance attempt failed")
	}

	e.logger.Info().
		Str("owner", owner).
		Str("tier", assignedTier.String()).
		Str("usdValue", usdValue.String()).
		Str("shares", shares.String()).
		Msg("Deposit accepted")

	return *pos, nil
}

// RequestWithdrawal burns shares at the current pool mix and either pays out
// instantly from the reserve or queues per-asset unbonding requests. Shares
// are burned up front in both paths; a queued request is a fixed asset claim,
// not a share claim.
func (e *Engine) RequestWithdrawal(ctx context.Context, owner string, shares sdkmath.Int) (types.WithdrawalTicket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshStatus(ctx)

	pos := e.positions[owner]
	if pos == nil {
		return types.WithdrawalTicket{}, ErrUnknownPosition
	}
	if shares.IsNil() || !shares.IsPositive() || shares.GT(pos.Shares) {
		return types.WithdrawalTicket{}, types.ErrInsufficientAmount
	}

	totalShares, err := e.collab.Shares.TotalSupply(ctx)
	if err != nil {
		return types.WithdrawalTicket{}, fmt.Errorf("share supply lookup: %w", err)
	}
	coreOut, btcOut, err := e.accountant.AssetsToReturn(shares, e.pool, totalShares)
	if err != nil {
		return types.WithdrawalTicket{}, err
	}

	if err := e.collab.Shares.Burn(ctx, owner, shares); err != nil {
		return types.WithdrawalTicket{}, fmt.Errorf("share burn: %w", err)
	}
	pos.Shares = pos.Shares.Sub(shares)
	pos.CoreAmount = pos.CoreAmount.Sub(utils.MinInt(pos.CoreAmount, coreOut))
	pos.BtcAmount = pos.BtcAmount.Sub(utils.MinInt(pos.BtcAmount, btcOut))

	instant := (coreOut.IsZero() || e.reserve.CanWithdrawInstantly(coreOut, types.AssetCore)) &&
		(btcOut.IsZero() || e.reserve.CanWithdrawInstantly(btcOut, types.AssetBtc))

	ticket := types.WithdrawalTicket{
		Owner:      owner,
		Instant:    instant,
		CoreAmount: sdkmath.ZeroInt(),
		BtcAmount:  sdkmath.ZeroInt(),
		FeeCore:    sdkmath.ZeroInt(),
		FeeBtc:     sdkmath.ZeroInt(),
	}

	if instant {
		if coreOut.IsPositive() {
			net, fee, err := e.reserve.WithdrawInstant(coreOut, types.AssetCore)
			if err != nil {
				return types.WithdrawalTicket{}, err
			}
			e.pool.TotalPooledCore = e.pool.TotalPooledCore.Sub(net)
			ticket.CoreAmount, ticket.FeeCore = net, fee
		}
		if btcOut.IsPositive() {
			net, fee, err := e.reserve.WithdrawInstant(btcOut, types.AssetBtc)
			if err != nil {
				return types.WithdrawalTicket{}, err
			}
			e.pool.TotalPooledBtc = e.pool.TotalPooledBtc.Sub(net)
			ticket.BtcAmount, ticket.FeeBtc = net, fee
		}
		e.logger.Info().
			Str("owner", owner).
			Str("core", ticket.CoreAmount.String()).
			Str("btc", ticket.BtcAmount.String()).
			Msg("Instant withdrawal paid")
		return ticket, nil
	}

	now := e.now()
	queue := e.reserve.Queue()
	if coreOut.IsPositive() {
		req := queue.Enqueue(owner, coreOut, types.AssetCore, now, e.params.UnbondingPeriod(types.AssetCore))
		ticket.RequestIDs = append(ticket.RequestIDs, req.ID)
		ticket.CoreAmount = coreOut
		if req.UnlockTime.After(ticket.UnlockTime) {
			ticket.UnlockTime = req.UnlockTime
		}
	}
	if btcOut.IsPositive() {
		req := queue.Enqueue(owner, btcOut, types.AssetBtc, now, e.params.UnbondingPeriod(types.AssetBtc))
		ticket.RequestIDs = append(ticket.RequestIDs, req.ID)
		ticket.BtcAmount = btcOut
		if req.UnlockTime.After(ticket.UnlockTime) {
			ticket.UnlockTime = req.UnlockTime
		}
	}
	if err := e.reserve.Retarget(); err != nil {
		return types.WithdrawalTicket{}, err
	}

	// Start undelegating now so the liquidity is back before the requests
	// unlock.
	if err := e.coverCoreShortfall(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Shortfall coverage incomplete, sweep will retry")
	}

	e.logger.Info().
		Str("owner", owner).
		Uints64("requestIDs", ticket.RequestIDs).
		Time("unlockTime", ticket.UnlockTime).
		Msg("Withdrawal queued")

	return ticket, nil
}

// ProcessWithdrawal pays out a matured unbonding request. A reserve
// shortfall triggers an undelegation attempt and a retry; if liquidity is
// still missing the request stays queued and the caller can try again.
func (e *Engine) ProcessWithdrawal(ctx context.Context, owner string, requestID uint64) (types.UnbondingRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshStatus(ctx)

	req := e.reserve.Queue().Get(requestID)
	if req == nil {
		return types.UnbondingRequest{}, ErrUnknownRequest
	}
	if req.User != owner {
		return types.UnbondingRequest{}, ErrNotRequestOwner
	}
	if req.Processed {
		return types.UnbondingRequest{}, types.ErrAlreadyProcessed
	}
	if !req.Ready(e.now()) {
		return types.UnbondingRequest{}, fmt.Errorf("%w: unlocks at %s", types.ErrNotYetUnlocked, req.UnlockTime)
	}

	if err := e.reserve.Release(req); err != nil {
		if cerr := e.coverCoreShortfall(ctx); cerr != nil {
			e.logger.Warn().Err(cerr).Msg("Shortfall coverage during release failed")
		}
		if err = e.reserve.Release(req); err != nil {
			return types.UnbondingRequest{}, err
		}
	}
	if err := e.reserve.Queue().MarkProcessed(req.ID, e.now()); err != nil {
		return types.UnbondingRequest{}, err
	}

	switch req.Asset {
	case types.AssetCore:
		e.pool.TotalPooledCore = e.pool.TotalPooledCore.Sub(req.Amount)
	case types.AssetBtc:
		e.pool.TotalPooledBtc = e.pool.TotalPooledBtc.Sub(req.Amount)
	}

	e.logger.Info().
		Uint64("requestID", req.ID).
		Str("asset", req.Asset.String()).
		Str("amount", req.Amount.String()).
		Msg("Unbonding request paid")

	return *req, nil
}

// Rebalance is the keeper entry point. Concurrent calls do not stack: the
// second caller gets ErrRebalanceInFlight immediately instead of queueing
// behind the first.
func (e *Engine) Rebalance(ctx context.Context, caller string) (types.RebalanceReceipt, error) {
	if !e.rebalancing.CompareAndSwap(false, true) {
		return types.RebalanceReceipt{}, ErrRebalanceInFlight
	}
	defer e.rebalancing.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshStatus(ctx)

	return e.rebalanceLocked(ctx, caller)
}

// rebalanceLocked runs one rebalance cycle under the held lock and settles
// the reserve by the amounts the router actually moved.
func (e *Engine) rebalanceLocked(ctx context.Context, caller string) (types.RebalanceReceipt, error) {
	liquid := types.AssetAmounts{
		Core: e.reserve.Available(types.AssetCore),
		Btc:  e.reserve.Available(types.AssetBtc),
	}

	receipt, snapshot, err := e.controller.Rebalance(ctx, &e.pool, liquid, caller)
	e.recordCycle(snapshot)
	if err != nil {
		return types.RebalanceReceipt{}, err
	}

	assetIn, assetOut := types.AssetBtc, types.AssetCore
	if receipt.Direction == types.SwapCoreToBtc {
		assetIn, assetOut = types.AssetCore, types.AssetBtc
	}
	if derr := e.reserve.Debit(assetIn, receipt.SwappedIn); derr != nil {
		return types.RebalanceReceipt{}, derr
	}
	if cerr := e.reserve.Credit(assetOut, receipt.SwappedOut); cerr != nil {
		return types.RebalanceReceipt{}, cerr
	}
	// The controller clamps the reward to the liquid CORE balance, so the
	// receipt amount is always covered here.
	if receipt.KeeperReward.IsPositive() {
		if derr := e.reserve.Debit(types.AssetCore, receipt.KeeperReward); derr != nil {
			return types.RebalanceReceipt{}, derr
		}
	}
	return receipt, nil
}

// Compound claims staking rewards and folds them into the pool, lifting the
// NAV for every shareholder.
func (e *Engine) Compound(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshStatus(ctx)

	coreRewards, btcRewards, err := e.collab.Registry.ClaimRewards(ctx)
	if err != nil {
		return fmt.Errorf("reward claim: %w", err)
	}
	if !coreRewards.IsPositive() && !btcRewards.IsPositive() {
		return nil
	}

	if coreRewards.IsPositive() {
		e.pool.TotalPooledCore = e.pool.TotalPooledCore.Add(coreRewards)
		if err := e.reserve.Credit(types.AssetCore, coreRewards); err != nil {
			return err
		}
	}
	if btcRewards.IsPositive() {
		e.pool.TotalPooledBtc = e.pool.TotalPooledBtc.Add(btcRewards)
		if err := e.reserve.Credit(types.AssetBtc, btcRewards); err != nil {
			return err
		}
	}

	e.logger.Info().
		Str("coreRewards", coreRewards.String()).
		Str("btcRewards", btcRewards.String()).
		Msg("Rewards compounded")

	if err := e.deployExcessCore(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Could not redeploy compounded rewards")
	}
	return nil
}

// Sweep is the scheduler's housekeeping pass: cover reserve shortfalls by
// undelegating, pay out every matured unbonding request, then resize the
// reserve targets. Users do not have to claim matured requests themselves.
func (e *Engine) Sweep(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshStatus(ctx)

	if err := e.coverCoreShortfall(ctx); err != nil {
		return err
	}
	e.processReadyRequests(ctx)
	return e.reserve.Retarget()
}

// processReadyRequests releases every matured queue entry the reserve can
// cover. Entries the reserve cannot cover stay queued and are retried on the
// next sweep; they are never dropped. Callers hold the write lock.
func (e *Engine) processReadyRequests(ctx context.Context) {
	for _, req := range e.reserve.Queue().Ready(e.now()) {
		if err := e.reserve.Release(req); err != nil {
			if cerr := e.coverCoreShortfall(ctx); cerr != nil {
				e.logger.Warn().Err(cerr).Msg("Shortfall coverage during sweep failed")
			}
			if err = e.reserve.Release(req); err != nil {
				e.logger.Warn().Err(err).
					Uint64("requestID", req.ID).
					Msg("Matured request still uncovered, stays queued")
				continue
			}
		}
		if err := e.reserve.Queue().MarkProcessed(req.ID, e.now()); err != nil {
			e.logger.Error().Err(err).Uint64("requestID", req.ID).Msg("Release bookkeeping failed")
			continue
		}
		switch req.Asset {
		case types.AssetCore:
			e.pool.TotalPooledCore = e.pool.TotalPooledCore.Sub(req.Amount)
		case types.AssetBtc:
			e.pool.TotalPooledBtc = e.pool.TotalPooledBtc.Sub(req.Amount)
		}
		e.logger.Info().
			Uint64("requestID", req.ID).
			Str("asset", req.Asset.String()).
			Str("amount", req.Amount.String()).
			Str("user", req.User).
			Msg("Matured unbonding request paid by sweep")
	}
}

// Resume clears the rebalance circuit breaker. Operator only.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.refreshStatus(ctx)

	return e.controller.Resume()
}

// Status returns the last published snapshot without taking the write lock.
func (e *Engine) Status() types.PoolStatus {
	return e.status.Load().(types.PoolStatus)
}

// Position returns a copy of the owner's position.
func (e *Engine) Position(owner string) (types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.positions[owner]
	if pos == nil {
		return types.Position{}, ErrUnknownPosition
	}
	return *pos, nil
}

// RebalanceState exposes the controller's safety state for the API.
func (e *Engine) RebalanceState() types.RebalanceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controller.State()
}

// Params returns the engine's parameter set.
func (e *Engine) Params() types.EngineParameters { return e.params }

// QueueDepths reports the number of pending withdrawal requests per asset.
func (e *Engine) QueueDepths() map[types.AssetKind]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	depths := make(map[types.AssetKind]int, len(types.AllAssets))
	for _, asset := range types.AllAssets {
		depths[asset] = e.reserve.Queue().PendingCountFor(asset)
	}
	return depths
}

// Validators lists the registry's current validator set.
func (e *Engine) Validators(ctx context.Context) ([]types.Validator, error) {
	return e.collab.Registry.ListValidators(ctx)
}

// retier reclassifies the aggregate pool and repoints the target ratio at
// the new tier's optimum. A pool still under the global minimum keeps its
// previous target.
func (e *Engine) retier(corePrice, btcPrice sdkmath.LegacyDec) {
	poolTier, _, err := e.tiers.Classify(e.pool.TotalPooledCore, e.pool.TotalPooledBtc, corePrice, btcPrice)
	if err != nil {
		return
	}
	if poolTier == e.pool.TargetTier {
		return
	}
	spec, err := e.tiers.Spec(poolTier)
	if err != nil {
		return
	}
	e.logger.Info().
		Str("from", e.pool.TargetTier.String()).
		Str("to", poolTier.String()).
		Str("targetRatio", spec.OptimalRatio.String()).
		Msg("Pool tier changed")
	e.pool.TargetTier = poolTier
	e.pool.TargetRatio = spec.OptimalRatio
}

// deployExcessCore delegates reserve CORE above the sizing target across
// the eligible validator set, minimal-move style. BTC is never delegated;
// its liquid staking yield accrues through reward claims.
func (e *Engine) deployExcessCore(ctx context.Context) error {
	excess := e.reserve.Available(types.AssetCore).Sub(e.reserve.Target(types.AssetCore))
	if !excess.IsPositive() {
		return nil
	}

	validators, err := e.collab.Registry.ListValidators(ctx)
	if err != nil {
		return fmt.Errorf("validator listing: %w", err)
	}
	weights := e.alloc.OptimalDistribution(validators)
	if len(weights) == 0 {
		e.logger.Warn().Msg("No eligible validators, liquidity stays in reserve")
		return nil
	}

	totalStake := e.pool.TotalStakedCore.Add(excess)
	plan, err := e.alloc.PlanTransfers(validators, weights, totalStake)
	if err != nil {
		return err
	}
	for _, step := range plan {
		if step.From == "" {
			err = e.collab.Registry.Delegate(ctx, step.To, step.Amount)
		} else {
			err = e.collab.Registry.Redelegate(ctx, step.From, step.To, step.Amount)
		}
		if err != nil {
			return fmt.Errorf("delegation step to %s: %w", step.To, err)
		}
	}

	if err := e.reserve.Debit(types.AssetCore, excess); err != nil {
		return err
	}
	e.pool.TotalStakedCore = e.pool.TotalStakedCore.Add(excess)

	e.logger.Info().
		Str("amount", excess.String()).
		Int("steps", len(plan)).
		Msg("Excess liquidity delegated")

	return e.pool.CheckInvariant()
}

// coverCoreShortfall undelegates from the worst validators to refill the
// CORE reserve. Whatever the delegations cannot cover waits for the next
// sweep.
func (e *Engine) coverCoreShortfall(ctx context.Context) error {
	shortfall := e.reserve.Shortfall(types.AssetCore)
	if !shortfall.IsPositive() {
		return nil
	}

	validators, err := e.collab.Registry.ListValidators(ctx)
	if err != nil {
		return fmt.Errorf("validator listing: %w", err)
	}
	plan, uncovered := e.alloc.UndelegationPlan(validators, shortfall)
	for _, step := range plan {
		released, err := e.collab.Registry.Undelegate(ctx, step.Validator, step.Amount)
		if err != nil {
			return fmt.Errorf("undelegation from %s: %w", step.Validator, err)
		}
		e.pool.TotalStakedCore = e.pool.TotalStakedCore.Sub(released)
		if err := e.reserve.Credit(types.AssetCore, released); err != nil {
			return err
		}
	}
	if uncovered.IsPositive() {
		e.logger.Warn().
			Str("uncovered", uncovered.String()).
			Msg("Reserve shortfall not fully covered by delegations")
	}
	return nil
}

// recordCycle numbers and persists a cycle snapshot when a recorder is
// configured. Persistence failures are logged, never fatal.
func (e *Engine) recordCycle(snapshot types.CycleSnapshot) {
	if e.recorder == nil {
		return
	}
	n, err := e.recorder.NextCycleNumber()
	if err != nil {
		e.logger.Error().Err(err).Msg("Cycle counter unavailable, snapshot not persisted")
		return
	}
	snapshot.CycleNumber = n
	if _, err := e.recorder.SaveCycleSnapshot(snapshot); err != nil {
		e.logger.Error().Err(err).Str("cycleID", snapshot.CycleID).Msg("Cycle snapshot persistence failed")
	}
}

// refreshStatus rebuilds and atomically republishes the read-only snapshot.
// Callers hold the write lock.
func (e *Engine) refreshStatus(ctx context.Context) {
	status := types.PoolStatus{
		Tier:           e.pool.TargetTier,
		TargetRatio:    e.pool.TargetRatio,
		Paused:         e.controller.State().Paused,
		NeedsRebalance: e.controller.NeedsRebalance(e.pool),
		ReserveHealth:  e.reserve.Health(),
		TotalShares:    sdkmath.ZeroInt(),
		TotalValueUsd:  sdkmath.LegacyZeroDec(),
		Ratio:          sdkmath.LegacyZeroDec(),
		UpdatedAt:      e.now(),
	}
	if ratio, ok := rebalance.CurrentRatio(e.pool); ok {
		status.Ratio = ratio
	}
	if corePrice, btcPrice, err := e.prices(ctx); err == nil {
		if usd, err := e.accountant.PoolTotalUsd(e.pool, corePrice, btcPrice); err == nil {
			status.TotalValueUsd = usd
		}
	}
	if supply, err := e.collab.Shares.TotalSupply(ctx); err == nil {
		status.TotalShares = supply
	}
	e.status.Store(status)
}

// prices fetches both oracle prices, refusing stale feeds.
func (e *Engine) prices(ctx context.Context) (corePrice, btcPrice sdkmath.LegacyDec, err error) {
	for _, asset := range types.AllAssets {
		stale, serr := e.collab.Oracle.IsStale(ctx, asset)
		if serr != nil {
			return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("oracle staleness check for %s: %w", asset, serr)
		}
		if stale {
			return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", types.ErrStalePrice, asset)
		}
	}
	corePrice, err = e.collab.Oracle.GetPrice(ctx, types.AssetCore)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	btcPrice, err = e.collab.Oracle.GetPrice(ctx, types.AssetBtc)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	return corePrice, btcPrice, nil
}

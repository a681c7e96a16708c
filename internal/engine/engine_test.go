package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualstake-labs/dsm/internal/chain"
	"github.com/dualstake-labs/dsm/internal/config"
	"github.com/dualstake-labs/dsm/internal/rebalance"
	"github.com/dualstake-labs/dsm/internal/types"
)

func coreUnits(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, types.CoreDecimals)
}

func btcSats(n int64) sdkmath.Int {
	return sdkmath.NewInt(n)
}

type memRecorder struct {
	counter   int
	snapshots []types.CycleSnapshot
}

func (m *memRecorder) SaveCycleSnapshot(s types.CycleSnapshot) (int64, error) {
	m.snapshots = append(m.snapshots, s)
	return int64(len(m.snapshots)), nil
}

func (m *memRecorder) NextCycleNumber() (int, error) {
	m.counter++
	return m.counter, nil
}

type engineFixture struct {
	engine   *Engine
	oracle   *chain.SimOracle
	router   *chain.SimRouter
	registry *chain.SimRegistry
	shares   *chain.SimShareToken
	recorder *memRecorder
	clock    time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	oracle := chain.NewSimOracle(sdkmath.LegacyOneDec(), sdkmath.LegacyNewDec(50_000))
	router := chain.NewSimRouter(oracle, 10)
	registry := chain.NewSimRegistry([]types.Validator{
		{
			Address:      "corevaloper1aaa",
			IsActive:     true,
			RiskScore:    sdkmath.LegacyNewDecWithPrec(20, 2),
			EffectiveAPY: sdkmath.LegacyNewDecWithPrec(6, 2),
		},
		{
			Address:      "corevaloper1bbb",
			IsActive:     true,
			RiskScore:    sdkmath.LegacyNewDecWithPrec(30, 2),
			EffectiveAPY: sdkmath.LegacyNewDecWithPrec(9, 2),
		},
	})
	shares := chain.NewSimShareToken()
	recorder := &memRecorder{}

	eng, err := New(Config{
		Params: config.DefaultEngineParameters,
		Collaborators: chain.Collaborators{
			Oracle:   oracle,
			Router:   router,
			Registry: registry,
			Shares:   shares,
		},
		Recorder: recorder,
	})
	require.NoError(t, err)

	f := &engineFixture{
		engine:   eng,
		oracle:   oracle,
		router:   router,
		registry: registry,
		shares:   shares,
		recorder: recorder,
		clock:    time.Now().Truncate(time.Second),
	}
	eng.SetClock(func() time.Time { return f.clock })
	return f
}

func TestNew_RejectsMissingCollaborators(t *testing.T) {
	_, err := New(Config{Params: config.DefaultEngineParameters})
	assert.Error(t, err)
}

func TestDeposit_Bootstrap(t *testing.T) {
	f := newEngineFixture(t)

	// 5,000 CORE at $1 plus 1 BTC at $50,000 is a $55,000 Silver position.
	pos, err := f.engine.Deposit(context.Background(), "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	assert.Equal(t, types.TierSilver, pos.Tier)
	assert.Equal(t, coreUnits(55_000).String(), pos.Shares.String(), "bootstrap mints 1 share per whole USD")

	status := f.engine.Status()
	assert.Equal(t, types.TierSilver, status.Tier)
	assert.Equal(t, sdkmath.LegacyNewDec(10_000).String(), status.TargetRatio.String())
	assert.Equal(t, pos.Shares.String(), status.TotalShares.String())

	// The post-deposit pass delegated excess CORE and ran a capped
	// BTC-to-CORE correction, so the ratio moved off 5,000 without
	// overshooting the target.
	assert.True(t, status.Ratio.GT(sdkmath.LegacyNewDec(5_000)))
	assert.True(t, status.Ratio.LTE(status.TargetRatio))

	validators, err := f.engine.Validators(context.Background())
	require.NoError(t, err)
	delegated := sdkmath.ZeroInt()
	for _, v := range validators {
		delegated = delegated.Add(v.DelegatedAmount)
	}
	assert.Equal(t, coreUnits(4_500).String(), delegated.String(),
		"everything above the 10%% reserve target gets delegated")

	require.Len(t, f.recorder.snapshots, 1)
	assert.True(t, f.recorder.snapshots[0].Success)
	assert.Equal(t, rebalance.InternalCaller, f.recorder.snapshots[0].Trigger)
}

func TestDeposit_StaleOracle(t *testing.T) {
	f := newEngineFixture(t)
	f.oracle.SetStale(types.AssetCore, true)

	_, err := f.engine.Deposit(context.Background(), "alice", coreUnits(5_000), btcSats(100_000_000))
	assert.ErrorIs(t, err, types.ErrStalePrice)
}

func TestDeposit_SecondDepositorProRata(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	alice, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)
	bob, err := f.engine.Deposit(ctx, "bob", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	// The internal swap paid a sliver of slippage between the two deposits,
	// so bob's identical contribution buys marginally more shares, never
	// fewer.
	assert.True(t, bob.Shares.GTE(alice.Shares))
	assert.True(t, sdkmath.LegacyNewDecFromInt(bob.Shares).
		Quo(sdkmath.LegacyNewDecFromInt(alice.Shares)).
		LT(sdkmath.LegacyMustNewDecFromStr("1.01")))

	supply, err := f.shares.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice.Shares.Add(bob.Shares).String(), supply.String())
}

func TestRequestWithdrawal_Instant(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	alice, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	// 1% of the position fits through every instant gate.
	small := alice.Shares.QuoRaw(100)
	ticket, err := f.engine.RequestWithdrawal(ctx, "alice", small)
	require.NoError(t, err)

	assert.True(t, ticket.Instant)
	assert.Empty(t, ticket.RequestIDs)
	assert.True(t, ticket.CoreAmount.IsPositive())
	assert.True(t, ticket.BtcAmount.IsPositive())
	assert.True(t, ticket.FeeCore.IsPositive(), "instant convenience fee applies")
	assert.True(t, ticket.FeeBtc.IsPositive())

	supply, err := f.shares.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice.Shares.Sub(small).String(), supply.String(), "shares burn up front")

	remaining, err := f.engine.Position("alice")
	require.NoError(t, err)
	assert.Equal(t, alice.Shares.Sub(small).String(), remaining.Shares.String())
}

func TestRequestWithdrawal_Validation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestWithdrawal(ctx, "nobody", coreUnits(1))
	assert.ErrorIs(t, err, ErrUnknownPosition)

	alice, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	_, err = f.engine.RequestWithdrawal(ctx, "alice", alice.Shares.AddRaw(1))
	assert.ErrorIs(t, err, types.ErrInsufficientAmount)
}

func TestQueuedWithdrawalLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	alice, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	// 60% of the pool cannot clear the instant gates: both legs queue with
	// their asset-specific unbonding periods.
	big := alice.Shares.MulRaw(60).QuoRaw(100)
	ticket, err := f.engine.RequestWithdrawal(ctx, "alice", big)
	require.NoError(t, err)

	assert.False(t, ticket.Instant)
	require.Len(t, ticket.RequestIDs, 2)
	assert.Equal(t, f.clock.Add(7*24*time.Hour), ticket.UnlockTime, "ticket reports the slowest leg")

	coreReq, btcReq := ticket.RequestIDs[0], ticket.RequestIDs[1]

	// Nothing matures early.
	_, err = f.engine.ProcessWithdrawal(ctx, "alice", coreReq)
	assert.ErrorIs(t, err, types.ErrNotYetUnlocked)
	_, err = f.engine.ProcessWithdrawal(ctx, "alice", btcReq)
	assert.ErrorIs(t, err, types.ErrNotYetUnlocked)

	// Only the owner may process.
	_, err = f.engine.ProcessWithdrawal(ctx, "mallory", btcReq)
	assert.ErrorIs(t, err, ErrNotRequestOwner)

	// The BTC leg unlocks after 24h, CORE still waits.
	f.clock = f.clock.Add(25 * time.Hour)
	paid, err := f.engine.ProcessWithdrawal(ctx, "alice", btcReq)
	require.NoError(t, err)
	assert.Equal(t, types.AssetBtc, paid.Asset)
	assert.True(t, paid.Processed)

	_, err = f.engine.ProcessWithdrawal(ctx, "alice", coreReq)
	assert.ErrorIs(t, err, types.ErrNotYetUnlocked)

	// CORE releases after 7 days; the undelegation kicked off at request
	// time has refilled the reserve by then.
	f.clock = f.clock.Add(7 * 24 * time.Hour)
	paid, err = f.engine.ProcessWithdrawal(ctx, "alice", coreReq)
	require.NoError(t, err)
	assert.Equal(t, types.AssetCore, paid.Asset)

	_, err = f.engine.ProcessWithdrawal(ctx, "alice", coreReq)
	assert.ErrorIs(t, err, types.ErrAlreadyProcessed)

	_, err = f.engine.ProcessWithdrawal(ctx, "alice", 999)
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestSweep_PaysMaturedRequests(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	alice, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	big := alice.Shares.MulRaw(60).QuoRaw(100)
	ticket, err := f.engine.RequestWithdrawal(ctx, "alice", big)
	require.NoError(t, err)
	require.Len(t, ticket.RequestIDs, 2)

	// Past both unbonding periods a single sweep pays out every matured leg;
	// the owner never has to come back and claim.
	f.clock = f.clock.Add(8 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx))

	for _, id := range ticket.RequestIDs {
		_, err := f.engine.ProcessWithdrawal(ctx, "alice", id)
		assert.ErrorIs(t, err, types.ErrAlreadyProcessed)
	}
	for asset, depth := range f.engine.QueueDepths() {
		assert.Zero(t, depth, "asset %s still has pending requests", asset)
	}
}

func TestRebalance_KeeperPath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	// The deposit's internal cycle just ran: the cooldown refuses a second
	// one immediately.
	_, err = f.engine.Rebalance(ctx, "keeper-1")
	assert.ErrorIs(t, err, types.ErrNotNeeded)

	f.clock = f.clock.Add(2 * time.Hour)
	receipt, err := f.engine.Rebalance(ctx, "keeper-1")
	require.NoError(t, err)
	assert.True(t, receipt.KeeperReward.IsPositive(), "external keepers earn the reward")
	assert.Equal(t, "keeper-1", receipt.Keeper)
}

func TestRebalance_ConcurrentCallersSingleWinner(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)
	f.clock = f.clock.Add(2 * time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Rebalance(ctx, "keeper-race"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "losers get ErrRebalanceInFlight or ErrNotNeeded, never a double execution")
}

func TestCircuitBreakerThroughEngine(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)
	f.clock = f.clock.Add(2 * time.Hour)

	f.router.FailNext(3)
	for i := 0; i < 3; i++ {
		_, err := f.engine.Rebalance(ctx, "keeper-1")
		require.Error(t, err)
		f.clock = f.clock.Add(time.Minute)
	}

	assert.True(t, f.engine.Status().Paused)
	_, err = f.engine.Rebalance(ctx, "keeper-1")
	assert.ErrorIs(t, err, types.ErrPaused)

	// Failed cycles are recorded alongside the successful deposit cycle.
	assert.Len(t, f.recorder.snapshots, 4)

	assert.ErrorIs(t, f.engine.Resume(ctx), rebalance.ErrNotResumable)

	f.clock = f.clock.Add(13 * time.Hour)
	require.NoError(t, f.engine.Resume(ctx))
	assert.False(t, f.engine.Status().Paused)

	_, err = f.engine.Rebalance(ctx, "keeper-1")
	require.NoError(t, err)
}

func TestCompound_LiftsNav(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)
	before := f.engine.Status().TotalValueUsd

	f.registry.AccrueRewards(coreUnits(100), btcSats(100_000))
	require.NoError(t, f.engine.Compound(ctx))

	after := f.engine.Status().TotalValueUsd
	assert.True(t, after.GT(before), "claimed rewards raise the pool value: %s -> %s", before, after)

	// Nothing new was minted: the gain accrues to existing shareholders.
	supply, err := f.shares.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.engine.Status().TotalShares.String(), supply.String())
}

func TestSweep_RefillsReserve(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	alice, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)

	big := alice.Shares.MulRaw(60).QuoRaw(100)
	_, err = f.engine.RequestWithdrawal(ctx, "alice", big)
	require.NoError(t, err)

	// Sweep is idempotent once the shortfall is covered.
	require.NoError(t, f.engine.Sweep(ctx))
	require.NoError(t, f.engine.Sweep(ctx))
}

func TestRetier_GrowsWithDeposits(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", coreUnits(5_000), btcSats(100_000_000))
	require.NoError(t, err)
	assert.Equal(t, types.TierSilver, f.engine.Status().Tier)

	// A whale pushes the aggregate pool past $1M into Satoshi territory and
	// the target ratio follows the new tier's optimum.
	_, err = f.engine.Deposit(ctx, "whale", coreUnits(500_000), btcSats(2_000_000_000))
	require.NoError(t, err)

	status := f.engine.Status()
	assert.Equal(t, types.TierSatoshi, status.Tier)
	assert.Equal(t, sdkmath.LegacyNewDec(25_000).String(), status.TargetRatio.String())
}

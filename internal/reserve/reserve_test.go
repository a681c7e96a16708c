package reserve

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualstake-labs/dsm/internal/config"
	"github.com/dualstake-labs/dsm/internal/types"
)

func newTestReserve(t *testing.T) *Reserve {
	t.Helper()
	r := New(config.DefaultEngineParameters)
	require.NoError(t, r.Credit(types.AssetCore, sdkmath.NewInt(1_000_000)))
	require.NoError(t, r.Credit(types.AssetBtc, sdkmath.NewInt(1_000_000)))
	return r
}

func TestCanWithdrawInstantly_Gates(t *testing.T) {
	r := newTestReserve(t)

	// Under all three gates: fine.
	assert.True(t, r.CanWithdrawInstantly(sdkmath.NewInt(100_000), types.AssetCore))

	// Over the 25% single-withdrawal share of a 1,000,000 reserve.
	assert.False(t, r.CanWithdrawInstantly(sdkmath.NewInt(300_000), types.AssetCore))

	// Over absolute availability.
	assert.False(t, r.CanWithdrawInstantly(sdkmath.NewInt(2_000_000), types.AssetCore))

	// Zero and negative are rejected.
	assert.False(t, r.CanWithdrawInstantly(sdkmath.ZeroInt(), types.AssetCore))
}

func TestCanWithdrawInstantly_PerWithdrawalCap(t *testing.T) {
	params := config.DefaultEngineParameters
	params.PerWithdrawalCapBtc = sdkmath.NewInt(50_000)
	r := New(params)
	require.NoError(t, r.Credit(types.AssetBtc, sdkmath.NewInt(1_000_000)))

	assert.True(t, r.CanWithdrawInstantly(sdkmath.NewInt(50_000), types.AssetBtc))
	assert.False(t, r.CanWithdrawInstantly(sdkmath.NewInt(50_001), types.AssetBtc))
}

func TestWithdrawInstant_FeeAndLpShare(t *testing.T) {
	r := newTestReserve(t)

	net, fee, err := r.WithdrawInstant(sdkmath.NewInt(100_000), types.AssetCore)
	require.NoError(t, err)

	// 30 bps fee, half of it accrues to LPs.
	assert.True(t, fee.Equal(sdkmath.NewInt(300)), "fee=%s", fee)
	assert.True(t, net.Equal(sdkmath.NewInt(99_700)), "net=%s", net)
	assert.True(t, r.LpRewards(types.AssetCore).Equal(sdkmath.NewInt(150)))
	assert.True(t, r.Available(types.AssetCore).Equal(sdkmath.NewInt(900_300)))
}

func TestQueueLifecycle(t *testing.T) {
	r := newTestReserve(t)
	now := time.Now()

	req := r.Queue().Enqueue("alice", sdkmath.NewInt(5_000), types.AssetBtc, now, 24*time.Hour)
	require.NotNil(t, req)
	assert.Equal(t, uint64(1), req.ID)
	assert.True(t, r.Queue().PendingTotal(types.AssetBtc).Equal(sdkmath.NewInt(5_000)))

	// Not ready before the unbonding period has elapsed.
	assert.Empty(t, r.Queue().Ready(now.Add(time.Hour)))
	assert.False(t, req.Ready(now.Add(time.Hour)))

	ready := r.Queue().Ready(now.Add(25 * time.Hour))
	require.Len(t, ready, 1)

	require.NoError(t, r.Release(ready[0]))
	require.NoError(t, r.Queue().MarkProcessed(ready[0].ID, now.Add(25*time.Hour)))
	assert.True(t, r.Queue().PendingTotal(types.AssetBtc).IsZero())

	// Double-processing is rejected.
	require.ErrorIs(t, r.Queue().MarkProcessed(ready[0].ID, now), types.ErrAlreadyProcessed)
}

func TestRelease_ShortfallKeepsRequestQueued(t *testing.T) {
	params := config.DefaultEngineParameters
	r := New(params)
	require.NoError(t, r.Credit(types.AssetCore, sdkmath.NewInt(1_000)))
	now := time.Now()

	req := r.Queue().Enqueue("bob", sdkmath.NewInt(10_000), types.AssetCore, now, time.Hour)
	ready := r.Queue().Ready(now.Add(2 * time.Hour))
	require.Len(t, ready, 1)

	// The reserve cannot cover the request; it stays queued.
	require.ErrorIs(t, r.Release(ready[0]), ErrInsufficientReserve)
	assert.False(t, req.Processed)
	assert.Equal(t, 1, r.Queue().PendingCount())

	// After liquidity arrives the same request releases cleanly.
	require.NoError(t, r.Credit(types.AssetCore, sdkmath.NewInt(20_000)))
	require.NoError(t, r.Release(ready[0]))
	require.NoError(t, r.Queue().MarkProcessed(req.ID, now.Add(3*time.Hour)))
}

func TestRetarget_TracksQueueAndLiquidity(t *testing.T) {
	r := New(config.DefaultEngineParameters)
	require.NoError(t, r.Credit(types.AssetCore, sdkmath.NewInt(90_000)))

	// 10% of available.
	assert.True(t, r.Target(types.AssetCore).Equal(sdkmath.NewInt(9_000)), "target=%s", r.Target(types.AssetCore))

	// Queued demand raises the target.
	r.Queue().Enqueue("carol", sdkmath.NewInt(10_000), types.AssetCore, time.Now(), time.Hour)
	require.NoError(t, r.Retarget())
	assert.True(t, r.Target(types.AssetCore).Equal(sdkmath.NewInt(10_000)), "target=%s", r.Target(types.AssetCore))

	// Retuning the ratio recomputes immediately.
	require.NoError(t, r.SetReserveRatioBps(2_000))
	assert.True(t, r.Target(types.AssetCore).Equal(sdkmath.NewInt(20_000)))
}

func TestHealth(t *testing.T) {
	r := New(config.DefaultEngineParameters)
	require.NoError(t, r.Credit(types.AssetCore, sdkmath.NewInt(100_000)))

	health := r.Health()
	assert.Equal(t, "ok", health["CORE"])
	assert.Equal(t, "ok", health["BTC"])

	// Drain part of the reserve while a large queue builds up.
	for i := 0; i < 4; i++ {
		_, _, err := r.WithdrawInstant(sdkmath.NewInt(10_000), types.AssetCore)
		require.NoError(t, err)
	}
	r.Queue().Enqueue("dave", sdkmath.NewInt(2_000_000), types.AssetCore, time.Now(), time.Hour)
	require.NoError(t, r.Retarget())

	assert.NotEqual(t, "ok", r.Health()["CORE"])
}

package tier

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualstake-labs/dsm/internal/config"
	"github.com/dualstake-labs/dsm/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultEngineParameters)
	require.NoError(t, err)
	return e
}

func coreUnits(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, types.CoreDecimals)
}

func btcSats(n int64) sdkmath.Int {
	return sdkmath.NewInt(n)
}

func TestClassify_ScenarioSilver(t *testing.T) {
	e := newTestEngine(t)

	// 5,000 CORE + 1 BTC at CORE=$1, BTC=$50,000 => $55,000 => Silver band.
	tierGot, usd, err := e.Classify(
		coreUnits(5_000), btcSats(100_000_000),
		sdkmath.LegacyOneDec(), sdkmath.LegacyNewDec(50_000),
	)
	require.NoError(t, err)
	assert.Equal(t, types.TierSilver, tierGot)
	assert.True(t, usd.Equal(sdkmath.LegacyNewDec(55_000)), "usd=%s", usd)
}

func TestClassify_BelowMinimum(t *testing.T) {
	e := newTestEngine(t)

	// $50 total is under the $100 global minimum.
	_, _, err := e.Classify(
		coreUnits(50), sdkmath.ZeroInt(),
		sdkmath.LegacyOneDec(), sdkmath.LegacyNewDec(50_000),
	)
	require.ErrorIs(t, err, types.ErrBelowMinimum)
}

func TestClassify_AssetFloor(t *testing.T) {
	e := newTestEngine(t)

	// 500 sats is under the 1000-sat floor even though the USD value clears
	// the global minimum via the CORE leg.
	_, _, err := e.Classify(
		coreUnits(5_000), btcSats(500),
		sdkmath.LegacyOneDec(), sdkmath.LegacyNewDec(50_000),
	)
	require.ErrorIs(t, err, types.ErrBelowMinimum)
}

func TestClassify_ZeroBoth(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Classify(
		sdkmath.ZeroInt(), sdkmath.ZeroInt(),
		sdkmath.LegacyOneDec(), sdkmath.LegacyNewDec(50_000),
	)
	require.ErrorIs(t, err, types.ErrInsufficientAmount)
}

func TestClassify_TierMonotonicity(t *testing.T) {
	e := newTestEngine(t)

	// For a fixed ratio, increasing USD value never decreases the tier.
	corePrice := sdkmath.LegacyOneDec()
	btcPrice := sdkmath.LegacyNewDec(50_000)
	prev := types.TierBronze
	for _, scale := range []int64{1, 5, 20, 200, 2_000, 40_000} {
		tierGot, _, err := e.Classify(
			coreUnits(100*scale), btcSats(10_000*scale),
			corePrice, btcPrice,
		)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int(tierGot), int(prev), "scale %d", scale)
		prev = tierGot
	}
}

func TestBonusBps_ScenarioSilver(t *testing.T) {
	e := newTestEngine(t)

	// Ratio 5000:1 vs Silver optimal 10000:1 => ratioScore 0.5.
	// $55,000 => one magnitude step above $1k baseline => +25 bps.
	usd := sdkmath.LegacyNewDec(55_000)
	bonus, err := e.BonusBps(coreUnits(5_000), btcSats(100_000_000), usd, types.TierSilver)
	require.NoError(t, err)
	assert.Equal(t, uint32(275), bonus)
}

func TestBonusBps_NoBtcNoBonus(t *testing.T) {
	e := newTestEngine(t)
	bonus, err := e.BonusBps(coreUnits(100_000), sdkmath.ZeroInt(), sdkmath.LegacyNewDec(100_000), types.TierGold)
	require.NoError(t, err)
	assert.Zero(t, bonus)
}

func TestBonusBps_Bounded(t *testing.T) {
	e := newTestEngine(t)

	spec, err := e.Spec(types.TierSilver)
	require.NoError(t, err)

	cases := []struct {
		name string
		core sdkmath.Int
		btc  sdkmath.Int
		usd  sdkmath.LegacyDec
	}{
		{"optimal ratio huge size", coreUnits(10_000), btcSats(100_000_000), sdkmath.LegacyNewDec(60_000)},
		{"far off ratio", coreUnits(100), btcSats(100_000_000), sdkmath.LegacyNewDec(50_100)},
		{"tiny", coreUnits(50), btcSats(1_000), sdkmath.LegacyNewDec(100)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bonus, err := e.BonusBps(tc.core, tc.btc, tc.usd, types.TierSilver)
			require.NoError(t, err)
			assert.LessOrEqual(t, bonus, spec.MaxBonusBps)
		})
	}
}

func TestBonusBps_SizeStepSaturates(t *testing.T) {
	e := newTestEngine(t)

	// Past the configured max magnitude the step function must stop growing.
	// Ratio far off optimal so the bonus is the size step alone.
	off := coreUnits(1) // ratioScore 0 against any optimal ratio at 1 BTC
	atCap, err := e.BonusBps(off, btcSats(100_000_000), sdkmath.LegacyNewDec(10_000_000), types.TierSatoshi)
	require.NoError(t, err)
	beyondCap, err := e.BonusBps(off, btcSats(100_000_000), sdkmath.LegacyNewDec(1_000_000_000), types.TierSatoshi)
	require.NoError(t, err)
	assert.Equal(t, atCap, beyondCap)
}

func TestValidateTierTable_RejectsGaps(t *testing.T) {
	table := make([]types.TierSpec, len(config.DefaultTierTable))
	copy(table, config.DefaultTierTable)
	table[1].UsdMin = sdkmath.LegacyNewDec(20_000) // gap after Bronze

	params := config.DefaultEngineParameters
	params.TierTable = table
	_, err := NewEngine(params)
	require.ErrorIs(t, err, types.ErrTierTableUnordered)
}

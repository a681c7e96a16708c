package allocator

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualstake-labs/dsm/internal/types"
)

func risk(pct int64) sdkmath.LegacyDec { return sdkmath.LegacyNewDecWithPrec(pct, 2) }
func apy(pct int64) sdkmath.LegacyDec  { return sdkmath.LegacyNewDecWithPrec(pct, 2) }

func testValidators() []types.Validator {
	return []types.Validator{
		{Address: "val-a", IsActive: true, RiskScore: risk(10), EffectiveAPY: apy(6), DelegatedAmount: sdkmath.NewInt(600)},
		{Address: "val-b", IsActive: true, RiskScore: risk(30), EffectiveAPY: apy(9), DelegatedAmount: sdkmath.NewInt(200)},
		{Address: "val-c", IsActive: true, RiskScore: risk(90), EffectiveAPY: apy(15), DelegatedAmount: sdkmath.NewInt(200)},
		{Address: "val-d", IsActive: false, RiskScore: risk(5), EffectiveAPY: apy(7), DelegatedAmount: sdkmath.ZeroInt()},
	}
}

func TestOptimalDistribution_FiltersAndWeights(t *testing.T) {
	a := New(risk(70))
	weights := a.OptimalDistribution(testValidators())

	// val-c is over the risk ceiling, val-d is inactive.
	require.Len(t, weights, 2)
	byAddr := map[string]uint32{}
	total := uint32(0)
	for _, w := range weights {
		byAddr[w.Address] = w.WeightBps
		total += w.WeightBps
	}
	assert.Equal(t, uint32(types.BpsDenominator), total)
	// APY-proportional: 6/15 = 4000 bps, 9/15 = 6000 bps.
	assert.Equal(t, uint32(4_000), byAddr["val-a"])
	assert.Equal(t, uint32(6_000), byAddr["val-b"])
}

func TestOptimalDistribution_ZeroAPYEqualWeights(t *testing.T) {
	a := New(risk(70))
	vals := []types.Validator{
		{Address: "v1", IsActive: true, RiskScore: risk(10), EffectiveAPY: sdkmath.LegacyZeroDec()},
		{Address: "v2", IsActive: true, RiskScore: risk(10), EffectiveAPY: sdkmath.LegacyZeroDec()},
		{Address: "v3", IsActive: true, RiskScore: risk(10), EffectiveAPY: sdkmath.LegacyZeroDec()},
	}
	weights := a.OptimalDistribution(vals)
	require.Len(t, weights, 3)
	total := uint32(0)
	for _, w := range weights {
		assert.InDelta(t, types.BpsDenominator/3, int(w.WeightBps), 1)
		total += w.WeightBps
	}
	assert.Equal(t, uint32(types.BpsDenominator), total)
}

func TestOptimalDistribution_EmptyEligibleSet(t *testing.T) {
	a := New(risk(5))
	weights := a.OptimalDistribution(testValidators())
	assert.Empty(t, weights)
}

func TestPlanTransfers_MinimalMoves(t *testing.T) {
	a := New(risk(70))
	vals := []types.Validator{
		{Address: "val-a", DelegatedAmount: sdkmath.NewInt(600)},
		{Address: "val-b", DelegatedAmount: sdkmath.NewInt(400)},
	}
	weights := []types.ValidatorWeight{
		{Address: "val-a", WeightBps: 4_000},
		{Address: "val-b", WeightBps: 6_000},
	}

	plan, err := a.PlanTransfers(vals, weights, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	// One over-allocated validator, one under-allocated: a single transfer.
	require.Len(t, plan, 1)
	assert.Equal(t, "val-a", plan[0].From)
	assert.Equal(t, "val-b", plan[0].To)
	assert.True(t, plan[0].Amount.Equal(sdkmath.NewInt(200)), "amount=%s", plan[0].Amount)
}

func TestPlanTransfers_FreshDelegationFirst(t *testing.T) {
	a := New(risk(70))
	vals := []types.Validator{
		{Address: "val-a", DelegatedAmount: sdkmath.NewInt(500)},
	}
	weights := []types.ValidatorWeight{
		{Address: "val-a", WeightBps: 5_000},
		{Address: "val-b", WeightBps: 5_000},
	}

	// 500 of 1000 is still undelegated: val-b's deficit is covered from the
	// pool, not by churning val-a.
	plan, err := a.PlanTransfers(vals, weights, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "", plan[0].From)
	assert.Equal(t, "val-b", plan[0].To)
	assert.True(t, plan[0].Amount.Equal(sdkmath.NewInt(500)))
}

func TestPlanTransfers_DrainsDroppedValidator(t *testing.T) {
	a := New(risk(70))
	vals := []types.Validator{
		{Address: "val-a", DelegatedAmount: sdkmath.NewInt(500)},
		{Address: "val-x", DelegatedAmount: sdkmath.NewInt(500)},
	}
	weights := []types.ValidatorWeight{
		{Address: "val-a", WeightBps: types.BpsDenominator},
	}

	plan, err := a.PlanTransfers(vals, weights, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "val-x", plan[0].From)
	assert.Equal(t, "val-a", plan[0].To)
	assert.True(t, plan[0].Amount.Equal(sdkmath.NewInt(500)))
}

func TestUndelegationPlan_WorstFirst(t *testing.T) {
	a := New(risk(70))

	plan, remaining := a.UndelegationPlan(testValidators(), sdkmath.NewInt(300))
	require.True(t, remaining.IsZero())
	require.Len(t, plan, 2)
	// Highest risk first (val-c at 0.90), then val-b.
	assert.Equal(t, "val-c", plan[0].Validator)
	assert.True(t, plan[0].Amount.Equal(sdkmath.NewInt(200)))
	assert.Equal(t, "val-b", plan[1].Validator)
	assert.True(t, plan[1].Amount.Equal(sdkmath.NewInt(100)))
}

func TestUndelegationPlan_PartialCoverage(t *testing.T) {
	a := New(risk(70))

	plan, remaining := a.UndelegationPlan(testValidators(), sdkmath.NewInt(5_000))
	// Total delegated is 1000; the rest is reported back for a later retry.
	assert.True(t, remaining.Equal(sdkmath.NewInt(4_000)), "remaining=%s", remaining)
	assert.Len(t, plan, 3)
}

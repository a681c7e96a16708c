/*

Risk-adjusted validator allocation. The allocator produces deterministic,
side-effect-free recommendations: an APY-proportional weight vector over the
eligible validator set, a minimal transfer plan diffing current against
target, and a worst-validator-first undelegation plan for reserve
shortfalls. Actual delegation calls are issued by the engine.

*/

package allocator

import (
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/types"
	"github.com/dualstake-labs/dsm/internal/utils"
)

// Allocator computes validator stake distributions under a risk ceiling.
type Allocator struct {
	riskCeiling sdkmath.LegacyDec
	logger      zerolog.Logger
}

func New(riskCeiling sdkmath.LegacyDec) *Allocator {
	return &Allocator{
		riskCeiling: riskCeiling,
		logger:      logger.GetForComponent("validator_allocator"),
	}
}

// OptimalDistribution filters to active validators under the risk ceiling
// and weights them proportionally to effective APY. A zero total APY falls
// back to equal weights. An empty eligible set returns an empty
// recommendation; callers treat that as a recoverable no-op.
func (a *Allocator) OptimalDistribution(validators []types.Validator) []types.ValidatorWeight {
	eligible := make([]types.Validator, 0, len(validators))
	for _, v := range validators {
		if v.IsActive && !v.RiskScore.IsNil() && v.RiskScore.LT(a.riskCeiling) {
			eligible = append(eligible, v)
		}
	}
	if len(eligible) == 0 {
		a.logger.Warn().Int("candidates", len(validators)).Msg("No eligible validators under risk ceiling")
		return nil
	}

	// Deterministic output regardless of registry ordering.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Address < eligible[j].Address })

	totalAPY := sdkmath.LegacyZeroDec()
	for _, v := range eligible {
		if !v.EffectiveAPY.IsNil() && v.EffectiveAPY.IsPositive() {
			totalAPY = totalAPY.Add(v.EffectiveAPY)
		}
	}

	weights := make([]types.ValidatorWeight, len(eligible))
	assigned := uint32(0)
	if totalAPY.IsZero() {
		// Equal weights with the division remainder spread over the first
		// entries so the vector always sums to exactly 10000 bps.
		base := uint32(types.BpsDenominator / len(eligible))
		rem := uint32(types.BpsDenominator % len(eligible))
		for i, v := range eligible {
			w := base
			if uint32(i) < rem {
				w++
			}
			weights[i] = types.ValidatorWeight{Address: v.Address, WeightBps: w}
		}
		return weights
	}

	for i, v := range eligible {
		apy := v.EffectiveAPY
		if apy.IsNil() || apy.IsNegative() {
			apy = sdkmath.LegacyZeroDec()
		}
		w := uint32(apy.MulInt64(types.BpsDenominator).Quo(totalAPY).TruncateInt64())
		weights[i] = types.ValidatorWeight{Address: v.Address, WeightBps: w}
		assigned += w
	}
	// Truncation dust goes to the highest-APY validator.
	if assigned < types.BpsDenominator {
		best := 0
		for i := 1; i < len(eligible); i++ {
			if eligible[i].EffectiveAPY.GT(eligible[best].EffectiveAPY) {
				best = i
			}
		}
		weights[best].WeightBps += types.BpsDenominator - assigned
	}
	return weights
}

// PlanTransfers diffs the current delegation map against the recommended
// weights over totalStake and pairs over-allocated validators with
// under-allocated ones greedily, so no more transfers are issued than
// necessary. Stake not yet delegated anywhere is a fresh delegation
// (From == "").
func (a *Allocator) PlanTransfers(
	validators []types.Validator,
	weights []types.ValidatorWeight,
	totalStake sdkmath.Int,
) ([]types.TransferInstruction, error) {
	if totalStake.IsNil() || totalStake.IsNegative() {
		return nil, utils.ErrAmountNegative
	}

	current := make(map[string]sdkmath.Int, len(validators))
	delegated := sdkmath.ZeroInt()
	for _, v := range validators {
		if !v.DelegatedAmount.IsNil() && v.DelegatedAmount.IsPositive() {
			current[v.Address] = v.DelegatedAmount
			delegated = delegated.Add(v.DelegatedAmount)
		}
	}

	target := make(map[string]sdkmath.Int, len(weights))
	for _, w := range weights {
		amt, err := utils.ApplyBps(totalStake, w.WeightBps)
		if err != nil {
			return nil, err
		}
		target[w.Address] = amt
	}

	type bucket struct {
		address string
		amount  sdkmath.Int
	}
	var excesses, deficits []bucket

	// Validators holding stake but absent from the target are fully excess.
	for addr, cur := range current {
		tgt, ok := target[addr]
		if !ok {
			tgt = sdkmath.ZeroInt()
		}
		if cur.GT(tgt) {
			excesses = append(excesses, bucket{addr, cur.Sub(tgt)})
		}
	}
	for addr, tgt := range target {
		cur, ok := current[addr]
		if !ok {
			cur = sdkmath.ZeroInt()
		}
		if tgt.GT(cur) {
			deficits = append(deficits, bucket{addr, tgt.Sub(cur)})
		}
	}

	// Undelegated stake backs fresh delegations before any redelegation.
	if delegated.LT(totalStake) {
		excesses = append([]bucket{{"", totalStake.Sub(delegated)}}, excesses...)
	}

	sort.Slice(excesses, func(i, j int) bool {
		if excesses[i].address == "" {
			return true
		}
		if excesses[j].address == "" {
			return false
		}
		return excesses[i].address < excesses[j].address
	})
	sort.Slice(deficits, func(i, j int) bool { return deficits[i].address < deficits[j].address })

	var plan []types.TransferInstruction
	ei := 0
	for _, d := range deficits {
		remaining := d.amount
		for remaining.IsPositive() && ei < len(excesses) {
			e := &excesses[ei]
			move := utils.MinInt(remaining, e.amount)
			if move.IsPositive() {
				plan = append(plan, types.TransferInstruction{
					From:   e.address,
					To:     d.address,
					Amount: move,
				})
				remaining = remaining.Sub(move)
				e.amount = e.amount.Sub(move)
			}
			if e.amount.IsZero() {
				ei++
			}
		}
	}
	return plan, nil
}

// UndelegationPlan covers amount by undelegating from the worst validators
// first: highest risk score, then lowest APY. Returns the plan and whatever
// part of the amount the delegations could not cover (retried later by the
// reserve sweep, never an error).
func (a *Allocator) UndelegationPlan(
	validators []types.Validator,
	amount sdkmath.Int,
) ([]types.UndelegationStep, sdkmath.Int) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, sdkmath.ZeroInt()
	}

	candidates := make([]types.Validator, 0, len(validators))
	for _, v := range validators {
		if !v.DelegatedAmount.IsNil() && v.DelegatedAmount.IsPositive() {
			candidates = append(candidates, v)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].RiskScore.Equal(candidates[j].RiskScore) {
			return candidates[i].RiskScore.GT(candidates[j].RiskScore)
		}
		if !candidates[i].EffectiveAPY.Equal(candidates[j].EffectiveAPY) {
			return candidates[i].EffectiveAPY.LT(candidates[j].EffectiveAPY)
		}
		return candidates[i].Address < candidates[j].Address
	})

	var plan []types.UndelegationStep
	remaining := amount
	for _, v := range candidates {
		if !remaining.IsPositive() {
			break
		}
		take := utils.MinInt(remaining, v.DelegatedAmount)
		plan = append(plan, types.UndelegationStep{Validator: v.Address, Amount: take})
		remaining = remaining.Sub(take)
	}
	return plan, remaining
}

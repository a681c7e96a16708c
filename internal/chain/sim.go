/*

In-memory simulation backends for the collaborator interfaces. These back
the engine's tests and the non-live run mode; the engine treats them exactly
like a network client.

*/

package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/dualstake-labs/dsm/internal/types"
)

var (
	ErrUnknownValidator = errors.New("unknown validator")
	ErrSlippageExceeded = errors.New("swap output below minimum")
	ErrDeadlineExpired  = errors.New("swap deadline expired")
)

// SimOracle serves fixed prices that tests and the simulation mode can move.
type SimOracle struct {
	mu     sync.RWMutex
	prices map[types.AssetKind]sdkmath.LegacyDec
	stale  map[types.AssetKind]bool
}

func NewSimOracle(corePrice, btcPrice sdkmath.LegacyDec) *SimOracle {
	return &SimOracle{
		prices: map[types.AssetKind]sdkmath.LegacyDec{
			types.AssetCore: corePrice,
			types.AssetBtc:  btcPrice,
		},
		stale: make(map[types.AssetKind]bool),
	}
}

func (o *SimOracle) GetPrice(_ context.Context, asset types.AssetKind) (sdkmath.LegacyDec, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("no price for %s", asset)
	}
	return price, nil
}

func (o *SimOracle) IsStale(_ context.Context, asset types.AssetKind) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stale[asset], nil
}

// SetPrice updates the served price.
func (o *SimOracle) SetPrice(asset types.AssetKind, price sdkmath.LegacyDec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price
}

// SetStale marks a feed stale or fresh.
func (o *SimOracle) SetStale(asset types.AssetKind, stale bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stale[asset] = stale
}

// SimRouter fills swaps at the oracle price shaded by a configurable
// slippage, and can be forced to fail to exercise the circuit breaker.
type SimRouter struct {
	mu          sync.Mutex
	oracle      *SimOracle
	slippageBps uint32
	failNext    int
}

func NewSimRouter(oracle *SimOracle, slippageBps uint32) *SimRouter {
	return &SimRouter{oracle: oracle, slippageBps: slippageBps}
}

// FailNext makes the next n swaps fail with ErrSlippageExceeded.
func (r *SimRouter) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

func (r *SimRouter) Swap(
	ctx context.Context,
	assetIn, assetOut types.AssetKind,
	amountIn, minAmountOut sdkmath.Int,
	deadline time.Time,
) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext > 0 {
		r.failNext--
		return sdkmath.Int{}, ErrSlippageExceeded
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		return sdkmath.Int{}, ErrDeadlineExpired
	}
	if !assetIn.Valid() || !assetOut.Valid() || assetIn == assetOut {
		return sdkmath.Int{}, fmt.Errorf("invalid swap pair %s/%s", assetIn, assetOut)
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.Int{}, types.ErrInsufficientAmount
	}

	priceIn, err := r.oracle.GetPrice(ctx, assetIn)
	if err != nil {
		return sdkmath.Int{}, err
	}
	priceOut, err := r.oracle.GetPrice(ctx, assetOut)
	if err != nil {
		return sdkmath.Int{}, err
	}

	inWhole := sdkmath.LegacyNewDecFromInt(amountIn).Quo(pow10(assetIn.Decimals()))
	outWhole := inWhole.Mul(priceIn).Quo(priceOut)
	out := outWhole.Mul(pow10(assetOut.Decimals())).TruncateInt()

	// Shade the fill by the configured slippage.
	if r.slippageBps > 0 {
		out = out.MulRaw(int64(types.BpsDenominator - r.slippageBps)).QuoRaw(types.BpsDenominator)
	}
	if !minAmountOut.IsNil() && out.LT(minAmountOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: got %s, want >= %s", ErrSlippageExceeded, out, minAmountOut)
	}
	return out, nil
}

// DefaultSimValidators seeds the sim run mode with a small spread of risk
// and yield profiles.
func DefaultSimValidators() []types.Validator {
	return []types.Validator{
		{
			Address:         "corevaloper1sim0low",
			IsActive:        true,
			RiskScore:       sdkmath.LegacyMustNewDecFromStr("0.15"),
			EffectiveAPY:    sdkmath.LegacyMustNewDecFromStr("0.05"),
			DelegatedAmount: sdkmath.ZeroInt(),
		},
		{
			Address:         "corevaloper1sim1mid",
			IsActive:        true,
			RiskScore:       sdkmath.LegacyMustNewDecFromStr("0.30"),
			EffectiveAPY:    sdkmath.LegacyMustNewDecFromStr("0.07"),
			DelegatedAmount: sdkmath.ZeroInt(),
		},
		{
			Address:         "corevaloper1sim2high",
			IsActive:        true,
			RiskScore:       sdkmath.LegacyMustNewDecFromStr("0.45"),
			EffectiveAPY:    sdkmath.LegacyMustNewDecFromStr("0.09"),
			DelegatedAmount: sdkmath.ZeroInt(),
		},
	}
}

// SimRegistry is an in-memory validator set with delegation bookkeeping.
type SimRegistry struct {
	mu         sync.Mutex
	validators map[string]*types.Validator
	order      []string

	pendingRewardCore sdkmath.Int
	pendingRewardBtc  sdkmath.Int
}

func NewSimRegistry(validators []types.Validator) *SimRegistry {
	r := &SimRegistry{
		validators:        make(map[string]*types.Validator, len(validators)),
		pendingRewardCore: sdkmath.ZeroInt(),
		pendingRewardBtc:  sdkmath.ZeroInt(),
	}
	for i := range validators {
		v := validators[i]
		if v.DelegatedAmount.IsNil() {
			v.DelegatedAmount = sdkmath.ZeroInt()
		}
		r.validators[v.Address] = &v
		r.order = append(r.order, v.Address)
	}
	return r
}

func (r *SimRegistry) Delegate(_ context.Context, validator string, amount sdkmath.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[validator]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, validator)
	}
	v.DelegatedAmount = v.DelegatedAmount.Add(amount)
	return nil
}

func (r *SimRegistry) Undelegate(_ context.Context, validator string, amount sdkmath.Int) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[validator]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnknownValidator, validator)
	}
	// Partial fills happen on the live network; mirror that here.
	released := amount
	if v.DelegatedAmount.LT(amount) {
		released = v.DelegatedAmount
	}
	v.DelegatedAmount = v.DelegatedAmount.Sub(released)
	return released, nil
}

func (r *SimRegistry) Redelegate(_ context.Context, from, to string, amount sdkmath.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.validators[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, from)
	}
	dst, ok := r.validators[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, to)
	}
	if src.DelegatedAmount.LT(amount) {
		return fmt.Errorf("redelegate %s from %s exceeds delegation %s", amount, from, src.DelegatedAmount)
	}
	src.DelegatedAmount = src.DelegatedAmount.Sub(amount)
	dst.DelegatedAmount = dst.DelegatedAmount.Add(amount)
	return nil
}

func (r *SimRegistry) GetValidatorInfo(_ context.Context, validator string) (types.Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.validators[validator]
	if !ok {
		return types.Validator{}, fmt.Errorf("%w: %s", ErrUnknownValidator, validator)
	}
	return *v, nil
}

func (r *SimRegistry) ListValidators(_ context.Context) ([]types.Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Validator, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, *r.validators[addr])
	}
	return out, nil
}

func (r *SimRegistry) ClaimRewards(_ context.Context) (sdkmath.Int, sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	core, btc := r.pendingRewardCore, r.pendingRewardBtc
	r.pendingRewardCore = sdkmath.ZeroInt()
	r.pendingRewardBtc = sdkmath.ZeroInt()
	return core, btc, nil
}

// AccrueRewards adds pending rewards for the next claim.
func (r *SimRegistry) AccrueRewards(core, btc sdkmath.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingRewardCore = r.pendingRewardCore.Add(core)
	r.pendingRewardBtc = r.pendingRewardBtc.Add(btc)
}

// SimShareToken is an in-memory fungible share ledger.
type SimShareToken struct {
	mu       sync.Mutex
	balances map[string]sdkmath.Int
	supply   sdkmath.Int
}

func NewSimShareToken() *SimShareToken {
	return &SimShareToken{
		balances: make(map[string]sdkmath.Int),
		supply:   sdkmath.ZeroInt(),
	}
}

func (s *SimShareToken) Mint(_ context.Context, to string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return types.ErrInsufficientAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[to]
	if !ok {
		bal = sdkmath.ZeroInt()
	}
	s.balances[to] = bal.Add(amount)
	s.supply = s.supply.Add(amount)
	return nil
}

func (s *SimShareToken) Burn(_ context.Context, from string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return types.ErrInsufficientAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[from]
	if !ok || bal.LT(amount) {
		return fmt.Errorf("burn %s exceeds balance of %s", amount, from)
	}
	s.balances[from] = bal.Sub(amount)
	s.supply = s.supply.Sub(amount)
	return nil
}

func (s *SimShareToken) TotalSupply(_ context.Context) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supply, nil
}

// BalanceOf reports a holder's share balance (sim-only helper).
func (s *SimShareToken) BalanceOf(holder string) sdkmath.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[holder]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

func pow10(n int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyOneDec()
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < n; i++ {
		factor = factor.Mul(ten)
	}
	return factor
}

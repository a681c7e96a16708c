/*

Validator records mirrored from the external validator registry. These are an
eventually-consistent view: the registry owns the truth, the engine refreshes
its mirror at the start of every allocation or rebalance pass.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// Validator is the engine's view of one validator on the staking network.
type Validator struct {
	Address string `json:"address"`

	IsActive bool `json:"is_active"`

	// RiskScore is normalised to [0,1]; validators at or above the configured
	// risk ceiling are excluded from new allocations.
	RiskScore sdkmath.LegacyDec `json:"risk_score"`

	// EffectiveAPY is the net yield after commission, as a decimal fraction
	// (0.08 = 8%).
	EffectiveAPY sdkmath.LegacyDec `json:"effective_apy"`

	// DelegatedAmount is the CORE currently delegated by this pool.
	DelegatedAmount sdkmath.Int `json:"delegated_amount"`
}

// ValidatorWeight is one entry of an allocation recommendation.
type ValidatorWeight struct {
	Address   string `json:"address"`
	WeightBps uint32 `json:"weight_bps"`
}

// TransferInstruction is one redelegation step produced by diffing the
// current allocation against a recommendation. From == "" means a fresh
// delegation from the pool's unstaked balance.
type TransferInstruction struct {
	From   string      `json:"from,omitempty"`
	To     string      `json:"to"`
	Amount sdkmath.Int `json:"amount"`
}

// UndelegationStep is one entry of an undelegation plan, ordered
// worst-validator-first.
type UndelegationStep struct {
	Validator string      `json:"validator"`
	Amount    sdkmath.Int `json:"amount"`
}

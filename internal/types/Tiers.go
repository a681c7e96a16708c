/*

Tier definitions for the dual-stake pool. A tier is a USD-value band with an
optimal CORE:BTC ratio and a maximum bonus yield. The four tiers partition
the value axis with contiguous, non-overlapping bands.

*/

package types

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Tier is the ordinal tier of a position, ordered by USD value band.
type Tier int

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierSatoshi
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "Bronze"
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	case TierSatoshi:
		return "Satoshi"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// TierSpec is the immutable configuration of a single tier.
type TierSpec struct {
	Tier Tier `json:"tier"`

	// OptimalRatio is the target CORE:BTC ratio in whole units
	// (e.g. 10000 means 10,000 CORE per 1 BTC).
	OptimalRatio sdkmath.LegacyDec `json:"optimal_ratio"`

	// UsdMin and UsdMax bound the tier's USD value band. UsdMax of the top
	// tier is unbounded and left nil-equivalent via MaxSortableDec semantics;
	// we use an explicit open flag instead of a sentinel value.
	UsdMin    sdkmath.LegacyDec `json:"usd_min"`
	UsdMax    sdkmath.LegacyDec `json:"usd_max"`
	OpenEnded bool              `json:"open_ended"`

	// MaxBonusBps caps the bonus yield for the tier, in basis points.
	MaxBonusBps uint32 `json:"max_bonus_bps"`
}

var (
	ErrTierTableEmpty     = errors.New("tier table is empty")
	ErrTierTableUnordered = errors.New("tier table bands are not contiguous and increasing")
)

// ValidateTierTable checks that the table covers the four tiers in order with
// contiguous, monotonically increasing USD bands.
func ValidateTierTable(table []TierSpec) error {
	if len(table) == 0 {
		return ErrTierTableEmpty
	}
	for i, spec := range table {
		if spec.Tier != Tier(i) {
			return fmt.Errorf("%w: entry %d has tier %s", ErrTierTableUnordered, i, spec.Tier)
		}
		if spec.OptimalRatio.IsNil() || !spec.OptimalRatio.IsPositive() {
			return fmt.Errorf("tier %s: optimal ratio must be positive", spec.Tier)
		}
		if spec.MaxBonusBps > BpsDenominator {
			return fmt.Errorf("tier %s: max bonus %d exceeds %d bps", spec.Tier, spec.MaxBonusBps, BpsDenominator)
		}
		if i > 0 {
			prev := table[i-1]
			if prev.OpenEnded {
				return fmt.Errorf("%w: tier %s follows an open-ended band", ErrTierTableUnordered, spec.Tier)
			}
			if !spec.UsdMin.Equal(prev.UsdMax) {
				return fmt.Errorf("%w: tier %s min %s != previous max %s",
					ErrTierTableUnordered, spec.Tier, spec.UsdMin, prev.UsdMax)
			}
			if !spec.UsdMin.GT(prev.UsdMin) {
				return fmt.Errorf("%w: tier %s min not increasing", ErrTierTableUnordered, spec.Tier)
			}
		}
		if !spec.OpenEnded && !spec.UsdMax.GT(spec.UsdMin) {
			return fmt.Errorf("%w: tier %s has empty band", ErrTierTableUnordered, spec.Tier)
		}
	}
	if !table[len(table)-1].OpenEnded {
		return fmt.Errorf("%w: top tier must be open-ended", ErrTierTableUnordered)
	}
	return nil
}

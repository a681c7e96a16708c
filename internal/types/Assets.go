/*

This file defines the closed set of assets the dual-stake pool manages and
the fixed-point conventions shared across the engine.

*/

package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// AssetKind identifies one of the two pooled assets. The set is closed on
// purpose: every switch over AssetKind must be exhaustive so a new asset
// cannot slip through valuation or reserve paths unnoticed.
type AssetKind int

const (
	AssetCore AssetKind = iota
	AssetBtc
)

// Decimals of the base unit for each asset. Amounts everywhere in the engine
// are sdkmath.Int base units; prices are USD per whole unit.
const (
	CoreDecimals = 18
	BtcDecimals  = 8
)

func (a AssetKind) String() string {
	switch a {
	case AssetCore:
		return "CORE"
	case AssetBtc:
		return "BTC"
	default:
		return fmt.Sprintf("AssetKind(%d)", int(a))
	}
}

// Valid reports whether a is a member of the closed asset set.
func (a AssetKind) Valid() bool {
	return a == AssetCore || a == AssetBtc
}

// Decimals returns the base-unit precision for the asset.
func (a AssetKind) Decimals() int {
	switch a {
	case AssetCore:
		return CoreDecimals
	case AssetBtc:
		return BtcDecimals
	default:
		return 0
	}
}

// Other returns the counterpart asset of the pair.
func (a AssetKind) Other() AssetKind {
	if a == AssetCore {
		return AssetBtc
	}
	return AssetCore
}

// AllAssets is the iteration order used by reserve sizing and status reports.
var AllAssets = []AssetKind{AssetCore, AssetBtc}

// AssetAmounts is a per-asset amount pair used by the reserve and queue.
type AssetAmounts struct {
	Core sdkmath.Int `json:"core"`
	Btc  sdkmath.Int `json:"btc"`
}

// ZeroAssetAmounts returns a pair with both amounts initialised to zero.
func ZeroAssetAmounts() AssetAmounts {
	return AssetAmounts{Core: sdkmath.ZeroInt(), Btc: sdkmath.ZeroInt()}
}

// Get returns the amount for the given asset.
func (aa AssetAmounts) Get(asset AssetKind) sdkmath.Int {
	if asset == AssetCore {
		return aa.Core
	}
	return aa.Btc
}

// Set returns a copy with the given asset's amount replaced.
func (aa AssetAmounts) Set(asset AssetKind, amount sdkmath.Int) AssetAmounts {
	if asset == AssetCore {
		aa.Core = amount
	} else {
		aa.Btc = amount
	}
	return aa
}

// BpsDenominator is the basis-point scale used by every bps parameter.
const BpsDenominator = 10_000

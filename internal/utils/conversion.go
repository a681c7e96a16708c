/*
This file contains common helpers for converting between base-unit amounts,
whole-unit decimals, USD values and basis points. Every function rejects bad
input instead of propagating NaN/overflow into the ledgers.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/dualstake-labs/dsm/internal/types"
)

var (
	ErrAmountNil      = errors.New("amount is nil")
	ErrAmountNegative = errors.New("amount is negative")
	ErrPriceInvalid   = errors.New("price must be positive")
	ErrPrecision      = errors.New("precision is invalid")
)

// powTen returns 10^n as a LegacyDec. n must be in [0, 18].
func powTen(n int) (sdkmath.LegacyDec, error) {
	if n < 0 || n > 18 {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrPrecision, n)
	}
	factor := sdkmath.LegacyOneDec()
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < n; i++ {
		factor = factor.Mul(ten)
	}
	return factor, nil
}

// AmountToUsd values a base-unit amount at a USD-per-whole-unit price.
func AmountToUsd(amount sdkmath.Int, price sdkmath.LegacyDec, decimals int) (usd sdkmath.LegacyDec, err error) {
	defer recoverOverflow(&err)

	if amount.IsNil() {
		return sdkmath.LegacyDec{}, ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyDec{}, ErrAmountNegative
	}
	if price.IsNil() || !price.IsPositive() {
		return sdkmath.LegacyDec{}, ErrPriceInvalid
	}
	factor, err := powTen(decimals)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return sdkmath.LegacyNewDecFromInt(amount).Quo(factor).Mul(price), nil
}

// UsdToAmount converts a USD value back to base units at the given price,
// truncating towards zero.
func UsdToAmount(usd sdkmath.LegacyDec, price sdkmath.LegacyDec, decimals int) (amount sdkmath.Int, err error) {
	defer recoverOverflow(&err)

	if usd.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if usd.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	if price.IsNil() || !price.IsPositive() {
		return sdkmath.Int{}, ErrPriceInvalid
	}
	factor, err := powTen(decimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return usd.Quo(price).Mul(factor).TruncateInt(), nil
}

// BpsToDec converts basis points to a decimal fraction.
func BpsToDec(bps uint32) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(int64(bps)).Quo(sdkmath.LegacyNewDec(types.BpsDenominator))
}

// ApplyBps returns amount * bps / 10000, truncated.
func ApplyBps(amount sdkmath.Int, bps uint32) (out sdkmath.Int, err error) {
	defer recoverOverflow(&err)

	if amount.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	return amount.MulRaw(int64(bps)).QuoRaw(types.BpsDenominator), nil
}

// MinInt returns the smaller of two Ints.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}

// recoverOverflow converts sdkmath's overflow panics into ErrOverflow so a
// pathological input cannot take the whole control loop down.
func recoverOverflow(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", types.ErrOverflow, r)
	}
}

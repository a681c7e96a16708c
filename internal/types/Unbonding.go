/*

Withdrawal queue types. A withdrawal that cannot be served from the instant
liquidity reserve becomes an UnbondingRequest and is released once its
asset-specific unbonding period elapses.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// UnbondingRequest is one queued withdrawal leg for a single asset.
type UnbondingRequest struct {
	ID          uint64      `json:"id"`
	User        string      `json:"user"`
	Amount      sdkmath.Int `json:"amount"`
	Asset       AssetKind   `json:"asset"`
	RequestTime time.Time   `json:"request_time"`
	UnlockTime  time.Time   `json:"unlock_time"`
	Processed   bool        `json:"processed"`
	ProcessedAt time.Time   `json:"processed_at,omitempty"`
}

// Ready reports whether the request's unbonding period has elapsed.
func (r UnbondingRequest) Ready(now time.Time) bool {
	return !r.Processed && !now.Before(r.UnlockTime)
}

// WithdrawalTicket is the result of a withdrawal request: either an instant
// payout or one queued request per asset leg.
type WithdrawalTicket struct {
	Owner   string `json:"owner"`
	Instant bool   `json:"instant"`

	// Paid immediately (net of the instant fee) when Instant is true.
	CoreAmount sdkmath.Int `json:"core_amount"`
	BtcAmount  sdkmath.Int `json:"btc_amount"`
	FeeCore    sdkmath.Int `json:"fee_core,omitempty"`
	FeeBtc     sdkmath.Int `json:"fee_btc,omitempty"`

	// Populated when Instant is false.
	RequestIDs []uint64  `json:"request_ids,omitempty"`
	UnlockTime time.Time `json:"unlock_time,omitempty"`
}

/*

Unbonding queue: ordered withdrawal requests waiting out their asset's
unbonding period. The engine polls readiness on each sweep; there are no
per-request timers.

*/

package reserve

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/dualstake-labs/dsm/internal/types"
)

// Queue holds pending unbonding requests in arrival order.
type Queue struct {
	nextID   uint64
	requests map[uint64]*types.UnbondingRequest
	order    []uint64
	pending  types.AssetAmounts
}

func NewQueue() *Queue {
	return &Queue{
		nextID:   1,
		requests: make(map[uint64]*types.UnbondingRequest),
		pending:  types.ZeroAssetAmounts(),
	}
}

// Enqueue creates a request with the asset-specific unlock time.
func (q *Queue) Enqueue(user string, amount sdkmath.Int, asset types.AssetKind, now time.Time, unbonding time.Duration) *types.UnbondingRequest {
	req := &types.UnbondingRequest{
		ID:          q.nextID,
		User:        user,
		Amount:      amount,
		Asset:       asset,
		RequestTime: now,
		UnlockTime:  now.Add(unbonding),
	}
	q.nextID++
	q.requests[req.ID] = req
	q.order = append(q.order, req.ID)
	q.pending = q.pending.Set(asset, q.pending.Get(asset).Add(amount))
	return req
}

// Get returns the request by ID, or nil.
func (q *Queue) Get(id uint64) *types.UnbondingRequest {
	return q.requests[id]
}

// Ready returns unprocessed requests whose unlock time has passed, in
// arrival order.
func (q *Queue) Ready(now time.Time) []*types.UnbondingRequest {
	var ready []*types.UnbondingRequest
	for _, id := range q.order {
		if req := q.requests[id]; req.Ready(now) {
			ready = append(ready, req)
		}
	}
	return ready
}

// MarkProcessed flags the request released and removes it from the pending
// totals.
func (q *Queue) MarkProcessed(id uint64, now time.Time) error {
	req, ok := q.requests[id]
	if !ok {
		return types.ErrAlreadyProcessed
	}
	if req.Processed {
		return types.ErrAlreadyProcessed
	}
	req.Processed = true
	req.ProcessedAt = now
	q.pending = q.pending.Set(req.Asset, q.pending.Get(req.Asset).Sub(req.Amount))
	return nil
}

// PendingTotal returns the unprocessed queued amount for the asset.
func (q *Queue) PendingTotal(asset types.AssetKind) sdkmath.Int {
	return q.pending.Get(asset)
}

// PendingCount returns the number of unprocessed requests.
func (q *Queue) PendingCount() int {
	n := 0
	for _, id := range q.order {
		if !q.requests[id].Processed {
			n++
		}
	}
	return n
}

// PendingCountFor returns the number of unprocessed requests for one asset.
func (q *Queue) PendingCountFor(asset types.AssetKind) int {
	n := 0
	for _, id := range q.order {
		req := q.requests[id]
		if !req.Processed && req.Asset == asset {
			n++
		}
	}
	return n
}

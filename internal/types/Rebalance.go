/*

Rebalance control state and the per-cycle snapshot persisted to the database.
The snapshot records the full trace of a cycle: the state going in, the plan,
what actually moved, and what it cost.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// RebalancePhase is the controller's position in its state machine.
type RebalancePhase string

const (
	PhaseIdle       RebalancePhase = "idle"
	PhaseEvaluating RebalancePhase = "evaluating"
	PhaseExecuting  RebalancePhase = "executing"
	PhaseCooling    RebalancePhase = "cooling"
	PhasePaused     RebalancePhase = "paused"
)

// RebalanceState is the controller's persistent safety state.
//
// Invariant: a rebalance may only execute when
// now >= LastRebalanceTime + MinInterval and !Paused. Paused becomes true
// once FailureCount >= MaxFailures within FailureWindow and is cleared only
// by an explicit operator resume.
type RebalanceState struct {
	Phase             RebalancePhase `json:"phase"`
	LastRebalanceTime time.Time      `json:"last_rebalance_time"`
	MinInterval       time.Duration  `json:"min_interval"`
	FailureCount      int            `json:"failure_count"`
	LastFailureTime   time.Time      `json:"last_failure_time"`
	MaxFailures       int            `json:"max_failures"`
	FailureWindow     time.Duration  `json:"failure_window"`
	Paused            bool           `json:"paused"`
	PausedAt          time.Time      `json:"paused_at"`
	RebalanceCount    uint64         `json:"rebalance_count"`
}

// SwapDirection records which side of the pair a rebalance sells.
type SwapDirection string

const (
	SwapBtcToCore SwapDirection = "BTC_TO_CORE" // ratio below target: buy CORE
	SwapCoreToBtc SwapDirection = "CORE_TO_BTC" // ratio above target: buy BTC
	SwapNone      SwapDirection = "NONE"
)

// RebalanceReceipt is the outcome of one successful rebalance execution.
type RebalanceReceipt struct {
	Direction    SwapDirection     `json:"direction"`
	SwappedIn    sdkmath.Int       `json:"swapped_in"`
	SwappedOut   sdkmath.Int       `json:"swapped_out"`
	KeeperReward sdkmath.Int       `json:"keeper_reward"`
	Keeper       string            `json:"keeper,omitempty"`
	RatioBefore  sdkmath.LegacyDec `json:"ratio_before"`
	RatioAfter   sdkmath.LegacyDec `json:"ratio_after"`
}

// CycleSnapshot captures the full trace of one rebalance cycle for the
// persistence layer and the web API. Failed cycles are recorded too.
type CycleSnapshot struct {
	SnapshotID  int64     `json:"snapshot_id,omitempty"`
	CycleNumber int       `json:"cycle_number"`
	CycleID     string    `json:"cycle_id"`
	Timestamp   time.Time `json:"timestamp"`

	// Trigger records who initiated the cycle: a keeper address, "scheduler",
	// or "internal" for the deposit/compound path.
	Trigger string `json:"trigger"`

	InitialPool PoolState         `json:"initial_pool"`
	RatioBefore sdkmath.LegacyDec `json:"ratio_before"`
	TargetRatio sdkmath.LegacyDec `json:"target_ratio"`

	Direction     SwapDirection `json:"direction"`
	PlannedIn     sdkmath.Int   `json:"planned_in"`
	MinAmountOut  sdkmath.Int   `json:"min_amount_out"`
	ActualIn      sdkmath.Int   `json:"actual_in"`
	ActualOut     sdkmath.Int   `json:"actual_out"`
	KeeperReward  sdkmath.Int   `json:"keeper_reward"`
	Redelegations int           `json:"redelegations"`

	FinalPool  PoolState         `json:"final_pool"`
	RatioAfter sdkmath.LegacyDec `json:"ratio_after"`

	Success      bool   `json:"success"`
	FailureCause string `json:"failure_cause,omitempty"`
}

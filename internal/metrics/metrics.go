package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the engine's operational counters and gauges through
// Prometheus. The web server serves them on /metrics.
type Recorder struct {
	deposits          *prometheus.CounterVec
	withdrawals       *prometheus.CounterVec
	rebalanceCycles   *prometheus.CounterVec
	rebalanceFailures prometheus.Counter
	keeperRewards     prometheus.Counter
	poolValueUsd      prometheus.Gauge
	poolRatio         prometheus.Gauge
	circuitBreaker    prometheus.Gauge
	queueDepth        *prometheus.GaugeVec
	cycleDuration     prometheus.Histogram
}

// New creates and registers the recorder on the default registry.
func New() *Recorder {
	return &Recorder{
		deposits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsm_deposits_total",
				Help: "Total number of accepted deposits by assigned tier",
			},
			[]string{"tier"},
		),
		withdrawals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsm_withdrawals_total",
				Help: "Total number of withdrawal requests by path",
			},
			[]string{"path"},
		),
		rebalanceCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsm_rebalance_cycles_total",
				Help: "Total number of rebalance cycles by outcome",
			},
			[]string{"outcome"},
		),
		rebalanceFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dsm_rebalance_failures_total",
				Help: "Total number of failed rebalance executions",
			},
		),
		keeperRewards: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dsm_keeper_rewards_paid_total",
				Help: "Total number of keeper rewards paid out",
			},
		),
		poolValueUsd: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dsm_pool_value_usd",
				Help: "Current pool value in USD at oracle prices",
			},
		),
		poolRatio: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dsm_pool_core_btc_ratio",
				Help: "Current CORE:BTC unit ratio of the pooled balances",
			},
		),
		circuitBreaker: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dsm_circuit_breaker_engaged",
				Help: "1 while rebalancing is paused by the circuit breaker",
			},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dsm_unbonding_queue_depth",
				Help: "Pending unbonding requests",
			},
			[]string{"asset"},
		),
		cycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dsm_rebalance_cycle_duration_seconds",
				Help:    "Duration of rebalance cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordDeposit counts an accepted deposit for a tier.
func (r *Recorder) RecordDeposit(tier string) {
	r.deposits.WithLabelValues(tier).Inc()
}

// RecordWithdrawal counts a withdrawal by path ("instant" or "queued").
func (r *Recorder) RecordWithdrawal(path string) {
	r.withdrawals.WithLabelValues(path).Inc()
}

// RecordCycle counts a rebalance cycle outcome ("success", "failure",
// "skipped") and its duration.
func (r *Recorder) RecordCycle(outcome string, seconds float64) {
	r.rebalanceCycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(seconds)
	if outcome == "failure" {
		r.rebalanceFailures.Inc()
	}
}

// RecordKeeperReward counts a keeper payout.
func (r *Recorder) RecordKeeperReward() {
	r.keeperRewards.Inc()
}

// SetPoolValue publishes the pool's USD value.
func (r *Recorder) SetPoolValue(usd float64) {
	r.poolValueUsd.Set(usd)
}

// SetPoolRatio publishes the current CORE:BTC ratio.
func (r *Recorder) SetPoolRatio(ratio float64) {
	r.poolRatio.Set(ratio)
}

// SetCircuitBreaker publishes the breaker state.
func (r *Recorder) SetCircuitBreaker(engaged bool) {
	if engaged {
		r.circuitBreaker.Set(1)
	} else {
		r.circuitBreaker.Set(0)
	}
}

// SetQueueDepth publishes the pending request count for an asset.
func (r *Recorder) SetQueueDepth(asset string, depth int) {
	r.queueDepth.WithLabelValues(asset).Set(float64(depth))
}

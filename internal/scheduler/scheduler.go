package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dualstake-labs/dsm/internal/engine"
	"github.com/dualstake-labs/dsm/internal/logger"
	"github.com/dualstake-labs/dsm/internal/metrics"
	"github.com/dualstake-labs/dsm/internal/rebalance"
	"github.com/dualstake-labs/dsm/internal/types"
)

// Scheduler manages all cron tasks: the rebalance poll, the reserve sweep
// and reward compounding.
type Scheduler struct {
	Cron    *cron.Cron
	Engine  *engine.Engine
	Metrics *metrics.Recorder
	Ctx     context.Context

	logger zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, eng *engine.Engine, rec *metrics.Recorder) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Engine:  eng,
		Metrics: rec,
		Ctx:     ctx,
		logger:  logger.GetForComponent("scheduler"),
	}
}

// RegisterAll registers the rebalance poll, sweep and compound tasks.
func (s *Scheduler) RegisterAll(rebalanceCron, sweepCron, compoundCron string) error {
	if _, err := s.Cron.AddFunc(rebalanceCron, s.rebalancePoll); err != nil {
		return fmt.Errorf("register rebalance poll: %w", err)
	}
	if _, err := s.Cron.AddFunc(sweepCron, s.sweepTask); err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	if _, err := s.Cron.AddFunc(compoundCron, s.compoundTask); err != nil {
		return fmt.Errorf("register compound task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info().Msg("Scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}

// RunRebalanceNow executes the rebalance poll immediately (manual trigger).
func (s *Scheduler) RunRebalanceNow() {
	s.rebalancePoll()
}

// rebalancePoll triggers a scheduled rebalance cycle. The engine applies
// the same threshold and cooldown gates as for keeper calls; the scheduler
// identity earns no keeper reward.
func (s *Scheduler) rebalancePoll() {
	start := time.Now()
	_, err := s.Engine.Rebalance(s.Ctx, rebalance.InternalCaller)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		s.logger.Info().Float64("seconds", elapsed).Msg("Scheduled rebalance completed")
		s.Metrics.RecordCycle("success", elapsed)
	case errors.Is(err, types.ErrNotNeeded),
		errors.Is(err, types.ErrPaused),
		errors.Is(err, engine.ErrRebalanceInFlight):
		s.Metrics.RecordCycle("skipped", elapsed)
	default:
		s.logger.Error().Err(err).Msg("Scheduled rebalance failed")
		s.Metrics.RecordCycle("failure", elapsed)
	}

	s.publishGauges()
}

// sweepTask refills the liquidity reserve from delegations and retunes the
// reserve targets.
func (s *Scheduler) sweepTask() {
	if err := s.Engine.Sweep(s.Ctx); err != nil {
		s.logger.Error().Err(err).Msg("Reserve sweep failed")
	}
	s.publishGauges()
}

// compoundTask claims and reinvests staking rewards.
func (s *Scheduler) compoundTask() {
	if err := s.Engine.Compound(s.Ctx); err != nil {
		s.logger.Error().Err(err).Msg("Reward compounding failed")
	}
	s.publishGauges()
}

// publishGauges pushes the engine's published snapshot into Prometheus.
func (s *Scheduler) publishGauges() {
	status := s.Engine.Status()
	s.Metrics.SetCircuitBreaker(status.Paused)

	if v, err := strconv.ParseFloat(status.TotalValueUsd.String(), 64); err == nil {
		s.Metrics.SetPoolValue(v)
	}
	if v, err := strconv.ParseFloat(status.Ratio.String(), 64); err == nil {
		s.Metrics.SetPoolRatio(v)
	}
	for asset, depth := range s.Engine.QueueDepths() {
		s.Metrics.SetQueueDepth(asset.String(), depth)
	}
}

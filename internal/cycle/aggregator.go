// Package cycle runs one full pass over the target set and folds the
// results into a finalized report.
package cycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"casawatch/internal/metrics"
	"casawatch/internal/monitor"
)

// notifyBudget bounds alert and summary delivery after a cycle ends.
const notifyBudget = 2 * time.Minute

// Runner executes all tasks of one cycle and returns their outcomes.
type Runner interface {
	RunCycle(ctx context.Context, targets []monitor.Target) []monitor.TaskOutcome
}

// IDSource tags each cycle with a unique identifier.
type IDSource interface {
	NewID() (string, error)
}

// Aggregator owns the cycle lifecycle: run the scheduler, fold outcomes
// into a report, finalize it, then hand it to the notifier.
type Aggregator struct {
	runner   Runner
	ids      IDSource
	notifier monitor.Notifier
	clock    monitor.Clock
	logger   *zap.Logger
}

// New constructs an Aggregator.
func New(runner Runner, ids IDSource, notifier monitor.Notifier, clock monitor.Clock, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		runner:   runner,
		ids:      ids,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes one cycle over the given targets. It always returns a
// finalized report, even when every task failed or the deadline fired.
// Notification failures are logged and never fail the cycle.
func (a *Aggregator) Run(ctx context.Context, targets []monitor.Target) *monitor.CycleReport {
	id, err := a.ids.NewID()
	if err != nil {
		// Degrade to a timestamp tag rather than skip the cycle.
		id = a.clock.Now().UTC().Format(time.RFC3339Nano)
		a.logger.Warn("cycle id generation failed", zap.Error(err))
	}

	started := a.clock.Now()
	report := monitor.NewCycleReport(id, started)
	a.logger.Info("cycle started",
		zap.String("cycle_id", id),
		zap.Int("targets", len(targets)),
	)

	outcomes := a.runner.RunCycle(ctx, targets)
	for _, outcome := range outcomes {
		if err := report.AddOutcome(outcome); err != nil {
			a.logger.Error("outcome rejected", zap.String("cycle_id", id), zap.Error(err))
		}
	}
	report.Finalize(a.clock.Now())

	metrics.IncCycle()
	a.logger.Info("cycle finished",
		zap.String("cycle_id", id),
		zap.Duration("elapsed", report.Elapsed),
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("new_listings", report.NewCount()),
	)

	// The cycle context may already be past its deadline (that is exactly
	// when the operator most needs the summary), so delivery gets its own
	// budget detached from the cycle's cancellation.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyBudget)
	defer cancel()
	a.notify(notifyCtx, report)
	return report
}

// notify delivers one alert per new listing, then the cycle summary.
func (a *Aggregator) notify(ctx context.Context, report *monitor.CycleReport) {
	if a.notifier == nil {
		return
	}
	for _, listing := range report.NewListings {
		if err := a.notifier.Alert(ctx, listing); err != nil {
			a.logger.Warn("listing alert failed",
				zap.String("cycle_id", report.ID),
				zap.String("listing_id", listing.ID),
				zap.Error(err),
			)
		}
	}
	if err := a.notifier.Summary(ctx, report); err != nil {
		a.logger.Warn("cycle summary failed", zap.String("cycle_id", report.ID), zap.Error(err))
	}
}

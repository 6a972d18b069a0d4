// Package sweep runs the periodic reset sweep that rolls recurring
// Budget Definitions into their next period and clears resolved alert
// suppression, on the schedule in config.BudgetConfig.ResetSweepCron.
// Grounded on the teacher's worker.UsageProcessor background-goroutine
// shape, using robfig/cron in place of a hand-rolled ticker loop since
// the schedule is a cron expression rather than a fixed interval.
package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/relaycore/relaycore/internal/budgetregistry"
	"github.com/relaycore/relaycore/internal/budgettracker"
)

// Sweeper periodically rolls over due recurring budgets.
type Sweeper struct {
	registry *budgetregistry.Registry
	tracker  *budgettracker.Tracker
	log      *zap.Logger
	cron     *cron.Cron
}

// New builds a Sweeper. schedule is a standard cron expression (§2
// budget.reset_sweep_cron); an empty schedule disables the sweep.
func New(registry *budgetregistry.Registry, tracker *budgettracker.Tracker, schedule string, log *zap.Logger) (*Sweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sweeper{registry: registry, tracker: tracker, log: log, cron: cron.New()}
	if schedule == "" {
		return s, nil
	}
	if err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule. It returns immediately; Stop shuts it
// down.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() { s.cron.Stop() }

// runOnce rolls every due recurring budget forward and resets its alert
// suppression so the new period starts fresh (§4.4, §4.5).
func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := s.registry.ListDueForRollover(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error("reset sweep: list due budgets failed", zap.Error(err))
		return
	}

	for _, def := range due {
		if _, err := s.registry.Rollover(ctx, def.ID); err != nil {
			s.log.Error("reset sweep: rollover failed", zap.String("budget_id", def.ID.String()), zap.Error(err))
			continue
		}
		if err := s.tracker.ResetAlerts(ctx, def.ID); err != nil {
			s.log.Error("reset sweep: reset alerts failed", zap.String("budget_id", def.ID.String()), zap.Error(err))
			continue
		}
		s.log.Info("reset sweep: rolled budget forward", zap.String("budget_id", def.ID.String()))
	}
}

package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"listing_store/logging"
)

// Triggerable allows workers to be triggered on a schedule or manually.
type Triggerable interface {
	Trigger()
}

// Scheduler fires registered workers on their cron expressions. Workers
// own their run loops; the scheduler only nudges them.
type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Add schedules a worker trigger under the given cron expression.
func (s *Scheduler) Add(spec, name string, worker Triggerable) error {
	_, err := s.cron.AddFunc(spec, func() {
		logging.Debugf("scheduler triggering %s", name)
		worker.Trigger()
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}
	logging.Infof("Scheduled %s with cron: %s", name, spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

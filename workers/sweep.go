package workers

import (
	"context"
	"time"

	"listing_store/logging"
	"listing_store/services"
)

// SweepWorker periodically runs the match reconciliation sweep over
// recently updated listings.
type SweepWorker struct {
	match     *services.MatchService
	window    time.Duration
	batch     int
	triggerCh chan struct{}
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(match *services.MatchService, window time.Duration, batch int) *SweepWorker {
	return &SweepWorker{
		match:     match,
		window:    window,
		batch:     batch,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *SweepWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the sweep worker loop
func (w *SweepWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infof("Sweep worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.triggerCh:
			logging.Debugf("sweep worker triggered manually")
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single sweep pass.
func (w *SweepWorker) RunOnce(ctx context.Context) {
	since := time.Now().Add(-w.window)
	inserted, err := w.match.Sweep(ctx, since, w.batch)
	if err != nil {
		logging.Errorf("sweep failed: %v", err)
		return
	}
	if inserted > 0 {
		logging.Infof("Sweep queued %d matches for review", inserted)
	}
}

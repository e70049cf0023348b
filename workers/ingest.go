package workers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"listing_store/logging"
	"listing_store/services"
)

// IngestWorker polls a directory for snapshot files and runs each one
// through ingestion. Processed files are renamed out of the way so a
// crash never double-ingests.
type IngestWorker struct {
	ingest    *services.IngestService
	dir       string
	triggerCh chan struct{}
}

// NewIngestWorker creates a new ingest worker
func NewIngestWorker(ingest *services.IngestService, dir string) *IngestWorker {
	return &IngestWorker{
		ingest:    ingest,
		dir:       dir,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *IngestWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the ingest worker loop
func (w *IngestWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infof("Ingest worker stopping")
			return
		case <-ticker.C:
			w.processDir(ctx)
		case <-w.triggerCh:
			logging.Debugf("ingest worker triggered manually")
			w.processDir(ctx)
		}
	}
}

func (w *IngestWorker) processDir(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warnf("ingest read dir %s: %v", w.dir, err)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		w.processFile(ctx, entry.Name())
	}
}

func (w *IngestWorker) processFile(ctx context.Context, name string) {
	path := filepath.Join(w.dir, name)
	source := sourceFromFilename(name)

	run, err := w.ingest.IngestFile(ctx, path, source)
	if err != nil {
		logging.Errorf("ingest %s failed: %v", name, err)
		if renameErr := os.Rename(path, path+".failed"); renameErr != nil {
			logging.Warnf("ingest rename %s: %v", name, renameErr)
		}
		return
	}

	logging.Infof("Ingest: %s done (run %d, %d records)", name, run.ID, run.RecordsSeen)
	if err := os.Rename(path, path+".done"); err != nil {
		logging.Warnf("ingest rename %s: %v", name, err)
	}
}

// sourceFromFilename maps "zillow_20260815.json" to "zillow".
func sourceFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.Index(base, "_"); i > 0 {
		return base[:i]
	}
	return base
}

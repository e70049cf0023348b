package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"listing_store/ingest"
	"listing_store/logging"
	"listing_store/models"
	"listing_store/storage"
)

// IngestService runs snapshot files through the upsert path with run
// bookkeeping in the ops store and optional archival to S3.
type IngestService struct {
	upsert   *UpsertService
	ops      *storage.SQLiteStore
	archiver *storage.SnapshotArchiver
}

// NewIngestService creates a new IngestService. archiver may be nil.
func NewIngestService(upsert *UpsertService, ops *storage.SQLiteStore, archiver *storage.SnapshotArchiver) *IngestService {
	return &IngestService{upsert: upsert, ops: ops, archiver: archiver}
}

// IngestFile processes one snapshot file. Records with unresolvable or
// conflicting identity are quarantined and counted; a storage failure
// aborts the run. The returned run carries the final counters.
func (s *IngestService) IngestFile(ctx context.Context, path, source string) (*models.IngestRun, error) {
	run := &models.IngestRun{
		Source:       source,
		SnapshotPath: path,
		StartedAt:    time.Now(),
		Status:       models.RunStatusRunning,
	}
	if err := s.ops.CreateIngestRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	records, err := ingest.LoadZillowSnapshot(path)
	if err != nil {
		s.finishRun(run, models.RunStatusFailed, err)
		return run, fmt.Errorf("load snapshot: %w", err)
	}
	run.RecordsSeen = len(records)
	logging.Infof("Ingest run %d: %d records from %s", run.ID, len(records), path)

	for _, rec := range records {
		rec.Source = source

		_, outcome, err := s.upsert.Upsert(ctx, rec)
		if err != nil {
			if quarantinable(err) {
				run.Quarantined++
				s.logRecord(run, "warn", fmt.Sprintf("quarantined: %v", err), source)
				continue
			}
			s.finishRun(run, models.RunStatusFailed, err)
			return run, fmt.Errorf("upsert: %w", err)
		}

		switch outcome {
		case models.OutcomeCreated:
			run.Created++
		case models.OutcomeUpdated:
			run.Updated++
		case models.OutcomeMergedViaFuzzy:
			run.Merged++
		}
	}

	s.archive(ctx, run, path, source)
	s.finishRun(run, models.RunStatusCompleted, nil)
	logging.Infof("Ingest run %d completed: %d created, %d updated, %d merged, %d quarantined",
		run.ID, run.Created, run.Updated, run.Merged, run.Quarantined)
	return run, nil
}

// quarantinable reports whether the error is a per-record identity
// problem rather than an infrastructure failure.
func quarantinable(err error) bool {
	return errors.Is(err, ErrIdentityIndeterminate) ||
		errors.Is(err, ErrIdentityConflict) ||
		errors.Is(err, ErrAmbiguousMatch)
}

func (s *IngestService) archive(ctx context.Context, run *models.IngestRun, path, source string) {
	if s.archiver == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logRecord(run, "warn", fmt.Sprintf("archive read failed: %v", err), source)
		return
	}
	key, err := s.archiver.Archive(ctx, source, filepath.Base(path), data)
	if err != nil {
		s.logRecord(run, "warn", fmt.Sprintf("archive upload failed: %v", err), source)
		return
	}
	logging.Infof("Archived snapshot to %s", key)
}

func (s *IngestService) finishRun(run *models.IngestRun, status string, cause error) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	if err := s.ops.UpdateIngestRun(run); err != nil {
		logging.Warnf("failed to update run %d: %v", run.ID, err)
	}
}

func (s *IngestService) logRecord(run *models.IngestRun, level, message, source string) {
	entry := &models.IngestLog{
		RunID:     &run.ID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Source:    source,
	}
	if err := s.ops.CreateIngestLog(entry); err != nil {
		logging.Warnf("failed to write ingest log: %v", err)
	}
}

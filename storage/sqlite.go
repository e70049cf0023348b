package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"listing_store/models"
)

// SQLiteStore holds operational data (ingest runs and their logs) locally,
// next to the Postgres domain store.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingest_runs (
		id INTEGER PRIMARY KEY,
		source TEXT,
		snapshot_path TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		records_seen INTEGER,
		created INTEGER,
		updated INTEGER,
		merged INTEGER,
		quarantined INTEGER,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS ingest_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON ingest_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON ingest_logs(run_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateIngestRun(run *models.IngestRun) error {
	res, err := s.db.Exec(`
		INSERT INTO ingest_runs (source, snapshot_path, started_at, status, records_seen, created, updated, merged, quarantined, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Source, run.SnapshotPath, run.StartedAt, run.Status, run.RecordsSeen, run.Created, run.Updated, run.Merged, run.Quarantined, run.ErrorMessage)
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateIngestRun(run *models.IngestRun) error {
	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?, status = ?, records_seen = ?, created = ?,
			updated = ?, merged = ?, quarantined = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.RecordsSeen, run.Created,
		run.Updated, run.Merged, run.Quarantined, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) CreateIngestLog(log *models.IngestLog) error {
	res, err := s.db.Exec(`
		INSERT INTO ingest_logs (run_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		log.RunID, log.Timestamp, log.Level, log.Message, log.Source)
	if err != nil {
		return err
	}
	log.ID, err = res.LastInsertId()
	return err
}

// RecentIngestRuns returns the latest runs, newest first.
func (s *SQLiteStore) RecentIngestRuns(limit int) ([]models.IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, snapshot_path, started_at, finished_at, status,
			records_seen, created, updated, merged, quarantined, COALESCE(error_message, '')
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.IngestRun
	for rows.Next() {
		var run models.IngestRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.SnapshotPath, &run.StartedAt, &finished, &run.Status,
			&run.RecordsSeen, &run.Created, &run.Updated, &run.Merged, &run.Quarantined, &run.ErrorMessage); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastCompletedRun returns the most recent completed run for a source, or
// nil when the source has never finished a batch.
func (s *SQLiteStore) LastCompletedRun(source string) (*models.IngestRun, error) {
	row := s.db.QueryRow(`
		SELECT id, source, snapshot_path, started_at, finished_at, status,
			records_seen, created, updated, merged, quarantined, COALESCE(error_message, '')
		FROM ingest_runs
		WHERE source = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1`, source, models.RunStatusCompleted)

	var run models.IngestRun
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Source, &run.SnapshotPath, &run.StartedAt, &finished, &run.Status,
		&run.RecordsSeen, &run.Created, &run.Updated, &run.Merged, &run.Quarantined, &run.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

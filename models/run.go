package models

import "time"

// IngestRun is the bookkeeping row for one snapshot batch.
type IngestRun struct {
	ID           int64      `json:"id" db:"id"`
	Source       string     `json:"source" db:"source"`
	SnapshotPath string     `json:"snapshot_path" db:"snapshot_path"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
	Status       string     `json:"status" db:"status"` // running, completed, failed
	RecordsSeen  int        `json:"records_seen" db:"records_seen"`
	Created      int        `json:"created" db:"created"`
	Updated      int        `json:"updated" db:"updated"`
	Merged       int        `json:"merged" db:"merged"`
	Quarantined  int        `json:"quarantined" db:"quarantined"`
	ErrorMessage string     `json:"error_message" db:"error_message"`
}

// Run status
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// IngestLog is one leveled log line attached to a run; quarantined records
// land here with the identity error that sidelined them.
type IngestLog struct {
	ID        int64     `json:"id" db:"id"`
	RunID     *int64    `json:"run_id" db:"run_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     string    `json:"level" db:"level"` // debug, info, warn, error
	Message   string    `json:"message" db:"message"`
	Source    string    `json:"source" db:"source"`
}

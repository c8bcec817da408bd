package model

import "time"

// Sync run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// File outcome constants for SyncedFile.
const (
	FileOutcomeWritten = "written"
	FileOutcomeSkipped = "skipped"
	FileOutcomeFailed  = "failed"
)

// SyncRun records one sync pass over a single integration.
// History is informational; the vault remains the source of truth for
// what has been synced.
type SyncRun struct {
	ID              string     `json:"id" db:"id"`
	ForwardingAlias string     `json:"forwarding_alias" db:"forwarding_alias"`
	OriginEmail     string     `json:"origin_email" db:"origin_email"`
	RootDirectory   string     `json:"root_directory" db:"root_directory"`
	Status          string     `json:"status" db:"status"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	FilesWritten    int        `json:"files_written" db:"files_written"`
	FilesSkipped    int        `json:"files_skipped" db:"files_skipped"`
	FilesFailed     int        `json:"files_failed" db:"files_failed"`
	Error           string     `json:"error,omitempty" db:"error"`
}

// Duration returns how long the run took, or zero while it is running.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SyncedFile is the outcome of one file within a run.
type SyncedFile struct {
	ID        string    `json:"id" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	EmailID   string    `json:"email_id" db:"email_id"`
	Path      string    `json:"path" db:"path"`
	Outcome   string    `json:"outcome" db:"outcome"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/robinsync/internal/model"
)

const runColumns = `id, forwarding_alias, origin_email, root_directory, status,
	started_at, finished_at, files_written, files_skipped, files_failed, error`

// StartRun inserts a running sync record. The ID, StartedAt and Status of
// run are filled in when empty.
func (s *SQLiteStore) StartRun(ctx context.Context, run *model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, forwarding_alias, origin_email, root_directory, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ForwardingAlias, run.OriginEmail, run.RootDirectory,
		run.Status, run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("starting run for %s: %w", run.ForwardingAlias, err)
	}
	return nil
}

// FinishRun stores the final status and counters of run. FinishedAt is set
// to now when empty.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = ?, finished_at = ?,
			files_written = ?, files_skipped = ?, files_failed = ?,
			error = ?
		WHERE id = ?`,
		run.Status, run.FinishedAt.UTC(),
		run.FilesWritten, run.FilesSkipped, run.FilesFailed,
		run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("finishing run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// RecordFile appends a file outcome to its run.
func (s *SQLiteStore) RecordFile(ctx context.Context, file model.SyncedFile) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_files (id, run_id, email_id, path, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.RunID, file.EmailID, file.Path, file.Outcome, file.Error,
		file.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording file %s: %w", file.Path, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. A limit of zero or
// less returns every run.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	query := "SELECT " + runColumns + " FROM sync_runs ORDER BY started_at DESC, rowid DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var runs []model.SyncRun
	if err := s.db.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	return runs, nil
}

// RunFiles returns the file outcomes of a run in the order they were
// recorded.
func (s *SQLiteStore) RunFiles(ctx context.Context, runID string) ([]model.SyncedFile, error) {
	var files []model.SyncedFile
	err := s.db.SelectContext(ctx, &files, `
		SELECT id, run_id, email_id, path, outcome, error, created_at
		FROM synced_files WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying files of run %s: %w", runID, err)
	}
	return files, nil
}

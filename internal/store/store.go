package store

import (
	"context"
	"errors"

	"github.com/nhle/robinsync/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for the plugin data record and
// the sync history.
type Store interface {
	// === Plugin data ===

	LoadData(ctx context.Context, key string) ([]byte, error)
	SaveData(ctx context.Context, key string, data []byte) error

	// === Sync history ===

	StartRun(ctx context.Context, run *model.SyncRun) error
	FinishRun(ctx context.Context, run *model.SyncRun) error
	RecordFile(ctx context.Context, file model.SyncedFile) error
	RecentRuns(ctx context.Context, limit int) ([]model.SyncRun, error)
	RunFiles(ctx context.Context, runID string) ([]model.SyncedFile, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/store"
	"github.com/nhle/robinsync/tests/testutil"
)

func TestMigrationsApplied(t *testing.T) {
	s := testutil.NewTestStore(t)

	version, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestReopenKeepsSchemaAndData(t *testing.T) {
	ctx := context.Background()
	s, path := testutil.NewFileStore(t)
	require.NoError(t, s.SaveData(ctx, "settings", []byte(`{"syncOnLaunch":true}`)))
	require.NoError(t, s.Close())

	reopened, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	version, err := reopened.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	data, err := reopened.LoadData(ctx, "settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"syncOnLaunch":true}`, string(data))
}

func TestLoadSaveData(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, err := s.LoadData(ctx, "settings")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SaveData(ctx, "settings", []byte("one")))
	require.NoError(t, s.SaveData(ctx, "settings", []byte("two")))

	data, err := s.LoadData(ctx, "settings")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	require.NoError(t, s.SaveData(ctx, "empty", nil))
	data, err = s.LoadData(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSyncHistory(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	older := &model.SyncRun{
		ForwardingAlias: "work",
		OriginEmail:     "me@x.com",
		RootDirectory:   "Work",
		StartedAt:       time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.StartRun(ctx, older))
	assert.NotEmpty(t, older.ID)
	assert.Equal(t, model.RunStatusRunning, older.Status)

	run := &model.SyncRun{ForwardingAlias: "home", OriginEmail: "me@x.com", RootDirectory: "Emails"}
	require.NoError(t, s.StartRun(ctx, run))

	require.NoError(t, s.RecordFile(ctx, model.SyncedFile{
		RunID: run.ID, EmailID: "1", Path: "Emails/a/a.md", Outcome: model.FileOutcomeWritten,
	}))
	require.NoError(t, s.RecordFile(ctx, model.SyncedFile{
		RunID: run.ID, EmailID: "1", Path: "Emails/a/b.pdf", Outcome: model.FileOutcomeFailed, Error: "503",
	}))

	run.Status = model.RunStatusCompleted
	run.FilesWritten = 1
	run.FilesFailed = 1
	require.NoError(t, s.FinishRun(ctx, run))
	require.NotNil(t, run.FinishedAt)

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].FilesWritten)
	assert.Equal(t, 1, runs[0].FilesFailed)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Nil(t, runs[1].FinishedAt)
	assert.Equal(t, model.RunStatusRunning, runs[1].Status)

	limited, err := s.RecentRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	files, err := s.RunFiles(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "Emails/a/a.md", files[0].Path)
	assert.Equal(t, model.FileOutcomeFailed, files[1].Outcome)
	assert.Equal(t, "503", files[1].Error)
}

func TestFinishUnknownRun(t *testing.T) {
	s := testutil.NewTestStore(t)
	err := s.FinishRun(context.Background(), &model.SyncRun{ID: "missing", Status: model.RunStatusFailed})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordFileRequiresRun(t *testing.T) {
	s := testutil.NewTestStore(t)
	err := s.RecordFile(context.Background(), model.SyncedFile{
		RunID: "missing", EmailID: "1", Path: "x", Outcome: model.FileOutcomeWritten,
	})
	assert.Error(t, err)
}

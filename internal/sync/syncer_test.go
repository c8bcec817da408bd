package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/source"
	"github.com/nhle/robinsync/tests/testutil"
)

const (
	origin = "me@x.com"
	noteMD = "From: friend@example.com\nSubject: Hello: World\n\nBody text\n"
)

func settingsFor(integrations ...model.Integration) *model.Settings {
	s := model.DefaultSettings()
	s.Integrations = append(s.Integrations, integrations...)
	s.EmailAuths = append(s.EmailAuths, model.EmailAuth{OriginEmail: origin, AccessToken: "T1"})
	return s
}

func work() model.Integration {
	return model.Integration{ForwardingEmailAlias: "work", RootDirectory: "Emails", OriginEmail: origin}
}

func TestPerformEmailSync_WritesNoteAndAttachments(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "report.pdf", "PDF")
	storage := newCountingStorage()
	rec := &notice.Recorder{}
	syncer := NewSyncer(storage, remote, rec, nil)

	in := work()
	report, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)

	folder := "Emails/2023-11-14 Hello_ World"
	assert.Equal(t, []string{folder}, report.Folders)
	assert.Equal(t, 1, report.Emails)
	assert.Equal(t, 2, report.FilesWritten)
	assert.Equal(t, "T1", remote.lastToken)

	names, err := storage.List(folder)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Hello_ World-email.md", "report.pdf"}, names)

	data, err := storage.ReadFile(folder + "/Hello_ World-email.md")
	require.NoError(t, err)
	assert.Equal(t, noteMD, string(data))

	assert.Equal(t, []string{
		"Syncing emails for me@x.com...",
		"Email files saved in " + folder,
		"Email sync completed!",
	}, rec.Messages())
}

func TestPerformEmailSync_Idempotent(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "a.png", "A", "b.pdf", "B")
	remote.addEmail(origin, "1700000100000000", "other.md", "Subject: Second\n")
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	in := work()
	s := settingsFor(in)
	ctx := context.Background()

	first, err := syncer.PerformEmailSync(ctx, s, &in)
	require.NoError(t, err)
	assert.Equal(t, 4, first.FilesWritten)
	writes := storage.files.Load()
	folders := storage.folders.Load()
	binaries := remote.binaryCalls.Load()

	second, err := syncer.PerformEmailSync(ctx, s, &in)
	require.NoError(t, err)
	assert.Zero(t, second.FilesWritten)
	assert.Equal(t, 4, second.FilesSkipped)
	assert.Equal(t, writes, storage.files.Load(), "second run must not write files")
	assert.Equal(t, folders, storage.folders.Load(), "second run must not create folders")
	assert.Equal(t, binaries, remote.binaryCalls.Load(), "second run must not download files")
}

func TestPerformEmailSync_PartialFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "a.png", "A", "b.pdf", "B")
	remote.failFile(origin, "1700000000000000", "b.pdf", errUnavailable)
	storage := newCountingStorage()
	rec := &notice.Recorder{}
	syncer := NewSyncer(storage, remote, rec, nil)

	in := work()
	report, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)

	folder := "Emails/2023-11-14 Hello_ World"
	ok, err := storage.Exists(folder)
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := storage.List(folder)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Hello_ World-email.md", "a.png"}, names)

	assert.Equal(t, 2, report.FilesWritten)
	assert.Equal(t, 1, report.FilesFailed)
	require.Len(t, report.FileErrors, 1)
	assert.True(t, source.IsFileDownloadError(report.FileErrors[0]))
	assert.ErrorIs(t, report.FileErrors[0], errUnavailable)

	assert.Contains(t, rec.Messages(), "Failed to download file: b.pdf")
	assert.Contains(t, rec.Messages(), "Email files saved in "+folder)
	assert.Contains(t, rec.Messages(), "Email sync completed!")
}

func TestPerformEmailSync_FailedFileIsRetriedNextRun(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "b.pdf", "B")
	remote.failFile(origin, "1700000000000000", "b.pdf", errUnavailable)
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	in := work()
	s := settingsFor(in)
	ctx := context.Background()

	_, err := syncer.PerformEmailSync(ctx, s, &in)
	require.NoError(t, err)

	delete(remote.failURL, "https://files.test/me@x.com/1700000000000000/b.pdf")
	report, err := syncer.PerformEmailSync(ctx, s, &in)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesWritten)
	assert.Equal(t, 1, report.FilesSkipped)
}

func TestPerformEmailSync_ManifestFailure(t *testing.T) {
	remote := newFakeRemote()
	netErr := &source.NetworkError{Op: "fetch manifest", StatusCode: 401, Status: "401 Unauthorized"}
	remote.failOrigin[origin] = netErr
	storage := newCountingStorage()
	rec := &notice.Recorder{}
	syncer := NewSyncer(storage, remote, rec, nil)

	in := work()
	_, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.Error(t, err)
	assert.True(t, source.IsNetworkError(err))
	assert.Contains(t, err.Error(), "401 Unauthorized")

	assert.Equal(t, []string{
		"Syncing emails for me@x.com...",
		"Failed to sync. Check the log for details.",
	}, rec.Messages())
	assert.Zero(t, storage.folders.Load())
}

func TestPerformEmailSync_ConfigurationErrors(t *testing.T) {
	testCases := []struct {
		name     string
		settings *model.Settings
		in       *model.Integration
		field    string
	}{
		{
			name:     "missing token",
			settings: model.DefaultSettings(),
			in:       &model.Integration{ForwardingEmailAlias: "a", RootDirectory: "Emails", OriginEmail: origin},
			field:    "accessToken",
		},
		{
			name:     "missing origin",
			settings: settingsFor(),
			in:       &model.Integration{ForwardingEmailAlias: "a", RootDirectory: "Emails"},
			field:    "originEmail",
		},
		{
			name:     "missing root",
			settings: settingsFor(),
			in:       &model.Integration{ForwardingEmailAlias: "a", RootDirectory: " / ", OriginEmail: origin},
			field:    "rootDirectory",
		},
		{
			name:     "legacy fields empty",
			settings: &model.Settings{},
			field:    "originEmail",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			remote := newFakeRemote()
			syncer := NewSyncer(newCountingStorage(), remote, nil, nil)

			_, err := syncer.PerformEmailSync(context.Background(), tc.settings, tc.in)
			require.Error(t, err)
			var cfgErr *source.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
			assert.Zero(t, remote.manifestCalls.Load())
		})
	}
}

func TestPerformEmailSync_LegacyBinding(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD)
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	s := &model.Settings{
		EmailAddress:         origin,
		AccessToken:          "LEGACY",
		ForwardingEmailAlias: "obsidian",
		RootDirectory:        "/Mail/",
		DownloadAttachments:  true,
	}
	report, err := syncer.PerformEmailSync(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Equal(t, "LEGACY", remote.lastToken)
	assert.Equal(t, []string{"Mail/2023-11-14 Hello_ World"}, report.Folders)
}

func TestPerformEmailSync_NoNoteUsesNoSubject(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "scan.pdf", "PDF")
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	in := work()
	report, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)
	assert.Equal(t, []string{"Emails/2023-11-14 No Subject"}, report.Folders)
	assert.Zero(t, remote.textCalls.Load())

	ok, err := storage.Exists("Emails/2023-11-14 No Subject/scan.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPerformEmailSync_NoteWithoutSubjectKeepsFileName(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", "no header here\n")
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	in := work()
	_, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)

	ok, err := storage.Exists("Emails/2023-11-14 No Subject/email.md")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPerformEmailSync_AttachmentsDisabled(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "a.png", "A")
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	in := work()
	s := settingsFor(in)
	s.DownloadAttachments = false

	report, err := syncer.PerformEmailSync(context.Background(), s, &in)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesWritten)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Zero(t, remote.binaryCalls.Load())

	names, err := storage.List("Emails/2023-11-14 Hello_ World")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello_ World-email.md"}, names)
}

func TestPerformEmailSync_NoteFetchFailureKeepsSiblings(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "a.png", "A", "b.pdf", "B")
	remote.addEmail(origin, "1700000100000000", "fine.md", "Subject: Fine\n")
	remote.failFile(origin, "1700000000000000", "email.md", errUnavailable)
	storage := newCountingStorage()
	rec := &notice.Recorder{}
	syncer := NewSyncer(storage, remote, rec, nil)

	in := work()
	report, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Emails)
	assert.Zero(t, report.EmailsFailed)
	assert.Equal(t, 3, report.FilesWritten)
	assert.Equal(t, 1, report.FilesFailed)
	assert.Equal(t, []string{"Emails/2023-11-14 No Subject", "Emails/2023-11-14 Fine"}, report.Folders)
	assert.Contains(t, rec.Messages(), "Failed to download file: email.md")

	require.Len(t, report.FileErrors, 1)
	assert.True(t, source.IsFileDownloadError(report.FileErrors[0]))
	assert.ErrorIs(t, report.FileErrors[0], errUnavailable)

	names, err := storage.List("Emails/2023-11-14 No Subject")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.png", "b.pdf"}, names)
}

func TestPerformEmailSync_FailedNoteIsWrittenNextRun(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "a.png", "A")
	remote.failFile(origin, "1700000000000000", "email.md", errUnavailable)
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	in := work()
	s := settingsFor(in)
	ctx := context.Background()

	_, err := syncer.PerformEmailSync(ctx, s, &in)
	require.NoError(t, err)

	delete(remote.failURL, "https://files.test/me@x.com/1700000000000000/email.md")
	report, err := syncer.PerformEmailSync(ctx, s, &in)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesWritten)
	assert.Zero(t, report.FilesFailed)

	ok, err := storage.Exists("Emails/2023-11-14 Hello_ World/Hello_ World-email.md")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPerformEmailSync_WriteFailureIsIsolated(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "a.png", "A")
	storage := newCountingStorage()
	storage.failOn["Emails/2023-11-14 Hello_ World/a.png"] = errors.New("disk full")
	syncer := NewSyncer(storage, remote, nil, nil)

	in := work()
	report, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesWritten)
	assert.Equal(t, 1, report.FilesFailed)
}

func TestPerformEmailSync_BoundedConcurrency(t *testing.T) {
	remote := newFakeRemote()
	remote.delay = 20 * time.Millisecond
	files := []string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files = append(files, name+".bin", name)
	}
	remote.addEmail(origin, "1700000000000000", files...)

	syncer := NewSyncer(newCountingStorage(), remote, nil, nil, WithMaxConcurrentDownloads(2))
	in := work()
	report, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)
	assert.Equal(t, 6, report.FilesWritten)
	assert.LessOrEqual(t, remote.maxInFlight.Load(), int32(2))
}

func TestPerformEmailSync_RecordsHistory(t *testing.T) {
	db := testutil.NewTestStore(t)
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "b.pdf", "B")
	remote.failFile(origin, "1700000000000000", "b.pdf", errUnavailable)
	syncer := NewSyncer(newCountingStorage(), remote, nil, nil, WithHistory(db))

	in := work()
	ctx := context.Background()
	report, err := syncer.PerformEmailSync(ctx, settingsFor(in), &in)
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)

	runs, err := db.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "work", runs[0].ForwardingAlias)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].FilesWritten)
	assert.Equal(t, 1, runs[0].FilesFailed)

	files, err := db.RunFiles(ctx, report.RunID)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

// failingHistory rejects every run start and counts later writes.
type failingHistory struct {
	finished int
	files    int
}

func (h *failingHistory) StartRun(_ context.Context, run *model.SyncRun) error {
	run.ID = "run-1"
	return errors.New("database is locked")
}

func (h *failingHistory) FinishRun(context.Context, *model.SyncRun) error {
	h.finished++
	return nil
}

func (h *failingHistory) RecordFile(context.Context, model.SyncedFile) error {
	h.files++
	return nil
}

func TestPerformEmailSync_UnrecordedRunSkipsHistory(t *testing.T) {
	remote := newFakeRemote()
	remote.addEmail(origin, "1700000000000000", "email.md", noteMD, "b.pdf", "B")
	history := &failingHistory{}
	syncer := NewSyncer(newCountingStorage(), remote, nil, nil, WithHistory(history))

	in := work()
	report, err := syncer.PerformEmailSync(context.Background(), settingsFor(in), &in)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesWritten)
	assert.Empty(t, report.RunID)
	assert.Zero(t, history.files)
	assert.Zero(t, history.finished)
}

func TestSyncAll_IsolatesIntegrations(t *testing.T) {
	remote := newFakeRemote()
	remote.failOrigin["a@x.com"] = &source.NetworkError{Op: "fetch manifest", StatusCode: 500, Status: "500 Internal Server Error"}
	remote.addEmail("b@x.com", "1700000000000000", "email.md", noteMD)
	storage := newCountingStorage()
	syncer := NewSyncer(storage, remote, nil, nil)

	s := model.DefaultSettings()
	s.Integrations = []model.Integration{
		{ForwardingEmailAlias: "a", RootDirectory: "A", OriginEmail: "a@x.com"},
		{ForwardingEmailAlias: "b", RootDirectory: "B", OriginEmail: "b@x.com"},
	}
	s.EmailAuths = []model.EmailAuth{
		{OriginEmail: "a@x.com", AccessToken: "TA"},
		{OriginEmail: "b@x.com", AccessToken: "TB"},
	}

	results, err := syncer.SyncAll(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, source.IsNetworkError(results[0].Err))
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Report.FilesWritten)
	assert.Len(t, Failed(results), 1)

	ok, err := storage.Exists("B/2023-11-14 Hello_ World/Hello_ World-email.md")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncAll_NothingConfigured(t *testing.T) {
	syncer := NewSyncer(newCountingStorage(), newFakeRemote(), nil, nil)
	_, err := syncer.SyncAll(context.Background(), model.DefaultSettings())
	assert.True(t, source.IsConfigurationError(err))
}

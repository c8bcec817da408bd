package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/robinsync/internal/credential"
	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/naming"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/source"
	"github.com/nhle/robinsync/internal/vault"
)

// Remote is the part of the service client the sync engine needs.
type Remote interface {
	SyncEmails(ctx context.Context, originEmail, token, alias string) (*model.Manifest, error)
	FetchText(ctx context.Context, url string) (string, error)
	FetchBinary(ctx context.Context, url string) ([]byte, error)
}

// History records sync runs. It is optional and never consulted for
// deciding what to download.
type History interface {
	StartRun(ctx context.Context, run *model.SyncRun) error
	FinishRun(ctx context.Context, run *model.SyncRun) error
	RecordFile(ctx context.Context, file model.SyncedFile) error
}

// Syncer materializes the remote manifest of an integration into the vault.
type Syncer struct {
	storage       vault.Storage
	remote        Remote
	notifier      notice.Notifier
	history       History
	logger        *log.Logger
	maxConcurrent int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithMaxConcurrentDownloads caps the downloads in flight for one email.
// Zero or less launches every file at once.
func WithMaxConcurrentDownloads(n int) Option {
	return func(s *Syncer) { s.maxConcurrent = n }
}

// WithHistory records every run and file outcome in h.
func WithHistory(h History) Option {
	return func(s *Syncer) { s.history = h }
}

// NewSyncer creates a Syncer. notifier and logger may be nil.
func NewSyncer(
	storage vault.Storage,
	remote Remote,
	notifier notice.Notifier,
	logger *log.Logger,
	opts ...Option,
) *Syncer {
	if notifier == nil {
		notifier = notice.Discard
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Syncer{
		storage:  storage,
		remote:   remote,
		notifier: notifier,
		logger:   logger.WithPrefix("sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report summarizes one PerformEmailSync call.
type Report struct {
	Alias         string
	OriginEmail   string
	RootDirectory string
	RunID         string

	Emails       int
	EmailsFailed int

	FilesWritten int
	FilesSkipped int
	FilesFailed  int

	// Folders lists the email folders in manifest order.
	Folders []string

	// FileErrors holds one FileDownloadError per failed file.
	FileErrors []error
}

// target is the resolved binding a sync runs against.
type target struct {
	alias  string
	origin string
	root   string
	token  string
}

func resolveTarget(s *model.Settings, in *model.Integration) (target, error) {
	var t target
	if in != nil {
		t = target{alias: in.ForwardingEmailAlias, origin: in.OriginEmail, root: in.RootDirectory}
	} else {
		t = target{alias: s.ForwardingEmailAlias, origin: s.EmailAddress, root: s.RootDirectory}
	}
	t.origin = strings.TrimSpace(t.origin)
	t.root = strings.Trim(strings.TrimSpace(t.root), "/")

	if t.origin == "" {
		return t, &source.ConfigurationError{Field: "originEmail", Message: "no email address is configured"}
	}
	if t.root == "" {
		return t, &source.ConfigurationError{Field: "rootDirectory", Message: "no target folder is configured"}
	}

	t.token = credential.GetAccessTokenForEmail(s, t.origin)
	if t.token == "" {
		return t, &source.ConfigurationError{
			Field:   "accessToken",
			Message: fmt.Sprintf("no access token for %s", t.origin),
		}
	}
	return t, nil
}

// PerformEmailSync fetches the manifest of one integration and writes every
// missing note and attachment into the vault. A nil integration syncs the
// legacy single-account binding.
//
// Manifest failures are returned after a notice. Failures of single files
// or emails are reported and counted but never returned.
func (s *Syncer) PerformEmailSync(
	ctx context.Context,
	settings *model.Settings,
	in *model.Integration,
) (*Report, error) {
	t, err := resolveTarget(settings, in)
	report := &Report{Alias: t.alias, OriginEmail: t.origin, RootDirectory: t.root}
	if err != nil {
		return report, err
	}

	logger := s.logger.With("alias", t.alias, "origin", t.origin)
	notice.Infof(s.notifier, "Syncing emails for %s...", t.origin)

	run := &model.SyncRun{ForwardingAlias: t.alias, OriginEmail: t.origin, RootDirectory: t.root}
	s.startRun(ctx, run, logger)
	report.RunID = run.ID

	manifest, err := s.remote.SyncEmails(ctx, t.origin, t.token, t.alias)
	if err != nil {
		return report, s.fail(ctx, run, report, logger, "fetching manifest", err)
	}

	if err := vault.EnsureFolder(s.storage, t.root); err != nil {
		return report, s.fail(ctx, run, report, logger, "creating root folder", err)
	}

	logger.Info("manifest fetched", "emails", manifest.EmailCount())
	for _, group := range manifest.Emails {
		for _, entry := range group {
			s.syncEmail(ctx, t, entry, settings.DownloadAttachments, run, report, logger)
		}
	}

	notice.Successf(s.notifier, "Email sync completed!")
	logger.Info("sync completed",
		"emails", report.Emails,
		"written", report.FilesWritten,
		"skipped", report.FilesSkipped,
		"failed", report.FilesFailed,
	)

	run.Status = model.RunStatusCompleted
	s.finishRun(ctx, run, report, logger)
	return report, nil
}

// fail handles an error that aborts the whole invocation.
func (s *Syncer) fail(
	ctx context.Context,
	run *model.SyncRun,
	report *Report,
	logger *log.Logger,
	step string,
	err error,
) error {
	logger.Error("sync failed", "step", step, "err", err)
	notice.Errorf(s.notifier, "Failed to sync. Check the log for details.")

	run.Status = model.RunStatusFailed
	run.Error = err.Error()
	s.finishRun(ctx, run, report, logger)

	return fmt.Errorf("syncing %s: %s: %w", report.OriginEmail, step, err)
}

// syncEmail materializes one manifest entry. Emails are processed one at a
// time; the files of an email are downloaded concurrently.
func (s *Syncer) syncEmail(
	ctx context.Context,
	t target,
	entry model.EmailEntry,
	downloadAttachments bool,
	run *model.SyncRun,
	report *Report,
	logger *log.Logger,
) {
	report.Emails++
	logger = logger.With("email", entry.ID)

	// The first markdown file carries the subject. When it cannot be
	// fetched the email lands in the "No Subject" folder and the note is
	// reported as a failed file, so a later run can still write it.
	var (
		subject, noteContent string
		noteErr              error
	)
	note, hasNote := entry.NoteFile()
	if hasNote {
		text, err := s.remote.FetchText(ctx, note.URL)
		if err != nil {
			noteErr = err
		} else {
			noteContent = text
			subject = extractSubject(text)
		}
	}

	folder := vault.Join(t.root, naming.FormatEmailFolderName(entry.ID, subject))
	if err := s.ensureEmailFolder(folder); err != nil {
		logger.Error("creating email folder", "folder", folder, "err", err)
		notice.Errorf(s.notifier, "Failed to create folder: %s", folder)
		report.EmailsFailed++
		report.FilesFailed += len(entry.Files)
		return
	}
	report.Folders = append(report.Folders, folder)

	var (
		mu gosync.Mutex
		g  errgroup.Group
	)
	if s.maxConcurrent > 0 {
		g.SetLimit(s.maxConcurrent)
	}

	for _, f := range entry.Files {
		g.Go(func() error {
			outcome, path, err := s.syncFile(ctx, folder, subject, f, note, noteContent, noteErr, downloadAttachments)

			mu.Lock()
			switch outcome {
			case model.FileOutcomeWritten:
				report.FilesWritten++
			case model.FileOutcomeSkipped:
				report.FilesSkipped++
			case model.FileOutcomeFailed:
				report.FilesFailed++
				report.FileErrors = append(report.FileErrors, err)
			}
			mu.Unlock()

			if err != nil {
				logger.Error("downloading file", "file", f.Name, "err", err)
				notice.Errorf(s.notifier, "Failed to download file: %s", f.Name)
			}
			s.recordFile(ctx, run, entry.ID, path, outcome, err, logger)

			// Siblings keep running whatever happens to this file.
			return nil
		})
	}
	_ = g.Wait()

	notice.Successf(s.notifier, "Email files saved in %s", folder)
}

func (s *Syncer) ensureEmailFolder(folder string) error {
	exists, err := s.storage.Exists(folder)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.storage.CreateFolder(folder); err != nil && !errors.Is(err, vault.ErrExists) {
		return err
	}
	return nil
}

// syncFile writes one file unless it is already present. The returned
// error is a FileDownloadError when the outcome is failed.
func (s *Syncer) syncFile(
	ctx context.Context,
	folder string,
	subject string,
	f model.FileRef,
	note model.FileRef,
	noteContent string,
	noteErr error,
	downloadAttachments bool,
) (string, string, error) {
	name := f.Name
	if f.IsNote() && subject != "" {
		name = subject + "-" + name
	}
	path := vault.Join(folder, naming.SanitizeFileName(name))

	if !downloadAttachments && !f.IsNote() {
		return model.FileOutcomeSkipped, path, nil
	}

	exists, err := s.storage.Exists(path)
	if err != nil {
		return model.FileOutcomeFailed, path, &source.FileDownloadError{FileName: f.Name, Err: err}
	}
	if exists {
		return model.FileOutcomeSkipped, path, nil
	}

	var data []byte
	if f.IsNote() && f == note {
		if noteErr != nil {
			return model.FileOutcomeFailed, path, &source.FileDownloadError{FileName: f.Name, Err: noteErr}
		}
		data = []byte(noteContent)
	} else {
		data, err = s.remote.FetchBinary(ctx, f.URL)
		if err != nil {
			return model.FileOutcomeFailed, path, &source.FileDownloadError{FileName: f.Name, Err: err}
		}
	}

	if err := s.storage.CreateBinaryFile(path, data); err != nil {
		if errors.Is(err, vault.ErrExists) {
			return model.FileOutcomeSkipped, path, nil
		}
		return model.FileOutcomeFailed, path, &source.FileDownloadError{FileName: f.Name, Err: err}
	}
	return model.FileOutcomeWritten, path, nil
}

func (s *Syncer) startRun(ctx context.Context, run *model.SyncRun, logger *log.Logger) {
	if s.history == nil {
		return
	}
	if err := s.history.StartRun(ctx, run); err != nil {
		logger.Warn("recording run start", "err", err)
		// No row was written; later records would fail the run_id check.
		run.ID = ""
	}
}

func (s *Syncer) finishRun(ctx context.Context, run *model.SyncRun, report *Report, logger *log.Logger) {
	if s.history == nil || run.ID == "" {
		return
	}
	run.FilesWritten = report.FilesWritten
	run.FilesSkipped = report.FilesSkipped
	run.FilesFailed = report.FilesFailed
	if err := s.history.FinishRun(ctx, run); err != nil {
		logger.Warn("recording run end", "err", err)
	}
}

func (s *Syncer) recordFile(
	ctx context.Context,
	run *model.SyncRun,
	emailID string,
	path string,
	outcome string,
	fileErr error,
	logger *log.Logger,
) {
	if s.history == nil || run.ID == "" {
		return
	}
	rec := model.SyncedFile{RunID: run.ID, EmailID: emailID, Path: path, Outcome: outcome}
	if fileErr != nil {
		rec.Error = fileErr.Error()
	}
	if err := s.history.RecordFile(ctx, rec); err != nil {
		logger.Debug("recording file", "path", path, "err", err)
	}
}

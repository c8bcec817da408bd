package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nhle/robinsync/internal/credential"
	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/naming"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/source"
	appsync "github.com/nhle/robinsync/internal/sync"
	"github.com/nhle/robinsync/internal/vault"
)

// Preference names accepted by SetPreference.
const (
	PrefDownloadAttachments = "download-attachments"
	PrefSyncOnLaunch        = "sync-on-launch"
	PrefRootDirectory       = "root-directory"
)

// Preferences lists the names SetPreference accepts.
var Preferences = []string{PrefDownloadAttachments, PrefSyncOnLaunch, PrefRootDirectory}

// SyncOne syncs the integration registered under alias.
func (s *Service) SyncOne(ctx context.Context, alias string) (*appsync.Report, error) {
	return s.runner.RunOne(ctx, alias)
}

// SyncAll syncs every integration.
func (s *Service) SyncAll(ctx context.Context) ([]appsync.Result, error) {
	return s.runner.RunAll(ctx)
}

// SyncOnLaunch runs SyncAll when the sync-on-launch preference is set and
// something is configured. It returns nil results otherwise.
func (s *Service) SyncOnLaunch(ctx context.Context) ([]appsync.Result, error) {
	current, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !current.SyncOnLaunch {
		return nil, nil
	}
	if _, legacy := current.LegacyIntegration(); len(current.Integrations) == 0 && !legacy {
		s.logger.Debug("sync on launch skipped, nothing configured")
		return nil, nil
	}
	return s.runner.RunAll(ctx)
}

// Watch syncs every integration now and then on the configured interval
// until ctx is done.
func (s *Service) Watch(ctx context.Context, onResult func([]appsync.Result, error)) error {
	return s.runner.Watch(ctx, s.watchInterval, onResult)
}

// SetPreference updates one global preference and persists the record.
func (s *Service) SetPreference(ctx context.Context, name, value string) error {
	current, err := s.settings.Load(ctx)
	if err != nil {
		return err
	}

	switch name {
	case PrefDownloadAttachments, PrefSyncOnLaunch:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return &source.ConfigurationError{Field: name, Message: fmt.Sprintf("%q is not a boolean", value)}
		}
		if name == PrefDownloadAttachments {
			current.DownloadAttachments = b
		} else {
			current.SyncOnLaunch = b
		}
	case PrefRootDirectory:
		root := naming.NormalizeRootDirectory(value)
		current.RootDirectory = root
		s.ensureRoot(root)
	default:
		return &source.ConfigurationError{
			Field:   name,
			Message: fmt.Sprintf("unknown preference %q (want one of %s)", name, strings.Join(Preferences, ", ")),
		}
	}

	return s.settings.Save(ctx, current)
}

func (s *Service) ensureRoot(root string) {
	exists, err := s.vault.Exists(root)
	if err == nil && exists {
		return
	}
	if err == nil {
		err = vault.EnsureFolder(s.vault, root)
	}
	if err != nil {
		s.logger.Warn("creating root folder", "folder", root, "err", err)
		notice.Errorf(s.notifier, "Failed to create directory: %s", root)
		return
	}
	notice.Infof(s.notifier, "Created directory: %s", root)
}

// MarkWelcomed records that the welcome screen was shown.
func (s *Service) MarkWelcomed(ctx context.Context) error {
	current, err := s.settings.Load(ctx)
	if err != nil {
		return err
	}
	if current.HasWelcomedUser {
		return nil
	}
	current.HasWelcomedUser = true
	return s.settings.Save(ctx, current)
}

// IntegrationStatus is one integration with its runtime state.
type IntegrationStatus struct {
	Integration  model.Integration
	HasToken     bool
	FolderExists bool
	Sync         appsync.SyncStatus
}

// Status is a snapshot of the configuration and recent activity.
type Status struct {
	Settings     *model.Settings
	Integrations []IntegrationStatus
	Orphaned     []model.EmailAuth
	RecentRuns   []model.SyncRun
}

// Status collects integrations, their sync state, credentials no
// integration uses and the most recent runs.
func (s *Service) Status(ctx context.Context, runs int) (*Status, error) {
	current, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := &Status{Settings: current, Orphaned: current.OrphanedAuths()}

	integrations := current.Integrations
	if len(integrations) == 0 {
		if legacy, ok := current.LegacyIntegration(); ok {
			integrations = []model.Integration{legacy}
		}
	}
	for _, in := range integrations {
		st, _ := s.runner.Status(in.ForwardingEmailAlias)
		exists, err := s.vault.Exists(in.RootDirectory)
		if err != nil {
			s.logger.Debug("checking folder", "folder", in.RootDirectory, "err", err)
		}
		out.Integrations = append(out.Integrations, IntegrationStatus{
			Integration:  in,
			HasToken:     credential.GetAccessTokenForEmail(current, in.OriginEmail) != "",
			FolderExists: exists,
			Sync:         st,
		})
	}

	if runs > 0 {
		out.RecentRuns, err = s.store.RecentRuns(ctx, runs)
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}
	}
	return out, nil
}

// History returns the most recent runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]model.SyncRun, error) {
	return s.store.RecentRuns(ctx, limit)
}

// RunFiles returns the file outcomes of one run.
func (s *Service) RunFiles(ctx context.Context, runID string) ([]model.SyncedFile, error) {
	return s.store.RunFiles(ctx, runID)
}

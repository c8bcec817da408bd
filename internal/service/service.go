// Package service wires settings, credentials, the remote client, the vault
// and the sync engine into the operations the CLI and the terminal UI
// expose.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/nhle/robinsync/internal/credential"
	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/settings"
	"github.com/nhle/robinsync/internal/source/taskrobin"
	"github.com/nhle/robinsync/internal/store"
	appsync "github.com/nhle/robinsync/internal/sync"
	"github.com/nhle/robinsync/internal/vault"
)

// Remote is the full remote API: registration, deletion and the sync
// endpoints.
type Remote interface {
	appsync.Remote
	CreateIntegration(ctx context.Context, sourceEmail, alias string) (*taskrobin.CreateIntegrationResponse, error)
	DeleteIntegration(ctx context.Context, originEmail, alias, token string) (*taskrobin.DeleteIntegrationResponse, error)
}

// Service is the application service behind every user action.
type Service struct {
	store    store.Store
	settings *settings.Manager
	vault    vault.Storage
	remote   Remote
	notifier notice.Notifier
	syncer   *appsync.Syncer
	runner   *appsync.Runner
	logger   *log.Logger

	watchInterval time.Duration
}

// Deps are the collaborators a Service is assembled from.
type Deps struct {
	Store    store.Store
	Keyring  *credential.Keyring
	Vault    vault.Storage
	Remote   Remote
	Notifier notice.Notifier
	Logger   *log.Logger

	MaxConcurrentDownloads int
	WatchInterval          time.Duration
}

// NewWithDeps assembles a Service from already-built collaborators.
// Keyring, Notifier and Logger may be nil.
func NewWithDeps(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = notice.Discard
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}

	mgr := settings.NewManager(d.Store, d.Keyring, d.Logger)
	syncer := appsync.NewSyncer(d.Vault, d.Remote, d.Notifier, d.Logger,
		appsync.WithMaxConcurrentDownloads(d.MaxConcurrentDownloads),
		appsync.WithHistory(d.Store),
	)

	return &Service{
		store:         d.Store,
		settings:      mgr,
		vault:         d.Vault,
		remote:        d.Remote,
		notifier:      d.Notifier,
		syncer:        syncer,
		runner:        appsync.NewRunner(syncer, mgr, d.Logger),
		logger:        d.Logger.WithPrefix("service"),
		watchInterval: d.WatchInterval,
	}
}

type options struct {
	notifier notice.Notifier
	logger   *log.Logger
	remote   Remote
	keyring  *credential.Keyring
}

// Option customizes New.
type Option func(*options)

// WithNotifier routes user notices to n.
func WithNotifier(n notice.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the root logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRemote replaces the HTTP client built from the config.
func WithRemote(r Remote) Option {
	return func(o *options) { o.remote = r }
}

// WithKeyring replaces the keyring selected by the config.
func WithKeyring(k *credential.Keyring) Option {
	return func(o *options) { o.keyring = k }
}

// New opens every collaborator described by cfg and loads the settings
// record once so legacy records are migrated at startup.
func New(ctx context.Context, cfg *model.AppConfig, opts ...Option) (*Service, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ring := o.keyring
	if ring == nil && cfg.Credentials.Keyring {
		ring, err = credential.Open(credential.KeyringConfig{FileDir: cfg.Credentials.FileDir})
		if err != nil {
			o.logger.Warn("keyring unavailable, tokens stay in the settings record", "err", err)
			ring = nil
		}
	}

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}

	remote := o.remote
	if remote == nil {
		clientOpts := []taskrobin.Option{
			taskrobin.WithTimeout(time.Duration(cfg.API.TimeoutSec) * time.Second),
			taskrobin.WithLogger(o.logger),
		}
		if cfg.Sync.DownloadsPerSecond > 0 {
			limiter := rate.NewLimiter(rate.Limit(cfg.Sync.DownloadsPerSecond), 1)
			clientOpts = append(clientOpts, taskrobin.WithDownloadLimiter(limiter))
		}
		remote = taskrobin.NewClient(cfg.API.BaseURL, clientOpts...)
	}

	svc := NewWithDeps(Deps{
		Store:                  db,
		Keyring:                ring,
		Vault:                  vault.NewOS(cfg.Vault.Path),
		Remote:                 remote,
		Notifier:               o.notifier,
		Logger:                 o.logger,
		MaxConcurrentDownloads: cfg.Sync.MaxConcurrentDownloads,
		WatchInterval:          time.Duration(cfg.Sync.WatchIntervalSec) * time.Second,
	})

	if _, err := svc.Settings(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases the store.
func (s *Service) Close() error {
	return s.store.Close()
}

// Settings returns the current, migrated settings record.
func (s *Service) Settings(ctx context.Context) (*model.Settings, error) {
	return s.settings.Load(ctx)
}

// Runner exposes the sync runner, e.g. for tea.Cmd bridges.
func (s *Service) Runner() *appsync.Runner {
	return s.runner
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/source"
)

// ErrSyncInProgress is returned when a sync is requested while another one
// is still running.
var ErrSyncInProgress = errors.New("a sync is already in progress")

// SyncState represents the current state of an integration's sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the sync state of a single integration.
type SyncStatus struct {
	Alias      string
	State      SyncState
	LastSync   time.Time
	Error      error
	LastReport *Report
}

// Result is the outcome of syncing one integration in a sweep.
type Result struct {
	Integration model.Integration
	Report      *Report
	Err         error
}

// SyncResultMsg is a tea.Msg sent when a sync started from the UI ends.
type SyncResultMsg struct {
	Alias   string
	Results []Result
	Err     error
}

// SettingsLoader supplies the current settings at the start of each run.
type SettingsLoader interface {
	Load(ctx context.Context) (*model.Settings, error)
}

// Runner serializes sync runs and tracks per-integration status.
type Runner struct {
	syncer   *Syncer
	settings SettingsLoader
	logger   *log.Logger

	mu       gosync.Mutex
	running  bool
	statuses map[string]*SyncStatus
}

// NewRunner creates a Runner.
func NewRunner(syncer *Syncer, settings SettingsLoader, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		syncer:   syncer,
		settings: settings,
		logger:   logger.WithPrefix("runner"),
		statuses: make(map[string]*SyncStatus),
	}
}

// SyncAll syncs every integration, or the legacy binding when there is
// none. A failing integration is logged and recorded in its Result; it
// never stops the others. The error is only set when nothing is configured.
func (s *Syncer) SyncAll(ctx context.Context, settings *model.Settings) ([]Result, error) {
	if len(settings.Integrations) == 0 {
		legacy, ok := settings.LegacyIntegration()
		if !ok {
			return nil, &source.ConfigurationError{Message: "no integration is configured"}
		}
		report, err := s.PerformEmailSync(ctx, settings, nil)
		if err != nil {
			s.logger.Error("legacy sync failed", "err", err)
		}
		return []Result{{Integration: legacy, Report: report, Err: err}}, nil
	}

	results := make([]Result, 0, len(settings.Integrations))
	for i := range settings.Integrations {
		in := settings.Integrations[i]
		report, err := s.PerformEmailSync(ctx, settings, &in)
		if err != nil {
			s.logger.Error("integration sync failed", "alias", in.ForwardingEmailAlias, "err", err)
		}
		results = append(results, Result{Integration: in, Report: report, Err: err})
	}
	return results, nil
}

// Failed returns the results that ended in an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// begin claims the runner for one logical run.
func (r *Runner) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrSyncInProgress
	}
	r.running = true
	return nil
}

func (r *Runner) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// Running reports whether a sync is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunAll loads the settings and syncs every integration.
func (r *Runner) RunAll(ctx context.Context) ([]Result, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.end()

	settings, err := r.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	targets := settings.Integrations
	if len(targets) == 0 {
		if legacy, ok := settings.LegacyIntegration(); ok {
			targets = []model.Integration{legacy}
		}
	}
	for _, in := range targets {
		r.setStatus(in.ForwardingEmailAlias, SyncRunning, nil, nil)
	}

	results, err := r.syncer.SyncAll(ctx, settings)
	for _, res := range results {
		r.finishStatus(res.Integration.ForwardingEmailAlias, res.Report, res.Err)
	}
	return results, err
}

// RunOne syncs the integration registered under alias.
func (r *Runner) RunOne(ctx context.Context, alias string) (*Report, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.end()

	settings, err := r.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	in, ok := settings.FindIntegration(alias)
	if !ok {
		return nil, &source.ConfigurationError{
			Field:   "forwardingEmailAlias",
			Message: fmt.Sprintf("no integration named %q", alias),
		}
	}

	r.setStatus(alias, SyncRunning, nil, nil)
	report, err := r.syncer.PerformEmailSync(ctx, settings, &in)
	r.finishStatus(alias, report, err)
	return report, err
}

// Watch runs RunAll immediately and then every interval until ctx is done.
// Ticks that find a sync in progress are skipped.
func (r *Runner) Watch(ctx context.Context, interval time.Duration, onResult func([]Result, error)) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		results, err := r.RunAll(ctx)
		if errors.Is(err, ErrSyncInProgress) {
			r.logger.Debug("skipping tick, sync in progress")
			return
		}
		if err != nil {
			r.logger.Error("sync sweep failed", "err", err)
		}
		if onResult != nil {
			onResult(results, err)
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick()
		}
	}
}

// Statuses returns the status of every integration seen so far, sorted by
// alias.
func (r *Runner) Statuses() []SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Alias < statuses[j].Alias
	})
	return statuses
}

// Status returns the status of one integration.
func (r *Runner) Status(alias string) (SyncStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.statuses[alias]
	if !ok {
		return SyncStatus{Alias: alias}, false
	}
	return *s, true
}

func (r *Runner) finishStatus(alias string, report *Report, err error) {
	if err != nil {
		r.setStatus(alias, SyncError, err, report)
		return
	}
	r.setStatus(alias, SyncIdle, nil, report)
}

// setStatus updates the sync status of an integration.
func (r *Runner) setStatus(alias string, state SyncState, err error, report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[alias]
	if !ok {
		status = &SyncStatus{Alias: alias}
		r.statuses[alias] = status
	}

	status.State = state
	status.Error = err
	if report != nil {
		status.LastReport = report
	}
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}

// RunAllCmd returns a tea.Cmd that syncs every integration and reports
// the outcome as a SyncResultMsg.
func (r *Runner) RunAllCmd(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		results, err := r.RunAll(ctx)
		return SyncResultMsg{Results: results, Err: err}
	}
}

// RunOneCmd returns a tea.Cmd that syncs one integration and reports the
// outcome as a SyncResultMsg.
func (r *Runner) RunOneCmd(ctx context.Context, alias string) tea.Cmd {
	return func() tea.Msg {
		report, err := r.RunOne(ctx, alias)
		msg := SyncResultMsg{Alias: alias, Err: err}
		if report != nil {
			in := model.Integration{
				ForwardingEmailAlias: alias,
				OriginEmail:          report.OriginEmail,
				RootDirectory:        report.RootDirectory,
			}
			msg.Results = []Result{{Integration: in, Report: report, Err: err}}
		}
		return msg
	}
}

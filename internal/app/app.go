package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/robinsync/internal/keys"
	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/notice"
	appsync "github.com/nhle/robinsync/internal/sync"
	"github.com/nhle/robinsync/internal/ui"
	helpview "github.com/nhle/robinsync/internal/ui/help"
	"github.com/nhle/robinsync/internal/ui/integrations"
	"github.com/nhle/robinsync/internal/ui/setup"
	"github.com/nhle/robinsync/internal/ui/welcome"
)

// Backend is everything the terminal UI needs from the application
// service.
type Backend interface {
	integrations.Backend
	setup.Backend
	Settings(ctx context.Context) (*model.Settings, error)
	SyncOnLaunch(ctx context.Context) ([]appsync.Result, error)
	MarkWelcomed(ctx context.Context) error
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewIntegrations ViewState = iota
	ViewSetup
	ViewWelcome
	ViewHelp
)

// settingsLoadedMsg carries the settings read at startup.
type settingsLoadedMsg struct {
	settings *model.Settings
	err      error
}

// noticeMsg delivers one notice from the sync engine.
type noticeMsg notice.Notice

// welcomedMsg reports the outcome of persisting the welcome flag.
type welcomedMsg struct {
	err error
}

// Model is the root Bubble Tea model that routes between views and shows
// notices.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	backend      Backend
	notices      *notice.Channel
	keys         *keys.KeyMap
	settings     *model.Settings
	integrations integrations.Model
	setupView    setup.Model
	welcomeView  welcome.Model
	helpView     helpview.Model
	lastNotice   *notice.Notice
	loadErr      error
	ready        bool
}

// New creates the root model. notices may be nil when nothing feeds the
// notice line.
func New(b Backend, notices *notice.Channel) Model {
	k := keys.DefaultKeyMap()
	return Model{
		currentView:  ViewIntegrations,
		backend:      b,
		notices:      notices,
		keys:         k,
		integrations: integrations.New(b, k, 80, 24),
		setupView:    setup.New(b, 80, 24),
		welcomeView:  welcome.New(80, 24),
		helpView:     helpview.New(k, 80, 24),
	}
}

// Init loads the settings and the integration list and starts listening
// for notices.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadSettings(),
		m.integrations.Init(),
		m.waitForNotice(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.integrations.SetSize(w, h)
		m.setupView.SetSize(w, h)
		m.welcomeView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case settingsLoadedMsg:
		if msg.err != nil {
			m.loadErr = msg.err
			return m, nil
		}
		m.settings = msg.settings
		return m, m.route()

	case noticeMsg:
		n := notice.Notice(msg)
		m.lastNotice = &n
		return m, m.waitForNotice()

	case welcomedMsg:
		if msg.err != nil {
			m.loadErr = msg.err
		}
		return m, nil

	case welcome.DoneMsg:
		if m.settings != nil {
			m.settings.HasWelcomedUser = true
		}
		cmds := []tea.Cmd{m.markWelcomed()}
		if msg.Setup {
			cmds = append(cmds, m.openSetup())
		} else {
			m.currentView = ViewIntegrations
		}
		return m, tea.Batch(cmds...)

	case integrations.StatusLoadedMsg:
		if msg.Status != nil && msg.Status.Settings != nil {
			m.settings = msg.Status.Settings
		}
		var cmd tea.Cmd
		m.integrations, cmd = m.integrations.Update(msg)
		return m, cmd

	case integrations.AddRequestedMsg:
		return m, m.openSetup()

	case integrations.WelcomeRequestedMsg:
		m.previousView = m.currentView
		m.currentView = ViewWelcome
		return m, nil

	case setup.DoneMsg:
		// A fresh integration is synced right away.
		m.currentView = ViewIntegrations
		return m, tea.Batch(
			m.integrations.LoadStatus(),
			m.integrations.StartSync(),
			m.integrations.SyncCmd(msg.Integration.ForwardingEmailAlias),
		)

	case setup.CancelledMsg:
		m.currentView = ViewIntegrations
		return m, nil

	case appsync.SyncResultMsg, integrations.DeletedMsg:
		var cmd tea.Cmd
		m.integrations, cmd = m.integrations.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.capturing() {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewIntegrations {
				return m, tea.Quit
			}

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
		}
	}

	// Spinner ticks carry their own id; both spinners may be running.
	if _, ok := msg.(tea.KeyMsg); !ok && m.currentView != ViewIntegrations {
		var cmd tea.Cmd
		m.integrations, cmd = m.integrations.Update(msg)
		next, viewCmd := m.updateActiveView(msg)
		return next, tea.Batch(cmd, viewCmd)
	}

	return m.updateActiveView(msg)
}

// capturing reports whether the active view owns every key press.
func (m Model) capturing() bool {
	switch m.currentView {
	case ViewSetup:
		return m.setupView.Capturing()
	case ViewIntegrations:
		return m.integrations.Capturing()
	}
	return false
}

// route picks the first screen once settings are known: welcome, then
// setup when nothing is configured, then the sync window with the launch
// sync when enabled.
func (m *Model) route() tea.Cmd {
	s := m.settings
	if !s.HasWelcomedUser {
		m.currentView = ViewWelcome
		return nil
	}
	if _, legacy := s.LegacyIntegration(); len(s.Integrations) == 0 && !legacy {
		return m.openSetup()
	}
	if s.SyncOnLaunch {
		return tea.Batch(m.integrations.StartSync(), m.launchSync())
	}
	return nil
}

func (m *Model) openSetup() tea.Cmd {
	shared, root := "", ""
	if m.settings != nil {
		if len(m.settings.Integrations) > 0 {
			shared = m.settings.SharedOriginEmail()
		}
		root = m.settings.RootDirectory
	}
	m.previousView = m.currentView
	m.currentView = ViewSetup
	return m.setupView.Start(shared, root)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewIntegrations:
		m.integrations, cmd = m.integrations.Update(msg)
	case ViewSetup:
		m.setupView, cmd = m.setupView.Update(msg)
	case ViewWelcome:
		m.welcomeView, cmd = m.welcomeView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("robinsync", m.syncStatus())
	content := m.renderContent()
	noticeLine := m.layout.RenderNotice(m.noticeText())
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return m.layout.RenderWithFrame(header, content, noticeLine, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewIntegrations:
		return m.integrations.View()
	case ViewSetup:
		return m.setupView.View()
	case ViewWelcome:
		return m.welcomeView.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return ""
	}
}

// syncStatus returns a short string describing the combined sync state.
func (m Model) syncStatus() string {
	if m.integrations.Syncing() {
		return "syncing"
	}

	items := m.integrations.Integrations()
	failed := 0
	for _, in := range items {
		if in.Sync.State == appsync.SyncError {
			failed++
		}
	}
	switch {
	case len(items) == 0:
		return "no integrations"
	case failed > 0:
		return fmt.Sprintf("%d failed", failed)
	default:
		return fmt.Sprintf("%d integrations · idle", len(items))
	}
}

func (m Model) noticeText() string {
	if m.loadErr != nil {
		return notice.Style(notice.LevelError).Render(notice.Prefix(notice.LevelError)) + " " + m.loadErr.Error()
	}
	if m.lastNotice == nil {
		return ""
	}
	n := m.lastNotice
	return notice.Style(n.Level).Render(notice.Prefix(n.Level)) + " " + n.Message
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewSetup:
		return "enter next | esc cancel"
	case ViewWelcome:
		return "enter set up | esc close"
	default:
		if m.integrations.Capturing() {
			return "←/→ choose | enter confirm | esc cancel"
		}
		return "s sync | S sync all | a add | d delete | w welcome | ? help | q quit"
	}
}

func (m Model) loadSettings() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		s, err := b.Settings(context.Background())
		return settingsLoadedMsg{settings: s, err: err}
	}
}

func (m Model) markWelcomed() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		return welcomedMsg{err: b.MarkWelcomed(context.Background())}
	}
}

func (m Model) launchSync() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		results, err := b.SyncOnLaunch(context.Background())
		return appsync.SyncResultMsg{Results: results, Err: err}
	}
}

// waitForNotice blocks on the notice channel and delivers the next one.
func (m Model) waitForNotice() tea.Cmd {
	if m.notices == nil {
		return nil
	}
	ch := m.notices.C()
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

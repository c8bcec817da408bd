// Package integrations is the sync window: one card per integration with
// sync, delete and add actions.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/robinsync/internal/keys"
	"github.com/nhle/robinsync/internal/service"
	"github.com/nhle/robinsync/internal/source"
	appsync "github.com/nhle/robinsync/internal/sync"
	"github.com/nhle/robinsync/internal/theme"
)

// Backend is the part of the application service this view drives.
type Backend interface {
	Status(ctx context.Context, runs int) (*service.Status, error)
	SyncOne(ctx context.Context, alias string) (*appsync.Report, error)
	SyncAll(ctx context.Context) ([]appsync.Result, error)
	DeleteIntegration(ctx context.Context, alias string) error
}

// Mode is the interaction state of the view.
type Mode int

const (
	ModeList Mode = iota
	ModeConfirmDelete
)

// AddRequestedMsg asks the root model to open the setup form.
type AddRequestedMsg struct{}

// WelcomeRequestedMsg asks the root model to show the welcome screen.
type WelcomeRequestedMsg struct{}

// StatusLoadedMsg carries a fresh status snapshot.
type StatusLoadedMsg struct {
	Status *service.Status
	Err    error
}

// DeletedMsg reports the outcome of a deletion.
type DeletedMsg struct {
	Alias string
	Err   error
}

// Model is the Bubble Tea model of the sync window.
type Model struct {
	mode     Mode
	backend  Backend
	status   *service.Status
	selected int
	syncing  bool
	deleting bool
	spinner  spinner.Model

	confirmDelete *huh.Form
	deleteConfirm bool

	// message is the outcome of the last action.
	message string
	isError bool

	keys          *keys.KeyMap
	width, height int
}

// New creates the sync window.
func New(b Backend, k *keys.KeyMap, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorYellow)

	return Model{
		backend: b,
		keys:    k,
		spinner: sp,
		width:   width,
		height:  height,
	}
}

// Init loads the current status.
func (m Model) Init() tea.Cmd {
	return m.LoadStatus()
}

// Syncing reports whether a sync started from this view is in flight.
func (m Model) Syncing() bool {
	return m.syncing
}

// Capturing reports whether a form has keyboard focus.
func (m Model) Capturing() bool {
	return m.mode == ModeConfirmDelete
}

// Integrations returns the integrations currently shown.
func (m Model) Integrations() []service.IntegrationStatus {
	if m.status == nil {
		return nil
	}
	return m.status.Integrations
}

// Selected returns the focused integration.
func (m Model) Selected() (service.IntegrationStatus, bool) {
	items := m.Integrations()
	if m.selected < 0 || m.selected >= len(items) {
		return service.IntegrationStatus{}, false
	}
	return items[m.selected], true
}

// Update handles messages for the sync window.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StatusLoadedMsg:
		if msg.Err != nil {
			m.setError(fmt.Sprintf("Error loading integrations: %v", msg.Err))
			return m, nil
		}
		m.status = msg.Status
		if n := len(m.status.Integrations); m.selected >= n {
			m.selected = max(n-1, 0)
		}
		return m, nil

	case appsync.SyncResultMsg:
		m.syncing = false
		m.applySyncResult(msg)
		return m, m.LoadStatus()

	case DeletedMsg:
		m.deleting = false
		m.mode = ModeList
		if msg.Err != nil {
			m.setError(source.UserMessage(msg.Err))
		} else {
			m.setInfo(fmt.Sprintf("Deleted %s", msg.Alias))
		}
		return m, m.LoadStatus()

	case spinner.TickMsg:
		if m.syncing || m.deleting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if m.mode == ModeConfirmDelete {
			return m.updateConfirmDelete(msg)
		}
		return m.handleListKeys(msg)
	}

	if m.mode == ModeConfirmDelete {
		return m.updateConfirmDelete(msg)
	}
	return m, nil
}

func (m Model) handleListKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	items := m.Integrations()

	switch {
	case key.Matches(msg, m.keys.Down):
		if len(items) > 0 {
			m.selected = (m.selected + 1) % len(items)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(items) > 0 {
			m.selected--
			if m.selected < 0 {
				m.selected = len(items) - 1
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.SyncAll):
		return m.startSync("")

	case key.Matches(msg, m.keys.Sync):
		in, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m.startSync(in.Integration.ForwardingEmailAlias)

	case key.Matches(msg, m.keys.Delete):
		if _, ok := m.Selected(); !ok || m.syncing || m.deleting {
			return m, nil
		}
		m.deleteConfirm = false
		m.confirmDelete = m.buildDeleteConfirmForm()
		m.mode = ModeConfirmDelete
		return m, m.confirmDelete.Init()

	case key.Matches(msg, m.keys.Add):
		return m, func() tea.Msg { return AddRequestedMsg{} }

	case key.Matches(msg, m.keys.Welcome):
		return m, func() tea.Msg { return WelcomeRequestedMsg{} }

	case key.Matches(msg, m.keys.Refresh):
		return m, m.LoadStatus()
	}

	return m, nil
}

// startSync launches one sync, or a sweep when alias is empty. A sync in
// flight disables new ones.
func (m Model) startSync(alias string) (Model, tea.Cmd) {
	if m.syncing {
		return m, nil
	}
	m.syncing = true
	m.message = ""
	return m, tea.Batch(m.spinner.Tick, m.SyncCmd(alias))
}

// SyncCmd runs a sync through the backend and reports a SyncResultMsg.
func (m Model) SyncCmd(alias string) tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx := context.Background()
		if alias == "" {
			results, err := b.SyncAll(ctx)
			return appsync.SyncResultMsg{Results: results, Err: err}
		}
		report, err := b.SyncOne(ctx, alias)
		msg := appsync.SyncResultMsg{Alias: alias, Err: err}
		if report != nil {
			msg.Results = []appsync.Result{{Report: report, Err: err}}
		}
		return msg
	}
}

// StartSync marks a sync started outside the view, e.g. on launch.
func (m *Model) StartSync() tea.Cmd {
	m.syncing = true
	return m.spinner.Tick
}

func (m *Model) applySyncResult(msg appsync.SyncResultMsg) {
	switch {
	case errors.Is(msg.Err, appsync.ErrSyncInProgress):
		m.setError("A sync is already running.")
	case msg.Err != nil:
		m.setError(source.UserMessage(msg.Err))
	default:
		failed := appsync.Failed(msg.Results)
		if len(failed) > 0 {
			m.setError(fmt.Sprintf("%d of %d integrations failed to sync", len(failed), len(msg.Results)))
			return
		}
		written := 0
		for _, r := range msg.Results {
			if r.Report != nil {
				written += r.Report.FilesWritten
			}
		}
		m.setInfo(fmt.Sprintf("Sync finished, %d new files", written))
	}
}

// LoadStatus returns a command that fetches a status snapshot.
func (m Model) LoadStatus() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		st, err := b.Status(context.Background(), 0)
		return StatusLoadedMsg{Status: st, Err: err}
	}
}

func (m *Model) buildDeleteConfirmForm() *huh.Form {
	in, _ := m.Selected()
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete integration %s?", in.Integration.ForwardingAddress())).
				Description(
					"Mail forwarded to this address will no longer be archived.\n" +
						"Files already in the vault are kept.",
				).
				Affirmative("Yes, delete").
				Negative("Cancel").
				Value(&m.deleteConfirm),
		),
	).WithWidth(m.formWidth())
}

func (m Model) updateConfirmDelete(msg tea.Msg) (Model, tea.Cmd) {
	if m.confirmDelete == nil {
		m.mode = ModeList
		return m, nil
	}

	mdl, cmd := m.confirmDelete.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.confirmDelete = f
	}

	switch m.confirmDelete.State {
	case huh.StateCompleted:
		m.mode = ModeList
		in, ok := m.Selected()
		if !m.deleteConfirm || !ok {
			return m, nil
		}
		m.deleting = true
		return m, tea.Batch(m.spinner.Tick, m.deleteCmd(in.Integration.ForwardingEmailAlias))
	case huh.StateAborted:
		m.mode = ModeList
		return m, nil
	}
	return m, cmd
}

func (m Model) deleteCmd(alias string) tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		err := b.DeleteIntegration(context.Background(), alias)
		return DeletedMsg{Alias: alias, Err: err}
	}
}

// View renders the cards or the delete confirmation.
func (m Model) View() string {
	if m.mode == ModeConfirmDelete && m.confirmDelete != nil {
		return lipgloss.NewStyle().Padding(1, 2).Render(m.confirmDelete.View())
	}

	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render("Sync emails with TaskRobin"))
	b.WriteString("\n\n")

	items := m.Integrations()
	if len(items) == 0 {
		b.WriteString(theme.HelpStyle.Render("No integrations configured.\nPress 'a' to add one."))
	}
	for i, in := range items {
		b.WriteString(m.renderCard(in, i == m.selected))
		b.WriteString("\n")
	}

	if m.status != nil {
		if m.status.Settings != nil {
			b.WriteString(theme.HelpStyle.Render(attachmentsLine(m.status.Settings.DownloadAttachments)))
			b.WriteString("\n")
		}
		for _, auth := range m.status.Orphaned {
			b.WriteString(theme.HelpStyle.Render(
				fmt.Sprintf("Unused credential for %s (no integration uses it)", auth.OriginEmail),
			))
			b.WriteString("\n")
		}
	}

	switch {
	case m.syncing:
		b.WriteString("\n" + m.spinner.View() + " Syncing...")
	case m.deleting:
		b.WriteString("\n" + m.spinner.View() + " Deleting...")
	case m.message != "":
		style := lipgloss.NewStyle().Foreground(theme.ColorGreen)
		if m.isError {
			style = theme.ErrorStyle
		}
		b.WriteString("\n" + style.Render(m.message))
	}

	return lipgloss.NewStyle().
		Padding(0, 2).
		Width(m.width).
		Render(b.String())
}

func (m Model) renderCard(in service.IntegrationStatus, selected bool) string {
	state := in.Sync.State.String()
	header := theme.TitleStyle.Render(in.Integration.ForwardingEmailAlias) + "  " +
		theme.StateStyle(state).Render("["+state+"]")

	lines := []string{
		header,
		field("Origin", in.Integration.OriginEmail),
		field("Forward", in.Integration.ForwardingAddress()),
		field("Folder", "/"+in.Integration.RootDirectory+"/"),
		field("Last sync", lastSync(in.Sync)),
	}
	if !in.FolderExists {
		lines = append(lines, theme.HelpStyle.Render("Directory does not exist. It will be created when syncing."))
	}
	if !in.HasToken {
		lines = append(lines, theme.ErrorStyle.Render("No access token. Run setup again for this address."))
	}
	if in.Sync.Error != nil {
		lines = append(lines, theme.ErrorStyle.Render(source.UserMessage(in.Sync.Error)))
	}

	style := theme.CardStyle
	if selected {
		style = theme.SelectedCardStyle
	}
	return style.Width(m.formWidth()).Render(strings.Join(lines, "\n"))
}

func field(label, value string) string {
	return theme.LabelStyle.Render(label) + " " + value
}

func lastSync(st appsync.SyncStatus) string {
	if st.LastSync.IsZero() {
		return "never (this session)"
	}
	text := st.LastSync.Format(time.DateTime)
	if r := st.LastReport; r != nil {
		text += fmt.Sprintf(" · %d new, %d skipped, %d failed", r.FilesWritten, r.FilesSkipped, r.FilesFailed)
	}
	return text
}

func attachmentsLine(download bool) string {
	if download {
		return "Attachments will be downloaded."
	}
	return "Attachments will be skipped."
}

func (m *Model) setError(msg string) {
	m.message = msg
	m.isError = true
}

func (m *Model) setInfo(msg string) {
	m.message = msg
	m.isError = false
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	return min(max(m.width-6, 40), 100)
}

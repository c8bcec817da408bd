// Package setup is the form that registers a new forwarding integration.
package setup

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/naming"
	"github.com/nhle/robinsync/internal/service"
	"github.com/nhle/robinsync/internal/source"
	"github.com/nhle/robinsync/internal/theme"
)

// Backend registers integrations.
type Backend interface {
	Setup(ctx context.Context, req service.SetupRequest) (*model.Integration, error)
}

// Mode is the state of the setup screen.
type Mode int

const (
	ModeForm Mode = iota
	ModeSubmitting
	ModeFailed
)

// DoneMsg is sent once the integration has been created.
type DoneMsg struct {
	Integration model.Integration
}

// CancelledMsg is sent when the user leaves the form.
type CancelledMsg struct{}

// submittedMsg carries the outcome of the registration call.
type submittedMsg struct {
	integration *model.Integration
	err         error
}

// Model is the Bubble Tea model of the setup screen.
type Model struct {
	mode    Mode
	backend Backend
	form    *huh.Form
	spinner spinner.Model
	err     error

	// sharedOrigin is fixed when integrations already share a mailbox.
	sharedOrigin string

	originEmail   string
	alias         string
	rootDirectory string

	width, height int
}

// New creates the setup screen.
func New(b Backend, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		backend: b,
		spinner: sp,
		width:   width,
		height:  height,
	}
}

// Start resets the form. sharedOrigin is the mailbox existing
// integrations use, or empty; root is the suggested folder.
func (m *Model) Start(sharedOrigin, root string) tea.Cmd {
	m.sharedOrigin = sharedOrigin
	m.originEmail = sharedOrigin
	m.alias = ""
	m.rootDirectory = root
	m.err = nil
	m.mode = ModeForm
	m.form = m.buildForm()
	return m.form.Init()
}

// Capturing reports whether the form has keyboard focus.
func (m Model) Capturing() bool {
	return m.mode == ModeForm
}

func (m *Model) buildForm() *huh.Form {
	fields := []huh.Field{
		huh.NewNote().
			Title("Add new integration").
			Description(
				"1. Enter your email address that you'll forward emails from\n" +
					"2. Create a TaskRobin forwarding address that will receive your emails\n" +
					"3. Choose where to save your emails in the vault",
			),
	}

	if m.sharedOrigin != "" {
		fields = append(fields, huh.NewNote().
			Title("Email address to sync emails from").
			Description(m.sharedOrigin+"\nAll integrations share the same email address"))
	} else {
		fields = append(fields, huh.NewInput().
			Title("Email address to sync emails from").
			Placeholder("your.email@example.com").
			Value(&m.originEmail).
			Validate(message(service.ValidateOriginEmail)))
	}

	fields = append(fields,
		huh.NewInput().
			Title("Choose your forwarding address").
			Description("@"+naming.ServiceDomain).
			Placeholder("obsidian").
			Value(&m.alias).
			Validate(message(service.ValidateAlias)),
		huh.NewInput().
			Title("Where should emails be saved in the vault?").
			Description("Folder will be created if it doesn't exist").
			Placeholder(naming.DefaultRootDirectory).
			Value(&m.rootDirectory),
	)

	return huh.NewForm(huh.NewGroup(fields...)).WithWidth(m.formWidth())
}

// message adapts a service validator to huh, showing only the text meant
// for the user.
func message(validate func(string) error) func(string) error {
	return func(s string) error {
		err := validate(s)
		var cfgErr *source.ConfigurationError
		if errors.As(err, &cfgErr) {
			return errors.New(cfgErr.Message)
		}
		return err
	}
}

// Update handles messages for the setup screen.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case submittedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.mode = ModeFailed
			return m, nil
		}
		in := *msg.integration
		return m, func() tea.Msg { return DoneMsg{Integration: in} }

	case spinner.TickMsg:
		if m.mode == ModeSubmitting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeSubmitting:
			return m, nil
		case ModeFailed:
			switch msg.String() {
			case "r", "enter":
				m.mode = ModeForm
				m.err = nil
				m.form = m.buildForm()
				return m, m.form.Init()
			case "esc":
				return m, cancelled
			}
			return m, nil
		}
	}

	if m.mode != ModeForm || m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.mode = ModeSubmitting
		return m, tea.Batch(m.spinner.Tick, m.submit())
	case huh.StateAborted:
		return m, cancelled
	}
	return m, cmd
}

func cancelled() tea.Msg { return CancelledMsg{} }

func (m Model) submit() tea.Cmd {
	b := m.backend
	req := service.SetupRequest{
		OriginEmail:   strings.TrimSpace(m.originEmail),
		Alias:         strings.TrimSpace(m.alias),
		RootDirectory: m.rootDirectory,
	}
	return func() tea.Msg {
		in, err := b.Setup(context.Background(), req)
		return submittedMsg{integration: in, err: err}
	}
}

// View renders the form, the progress line or the failure.
func (m Model) View() string {
	style := lipgloss.NewStyle().Padding(1, 2).Width(m.width)

	switch m.mode {
	case ModeSubmitting:
		return style.Render(m.spinner.View() + " Creating integration...")
	case ModeFailed:
		return style.Render(
			theme.ErrorStyle.Bold(true).Render("Failed to create integration") + "\n\n" +
				source.UserMessage(m.err) + "\n\n" +
				theme.HelpStyle.Render("r retry | esc back"),
		)
	}

	if m.form == nil {
		return ""
	}
	return style.Render(
		m.form.View() + "\n" +
			theme.HelpStyle.Render("TaskRobin is a paid service. A 7-day free trial is available to all new users."),
	)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

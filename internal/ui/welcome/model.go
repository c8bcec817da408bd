package welcome

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/robinsync/internal/naming"
	"github.com/nhle/robinsync/internal/theme"
)

// DoneMsg is sent when the user dismisses the welcome screen. Setup is
// true when they chose to add an integration right away.
type DoneMsg struct {
	Setup bool
}

// Model is the first-run welcome screen.
type Model struct {
	width, height int
}

// New creates the welcome screen.
func New(width, height int) Model {
	return Model{width: width, height: height}
}

// Update dismisses the screen on enter (setup) or esc.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "enter", "a":
			return m, func() tea.Msg { return DoneMsg{Setup: true} }
		case "esc", " ":
			return m, func() tea.Msg { return DoneMsg{} }
		}
	}
	return m, nil
}

// View renders the introduction.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(theme.TitleStyle.Render("Welcome to Sync Email by TaskRobin"))
	b.WriteString("\n\n")
	b.WriteString("Keep a searchable archive of important emails right inside your vault.\n\n")

	b.WriteString(theme.TitleStyle.Render("How TaskRobin works"))
	b.WriteString("\n")
	steps := []string{
		"Email forwarding: forward mail to your own <alias>@" + naming.ServiceDomain + " address.",
		"Automatic processing: each email is converted to markdown with its attachments.",
		"Vault integration: a sync writes every new email into its own dated folder.",
	}
	for _, s := range steps {
		b.WriteString("  • " + s + "\n")
	}
	b.WriteString("\n")

	b.WriteString(theme.TitleStyle.Render("Subscription"))
	b.WriteString("\n")
	b.WriteString(theme.HelpStyle.Render(
		"A 7-day free trial is available to all new users. No payment information is required during the trial.",
	))
	b.WriteString("\n\n")
	b.WriteString(theme.HelpStyle.Render("enter set up an integration | esc later"))

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Render(b.String())
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

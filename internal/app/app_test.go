package app

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/service"
	appsync "github.com/nhle/robinsync/internal/sync"
	"github.com/nhle/robinsync/internal/ui/integrations"
	"github.com/nhle/robinsync/internal/ui/welcome"
)

type fakeBackend struct {
	settings *model.Settings
	synced   []string
	welcomed bool
}

func (f *fakeBackend) Settings(context.Context) (*model.Settings, error) { return f.settings, nil }

func (f *fakeBackend) Status(context.Context, int) (*service.Status, error) {
	st := &service.Status{Settings: f.settings}
	for _, in := range f.settings.Integrations {
		st.Integrations = append(st.Integrations, service.IntegrationStatus{Integration: in, HasToken: true})
	}
	return st, nil
}

func (f *fakeBackend) SyncOne(_ context.Context, alias string) (*appsync.Report, error) {
	f.synced = append(f.synced, alias)
	return &appsync.Report{Alias: alias, FilesWritten: 2}, nil
}

func (f *fakeBackend) SyncAll(context.Context) ([]appsync.Result, error) {
	f.synced = append(f.synced, "*")
	return nil, nil
}

func (f *fakeBackend) SyncOnLaunch(ctx context.Context) ([]appsync.Result, error) {
	return f.SyncAll(ctx)
}

func (f *fakeBackend) DeleteIntegration(context.Context, string) error { return nil }

func (f *fakeBackend) Setup(_ context.Context, req service.SetupRequest) (*model.Integration, error) {
	return &model.Integration{ForwardingEmailAlias: req.Alias, OriginEmail: req.OriginEmail}, nil
}

func (f *fakeBackend) MarkWelcomed(context.Context) error {
	f.welcomed = true
	return nil
}

func configured() *model.Settings {
	s := model.DefaultSettings()
	s.HasWelcomedUser = true
	s.Integrations = []model.Integration{{ForwardingEmailAlias: "work", RootDirectory: "Emails", OriginEmail: "me@x.com"}}
	return s
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestRoute_FirstRunShowsWelcome(t *testing.T) {
	b := &fakeBackend{settings: model.DefaultSettings()}
	m := New(b, nil)

	m, _ = update(t, m, settingsLoadedMsg{settings: b.settings})
	assert.Equal(t, ViewWelcome, m.currentView)

	m, cmd := update(t, m, welcome.DoneMsg{Setup: true})
	assert.Equal(t, ViewSetup, m.currentView)
	require.NotNil(t, cmd)
}

func TestRoute_NothingConfiguredOpensSetup(t *testing.T) {
	s := model.DefaultSettings()
	s.HasWelcomedUser = true
	m := New(&fakeBackend{settings: s}, nil)

	m, _ = update(t, m, settingsLoadedMsg{settings: s})
	assert.Equal(t, ViewSetup, m.currentView)
}

func TestRoute_SyncOnLaunch(t *testing.T) {
	s := configured()
	s.SyncOnLaunch = true
	b := &fakeBackend{settings: s}
	m := New(b, nil)

	m, cmd := update(t, m, settingsLoadedMsg{settings: s})
	assert.Equal(t, ViewIntegrations, m.currentView)
	assert.True(t, m.integrations.Syncing())
	require.NotNil(t, cmd)
}

func TestSyncKeyRunsSelectedIntegration(t *testing.T) {
	b := &fakeBackend{settings: configured()}
	m := New(b, nil)

	st, err := b.Status(context.Background(), 0)
	require.NoError(t, err)
	m, _ = update(t, m, integrations.StatusLoadedMsg{Status: st})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	require.NotNil(t, cmd)
	assert.True(t, m.integrations.Syncing())

	// A second press while syncing is ignored.
	_, again := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	assert.Nil(t, again)

	msg := m.integrations.SyncCmd("work")()
	result, ok := msg.(appsync.SyncResultMsg)
	require.True(t, ok)
	assert.Equal(t, []string{"work"}, b.synced)

	m, _ = update(t, m, result)
	assert.False(t, m.integrations.Syncing())
}

func TestHelpToggle(t *testing.T) {
	b := &fakeBackend{settings: configured()}
	m := New(b, nil)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	assert.Equal(t, ViewHelp, m.currentView)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewIntegrations, m.currentView)
}

func TestNoticeIsShown(t *testing.T) {
	ch := notice.NewChannel(4)
	m := New(&fakeBackend{settings: configured()}, ch)

	m, cmd := update(t, m, noticeMsg(notice.Notice{Level: notice.LevelSuccess, Message: "Email sync completed!"}))
	require.NotNil(t, cmd)
	require.NotNil(t, m.lastNotice)
	assert.Contains(t, m.noticeText(), "Email sync completed!")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jessevdk/go-flags"

	"github.com/nhle/robinsync/internal/app"
	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/naming"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/service"
	"github.com/nhle/robinsync/internal/source"
	appsync "github.com/nhle/robinsync/internal/sync"
	"github.com/nhle/robinsync/internal/theme"
)

func addCommands(p *flags.Parser) {
	must := func(_ *flags.Command, err error) {
		if err != nil {
			panic(err)
		}
	}

	must(p.AddCommand("init", "Write the config file",
		"Write the effective configuration to the config file so it can be edited.", &initCommand{}))
	must(p.AddCommand("setup", "Add an integration",
		"Register a forwarding alias with TaskRobin. Missing flags are asked for interactively.", &setupCommand{}))
	must(p.AddCommand("sync", "Sync emails now",
		"Download new emails for one integration, or for all of them.", &syncCommand{}))
	must(p.AddCommand("watch", "Sync periodically",
		"Sync every integration now and then on an interval until interrupted.", &watchCommand{}))
	must(p.AddCommand("delete", "Delete an integration",
		"Remove a forwarding alias from TaskRobin and from the settings. Vault files are kept.", &deleteCommand{}))
	must(p.AddCommand("list", "List integrations", "List every configured integration.", &listCommand{}))
	must(p.AddCommand("status", "Show configuration and recent runs",
		"Show integrations, unused credentials, preferences and the latest sync runs.", &statusCommand{}))
	must(p.AddCommand("history", "Show sync history",
		"List recent sync runs, or the files of one run.", &historyCommand{}))
	must(p.AddCommand("set", "Change a preference",
		"Set one of: "+strings.Join(service.Preferences, ", ")+".", &setCommand{}))
	must(p.AddCommand("ui", "Open the sync window", "Start the interactive terminal UI.", &uiCommand{}))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type initCommand struct {
	Force bool `short:"f" long:"force" description:"Overwrite an existing config file"`
}

func (c *initCommand) Execute([]string) error {
	path := configPath()
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists; use --force to overwrite it", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

type setupCommand struct {
	Email string `short:"e" long:"email" description:"Address mail is forwarded from"`
	Alias string `short:"a" long:"alias" description:"Forwarding alias (local part of <alias>@taskrobin.io)"`
	Dir   string `short:"d" long:"dir" description:"Vault folder emails are saved under"`
}

func (c *setupCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	current, err := e.svc.Settings(ctx)
	if err != nil {
		return err
	}

	req := service.SetupRequest{OriginEmail: c.Email, Alias: c.Alias, RootDirectory: c.Dir}
	if len(current.Integrations) > 0 && req.OriginEmail == "" {
		req.OriginEmail = current.SharedOriginEmail()
	}
	if req.RootDirectory == "" {
		req.RootDirectory = current.RootDirectory
	}
	if req.OriginEmail == "" || req.Alias == "" {
		if err := askSetup(&req); err != nil {
			return err
		}
	}

	in, err := e.svc.Setup(ctx, req)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("Forward mail from %s to %s; it will be saved under /%s/.\n",
		in.OriginEmail, in.ForwardingAddress(), in.RootDirectory)
	return nil
}

// askSetup fills the missing fields of req with a huh form.
func askSetup(req *service.SetupRequest) error {
	validate := func(fn func(string) error) func(string) error {
		return func(s string) error {
			var cfgErr *source.ConfigurationError
			if err := fn(s); errors.As(err, &cfgErr) {
				return errors.New(cfgErr.Message)
			}
			return nil
		}
	}

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Email address to sync emails from").
			Placeholder("your.email@example.com").
			Value(&req.OriginEmail).
			Validate(validate(service.ValidateOriginEmail)),
		huh.NewInput().
			Title("Choose your forwarding address").
			Description("@"+naming.ServiceDomain).
			Placeholder("obsidian").
			Value(&req.Alias).
			Validate(validate(service.ValidateAlias)),
		huh.NewInput().
			Title("Where should emails be saved in the vault?").
			Placeholder(naming.DefaultRootDirectory).
			Value(&req.RootDirectory),
	))
	return form.Run()
}

type syncCommand struct {
	Alias string `short:"a" long:"alias" description:"Only sync this integration"`
}

func (c *syncCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	if c.Alias != "" {
		report, err := e.svc.SyncOne(ctx, c.Alias)
		if err != nil {
			return userError(err)
		}
		printReport(c.Alias, report)
		return nil
	}

	results, err := e.svc.SyncAll(ctx)
	if err != nil {
		return userError(err)
	}
	return printResults(results)
}

func printReport(alias string, r *appsync.Report) {
	fmt.Printf("%s: %d emails, %d new files, %d skipped, %d failed\n",
		alias, r.Emails, r.FilesWritten, r.FilesSkipped, r.FilesFailed)
}

func printResults(results []appsync.Result) error {
	for _, r := range results {
		alias := r.Integration.ForwardingEmailAlias
		if r.Err != nil {
			fmt.Println(theme.ErrorStyle.Render(fmt.Sprintf("%s: %s", alias, source.UserMessage(r.Err))))
			continue
		}
		printReport(alias, r.Report)
	}
	if failed := appsync.Failed(results); len(failed) > 0 {
		return fmt.Errorf("%d of %d integrations failed", len(failed), len(results))
	}
	return nil
}

type watchCommand struct {
	Interval int `short:"i" long:"interval" description:"Seconds between syncs (default sync.watch_interval_sec)"`
}

func (c *watchCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{tweak: func(cfg *model.AppConfig) {
		if c.Interval > 0 {
			cfg.Sync.WatchIntervalSec = c.Interval
		}
	}})
	if err != nil {
		return err
	}
	defer e.Close()

	e.logger.Info("watching", "interval", time.Duration(e.cfg.Sync.WatchIntervalSec)*time.Second)
	err = e.svc.Watch(ctx, func(results []appsync.Result, err error) {
		if err != nil {
			fmt.Println(theme.ErrorStyle.Render(source.UserMessage(err)))
			return
		}
		_ = printResults(results)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type deleteCommand struct {
	Alias string `short:"a" long:"alias" required:"yes" description:"Integration to delete"`
	Yes   bool   `short:"y" long:"yes" description:"Do not ask for confirmation"`
}

func (c *deleteCommand) Execute([]string) error {
	if !c.Yes {
		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Delete integration %s?", naming.ForwardingAddress(c.Alias))).
			Affirmative("Yes, delete").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			return err
		}
		if !confirmed {
			return nil
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	return userError(e.svc.DeleteIntegration(ctx, c.Alias))
}

type listCommand struct{}

func (c *listCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.svc.Status(ctx, 0)
	if err != nil {
		return err
	}
	if len(st.Integrations) == 0 {
		fmt.Println("No integrations configured. Run `robinsync setup` to add one.")
		return nil
	}

	t := newTable("Alias", "Forwarding address", "Origin", "Folder")
	for _, in := range st.Integrations {
		t.Row(
			in.Integration.ForwardingEmailAlias,
			in.Integration.ForwardingAddress(),
			in.Integration.OriginEmail,
			"/"+in.Integration.RootDirectory+"/",
		)
	}
	fmt.Println(t)
	return nil
}

type statusCommand struct {
	Runs int `short:"n" long:"runs" default:"5" description:"Number of recent runs to show"`
}

func (c *statusCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.svc.Status(ctx, c.Runs)
	if err != nil {
		return err
	}

	s := st.Settings
	fmt.Println(theme.TitleStyle.Render("Preferences"))
	fmt.Printf("  %s %t\n  %s %t\n  %s /%s/\n  %s %s\n\n",
		theme.LabelStyle.Width(22).Render(service.PrefDownloadAttachments), s.DownloadAttachments,
		theme.LabelStyle.Width(22).Render(service.PrefSyncOnLaunch), s.SyncOnLaunch,
		theme.LabelStyle.Width(22).Render(service.PrefRootDirectory), s.RootDirectory,
		theme.LabelStyle.Width(22).Render("vault"), e.cfg.Vault.Path,
	)

	fmt.Println(theme.TitleStyle.Render("Integrations"))
	if len(st.Integrations) == 0 {
		fmt.Println("  none")
	}
	for _, in := range st.Integrations {
		token := "token ok"
		if !in.HasToken {
			token = theme.ErrorStyle.Render("no token")
		}
		folder := "folder ok"
		if !in.FolderExists {
			folder = "folder will be created"
		}
		fmt.Printf("  %s  %s  %s  %s\n", in.Integration.ForwardingAddress(), in.Integration.OriginEmail, token, folder)
	}
	for _, auth := range st.Orphaned {
		fmt.Printf("  unused credential for %s\n", auth.OriginEmail)
	}

	if len(st.RecentRuns) > 0 {
		fmt.Println()
		fmt.Println(theme.TitleStyle.Render("Recent runs"))
		fmt.Println(runsTable(st.RecentRuns))
	}
	return nil
}

type historyCommand struct {
	Limit int    `short:"n" long:"limit" default:"20" description:"Number of runs to show"`
	Run   string `long:"run" description:"Show the files of this run"`
}

func (c *historyCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	if c.Run != "" {
		files, err := e.svc.RunFiles(ctx, c.Run)
		if err != nil {
			return err
		}
		t := newTable("Outcome", "Path", "Error")
		for _, f := range files {
			t.Row(theme.RunStatusStyle(outcomeStatus(f.Outcome)).Render(f.Outcome), f.Path, f.Error)
		}
		fmt.Println(t)
		return nil
	}

	runs, err := e.svc.History(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No sync runs recorded yet.")
		return nil
	}
	fmt.Println(runsTable(runs))
	return nil
}

// outcomeStatus maps a file outcome onto the run status palette.
func outcomeStatus(outcome string) string {
	switch outcome {
	case model.FileOutcomeWritten:
		return model.RunStatusCompleted
	case model.FileOutcomeFailed:
		return model.RunStatusFailed
	default:
		return ""
	}
}

func runsTable(runs []model.SyncRun) *table.Table {
	t := newTable("Run", "Alias", "Started", "Duration", "Status", "New", "Skipped", "Failed")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.ForwardingAlias,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Millisecond).String(),
			theme.RunStatusStyle(r.Status).Render(r.Status),
			strconv.Itoa(r.FilesWritten),
			strconv.Itoa(r.FilesSkipped),
			strconv.Itoa(r.FilesFailed),
		)
	}
	return t
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.TitleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

type setCommand struct {
	Args struct {
		Name  string `positional-arg-name:"name" description:"Preference name"`
		Value string `positional-arg-name:"value" description:"New value"`
	} `positional-args:"yes" required:"yes"`
}

func (c *setCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.svc.SetPreference(ctx, c.Args.Name, c.Args.Value); err != nil {
		return userError(err)
	}
	fmt.Printf("%s = %s\n", c.Args.Name, c.Args.Value)
	return nil
}

type uiCommand struct{}

func (c *uiCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	notices := notice.NewChannel(64)
	e, err := openEnv(ctx, envOptions{tui: true, notifier: notices})
	if err != nil {
		return err
	}
	defer e.Close()
	// Runs first: a sync still in flight must not block on the notice line.
	defer notices.Close()

	p := tea.NewProgram(app.New(e.svc, notices), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

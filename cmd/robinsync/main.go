package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jessevdk/go-flags"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/service"
	"github.com/nhle/robinsync/internal/source"
)

// Options are the flags shared by every command.
type Options struct {
	Config   string `short:"c" long:"config" description:"Path to the config file (default ~/.config/robinsync/config.yaml)"`
	LogLevel string `long:"log-level" description:"Log level: debug, info, warn or error"`
	Vault    string `long:"vault" description:"Vault directory, overrides vault.path"`
}

var opts Options

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "robinsync"
	parser.LongDescription = "Archive email forwarded to TaskRobin into a notes vault."

	addCommands(parser)

	if _, err := parser.Parse(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

// env is what a command runs against.
type env struct {
	cfg     *model.AppConfig
	logger  *log.Logger
	svc     *service.Service
	logFile io.Closer
}

// envOptions tune openEnv for one command.
type envOptions struct {
	// tui sends log output to a file so the terminal UI stays intact.
	tui      bool
	notifier notice.Notifier
	tweak    func(*model.AppConfig)
}

func configPath() string {
	if opts.Config != "" {
		return opts.Config
	}
	return model.DefaultConfigPath()
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(configPath())
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Vault != "" {
		cfg.Vault.Path = opts.Vault
	}
	return cfg, nil
}

func openEnv(ctx context.Context, o envOptions) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if o.tweak != nil {
		o.tweak(cfg)
	}

	logger, logFile, err := newLogger(cfg.Log, o.tui)
	if err != nil {
		return nil, err
	}
	log.SetDefault(logger)

	notifier := o.notifier
	if notifier == nil {
		notifier = notice.NewConsole(os.Stdout)
	}

	svc, err := service.New(ctx, cfg, service.WithLogger(logger), service.WithNotifier(notifier))
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, err
	}

	logger.Debug("environment ready", "vault", cfg.Vault.Path, "store", cfg.Store.Path)
	return &env{cfg: cfg, logger: logger, svc: svc, logFile: logFile}, nil
}

func (e *env) Close() {
	if err := e.svc.Close(); err != nil {
		e.logger.Warn("closing store", "err", err)
	}
	if e.logFile != nil {
		_ = e.logFile.Close()
	}
}

// newLogger builds the root logger from the log config. The returned
// closer is non-nil when output goes to a file.
func newLogger(cfg model.LogConfig, tui bool) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}

	var (
		out  io.Writer = os.Stderr
		file *os.File
	)
	logPath := cfg.File
	if logPath == "" && tui {
		logPath = filepath.Join(model.ConfigDir(), "robinsync.log")
	}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		file, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = file
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           level,
	})
	if file == nil {
		return logger, nil, nil
	}
	return logger, file, nil
}

// userError rewrites err into the text shown on the terminal.
func userError(err error) error {
	if err == nil {
		return nil
	}
	if source.IsConfigurationError(err) {
		return fmt.Errorf("%s\nRun `robinsync setup` to configure an integration", source.UserMessage(err))
	}
	return errors.New(source.UserMessage(err))
}

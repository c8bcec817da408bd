package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultAPIBaseURL is the fixed endpoint of the forwarding service.
const DefaultAPIBaseURL = "https://7ul423cced.execute-api.us-east-2.amazonaws.com/prod/obsidian"

// envPrefix namespaces environment overrides, e.g. ROBINSYNC_VAULT_PATH.
const envPrefix = "ROBINSYNC"

// APIConfig holds settings for the remote service client.
type APIConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// VaultConfig locates the directory notes and attachments are written to.
type VaultConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// StoreConfig locates the SQLite database holding settings and history.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the application logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`

	// File redirects log output; empty means stderr. The terminal UI
	// always logs to a file.
	File string `mapstructure:"file" yaml:"file"`
}

// SyncConfig tunes download behavior.
type SyncConfig struct {
	// MaxConcurrentDownloads caps the per-email download fan-out.
	// Zero launches every file of an email at once.
	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`

	// DownloadsPerSecond throttles presigned downloads. Zero disables it.
	DownloadsPerSecond float64 `mapstructure:"downloads_per_second" yaml:"downloads_per_second"`

	// WatchIntervalSec is the period of `robinsync watch`.
	WatchIntervalSec int `mapstructure:"watch_interval_sec" yaml:"watch_interval_sec"`
}

// CredentialsConfig selects where access tokens are kept.
type CredentialsConfig struct {
	// Keyring stores tokens in the OS keyring instead of the settings record.
	Keyring bool   `mapstructure:"keyring" yaml:"keyring"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API         APIConfig         `mapstructure:"api" yaml:"api"`
	Vault       VaultConfig       `mapstructure:"vault" yaml:"vault"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Sync        SyncConfig        `mapstructure:"sync" yaml:"sync"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
}

// ConfigDir returns ~/.config/robinsync, or the working directory when the
// home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "robinsync")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/robinsync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func defaultVaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vault"
	}
	return filepath.Join(home, "RobinVault")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:    DefaultAPIBaseURL,
			TimeoutSec: 30,
		},
		Vault: VaultConfig{Path: defaultVaultPath()},
		Store: StoreConfig{Path: filepath.Join(ConfigDir(), "robinsync.db")},
		Log:   LogConfig{Level: "info"},
		Sync: SyncConfig{
			WatchIntervalSec: 300,
		},
		Credentials: CredentialsConfig{
			Keyring: true,
			FileDir: filepath.Join(ConfigDir(), "credentials"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("vault.path", d.Vault.Path)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("sync.max_concurrent_downloads", d.Sync.MaxConcurrentDownloads)
	v.SetDefault("sync.downloads_per_second", d.Sync.DownloadsPerSecond)
	v.SetDefault("sync.watch_interval_sec", d.Sync.WatchIntervalSec)
	v.SetDefault("credentials.keyring", d.Credentials.Keyring)
	v.SetDefault("credentials.file_dir", d.Credentials.FileDir)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory and ROBINSYNC_* environment
// variables override file values. A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.API.TimeoutSec <= 0 {
		cfg.API.TimeoutSec = 30
	}
	if cfg.Sync.WatchIntervalSec <= 0 {
		cfg.Sync.WatchIntervalSec = 300
	}
	if cfg.Sync.MaxConcurrentDownloads < 0 {
		cfg.Sync.MaxConcurrentDownloads = 0
	}
	cfg.Vault.Path = expandHome(cfg.Vault.Path)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.Credentials.FileDir = expandHome(cfg.Credentials.FileDir)

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("vault", cfg.Vault)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)
	v.Set("sync", cfg.Sync)
	v.Set("credentials", cfg.Credentials)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

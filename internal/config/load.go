package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// File names under the data directory.
const (
	dbFileName    = "fieldsync.db"
	tokenFileName = "token.json"
	pidFileName   = "fieldsync.pid"
	intakeDirName = "intake"
	logFileName   = "fieldsync.log"
)

// logFileDefault as log_file selects fieldsync.log in the data directory.
const logFileDefault = "default"

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Config file (defaults if missing)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("config loaded", slog.String("path", cfgPath))

	// 3. Environment
	if env.DataDir != "" {
		cfg.Storage.DataDir = env.DataDir
	}

	if env.APIURL != "" {
		cfg.API.BaseURL = env.APIURL
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = env.LogLevel
	}

	// 4. CLI flags
	if cli.DataDir != nil {
		cfg.Storage.DataDir = *cli.DataDir
	}

	if cli.APIURL != nil {
		cfg.API.BaseURL = *cli.APIURL
	}

	if cli.LogLevel != nil {
		cfg.Logging.LogLevel = *cli.LogLevel
	}

	// Overrides bypass file validation, so check the merged result again.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	resolved.ConfigPath = cfgPath

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// resolve parses a validated Config into a Resolved.
func resolve(cfg *Config) (*Resolved, error) {
	r := &Resolved{
		BaseURL:   strings.TrimSpace(cfg.API.BaseURL),
		UserAgent: cfg.API.UserAgent,
		DataDir:   expandTilde(cfg.Storage.DataDir),
		IMEIs:     cfg.Auth.IMEIs,
		Logging:   cfg.Logging,
		WatchDir:  expandTilde(cfg.Capture.WatchDir),
	}

	if r.DataDir == "" {
		r.DataDir = DefaultDataDir()
	}

	if r.WatchDir == "" && r.DataDir != "" {
		r.WatchDir = filepath.Join(r.DataDir, intakeDirName)
	}

	r.Logging.LogFile = expandTilde(r.Logging.LogFile)
	if r.Logging.LogFile == logFileDefault && r.DataDir != "" {
		r.Logging.LogFile = filepath.Join(r.DataDir, logFileName)
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"api.request_timeout", cfg.API.RequestTimeout, &r.RequestTimeout},
		{"api.upload_timeout", cfg.API.UploadTimeout, &r.UploadTimeout},
		{"auth.refresh_interval", cfg.Auth.RefreshInterval, &r.RefreshInterval},
		{"sync.poll_interval", cfg.Sync.PollInterval, &r.PollInterval},
		{"sync.shutdown_timeout", cfg.Sync.ShutdownTimeout, &r.ShutdownTimeout},
		{"capture.settle", cfg.Capture.Settle, &r.Settle},
	}

	for _, d := range durations {
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}

		*d.out = v
	}

	size, err := parseSize(cfg.Capture.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("capture.max_image_size: %w", err)
	}

	r.MaxImageBytes = size

	return r, nil
}

// DBPath returns the case database path.
func (r *Resolved) DBPath() string {
	return filepath.Join(r.DataDir, dbFileName)
}

// TokenPath returns the session token file path.
func (r *Resolved) TokenPath() string {
	return filepath.Join(r.DataDir, tokenFileName)
}

// PIDPath returns the lock file taken by "sync".
func (r *Resolved) PIDPath() string {
	return filepath.Join(r.DataDir, pidFileName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for fieldsync. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// Durations and sizes are kept as strings so the file stays human-editable;
// Resolve parses them into a Resolved value.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Auth    AuthConfig    `toml:"auth"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Capture CaptureConfig `toml:"capture"`
}

// APIConfig points the client at the investigations backend.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout string `toml:"request_timeout"`
	UploadTimeout  string `toml:"upload_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// StorageConfig controls where the case database, images and tokens live.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// AuthConfig controls the session refresh loop and device identity.
type AuthConfig struct {
	RefreshInterval string   `toml:"refresh_interval"`
	IMEIs           []string `toml:"imei"`
}

// SyncConfig controls "sync --watch" and shutdown timing.
type SyncConfig struct {
	PollInterval    string `toml:"poll_interval"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LoggingConfig controls log output: level, format, file fan-out and
// error reporting.
type LoggingConfig struct {
	LogLevel          string `toml:"log_level"`
	LogFile           string `toml:"log_file"`
	LogFormat         string `toml:"log_format"`
	SentryDSN         string `toml:"sentry_dsn"`
	SentryEnvironment string `toml:"sentry_environment"`
}

// CaptureConfig controls the photo intake watcher.
type CaptureConfig struct {
	WatchDir     string `toml:"watch_dir"`
	Settle       string `toml:"settle"`
	MaxImageSize string `toml:"max_image_size"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DataDir  *string // --data-dir flag
	APIURL   *string // --api-url flag
	LogLevel *string // derived from -v / -q / --debug
}

// Resolved is the effective configuration after all override layers, with
// durations and sizes parsed and paths expanded.
type Resolved struct {
	ConfigPath string

	BaseURL        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	UserAgent      string

	DataDir string

	RefreshInterval time.Duration
	IMEIs           []string

	PollInterval    time.Duration
	ShutdownTimeout time.Duration

	Logging LoggingConfig

	WatchDir      string
	Settle        time.Duration
	MaxImageBytes int64
}

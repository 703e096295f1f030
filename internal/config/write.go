package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write only: the file may carry a Sentry DSN.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o700

// ErrConfigExists is returned by WriteDefault when the file is already there.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is written by "config init". Every setting is present as
// a commented-out default so users can discover every option.
const configTemplate = `# fieldsync configuration

[api]
# Investigations backend, e.g. "https://api.example.com/api/"
%s
# request_timeout = "30s"
# upload_timeout = "60s"
# user_agent = "fieldsync"

[storage]
# Case database, images and session token. Default: platform data dir.
# data_dir = ""

[auth]
# How often the background session refresh checks the token.
# refresh_interval = "30s"
# Device identifiers sent with login.
# imei = []

[sync]
# Interval for sync --watch
# poll_interval = "5m"
# shutdown_timeout = "30s"

[logging]
# debug, info, warn, error
# log_level = "info"
# auto (text on a terminal, JSON otherwise), text, json
# log_format = "auto"
# Also write logs to this file; "default" uses fieldsync.log in data_dir.
# log_file = ""
# Forward error-level logs to Sentry.
# sentry_dsn = ""
# sentry_environment = ""

[capture]
# Intake directory watched by "capture watch". Default: <data_dir>/intake
# watch_dir = ""
# settle = "500ms"
# max_image_size = "100KiB"
`

// WriteDefault creates a commented config file at path. baseURL, when
// non-empty, is written as the active api.base_url. An existing file is
// never overwritten.
func WriteDefault(path, baseURL string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: checking %s: %w", path, err)
	}

	urlLine := `# base_url = ""`
	if baseURL != "" {
		if err := validateBaseURL(baseURL); err != nil {
			return fmt.Errorf("config: base url: %w", err)
		}

		urlLine = fmt.Sprintf("base_url = %q", baseURL)
	}

	return atomicWriteFile(path, []byte(fmt.Sprintf(configTemplate, urlLine)))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0600).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}

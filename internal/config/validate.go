package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout  = 1 * time.Second
	minUploadTimeout   = 5 * time.Second
	minRefreshInterval = 5 * time.Second
	minPollInterval    = 1 * time.Minute
	minShutdownTimeout = 1 * time.Second
	minSettle          = 50 * time.Millisecond
	maxSettle          = 1 * time.Minute
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateCapture(&cfg.Capture)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after every
// override layer has been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir: cannot determine a data directory; set one explicitly"))
	} else if !filepath.IsAbs(r.DataDir) {
		errs = append(errs, fmt.Errorf("storage.data_dir: must be absolute after expansion, got %q", r.DataDir))
	}

	if r.WatchDir != "" && !filepath.IsAbs(r.WatchDir) {
		errs = append(errs, fmt.Errorf("capture.watch_dir: must be absolute after expansion, got %q", r.WatchDir))
	}

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	if a.BaseURL != "" {
		if err := validateBaseURL(a.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("api.base_url: %w", err))
		}
	}

	errs = append(errs, validateDuration("api.request_timeout", a.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDuration("api.upload_timeout", a.UploadTimeout, minUploadTimeout)...)

	return errs
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}

	return nil
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("auth.refresh_interval", a.RefreshInterval, minRefreshInterval)...)

	for i, imei := range a.IMEIs {
		if strings.TrimSpace(imei) == "" {
			errs = append(errs, fmt.Errorf("auth.imei[%d]: must not be empty", i))
		}
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("sync.poll_interval", s.PollInterval, minPollInterval)...)
	errs = append(errs, validateDuration("sync.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.SentryDSN != "" {
		u, err := url.Parse(l.SentryDSN)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("logging.sentry_dsn: not a valid DSN: %q", l.SentryDSN))
		}
	}

	return errs
}

func validateCapture(c *CaptureConfig) []error {
	var errs []error

	d, err := time.ParseDuration(c.Settle)
	if err != nil {
		errs = append(errs, fmt.Errorf("capture.settle: invalid duration %q: %w", c.Settle, err))
	} else if d < minSettle || d > maxSettle {
		errs = append(errs, fmt.Errorf("capture.settle: must be between %s and %s, got %s", minSettle, maxSettle, c.Settle))
	}

	n, err := parseSize(c.MaxImageSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("capture.max_image_size: %w", err))
	} else if n <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_image_size: must be positive, got %q", c.MaxImageSize))
	}

	return errs
}

// validateDuration parses s and enforces a lower bound.
func validateDuration(name, s string, minimum time.Duration) []error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", name, s, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", name, minimum, s)}
	}

	return nil
}

package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// summary to w. This powers "config show". The Sentry DSN is masked.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.ConfigPath)

	ew.printf("[api]\n")
	ew.printf("  base_url         = %q\n", r.BaseURL)
	ew.printf("  request_timeout  = %q\n", r.RequestTimeout)
	ew.printf("  upload_timeout   = %q\n", r.UploadTimeout)
	ew.printf("  user_agent       = %q\n", r.UserAgent)
	ew.printf("\n")

	ew.printf("[storage]\n")
	ew.printf("  data_dir         = %q\n", r.DataDir)
	ew.printf("\n")

	ew.printf("[auth]\n")
	ew.printf("  refresh_interval = %q\n", r.RefreshInterval)

	if len(r.IMEIs) > 0 {
		ew.printf("  imei             = [%s]\n", joinQuoted(r.IMEIs))
	}

	ew.printf("\n")

	ew.printf("[sync]\n")
	ew.printf("  poll_interval    = %q\n", r.PollInterval)
	ew.printf("  shutdown_timeout = %q\n", r.ShutdownTimeout)
	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level        = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format       = %q\n", r.Logging.LogFormat)
	ew.printf("  log_file         = %q\n", r.Logging.LogFile)

	if r.Logging.SentryDSN != "" {
		ew.printf("  sentry_dsn       = %q\n", maskDSN(r.Logging.SentryDSN))
	}

	if r.Logging.SentryEnvironment != "" {
		ew.printf("  sentry_environment = %q\n", r.Logging.SentryEnvironment)
	}

	ew.printf("\n")

	ew.printf("[capture]\n")
	ew.printf("  watch_dir        = %q\n", r.WatchDir)
	ew.printf("  settle           = %q\n", r.Settle)
	ew.printf("  max_image_size   = %d\n", r.MaxImageBytes)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}

// maskDSN hides the public key of a DSN (https://<key>@host/project).
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "***"
	}

	if _, host, found := strings.Cut(rest, "@"); found {
		return scheme + "://***@" + host
	}

	return dsn
}

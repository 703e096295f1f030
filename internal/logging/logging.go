// Package logging builds the process slog.Logger: a console handler whose
// format follows the terminal, an optional JSON log file, and optional
// error forwarding to Sentry, fanned out through one handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

// Output formats.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

const (
	logFilePerms  = 0o600
	logDirPerms   = 0o700
	sentryFlushBy = 2 * time.Second
	redacted      = "[REDACTED]"
)

// sensitiveKeys are attribute keys whose values never reach a log sink.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"access_token":  true,
	"refresh_token": true,
	"token":         true,
	"authorization": true,
}

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error; empty means info
	Format string // auto, text, json; empty means auto
	File   string // optional JSON log file, appended to

	SentryDSN         string
	SentryEnvironment string
	Release           string

	// Console is where console logs go. Defaults to os.Stderr.
	Console io.Writer
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// New builds a logger from opts. The returned cleanup flushes Sentry and
// closes the log file; it is safe to call once the logger is no longer used.
func New(opts Options) (*slog.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr}

	var (
		handlers []slog.Handler
		cleanups []func()
	)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	handlers = append(handlers, consoleHandler(console, opts.Format, handlerOpts))

	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			return nil, nil, err
		}

		cleanups = append(cleanups, func() { f.Close() })
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
	}

	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			Environment:      opts.SentryEnvironment,
			Release:          opts.Release,
			AttachStacktrace: true,
		})
		if err != nil {
			cleanup()

			return nil, nil, fmt.Errorf("logging: initializing sentry: %w", err)
		}

		cleanups = append(cleanups, func() { sentry.Flush(sentryFlushBy) })
		handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = slogmulti.Fanout(handlers...)
	} else {
		handler = handlers[0]
	}

	return slog.New(handler), cleanup, nil
}

// consoleHandler picks text on a terminal and JSON otherwise when format
// is auto.
func consoleHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case FormatText:
		return slog.NewTextHandler(w, opts)
	default:
		if IsTerminal(w) {
			return slog.NewTextHandler(w, opts)
		}

		return slog.NewJSONHandler(w, opts)
	}
}

// IsTerminal reports whether w is a terminal (including Cygwin/MSYS ptys).
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), logDirPerms); err != nil {
		return nil, fmt.Errorf("logging: creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerms)
	if err != nil {
		return nil, fmt.Errorf("logging: opening log file: %w", err)
	}

	return f, nil
}

// redactAttr masks credential-bearing attributes.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}

	return a
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/config"
	"github.com/fieldverify/fieldsync/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without resolving the
// config file (config init writes it).
const skipConfigAnnotation = "fieldsync/skip-config"

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	DataDir    string
	APIURL     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once per invocation in PersistentPreRunE and carried
// in the command's context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer

	env      config.EnvOverrides
	cli      config.CLIOverrides
	closeLog func()
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by the root pre-run.
func cliContextFrom(ctx context.Context) (*CLIContext, bool) {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc, ok
}

// mustCLIContext is cliContextFrom for commands that always run after the
// root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := cliContextFrom(ctx)
	if !ok {
		panic("fieldsync: command ran without CLI context")
	}

	return cc
}

// Close flushes and closes the log sinks.
func (cc *CLIContext) Close() {
	if cc.closeLog != nil {
		cc.closeLog()
		cc.closeLog = nil
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Err, cc.Flags.Quiet, format, args...)
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline-first field investigation case sync",
		Long: `fieldsync keeps verification cases on the device: form data, geotagged
photos, and their sync state. Cases are captured offline and submitted to the
investigations backend when "sync" runs.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, *flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.DataDir, "data-dir", "", "data directory (case database, images, token)")
	pf.StringVar(&flags.APIURL, "api-url", "", "backend base URL")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newCasesCmd())
	cmd.AddCommand(newCompletedCmd())
	cmd.AddCommand(newDraftCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLOSCmd())
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves configuration and builds the logger for cmd.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{
		Flags: flags,
		Out:   cmd.OutOrStdout(),
		Err:   cmd.ErrOrStderr(),
	}

	if err := config.LoadDotEnv(config.DotEnvFile); err != nil {
		return nil, err
	}

	boot := bootstrapLogger(cc.Err, flags)

	cc.env = config.ReadEnvOverrides(boot)
	cc.cli = cliOverrides(cmd, flags)

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.Logger = boot
		return cc, nil
	}

	resolved, err := config.Resolve(cc.env, cc.cli, boot)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = resolved

	logger, closeLog, err := logging.New(logging.Options{
		Level:             resolved.Logging.LogLevel,
		Format:            resolved.Logging.LogFormat,
		File:              resolved.Logging.LogFile,
		SentryDSN:         resolved.Logging.SentryDSN,
		SentryEnvironment: resolved.Logging.SentryEnvironment,
		Release:           "fieldsync@" + version,
		Console:           cc.Err,
	})
	if err != nil {
		return nil, err
	}

	cc.Logger = logger
	cc.closeLog = closeLog

	return cc, nil
}

// cliOverrides maps explicitly set flags onto config overrides. -v and -q
// override the configured log level.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if cmd.Flags().Changed("data-dir") {
		cli.DataDir = &flags.DataDir
	}

	if cmd.Flags().Changed("api-url") {
		cli.APIURL = &flags.APIURL
	}

	if level := flagLogLevel(flags); level != "" {
		cli.LogLevel = &level
	}

	return cli
}

func flagLogLevel(flags CLIFlags) string {
	switch {
	case flags.Verbose:
		return "debug"
	case flags.Quiet:
		return "error"
	default:
		return ""
	}
}

// bootstrapLogger is used before the config is loaded. It only reports
// warnings unless -v is given.
func bootstrapLogger(w io.Writer, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// errSilentFailure makes main exit non-zero without printing anything
// further; the command already reported what failed.
var errSilentFailure = errors.New("command failed")

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	if !errors.Is(err, errSilentFailure) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(1)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldverify/fieldsync/internal/auth"
	"github.com/fieldverify/fieldsync/internal/config"
	casesync "github.com/fieldverify/fieldsync/internal/sync"
)

// errSessionEnded stops a watch when the credentials are cleared.
var errSessionEnded = errors.New("session ended; run 'fieldsync login' and restart sync")

func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync [case...]",
		Short: "Submit pending cases to the backend",
		Long: `Submit cases to the backend: the form payload first, then the photos in
one batch. A case is deleted locally only after both succeed; otherwise it is
kept as FAILED with the error recorded and retried on the next run.

Without arguments every pending case (drafted, failed, or interrupted) is
synced. With --watch, sync keeps running: it syncs on every poll interval and
whenever it receives SIGHUP, which "draft step" sends when a case reaches its
last step. SIGHUP also reloads the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && len(args) > 0 {
				return errors.New("--watch syncs every pending case; do not name cases")
			}

			return withApp(cmd.Context(), func(cc *CLIContext, a *app) error {
				return runSync(cmd.Context(), cc, a, args, watch)
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and sync on an interval and on SIGHUP")

	return cmd
}

func runSync(ctx context.Context, cc *CLIContext, a *app, keys []string, watch bool) error {
	if _, err := a.requireUser(ctx); err != nil {
		return err
	}

	lock, err := acquireSyncLock(cc.Cfg.PIDPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Installed before anything long-running so a SIGHUP from "draft step"
	// never terminates a one-shot run.
	reload := reloadSignals(ctx)

	unsubscribe := a.session.Subscribe(func(ev auth.Event) {
		if ev.Kind == auth.EventCredentialsCleared || ev.Kind == auth.EventLoggedOut {
			cancel(errSessionEnded)
		}
	})
	defer unsubscribe()

	if a.session.StartRefreshLoop(ctx, cc.Cfg.RefreshInterval) {
		defer a.session.StopRefreshLoop()
	}

	stopCtx := shutdownContext(ctx, cc.Logger)
	passCtx, stopPass := graceContext(ctx, stopCtx, cc.Cfg.ShutdownTimeout)
	defer stopPass()

	if watch {
		return runWatch(stopCtx, passCtx, cc, a, reload)
	}

	var report *casesync.Report

	if len(keys) > 0 {
		report, err = a.engine.SyncCases(passCtx, keys)
	} else {
		report, err = a.engine.SyncAll(passCtx)
	}

	if report != nil {
		if perr := printSyncReport(cc, report); perr != nil {
			return perr
		}
	}

	if cause := context.Cause(ctx); errors.Is(cause, errSessionEnded) {
		return cause
	}

	if err != nil {
		return err
	}

	if report.Failed > 0 {
		return errSilentFailure
	}

	return nil
}

func runWatch(stopCtx, passCtx context.Context, cc *CLIContext, a *app, reload <-chan struct{}) error {
	holder := config.NewHolder(cc.Cfg, cc.env, cc.cli)

	cc.Statusf("Watching for pending cases every %s (PID %d).\n",
		holder.Resolved().PollInterval, os.Getpid())

	err := a.engine.RunWatch(stopCtx, casesync.WatchOpts{
		Interval: func() time.Duration { return holder.Resolved().PollInterval },
		Trigger:  reload,
		OnTrigger: func() {
			if _, err := holder.Reload(); err != nil {
				cc.Logger.Warn("config reload failed, keeping current settings",
					slog.String("error", err.Error()))
			}
		},
		OnReport: func(r *casesync.Report) {
			if r.Attempted == 0 {
				return
			}

			cc.Statusf("%s: synced %d, failed %d.\n",
				time.Now().Format(time.TimeOnly), r.Succeeded, r.Failed)
		},
		PassContext: passCtx,
	})
	if err != nil {
		return err
	}

	cause := context.Cause(stopCtx)
	if errors.Is(cause, errSessionEnded) {
		return cause
	}

	if cause != nil {
		cc.Logger.Info("sync watch stopped", slog.String("reason", cause.Error()))
	}

	return nil
}

// syncOutput is the JSON schema for `sync --json`.
type syncOutput struct {
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Duration  string       `json:"duration"`
	Synced    []syncedCase `json:"synced"`
	Failures  []failedCase `json:"failures"`
}

type syncedCase struct {
	Key            string `json:"key"`
	CaseID         string `json:"case_id,omitempty"`
	ImagesUploaded int    `json:"images_uploaded"`
}

type failedCase struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

func printSyncReport(cc *CLIContext, r *casesync.Report) error {
	if cc.Flags.JSON {
		out := syncOutput{
			Attempted: r.Attempted,
			Succeeded: r.Succeeded,
			Failed:    r.Failed,
			Duration:  r.Duration.Round(time.Millisecond).String(),
			Synced:    []syncedCase{},
			Failures:  []failedCase{},
		}

		for _, res := range r.Results {
			out.Synced = append(out.Synced, syncedCase{Key: res.Key, CaseID: res.CaseID, ImagesUploaded: res.ImagesUploaded})
		}

		for _, f := range r.Failures {
			out.Failures = append(out.Failures, failedCase{Key: f.Key, Error: f.Err.Error()})
		}

		return printJSON(cc.Out, out)
	}

	printSyncText(cc.Out, r)

	return nil
}

func printSyncText(w io.Writer, r *casesync.Report) {
	if r.Attempted == 0 {
		fmt.Fprintln(w, "Nothing to sync.")
		return
	}

	for _, res := range r.Results {
		fmt.Fprintf(w, "synced  %s (%d images)\n", res.Key, res.ImagesUploaded)
	}

	for _, f := range r.Failures {
		fmt.Fprintf(w, "FAILED  %s: %v\n", f.Key, f.Err)
	}

	fmt.Fprintf(w, "\n%d synced, %d failed in %s.\n",
		r.Succeeded, r.Failed, r.Duration.Round(time.Millisecond))
}

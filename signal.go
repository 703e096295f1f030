package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// exitForced is the exit status after a second interrupt.
const exitForced = 130

// errInterrupted is the cancel cause of a shutdownContext.
var errInterrupted = errors.New("interrupted")

// shutdownContext is canceled, with an errInterrupted cause, on the first
// SIGINT or SIGTERM. A second signal exits the process.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		var first os.Signal

		select {
		case first = <-sigCh:
		case <-ctx.Done():
			return
		}

		logger.Info("shutting down, interrupt again to exit now",
			slog.String("signal", first.String()),
		)
		cancel(fmt.Errorf("%w by %s", errInterrupted, first))

		select {
		case sig := <-sigCh:
			logger.Warn("second interrupt, exiting",
				slog.String("signal", sig.String()),
			)
			os.Exit(exitForced)
		case <-parent.Done():
		}
	}()

	return ctx
}

// graceContext returns a context for in-flight work that outlives stop by
// grace. It is canceled when parent is done, or grace after stop is done.
func graceContext(parent, stop context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	go func() {
		defer cancel()

		select {
		case <-ctx.Done():
			return
		case <-parent.Done():
			return
		case <-stop.Done():
		}

		t := time.NewTimer(grace)
		defer t.Stop()

		select {
		case <-ctx.Done():
		case <-parent.Done():
		case <-t.C:
		}
	}()

	return ctx, cancel
}

// reloadSignals delivers one value per SIGHUP until ctx is done. Bursts
// collapse into a single pending value.
func reloadSignals(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-sigCh:
				select {
				case out <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

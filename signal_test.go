package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: context not canceled within 2s", what)
	}
}

func TestShutdownContext_SignalSetsCause(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	defer cancel()

	ctx := shutdownContext(parent, quietLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitDone(t, ctx, "SIGTERM")

	cause := context.Cause(ctx)
	require.ErrorIs(t, cause, errInterrupted)
	assert.Contains(t, cause.Error(), "terminated")
}

func TestShutdownContext_ParentCancel(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(t.Context())
	ctx := shutdownContext(parent, quietLogger())

	cancel()
	waitDone(t, ctx, "parent cancel")

	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
	assert.NotErrorIs(t, context.Cause(ctx), errInterrupted)
}

func TestReloadSignals_CoalescesBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	reload := reloadSignals(ctx)

	for range 3 {
		require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
	}

	select {
	case <-reload:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s of SIGHUP")
	}

	// At most one more value can be pending after a burst.
	time.Sleep(50 * time.Millisecond)

	pending := 0

	for {
		select {
		case <-reload:
			pending++
			continue
		default:
		}

		break
	}

	assert.LessOrEqual(t, pending, 1)
}

func TestGraceContext(t *testing.T) {
	t.Run("outlives stop by grace", func(t *testing.T) {
		stop, stopNow := context.WithCancel(t.Context())
		ctx, cancel := graceContext(t.Context(), stop, 50*time.Millisecond)
		defer cancel()

		stopNow()
		assert.NoError(t, ctx.Err(), "still running right after stop")

		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("not canceled after grace")
		}
	})

	t.Run("parent cancel is immediate", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(t.Context())
		ctx, cancel := graceContext(parent, context.Background(), time.Hour)
		defer cancel()

		cancelParent()

		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("not canceled with parent")
		}
	})
}

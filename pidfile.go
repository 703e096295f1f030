package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o600
	pidDirPermissions  = 0o700
)

var (
	// errSyncRunning is returned when another sync holds the lock.
	errSyncRunning = errors.New("another fieldsync sync is already running")

	// errNoDaemon is returned by signalDaemon when no sync is running.
	errNoDaemon = errors.New("no running sync daemon")
)

// syncLock is the flock'd PID file held for the lifetime of a sync. Its
// content is the holder's PID so other commands can find and poke it.
type syncLock struct {
	path string
	f    *os.File
}

// acquireSyncLock creates path, takes a non-blocking exclusive flock and
// records the current PID. It fails with errSyncRunning when the lock is
// held elsewhere.
func acquireSyncLock(path string) (*syncLock, error) {
	if path == "" {
		return nil, errors.New("sync lock path is empty; cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating sync lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening sync lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, ok := livePID(path); ok {
			return nil, fmt.Errorf("%w (PID %d)", errSyncRunning, pid)
		}

		return nil, fmt.Errorf("%w (could not lock %s)", errSyncRunning, path)
	}

	l := &syncLock{path: path, f: f}

	if err := l.writePID(); err != nil {
		l.Release()

		return nil, err
	}

	return l, nil
}

func (l *syncLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating sync lock: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing sync lock: %w", err)
	}

	return l.f.Sync()
}

// Release removes the file and drops the lock. Safe to call twice.
func (l *syncLock) Release() {
	if l.f == nil {
		return
	}

	os.Remove(l.path)
	l.f.Close()
	l.f = nil
}

// readPIDFile parses the PID recorded in path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// livePID returns the PID in path and whether that process is alive.
func livePID(path string) (int, bool) {
	pid, err := readPIDFile(path)
	if err != nil {
		return 0, false
	}

	return pid, syscall.Kill(pid, syscall.Signal(0)) == nil
}

// runningPID returns the PID of a live sync holding path, or 0.
func runningPID(path string) int {
	pid, ok := livePID(path)
	if !ok {
		return 0
	}

	return pid
}

// signalDaemon sends SIGHUP to the sync recorded in path. A PID file naming
// a dead process is removed and reported as errNoDaemon.
func signalDaemon(path string) (int, error) {
	pid, err := readPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errNoDaemon
		}

		return 0, err
	}

	if syscall.Kill(pid, syscall.Signal(0)) != nil {
		os.Remove(path)

		return 0, fmt.Errorf("%w (PID %d is gone, stale file removed)", errNoDaemon, pid)
	}

	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return 0, fmt.Errorf("sending SIGHUP to sync daemon (PID %d): %w", pid, err)
	}

	return pid, nil
}

// notifyDaemon asks a running `sync --watch` to start a pass now. It reports
// whether a daemon was poked.
func notifyDaemon(cc *CLIContext) bool {
	pid, err := signalDaemon(cc.Cfg.PIDPath())
	if err != nil {
		if !errors.Is(err, errNoDaemon) {
			cc.Logger.Debug("notifying sync daemon failed", slog.String("error", err.Error()))
		}

		return false
	}

	cc.Logger.Debug("notified sync daemon", slog.Int("pid", pid))

	return true
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldverify/fieldsync/internal/caserepo"
	"github.com/fieldverify/fieldsync/internal/model"
)

// Defaults for Watcher.
const (
	DefaultSettle = 500 * time.Millisecond

	// MaxImageBytes is the size compressed photos are expected to stay
	// under. Larger files are accepted with a warning.
	MaxImageBytes = 100 * 1024

	watchErrInitBackoff = 100 * time.Millisecond
	watchErrMaxBackoff  = 5 * time.Second
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".webp": true,
}

// ImageSaver attaches a photo to a case. Satisfied by *caserepo.Repository.
type ImageSaver interface {
	SaveImage(ctx context.Context, key string, in model.ImageInput) (caserepo.SavedImage, error)
}

// FsWatcher is the slice of *fsnotify.Watcher the intake loop uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher to FsWatcher.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error          { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                   { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// Ingested reports one photo attached to a case.
type Ingested struct {
	Source  string
	ImageID int64
	Path    string
}

// WatcherConfig holds the options for NewWatcher.
type WatcherConfig struct {
	Dir     string
	CaseKey string
	Saver   ImageSaver
	Logger  *slog.Logger

	// Settle is how long a file must go without writes before it is
	// ingested, so half-written photos are never copied.
	Settle time.Duration

	// MaxBytes is the size target for intake photos; larger files are
	// still attached but logged. Zero means MaxImageBytes.
	MaxBytes int64

	// OnIngest is called after each photo is attached. Optional.
	OnIngest func(Ingested)
}

// Watcher moves photos from an intake directory into a case.
type Watcher struct {
	cfg        WatcherConfig
	logger     *slog.Logger
	newWatcher func() (FsWatcher, error)
	nowFunc    func() time.Time
}

// NewWatcher validates cfg and returns a Watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("capture: intake directory is required")
	}

	if cfg.CaseKey == "" {
		return nil, errors.New("capture: case is required")
	}

	if cfg.Saver == nil {
		return nil, errors.New("capture: image saver is required")
	}

	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}

	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = MaxImageBytes
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		cfg:    cfg,
		logger: logger,
		newWatcher: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return fsnotifyWatcher{w: w}, nil
		},
		nowFunc: time.Now,
	}, nil
}

// Run ingests photos already in the intake directory, then watches it until
// ctx is canceled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("capture: creating intake directory: %w", err)
	}

	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("capture: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("capture: watching %s: %w", w.cfg.Dir, err)
	}

	w.logger.Info("capture intake watching",
		slog.String("dir", w.cfg.Dir),
		slog.String("case", w.cfg.CaseKey),
	)

	if _, err := w.IngestExisting(ctx); err != nil {
		return err
	}

	return w.loop(ctx, fw)
}

// IngestExisting attaches every photo currently in the intake directory and
// returns how many were ingested.
func (w *Watcher) IngestExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("capture: listing %s: %w", w.cfg.Dir, err)
	}

	count := 0

	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}

		if w.ingest(ctx, filepath.Join(w.cfg.Dir, e.Name())) {
			count++
		}
	}

	return count, nil
}

func (w *Watcher) loop(ctx context.Context, fw FsWatcher) error {
	ticker := time.NewTicker(w.cfg.Settle / 2)
	defer ticker.Stop()

	// Last write time per pending photo.
	pending := make(map[string]time.Time)
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if isImage(ev.Name) {
					pending[ev.Name] = w.nowFunc()
				}
			}

			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				delete(pending, ev.Name)
			}

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("intake watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if err := sleepCtx(ctx, errBackoff); err != nil {
				return nil
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)

		case <-ticker.C:
			now := w.nowFunc()

			for path, last := range pending {
				if now.Sub(last) < w.cfg.Settle {
					continue
				}

				delete(pending, path)
				w.ingest(ctx, path)
			}
		}
	}
}

// ingest attaches one photo and removes it and its sidecar from the intake
// directory. Failures are logged and leave the files in place for a retry.
func (w *Watcher) ingest(ctx context.Context, path string) bool {
	logger := w.logger.With(slog.String("path", path))

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}

	if err != nil {
		logger.Warn("skipping intake photo", slog.String("error", err.Error()))
		return false
	}

	if info.Size() > w.cfg.MaxBytes {
		logger.Warn("photo exceeds size target", slog.Int64("bytes", info.Size()))
	}

	sc, err := ReadSidecar(path)
	if err != nil {
		logger.Warn("ignoring unreadable sidecar", slog.String("error", err.Error()))
		sc = nil
	}

	in, err := sc.ImageInput(path)
	if err != nil {
		logger.Warn("ignoring invalid sidecar field", slog.String("error", err.Error()))
	}

	saved, err := w.cfg.Saver.SaveImage(ctx, w.cfg.CaseKey, in)
	if err != nil {
		logger.Error("attaching photo", slog.String("error", err.Error()))
		return false
	}

	for _, p := range []string{path, SidecarPath(path)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("removing intake file", slog.String("file", p), slog.String("error", err.Error()))
		}
	}

	logger.Info("photo attached",
		slog.String("case", w.cfg.CaseKey),
		slog.Int64("image_id", saved.ImageID),
	)

	if w.cfg.OnIngest != nil {
		w.cfg.OnIngest(Ingested{Source: path, ImageID: saved.ImageID, Path: saved.FilePath})
	}

	return true
}

func isImage(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}

	return imageExts[strings.ToLower(filepath.Ext(base))]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package sync pushes locally captured cases to the backend. A case is
// submitted first (form payload plus identity), then its images are uploaded
// in one batch; only when both succeed is the local copy deleted. Any failure
// leaves the draft intact in the FAILED state with the error recorded.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/fieldverify/fieldsync/internal/api"
	"github.com/fieldverify/fieldsync/internal/caserepo"
	"github.com/fieldverify/fieldsync/internal/form"
	"github.com/fieldverify/fieldsync/internal/model"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrCaseNotFound   = caserepo.ErrCaseNotFound
	ErrMissingForm    = errors.New("sync: case has no form data")
	ErrSyncInProgress = errors.New("sync: case is already syncing in this process")
)

// Repository is the slice of the case repository the engine drives.
// Satisfied by *caserepo.Repository.
type Repository interface {
	LoadCase(ctx context.Context, key string) (*model.CaseData, error)
	UpdateStatus(ctx context.Context, key string, status model.Status) error
	RecordFailure(ctx context.Context, key string, cause error) error
	MarkImagesSynced(ctx context.Context, key string, serverIDs map[int64]string) error
	DeleteCase(ctx context.Context, key string) error
	ListPending(ctx context.Context) ([]model.Case, error)
}

// Backend submits cases and uploads their images. Satisfied by *api.Client.
type Backend interface {
	SubmitCase(ctx context.Context, payload map[string]any) (json.RawMessage, error)
	UploadCaseFiles(ctx context.Context, in api.UploadRequest) (*api.UploadResult, error)
}

// CaseCache forgets synced cases from the cached assigned list.
// Satisfied by *casecache.Cache.
type CaseCache interface {
	RemoveCase(ctx context.Context, caseID string) (int, error)
}

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Repo    Repository
	Backend Backend
	Cache   CaseCache // optional
	Logger  *slog.Logger
}

// Result describes one successfully synced case.
type Result struct {
	Key            string
	CaseID         string
	Response       json.RawMessage
	ImagesUploaded int
	Duration       time.Duration
}

// CaseFailure pairs a case key with the error that stopped its sync.
type CaseFailure struct {
	Key string
	Err error
}

// Report summarizes a multi-case run.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
	Results   []Result
	Failures  []CaseFailure
	Duration  time.Duration
}

// Engine syncs cases one at a time. It is safe for concurrent use; a case
// already being synced by this Engine is rejected with ErrSyncInProgress.
type Engine struct {
	repo    Repository
	backend Backend
	cache   CaseCache
	logger  *slog.Logger
	nowFunc func() time.Time

	inFlightMu stdsync.Mutex
	inFlight   map[string]struct{}
}

// NewEngine returns an Engine over cfg.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		repo:     cfg.Repo,
		backend:  cfg.Backend,
		cache:    cfg.Cache,
		logger:   logger,
		nowFunc:  time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// SyncCase submits and uploads one case:
//  1. Load the case; unknown keys fail with ErrCaseNotFound and no write
//  2. Mark it SYNCING
//  3. Submit the form payload with the case identity merged in
//  4. Upload all unsynced images in one batch
//  5. Mark images synced, mark the case SYNCED, delete the local copy
//
// A failure after step 2 records FAILED with the error and returns it. A
// submission is not rolled back when the upload fails.
func (e *Engine) SyncCase(ctx context.Context, key string) (*Result, error) {
	if !e.claim(key) {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, key)
	}
	defer e.release(key)

	start := e.nowFunc()

	data, err := e.repo.LoadCase(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("sync: loading case %s: %w", key, err)
	}

	if data == nil {
		return nil, fmt.Errorf("sync: %w: %s", ErrCaseNotFound, key)
	}

	meta := data.Metadata
	key = meta.Key()

	e.logger.Info("syncing case",
		slog.String("key", key),
		slog.String("case_id", meta.CaseID),
		slog.Int("images", len(data.Images)),
	)

	if err := e.repo.UpdateStatus(ctx, key, model.StatusSyncing); err != nil {
		return nil, fmt.Errorf("sync: marking %s syncing: %w", key, err)
	}

	payload, err := submissionPayload(data)
	if err != nil {
		return nil, e.fail(ctx, key, err)
	}

	resp, err := e.backend.SubmitCase(ctx, payload)
	if err != nil {
		return nil, e.fail(ctx, key, fmt.Errorf("sync: submitting case: %w", err))
	}

	e.logger.Debug("case submitted", slog.String("key", key))

	uploaded, err := e.uploadImages(ctx, meta, data.Images)
	if err != nil {
		return nil, e.fail(ctx, key, err)
	}

	// A case left at SYNCED is never picked up again, so a failure here is
	// recorded like any other and the next pass resubmits it.
	if err := e.repo.UpdateStatus(ctx, key, model.StatusSynced); err != nil {
		return nil, e.fail(ctx, key, fmt.Errorf("sync: marking %s synced: %w", key, err))
	}

	if err := e.repo.DeleteCase(ctx, key); err != nil {
		return nil, e.fail(ctx, key, fmt.Errorf("sync: removing synced case %s: %w", key, err))
	}

	e.forget(ctx, meta)

	res := &Result{
		Key:            key,
		CaseID:         meta.CaseID,
		Response:       resp,
		ImagesUploaded: uploaded,
		Duration:       e.nowFunc().Sub(start),
	}

	e.logger.Info("case synced",
		slog.String("key", key),
		slog.Int("images_uploaded", uploaded),
		slog.Duration("duration", res.Duration),
	)

	return res, nil
}

// uploadImages sends every image not yet marked synced and records the
// server ids the backend reports. It returns the number of images sent.
func (e *Engine) uploadImages(ctx context.Context, meta model.Case, images []model.CaseImage) (int, error) {
	pending := make([]model.CaseImage, 0, len(images))

	for _, img := range images {
		if !img.Synced {
			pending = append(pending, img)
		}
	}

	if len(pending) == 0 {
		return 0, nil
	}

	req := api.UploadRequest{CaseID: uploadCaseID(meta), Files: make([]api.UploadFile, len(pending))}
	for i, img := range pending {
		req.Files[i] = api.UploadFile{
			Path:      img.FilePath,
			Latitude:  img.Latitude,
			Longitude: img.Longitude,
			Accuracy:  img.Accuracy,
			Address:   img.Address,
		}
	}

	res, err := e.backend.UploadCaseFiles(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("sync: uploading %d images: %w", len(pending), err)
	}

	serverIDs := make(map[int64]string, len(pending))

	for i, id := range res.ImageIDs {
		if id != "" && i < len(pending) {
			serverIDs[pending[i].ID] = id
		}
	}

	if len(serverIDs) > 0 {
		if err := e.repo.MarkImagesSynced(ctx, meta.Key(), serverIDs); err != nil {
			return 0, fmt.Errorf("sync: recording uploaded images: %w", err)
		}
	}

	e.logger.Debug("images uploaded",
		slog.String("key", meta.Key()),
		slog.Int("count", len(pending)),
		slog.Int("server_ids", len(serverIDs)),
	)

	return len(pending), nil
}

// fail records cause on the case and returns it. The record is written even
// when ctx has been canceled so the draft never stays in SYNCING.
func (e *Engine) fail(ctx context.Context, key string, cause error) error {
	if err := e.repo.RecordFailure(context.WithoutCancel(ctx), key, cause); err != nil {
		e.logger.Error("recording sync failure",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)

		return errors.Join(cause, err)
	}

	e.logger.Warn("case sync failed",
		slog.String("key", key),
		slog.String("error", cause.Error()),
	)

	return cause
}

// forget removes a synced case from the cached assigned list. Cache errors
// are logged; the sync itself already succeeded.
func (e *Engine) forget(ctx context.Context, meta model.Case) {
	if e.cache == nil {
		return
	}

	for _, id := range []string{meta.CaseID, meta.ID} {
		if id == "" {
			continue
		}

		if _, err := e.cache.RemoveCase(ctx, id); err != nil {
			e.logger.Warn("removing synced case from cache",
				slog.String("case_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) claim(key string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()

	if _, busy := e.inFlight[key]; busy {
		return false
	}

	e.inFlight[key] = struct{}{}

	return true
}

func (e *Engine) release(key string) {
	e.inFlightMu.Lock()
	delete(e.inFlight, key)
	e.inFlightMu.Unlock()
}

// submissionPayload decodes the stored form as it was saved and fills in id
// and case_id from the case metadata when the form lacks them.
func submissionPayload(data *model.CaseData) (map[string]any, error) {
	if len(data.FormData) == 0 {
		return nil, ErrMissingForm
	}

	dec := json.NewDecoder(bytes.NewReader(data.FormData))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("sync: decoding form: %w: %w", form.ErrNotObject, err)
	}

	if payload == nil {
		return nil, fmt.Errorf("sync: decoding form: %w", form.ErrNotObject)
	}

	if isBlank(payload["case_id"]) && data.Metadata.CaseID != "" {
		payload["case_id"] = data.Metadata.CaseID
	}

	if isBlank(payload["id"]) && data.Metadata.ID != "" {
		payload["id"] = data.Metadata.ID
	}

	return payload, nil
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

// uploadCaseID is the identifier images are filed under on the server.
func uploadCaseID(meta model.Case) string {
	if meta.CaseID != "" {
		return meta.CaseID
	}

	return meta.ID
}

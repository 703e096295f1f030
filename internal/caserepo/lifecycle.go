package caserepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldverify/fieldsync/internal/model"
)

const (
	sqlSelectForm = `SELECT form_data FROM case_forms WHERE case_row_id = ?`

	sqlUpdateStatus = `UPDATE cases SET
		 status = ?,
		 last_error = CASE WHEN ? = 'FAILED' THEN last_error ELSE NULL END,
		 updated_at = ?
		WHERE ` + caseKeyClause

	sqlRecordFailure = `UPDATE cases SET status = 'FAILED', last_error = ?, updated_at = ?
		WHERE ` + caseKeyClause

	sqlDeleteImagesForCase = `DELETE FROM case_images WHERE case_row_id = ?`
	sqlDeleteForm          = `DELETE FROM case_forms WHERE case_row_id = ?`
	sqlDeleteCase          = `DELETE FROM cases WHERE id = ?`

	sqlListByStatus = sqlSelectCase + ` WHERE status IN (?) ORDER BY updated_at DESC, id ASC`

	sqlCountByStatus = `SELECT status, COUNT(*) AS n FROM cases GROUP BY status`

	sqlAllImagePaths = `SELECT file_path, synced FROM case_images`
)

// LoadCase returns the metadata, form payload, and images of a case, or nil
// when no case matches key.
func (r *Repository) LoadCase(ctx context.Context, key string) (*model.CaseData, error) {
	rowID, err := resolveRowID(ctx, r.db, key)
	if errors.Is(err, ErrCaseNotFound) {
		return nil, nil //nolint:nilnil // nil means "no such case"
	}

	if err != nil {
		return nil, err
	}

	meta, err := getCase(ctx, r.db, rowID)
	if err != nil {
		return nil, err
	}

	data := &model.CaseData{Metadata: meta}

	var form string

	err = r.db.GetContext(ctx, &form, sqlSelectForm, rowID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("caserepo: reading form for %s: %w", rowID, err)
	default:
		data.FormData = []byte(form)
	}

	if data.Images, err = listImages(ctx, r.db, rowID); err != nil {
		return nil, err
	}

	return data, nil
}

// UpdateStatus sets the status of every row matching key. Moving away from
// FAILED clears last_error. Updating an unknown case is not an error.
func (r *Repository) UpdateStatus(ctx context.Context, key string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	_, err := r.db.ExecContext(ctx, sqlUpdateStatus, string(status), string(status), r.now(), key, key)
	if err != nil {
		return fmt.Errorf("caserepo: updating status of %s: %w", key, err)
	}

	r.logger.Debug("case status updated", slog.String("case", key), slog.String("status", string(status)))

	return nil
}

// RecordFailure marks the case FAILED and stores the error text.
func (r *Repository) RecordFailure(ctx context.Context, key string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	if _, err := r.db.ExecContext(ctx, sqlRecordFailure, msg, r.now(), key, key); err != nil {
		return fmt.Errorf("caserepo: recording failure of %s: %w", key, err)
	}

	return nil
}

// DeleteCase removes a case and everything attached to it: image files and
// rows, the case directory, the form payload, and finally the case row.
// Deleting an unknown case is a no-op.
func (r *Repository) DeleteCase(ctx context.Context, key string) error {
	rowID, err := resolveRowID(ctx, r.db, key)
	if errors.Is(err, ErrCaseNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	images, err := listImages(ctx, r.db, rowID)
	if err != nil {
		return err
	}

	for _, img := range images {
		if err := r.files.DeleteImageFile(img.FilePath); err != nil {
			return fmt.Errorf("caserepo: deleting case %s: %w", rowID, err)
		}

		if _, err := r.db.ExecContext(ctx, sqlDeleteImage, img.ID); err != nil {
			return fmt.Errorf("caserepo: deleting image row %d: %w", img.ID, err)
		}
	}

	// Rows written by a concurrent SaveImage after the listing above.
	if _, err := r.db.ExecContext(ctx, sqlDeleteImagesForCase, rowID); err != nil {
		return fmt.Errorf("caserepo: deleting image rows of %s: %w", rowID, err)
	}

	if err := r.files.DeleteCaseFiles(rowID); err != nil {
		return fmt.Errorf("caserepo: deleting case %s: %w", rowID, err)
	}

	if _, err := r.db.ExecContext(ctx, sqlDeleteForm, rowID); err != nil {
		return fmt.Errorf("caserepo: deleting form of %s: %w", rowID, err)
	}

	if _, err := r.db.ExecContext(ctx, sqlDeleteCase, rowID); err != nil {
		return fmt.Errorf("caserepo: deleting case row %s: %w", rowID, err)
	}

	r.logger.Info("case deleted", slog.String("case", rowID), slog.Int("images", len(images)))

	return nil
}

// ListDrafts returns DRAFTED cases, most recently updated first.
func (r *Repository) ListDrafts(ctx context.Context) ([]model.Case, error) {
	return r.listByStatus(ctx, model.StatusDrafted)
}

// ListPending returns every case not yet accepted by the server: DRAFTED,
// FAILED, and SYNCING cases left behind by an interrupted run.
func (r *Repository) ListPending(ctx context.Context) ([]model.Case, error) {
	return r.listByStatus(ctx, model.StatusDrafted, model.StatusFailed, model.StatusSyncing)
}

// ListByStatus returns cases in any of the given states, newest first.
func (r *Repository) ListByStatus(ctx context.Context, statuses ...model.Status) ([]model.Case, error) {
	return r.listByStatus(ctx, statuses...)
}

func (r *Repository) listByStatus(ctx context.Context, statuses ...model.Status) ([]model.Case, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]string, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	query, params, err := sqlxIn(sqlListByStatus, args)
	if err != nil {
		return nil, err
	}

	var rows []caseRow
	if err := r.db.SelectContext(ctx, &rows, query, params...); err != nil {
		return nil, fmt.Errorf("caserepo: listing cases: %w", err)
	}

	cases := make([]model.Case, 0, len(rows))

	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			return nil, err
		}

		cases = append(cases, c)
	}

	return cases, nil
}

// Stats summarizes local state for status reporting.
type Stats struct {
	ByStatus      map[model.Status]int `json:"by_status"`
	Images        int                  `json:"images"`
	PendingImages int                  `json:"pending_images"`
	MissingFiles  int                  `json:"missing_files"`
	ImageBytes    int64                `json:"image_bytes"`
}

// Stats counts cases per status and sums the size of stored images.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: make(map[model.Status]int, len(model.Statuses))}

	var counts []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}

	if err := r.db.SelectContext(ctx, &counts, sqlCountByStatus); err != nil {
		return Stats{}, fmt.Errorf("caserepo: counting cases: %w", err)
	}

	for _, c := range counts {
		st.ByStatus[model.Status(c.Status)] = c.N
	}

	var images []struct {
		FilePath string `db:"file_path"`
		Synced   bool   `db:"synced"`
	}

	if err := r.db.SelectContext(ctx, &images, sqlAllImagePaths); err != nil {
		return Stats{}, fmt.Errorf("caserepo: listing images: %w", err)
	}

	for _, img := range images {
		st.Images++

		if !img.Synced {
			st.PendingImages++
		}

		size, err := r.files.FileSize(img.FilePath)
		if err != nil {
			st.MissingFiles++
			continue
		}

		st.ImageBytes += size
	}

	return st, nil
}

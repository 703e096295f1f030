package caserepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/fieldverify/fieldsync/internal/filestore"
	"github.com/fieldverify/fieldsync/internal/model"
	"github.com/fieldverify/fieldsync/internal/store"
)

const (
	sqlInsertImage = `INSERT INTO case_images
		(case_row_id, file_path, latitude, longitude, accuracy, address,
		 captured_at, source, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`

	sqlSelectImages = `SELECT id, case_row_id, file_path, latitude, longitude, accuracy,
		address, captured_at, source, synced, server_image_id, created_at
		FROM case_images WHERE case_row_id = ?
		ORDER BY created_at ASC, id ASC`

	sqlImagePath = `SELECT file_path FROM case_images WHERE id = ? AND case_row_id = ?`

	sqlDeleteImage = `DELETE FROM case_images WHERE id = ?`

	sqlMarkImageSynced = `UPDATE case_images SET synced = 1, server_image_id = ?
		WHERE id = ? AND case_row_id = ?`
)

// SavedImage is the result of attaching an image to a case.
type SavedImage struct {
	FilePath string
	ImageID  int64
}

// imageRow mirrors a row of the case_images table.
type imageRow struct {
	ID            int64           `db:"id"`
	CaseRowID     string          `db:"case_row_id"`
	FilePath      string          `db:"file_path"`
	Latitude      sql.NullFloat64 `db:"latitude"`
	Longitude     sql.NullFloat64 `db:"longitude"`
	Accuracy      sql.NullFloat64 `db:"accuracy"`
	Address       sql.NullString  `db:"address"`
	CapturedAt    sql.NullString  `db:"captured_at"`
	Source        sql.NullString  `db:"source"`
	Synced        bool            `db:"synced"`
	ServerImageID sql.NullString  `db:"server_image_id"`
	CreatedAt     string          `db:"created_at"`
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}

	v := f.Float64

	return &v
}

func (r imageRow) toModel() (model.CaseImage, error) {
	img := model.CaseImage{
		ID:            r.ID,
		CaseRowID:     r.CaseRowID,
		FilePath:      r.FilePath,
		URI:           filestore.ImageURI(r.FilePath),
		Latitude:      floatPtr(r.Latitude),
		Longitude:     floatPtr(r.Longitude),
		Accuracy:      floatPtr(r.Accuracy),
		Address:       r.Address.String,
		Source:        model.ImageSource(r.Source.String),
		Synced:        r.Synced,
		ServerImageID: r.ServerImageID.String,
	}

	var err error

	if img.CreatedAt, err = store.ParseTime(r.CreatedAt); err != nil {
		return model.CaseImage{}, err
	}

	if r.CapturedAt.Valid {
		ts, err := store.ParseTime(r.CapturedAt.String)
		if err != nil {
			return model.CaseImage{}, err
		}

		img.CapturedAt = &ts
	}

	return img, nil
}

// SaveImage copies the image into the case directory and records it with
// synced=0. The copied file is removed again if the row cannot be written.
func (r *Repository) SaveImage(ctx context.Context, key string, in model.ImageInput) (SavedImage, error) {
	if in.Source != "" && in.Source != model.SourceCamera && in.Source != model.SourceGallery {
		return SavedImage{}, fmt.Errorf("caserepo: unknown image source %q", in.Source)
	}

	rowID, err := resolveRowID(ctx, r.db, key)
	if err != nil {
		return SavedImage{}, err
	}

	path, err := r.files.SaveImageFile(in.URI, rowID, r.imageName())
	if err != nil {
		return SavedImage{}, fmt.Errorf("caserepo: storing image for %s: %w", rowID, err)
	}

	if !r.files.Contains(rowID, path) {
		_ = r.files.DeleteImageFile(path)
		return SavedImage{}, fmt.Errorf("%w: %s", ErrImageOutsideCase, path)
	}

	var capturedAt sql.NullString
	if in.CapturedAt != nil {
		capturedAt = nullString(store.FormatTime(*in.CapturedAt))
	}

	res, err := r.db.ExecContext(ctx, sqlInsertImage,
		rowID, path, nullFloat(in.Latitude), nullFloat(in.Longitude), nullFloat(in.Accuracy),
		nullString(in.Address), capturedAt, nullString(string(in.Source)), r.now())
	if err != nil {
		if rmErr := r.files.DeleteImageFile(path); rmErr != nil {
			r.logger.Warn("removing orphaned image file",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}

		return SavedImage{}, fmt.Errorf("caserepo: recording image for %s: %w", rowID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return SavedImage{}, fmt.Errorf("caserepo: reading image id: %w", err)
	}

	r.logger.Debug("case image saved",
		slog.String("case", rowID),
		slog.Int64("image_id", id),
	)

	return SavedImage{FilePath: path, ImageID: id}, nil
}

// DeleteImage removes an image file and its row. It reports false when the
// case or the image does not exist.
func (r *Repository) DeleteImage(ctx context.Context, key string, imageID int64) (bool, error) {
	rowID, err := resolveRowID(ctx, r.db, key)
	if errors.Is(err, ErrCaseNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	var path string

	err = r.db.GetContext(ctx, &path, sqlImagePath, imageID, rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("caserepo: looking up image %d: %w", imageID, err)
	}

	if err := r.files.DeleteImageFile(path); err != nil {
		return false, fmt.Errorf("caserepo: deleting image %d: %w", imageID, err)
	}

	if _, err := r.db.ExecContext(ctx, sqlDeleteImage, imageID); err != nil {
		return false, fmt.Errorf("caserepo: deleting image row %d: %w", imageID, err)
	}

	return true, nil
}

func listImages(ctx context.Context, q sqlx.QueryerContext, rowID string) ([]model.CaseImage, error) {
	var rows []imageRow
	if err := sqlx.SelectContext(ctx, q, &rows, sqlSelectImages, rowID); err != nil {
		return nil, fmt.Errorf("caserepo: listing images for %s: %w", rowID, err)
	}

	images := make([]model.CaseImage, 0, len(rows))

	for _, row := range rows {
		img, err := row.toModel()
		if err != nil {
			return nil, err
		}

		images = append(images, img)
	}

	return images, nil
}

// MarkImagesSynced records server ids for uploaded images. Keys are local
// image ids; empty server ids are skipped.
func (r *Repository) MarkImagesSynced(ctx context.Context, key string, serverIDs map[int64]string) error {
	if len(serverIDs) == 0 {
		return nil
	}

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		rowID, err := resolveRowID(ctx, tx, key)
		if err != nil {
			return err
		}

		for id, serverID := range serverIDs {
			if serverID == "" {
				continue
			}

			if _, err := tx.ExecContext(ctx, sqlMarkImageSynced, serverID, id, rowID); err != nil {
				return fmt.Errorf("caserepo: marking image %d synced: %w", id, err)
			}
		}

		return nil
	})
}

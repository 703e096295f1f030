package caserepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/fieldverify/fieldsync/internal/model"
)

const (
	sqlMatchForUpsert = `SELECT id FROM cases
		WHERE id = ? OR (? <> '' AND case_id = ?)
		ORDER BY (id = ?) DESC, updated_at DESC LIMIT 1`

	sqlInsertCase = `INSERT INTO cases
		(id, case_id, reference_number, case_type, bank, status, current_step,
		 last_saved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateCase = `UPDATE cases SET
		 case_id = ?,
		 reference_number = ?,
		 case_type = ?,
		 bank = ?,
		 status = COALESCE(NULLIF(?, ''), status),
		 current_step = ?,
		 last_saved = ?,
		 updated_at = ?
		WHERE id = ?`

	sqlUpsertForm = `INSERT INTO case_forms (case_row_id, form_data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(case_row_id) DO UPDATE SET
		 form_data = excluded.form_data,
		 updated_at = excluded.updated_at`

	sqlTouchCase = `UPDATE cases SET last_saved = ?, updated_at = ? WHERE id = ?`
)

// SaveMetadata inserts or updates a case row. The row is matched by id, or by
// case_id when the incoming case carries one; when only case_id is given it
// also becomes the row id. Metadata fields are overwritten verbatim, status
// only when non-empty, and created_at is kept. New rows start DRAFTED unless
// a valid status is supplied. The stored case is returned.
func (r *Repository) SaveMetadata(ctx context.Context, c model.Case) (model.Case, error) {
	rowID := c.Key()
	if rowID == "" {
		return model.Case{}, ErrMissingIdentity
	}

	if c.Status != "" && !c.Status.Valid() {
		return model.Case{}, fmt.Errorf("%w: %q", ErrInvalidStatus, c.Status)
	}

	if _, err := r.files.CaseDir(rowID); err != nil {
		return model.Case{}, fmt.Errorf("caserepo: case id %q: %w", rowID, err)
	}

	now := r.now()

	var saved model.Case

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing string

		err := tx.GetContext(ctx, &existing, sqlMatchForUpsert, rowID, c.CaseID, c.CaseID, rowID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			status := c.Status
			if status == "" {
				status = model.StatusDrafted
			}

			_, err = tx.ExecContext(ctx, sqlInsertCase,
				rowID, nullString(c.CaseID), nullString(c.ReferenceNumber), nullString(c.CaseType),
				nullString(c.Bank), string(status), nullString(c.CurrentStep), now, now, now)
			if err != nil {
				return fmt.Errorf("caserepo: inserting case %s: %w", rowID, err)
			}

			existing = rowID
		case err != nil:
			return fmt.Errorf("caserepo: matching case %s: %w", rowID, err)
		default:
			_, err = tx.ExecContext(ctx, sqlUpdateCase,
				nullString(c.CaseID), nullString(c.ReferenceNumber), nullString(c.CaseType),
				nullString(c.Bank), string(c.Status), nullString(c.CurrentStep), now, now, existing)
			if err != nil {
				return fmt.Errorf("caserepo: updating case %s: %w", existing, err)
			}
		}

		saved, err = getCase(ctx, tx, existing)

		return err
	})
	if err != nil {
		return model.Case{}, err
	}

	r.logger.Debug("case metadata saved",
		slog.String("id", saved.ID),
		slog.String("case_id", saved.CaseID),
		slog.String("status", string(saved.Status)),
	)

	return saved, nil
}

// SaveForm stores the form payload for a case, replacing any previous one,
// and touches the case's last_saved and updated_at. formData may be a
// json.RawMessage or []byte holding JSON (stored as given) or any value
// encodable with encoding/json.
func (r *Repository) SaveForm(ctx context.Context, key string, formData any) error {
	data, err := encodeForm(formData)
	if err != nil {
		return err
	}

	now := r.now()

	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		rowID, err := resolveRowID(ctx, tx, key)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, sqlUpsertForm, rowID, string(data), now); err != nil {
			return fmt.Errorf("caserepo: saving form for %s: %w", rowID, err)
		}

		if _, err := tx.ExecContext(ctx, sqlTouchCase, now, now, rowID); err != nil {
			return fmt.Errorf("caserepo: touching case %s: %w", rowID, err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("case form saved", slog.String("case", key), slog.Int("bytes", len(data)))

	return nil
}

func encodeForm(formData any) ([]byte, error) {
	var data []byte

	switch v := formData.(type) {
	case nil:
		return nil, errors.New("caserepo: form data is nil")
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("caserepo: encoding form data: %w", err)
		}

		data = encoded
	}

	if !json.Valid(data) {
		return nil, errors.New("caserepo: form data is not valid JSON")
	}

	return data, nil
}

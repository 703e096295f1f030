// Package caserepo persists in-progress cases: metadata rows, the nested form
// payload, and image records backed by files in the file store. Every public
// operation addresses a case by a single key that may be either the local id
// or the server case id; resolution happens in one place (resolveRowID) so
// the two identifiers can never drift apart.
package caserepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldverify/fieldsync/internal/model"
	"github.com/fieldverify/fieldsync/internal/store"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrCaseNotFound     = errors.New("caserepo: case not found")
	ErrMissingIdentity  = errors.New("caserepo: case has neither id nor case_id")
	ErrImageOutsideCase = errors.New("caserepo: image path outside case directory")
	ErrInvalidStatus    = errors.New("caserepo: invalid status")
)

// caseKeyClause matches a case row by either identifier.
const caseKeyClause = "(id = ? OR case_id = ?)"

const (
	sqlResolveRowID = `SELECT id FROM cases WHERE ` + caseKeyClause + `
		ORDER BY (id = ?) DESC, updated_at DESC LIMIT 1`

	sqlSelectCase = `SELECT id, case_id, reference_number, case_type, bank, status,
		current_step, last_error, last_saved, created_at, updated_at
		FROM cases`
)

// Files is the subset of the file store the repository needs.
type Files interface {
	CaseDir(caseID string) (string, error)
	SaveImageFile(sourceURI, caseID, imageID string) (string, error)
	DeleteImageFile(path string) error
	DeleteCaseFiles(caseID string) error
	Contains(caseID, path string) bool
	FileSize(path string) (int64, error)
}

// Repository is the case repository. It is safe for concurrent use; the
// underlying store serializes writes on a single connection.
type Repository struct {
	db     *sqlx.DB
	files  Files
	logger *slog.Logger

	nowFunc   func() time.Time
	imageName func() string
}

// New returns a Repository over db and files.
func New(db *sqlx.DB, files Files, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}

	return &Repository{
		db:        db,
		files:     files,
		logger:    logger,
		nowFunc:   time.Now,
		imageName: func() string { return uuid.NewString() },
	}
}

// caseRow mirrors a row of the cases table.
type caseRow struct {
	ID              string         `db:"id"`
	CaseID          sql.NullString `db:"case_id"`
	ReferenceNumber sql.NullString `db:"reference_number"`
	CaseType        sql.NullString `db:"case_type"`
	Bank            sql.NullString `db:"bank"`
	Status          string         `db:"status"`
	CurrentStep     sql.NullString `db:"current_step"`
	LastError       sql.NullString `db:"last_error"`
	LastSaved       sql.NullString `db:"last_saved"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

func (r caseRow) toModel() (model.Case, error) {
	c := model.Case{
		ID:              r.ID,
		CaseID:          r.CaseID.String,
		ReferenceNumber: r.ReferenceNumber.String,
		CaseType:        r.CaseType.String,
		Bank:            r.Bank.String,
		Status:          model.Status(r.Status),
		CurrentStep:     r.CurrentStep.String,
		LastError:       r.LastError.String,
	}

	var err error

	if c.CreatedAt, err = store.ParseTime(r.CreatedAt); err != nil {
		return model.Case{}, err
	}

	if c.UpdatedAt, err = store.ParseTime(r.UpdatedAt); err != nil {
		return model.Case{}, err
	}

	if r.LastSaved.Valid {
		ts, err := store.ParseTime(r.LastSaved.String)
		if err != nil {
			return model.Case{}, err
		}

		c.LastSaved = &ts
	}

	return c, nil
}

// resolveRowID maps a case key to the primary key of its row. A row whose id
// equals the key wins over one whose case_id does.
func resolveRowID(ctx context.Context, q sqlx.QueryerContext, key string) (string, error) {
	if key == "" {
		return "", ErrCaseNotFound
	}

	var id string

	err := sqlx.GetContext(ctx, q, &id, sqlResolveRowID, key, key, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCaseNotFound
	}

	if err != nil {
		return "", fmt.Errorf("caserepo: resolving case %s: %w", key, err)
	}

	return id, nil
}

func getCase(ctx context.Context, q sqlx.QueryerContext, rowID string) (model.Case, error) {
	var row caseRow
	if err := sqlx.GetContext(ctx, q, &row, sqlSelectCase+` WHERE id = ?`, rowID); err != nil {
		return model.Case{}, fmt.Errorf("caserepo: reading case %s: %w", rowID, err)
	}

	return row.toModel()
}

func (r *Repository) now() string {
	return store.FormatTime(r.nowFunc())
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *f, Valid: true}
}

// withTx runs fn in a transaction, committing on success. Everything inside
// fn must go through tx: the store holds a single connection.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("caserepo: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("caserepo: committing: %w", err)
	}

	return nil
}

// sqlxIn expands a single slice argument bound to "IN (?)".
func sqlxIn(query string, values []string) (string, []any, error) {
	q, args, err := sqlx.In(query, values)
	if err != nil {
		return "", nil, fmt.Errorf("caserepo: building query: %w", err)
	}

	return q, args, nil
}

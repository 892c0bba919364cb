package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.SyncError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Document is a stored document header. Its content is InitialContent with
// the change log applied.
type Document struct {
	ID             string
	Title          *string
	Branch         string
	InitialRev     int
	InitialContent delta.Change
	CurrentRev     int
	CreatedAt      int64
	UpdatedAt      int64
	DeletedAt      *int64
}

// WithTx runs fn in a transaction, committing if it returns nil.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// InsertDocument stores a new document header.
func InsertDocument(ctx context.Context, q Querier, d *Document) error {
	content, err := json.Marshal(d.InitialContent)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO documents (
			id, title, branch, initial_rev, initial_content, current_rev,
			created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var deletedAt sql.NullInt64
	if d.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: *d.DeletedAt, Valid: true}
	}
	_, err = q.ExecContext(ctx, query,
		d.ID, toNullString(d.Title), d.Branch, d.InitialRev, string(content), d.CurrentRev,
		d.CreatedAt, d.UpdatedAt, deletedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const documentColumns = `id, title, branch, initial_rev, initial_content, current_rev, created_at, updated_at, deleted_at`

// GetDocument retrieves a document header by its ULID.
// If includeDeleted is false, soft-deleted documents are excluded.
func GetDocument(ctx context.Context, q Querier, id string, includeDeleted bool) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}

	d, err := scanDocument(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return d, nil
}

// ListParams controls ListDocuments paging.
type ListParams struct {
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// ListDocuments returns document headers, most recently updated first, and
// the total number of matching documents.
func ListDocuments(ctx context.Context, q Querier, p ListParams) ([]Document, int, error) {
	where := " WHERE deleted_at IS NULL"
	if p.IncludeDeleted {
		where = ""
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + documentColumns + ` FROM documents` + where +
		` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := q.QueryContext(ctx, query, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// ForEachDocument calls fn for every document header in creation order,
// stopping at the first error.
func ForEachDocument(ctx context.Context, q Querier, includeDeleted bool, fn func(*Document) error) error {
	query := `SELECT ` + documentColumns + ` FROM documents`
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return errors.NewInternal(err)
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DocumentExists reports whether a header with id is stored, deleted or not.
func DocumentExists(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&n); err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// PurgeDocument permanently removes a document and its change log.
func PurgeDocument(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM changes WHERE doc_id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}
	result, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireAffected(result, id)
}

// TouchDocument records a new current revision.
func TouchDocument(ctx context.Context, q Querier, id string, currentRev int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE documents SET current_rev = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		currentRev, time.Now().Unix(), id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireAffected(result, id)
}

// SoftDeleteDocument marks a document as deleted by setting deleted_at.
func SoftDeleteDocument(ctx context.Context, q Querier, id string) error {
	now := time.Now().Unix()
	result, err := q.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// AppendChanges stores changes as revisions fromRev, fromRev+1, ...
func AppendChanges(ctx context.Context, q Querier, docID string, fromRev int, changes []delta.Change) error {
	now := time.Now().Unix()
	for i, c := range changes {
		data, err := json.Marshal(c)
		if err != nil {
			return errors.NewInternal(err)
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO changes (doc_id, rev, change_json, created_at) VALUES (?, ?, ?, ?)`,
			docID, fromRev+i, string(data), now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return errors.NewConflict(fmt.Sprintf("revision %d of %s already stored", fromRev+i, docID))
			}
			return errors.NewInternal(err)
		}
	}
	return nil
}

// ReplaceChangesFrom drops the stored changes at and above fromRev and
// stores changes in their place.
func ReplaceChangesFrom(ctx context.Context, q Querier, docID string, fromRev int, changes []delta.Change) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM changes WHERE doc_id = ? AND rev >= ?`, docID, fromRev); err != nil {
		return errors.NewInternal(err)
	}
	return AppendChanges(ctx, q, docID, fromRev, changes)
}

// LoadChanges returns the whole change log of a document in revision order.
func LoadChanges(ctx context.Context, q Querier, docID string) ([]delta.Change, error) {
	rows, err := q.QueryContext(ctx, `SELECT change_json FROM changes WHERE doc_id = ? ORDER BY rev ASC`, docID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []delta.Change
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.NewInternal(err)
		}
		var c delta.Change
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("decode change %d of %s: %w", len(out), docID, err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d         Document
		title     sql.NullString
		content   string
		deletedAt sql.NullInt64
	)
	err := row.Scan(&d.ID, &title, &d.Branch, &d.InitialRev, &content, &d.CurrentRev,
		&d.CreatedAt, &d.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), &d.InitialContent); err != nil {
		return nil, fmt.Errorf("decode initial content of %s: %w", d.ID, err)
	}
	d.Title = fromNullString(title)
	if deletedAt.Valid {
		d.DeletedAt = &deletedAt.Int64
	}
	return &d, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

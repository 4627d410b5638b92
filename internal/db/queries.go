package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/observation"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const recordColumns = `
	id, session_raw, session_norm, kind, command, content,
	hidden, truncated, original_chars, exit_code, pid, metadata_json,
	created_at, deleted_at`

const summaryColumns = `
	id, session_norm, kind, command, exit_code, pid, metadata_json,
	hidden, truncated, original_chars, length(content), created_at, deleted_at`

// Insert stores a new record. deleted_at is written as given so imports
// keep soft-deleted records.
func Insert(ex execer, r *observation.Record) error {
	return writeRecord(ex, "INSERT", r)
}

// Upsert inserts r or replaces the record with the same ID.
func Upsert(ex execer, r *observation.Record) error {
	return writeRecord(ex, "INSERT OR REPLACE", r)
}

func writeRecord(ex execer, verb string, r *observation.Record) error {
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return errors.NewInternal(err)
	}

	var deletedAt sql.NullInt64
	if r.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: *r.DeletedAt, Valid: true}
	}

	query := verb + ` INTO observations (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = ex.Exec(query,
		r.ID, r.SessionRaw, r.Session, string(r.Kind), r.Command, r.Content,
		r.Hidden, r.Truncated, r.OriginalChars, r.Metadata.ExitCode, r.Metadata.PID, string(metaJSON),
		r.CreatedAt, deletedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Exists reports whether a record with id is stored, deleted or not.
func Exists(ex execer, id string) (bool, error) {
	var one int
	err := ex.QueryRow(`SELECT 1 FROM observations WHERE id = ? LIMIT 1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// GetByID retrieves a record by its ULID.
// If includeDeleted is false, soft-deleted records are excluded.
func GetByID(db *sql.DB, id string, includeDeleted bool) (*observation.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM observations WHERE id = ?`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}

	r, err := scanRecord(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListFilter narrows List and GetLatest. Nil fields do not filter.
type ListFilter struct {
	Session        *string // normalized
	Kind           *observation.Kind
	ExitCode       *int
	FailedOnly     bool // command runs whose exit code is known and non-zero
	IncludeDeleted bool
}

func (f ListFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.Session != nil {
		clauses = append(clauses, "session_norm = ?")
		args = append(args, *f.Session)
	}
	if f.Kind != nil {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(*f.Kind))
	}
	if f.ExitCode != nil {
		clauses = append(clauses, "exit_code = ?")
		args = append(args, *f.ExitCode)
	}
	if f.FailedOnly {
		clauses = append(clauses, "kind = ? AND exit_code NOT IN (0, -1)")
		args = append(args, string(observation.KindRun))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns one page of summaries, newest first, and the total number
// of matching records.
func List(db *sql.DB, filter ListFilter, limit, offset int) ([]observation.Summary, int, error) {
	where, args := filter.where()

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM observations`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + summaryColumns + ` FROM observations` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []observation.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return items, total, nil
}

// GetLatest returns the newest record matching filter, or nil if none does.
func GetLatest(db *sql.DB, filter ListFilter) (*observation.Record, error) {
	where, args := filter.where()
	query := `SELECT ` + recordColumns + ` FROM observations` + where +
		` ORDER BY created_at DESC, id DESC LIMIT 1`

	r, err := scanRecord(db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// SoftDelete marks a record as deleted by setting deleted_at.
func SoftDelete(db *sql.DB, id string) error {
	result, err := db.Exec(
		`UPDATE observations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// PurgeDeleted permanently removes soft-deleted records, optionally only in
// one session and only those deleted more than olderThanDays ago.
func PurgeDeleted(db *sql.DB, session *string, olderThanDays *int) (int, error) {
	query := `DELETE FROM observations WHERE deleted_at IS NOT NULL`
	var args []any
	if session != nil {
		query += " AND session_norm = ?"
		args = append(args, observation.NormalizeSession(*session))
	}
	if olderThanDays != nil {
		if *olderThanDays < 0 {
			return 0, errors.NewInvalidRequest("older_than_days must not be negative")
		}
		cutoff := time.Now().Add(-time.Duration(*olderThanDays) * 24 * time.Hour).Unix()
		query += " AND deleted_at < ?"
		args = append(args, cutoff)
	}

	result, err := db.Exec(query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// StreamForExport returns rows of full records in creation order. The
// caller must close the rows and read them with ScanRecordFromRows.
func StreamForExport(ctx context.Context, db *sql.DB, session *string, includeDeleted bool) (*sql.Rows, error) {
	filter := ListFilter{IncludeDeleted: includeDeleted}
	if session != nil {
		norm := observation.NormalizeSession(*session)
		filter.Session = &norm
	}
	where, args := filter.where()

	rows, err := db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM observations`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanRecordFromRows reads the current row of a StreamForExport result.
func ScanRecordFromRows(rows *sql.Rows) (*observation.Record, error) {
	return scanRecord(rows)
}

func scanRecord(row rowScanner) (*observation.Record, error) {
	var (
		r         observation.Record
		kind      string
		metaJSON  string
		deletedAt sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &r.SessionRaw, &r.Session, &kind, &r.Command, &r.Content,
		&r.Hidden, &r.Truncated, &r.OriginalChars, &r.Metadata.ExitCode, &r.Metadata.PID, &metaJSON,
		&r.CreatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Kind = observation.Kind(kind)
	if err := decodeMetadata(metaJSON, &r.Observation); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Int64
	}
	return &r, nil
}

func scanSummary(row rowScanner) (observation.Summary, error) {
	var (
		s         observation.Summary
		kind      string
		metaJSON  string
		deletedAt sql.NullInt64
	)

	err := row.Scan(
		&s.ID, &s.Session, &kind, &s.Command, &s.ExitCode, &s.PID, &metaJSON,
		&s.Hidden, &s.Truncated, &s.OriginalChars, &s.ContentChars, &s.CreatedAt, &deletedAt,
	)
	if err != nil {
		return s, err
	}

	s.Kind = observation.Kind(kind)
	var o observation.Observation
	o.Kind = s.Kind
	o.Metadata.ExitCode = s.ExitCode
	if err := decodeMetadata(metaJSON, &o); err != nil {
		return s, err
	}
	s.WorkingDir = o.Metadata.WorkingDir
	s.Success = o.Success()
	if deletedAt.Valid {
		s.DeletedAt = &deletedAt.Int64
	}
	return s, nil
}

// decodeMetadata fills o.Metadata from metadata_json. The exit_code and
// pid columns are authoritative.
func decodeMetadata(metaJSON string, o *observation.Observation) error {
	exitCode, pid := o.Metadata.ExitCode, o.Metadata.PID
	if err := json.Unmarshal([]byte(metaJSON), &o.Metadata); err != nil {
		return fmt.Errorf("decode metadata_json: %w", err)
	}
	o.Metadata.ExitCode, o.Metadata.PID = exitCode, pid
	return nil
}

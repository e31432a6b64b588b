// Package store persists evidence records and audit entries in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jalad-shrimali/cdr-intel/audit"
	"github.com/jalad-shrimali/cdr-intel/evidence"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS evidence (
    id           TEXT PRIMARY KEY,
    filename     TEXT NOT NULL,
    stored_path  TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    size         INTEGER NOT NULL,
    uploader     TEXT NOT NULL,
    case_id      TEXT NOT NULL,
    purpose      TEXT NOT NULL,
    uploaded_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_case ON evidence(case_id, uploaded_at);

CREATE TABLE IF NOT EXISTS audit_entries (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    case_id      TEXT NOT NULL,
    subject      TEXT NOT NULL,
    anomaly_type TEXT NOT NULL,
    details      TEXT NOT NULL,
    details_hash TEXT NOT NULL,
    recorded_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_entries(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_case ON audit_entries(case_id, recorded_at);
`

// Store is the SQLite-backed evidence and audit store.
type Store struct {
	db *sql.DB
}

var (
	_ evidence.Store = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-migrated database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Exists reports whether evidence with contentHash was accepted.
func (s *Store) Exists(ctx context.Context, contentHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM evidence WHERE content_hash = ?`, contentHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query evidence: %w", err)
	}
	return n > 0, nil
}

// Put inserts rec. A second record with the same content hash fails with
// evidence.ErrDuplicate.
func (s *Store) Put(ctx context.Context, rec *evidence.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, filename, stored_path, content_hash, size, uploader, case_id, purpose, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.StoredPath, rec.ContentHash, rec.Size,
		rec.Uploader, rec.CaseID, rec.Purpose, rec.UploadedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert evidence %s: %w", rec.ContentHash, evidence.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

const evidenceColumns = `id, filename, stored_path, content_hash, size, uploader, case_id, purpose, uploaded_at`

type scanner interface{ Scan(dest ...any) error }

func scanEvidence(row scanner) (*evidence.Record, error) {
	var rec evidence.Record
	var ns int64
	if err := row.Scan(&rec.ID, &rec.Filename, &rec.StoredPath, &rec.ContentHash, &rec.Size,
		&rec.Uploader, &rec.CaseID, &rec.Purpose, &ns); err != nil {
		return nil, err
	}
	rec.UploadedAt = time.Unix(0, ns).UTC()
	return &rec, nil
}

// Evidence returns the record with the given id.
func (s *Store) Evidence(ctx context.Context, id string) (*evidence.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = ?`, id)
	rec, err := scanEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	return rec, nil
}

// ListEvidence returns the records of a case in upload order.
func (s *Store) ListEvidence(ctx context.Context, caseID string) ([]evidence.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE case_id = ? ORDER BY uploaded_at, rowid`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []evidence.Record
	for rows.Next() {
		rec, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AppendBatch inserts entries in one transaction.
func (s *Store) AppendBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries (id, run_id, case_id, subject, anomaly_type, details, details_hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.RunID, e.CaseID, e.Subject, string(e.AnomalyType),
			string(e.Details), e.DetailsHash, e.RecordedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// AuditFilter selects audit entries. Empty fields match everything.
type AuditFilter struct {
	CaseID string
	RunID  string
	Type   audit.AnomalyType
	Limit  int
}

// ListAudit returns matching entries, oldest first.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]audit.Entry, error) {
	q := `SELECT id, run_id, case_id, subject, anomaly_type, details, details_hash, recorded_at
	        FROM audit_entries WHERE 1=1`
	var args []any
	if f.CaseID != "" {
		q += ` AND case_id = ?`
		args = append(args, f.CaseID)
	}
	if f.RunID != "" {
		q += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Type != "" {
		q += ` AND anomaly_type = ?`
		args = append(args, string(f.Type))
	}
	q += ` ORDER BY recorded_at, rowid`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var typ, details string
		var ns int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.CaseID, &e.Subject, &typ, &details, &e.DetailsHash, &ns); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.AnomalyType = audit.AnomalyType(typ)
		e.Details = []byte(details)
		e.RecordedAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore manages idempotency keys, the audit log, and scored
// applications.
type SQLiteStore struct {
	db *sql.DB
}

// ErrIdempotencyMismatch is returned when a key is reused with a different payload.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            subject TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(subject, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            subject TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            request_body BLOB,
            response_status INTEGER,
            response_body BLOB
        );`,
		`CREATE TABLE IF NOT EXISTS applications (
            id TEXT PRIMARY KEY,
            student_address TEXT NOT NULL,
            student_id TEXT NOT NULL,
            score INTEGER NOT NULL,
            reasoning TEXT NOT NULL,
            proof_hash TEXT NOT NULL,
            source TEXT NOT NULL,
            submitted INTEGER NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CachedResponse is a previously stored idempotent response.
type CachedResponse struct {
	Status int
	Body   []byte
}

// LookupIdempotency returns the cached response for the key, nil when unseen,
// or ErrIdempotencyMismatch when the key was used with a different request.
func (s *SQLiteStore) LookupIdempotency(ctx context.Context, subject, key, requestHash string) (*CachedResponse, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_hash, response_status, response_body FROM idempotency_keys WHERE subject = ? AND idempotency_key = ?`,
		subject, key)
	var storedHash string
	cached := &CachedResponse{}
	err := row.Scan(&storedHash, &cached.Status, &cached.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return cached, nil
}

// SaveIdempotency records a response for later replay under the same key.
func (s *SQLiteStore) SaveIdempotency(ctx context.Context, subject, key, requestHash string, status int, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys (subject, idempotency_key, request_hash, response_status, response_body) VALUES (?, ?, ?, ?, ?)`,
		subject, key, requestHash, status, body)
	return err
}

// Audit appends one request/response pair to the audit log.
func (s *SQLiteStore) Audit(ctx context.Context, subject, method, path string, requestBody []byte, status int, responseBody []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (subject, method, path, request_body, response_status, response_body) VALUES (?, ?, ?, ?, ?, ?)`,
		subject, method, path, requestBody, status, responseBody)
	return err
}

// ApplicationRecord is a scored application retained for operators.
type ApplicationRecord struct {
	ID             string    `json:"id"`
	StudentAddress string    `json:"studentAddress"`
	StudentID      string    `json:"studentId"`
	Score          uint32    `json:"score"`
	Reasoning      string    `json:"reasoning"`
	ProofHash      string    `json:"proofHash"`
	Source         string    `json:"source"`
	Submitted      bool      `json:"submitted"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SaveApplication persists a scored application.
func (s *SQLiteStore) SaveApplication(ctx context.Context, record ApplicationRecord) error {
	submitted := 0
	if record.Submitted {
		submitted = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO applications (id, student_address, student_id, score, reasoning, proof_hash, source, submitted, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.StudentAddress, record.StudentID, record.Score,
		record.Reasoning, record.ProofHash, record.Source, submitted, record.CreatedAt.UTC())
	return err
}

// RecentApplications returns up to limit applications, newest first.
func (s *SQLiteStore) RecentApplications(ctx context.Context, limit int) ([]ApplicationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_address, student_id, score, reasoning, proof_hash, source, submitted, created_at
         FROM applications ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApplicationRecord
	for rows.Next() {
		var record ApplicationRecord
		var submitted int
		if err := rows.Scan(&record.ID, &record.StudentAddress, &record.StudentID, &record.Score,
			&record.Reasoning, &record.ProofHash, &record.Source, &submitted, &record.CreatedAt); err != nil {
			return nil, err
		}
		record.Submitted = submitted != 0
		out = append(out, record)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

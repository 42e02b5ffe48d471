// Package store persists users, ingestion batches and idempotency state
// in Postgres. Vector data lives in the vector database, not here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// Batch statuses.
const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// Batch document statuses.
const (
	BatchDocPending   = "pending"
	BatchDocCompleted = "completed"
	BatchDocFailed    = "failed"
)

// Batch tracks one multi-file upload.
type Batch struct {
	ID        string
	UserID    string
	Status    string
	Total     int
	Completed int
	Failed    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BatchDocument tracks one file inside a batch.
type BatchDocument struct {
	BatchID    string
	JobID      string
	Filename   string
	Status     string
	DocumentID string
	Chunks     int
	Error      string
	UpdatedAt  time.Time
}

// User is an account row.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, is_admin, created_at FROM users WHERE email=$1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

// Batch operations

// CreateBatch opens a batch of the given size for a user.
func (s *Store) CreateBatch(ctx context.Context, userID string, total int) (string, error) {
	if total <= 0 {
		return "", fmt.Errorf("batch total must be positive, got %d", total)
	}
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO ingestion_batches (user_id, status, total) VALUES ($1,$2,$3) RETURNING id`,
		userID, BatchStatusPending, total).Scan(&id)
	return id, err
}

func (s *Store) GetBatch(ctx context.Context, id string) (Batch, bool, error) {
	var b Batch
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, status, total, completed, failed, created_at, updated_at
FROM ingestion_batches WHERE id=$1`, id).
		Scan(&b.ID, &b.UserID, &b.Status, &b.Total, &b.Completed, &b.Failed, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return Batch{}, false, nil
	}
	if err != nil {
		return Batch{}, false, err
	}
	return b, true, nil
}

func (s *Store) ListBatches(ctx context.Context, userID string, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, status, total, completed, failed, created_at, updated_at
FROM ingestion_batches WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.UserID, &b.Status, &b.Total, &b.Completed, &b.Failed, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddBatchDocument registers one pending file inside a batch.
func (s *Store) AddBatchDocument(ctx context.Context, batchID, jobID, filename string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO batch_documents (batch_id, job_id, filename, status) VALUES ($1,$2,$3,$4)`,
		batchID, jobID, filename, BatchDocPending)
	return err
}

// MarkBatchDocument records the terminal state of one file and rolls the
// counters up into the owning batch. The batch flips to a terminal status
// once every file is accounted for.
func (s *Store) MarkBatchDocument(ctx context.Context, jobID, status, documentID string, chunks int, errMsg string) error {
	if status != BatchDocCompleted && status != BatchDocFailed {
		return fmt.Errorf("unknown batch document status %q", status)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var batchID string
	err = tx.QueryRowContext(ctx, `
UPDATE batch_documents SET status=$1, document_id=NULLIF($2,''), chunks=$3, error=NULLIF($4,''), updated_at=NOW()
WHERE job_id=$5 RETURNING batch_id`, status, documentID, chunks, errMsg, jobID).Scan(&batchID)
	if err != nil {
		return fmt.Errorf("mark batch document %s: %w", jobID, err)
	}

	failed := status == BatchDocFailed
	_, err = tx.ExecContext(ctx, `
UPDATE ingestion_batches SET
  completed  = completed + CASE WHEN $2 THEN 0 ELSE 1 END,
  failed     = failed + CASE WHEN $2 THEN 1 ELSE 0 END,
  updated_at = NOW(),
  status = CASE
    WHEN completed + failed + 1 >= total AND (failed + CASE WHEN $2 THEN 1 ELSE 0 END) > 0 THEN 'failed'
    WHEN completed + failed + 1 >= total THEN 'completed'
    ELSE 'running'
  END
WHERE id = $1`, batchID, failed)
	if err != nil {
		return fmt.Errorf("roll up batch %s: %w", batchID, err)
	}
	return tx.Commit()
}

func (s *Store) ListBatchDocuments(ctx context.Context, batchID string) ([]BatchDocument, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT batch_id, job_id, filename, status, COALESCE(document_id,''), chunks, COALESCE(error,''), updated_at
FROM batch_documents WHERE batch_id=$1 ORDER BY filename`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchDocument
	for rows.Next() {
		var d BatchDocument
		if err := rows.Scan(&d.BatchID, &d.JobID, &d.Filename, &d.Status, &d.DocumentID, &d.Chunks, &d.Error, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClaimIdempotency records scope/key on first sight; a second claim of
// the same pair returns false so redelivered events are processed once.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}

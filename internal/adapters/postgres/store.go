// Package postgres stores saga executions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Schema creates the executions table. Migrate runs it.
const Schema = `
CREATE TABLE IF NOT EXISTS saga_executions (
	id         TEXT PRIMARY KEY,
	saga_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	version    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS saga_executions_saga_name_idx ON saga_executions (saga_name);
`

// Store implements ports.ExecutionStore using PostgreSQL.
// The whole record is kept as JSONB; the version column carries the optimistic lock.
type Store struct {
	db *sqlx.DB
}

// New creates a Store on an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// Migrate creates the table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	ID         string    `db:"id"`
	SagaName   string    `db:"saga_name"`
	Status     string    `db:"status"`
	Payload    []byte    `db:"payload"`
	Version    int64     `db:"version"`
	OldVersion int64     `db:"old_version"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const insertQuery = `
	INSERT INTO saga_executions (
		id, saga_name, status, payload, version, created_at, updated_at
	) VALUES (
		:id, :saga_name, :status, :payload, :version, :created_at, :updated_at
	)
	ON CONFLICT (id) DO NOTHING`

const updateQuery = `
	UPDATE saga_executions
	SET status = :status, payload = :payload, version = :version, updated_at = :updated_at
	WHERE id = :id AND version = :old_version`

// Save inserts a new record (Version 0) or updates one whose stored version still matches.
func (s *Store) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	next := rec.Clone()
	next.Version = rec.Version + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	r := row{
		ID:         rec.ID,
		SagaName:   rec.SagaName,
		Status:     string(rec.Status),
		Payload:    payload,
		Version:    next.Version,
		OldVersion: rec.Version,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}

	query := updateQuery
	if rec.Version == 0 {
		query = insertQuery
	}

	res, err := s.db.NamedExecContext(ctx, query, r)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s (have v%d)", domain.ErrConflict, rec.ID, rec.Version)
	}

	rec.Version = next.Version
	return nil
}

// Load retrieves a record by ID.
func (s *Store) Load(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, saga_name, status, payload, version, created_at, updated_at
		FROM saga_executions
		WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	var rec domain.ExecutionRecord
	if err := json.Unmarshal(r.Payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	// The column is authoritative.
	rec.Version = r.Version
	return &rec, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM saga_executions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return nil
}

// List returns every stored ID, oldest first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM saga_executions ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return ids, nil
}

// ListBySaga returns the IDs of executions of one definition.
func (s *Store) ListBySaga(ctx context.Context, sagaName string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM saga_executions WHERE saga_name = $1 ORDER BY created_at, id`, sagaName)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return ids, nil
}

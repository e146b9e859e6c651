// Package database is the Postgres-backed persistence layer: the
// idempotent document result store, the override table store, and the
// append-only ingestion metadata sink.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"docrouter/schema"
)

// Store wraps the shared Postgres connection pool used by every
// store in this package.
type Store struct {
	DB *sql.DB
}

// NewStore opens a Postgres connection pool and verifies connectivity.
func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{DB: db}, nil
}

// EnsureSchema creates every table this package needs if it does not
// already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			document_id TEXT NOT NULL,
			checksum TEXT NOT NULL,
			canonical JSONB NOT NULL,
			attachment_file_names TEXT[] DEFAULT '{}'::TEXT[],
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_document_id_checksum ON documents(document_id, checksum)`,
		`CREATE TABLE IF NOT EXISTS parser_overrides (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_metadata (
			id UUID PRIMARY KEY,
			table_name TEXT NOT NULL,
			record JSONB NOT NULL,
			ingested_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingestion_metadata_table_name ON ingestion_metadata(table_name, ingested_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// ResultStore is the idempotent (document_id, checksum)-keyed document
// store backing workflow.DocumentResultStore.
type ResultStore struct {
	DB *sql.DB
}

// NewResultStore builds a ResultStore over the shared pool.
func NewResultStore(s *Store) *ResultStore {
	return &ResultStore{DB: s.DB}
}

// HasRecord reports whether a canonical document with this exact
// (document_id, checksum) pair has already been persisted.
func (r *ResultStore) HasRecord(ctx context.Context, documentID, checksum string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE document_id = $1 AND checksum = $2)`
	if err := r.DB.QueryRowContext(ctx, query, documentID, checksum).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking for existing document record: %w", err)
	}
	return exists, nil
}

// Save persists a canonical document, idempotent on (document_id,
// checksum): a repeated save with the same key overwrites in place
// rather than producing a duplicate row.
func (r *ResultStore) Save(ctx context.Context, doc schema.CanonicalDocument) error {
	canonicalJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling canonical document: %w", err)
	}

	fileNames := make([]string, 0, len(doc.Attachments))
	for _, a := range doc.Attachments {
		fileNames = append(fileNames, a.FileName)
	}

	query := `
		INSERT INTO documents (id, document_id, checksum, canonical, attachment_file_names, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, checksum) DO UPDATE
		SET canonical = EXCLUDED.canonical, attachment_file_names = EXCLUDED.attachment_file_names
	`
	_, err = r.DB.ExecContext(ctx, query, uuid.New(), doc.DocumentID, doc.Checksum, canonicalJSON, pq.StringArray(fileNames), time.Now())
	if err != nil {
		return fmt.Errorf("saving canonical document: %w", err)
	}
	return nil
}

// OverrideTableStore backs override.OverrideTableStore: a single row
// holding the current pattern-override payload as JSON text.
type OverrideTableStore struct {
	DB  *sql.DB
	Row string
}

// NewOverrideTableStore builds an OverrideTableStore reading the row
// keyed by rowID (defaults to "default" when empty).
func NewOverrideTableStore(s *Store, rowID string) *OverrideTableStore {
	if rowID == "" {
		rowID = "default"
	}
	return &OverrideTableStore{DB: s.DB, Row: rowID}
}

// LoadOverrides returns the current override payload as a raw JSON
// string, or "" if no row has been configured yet.
func (o *OverrideTableStore) LoadOverrides(ctx context.Context) (string, error) {
	var payload []byte
	query := `SELECT payload FROM parser_overrides WHERE id = $1`
	err := o.DB.QueryRowContext(ctx, query, o.Row).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading override payload: %w", err)
	}
	return string(payload), nil
}

// SaveOverrides upserts the override payload row.
func (o *OverrideTableStore) SaveOverrides(ctx context.Context, payload string) error {
	query := `
		INSERT INTO parser_overrides (id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`
	_, err := o.DB.ExecContext(ctx, query, o.Row, []byte(payload), time.Now())
	if err != nil {
		return fmt.Errorf("saving override payload: %w", err)
	}
	return nil
}

// MetadataStore is the append-only ingestion metadata sink backing
// ingestion.MetadataSink — the idiomatic Postgres analogue of the
// original's Spark/Delta append.
type MetadataStore struct {
	DB *sql.DB
}

// NewMetadataStore builds a MetadataStore over the shared pool.
func NewMetadataStore(s *Store) *MetadataStore {
	return &MetadataStore{DB: s.DB}
}

// Append inserts each record as a JSONB row tagged with table, the
// logical table name the original Delta-table append targeted.
func (m *MetadataStore) Append(ctx context.Context, table string, records []map[string]any) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning metadata append transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO ingestion_metadata (id, table_name, record, ingested_at) VALUES ($1, $2, $3, $4)`
	now := time.Now()
	for _, record := range records {
		recordJSON, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshalling metadata record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, uuid.New(), table, recordJSON, now); err != nil {
			return fmt.Errorf("appending metadata record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metadata append: %w", err)
	}
	return nil
}

// RunSummarySink appends one row per ingestion-loop exit, mirroring
// the original's `{metadata_table}_run_summary` table.
type RunSummarySink struct {
	metadata *MetadataStore
}

// NewRunSummarySink builds a RunSummarySink over the given MetadataStore.
func NewRunSummarySink(metadata *MetadataStore) *RunSummarySink {
	return &RunSummarySink{metadata: metadata}
}

// Record appends one run-summary row.
func (r *RunSummarySink) Record(ctx context.Context, metadataTable string, messages, batches int, queueURL string) error {
	record := map[string]any{
		"messages":     messages,
		"batches":      batches,
		"queue_url":    queueURL,
		"completed_at": time.Now().UTC(),
	}
	return r.metadata.Append(ctx, metadataTable+"_run_summary", []map[string]any{record})
}

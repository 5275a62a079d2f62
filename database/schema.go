package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ingest_batches (
		id UUID PRIMARY KEY,
		platform TEXT NOT NULL,
		dataset TEXT NOT NULL,
		business_unit TEXT,
		period_type TEXT NOT NULL,
		report_date DATE,
		period_start DATE,
		period_end DATE,
		source_name TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		key_field TEXT NOT NULL,
		record_count INT NOT NULL,
		dropped_count INT NOT NULL DEFAULT 0,
		summary JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(platform, dataset, sha256)
	)`,
	`CREATE TABLE IF NOT EXISTS ingest_records (
		batch_id UUID NOT NULL REFERENCES ingest_batches(id) ON DELETE CASCADE,
		row_index INT NOT NULL,
		record_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY(batch_id, row_index)
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE,
		role TEXT NOT NULL DEFAULT 'viewer',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_permissions (
		user_id TEXT NOT NULL REFERENCES app_users(id) ON DELETE CASCADE,
		permission TEXT NOT NULL,
		granted BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY(user_id, permission)
	)`,
	"CREATE INDEX IF NOT EXISTS idx_ingest_batches_platform ON ingest_batches(platform, dataset, created_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_ingest_records_key ON ingest_records(batch_id, record_key)",
}

// EnsureSchema creates the ingest and access-control tables if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

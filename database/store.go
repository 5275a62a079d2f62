package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phuslu/log"

	"github.com/fabfab/retail-ingest/ingestion"
)

// PostgresStore persists ingest batches and their records.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ ingestion.Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool, logger *log.Logger) *PostgresStore {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// HasBatch reports whether a report with the same content hash was already
// stored for platform and dataset.
func (s *PostgresStore) HasBatch(ctx context.Context, platform, dataset, sha string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ingest_batches
			WHERE platform = $1 AND dataset = $2 AND sha256 = $3
		)
	`, platform, dataset, sha).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query batch: %w", err)
	}
	return exists, nil
}

// SaveBatch writes the batch header and copies its records in one transaction.
func (s *PostgresStore) SaveBatch(ctx context.Context, batch ingestion.Batch) (err error) {
	summary, err := json.Marshal(batch.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	rows := make([][]any, 0, len(batch.Records))
	for idx, rec := range batch.Records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", idx, err)
		}
		rows = append(rows, []any{batch.ID, idx, recordKey(rec, batch.Key), payload})
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error().Err(rbErr).Msg("rollback batch")
			}
		}
	}()

	p := batch.Period
	if _, err = tx.Exec(ctx, `
		INSERT INTO ingest_batches (
			id, platform, dataset, business_unit, period_type, report_date,
			period_start, period_end, source_name, sha256, key_field,
			record_count, dropped_count, summary, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, batch.ID, batch.Platform, batch.Dataset, nullableText(batch.BusinessUnit), p.Type,
		nullableDate(p.ReportDate), nullableDate(p.Start), nullableDate(p.End),
		batch.SourceName, batch.SHA256, batch.Key, len(batch.Records), batch.Dropped,
		summary, batch.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert batch %s: %w", batch.SHA256, ingestion.ErrDuplicateBatch)
		}
		return fmt.Errorf("insert batch: %w", err)
	}

	if len(rows) > 0 {
		copied, copyErr := tx.CopyFrom(ctx,
			pgx.Identifier{"ingest_records"},
			[]string{"batch_id", "row_index", "record_key", "payload"},
			pgx.CopyFromRows(rows),
		)
		if copyErr != nil {
			return fmt.Errorf("copy records: %w", copyErr)
		}
		if copied != int64(len(rows)) {
			return fmt.Errorf("copy records: wrote %d of %d rows", copied, len(rows))
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Clear removes every stored batch and record.
func Clear(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "TRUNCATE ingest_records, ingest_batches"); err != nil {
		return fmt.Errorf("truncate ingest tables: %w", err)
	}
	return nil
}

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func recordKey(rec ingestion.Record, key string) string {
	if v, ok := rec[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

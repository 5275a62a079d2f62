package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/retail-ingest/authz"
	"github.com/fabfab/retail-ingest/ingestion"
)

func TestRecordKey(t *testing.T) {
	rec := ingestion.Record{"sku_code": "ZP-1", "item_id": int64(42), "empty": nil}

	assert.Equal(t, "ZP-1", recordKey(rec, "sku_code"))
	assert.Equal(t, "42", recordKey(rec, "item_id"))
	assert.Equal(t, "", recordKey(rec, "empty"))
	assert.Equal(t, "", recordKey(rec, "missing"))
}

func TestNullableValues(t *testing.T) {
	assert.Nil(t, nullableText(""))
	assert.Equal(t, "north", nullableText("north"))

	assert.Nil(t, nullableDate(time.Time{}))
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, day, nullableDate(day))
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "ingest_batches_platform_dataset_sha256_key"}, true},
		{"wrapped", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), true},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"plain error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestPostgresIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/retail?sslmode=disable"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPostgresPool(ctx, dsn, 3)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))

	t.Run("batch round trip", func(t *testing.T) {
		store := NewPostgresStore(pool, nil)
		batch := ingestion.Batch{
			ID:         uuid.New(),
			Platform:   ingestion.PlatformZepto,
			Dataset:    ingestion.DatasetInventory,
			Period:     ingestion.Period{Type: ingestion.PeriodDaily, ReportDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
			SourceName: "zepto.csv",
			SHA256:     uuid.NewString(),
			Key:        "sku_code",
			Records: []ingestion.Record{
				{"sku_code": "ZP-1", "units": int64(4)},
				{"sku_code": "ZP-2", "units": int64(2)},
			},
			Summary:   ingestion.Summary{Total: 2, Sums: map[string]float64{"totalUnits": 6}},
			CreatedAt: time.Now().UTC(),
		}
		t.Cleanup(func() {
			_, _ = pool.Exec(context.Background(), "DELETE FROM ingest_batches WHERE id = $1", batch.ID)
		})

		exists, err := store.HasBatch(ctx, batch.Platform, batch.Dataset, batch.SHA256)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.SaveBatch(ctx, batch))

		exists, err = store.HasBatch(ctx, batch.Platform, batch.Dataset, batch.SHA256)
		require.NoError(t, err)
		assert.True(t, exists)

		var count int
		require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM ingest_records WHERE batch_id = $1", batch.ID).Scan(&count))
		assert.Equal(t, 2, count)

		dup := batch
		dup.ID = uuid.New()
		assert.ErrorIs(t, store.SaveBatch(ctx, dup), ingestion.ErrDuplicateBatch)
	})

	t.Run("permissions", func(t *testing.T) {
		perms := NewPostgresPermissionStore(pool)
		userID := "it-" + uuid.NewString()
		t.Cleanup(func() {
			_, _ = pool.Exec(context.Background(), "DELETE FROM app_users WHERE id = $1", userID)
		})

		caller, err := perms.LookupCaller(ctx, userID)
		require.NoError(t, err)
		assert.Nil(t, caller)

		require.NoError(t, perms.GrantPermissions(ctx, userID, "viewer", authz.ViewInventory, authz.UploadInventory))

		caller, err = perms.LookupCaller(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, caller)
		assert.Equal(t, "viewer", caller.Role)
		assert.Equal(t, []string{authz.UploadInventory, authz.ViewInventory}, caller.Permissions.Names())
	})
}

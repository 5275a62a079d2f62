package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabfab/retail-ingest/authz"
)

// PostgresPermissionStore loads callers from app_users and user_permissions.
type PostgresPermissionStore struct {
	pool *pgxpool.Pool
}

var _ authz.Provider = (*PostgresPermissionStore)(nil)

func NewPostgresPermissionStore(pool *pgxpool.Pool) *PostgresPermissionStore {
	return &PostgresPermissionStore{pool: pool}
}

// LookupCaller returns the user's role and granted permissions. Unknown users
// resolve to nil with no error.
func (s *PostgresPermissionStore) LookupCaller(ctx context.Context, userID string) (*authz.Caller, error) {
	var role string
	err := s.pool.QueryRow(ctx, "SELECT role FROM app_users WHERE id = $1", userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user role: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT permission FROM user_permissions
		WHERE user_id = $1 AND granted
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user permissions: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan user permissions: %w", err)
	}

	return &authz.Caller{
		UserID:      userID,
		Role:        role,
		Permissions: authz.NewPermissionSet(names...),
	}, nil
}

// GrantPermissions upserts the user and marks each permission granted.
func (s *PostgresPermissionStore) GrantPermissions(ctx context.Context, userID, role string, permissions ...string) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO app_users (id, role) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role
	`, userID, role); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	for _, p := range permissions {
		if _, err = tx.Exec(ctx, `
			INSERT INTO user_permissions (user_id, permission, granted) VALUES ($1, $2, TRUE)
			ON CONFLICT (user_id, permission) DO UPDATE SET granted = TRUE
		`, userID, p); err != nil {
			return fmt.Errorf("grant %s: %w", p, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

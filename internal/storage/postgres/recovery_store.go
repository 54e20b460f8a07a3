package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// RecoveryStore implements storage.RecoveryStore using PostgreSQL.
type RecoveryStore struct {
	pool *Pool
}

// NewRecoveryStore creates a new RecoveryStore.
func NewRecoveryStore(pool *Pool) *RecoveryStore {
	return &RecoveryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RecoveryStore = (*RecoveryStore)(nil)

// Insert appends a record. Inserting an existing address is a no-op.
func (s *RecoveryStore) Insert(ctx context.Context, r *domain.RecoveryRecord) error {
	if r == nil || r.Address == "" || r.Secret == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO recovery_records (address, secret, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING
	`

	if _, err := s.pool.Exec(ctx, query, r.Address, r.Secret, r.CreatedAt); err != nil {
		return fmt.Errorf("insert recovery record: %w", err)
	}
	return nil
}

// GetByAddress retrieves a record. Returns ErrNotFound if not exists.
func (s *RecoveryStore) GetByAddress(ctx context.Context, address string) (*domain.RecoveryRecord, error) {
	query := `
		SELECT address, secret, created_at
		FROM recovery_records
		WHERE address = $1
	`

	r, err := scanRecovery(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get recovery record: %w", err)
	}
	return r, nil
}

// List returns all records ordered by created_at ASC.
func (s *RecoveryStore) List(ctx context.Context) ([]*domain.RecoveryRecord, error) {
	query := `
		SELECT address, secret, created_at
		FROM recovery_records
		ORDER BY created_at ASC, address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recovery records: %w", err)
	}
	defer rows.Close()

	var result []*domain.RecoveryRecord
	for rows.Next() {
		r, err := scanRecovery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recovery record: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovery records: %w", err)
	}
	return result, nil
}

func scanRecovery(row pgx.Row) (*domain.RecoveryRecord, error) {
	var r domain.RecoveryRecord
	if err := row.Scan(&r.Address, &r.Secret, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

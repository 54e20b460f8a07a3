package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// MonitoredAddressStore implements storage.MonitoredAddressStore using PostgreSQL.
type MonitoredAddressStore struct {
	pool *Pool
}

// NewMonitoredAddressStore creates a new MonitoredAddressStore.
func NewMonitoredAddressStore(pool *Pool) *MonitoredAddressStore {
	return &MonitoredAddressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MonitoredAddressStore = (*MonitoredAddressStore)(nil)

// Upsert inserts or updates the address, kind and owner. Subscription handle is preserved.
func (s *MonitoredAddressStore) Upsert(ctx context.Context, m *domain.MonitoredAddress) error {
	if m == nil || m.Address == "" || !m.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO monitored_addresses (address, kind, owner, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
		SET kind = EXCLUDED.kind,
		    owner = EXCLUDED.owner,
		    updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, m.Address, string(m.Kind), m.Owner, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert monitored address: %w", err)
	}
	return nil
}

// Get retrieves an address. Returns ErrNotFound if not exists.
func (s *MonitoredAddressStore) Get(ctx context.Context, address string) (*domain.MonitoredAddress, error) {
	query := `
		SELECT address, kind, owner, subscription_handle, updated_at
		FROM monitored_addresses
		WHERE address = $1
	`

	m, err := scanMonitored(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get monitored address: %w", err)
	}
	return m, nil
}

// GetByOwner retrieves the most recently updated address activated by owner.
func (s *MonitoredAddressStore) GetByOwner(ctx context.Context, owner string) (*domain.MonitoredAddress, error) {
	query := `
		SELECT address, kind, owner, subscription_handle, updated_at
		FROM monitored_addresses
		WHERE owner = $1
		ORDER BY updated_at DESC, (subscription_handle IS NOT NULL) DESC, address ASC
		LIMIT 1
	`

	m, err := scanMonitored(s.pool.QueryRow(ctx, query, owner))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get monitored address by owner: %w", err)
	}
	return m, nil
}

// SetHandle records the live subscription handle for address.
func (s *MonitoredAddressStore) SetHandle(ctx context.Context, address string, handle int64) error {
	return s.setHandle(ctx, address, &handle)
}

// ClearHandle removes the subscription handle for address.
func (s *MonitoredAddressStore) ClearHandle(ctx context.Context, address string) error {
	return s.setHandle(ctx, address, nil)
}

func (s *MonitoredAddressStore) setHandle(ctx context.Context, address string, handle *int64) error {
	query := `
		UPDATE monitored_addresses
		SET subscription_handle = $2, updated_at = $3
		WHERE address = $1
	`

	tag, err := s.pool.Exec(ctx, query, address, handle, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set subscription handle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListActive returns addresses that have a subscription handle.
func (s *MonitoredAddressStore) ListActive(ctx context.Context) ([]*domain.MonitoredAddress, error) {
	query := `
		SELECT address, kind, owner, subscription_handle, updated_at
		FROM monitored_addresses
		WHERE subscription_handle IS NOT NULL
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active addresses: %w", err)
	}
	defer rows.Close()

	var result []*domain.MonitoredAddress
	for rows.Next() {
		m, err := scanMonitored(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitored address: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitored addresses: %w", err)
	}
	return result, nil
}

func scanMonitored(row pgx.Row) (*domain.MonitoredAddress, error) {
	var m domain.MonitoredAddress
	var kind string

	if err := row.Scan(&m.Address, &kind, &m.Owner, &m.SubscriptionHandle, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Kind = domain.TargetKind(kind)
	return &m, nil
}

package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// TokenMetadataStore implements storage.TokenMetadataStore using PostgreSQL.
type TokenMetadataStore struct {
	pool *Pool
}

// NewTokenMetadataStore creates a new TokenMetadataStore.
func NewTokenMetadataStore(pool *Pool) *TokenMetadataStore {
	return &TokenMetadataStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenMetadataStore = (*TokenMetadataStore)(nil)

// Upsert stores metadata keyed by mint.
func (s *TokenMetadataStore) Upsert(ctx context.Context, m *domain.TokenMetadata) error {
	if m == nil || m.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_metadata (mint, name, symbol, uri, decimals, supply, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
		ON CONFLICT (mint) DO UPDATE
		SET name = EXCLUDED.name,
		    symbol = EXCLUDED.symbol,
		    uri = EXCLUDED.uri,
		    decimals = EXCLUDED.decimals,
		    supply = EXCLUDED.supply,
		    fetched_at = EXCLUDED.fetched_at
	`

	_, err := s.pool.Exec(ctx, query,
		m.Mint,
		m.Name,
		m.Symbol,
		m.URI,
		int16(m.Decimals),
		strconv.FormatUint(m.Supply, 10),
		m.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token metadata: %w", err)
	}
	return nil
}

// GetByMint retrieves metadata by mint address. Returns ErrNotFound if not exists.
func (s *TokenMetadataStore) GetByMint(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	query := `
		SELECT mint, name, symbol, uri, decimals, supply::TEXT, fetched_at
		FROM token_metadata
		WHERE mint = $1
	`

	m, err := scanTokenMetadata(s.pool.QueryRow(ctx, query, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token metadata by mint: %w", err)
	}
	return m, nil
}

// scanTokenMetadata scans a single row into TokenMetadata.
func scanTokenMetadata(row pgx.Row) (*domain.TokenMetadata, error) {
	var (
		m        domain.TokenMetadata
		decimals int16
		supply   string
	)

	err := row.Scan(
		&m.Mint,
		&m.Name,
		&m.Symbol,
		&m.URI,
		&decimals,
		&supply,
		&m.FetchedAt,
	)
	if err != nil {
		return nil, err
	}

	v, err := strconv.ParseUint(supply, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse supply %q: %w", supply, err)
	}
	m.Decimals = uint8(decimals)
	m.Supply = v
	return &m, nil
}

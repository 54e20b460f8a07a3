package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// TokenHoldingStore implements storage.TokenHoldingStore using PostgreSQL.
// Amounts are stored as NUMERIC(20,0) so the full uint64 range fits.
type TokenHoldingStore struct {
	pool *Pool
}

// NewTokenHoldingStore creates a new TokenHoldingStore.
func NewTokenHoldingStore(pool *Pool) *TokenHoldingStore {
	return &TokenHoldingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenHoldingStore = (*TokenHoldingStore)(nil)

// Upsert sets the amount for (wallet, mint), inserting the row if absent.
func (s *TokenHoldingStore) Upsert(ctx context.Context, h *domain.TokenHolding) error {
	if h == nil || h.WalletAddress == "" || h.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_holdings (wallet_address, token_mint, amount, updated_at)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (wallet_address, token_mint) DO UPDATE
		SET amount = EXCLUDED.amount,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		h.WalletAddress,
		h.TokenMint,
		strconv.FormatUint(h.Amount, 10),
		h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token holding: %w", err)
	}
	return nil
}

// Get retrieves a holding. Returns ErrNotFound if not exists.
func (s *TokenHoldingStore) Get(ctx context.Context, wallet, mint string) (*domain.TokenHolding, error) {
	query := `
		SELECT wallet_address, token_mint, amount::TEXT, updated_at
		FROM token_holdings
		WHERE wallet_address = $1 AND token_mint = $2
	`

	h, err := scanHolding(s.pool.QueryRow(ctx, query, wallet, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token holding: %w", err)
	}
	return h, nil
}

// ListByWallet returns holdings of a wallet ordered by mint.
func (s *TokenHoldingStore) ListByWallet(ctx context.Context, wallet string) ([]*domain.TokenHolding, error) {
	query := `
		SELECT wallet_address, token_mint, amount::TEXT, updated_at
		FROM token_holdings
		WHERE wallet_address = $1
		ORDER BY token_mint ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("list holdings by wallet: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// ListByMint returns holdings of a mint ordered by wallet.
func (s *TokenHoldingStore) ListByMint(ctx context.Context, mint string) ([]*domain.TokenHolding, error) {
	query := `
		SELECT wallet_address, token_mint, amount::TEXT, updated_at
		FROM token_holdings
		WHERE token_mint = $1
		ORDER BY wallet_address ASC
	`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("list holdings by mint: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

func scanHolding(row pgx.Row) (*domain.TokenHolding, error) {
	var h domain.TokenHolding
	var amount string

	if err := row.Scan(&h.WalletAddress, &h.TokenMint, &amount, &h.UpdatedAt); err != nil {
		return nil, err
	}

	v, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	h.Amount = v
	return &h, nil
}

func scanHoldings(rows pgx.Rows) ([]*domain.TokenHolding, error) {
	var result []*domain.TokenHolding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token holding: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token holdings: %w", err)
	}
	return result, nil
}

package memory

import (
	"context"
	"sort"
	"sync"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

type holdingKey struct {
	wallet string
	mint   string
}

// TokenHoldingStore is an in-memory implementation of storage.TokenHoldingStore.
type TokenHoldingStore struct {
	mu       sync.RWMutex
	holdings map[holdingKey]*domain.TokenHolding
}

// NewTokenHoldingStore creates a new in-memory token holding store.
func NewTokenHoldingStore() *TokenHoldingStore {
	return &TokenHoldingStore{
		holdings: make(map[holdingKey]*domain.TokenHolding),
	}
}

// Upsert sets the amount for (wallet, mint).
func (s *TokenHoldingStore) Upsert(_ context.Context, h *domain.TokenHolding) error {
	if h == nil || h.WalletAddress == "" || h.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *h
	s.holdings[holdingKey{h.WalletAddress, h.TokenMint}] = &c
	return nil
}

// Get retrieves a holding.
func (s *TokenHoldingStore) Get(_ context.Context, wallet, mint string) (*domain.TokenHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey{wallet, mint}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *h
	return &c, nil
}

// ListByWallet returns holdings of a wallet ordered by mint.
func (s *TokenHoldingStore) ListByWallet(_ context.Context, wallet string) ([]*domain.TokenHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenHolding
	for k, h := range s.holdings {
		if k.wallet == wallet {
			c := *h
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TokenMint < result[j].TokenMint
	})
	return result, nil
}

// ListByMint returns holdings of a mint ordered by wallet.
func (s *TokenHoldingStore) ListByMint(_ context.Context, mint string) ([]*domain.TokenHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenHolding
	for k, h := range s.holdings {
		if k.mint == mint {
			c := *h
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].WalletAddress < result[j].WalletAddress
	})
	return result, nil
}

var _ storage.TokenHoldingStore = (*TokenHoldingStore)(nil)

package memory

import (
	"context"
	"sort"
	"sync"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// RecoveryStore is an in-memory implementation of storage.RecoveryStore.
type RecoveryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.RecoveryRecord
}

// NewRecoveryStore creates a new in-memory recovery store.
func NewRecoveryStore() *RecoveryStore {
	return &RecoveryStore{
		records: make(map[string]*domain.RecoveryRecord),
	}
}

// Insert appends a record. Existing addresses are left untouched.
func (s *RecoveryStore) Insert(_ context.Context, r *domain.RecoveryRecord) error {
	if r == nil || r.Address == "" || r.Secret == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.Address]; exists {
		return nil
	}
	c := *r
	s.records[r.Address] = &c
	return nil
}

// GetByAddress retrieves a record.
func (s *RecoveryStore) GetByAddress(_ context.Context, address string) (*domain.RecoveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *r
	return &c, nil
}

// List returns all records ordered by created_at ASC.
func (s *RecoveryStore) List(_ context.Context) ([]*domain.RecoveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RecoveryRecord, 0, len(s.records))
	for _, r := range s.records {
		c := *r
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].Address < result[j].Address
	})
	return result, nil
}

var _ storage.RecoveryStore = (*RecoveryStore)(nil)

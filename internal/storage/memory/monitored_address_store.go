package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// MonitoredAddressStore is an in-memory implementation of storage.MonitoredAddressStore.
type MonitoredAddressStore struct {
	mu        sync.RWMutex
	addresses map[string]*domain.MonitoredAddress
}

// NewMonitoredAddressStore creates a new in-memory monitored address store.
func NewMonitoredAddressStore() *MonitoredAddressStore {
	return &MonitoredAddressStore{
		addresses: make(map[string]*domain.MonitoredAddress),
	}
}

// Upsert inserts or updates address, kind and owner.
func (s *MonitoredAddressStore) Upsert(_ context.Context, m *domain.MonitoredAddress) error {
	if m == nil || m.Address == "" || !m.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if existing, ok := s.addresses[m.Address]; ok {
		existing.Kind = m.Kind
		existing.Owner = m.Owner
		existing.UpdatedAt = now
		return nil
	}

	c := *m
	c.SubscriptionHandle = nil
	c.UpdatedAt = now
	s.addresses[m.Address] = &c
	return nil
}

// Get retrieves an address.
func (s *MonitoredAddressStore) Get(_ context.Context, address string) (*domain.MonitoredAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.addresses[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyMonitored(m), nil
}

// GetByOwner retrieves the most recently updated address activated by owner.
// Ties prefer an address with a live subscription, then the smaller address.
func (s *MonitoredAddressStore) GetByOwner(_ context.Context, owner string) (*domain.MonitoredAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.MonitoredAddress
	for _, m := range s.addresses {
		if m.Owner != owner {
			continue
		}
		if found == nil || ownerRowBefore(m, found) {
			found = m
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return copyMonitored(found), nil
}

// ownerRowBefore orders rows the way GetByOwner picks them.
func ownerRowBefore(a, b *domain.MonitoredAddress) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	if a.Active() != b.Active() {
		return a.Active()
	}
	return a.Address < b.Address
}

// SetHandle records the live subscription handle for address.
func (s *MonitoredAddressStore) SetHandle(_ context.Context, address string, handle int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.addresses[address]
	if !ok {
		return storage.ErrNotFound
	}
	m.SubscriptionHandle = &handle
	m.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// ClearHandle removes the subscription handle for address.
func (s *MonitoredAddressStore) ClearHandle(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.addresses[address]
	if !ok {
		return storage.ErrNotFound
	}
	m.SubscriptionHandle = nil
	m.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// ListActive returns addresses that have a subscription handle.
func (s *MonitoredAddressStore) ListActive(_ context.Context) ([]*domain.MonitoredAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MonitoredAddress
	for _, m := range s.addresses {
		if m.Active() {
			result = append(result, copyMonitored(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result, nil
}

func copyMonitored(m *domain.MonitoredAddress) *domain.MonitoredAddress {
	c := *m
	if m.SubscriptionHandle != nil {
		h := *m.SubscriptionHandle
		c.SubscriptionHandle = &h
	}
	return &c
}

var _ storage.MonitoredAddressStore = (*MonitoredAddressStore)(nil)

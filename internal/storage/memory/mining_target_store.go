package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// MiningTargetStore is an in-memory implementation of storage.MiningTargetStore.
type MiningTargetStore struct {
	mu        sync.RWMutex
	byID      map[string]*domain.MiningTarget
	byAddress map[string]*domain.MiningTarget // keyed by real address (unique)
}

// NewMiningTargetStore creates a new in-memory mining target store.
func NewMiningTargetStore() *MiningTargetStore {
	return &MiningTargetStore{
		byID:      make(map[string]*domain.MiningTarget),
		byAddress: make(map[string]*domain.MiningTarget),
	}
}

// CreateIfAbsent inserts t unless a target with the same real address exists.
func (s *MiningTargetStore) CreateIfAbsent(_ context.Context, t *domain.MiningTarget) (bool, error) {
	if t == nil || t.ID == "" || t.RealAddress == "" || !t.Kind.IsValid() {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAddress[t.RealAddress]; exists {
		return false, nil
	}
	if _, exists := s.byID[t.ID]; exists {
		return false, nil
	}

	c := copyTarget(t)
	s.byID[c.ID] = c
	s.byAddress[c.RealAddress] = c
	return true, nil
}

// GetByID retrieves a target by its ID.
func (s *MiningTargetStore) GetByID(_ context.Context, id string) (*domain.MiningTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTarget(t), nil
}

// GetByAddress retrieves a target by its real address.
func (s *MiningTargetStore) GetByAddress(_ context.Context, address string) (*domain.MiningTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTarget(t), nil
}

// GetByTwinAddress retrieves a target by its current twin address.
func (s *MiningTargetStore) GetByTwinAddress(_ context.Context, twin string) (*domain.MiningTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t := s.findByTwin(twin); t != nil {
		return copyTarget(t), nil
	}
	return nil, storage.ErrNotFound
}

// AssignTwin replaces the twin if score strictly improves on the stored score.
func (s *MiningTargetStore) AssignTwin(_ context.Context, id string, score uint8, twinAddress, twinSecret string) (bool, error) {
	if twinAddress == "" || twinSecret == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if score <= t.Score {
		return false, nil
	}

	t.Score = score
	t.TwinAddress = &twinAddress
	t.TwinSecret = &twinSecret
	t.Deployed = false
	t.UpdatedAt = time.Now().UnixMilli()
	return true, nil
}

// MarkDeployed sets deployed=true for the target whose twin is twinAddress.
func (s *MiningTargetStore) MarkDeployed(_ context.Context, twinAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findByTwin(twinAddress)
	if t == nil {
		return storage.ErrNotFound
	}
	t.Deployed = true
	t.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// ListUndeployedTokens returns token targets with a twin but deployed=false.
func (s *MiningTargetStore) ListUndeployedTokens(_ context.Context) ([]*domain.MiningTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MiningTarget
	for _, t := range s.byAddress {
		if t.Kind == domain.KindToken && t.HasTwin() && !t.Deployed {
			result = append(result, copyTarget(t))
		}
	}
	sortTargets(result)
	return result, nil
}

// ListWithTwin returns all targets of kind that have a twin.
func (s *MiningTargetStore) ListWithTwin(_ context.Context, kind domain.TargetKind) ([]*domain.MiningTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MiningTarget
	for _, t := range s.byAddress {
		if t.Kind == kind && t.HasTwin() {
			result = append(result, copyTarget(t))
		}
	}
	sortTargets(result)
	return result, nil
}

func (s *MiningTargetStore) findByTwin(twin string) *domain.MiningTarget {
	if twin == "" {
		return nil
	}
	for _, t := range s.byAddress {
		if t.TwinAddress != nil && *t.TwinAddress == twin {
			return t
		}
	}
	return nil
}

func copyTarget(t *domain.MiningTarget) *domain.MiningTarget {
	c := *t
	if t.TwinAddress != nil {
		v := *t.TwinAddress
		c.TwinAddress = &v
	}
	if t.TwinSecret != nil {
		v := *t.TwinSecret
		c.TwinSecret = &v
	}
	return &c
}

func sortTargets(ts []*domain.MiningTarget) {
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].RealAddress < ts[j].RealAddress
	})
}

var _ storage.MiningTargetStore = (*MiningTargetStore)(nil)

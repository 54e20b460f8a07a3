package memory

import (
	"context"
	"errors"
	"testing"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

func TestMonitoredAddressStore_Lifecycle(t *testing.T) {
	store := NewMonitoredAddressStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, &domain.MonitoredAddress{Address: "W", Kind: domain.KindWallet, Owner: "user1"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.SetHandle(ctx, "W", 42); err != nil {
		t.Fatalf("SetHandle failed: %v", err)
	}

	// Upsert keeps the handle.
	if err := store.Upsert(ctx, &domain.MonitoredAddress{Address: "W", Kind: domain.KindWallet, Owner: "user1"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.GetByOwner(ctx, "user1")
	if err != nil {
		t.Fatalf("GetByOwner failed: %v", err)
	}
	if !got.Active() || *got.SubscriptionHandle != 42 {
		t.Errorf("expected handle 42, got %+v", got.SubscriptionHandle)
	}

	active, _ := store.ListActive(ctx)
	if len(active) != 1 {
		t.Errorf("expected 1 active address, got %d", len(active))
	}

	if err := store.ClearHandle(ctx, "W"); err != nil {
		t.Fatalf("ClearHandle failed: %v", err)
	}
	active, _ = store.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("expected 0 active addresses, got %d", len(active))
	}
}

func TestMonitoredAddressStore_NotFound(t *testing.T) {
	store := NewMonitoredAddressStore()
	ctx := context.Background()

	if _, err := store.GetByOwner(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetHandle(ctx, "missing", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMonitoredAddressStore_GetByOwnerTieBreak(t *testing.T) {
	store := NewMonitoredAddressStore()
	ctx := context.Background()

	for _, addr := range []string{"WalletC", "WalletA", "WalletB"} {
		if err := store.Upsert(ctx, &domain.MonitoredAddress{Address: addr, Kind: domain.KindWallet, Owner: "user1"}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	handle := int64(7)
	store.mu.Lock()
	for _, m := range store.addresses {
		m.UpdatedAt = 1_700_000_000_000
	}
	store.addresses["WalletB"].SubscriptionHandle = &handle
	store.mu.Unlock()

	for i := 0; i < 20; i++ {
		got, err := store.GetByOwner(ctx, "user1")
		if err != nil {
			t.Fatalf("GetByOwner failed: %v", err)
		}
		if got.Address != "WalletB" {
			t.Fatalf("expected the active WalletB, got %s", got.Address)
		}
	}

	store.mu.Lock()
	store.addresses["WalletB"].SubscriptionHandle = nil
	store.mu.Unlock()

	for i := 0; i < 20; i++ {
		got, err := store.GetByOwner(ctx, "user1")
		if err != nil {
			t.Fatalf("GetByOwner failed: %v", err)
		}
		if got.Address != "WalletA" {
			t.Fatalf("expected WalletA on a full tie, got %s", got.Address)
		}
	}
}

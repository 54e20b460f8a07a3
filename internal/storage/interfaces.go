package storage

import (
	"context"

	"solana-twin-mirror/internal/domain"
)

// MiningTargetStore provides access to mining_targets storage.
type MiningTargetStore interface {
	// CreateIfAbsent inserts t unless a target with the same real address exists.
	// Returns true if the row was created. Never overwrites an existing target.
	CreateIfAbsent(ctx context.Context, t *domain.MiningTarget) (bool, error)

	// GetByID retrieves a target by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.MiningTarget, error)

	// GetByAddress retrieves a target by its real address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.MiningTarget, error)

	// GetByTwinAddress retrieves a target by its current twin address. Returns ErrNotFound if not exists.
	GetByTwinAddress(ctx context.Context, twin string) (*domain.MiningTarget, error)

	// AssignTwin replaces the twin of target id if score is strictly greater than the
	// stored score. Resets deployed to false. Returns false if the update was rejected.
	AssignTwin(ctx context.Context, id string, score uint8, twinAddress, twinSecret string) (bool, error)

	// MarkDeployed sets deployed=true for the target whose twin is twinAddress.
	// Returns ErrNotFound if no target currently has that twin.
	MarkDeployed(ctx context.Context, twinAddress string) error

	// ListUndeployedTokens returns token targets with a twin but deployed=false.
	ListUndeployedTokens(ctx context.Context) ([]*domain.MiningTarget, error)

	// ListWithTwin returns all targets of kind that have a twin, ordered by real address.
	ListWithTwin(ctx context.Context, kind domain.TargetKind) ([]*domain.MiningTarget, error)
}

// TokenHoldingStore provides access to token_holdings storage.
type TokenHoldingStore interface {
	// Upsert sets the amount for (wallet, mint), inserting the row if absent.
	Upsert(ctx context.Context, h *domain.TokenHolding) error

	// Get retrieves a holding. Returns ErrNotFound if not exists.
	Get(ctx context.Context, wallet, mint string) (*domain.TokenHolding, error)

	// ListByWallet returns holdings of a wallet ordered by mint.
	ListByWallet(ctx context.Context, wallet string) ([]*domain.TokenHolding, error)

	// ListByMint returns holdings of a mint ordered by wallet.
	ListByMint(ctx context.Context, mint string) ([]*domain.TokenHolding, error)
}

// RecoveryStore provides access to recovery_records storage.
type RecoveryStore interface {
	// Insert appends a record. Inserting an existing address is a no-op.
	Insert(ctx context.Context, r *domain.RecoveryRecord) error

	// GetByAddress retrieves a record. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.RecoveryRecord, error)

	// List returns all records ordered by created_at ASC.
	List(ctx context.Context) ([]*domain.RecoveryRecord, error)
}

// MonitoredAddressStore provides access to monitored_addresses storage.
type MonitoredAddressStore interface {
	// Upsert inserts or updates the address, kind and owner. Subscription handle is preserved.
	Upsert(ctx context.Context, m *domain.MonitoredAddress) error

	// Get retrieves an address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string) (*domain.MonitoredAddress, error)

	// GetByOwner retrieves the address activated by owner. Returns ErrNotFound if not exists.
	GetByOwner(ctx context.Context, owner string) (*domain.MonitoredAddress, error)

	// SetHandle records the live subscription handle for address.
	SetHandle(ctx context.Context, address string, handle int64) error

	// ClearHandle removes the subscription handle for address.
	ClearHandle(ctx context.Context, address string) error

	// ListActive returns addresses that have a subscription handle.
	ListActive(ctx context.Context) ([]*domain.MonitoredAddress, error)
}

// TokenMetadataStore caches metadata of real mints.
type TokenMetadataStore interface {
	// Upsert stores metadata keyed by mint, replacing an existing copy.
	Upsert(ctx context.Context, m *domain.TokenMetadata) error

	// GetByMint retrieves metadata. Returns ErrNotFound if not cached.
	GetByMint(ctx context.Context, mint string) (*domain.TokenMetadata, error)
}

// TaskJournal provides access to the append-only task_events log.
type TaskJournal interface {
	// Append adds a lifecycle event.
	Append(ctx context.Context, e *domain.TaskEvent) error

	// ListByTask returns events of a task ordered by timestamp ASC.
	ListByTask(ctx context.Context, taskID string) ([]*domain.TaskEvent, error)

	// ListFailed returns tasks whose last event is FAILED within [start, end] (ms, inclusive).
	ListFailed(ctx context.Context, start, end int64) ([]*domain.TaskEvent, error)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// MiningTargetStore implements storage.MiningTargetStore using PostgreSQL.
type MiningTargetStore struct {
	pool *Pool
}

// NewMiningTargetStore creates a new MiningTargetStore.
func NewMiningTargetStore(pool *Pool) *MiningTargetStore {
	return &MiningTargetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MiningTargetStore = (*MiningTargetStore)(nil)

const targetColumns = `id, address, derived_label, score, twin_address, twin_secret, kind, deployed, created_at, updated_at`

// CreateIfAbsent inserts t unless a target with the same real address exists.
func (s *MiningTargetStore) CreateIfAbsent(ctx context.Context, t *domain.MiningTarget) (bool, error) {
	if t == nil || t.ID == "" || t.RealAddress == "" || !t.Kind.IsValid() {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO mining_targets (
			id, address, derived_label, score, twin_address, twin_secret, kind, deployed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		t.ID,
		t.RealAddress,
		t.DerivedLabel,
		int16(t.Score),
		t.TwinAddress,
		t.TwinSecret,
		string(t.Kind),
		t.Deployed,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert mining target: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves a target by its ID. Returns ErrNotFound if not exists.
func (s *MiningTargetStore) GetByID(ctx context.Context, id string) (*domain.MiningTarget, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM mining_targets WHERE id = $1`, id)
	t, err := scanTarget(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mining target by id: %w", err)
	}
	return t, nil
}

// GetByAddress retrieves a target by its real address. Returns ErrNotFound if not exists.
func (s *MiningTargetStore) GetByAddress(ctx context.Context, address string) (*domain.MiningTarget, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM mining_targets WHERE address = $1`, address)
	t, err := scanTarget(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mining target by address: %w", err)
	}
	return t, nil
}

// GetByTwinAddress retrieves a target by its current twin address. Returns ErrNotFound if not exists.
func (s *MiningTargetStore) GetByTwinAddress(ctx context.Context, twin string) (*domain.MiningTarget, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM mining_targets WHERE twin_address = $1`, twin)
	t, err := scanTarget(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mining target by twin: %w", err)
	}
	return t, nil
}

// AssignTwin replaces the twin if score strictly improves on the stored score.
// The comparison and the write happen in one statement so concurrent callbacks
// cannot both win.
func (s *MiningTargetStore) AssignTwin(ctx context.Context, id string, score uint8, twinAddress, twinSecret string) (bool, error) {
	if twinAddress == "" || twinSecret == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		UPDATE mining_targets
		SET score = $2, twin_address = $3, twin_secret = $4, deployed = FALSE, updated_at = $5
		WHERE id = $1 AND score < $2
	`

	tag, err := s.pool.Exec(ctx, query, id, int16(score), twinAddress, twinSecret, time.Now().UnixMilli())
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, storage.ErrDuplicateKey
		}
		return false, fmt.Errorf("assign twin: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish a rejected score from a missing target.
	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkDeployed sets deployed=true for the target whose twin is twinAddress.
func (s *MiningTargetStore) MarkDeployed(ctx context.Context, twinAddress string) error {
	query := `
		UPDATE mining_targets
		SET deployed = TRUE, updated_at = $2
		WHERE twin_address = $1
	`

	tag, err := s.pool.Exec(ctx, query, twinAddress, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark deployed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUndeployedTokens returns token targets with a twin but deployed=false.
func (s *MiningTargetStore) ListUndeployedTokens(ctx context.Context) ([]*domain.MiningTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM mining_targets
		WHERE kind = 'TOKEN' AND twin_address IS NOT NULL AND twin_secret IS NOT NULL AND NOT deployed
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list undeployed tokens: %w", err)
	}
	defer rows.Close()

	return scanTargets(rows)
}

// ListWithTwin returns all targets of kind that have a twin, ordered by real address.
func (s *MiningTargetStore) ListWithTwin(ctx context.Context, kind domain.TargetKind) ([]*domain.MiningTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM mining_targets
		WHERE kind = $1 AND twin_address IS NOT NULL AND twin_secret IS NOT NULL
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list targets with twin: %w", err)
	}
	defer rows.Close()

	return scanTargets(rows)
}

// scanTarget scans a single row into a MiningTarget.
func scanTarget(row pgx.Row) (*domain.MiningTarget, error) {
	var t domain.MiningTarget
	var score int16
	var kind string

	err := row.Scan(
		&t.ID,
		&t.RealAddress,
		&t.DerivedLabel,
		&score,
		&t.TwinAddress,
		&t.TwinSecret,
		&kind,
		&t.Deployed,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Score = uint8(score)
	t.Kind = domain.TargetKind(kind)
	return &t, nil
}

// scanTargets scans multiple rows into MiningTarget slice.
func scanTargets(rows pgx.Rows) ([]*domain.MiningTarget, error) {
	var result []*domain.MiningTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mining target: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mining targets: %w", err)
	}
	return result, nil
}

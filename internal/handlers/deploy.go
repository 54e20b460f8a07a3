package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// DeployToken materialises the twin mint as a look-alike of the real mint.
//
// Each step checks the ledger before acting, so a retry after a partial
// failure resumes where the previous attempt stopped. The target is marked
// deployed only after the mint authority is revoked.
func (h *Handlers) DeployToken(ctx context.Context, task domain.DeployToken) error {
	log := h.log.WithFields(logrus.Fields{
		"task_id": task.ID(),
		"mint":    task.TokenMint,
		"twin":    task.TwinTokenMint,
	})

	target, err := h.targets.GetByAddress(ctx, task.TokenMint)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: token %s", ErrTargetNotFound, task.TokenMint)
	}
	if err != nil {
		return fmt.Errorf("get target %s: %w", task.TokenMint, err)
	}
	if target.Twin() != task.TwinTokenMint {
		log.WithField("current_twin", target.Twin()).Warn("twin superseded, deployment skipped")
		return nil
	}
	if target.Deployed {
		log.Info("twin already deployed")
		return nil
	}

	if target.TwinSecret != nil {
		err := h.recovery.Insert(ctx, &domain.RecoveryRecord{
			Address:   task.TwinTokenMint,
			Secret:    *target.TwinSecret,
			CreatedAt: time.Now().UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("record twin mint key: %w", err)
		}
	}

	meta, err := h.tokenMetadata(ctx, task.TokenMint)
	if err != nil {
		return err
	}

	existed, err := h.ledger.DeployMint(ctx, task.TwinSigner, meta.Decimals)
	if err != nil {
		return fmt.Errorf("deploy mint: %w", err)
	}
	log.WithField("existed", existed).Debug("mint account ready")

	existed, err = h.ledger.SetMetadata(ctx, task.TwinTokenMint, task.TwinSigner, meta.Name, meta.Symbol, meta.URI)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	log.WithField("existed", existed).Debug("metadata account ready")

	existed, err = h.ledger.MintSupply(ctx, task.TwinTokenMint, task.TwinSigner, meta.Supply)
	if err != nil {
		return fmt.Errorf("mint supply: %w", err)
	}
	log.WithField("existed", existed).Debug("supply minted to custodian")

	existed, err = h.ledger.RevokeMintAuthority(ctx, task.TwinTokenMint, task.TwinSigner)
	if err != nil {
		return fmt.Errorf("revoke mint authority: %w", err)
	}
	log.WithField("existed", existed).Debug("mint authority revoked")

	if err := h.targets.MarkDeployed(ctx, task.TwinTokenMint); err != nil {
		return fmt.Errorf("mark deployed: %w", err)
	}

	log.WithFields(logrus.Fields{
		"name":     meta.Name,
		"symbol":   meta.Symbol,
		"decimals": meta.Decimals,
		"supply":   meta.Supply,
	}).Info("twin token deployed")
	return nil
}

// tokenMetadata reads the cached metadata of mint, fetching and caching it on a miss.
func (h *Handlers) tokenMetadata(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	if h.metadata != nil {
		meta, err := h.metadata.GetByMint(ctx, mint)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.WithError(err).WithField("mint", mint).Warn("metadata cache unavailable")
		}
	}

	meta, err := h.ledger.FetchMetadata(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata of %s: %w", mint, err)
	}

	if h.metadata != nil {
		meta.FetchedAt = time.Now().UnixMilli()
		if err := h.metadata.Upsert(ctx, meta); err != nil {
			h.log.WithError(err).WithField("mint", mint).Warn("cache metadata")
		}
	}
	return meta, nil
}

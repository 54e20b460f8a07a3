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

// MigrateToken deploys the new twin mint and then re-balances every twin
// wallet holding the real token onto it.
//
// The transfers are issued by a continuation that runs only after the
// DeployToken task has succeeded, because transfers against an undeployed
// mint are fatal.
func (h *Handlers) MigrateToken(ctx context.Context, task domain.MigrateToken) error {
	target, err := h.targetByTwin(ctx, task.NewTokenMint)
	if err != nil {
		return err
	}

	// Watch before dispatch; the deployment runs after this handler returns.
	waiter := h.tracker.Watch(task.NewTokenMint)
	deploy := domain.DeployToken{
		TaskHeader:    domain.NewTaskHeader(),
		TokenMint:     target.RealAddress,
		TwinTokenMint: task.NewTokenMint,
		TwinSigner:    domain.SignerRef(task.NewTokenMint),
	}
	if err := h.dispatch(deploy); err != nil {
		h.tracker.forget(task.NewTokenMint, waiter)
		return err
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.continueTokenMigration(task, target.RealAddress, waiter)
	}()

	h.log.WithFields(logrus.Fields{
		"task_id":   task.ID(),
		"mint":      target.RealAddress,
		"old_twin":  task.OldTokenMint,
		"new_twin":  task.NewTokenMint,
		"deploy_id": deploy.ID(),
	}).Info("token migration waiting for deployment")
	return nil
}

func (h *Handlers) continueTokenMigration(task domain.MigrateToken, realMint string, waiter <-chan error) {
	log := h.log.WithFields(logrus.Fields{
		"task_id":  task.ID(),
		"mint":     realMint,
		"new_twin": task.NewTokenMint,
	})

	ctx := h.ctx
	stalled := func(waited time.Duration) {
		log.WithField("waited", waited.Round(time.Second)).Warn("token migration still waiting for deployment")
	}
	if err := h.tracker.AwaitReporting(ctx, task.NewTokenMint, waiter, h.deployStall, stalled); err != nil {
		log.WithError(err).Error("token migration abandoned")
		return
	}

	target, err := h.targets.GetByAddress(ctx, realMint)
	if err != nil {
		log.WithError(err).Error("reload token target")
		return
	}
	if target.Twin() != task.NewTokenMint || !target.Deployed {
		log.WithField("current_twin", target.Twin()).Warn("twin superseded, token migration abandoned")
		return
	}

	holdings, err := h.holdings.ListByMint(ctx, realMint)
	if err != nil {
		log.WithError(err).Error("list holdings of mint")
		return
	}

	custodian := h.ledger.Custodian()
	dispatched := 0
	for _, holding := range holdings {
		wallet, err := h.targets.GetByAddress(ctx, holding.WalletAddress)
		if err != nil || !wallet.HasTwin() {
			log.WithField("wallet", holding.WalletAddress).Warn("wallet has no twin, skipped")
			continue
		}
		twinWallet := wallet.Twin()
		wlog := log.WithField("wallet", holding.WalletAddress)

		if task.OldTokenMint != "" {
			old, err := h.ledger.GetBalance(ctx, twinWallet, task.OldTokenMint)
			if err != nil {
				wlog.WithError(err).Warn("old twin balance unavailable, leg skipped")
			} else if old > 0 {
				err := h.dispatch(domain.TransferToken{
					TaskHeader:    domain.NewTaskHeader(),
					TokenMint:     task.OldTokenMint,
					Amount:        old,
					SourceAddress: twinWallet,
					TargetAddress: custodian,
					SourceSigner:  domain.SignerRef(twinWallet),
				})
				if err != nil {
					wlog.WithError(err).Error("dispatch return leg")
					return
				}
				dispatched++
			}
		}

		amount, err := h.ledger.GetBalance(ctx, holding.WalletAddress, realMint)
		if err != nil {
			wlog.WithError(err).Warn("real balance unavailable, wallet skipped")
			continue
		}
		if amount == 0 {
			continue
		}
		err = h.dispatch(domain.TransferToken{
			TaskHeader:    domain.NewTaskHeader(),
			TokenMint:     task.NewTokenMint,
			Amount:        amount,
			SourceAddress: custodian,
			TargetAddress: twinWallet,
			SourceSigner:  h.custodianSigner(),
		})
		if err != nil {
			wlog.WithError(err).Error("dispatch funding leg")
			return
		}
		dispatched++
	}

	log.WithFields(logrus.Fields{
		"holdings":  len(holdings),
		"transfers": dispatched,
	}).Info("token migration dispatched")
}

// MigrateWallet moves twin holdings from the old twin wallet to the new one.
// When there was no previous twin the custodian funds the new twin to match
// the real wallet.
func (h *Handlers) MigrateWallet(ctx context.Context, task domain.MigrateWallet) error {
	log := h.log.WithFields(logrus.Fields{
		"task_id":  task.ID(),
		"old_twin": task.OldWalletAddress,
		"new_twin": task.NewWalletAddress,
	})

	target, err := h.targetByTwin(ctx, task.NewWalletAddress)
	if err != nil {
		return err
	}
	log = log.WithField("wallet", target.RealAddress)

	holdings, err := h.holdings.ListByWallet(ctx, target.RealAddress)
	if err != nil {
		return fmt.Errorf("list holdings of %s: %w", target.RealAddress, err)
	}

	custodian := h.ledger.Custodian()
	var tasks []domain.Task
	for _, holding := range holdings {
		token, err := h.targets.GetByAddress(ctx, holding.TokenMint)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get token target %s: %w", holding.TokenMint, err)
		}
		if !token.HasTwin() || !token.Deployed {
			log.WithField("mint", holding.TokenMint).Debug("token twin not deployed, skipped")
			continue
		}
		twinMint := token.Twin()

		transfer := domain.TransferToken{
			TaskHeader:    domain.NewTaskHeader(),
			TokenMint:     twinMint,
			TargetAddress: task.NewWalletAddress,
		}
		if task.OldWalletAddress != "" {
			transfer.Amount, err = h.ledger.GetBalance(ctx, task.OldWalletAddress, twinMint)
			transfer.SourceAddress = task.OldWalletAddress
			transfer.SourceSigner = task.OldWalletSigner
		} else {
			transfer.Amount, err = h.ledger.GetBalance(ctx, target.RealAddress, holding.TokenMint)
			transfer.SourceAddress = custodian
			transfer.SourceSigner = h.custodianSigner()
		}
		if err != nil {
			return fmt.Errorf("balance for %s: %w", holding.TokenMint, err)
		}
		if transfer.Amount == 0 {
			continue
		}
		tasks = append(tasks, transfer)
	}

	if task.OldWalletAddress != "" {
		lamports, err := h.ledger.GetBalance(ctx, task.OldWalletAddress, domain.NativeMint)
		if err != nil {
			return fmt.Errorf("native balance of old twin: %w", err)
		}
		if lamports > h.rentReserve {
			tasks = append(tasks, domain.TransferToken{
				TaskHeader:    domain.NewTaskHeader(),
				TokenMint:     domain.NativeMint,
				Amount:        lamports - h.rentReserve,
				SourceAddress: task.OldWalletAddress,
				TargetAddress: task.NewWalletAddress,
				SourceSigner:  task.OldWalletSigner,
			})
		}
	}

	// Nothing is dispatched until every balance has been read.
	for _, t := range tasks {
		if err := h.dispatch(t); err != nil {
			return err
		}
	}

	log.WithFields(logrus.Fields{
		"holdings":  len(holdings),
		"transfers": len(tasks),
	}).Info("wallet migration dispatched")
	return nil
}

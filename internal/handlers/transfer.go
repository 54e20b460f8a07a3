package handlers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
)

// TransferToken moves task.Amount of task.TokenMint and waits for confirmation.
// The balance is checked first so an overdraft fails without a submission.
func (h *Handlers) TransferToken(ctx context.Context, task domain.TransferToken) error {
	log := h.log.WithFields(logrus.Fields{
		"task_id": task.ID(),
		"mint":    task.TokenMint,
		"from":    task.SourceAddress,
		"to":      task.TargetAddress,
		"amount":  task.Amount,
	})

	if task.Amount == 0 {
		log.Debug("zero amount transfer skipped")
		return nil
	}

	// A missing source account reads as zero, so the check needs no account creation.
	balance, err := h.ledger.GetBalance(ctx, task.SourceAddress, task.TokenMint)
	if err != nil {
		return fmt.Errorf("get source balance: %w", err)
	}
	if balance < task.Amount {
		return fmt.Errorf("%w: %s holds %d of %s, needs %d",
			ErrInsufficientFunds, task.SourceAddress, balance, task.TokenMint, task.Amount)
	}

	if !task.IsNative() {
		if _, err := h.ledger.CreateOrGetTokenAccount(ctx, task.SourceAddress, task.TokenMint); err != nil {
			return fmt.Errorf("source token account: %w", err)
		}
		if _, err := h.ledger.CreateOrGetTokenAccount(ctx, task.TargetAddress, task.TokenMint); err != nil {
			return fmt.Errorf("target token account: %w", err)
		}
	}

	sig, err := h.ledger.SubmitTransfer(ctx, task.TokenMint, task.Amount, task.SourceAddress, task.TargetAddress, task.SourceSigner)
	if err != nil {
		return fmt.Errorf("submit transfer: %w", err)
	}
	if err := h.ledger.ConfirmTransaction(ctx, sig); err != nil {
		return fmt.Errorf("confirm transfer %s: %w", sig, err)
	}

	log.WithField("signature", sig).Info("transfer confirmed")
	return nil
}

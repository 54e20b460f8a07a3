// Package reconciler turns observed balance changes of real wallets into twin tasks.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/observability"
	"solana-twin-mirror/internal/storage"
)

// Drop reasons reported to metrics.
const (
	DropWalletNoTwin = "wallet_no_twin"
	DropTokenNoTwin  = "token_no_twin"
)

// Event is a non-zero change of a real wallet's balance of Mint.
// The signed delta post - pre is carried as magnitude and direction.
type Event struct {
	Wallet   string
	Mint     string
	Amount   uint64 // |post - pre|, raw units
	Decrease bool   // true when post < pre
}

// NewEvent builds the event for a pre/post pair. ok is false when nothing changed.
func NewEvent(wallet, mint string, pre, post uint64) (Event, bool) {
	switch {
	case post > pre:
		return Event{Wallet: wallet, Mint: mint, Amount: post - pre}, true
	case post < pre:
		return Event{Wallet: wallet, Mint: mint, Amount: pre - post, Decrease: true}, true
	default:
		return Event{}, false
	}
}

func (e Event) String() string {
	sign := "+"
	if e.Decrease {
		sign = "-"
	}
	return fmt.Sprintf("%s %s%d %s", e.Wallet, sign, e.Amount, e.Mint)
}

// Dispatcher enqueues tasks.
type Dispatcher interface {
	Dispatch(task domain.Task) error
}

// Options contains configuration for creating a Reconciler.
type Options struct {
	Targets   storage.MiningTargetStore
	Queue     Dispatcher
	Custodian string
	Metrics   *observability.Metrics
	Logger    logrus.FieldLogger
}

// Reconciler decides which twin task, if any, an Event requires.
type Reconciler struct {
	targets   storage.MiningTargetStore
	queue     Dispatcher
	custodian string
	metrics   *observability.Metrics
	log       *logrus.Entry
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	return &Reconciler{
		targets:   opts.Targets,
		queue:     opts.Queue,
		custodian: opts.Custodian,
		metrics:   opts.Metrics,
		log:       logging.Component(opts.Logger, "reconciler"),
	}
}

// Handle dispatches at most one task for ev. Events whose wallet or token has
// no twin are logged and dropped without error.
func (r *Reconciler) Handle(ctx context.Context, ev Event) error {
	log := r.log.WithFields(logrus.Fields{
		"wallet":   ev.Wallet,
		"mint":     ev.Mint,
		"amount":   ev.Amount,
		"decrease": ev.Decrease,
	})

	wallet, err := r.twinned(ctx, ev.Wallet, domain.KindWallet)
	if err != nil {
		return err
	}
	if wallet == nil {
		log.Warn("wallet has no twin, event dropped")
		r.metrics.RecordDrop(DropWalletNoTwin)
		return nil
	}

	token, err := r.twinned(ctx, ev.Mint, domain.KindToken)
	if err != nil {
		return err
	}
	if token == nil {
		log.Warn("token has no twin, event dropped")
		r.metrics.RecordDrop(DropTokenNoTwin)
		return nil
	}

	if !token.Deployed {
		deploy := domain.DeployToken{
			TaskHeader:    domain.NewTaskHeader(),
			TokenMint:     ev.Mint,
			TwinTokenMint: token.Twin(),
			TwinSigner:    domain.SignerRef(token.Twin()),
		}
		if err := r.queue.Dispatch(deploy); err != nil {
			return fmt.Errorf("dispatch deploy: %w", err)
		}
		log.WithField("task_id", deploy.ID()).Info("twin token not deployed, deployment dispatched")
		return nil
	}

	transfer := domain.TransferToken{
		TaskHeader: domain.NewTaskHeader(),
		TokenMint:  token.Twin(),
		Amount:     ev.Amount,
	}
	if ev.Decrease {
		transfer.SourceAddress = wallet.Twin()
		transfer.TargetAddress = r.custodian
		transfer.SourceSigner = domain.SignerRef(wallet.Twin())
	} else {
		transfer.SourceAddress = r.custodian
		transfer.TargetAddress = wallet.Twin()
		transfer.SourceSigner = domain.SignerRef(r.custodian)
	}
	if err := r.queue.Dispatch(transfer); err != nil {
		return fmt.Errorf("dispatch transfer: %w", err)
	}

	log.WithField("task_id", transfer.ID()).Debug("transfer dispatched")
	return nil
}

// twinned returns the target of address when it has the given kind and a twin, else nil.
func (r *Reconciler) twinned(ctx context.Context, address string, kind domain.TargetKind) (*domain.MiningTarget, error) {
	target, err := r.targets.GetByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target %s: %w", address, err)
	}
	if target.Kind != kind || !target.HasTwin() {
		return nil, nil
	}
	return target, nil
}

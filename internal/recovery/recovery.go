// Package recovery repairs state left behind by crashes and superseded twins:
// it sweeps native balances out of recorded twin wallets and re-dispatches
// deployments that never finished.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/storage"
)

// DefaultMinReclaim is the smallest balance, in lamports, worth sweeping.
const DefaultMinReclaim uint64 = 10_000_000

// BalanceReader reads ledger balances.
type BalanceReader interface {
	Custodian() string
	GetBalance(ctx context.Context, owner, mint string) (uint64, error)
}

// Dispatcher enqueues tasks.
type Dispatcher interface {
	Dispatch(task domain.Task) error
}

// Options contains configuration for creating a Tool.
type Options struct {
	Ledger   BalanceReader
	Recovery storage.RecoveryStore
	Targets  storage.MiningTargetStore
	Queue    Dispatcher
	Logger   logrus.FieldLogger

	// Drain receives reclaimed lamports. Defaults to the custodian.
	Drain string
	// MinReclaim is the smallest balance worth sweeping.
	MinReclaim uint64
	// RentReserve is left behind in every swept wallet.
	RentReserve uint64
	// SweepDelay spaces out sweep dispatches.
	SweepDelay time.Duration
}

// Tool runs the recovery passes.
type Tool struct {
	ledger   BalanceReader
	recovery storage.RecoveryStore
	targets  storage.MiningTargetStore
	queue    Dispatcher
	log      *logrus.Entry

	drain       string
	minReclaim  uint64
	rentReserve uint64
	sweepDelay  time.Duration
}

// New creates a Tool.
func New(opts Options) *Tool {
	if opts.MinReclaim == 0 {
		opts.MinReclaim = DefaultMinReclaim
	}
	if opts.RentReserve == 0 {
		opts.RentReserve = domain.DefaultRentReserve
	}
	if opts.Drain == "" {
		opts.Drain = opts.Ledger.Custodian()
	}
	return &Tool{
		ledger:      opts.Ledger,
		recovery:    opts.Recovery,
		targets:     opts.Targets,
		queue:       opts.Queue,
		log:         logging.Component(opts.Logger, "recovery"),
		drain:       opts.Drain,
		minReclaim:  opts.MinReclaim,
		rentReserve: opts.RentReserve,
		sweepDelay:  opts.SweepDelay,
	}
}

// Reclaim dispatches one native sweep for every recorded wallet holding more
// than the minimum. Wallets whose balance cannot be read are skipped.
// Returns the number of sweeps dispatched.
func (t *Tool) Reclaim(ctx context.Context) (int, error) {
	records, err := t.recovery.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recovery records: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, r := range records {
		if r.Address == t.drain {
			continue
		}
		log := t.log.WithField("wallet", r.Address)

		balance, err := t.ledger.GetBalance(ctx, r.Address, domain.NativeMint)
		if err != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			log.WithError(err).Warn("balance unavailable")
			continue
		}
		if balance <= t.minReclaim || balance <= t.rentReserve {
			log.WithField("lamports", balance).Debug("below reclaim threshold")
			continue
		}

		task := domain.TransferToken{
			TaskHeader:    domain.NewTaskHeader(),
			TokenMint:     domain.NativeMint,
			Amount:        balance - t.rentReserve,
			SourceAddress: r.Address,
			TargetAddress: t.drain,
			SourceSigner:  domain.SignerRef(r.Address),
		}
		if err := t.queue.Dispatch(task); err != nil {
			errs = append(errs, fmt.Errorf("dispatch sweep of %s: %w", r.Address, err))
			continue
		}
		n++
		log.WithFields(logrus.Fields{"lamports": task.Amount, "task_id": task.ID()}).Info("sweep dispatched")

		if err := sleep(ctx, t.sweepDelay); err != nil {
			return n, err
		}
	}

	t.log.WithFields(logrus.Fields{"records": len(records), "sweeps": n}).Info("reclaim finished")
	return n, errors.Join(errs...)
}

// Redeploy dispatches DeployToken for every token target whose twin is
// assigned but not deployed. Returns the number of deployments dispatched.
func (t *Tool) Redeploy(ctx context.Context) (int, error) {
	targets, err := t.targets.ListUndeployedTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("list undeployed tokens: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, target := range targets {
		twin := target.Twin()
		if twin == "" {
			continue
		}
		task := domain.DeployToken{
			TaskHeader:    domain.NewTaskHeader(),
			TokenMint:     target.RealAddress,
			TwinTokenMint: twin,
			TwinSigner:    domain.SignerRef(twin),
		}
		if err := t.queue.Dispatch(task); err != nil {
			errs = append(errs, fmt.Errorf("dispatch deploy of %s: %w", target.RealAddress, err))
			continue
		}
		n++
		t.log.WithFields(logrus.Fields{
			"mint":    target.RealAddress,
			"twin":    twin,
			"task_id": task.ID(),
		}).Info("deployment dispatched")
	}

	t.log.WithField("deployments", n).Info("redeploy finished")
	return n, errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

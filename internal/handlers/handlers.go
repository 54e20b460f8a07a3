// Package handlers executes mirror tasks against the ledger and the state store.
//
// Migration handlers never move funds themselves. They read on-chain balances
// as ground truth and dispatch TransferToken tasks, so every transfer goes
// through the same retry policy.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/ledger"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/storage"
	"solana-twin-mirror/internal/taskqueue"
)

var (
	// ErrInsufficientFunds is returned when a source balance cannot cover a transfer.
	ErrInsufficientFunds = fmt.Errorf("insufficient funds: %w", taskqueue.ErrFatal)

	// ErrTargetNotFound is returned when a task references an unknown mining target.
	ErrTargetNotFound = fmt.Errorf("mining target not found: %w", taskqueue.ErrFatal)
)

// Dispatcher enqueues follow-on tasks.
type Dispatcher interface {
	Dispatch(task domain.Task) error
}

// Registrar is the part of the task queue handlers attach to.
type Registrar interface {
	Register(kind domain.TaskKind, h taskqueue.Handler)
	OnComplete(h taskqueue.CompletionHook)
}

// Options contains configuration for creating Handlers.
type Options struct {
	Ledger   ledger.Client
	Targets  storage.MiningTargetStore
	Holdings storage.TokenHoldingStore
	Recovery storage.RecoveryStore
	Queue    Dispatcher
	Logger   logrus.FieldLogger
	// Metadata caches real mint metadata across deploy retries. Optional.
	Metadata storage.TokenMetadataStore

	// DeployStallWarning is how often a token migration still waiting for its
	// deployment logs a warning. The wait itself ends only with the deployment.
	DeployStallWarning time.Duration
	// RentReserve is left in an old twin wallet when its SOL is swept.
	RentReserve uint64
}

// Handlers implements the four task kinds.
type Handlers struct {
	ledger   ledger.Client
	targets  storage.MiningTargetStore
	holdings storage.TokenHoldingStore
	recovery storage.RecoveryStore
	metadata storage.TokenMetadataStore
	queue    Dispatcher
	tracker  *DeploymentTracker
	log      *logrus.Entry

	deployStall time.Duration
	rentReserve uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates Handlers. Call Close to stop pending migration continuations.
func New(opts Options) *Handlers {
	if opts.DeployStallWarning <= 0 {
		opts.DeployStallWarning = 2 * time.Minute
	}
	if opts.RentReserve == 0 {
		opts.RentReserve = domain.DefaultRentReserve
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Handlers{
		ledger:      opts.Ledger,
		targets:     opts.Targets,
		holdings:    opts.Holdings,
		recovery:    opts.Recovery,
		metadata:    opts.Metadata,
		queue:       opts.Queue,
		tracker:     NewDeploymentTracker(opts.Targets),
		log:         logging.Component(opts.Logger, "handlers"),
		deployStall: opts.DeployStallWarning,
		rentReserve: opts.RentReserve,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Tracker returns the deployment tracker fed by DeployToken completions.
func (h *Handlers) Tracker() *DeploymentTracker {
	return h.tracker
}

// Register attaches every handler and the deployment hook to q.
func (h *Handlers) Register(q Registrar) {
	q.Register(domain.TaskTransferToken, typed(h.TransferToken))
	q.Register(domain.TaskDeployToken, typed(h.DeployToken))
	q.Register(domain.TaskMigrateToken, typed(h.MigrateToken))
	q.Register(domain.TaskMigrateWallet, typed(h.MigrateWallet))
	q.OnComplete(h.tracker.Observe)
}

// Close cancels waiting migration continuations and waits for them to exit.
func (h *Handlers) Close() {
	h.cancel()
	h.wg.Wait()
}

// typed adapts a handler for one task variant. Tasks are dispatched as values.
func typed[T domain.Task](fn func(context.Context, T) error) taskqueue.Handler {
	return func(ctx context.Context, task domain.Task) error {
		t, ok := task.(T)
		if !ok {
			return fmt.Errorf("%w: unexpected task type %T", taskqueue.ErrFatal, task)
		}
		return fn(ctx, t)
	}
}

// custodianSigner names the custodial key.
func (h *Handlers) custodianSigner() domain.SignerRef {
	return domain.SignerRef(h.ledger.Custodian())
}

func (h *Handlers) dispatch(task domain.Task) error {
	if err := h.queue.Dispatch(task); err != nil {
		return fmt.Errorf("dispatch %s: %w", task.Kind(), err)
	}
	return nil
}

// targetByTwin resolves a target by its current twin, mapping a miss to ErrTargetNotFound.
func (h *Handlers) targetByTwin(ctx context.Context, twin string) (*domain.MiningTarget, error) {
	target, err := h.targets.GetByTwinAddress(ctx, twin)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: twin %s", ErrTargetNotFound, twin)
	}
	if err != nil {
		return nil, fmt.Errorf("get target by twin %s: %w", twin, err)
	}
	return target, nil
}

// Package control implements the inbound triggers of the mirror: monitoring
// activation by a user and twin discovery callbacks from the miner.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/idhash"
	"solana-twin-mirror/internal/keys"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/monitor"
	"solana-twin-mirror/internal/observability"
	"solana-twin-mirror/internal/solana"
	"solana-twin-mirror/internal/storage"
)

var (
	// ErrInvalidAddress is returned for a malformed wallet or twin address.
	ErrInvalidAddress = fmt.Errorf("%w: invalid address", storage.ErrInvalidInput)

	// ErrInvalidSecret is returned when a discovered secret does not control the twin address.
	ErrInvalidSecret = fmt.Errorf("%w: secret does not match twin address", storage.ErrInvalidInput)

	// ErrUnknownTarget is returned when a discovery names a target that does not exist.
	ErrUnknownTarget = errors.New("unknown mining target")

	// ErrScoreNotImproved is returned when a discovery does not beat the stored score.
	ErrScoreNotImproved = errors.New("discovery score does not improve on current twin")
)

// Discovery rejection reasons reported to metrics.
const (
	rejectUnknownTarget = "unknown_target"
	rejectInvalid       = "invalid"
	rejectNotImproved   = "not_improved"
)

// Subscriber is the part of the activity monitor control drives.
type Subscriber interface {
	Subscribe(ctx context.Context, address string) (int64, error)
	Unsubscribe(ctx context.Context, handle int64) error
}

// Dispatcher enqueues tasks.
type Dispatcher interface {
	Dispatch(task domain.Task) error
}

// Discovery is a twin found by the miner for a target.
type Discovery struct {
	TargetID    string
	Score       uint8
	TwinAddress string
	TwinSecret  string
	// OldTwinAddress is the twin being replaced. Empty means the stored twin is used.
	OldTwinAddress string
}

// Options contains configuration for creating a Service.
type Options struct {
	Monitor   Subscriber
	Monitored storage.MonitoredAddressStore
	Targets   storage.MiningTargetStore
	Recovery  storage.RecoveryStore
	Queue     Dispatcher
	Metrics   *observability.Metrics
	Logger    logrus.FieldLogger
}

// Service handles the control triggers.
type Service struct {
	monitor   Subscriber
	monitored storage.MonitoredAddressStore
	targets   storage.MiningTargetStore
	recovery  storage.RecoveryStore
	queue     Dispatcher
	metrics   *observability.Metrics
	log       *logrus.Entry
}

// New creates a Service.
func New(opts Options) *Service {
	return &Service{
		monitor:   opts.Monitor,
		monitored: opts.Monitored,
		targets:   opts.Targets,
		recovery:  opts.Recovery,
		queue:     opts.Queue,
		metrics:   opts.Metrics,
		log:       logging.Component(opts.Logger, "control"),
	}
}

// ActivateMonitoring starts watching wallet on behalf of userID and registers
// the wallet as a mining target. A user watches one wallet; activating a
// different wallet stops the previous one.
func (s *Service) ActivateMonitoring(ctx context.Context, userID, wallet string) (int64, error) {
	if !solana.IsValidAddress(wallet) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, wallet)
	}

	current, err := s.monitored.GetByOwner(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("get monitored address of %s: %w", userID, err)
	case current.Address != wallet && current.Active():
		if err := s.stop(ctx, current); err != nil {
			return 0, err
		}
	}

	now := time.Now().UnixMilli()
	err = s.monitored.Upsert(ctx, &domain.MonitoredAddress{
		Address:   wallet,
		Kind:      domain.KindWallet,
		Owner:     userID,
		UpdatedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert monitored address: %w", err)
	}

	target := domain.NewMiningTarget(idhash.ComputeTargetID(domain.KindWallet, wallet), wallet, domain.KindWallet, now)
	if _, err := s.targets.CreateIfAbsent(ctx, target); err != nil {
		return 0, fmt.Errorf("ensure wallet target: %w", err)
	}

	handle, err := s.monitor.Subscribe(ctx, wallet)
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{"user": userID, "wallet": wallet, "handle": handle}).Info("monitoring activated")
	return handle, nil
}

// DeactivateMonitoring stops watching the wallet of userID. Tasks already
// queued for it still run.
func (s *Service) DeactivateMonitoring(ctx context.Context, userID string) error {
	current, err := s.monitored.GetByOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("get monitored address of %s: %w", userID, err)
	}
	if !current.Active() {
		return nil
	}
	if err := s.stop(ctx, current); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"user": userID, "wallet": current.Address}).Info("monitoring deactivated")
	return nil
}

// stop unsubscribes m. A handle left over from a previous process only needs clearing.
func (s *Service) stop(ctx context.Context, m *domain.MonitoredAddress) error {
	err := s.monitor.Unsubscribe(ctx, *m.SubscriptionHandle)
	if errors.Is(err, monitor.ErrUnknownHandle) {
		err = s.monitored.ClearHandle(ctx, m.Address)
	}
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", m.Address, err)
	}
	return nil
}

// HandleDiscovery installs a better twin for a target and dispatches the
// migration onto it. The twin key is recorded for recovery before the
// target is touched.
func (s *Service) HandleDiscovery(ctx context.Context, d Discovery) error {
	log := s.log.WithFields(logrus.Fields{
		"target_id": d.TargetID,
		"score":     d.Score,
		"twin":      d.TwinAddress,
	})

	target, err := s.targets.GetByID(ctx, d.TargetID)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordDiscovery("", false, rejectUnknownTarget)
		return fmt.Errorf("%w: %s", ErrUnknownTarget, d.TargetID)
	}
	if err != nil {
		return fmt.Errorf("get target %s: %w", d.TargetID, err)
	}
	kind := target.Kind.String()

	if err := validateTwin(d); err != nil {
		s.metrics.RecordDiscovery(kind, false, rejectInvalid)
		return err
	}
	if d.Score <= target.Score {
		s.metrics.RecordDiscovery(kind, false, rejectNotImproved)
		log.WithField("current_score", target.Score).Info("discovery rejected")
		return fmt.Errorf("%w: %d <= %d", ErrScoreNotImproved, d.Score, target.Score)
	}

	err = s.recovery.Insert(ctx, &domain.RecoveryRecord{
		Address:   d.TwinAddress,
		Secret:    d.TwinSecret,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("record twin key: %w", err)
	}

	oldTwin := d.OldTwinAddress
	if oldTwin == "" {
		oldTwin = target.Twin()
	} else if oldTwin != target.Twin() {
		log.WithField("stored_twin", target.Twin()).Warn("old twin differs from stored twin")
	}

	ok, err := s.targets.AssignTwin(ctx, target.ID, d.Score, d.TwinAddress, d.TwinSecret)
	if err != nil {
		return fmt.Errorf("assign twin: %w", err)
	}
	if !ok {
		s.metrics.RecordDiscovery(kind, false, rejectNotImproved)
		return fmt.Errorf("%w: superseded concurrently", ErrScoreNotImproved)
	}

	var task domain.Task
	switch target.Kind {
	case domain.KindWallet:
		task = domain.MigrateWallet{
			TaskHeader:       domain.NewTaskHeader(),
			OldWalletAddress: oldTwin,
			NewWalletAddress: d.TwinAddress,
			OldWalletSigner:  domain.SignerRef(oldTwin),
		}
	case domain.KindToken:
		task = domain.MigrateToken{
			TaskHeader:   domain.NewTaskHeader(),
			OldTokenMint: oldTwin,
			NewTokenMint: d.TwinAddress,
		}
	default:
		return fmt.Errorf("%w: target kind %q", storage.ErrInvalidInput, target.Kind)
	}
	if err := s.queue.Dispatch(task); err != nil {
		return fmt.Errorf("dispatch %s: %w", task.Kind(), err)
	}

	s.metrics.RecordDiscovery(kind, true, "")
	log.WithFields(logrus.Fields{
		"old_twin": oldTwin,
		"task_id":  task.ID(),
		"kind":     task.Kind().String(),
	}).Info("twin assigned")
	return nil
}

func validateTwin(d Discovery) error {
	if !solana.IsValidAddress(d.TwinAddress) {
		return fmt.Errorf("%w: twin %q", ErrInvalidAddress, d.TwinAddress)
	}
	if d.OldTwinAddress != "" && !solana.IsValidAddress(d.OldTwinAddress) {
		return fmt.Errorf("%w: old twin %q", ErrInvalidAddress, d.OldTwinAddress)
	}
	addr, err := keys.AddressOf(d.TwinSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if addr != d.TwinAddress {
		return ErrInvalidSecret
	}
	return nil
}

// Package monitor watches real wallets for token balance changes.
//
// Each subscribed address has one logs subscription and one goroutine that
// processes its notifications in arrival order. Processing only produces
// reconciler events; it never executes ledger writes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/idhash"
	"solana-twin-mirror/internal/ledger"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/observability"
	"solana-twin-mirror/internal/reconciler"
	"solana-twin-mirror/internal/solana"
	"solana-twin-mirror/internal/storage"
)

// ErrUnknownHandle is returned by Unsubscribe for a handle this monitor does not own.
var ErrUnknownHandle = errors.New("unknown subscription handle")

// EventSink receives non-zero balance changes.
type EventSink interface {
	Handle(ctx context.Context, ev reconciler.Event) error
}

// Options contains configuration for creating a Monitor.
type Options struct {
	Ledger    ledger.Client
	Monitored storage.MonitoredAddressStore
	Targets   storage.MiningTargetStore
	Holdings  storage.TokenHoldingStore
	Sink      EventSink
	Metrics   *observability.Metrics
	Logger    logrus.FieldLogger

	// FetchAttempts bounds GetParsedTransaction retries per notification.
	FetchAttempts int
	// FetchBackoff is the initial delay between fetch attempts.
	FetchBackoff time.Duration
}

type subscription struct {
	address string
	handle  int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// Monitor owns the live logs subscriptions.
type Monitor struct {
	ledger    ledger.Client
	monitored storage.MonitoredAddressStore
	targets   storage.MiningTargetStore
	holdings  storage.TokenHoldingStore
	sink      EventSink
	metrics   *observability.Metrics
	log       *logrus.Entry

	fetchAttempts int
	fetchBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	byHandle  map[int64]*subscription
	byAddress map[string]*subscription
}

// New creates a Monitor. Call Close to stop all subscriptions.
func New(opts Options) *Monitor {
	if opts.FetchAttempts <= 0 {
		opts.FetchAttempts = 5
	}
	if opts.FetchBackoff <= 0 {
		opts.FetchBackoff = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		ledger:        opts.Ledger,
		monitored:     opts.Monitored,
		targets:       opts.Targets,
		holdings:      opts.Holdings,
		sink:          opts.Sink,
		metrics:       opts.Metrics,
		log:           logging.Component(opts.Logger, "monitor"),
		fetchAttempts: opts.FetchAttempts,
		fetchBackoff:  opts.FetchBackoff,
		ctx:           ctx,
		cancel:        cancel,
		byHandle:      make(map[int64]*subscription),
		byAddress:     make(map[string]*subscription),
	}
}

// Subscribe starts watching address and records the handle in the store.
// The address must already be a monitored address. Subscribing an address
// that is already watched returns the existing handle.
func (m *Monitor) Subscribe(ctx context.Context, address string) (int64, error) {
	m.mu.Lock()
	if sub, ok := m.byAddress[address]; ok {
		m.mu.Unlock()
		return sub.handle, nil
	}
	m.mu.Unlock()

	raw, err := m.ledger.SubscribeLogs(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("subscribe logs for %s: %w", address, err)
	}

	if err := m.monitored.SetHandle(ctx, address, raw.Handle); err != nil {
		if uerr := m.ledger.UnsubscribeLogs(ctx, raw.Handle); uerr != nil {
			m.log.WithError(uerr).WithField("handle", raw.Handle).Warn("unsubscribe after failed persist")
		}
		return 0, fmt.Errorf("persist handle for %s: %w", address, err)
	}

	subCtx, cancel := context.WithCancel(m.ctx)
	sub := &subscription{
		address: address,
		handle:  raw.Handle,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if existing, ok := m.byAddress[address]; ok {
		// Lost a race with a concurrent Subscribe for the same address.
		m.mu.Unlock()
		cancel()
		if err := m.ledger.UnsubscribeLogs(ctx, raw.Handle); err != nil {
			m.log.WithError(err).WithField("handle", raw.Handle).Warn("unsubscribe duplicate")
		}
		if err := m.monitored.SetHandle(ctx, address, existing.handle); err != nil {
			return 0, fmt.Errorf("restore handle for %s: %w", address, err)
		}
		return existing.handle, nil
	}
	m.byHandle[sub.handle] = sub
	m.byAddress[address] = sub
	active := len(m.byHandle)
	m.mu.Unlock()

	m.metrics.SetActiveSubscriptions(active)
	go m.consume(subCtx, sub, raw.C)

	m.log.WithFields(logrus.Fields{"wallet": address, "handle": raw.Handle}).Info("subscribed")
	return raw.Handle, nil
}

// Unsubscribe stops the subscription and clears the stored handle.
// Tasks already queued for the address are not cancelled.
func (m *Monitor) Unsubscribe(ctx context.Context, handle int64) error {
	m.mu.Lock()
	sub, ok := m.byHandle[handle]
	if ok {
		delete(m.byHandle, handle)
		delete(m.byAddress, sub.address)
	}
	active := len(m.byHandle)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	m.metrics.SetActiveSubscriptions(active)

	sub.cancel()
	uerr := m.ledger.UnsubscribeLogs(ctx, handle)
	<-sub.done

	if err := m.monitored.ClearHandle(ctx, sub.address); err != nil {
		return fmt.Errorf("clear handle for %s: %w", sub.address, err)
	}
	if uerr != nil {
		// The local subscription is gone either way.
		m.log.WithError(uerr).WithField("handle", handle).Warn("ledger unsubscribe failed")
	}

	m.log.WithFields(logrus.Fields{"wallet": sub.address, "handle": handle}).Info("unsubscribed")
	return nil
}

// ResubscribeAll re-opens a subscription for every address the store lists as
// active and persists the new handles. Failures for individual addresses are
// logged and skipped. Returns the number of addresses subscribed.
func (m *Monitor) ResubscribeAll(ctx context.Context) (int, error) {
	active, err := m.monitored.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active addresses: %w", err)
	}

	n := 0
	for _, addr := range active {
		if _, err := m.Subscribe(ctx, addr.Address); err != nil {
			m.log.WithError(err).WithField("wallet", addr.Address).Error("resubscribe failed")
			continue
		}
		n++
	}

	m.log.WithFields(logrus.Fields{"active": len(active), "subscribed": n}).Info("resubscribed")
	return n, nil
}

// Active returns the number of live subscriptions.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHandle)
}

// Close stops every subscription goroutine. Stored handles are kept so
// ResubscribeAll can restore them on the next start.
func (m *Monitor) Close() {
	m.cancel()

	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.byHandle))
	for _, sub := range m.byHandle {
		subs = append(subs, sub)
	}
	m.byHandle = make(map[int64]*subscription)
	m.byAddress = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
	m.metrics.SetActiveSubscriptions(0)
}

func (m *Monitor) consume(ctx context.Context, sub *subscription, ch <-chan solana.LogNotification) {
	defer close(sub.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				m.log.WithField("wallet", sub.address).Warn("notification channel closed")
				return
			}
			if err := m.handleNotification(ctx, sub.address, n); err != nil && ctx.Err() == nil {
				m.log.WithError(err).WithFields(logrus.Fields{
					"wallet":    sub.address,
					"signature": n.Signature,
				}).Error("notification processing failed")
			}
		}
	}
}

// handleNotification updates holdings for address from one transaction and
// emits an event for every mint whose balance changed.
func (m *Monitor) handleNotification(ctx context.Context, address string, n solana.LogNotification) error {
	m.metrics.RecordNotification()
	if n.Err != nil {
		return nil
	}

	tx, err := m.fetchTransaction(ctx, n.Signature)
	if err != nil {
		return err
	}
	if tx.Failed() {
		return nil
	}

	now := time.Now().UnixMilli()
	var errs []error
	for _, c := range BalanceChanges(tx, address) {
		if err := m.applyChange(ctx, address, c, now); err != nil {
			errs = append(errs, fmt.Errorf("mint %s: %w", c.Mint, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) applyChange(ctx context.Context, address string, c Change, now int64) error {
	err := m.holdings.Upsert(ctx, &domain.TokenHolding{
		WalletAddress: address,
		TokenMint:     c.Mint,
		Amount:        c.Post,
		UpdatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}

	ev, changed := reconciler.NewEvent(address, c.Mint, c.Pre, c.Post)
	if !changed {
		return nil
	}

	target := domain.NewMiningTarget(idhash.ComputeTargetID(domain.KindToken, c.Mint), c.Mint, domain.KindToken, now)
	created, err := m.targets.CreateIfAbsent(ctx, target)
	if err != nil {
		return fmt.Errorf("ensure token target: %w", err)
	}
	if created {
		m.log.WithField("mint", c.Mint).Info("new token target")
	}

	m.metrics.RecordDelta()
	m.log.WithFields(logrus.Fields{
		"wallet": address,
		"mint":   c.Mint,
		"pre":    c.Pre,
		"post":   c.Post,
	}).Debug("balance changed")
	return m.sink.Handle(ctx, ev)
}

// fetchTransaction retries until the node has the transaction or attempts run out.
func (m *Monitor) fetchTransaction(ctx context.Context, sig string) (*solana.Transaction, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.fetchBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.fetchAttempts-1)), ctx)

	var tx *solana.Transaction
	err := backoff.RetryNotify(func() error {
		var err error
		tx, err = m.ledger.GetParsedTransaction(ctx, sig)
		return err
	}, policy, func(err error, wait time.Duration) {
		m.log.WithError(err).WithFields(logrus.Fields{
			"signature": sig,
			"retry_in":  wait.String(),
		}).Debug("transaction fetch retry")
	})
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", sig, err)
	}
	return tx, nil
}

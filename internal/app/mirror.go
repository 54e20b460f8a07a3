package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/config"
	"solana-twin-mirror/internal/control"
	"solana-twin-mirror/internal/handlers"
	"solana-twin-mirror/internal/ledger"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/monitor"
	"solana-twin-mirror/internal/observability"
	"solana-twin-mirror/internal/reconciler"
	"solana-twin-mirror/internal/taskqueue"
)

// Mirror is the assembled pipeline: monitor, reconciler, queue and handlers,
// plus the control service that drives them.
type Mirror struct {
	queue    *taskqueue.Queue
	handlers *handlers.Handlers
	monitor  *monitor.Monitor
	control  *control.Service
	log      *logrus.Entry
}

// NewMirror wires the pipeline on top of stores and l.
func NewMirror(cfg *config.Config, stores *Stores, l ledger.Client, metrics *observability.Metrics, log logrus.FieldLogger) *Mirror {
	queue := taskqueue.New(taskqueue.Options{
		Policy:  QueuePolicy(cfg.Queue),
		Journal: stores.Journal,
		Metrics: metrics,
		Logger:  log,
	})

	h := handlers.New(handlers.Options{
		Ledger:             l,
		Targets:            stores.Targets,
		Holdings:           stores.Holdings,
		Recovery:           stores.Recovery,
		Metadata:           stores.Metadata,
		Queue:              queue,
		Logger:             log,
		DeployStallWarning: cfg.Queue.DeployStallWarning,
		RentReserve:        cfg.Recover.RentReserve,
	})
	h.Register(queue)

	rec := reconciler.New(reconciler.Options{
		Targets:   stores.Targets,
		Queue:     queue,
		Custodian: l.Custodian(),
		Metrics:   metrics,
		Logger:    log,
	})

	mon := monitor.New(monitor.Options{
		Ledger:    l,
		Monitored: stores.Monitored,
		Targets:   stores.Targets,
		Holdings:  stores.Holdings,
		Sink:      rec,
		Metrics:   metrics,
		Logger:    log,
	})

	ctl := control.New(control.Options{
		Monitor:   mon,
		Monitored: stores.Monitored,
		Targets:   stores.Targets,
		Recovery:  stores.Recovery,
		Queue:     queue,
		Metrics:   metrics,
		Logger:    log,
	})

	return &Mirror{
		queue:    queue,
		handlers: h,
		monitor:  mon,
		control:  ctl,
		log:      logging.Component(log, "mirror"),
	}
}

// QueuePolicy converts the queue config into a retry policy.
func QueuePolicy(cfg config.QueueConfig) taskqueue.Policy {
	p := taskqueue.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		p.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.AttemptTimeout > 0 {
		p.AttemptTimeout = cfg.AttemptTimeout
	}
	return p
}

// Control returns the service the inbound surface calls.
func (m *Mirror) Control() *control.Service { return m.control }

// Queue returns the task queue.
func (m *Mirror) Queue() *taskqueue.Queue { return m.queue }

// Monitor returns the activity monitor.
func (m *Mirror) Monitor() *monitor.Monitor { return m.monitor }

// Run restores the stored subscriptions and consumes tasks until ctx is done.
// Everything is shut down before Run returns.
func (m *Mirror) Run(ctx context.Context) error {
	defer m.close()

	n, err := m.monitor.ResubscribeAll(ctx)
	if err != nil {
		m.log.WithError(err).Error("resubscribe failed")
	}
	m.log.WithField("subscriptions", n).Info("mirror started")

	return m.queue.Run(ctx)
}

func (m *Mirror) close() {
	m.monitor.Close()
	m.handlers.Close()
	m.queue.Close()
	m.log.WithField("pending", m.queue.Len()).Info("mirror stopped")
}

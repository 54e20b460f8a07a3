// Package taskqueue runs tasks one at a time in dispatch order with bounded retries.
//
// Dispatch hands a task to a pump goroutine over a channel; the pump keeps
// an unbounded FIFO and feeds the single consumer started by Run. Handlers
// may dispatch follow-on tasks while they execute.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/observability"
	"solana-twin-mirror/internal/storage"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("task queue closed")

// ErrNoHandler is returned when a task kind has no registered handler.
var ErrNoHandler = errors.New("no handler registered")

// Handler executes one attempt of a task.
type Handler func(ctx context.Context, task domain.Task) error

// CompletionHook observes the terminal outcome of every task.
type CompletionHook func(task domain.Task, err error)

// Options contains configuration for creating a Queue.
type Options struct {
	Policy  Policy
	Journal storage.TaskJournal    // optional
	Metrics *observability.Metrics // optional
	Logger  logrus.FieldLogger
	// InboxSize buffers Dispatch while the pump journals a task.
	InboxSize int
}

// Queue is a single-consumer task queue.
type Queue struct {
	policy  Policy
	journal storage.TaskJournal
	metrics *observability.Metrics
	log     *logrus.Entry

	handlers map[domain.TaskKind]Handler

	hooksMu sync.RWMutex
	hooks   []CompletionHook

	inbox   chan domain.Task
	ready   chan domain.Task
	done    chan struct{}
	closeMu sync.Once
	pending atomic.Int64
	running atomic.Bool
}

// New creates a queue and starts its pump. Call Close to stop it.
func New(opts Options) *Queue {
	inboxSize := opts.InboxSize
	if inboxSize <= 0 {
		inboxSize = 256
	}

	q := &Queue{
		policy:   opts.Policy.withDefaults(),
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		log:      logging.Component(opts.Logger, "task-queue"),
		handlers: make(map[domain.TaskKind]Handler),
		inbox:    make(chan domain.Task, inboxSize),
		ready:    make(chan domain.Task),
		done:     make(chan struct{}),
	}
	go q.pump()
	return q
}

// Register sets the handler for a task kind. Must be called before Run.
func (q *Queue) Register(kind domain.TaskKind, h Handler) {
	q.handlers[kind] = h
}

// OnComplete registers a hook called after every task reaches a terminal outcome.
func (q *Queue) OnComplete(h CompletionHook) {
	q.hooksMu.Lock()
	defer q.hooksMu.Unlock()
	q.hooks = append(q.hooks, h)
}

// Dispatch enqueues a task. It does not wait for the consumer.
func (q *Queue) Dispatch(task domain.Task) error {
	if task == nil {
		return fmt.Errorf("dispatch nil task")
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	q.pending.Add(1)
	select {
	case q.inbox <- task:
		return nil
	case <-q.done:
		q.pending.Add(-1)
		return ErrClosed
	}
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	return int(q.pending.Load())
}

// Run consumes tasks until ctx is cancelled. Only one Run may be active.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return fmt.Errorf("task queue already running")
	}
	defer q.running.Store(false)

	q.log.Info("task queue started")
	for {
		select {
		case <-ctx.Done():
			q.log.WithField("pending", q.Len()).Info("task queue stopped")
			return nil
		case <-q.done:
			return nil
		case task := <-q.ready:
			q.pending.Add(-1)
			q.metrics.SetQueueDepth(q.Len())
			q.execute(ctx, task)
		}
	}
}

// Close stops the pump. Pending tasks are dropped.
func (q *Queue) Close() {
	q.closeMu.Do(func() {
		close(q.done)
	})
}

// pump moves tasks from the inbox into an unbounded FIFO and hands the head
// to the consumer whenever it is ready.
func (q *Queue) pump() {
	var fifo []domain.Task
	for {
		var out chan domain.Task
		var head domain.Task
		if len(fifo) > 0 {
			out = q.ready
			head = fifo[0]
		}

		select {
		case <-q.done:
			return
		case task := <-q.inbox:
			fifo = append(fifo, task)
			q.metrics.RecordDispatch(task.Kind().String(), q.Len())
			q.record(task, domain.PhaseDispatched, 0, describe(task))
			q.log.WithFields(taskFields(task)).Debug("task dispatched")
		case out <- head:
			fifo[0] = nil
			fifo = fifo[1:]
		}
	}
}

func (q *Queue) execute(ctx context.Context, task domain.Task) {
	start := time.Now()
	log := q.log.WithFields(taskFields(task))

	handler, ok := q.handlers[task.Kind()]
	if !ok {
		err := fmt.Errorf("%w for %s", ErrNoHandler, task.Kind())
		q.finish(task, err, 0, start)
		return
	}

	attempt := 0
	op := func() error {
		attempt++
		q.metrics.RecordAttempt(task.Kind().String())

		err := q.attempt(ctx, handler, task)
		if err == nil {
			return nil
		}
		if Classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		q.record(task, domain.PhaseAttemptFailed, attempt, err.Error())
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": wait.String(),
		}).Warn("task attempt failed")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(q.policy.newBackOff(), ctx), notify)
	q.finish(task, err, attempt, start)
}

// attempt runs one handler call under the per-attempt timeout. Panics become errors.
func (q *Queue) attempt(ctx context.Context, handler Handler, task domain.Task) (err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, q.policy.AttemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(attemptCtx, task)
}

func (q *Queue) finish(task domain.Task, err error, attempts int, start time.Time) {
	elapsed := time.Since(start)
	q.metrics.RecordCompletion(task.Kind().String(), err, elapsed)

	log := q.log.WithFields(taskFields(task)).WithFields(logrus.Fields{
		"attempts": attempts,
		"elapsed":  elapsed.String(),
	})
	if err != nil {
		q.record(task, domain.PhaseFailed, attempts, err.Error())
		log.WithError(err).WithField("fatal", Classify(err)).Error("task failed")
	} else {
		q.record(task, domain.PhaseSucceeded, attempts, "")
		log.Info("task succeeded")
	}

	q.hooksMu.RLock()
	hooks := append([]CompletionHook(nil), q.hooks...)
	q.hooksMu.RUnlock()
	for _, h := range hooks {
		h(task, err)
	}
}

func (q *Queue) record(task domain.Task, phase domain.TaskPhase, attempt int, detail string) {
	if q.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.journal.Append(ctx, &domain.TaskEvent{
		TaskID:    task.ID(),
		Kind:      task.Kind(),
		Phase:     phase,
		Attempt:   attempt,
		Detail:    detail,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		q.log.WithError(err).WithFields(taskFields(task)).Warn("journal append failed")
	}
}

func taskFields(task domain.Task) logrus.Fields {
	return logrus.Fields{"task_id": task.ID(), "kind": task.Kind().String()}
}

func describe(task domain.Task) string {
	if s, ok := task.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%+v", task)
}

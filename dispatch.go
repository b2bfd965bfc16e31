package busz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// taskKind selects the fan-out rule a queued task uses at execution time.
type taskKind uint8

const (
	broadcastTask taskKind = iota // every active consumer, registration order
	directTask                    // first active consumer only
	requestTask                   // first active consumer, reply expected
)

// task is one deferred delivery.
//
// The task carries only the event name and payload, not the consumer
// list: which consumers run is decided when the task executes, so a
// registration change between enqueue and execution is honored. For
// Send/Request in particular, "first" means first active at dispatch
// time, not first ever registered.
type task[T any] struct {
	kind  taskKind
	ctx   context.Context
	event Key
	data  T

	// reply receives the selected consumer's outcome for requestTask.
	// It is buffered with capacity 1 so the dispatcher never blocks on
	// a caller that has already given up waiting; an abandoned reply
	// simply sits in the buffer and is discarded.
	reply chan reply
}

// reply is the outcome of a request dispatch.
type reply struct {
	value any
	err   error
}

// dispatcher executes deferred deliveries for a bus.
//
// A single goroutine drains the task queue. That gives the bus its
// cooperative scheduling contract:
//   - Publish/Send return before any handler runs
//   - consumers of one broadcast run sequentially in registration order
//   - no two handlers ever run in parallel
type dispatcher[T any] struct {
	// Channel for receiving delivery tasks
	tasks chan task[T]

	reg    *registry[T]
	logger *zap.Logger
	debug  bool

	// WaitGroup tracks the dispatch goroutine for graceful shutdown
	wg sync.WaitGroup

	mu sync.RWMutex

	// Tracks if the dispatcher has been closed
	closed bool

	// Metrics pointer for atomic updates
	metrics *Metrics
}

// newDispatcher creates a dispatcher and starts its goroutine. The
// queueSize parameter sets the buffering capacity for bursty callers.
func newDispatcher[T any](reg *registry[T], cfg config, metrics *Metrics) *dispatcher[T] {
	d := &dispatcher[T]{
		tasks:   make(chan task[T], cfg.queueSize),
		reg:     reg,
		logger:  cfg.logger,
		debug:   cfg.debugLogging,
		metrics: metrics,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// submit queues a delivery for execution.
//
// Returns ErrQueueFull if the queue cannot accept more tasks; the
// delivery is rejected and no handler runs for it. Returns ErrBusClosed
// after close.
func (d *dispatcher[T]) submit(t task[T]) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrBusClosed
	}

	// Channel send must stay under the read lock to prevent a race with
	// close(): without it the channel could be closed between the check
	// above and the send below.
	select {
	case d.tasks <- t:
		atomic.AddInt64(&d.metrics.QueueDepth, 1)
		return nil
	default:
		atomic.AddInt64(&d.metrics.Rejected, 1)
		return ErrQueueFull
	}
}

// close shuts the dispatcher down gracefully: no new submissions are
// accepted, queued tasks are drained, and close returns once the
// dispatch goroutine has exited.
func (d *dispatcher[T]) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	close(d.tasks)
	d.wg.Wait()
}

// run is the dispatch loop. It processes tasks until the queue is
// closed during shutdown.
func (d *dispatcher[T]) run() {
	defer d.wg.Done()

	for t := range d.tasks {
		atomic.AddInt64(&d.metrics.QueueDepth, -1)

		switch t.kind {
		case broadcastTask:
			d.broadcast(t)
		case directTask:
			d.direct(t)
		case requestTask:
			d.request(t)
		}
	}
}

// broadcast delivers to every active consumer of the event, in
// registration order. Failures are isolated per consumer: a handler
// that errors or panics is logged and counted, and the remaining
// consumers are still invoked.
func (d *dispatcher[T]) broadcast(t task[T]) {
	for _, rec := range d.reg.snapshot(t.event) {
		if !rec.active.Load() {
			continue
		}
		if _, err := d.invoke(rec, t.ctx, t.data); err != nil {
			d.fault(rec, err)
			continue
		}
		atomic.AddInt64(&d.metrics.Delivered, 1)
		if d.debug {
			d.logger.Debug("delivered broadcast",
				zap.String("event", t.event),
				zap.String("consumer", rec.id))
		}
	}
}

// direct delivers to the first active consumer of the event, if any.
// The outcome is discarded; failures are logged and swallowed exactly
// like broadcast failures. No active consumers is a legal no-op.
func (d *dispatcher[T]) direct(t task[T]) {
	rec := d.firstActive(t.event)
	if rec == nil {
		return
	}
	if _, err := d.invoke(rec, t.ctx, t.data); err != nil {
		d.fault(rec, err)
		return
	}
	atomic.AddInt64(&d.metrics.Delivered, 1)
	if d.debug {
		d.logger.Debug("delivered send",
			zap.String("event", t.event),
			zap.String("consumer", rec.id))
	}
}

// request delivers to the first active consumer and forwards the
// outcome to the waiting caller. Handler failure is the one case where
// a consumer's error leaves the bus: it is wrapped in a *ConsumerError
// and sent back instead of being swallowed.
func (d *dispatcher[T]) request(t task[T]) {
	rec := d.firstActive(t.event)
	if rec == nil {
		// The consumer present at call time is gone; the caller gets the
		// same answer as if it had never existed.
		t.reply <- reply{err: ErrNoConsumer}
		return
	}

	value, err := d.invoke(rec, t.ctx, t.data)
	if err != nil {
		atomic.AddInt64(&d.metrics.Faults, 1)
		t.reply <- reply{err: &ConsumerError{Event: t.event, Err: err}}
		return
	}
	atomic.AddInt64(&d.metrics.Delivered, 1)
	t.reply <- reply{value: value}
}

// firstActive returns the active consumer with the lowest registration
// order for event, or nil. Selection filters the ordered snapshot
// rather than tracking a separate "head" pointer, so unregistrations
// fall through to the next consumer naturally.
func (d *dispatcher[T]) firstActive(event Key) *record[T] {
	for _, rec := range d.reg.snapshot(event) {
		if rec.active.Load() {
			return rec
		}
	}
	return nil
}

// invoke runs a single handler with panic recovery. This is the shared
// isolation primitive for all three delivery kinds; they differ only in
// whether the outcome is discarded or propagated.
func (d *dispatcher[T]) invoke(rec *record[T], ctx context.Context, data T) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panicked: %v", r)
		}
	}()

	value, err = rec.handler(ctx, data)
	return value, err
}

// fault records and logs a swallowed handler failure.
func (d *dispatcher[T]) fault(rec *record[T], err error) {
	atomic.AddInt64(&d.metrics.Faults, 1)
	d.logger.Warn("consumer handler fault",
		zap.String("event", rec.event),
		zap.String("consumer", rec.id),
		zap.String("owner", rec.owner),
		zap.Error(err))
}

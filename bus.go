package busz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Option configures a Bus during creation.
type Option func(*config)

// config holds internal configuration for bus creation.
type config struct {
	clock          clockz.Clock // Time abstraction for deterministic testing
	logger         *zap.Logger
	defaultTimeout time.Duration
	maxPerEvent    int
	queueSize      int
	debugLogging   bool
}

// WithDefaultTimeout sets the deadline Request applies when the caller
// does not specify one. Default is 5 seconds.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *config) {
		c.defaultTimeout = d
	}
}

// WithMaxConsumersPerEvent caps how many consumers a single event may
// hold. Registration beyond the cap fails with ErrCapacityExceeded;
// unregistering frees capacity immediately. Default is 0 (unlimited).
func WithMaxConsumersPerEvent(n int) Option {
	return func(c *config) {
		c.maxPerEvent = n
	}
}

// WithDebugLogging enables verbose registration and dispatch logs on
// the configured logger. Handler faults are logged regardless.
func WithDebugLogging() Option {
	return func(c *config) {
		c.debugLogging = true
	}
}

// WithLogger sets the logger used for fault and debug output.
// Default is zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithQueueSize sets the dispatch queue capacity. Deliveries submitted
// while the queue is full are rejected with ErrQueueFull.
// Default is 256.
func WithQueueSize(size int) Option {
	return func(c *config) {
		c.queueSize = size
	}
}

// WithClock sets the clock implementation for time operations.
// Default is clockz.RealClock for production use.
// Use clockz.FakeClock for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// DefaultRequestTimeout is applied by Request when neither the bus nor
// the call specifies a deadline.
const DefaultRequestTimeout = 5 * time.Second

const defaultQueueSize = 256

// Bus is the event bus implementation that manages consumers and
// deferred delivery.
//
// This struct provides:
//   - Consumer registration, ordering, and lifecycle
//   - Publish/Send/Request delivery against the registry
//   - Error isolation for fire-and-forget deliveries
//   - Component-scoped bulk cleanup
//   - Introspection snapshots for debugging
//
// Thread Safety:
// All methods are safe for concurrent use.
//
// Usage Pattern:
// Construct one Bus per coordination domain and pass it explicitly to
// the components that need it; avoid package-level singletons so tests
// can create isolated instances:
//
//	type LayoutCoordinator struct {
//	    bus *busz.Bus[LayoutEvent] // injected, not global
//	}
type Bus[T any] struct {
	clock       clockz.Clock // Time abstraction injected at creation
	logger      *zap.Logger
	reg         *registry[T]
	dispatch    *dispatcher[T]
	reqTimeout  time.Duration
	maxPerEvent int
	debug       bool

	mu     sync.RWMutex
	closed bool

	// Metrics field - zero initialization provides safe defaults
	metrics Metrics
}

// New creates a bus with the specified options.
//
// Default configuration:
//   - 5 second request timeout
//   - Unlimited consumers per event
//   - 256-slot dispatch queue
//   - No-op logger, debug logging off
//
// Example:
//
//	// Default configuration
//	bus := busz.New[LayoutEvent]()
//
//	// Custom configuration
//	bus := busz.New[LayoutEvent](
//	    busz.WithDefaultTimeout(2*time.Second),
//	    busz.WithMaxConsumersPerEvent(16),
//	    busz.WithLogger(logger),
//	)
//	defer bus.Close()
func New[T any](opts ...Option) *Bus[T] {
	cfg := config{
		clock:          clockz.RealClock,
		logger:         zap.NewNop(),
		defaultTimeout: DefaultRequestTimeout,
		maxPerEvent:    0, // unlimited
		queueSize:      defaultQueueSize,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus[T]{
		clock:       cfg.clock,
		logger:      cfg.logger,
		reg:         newRegistry[T](),
		reqTimeout:  cfg.defaultTimeout,
		maxPerEvent: cfg.maxPerEvent,
		debug:       cfg.debugLogging,
	}
	b.metrics.QueueCapacity = int64(cfg.queueSize)
	b.dispatch = newDispatcher(b.reg, cfg, &b.metrics)
	return b
}

// ConsumeOption configures a single registration.
type ConsumeOption func(*consumeConfig)

type consumeConfig struct {
	owner string
}

// WithOwner tags the registration with an owning component id, enabling
// bulk cleanup via UnregisterOwner. The tag has no effect on delivery
// order.
func WithOwner(componentID string) ConsumeOption {
	return func(c *consumeConfig) {
		c.owner = componentID
	}
}

// Consume registers a handler for the specified event and returns its
// lifecycle handle. Consumers are invoked in registration order for
// broadcasts; the earliest active registration is the target of Send
// and Request.
//
// Returns:
//   - ErrInvalidEventName: event is empty
//   - ErrCapacityExceeded: the event is at its configured consumer cap
//   - ErrBusClosed: the bus has been closed
func (b *Bus[T]) Consume(event Key, handler Handler[T], opts ...ConsumeOption) (*Consumer, error) {
	if event == "" {
		return nil, ErrInvalidEventName
	}

	var cc consumeConfig
	for _, opt := range opts {
		opt(&cc)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBusClosed
	}
	rec, err := b.reg.add(event, handler, cc.owner, b.maxPerEvent)
	b.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if b.debug {
		b.logger.Debug("consumer registered",
			zap.String("event", event),
			zap.String("consumer", rec.id),
			zap.String("owner", cc.owner),
			zap.Uint64("order", rec.order))
	}

	return &Consumer{
		id:     rec.id,
		event:  event,
		owner:  cc.owner,
		active: &rec.active,
		remove: func() {
			if b.reg.remove(event, rec.id) && b.debug {
				b.logger.Debug("consumer unregistered",
					zap.String("event", event),
					zap.String("consumer", rec.id))
			}
		},
	}, nil
}

// Publish broadcasts data to every active consumer of the event, in
// registration order. Dispatch is deferred: Publish returns before any
// handler runs, so side effects are not visible immediately after the
// call.
//
// Handler failures never surface here; a consumer that errors or
// panics is logged and the remaining consumers are still invoked. The
// returned error reports only submission problems: ErrBusClosed or
// ErrQueueFull, in which case no handler runs for this call.
//
// An event with no active consumers is a legal no-op.
func (b *Bus[T]) Publish(ctx context.Context, event Key, data T) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if b.reg.count(event) == 0 {
		return nil
	}
	return b.dispatch.submit(task[T]{kind: broadcastTask, ctx: ctx, event: event, data: data})
}

// Send delivers data to the first active consumer of the event,
// deferred the same way as Publish. "First" is re-evaluated at dispatch
// time: if the earliest registration has been unregistered by then,
// delivery falls through to the next active consumer in order.
//
// An event with no active consumers is a legal no-op. The error
// contract matches Publish.
func (b *Bus[T]) Send(ctx context.Context, event Key, data T) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if b.reg.count(event) == 0 {
		return nil
	}
	return b.dispatch.submit(task[T]{kind: directTask, ctx: ctx, event: event, data: data})
}

// Request delivers data to the first active consumer of the event and
// waits for the handler's return value, applying the bus's default
// timeout. Exactly one handler is ever invoked per request.
//
// Dispatch is single-threaded: a handler must not issue a Request on
// the same bus, because the nested delivery cannot run until the
// handler returns and the call would wait out its full deadline.
//
// Returns:
//   - ErrNoConsumer: zero active consumers at call time (immediate)
//   - *ConsumerError: the handler errored or panicked; wraps the cause
//   - ErrRequestTimeout: no reply within the deadline
//   - ctx.Err(): the caller's context was canceled while waiting
func (b *Bus[T]) Request(ctx context.Context, event Key, data T) (any, error) {
	return b.RequestWithTimeout(ctx, event, data, b.reqTimeout)
}

// RequestWithTimeout is Request with a per-call deadline. A timeout of
// zero waits only on ctx.
//
// The deadline cancels only the caller's wait, not the handler: a slow
// handler keeps running and may complete its side effects after the
// caller has already received ErrRequestTimeout. Its late reply is
// discarded, never delivered.
func (b *Bus[T]) RequestWithTimeout(ctx context.Context, event Key, data T, timeout time.Duration) (any, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBusClosed
	}
	b.mu.RUnlock()

	// Reject before scheduling anything: a request against an event
	// nobody consumes must fail without waiting.
	if b.reg.count(event) == 0 {
		return nil, ErrNoConsumer
	}

	replyCh := make(chan reply, 1)
	t := task[T]{kind: requestTask, ctx: ctx, event: event, data: data, reply: replyCh}
	if err := b.dispatch.submit(t); err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = b.clock.After(timeout)
	}

	select {
	case r := <-replyCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.value, nil
	case <-deadline:
		atomic.AddInt64(&b.metrics.TimedOut, 1)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UnregisterOwner removes every active consumer tagged with the given
// component id, across all events, and returns how many were removed.
// Intended for component teardown, so a dismantled component leaves no
// dangling handlers behind.
func (b *Bus[T]) UnregisterOwner(componentID string) int {
	count := b.reg.removeOwner(componentID)
	if b.debug && count > 0 {
		b.logger.Debug("owner consumers unregistered",
			zap.String("owner", componentID),
			zap.Int("count", count))
	}
	return count
}

// Clear removes all consumers for the specified event and returns how
// many were removed.
func (b *Bus[T]) Clear(event Key) int {
	return b.reg.clear(event)
}

// ClearAll removes all consumers for all events and returns how many
// were removed.
func (b *Bus[T]) ClearAll() int {
	return b.reg.clearAll()
}

// HasConsumers reports whether the event has at least one active
// consumer.
func (b *Bus[T]) HasConsumers(event Key) bool {
	return b.reg.count(event) > 0
}

// ConsumerCount returns the number of active consumers for the event.
func (b *Bus[T]) ConsumerCount(event Key) int {
	return b.reg.count(event)
}

// EventNames returns the names of all events that currently have active
// consumers. Order is unspecified.
func (b *Bus[T]) EventNames() []Key {
	return b.reg.names()
}

// DebugInfo returns a point-in-time snapshot of the registry: how many
// events have consumers, the bus-wide active total, and per-event and
// per-component breakdowns. Unregistered consumers are excluded.
func (b *Bus[T]) DebugInfo() DebugInfo {
	events, components, total := b.reg.stats()
	return DebugInfo{
		EventCount:         len(events),
		TotalConsumers:     total,
		Events:             events,
		ComponentConsumers: components,
	}
}

// Metrics returns current bus metrics with thread-safe access.
// All counter values are read atomically.
func (b *Bus[T]) Metrics() Metrics {
	_, _, total := b.reg.stats()

	return Metrics{
		QueueDepth:      atomic.LoadInt64(&b.metrics.QueueDepth),
		QueueCapacity:   b.metrics.QueueCapacity,
		Delivered:       atomic.LoadInt64(&b.metrics.Delivered),
		Faults:          atomic.LoadInt64(&b.metrics.Faults),
		Rejected:        atomic.LoadInt64(&b.metrics.Rejected),
		TimedOut:        atomic.LoadInt64(&b.metrics.TimedOut),
		ActiveConsumers: int64(total),
	}
}

// Close shuts the bus down: new operations are rejected, queued
// deliveries are drained, and the registry is emptied. Returns
// ErrAlreadyClosed on a second call.
func (b *Bus[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrAlreadyClosed
	}
	b.closed = true
	b.mu.Unlock()

	// Drain queued deliveries before tearing the registry down so
	// already-accepted Publish/Send calls still run their handlers.
	b.dispatch.close()
	b.reg.clearAll()

	return nil
}

// Package busz provides an in-process event bus with deferred dispatch,
// point-to-point delivery, and request/reply semantics.
//
// The bus is a registry mapping event names to ordered consumer lists.
// Three delivery primitives cover the common coordination patterns:
//   - Publish: broadcast to every active consumer, fire-and-forget
//   - Send: deliver to the first active consumer, fire-and-forget
//   - Request: deliver to the first active consumer and wait for its reply
//
// Publish and Send are deferred: the caller returns before any handler
// runs, and handler failures are logged and isolated rather than surfaced.
// Request is the only primitive that propagates handler failure, as an
// error on the calling side.
//
// Basic Usage:
//
//	// Create a bus for layout events
//	bus := busz.New[LayoutChange]()
//
//	// Register a consumer
//	c, err := bus.Consume("layout.modeChanged", func(ctx context.Context, change LayoutChange) (any, error) {
//		applyMode(change.Mode)
//		return nil, nil
//	})
//	if err != nil {
//		return err
//	}
//
//	// Broadcast to every consumer
//	bus.Publish(ctx, "layout.modeChanged", LayoutChange{Mode: "compact"})
//
//	// Later, unregister the consumer
//	c.Unregister()
//
//	// Clean shutdown
//	defer bus.Close()
//
// Request/Reply:
//
//	// Ask the first consumer of an event for a value, with a deadline
//	svc, err := bus.Request(ctx, "services.lookup", query)
//	if errors.Is(err, busz.ErrRequestTimeout) {
//		// The handler may still be running; its late result is discarded.
//	}
//
// Component-Scoped Cleanup:
//
// Registrations can be tagged with an owning component so a component
// teardown removes every handler it left behind in one call:
//
//	bus.Consume("sidebar.toggled", onToggle, busz.WithOwner("sidebar"))
//	bus.Consume("layout.modeChanged", onMode, busz.WithOwner("sidebar"))
//	...
//	removed := bus.UnregisterOwner("sidebar") // 2
//
// Delivery Ordering:
//
// Consumers of a single Publish run in registration order. Because
// dispatch is deferred, no ordering is promised between two separate
// Publish calls and other deferred work scheduled in between; only the
// ordering among consumers of the same call is guaranteed.
package busz

import "context"

// Key represents an event identifier used in consumer registration and
// delivery. It is a type alias for string; namespaced constants are a
// caller convention, not enforced structure.
//
// Basic Usage with constants (recommended):
//
//	const (
//		LayoutModeChanged Key = "layout.modeChanged"
//		SidebarToggled    Key = "sidebar.toggled"
//	)
//
//	bus.Consume(LayoutModeChanged, onModeChanged)
//	bus.Publish(ctx, LayoutModeChanged, change)
type Key = string

// Handler is a consumer callback. The returned value is only meaningful
// for Request deliveries, where it becomes the caller's reply; Publish
// and Send discard it. Returning a non-nil error (or panicking) marks
// the invocation as failed: Request surfaces the failure to the caller
// wrapped in a *ConsumerError, Publish and Send log it and move on.
type Handler[T any] func(ctx context.Context, data T) (any, error)

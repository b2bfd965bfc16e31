package busz

import "sync/atomic"

// Consumer is a handle to a registered callback. It reports the
// registration's identity and lifecycle state and provides the only way
// to unregister the callback individually.
//
// Consumer handles are returned by Consume and should be stored if the
// callback needs to be unregistered later. Handles tagged with an owner
// can alternatively be cleaned up in bulk via Bus.UnregisterOwner.
//
// Thread Safety:
// All methods are safe for concurrent use. Unregister is idempotent:
// the first call deactivates the registration, every later call is a
// no-op.
//
// Example:
//
//	c, err := bus.Consume("sidebar.toggled", onToggle)
//	if err != nil {
//	    return err
//	}
//
//	// Later, when the handler is no longer wanted
//	c.Unregister()
type Consumer struct {
	id     string
	event  Key
	owner  string
	active *atomic.Bool
	remove func()
}

// Unregister deactivates this consumer. After it returns, the consumer
// is never invoked again and no longer counts toward HasConsumers,
// ConsumerCount, or the per-event capacity limit.
//
// The transition is one-way: an unregistered consumer cannot be
// reactivated. Calling Unregister more than once is safe and does
// nothing after the first call.
func (c *Consumer) Unregister() {
	if c.remove != nil {
		c.remove()
	}
}

// IsActive reports whether this consumer is still registered and
// eligible for delivery.
func (c *Consumer) IsActive() bool {
	return c.active != nil && c.active.Load()
}

// EventName returns the event this consumer was registered under. It is
// fixed at registration time.
func (c *Consumer) EventName() Key {
	return c.event
}

// Owner returns the owning component tag supplied via WithOwner, or the
// empty string for untagged registrations.
func (c *Consumer) Owner() string {
	return c.owner
}

// ID returns the unique identifier of this registration.
func (c *Consumer) ID() string {
	return c.id
}

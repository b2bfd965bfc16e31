package busz

import (
	"errors"
	"fmt"
)

// Registration Errors
//
// These errors are returned synchronously from Consume. They indicate
// caller bugs or configured limits, never transient conditions.

// ErrInvalidEventName is returned when registering a consumer with an
// empty event name. Event names are free-form non-empty strings.
var ErrInvalidEventName = errors.New("event name must be a non-empty string")

// ErrCapacityExceeded is returned when registering a consumer would
// exceed the configured per-event limit (WithMaxConsumersPerEvent).
// Unregistering a consumer frees capacity immediately.
var ErrCapacityExceeded = errors.New("consumer limit exceeded for event")

// Bus Lifecycle Errors
//
// These errors are returned based on the bus's lifecycle state.

// ErrBusClosed is returned when attempting to use a bus that has been
// closed via Close(). All operations on a closed bus return this error.
var ErrBusClosed = errors.New("bus is closed")

// ErrAlreadyClosed is returned when calling Close() on a bus that has
// already been closed. This prevents double-cleanup.
var ErrAlreadyClosed = errors.New("bus already closed")

// Dispatch Errors

// ErrQueueFull is returned by Publish and Send when the dispatch queue
// cannot accept more work. The delivery is rejected and no handler runs
// for that call.
var ErrQueueFull = errors.New("dispatch queue is full")

// Request Errors
//
// These errors are returned from Request and RequestWithTimeout.

// ErrNoConsumer is returned immediately when a request targets an event
// with zero active consumers. An event whose consumers have all been
// unregistered behaves identically to one that never had any.
var ErrNoConsumer = errors.New("no active consumer for event")

// ErrRequestTimeout is returned when the selected consumer produced no
// reply within the deadline. The timeout releases only the caller's
// wait: the handler may still be running and may still complete its own
// side effects, but a reply arriving after the deadline is discarded.
var ErrRequestTimeout = errors.New("request timed out")

// ConsumerError wraps a failure from the consumer selected by a request,
// either a returned error or a recovered panic. The original cause is
// available via Unwrap for errors.Is / errors.As matching.
type ConsumerError struct {
	// Event is the event name the failing consumer was registered under.
	Event Key

	// Err is the handler's returned error, or a synthesized error
	// describing the recovered panic value.
	Err error
}

// Error implements the error interface.
func (e *ConsumerError) Error() string {
	return fmt.Sprintf("consumer for %q failed: %v", e.Event, e.Err)
}

// Unwrap returns the underlying handler failure.
func (e *ConsumerError) Unwrap() error {
	return e.Err
}

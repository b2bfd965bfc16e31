package busz

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidEventName,
		ErrCapacityExceeded,
		ErrBusClosed,
		ErrAlreadyClosed,
		ErrQueueFull,
		ErrNoConsumer,
		ErrRequestTimeout,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("Sentinel %v should not match %v", a, b)
			}
		}
	}
}

func TestConsumerErrorWrapsCause(t *testing.T) {
	cause := errors.New("backend unavailable")
	err := &ConsumerError{Event: "services.lookup", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through ConsumerError")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the original cause")
	}

	var ce *ConsumerError
	if !errors.As(error(err), &ce) {
		t.Error("errors.As should match *ConsumerError")
	}
	if ce.Event != "services.lookup" {
		t.Errorf("Expected event 'services.lookup', got %q", ce.Event)
	}
}

func TestConsumerErrorMessage(t *testing.T) {
	err := &ConsumerError{Event: "x", Err: errors.New("boom")}
	expected := `consumer for "x" failed: boom`
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	// Works with fmt wrapping as well
	wrapped := fmt.Errorf("request failed: %w", err)
	var ce *ConsumerError
	if !errors.As(wrapped, &ce) {
		t.Error("errors.As should match through fmt wrapping")
	}
}

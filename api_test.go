package busz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBasicConsumeAndPublish(t *testing.T) {
	bus := New[string]()
	defer bus.Close()

	done := make(chan struct{})
	var received string

	c, err := bus.Consume("test.event", func(ctx context.Context, data string) (any, error) {
		received = data
		close(done)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Failed to register consumer: %v", err)
	}
	defer c.Unregister()

	if err := bus.Publish(context.Background(), "test.event", "test-data"); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	select {
	case <-done:
		if received != "test-data" {
			t.Errorf("Expected 'test-data', got '%s'", received)
		}
	case <-time.After(time.Second):
		t.Fatal("Consumer was not called within timeout")
	}
}

func TestPublishInvokesAllConsumers(t *testing.T) {
	bus := New[int]()
	defer bus.Close()

	var count int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		c, err := bus.Consume("multi.event", func(ctx context.Context, data int) (any, error) {
			if data != 42 {
				t.Errorf("Expected data 42, got %d", data)
			}
			atomic.AddInt32(&count, 1)
			wg.Done()
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Failed to register consumer %d: %v", i, err)
		}
		defer c.Unregister()
	}

	if err := bus.Publish(context.Background(), "multi.event", 42); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if c := atomic.LoadInt32(&count); c != 3 {
			t.Errorf("Expected 3 consumers to be called, got %d", c)
		}
	case <-time.After(time.Second):
		t.Fatal("Not all consumers were called within timeout")
	}
}

func TestPublishWithNoConsumers(t *testing.T) {
	bus := New[string]()
	defer bus.Close()

	// Should not error when publishing to an event with no consumers
	if err := bus.Publish(context.Background(), "no.consumers", "data"); err != nil {
		t.Errorf("Publish with no consumers should not error: %v", err)
	}
}

func TestPublishReturnsBeforeHandlerRuns(t *testing.T) {
	bus := New[string]()
	defer bus.Close()

	release := make(chan struct{})
	done := make(chan struct{})

	c, err := bus.Consume("deferred.event", func(ctx context.Context, data string) (any, error) {
		// Block until the publisher has already returned. If Publish
		// were synchronous this would deadlock the test.
		<-release
		close(done)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Failed to register consumer: %v", err)
	}
	defer c.Unregister()

	if err := bus.Publish(context.Background(), "deferred.event", "data"); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	// Publish returned while the handler is still blocked
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consumer did not run after release")
	}
}

func TestPublishRegistrationOrder(t *testing.T) {
	bus := New[string]()
	defer bus.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		_, err := bus.Consume("ordered.event", func(ctx context.Context, data string) (any, error) {
			mu.Lock()
			order = append(order, i)
			if len(order) == 5 {
				close(done)
			}
			mu.Unlock()
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Failed to register consumer %d: %v", i, err)
		}
	}

	if err := bus.Publish(context.Background(), "ordered.event", "data"); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Not all consumers were called within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("Expected registration order %v, got %v", []int{0, 1, 2, 3, 4}, order)
		}
	}
}

func TestPublishIsolatesFaults(t *testing.T) {
	bus := New[string]()
	defer bus.Close()

	var called int32
	done := make(chan struct{})

	if _, err := bus.Consume("faulty.event", func(ctx context.Context, data string) (any, error) {
		atomic.AddInt32(&called, 1)
		return nil, context.DeadlineExceeded // arbitrary failure
	}); err != nil {
		t.Fatalf("Failed to register erroring consumer: %v", err)
	}

	if _, err := bus.Consume("faulty.event", func(ctx context.Context, data string) (any, error) {
		atomic.AddInt32(&called, 1)
		panic("handler exploded")
	}); err != nil {
		t.Fatalf("Failed to register panicking consumer: %v", err)
	}

	if _, err := bus.Consume("faulty.event", func(ctx context.Context, data string) (any, error) {
		atomic.AddInt32(&called, 1)
		close(done)
		return nil, nil
	}); err != nil {
		t.Fatalf("Failed to register healthy consumer: %v", err)
	}

	if err := bus.Publish(context.Background(), "faulty.event", "data"); err != nil {
		t.Fatalf("Publish should not surface handler failures: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consumer after the faulty ones was not called")
	}

	if c := atomic.LoadInt32(&called); c != 3 {
		t.Errorf("Expected all 3 consumers to be called, got %d", c)
	}

	m := bus.Metrics()
	if m.Faults != 2 {
		t.Errorf("Expected 2 recorded faults, got %d", m.Faults)
	}
}

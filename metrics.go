package busz

// Metrics provides observability counters for bus monitoring.
// All counter fields use atomic operations for thread safety.
// Capacity fields are static and don't require atomics.
type Metrics struct {
	// Dispatch Queue Metrics
	QueueDepth    int64 // Current tasks waiting for dispatch (atomic)
	QueueCapacity int64 // Dispatch queue capacity (static)

	// Throughput Counters (atomic operations required)
	Delivered int64 // Handler invocations that completed successfully
	Faults    int64 // Handler invocations that errored or panicked
	Rejected  int64 // Deliveries rejected due to a full queue
	TimedOut  int64 // Requests abandoned by their caller at the deadline

	// Registration Metrics
	ActiveConsumers int64 // Currently registered consumers (requires mutex read)
}

// DebugInfo is a point-in-time snapshot of the registry, grouped by
// event and by owning component. Only active consumers are counted;
// unregistered consumers disappear from the snapshot immediately.
type DebugInfo struct {
	// EventCount is the number of events with at least one consumer.
	EventCount int

	// TotalConsumers is the number of active registrations bus-wide.
	TotalConsumers int

	// Events lists per-event consumer counts, sorted by event name.
	Events []EventConsumers

	// ComponentConsumers lists per-owner consumer counts for tagged
	// registrations, sorted by component id. Untagged registrations
	// appear only in the event breakdown.
	ComponentConsumers []ComponentConsumers
}

// EventConsumers is one row of the per-event breakdown.
type EventConsumers struct {
	Name      Key
	Consumers int
}

// ComponentConsumers is one row of the per-owner breakdown.
type ComponentConsumers struct {
	Component string
	Consumers int
}

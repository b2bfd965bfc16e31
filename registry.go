package busz

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// record is a single consumer registration.
//
// The active flag is the one-way Active→Inactive lifecycle switch. It is
// flipped exactly once, under the registry lock, when the record is
// removed; dispatch snapshots re-check it before every invocation so a
// consumer unregistered mid-flight is never invoked.
type record[T any] struct {
	id      string
	event   Key
	handler Handler[T]
	owner   string
	order   uint64 // global registration sequence; fixes "first" for Send/Request
	active  atomic.Bool
}

// registry is the bus's core data structure: per-event consumer lists
// ordered by registration, plus an owner index for bulk cleanup.
//
// All mutation happens under mu. Dispatch works on snapshots of the
// per-event slices, never on the live slices, so a handler unregistering
// itself or a sibling mid-dispatch cannot corrupt the iteration.
type registry[T any] struct {
	mu        sync.RWMutex
	events    map[Key][]*record[T]
	owners    map[string]map[string]*record[T]
	nextOrder uint64
	total     int
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{
		events: make(map[Key][]*record[T]),
		owners: make(map[string]map[string]*record[T]),
	}
}

// add appends a new active record for event, assigning the next
// registration order. maxPerEvent is enforced here; 0 means unlimited.
func (r *registry[T]) add(event Key, handler Handler[T], owner string, maxPerEvent int) (*record[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if maxPerEvent > 0 && len(r.events[event]) >= maxPerEvent {
		return nil, ErrCapacityExceeded
	}

	r.nextOrder++
	rec := &record[T]{
		id:      uuid.NewString(),
		event:   event,
		handler: handler,
		owner:   owner,
		order:   r.nextOrder,
	}
	rec.active.Store(true)

	r.events[event] = append(r.events[event], rec)
	if owner != "" {
		byID := r.owners[owner]
		if byID == nil {
			byID = make(map[string]*record[T])
			r.owners[owner] = byID
		}
		byID[rec.id] = rec
	}
	r.total++

	return rec, nil
}

// remove deactivates and drops a single record. Returns false if the
// record was already gone, which makes Unregister idempotent.
func (r *registry[T]) remove(event Key, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.events[event]
	for i, rec := range recs {
		if rec.id == id {
			r.drop(event, i, rec)
			return true
		}
	}
	return false
}

// removeOwner drops every record tagged with owner, across all events,
// and returns how many were removed.
func (r *registry[T]) removeOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.owners[owner]
	if len(byID) == 0 {
		return 0
	}

	count := 0
	for _, rec := range byID {
		recs := r.events[rec.event]
		for i, candidate := range recs {
			if candidate.id == rec.id {
				r.drop(rec.event, i, rec)
				count++
				break
			}
		}
	}
	return count
}

// clear drops every record for one event and returns the count removed.
func (r *registry[T]) clear(event Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.events[event]
	for _, rec := range recs {
		rec.active.Store(false)
		r.unindexOwner(rec)
	}
	delete(r.events, event)
	r.total -= len(recs)
	return len(recs)
}

// clearAll empties the registry and returns the count removed.
func (r *registry[T]) clearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.total
	for _, recs := range r.events {
		for _, rec := range recs {
			rec.active.Store(false)
		}
	}
	r.events = make(map[Key][]*record[T])
	r.owners = make(map[string]map[string]*record[T])
	r.total = 0
	return count
}

// drop removes recs[i] for event, deactivates it, and prunes empty
// entries. Caller must hold mu.
func (r *registry[T]) drop(event Key, i int, rec *record[T]) {
	rec.active.Store(false)
	recs := r.events[event]
	r.events[event] = append(recs[:i], recs[i+1:]...)
	if len(r.events[event]) == 0 {
		// An event with no consumers is indistinguishable from one that
		// never existed; keeping empty entries around would leak keys.
		delete(r.events, event)
	}
	r.unindexOwner(rec)
	r.total--
}

// unindexOwner removes rec from the owner index. Caller must hold mu.
func (r *registry[T]) unindexOwner(rec *record[T]) {
	if rec.owner == "" {
		return
	}
	byID := r.owners[rec.owner]
	delete(byID, rec.id)
	if len(byID) == 0 {
		delete(r.owners, rec.owner)
	}
}

// snapshot copies the current consumer list for event, in registration
// order. Dispatch iterates this copy, re-checking each record's active
// flag at invocation time.
func (r *registry[T]) snapshot(event Key) []*record[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.events[event]
	if len(recs) == 0 {
		return nil
	}
	out := make([]*record[T], len(recs))
	copy(out, recs)
	return out
}

// count returns the number of active consumers for event.
func (r *registry[T]) count(event Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events[event])
}

// names returns the event names that currently have consumers.
func (r *registry[T]) names() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Key, 0, len(r.events))
	for name := range r.events {
		out = append(out, name)
	}
	return out
}

// stats assembles the per-event and per-owner breakdowns for DebugInfo,
// sorted by name for stable output.
func (r *registry[T]) stats() (events []EventConsumers, components []ComponentConsumers, total int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events = make([]EventConsumers, 0, len(r.events))
	for name, recs := range r.events {
		events = append(events, EventConsumers{Name: name, Consumers: len(recs)})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Name < events[j].Name })

	components = make([]ComponentConsumers, 0, len(r.owners))
	for owner, byID := range r.owners {
		components = append(components, ComponentConsumers{Component: owner, Consumers: len(byID)})
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Component < components[j].Component })

	return events, components, r.total
}

package streaming

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry defines the concurrency-safe contract for the set of active streams.
//
// A stream id moves through reserved → committed → detached → released. While
// an id is reserved, committed or detached, no other start for it is accepted
// and the variant names it holds cannot be claimed by another stream.
type Registry interface {
	// Reserve claims id and the given variant names for a start in progress.
	Reserve(id StreamID, variants []string) error

	// Commit turns the reservation for rec.ID into an active record. Variant
	// names reserved but absent from rec.Variants are given back.
	Commit(rec *StreamRecord) error

	// Release drops a reservation (failed start, or end of a stop).
	Release(id StreamID)

	// Detach removes the active record and keeps its id and variant names
	// reserved until Release, so the stream can be stopped without racing a
	// new start.
	Detach(id StreamID) (*StreamRecord, error)

	// Get returns a copy of the active record.
	Get(id StreamID) (*StreamRecord, bool)

	// List returns copies of all active records ordered by id.
	List() []*StreamRecord

	// VariantOwner reports which stream currently holds a variant name.
	VariantOwner(name string) (StreamID, bool)

	// ActiveStreamCount returns the number of committed streams.
	// Used for metrics.
	ActiveStreamCount() int
}

var (
	// ErrStreamActive is returned when starting a stream id that is already
	// active or being started or stopped.
	ErrStreamActive = errors.New("stream is already active")

	// ErrStreamNotFound is returned for operations on an unknown stream id.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrTooManyStreams is returned when the concurrent stream limit is reached.
	ErrTooManyStreams = errors.New("too many concurrent streams")

	// ErrVariantInUse is returned when a variant name is already produced for
	// another stream. Variant names key the published files, so two streams
	// cannot share one.
	ErrVariantInUse = errors.New("variant is already produced by another stream")

	errNotReserved = errors.New("stream was not reserved")
)

// InMemoryRegistry is a concurrency-safe in-memory implementation of Registry.
// It uses a Store for records; by default that is an InMemoryStore.
type InMemoryRegistry struct {
	mu         sync.RWMutex
	store      Store
	pending    map[StreamID][]string
	owners     map[string]StreamID
	maxStreams int
}

// NewInMemoryRegistry constructs a registry with a default in-memory store.
// maxStreams <= 0 means no limit.
func NewInMemoryRegistry(maxStreams int) *InMemoryRegistry {
	return NewInMemoryRegistryWithStore(NewInMemoryStore(), maxStreams)
}

// NewInMemoryRegistryWithStore constructs a registry that uses the given Store.
func NewInMemoryRegistryWithStore(store Store, maxStreams int) *InMemoryRegistry {
	return &InMemoryRegistry{
		store:      store,
		pending:    make(map[StreamID][]string),
		owners:     make(map[string]StreamID),
		maxStreams: maxStreams,
	}
}

// Reserve implements Registry.Reserve.
func (r *InMemoryRegistry) Reserve(id StreamID, variants []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.store.GetStream(id); ok {
		return ErrStreamActive
	}
	if _, ok := r.pending[id]; ok {
		return ErrStreamActive
	}
	if r.maxStreams > 0 && len(r.store.ListStreamIDs())+len(r.pending) >= r.maxStreams {
		return fmt.Errorf("%w: limit is %d", ErrTooManyStreams, r.maxStreams)
	}
	for _, name := range variants {
		if owner, ok := r.owners[name]; ok && owner != id {
			return fmt.Errorf("%w: %s belongs to %s", ErrVariantInUse, name, owner)
		}
	}

	r.pending[id] = append([]string(nil), variants...)
	for _, name := range variants {
		r.owners[name] = id
	}
	return nil
}

// Commit implements Registry.Commit.
func (r *InMemoryRegistry) Commit(rec *StreamRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reserved, ok := r.pending[rec.ID]
	if !ok {
		return errNotReserved
	}
	delete(r.pending, rec.ID)
	for _, name := range reserved {
		if _, kept := rec.Variants[name]; !kept && r.owners[name] == rec.ID {
			delete(r.owners, name)
		}
	}
	for name := range rec.Variants {
		r.owners[name] = rec.ID
	}
	r.store.SetStream(rec.clone())
	return nil
}

// Release implements Registry.Release.
func (r *InMemoryRegistry) Release(id StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names, ok := r.pending[id]
	if !ok {
		return
	}
	delete(r.pending, id)

	active, _ := r.store.GetStream(id)
	for _, name := range names {
		if r.owners[name] != id {
			continue
		}
		if active != nil {
			if _, held := active.Variants[name]; held {
				continue
			}
		}
		delete(r.owners, name)
	}
}

// Detach implements Registry.Detach.
func (r *InMemoryRegistry) Detach(id StreamID) (*StreamRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetStream(id)
	if !ok {
		return nil, ErrStreamNotFound
	}
	r.store.DeleteStream(id)
	r.pending[id] = rec.VariantNames()
	return rec.clone(), nil
}

// Get implements Registry.Get.
func (r *InMemoryRegistry) Get(id StreamID) (*StreamRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.GetStream(id)
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List implements Registry.List.
func (r *InMemoryRegistry) List() []*StreamRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListStreamIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*StreamRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.store.GetStream(id); ok {
			out = append(out, rec.clone())
		}
	}
	return out
}

// VariantOwner implements Registry.VariantOwner.
func (r *InMemoryRegistry) VariantOwner(name string) (StreamID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[name]
	return id, ok
}

// ActiveStreamCount implements Registry.ActiveStreamCount.
func (r *InMemoryRegistry) ActiveStreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListStreamIDs())
}

package streaming

// Store is the persistence abstraction for stream records.
// Implementations are not required to be safe for concurrent use; the
// registry serializes access.
type Store interface {
	GetStream(id StreamID) (*StreamRecord, bool)
	SetStream(r *StreamRecord)
	DeleteStream(id StreamID)
	ListStreamIDs() []StreamID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	streams map[StreamID]*StreamRecord
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[StreamID]*StreamRecord),
	}
}

// GetStream implements Store.GetStream.
func (s *InMemoryStore) GetStream(id StreamID) (*StreamRecord, bool) {
	r, ok := s.streams[id]
	return r, ok
}

// SetStream implements Store.SetStream.
func (s *InMemoryStore) SetStream(r *StreamRecord) {
	s.streams[r.ID] = r
}

// DeleteStream implements Store.DeleteStream.
func (s *InMemoryStore) DeleteStream(id StreamID) {
	delete(s.streams, id)
}

// ListStreamIDs implements Store.ListStreamIDs.
func (s *InMemoryStore) ListStreamIDs() []StreamID {
	ids := make([]StreamID, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids
}

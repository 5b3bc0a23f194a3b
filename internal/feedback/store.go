package feedback

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// DefaultCapacity bounds the feedback log.
const DefaultCapacity = 10000

// State is the learner state that survives restarts.
type State struct {
	Rules    []Rule             `json:"rules"`
	Patterns map[string]float64 `json:"patterns"`
	LastSeq  int64              `json:"last_seq"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{
		Rules:    slices.Clone(s.Rules),
		Patterns: maps.Clone(s.Patterns),
		LastSeq:  s.LastSeq,
	}
}

// Store persists the append-only feedback log and the learner state. The
// log is capacity-bounded: appending beyond capacity evicts the oldest
// records.
type Store interface {
	// Append assigns rec.Seq and stores the record.
	Append(ctx context.Context, rec *Record) error

	// Since returns records with Seq greater than afterSeq, oldest first.
	// A limit of zero returns all of them.
	Since(ctx context.Context, afterSeq int64, limit int) ([]Record, error)

	// Len returns the number of retained records.
	Len(ctx context.Context) (int, error)

	SaveState(ctx context.Context, state State) error
	LoadState(ctx context.Context) (State, error)

	Close() error
}

// MemoryStore keeps the log in a ring buffer.
type MemoryStore struct {
	mu       sync.RWMutex
	ring     []Record
	head     int
	size     int
	nextSeq  int64
	state    State
	capacity int
}

// NewMemoryStore creates a ring-buffer store.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		ring:     make([]Record, capacity),
		capacity: capacity,
		state:    State{Patterns: map[string]float64{}},
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	rec.Seq = s.nextSeq

	idx := (s.head + s.size) % s.capacity
	if s.size == s.capacity {
		idx = s.head
		s.head = (s.head + 1) % s.capacity
	} else {
		s.size++
	}
	s.ring[idx] = *rec
	return nil
}

// Since implements Store.
func (s *MemoryStore) Since(_ context.Context, afterSeq int64, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := 0; i < s.size; i++ {
		rec := s.ring[(s.head+i)%s.capacity]
		if rec.Seq <= afterSeq {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len implements Store.
func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

// SaveState implements Store.
func (s *MemoryStore) SaveState(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
	return nil
}

// LoadState implements Store.
func (s *MemoryStore) LoadState(context.Context) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Entry is a cached result.
type Entry struct {
	Key             string            `msgpack:"key"`
	Payload         types.CheckResult `msgpack:"payload"`
	InsertedAt      time.Time         `msgpack:"inserted_at"`
	AccessCount     int               `msgpack:"access_count"`
	TextFingerprint uint64            `msgpack:"text_fingerprint"`
	Promoted        bool              `msgpack:"-"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Payload = *e.Payload.Clone()
	return &c
}

// Tier is a cache storage level.
type Tier interface {
	// Name identifies the tier in logs and errors.
	Name() string

	// Get returns the entry stored under key. A missing key is not an error.
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Set upserts an entry. ttl is a hint for tiers with native expiry.
	Set(ctx context.Context, entry *Entry, ttl time.Duration) error

	// Delete removes an entry.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
}

// MemoryTier is a capacity-bounded LRU tier.
type MemoryTier struct {
	mu       sync.Mutex
	name     string
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	evicted  int64
}

// NewMemoryTier creates an in-memory tier holding at most capacity entries.
func NewMemoryTier(name string, capacity int) *MemoryTier {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryTier{
		name:     name,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Name implements Tier.
func (t *MemoryTier) Name() string { return t.name }

// Get implements Tier. The returned entry is shared; callers clone before
// handing it out.
func (t *MemoryTier) Get(_ context.Context, key string) (*Entry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.items[key]
	if !ok {
		return nil, false, nil
	}
	t.ll.MoveToFront(el)
	return el.Value.(*Entry), true, nil
}

// Set implements Tier.
func (t *MemoryTier) Set(_ context.Context, entry *Entry, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.items[entry.Key]; ok {
		el.Value = entry
		t.ll.MoveToFront(el)
		return nil
	}
	t.items[entry.Key] = t.ll.PushFront(entry)
	for t.ll.Len() > t.capacity {
		t.removeElement(t.ll.Back())
		t.evicted++
	}
	return nil
}

// Delete implements Tier.
func (t *MemoryTier) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.items[key]; ok {
		t.removeElement(el)
	}
	return nil
}

// Clear implements Tier.
func (t *MemoryTier) Clear(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ll.Init()
	t.items = make(map[string]*list.Element)
	return nil
}

// Len implements Tier.
func (t *MemoryTier) Len(context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ll.Len(), nil
}

// Evicted returns the number of capacity evictions.
func (t *MemoryTier) Evicted() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evicted
}

// Sweep removes entries inserted at or before cutoff and returns how many
// were removed.
func (t *MemoryTier) Sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for el := t.ll.Back(); el != nil; {
		prev := el.Prev()
		if !el.Value.(*Entry).InsertedAt.After(cutoff) {
			t.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (t *MemoryTier) removeElement(el *list.Element) {
	t.ll.Remove(el)
	delete(t.items, el.Value.(*Entry).Key)
}

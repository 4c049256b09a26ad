// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps every collection in mutex-guarded maps. It is the
// standalone-mode backend and the test double: same contract as the redis and
// postgres backends, fully deterministic, no I/O.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[uuid.UUID]Record
	subs        map[string][]*memorySub
	nextSub     int
}

type memorySub struct {
	id     int
	coll   string
	match  map[string]any
	signal chan struct{}
	done   chan struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[uuid.UUID]Record),
		subs:        make(map[string][]*memorySub),
	}
}

// Collection returns a handle for the named collection, creating it lazily.
func (s *MemoryStore) Collection(name string) Collection {
	return &memoryCollection{store: s, name: name}
}

// Close releases all subscriptions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subs {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	s.subs = make(map[string][]*memorySub)
	return nil
}

type memoryCollection struct {
	store *MemoryStore
	name  string
}

func (c *memoryCollection) Create(_ context.Context, fields map[string]any) (Record, error) {
	now := time.Now()
	rec := Record{
		ID:      uuid.New(),
		Fields:  CloneFields(fields),
		Created: now,
		Updated: now,
	}

	c.store.mu.Lock()
	coll := c.store.collections[c.name]
	if coll == nil {
		coll = make(map[uuid.UUID]Record)
		c.store.collections[c.name] = coll
	}
	coll[rec.ID] = rec
	c.store.notifyLocked(c.name)
	c.store.mu.Unlock()

	return rec, nil
}

func (c *memoryCollection) Update(_ context.Context, id uuid.UUID, partial map[string]any) (Record, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	coll := c.store.collections[c.name]
	rec, ok := coll[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	fields := CloneFields(rec.Fields)
	for k, v := range partial {
		fields[k] = v
	}
	rec.Fields = fields
	rec.Updated = time.Now()
	coll[id] = rec
	c.store.notifyLocked(c.name)
	return rec, nil
}

func (c *memoryCollection) Delete(_ context.Context, id uuid.UUID) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	coll := c.store.collections[c.name]
	if _, ok := coll[id]; !ok {
		return ErrNotFound
	}
	delete(coll, id)
	c.store.notifyLocked(c.name)
	return nil
}

func (c *memoryCollection) Filter(match map[string]any) Query {
	return &memoryQuery{coll: c, match: CloneFields(match)}
}

type memoryQuery struct {
	coll  *memoryCollection
	match map[string]any
}

func (q *memoryQuery) GetList(_ context.Context) ([]Record, error) {
	s := q.coll.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(q.coll.name, q.match), nil
}

// Subscribe registers a callback fired with the full matching list after
// every mutation of the collection. Notifications are coalesced: a slow
// consumer sees the latest state, not every intermediate one.
func (q *memoryQuery) Subscribe(ctx context.Context, fn func([]Record)) (func(), error) {
	s := q.coll.store
	sub := &memorySub{
		coll:   q.coll.name,
		match:  q.match,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	sub.id = s.nextSub
	s.nextSub++
	s.subs[q.coll.name] = append(s.subs[q.coll.name], sub)
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.signal:
				s.mu.Lock()
				list := s.listLocked(sub.coll, sub.match)
				s.mu.Unlock()
				fn(list)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			subs := s.subs[q.coll.name]
			for i, other := range subs {
				if other.id == sub.id {
					s.subs[q.coll.name] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(sub.done)
		})
	}
	return unsub, nil
}

// listLocked snapshots the records matching the filter, ordered by creation
// time for stable iteration. Caller holds the mutex.
func (s *MemoryStore) listLocked(coll string, match map[string]any) []Record {
	var out []Record
	for _, rec := range s.collections[coll] {
		if rec.Matches(match) {
			copied := rec
			copied.Fields = CloneFields(rec.Fields)
			out = append(out, copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// notifyLocked pokes every subscriber of the collection. The signal channel
// has capacity one; a pending signal already covers this change.
func (s *MemoryStore) notifyLocked(coll string) {
	for _, sub := range s.subs[coll] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

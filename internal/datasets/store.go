package datasets

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinodismyname/leverlab/config"
)

// Gate coordinates capacity for loaded datasets (backed by runtime.Controller).
type Gate interface {
	AcquireDataset(ctx context.Context) error
	ReleaseDataset()
}

type entry struct {
	ds        *Dataset
	expiresAt time.Time
}

// Store keeps loaded datasets in memory behind opaque IDs with idle-TTL eviction.
type Store struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         Gate
	onEvict      []func(id string)
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupWG    sync.WaitGroup
}

// NewStore constructs a dataset store with a TTL-bearing cache.
// Pass ttl or cleanupEvery <= 0 to use defaults from config.
// Gate can be nil for tests; clock defaults to time.Now when nil.
func NewStore(ttl, cleanupEvery time.Duration, gate Gate, clock func() time.Time) *Store {
	if ttl <= 0 {
		ttl = config.DefaultDatasetIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultDatasetCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		entries:      make(map[string]*entry),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		stopCh:       make(chan struct{}),
	}
}

// OnEvict registers fn to run after a dataset leaves the store, whether by
// Remove, expiry or Close. Register before Start.
func (s *Store) OnEvict(fn func(id string)) {
	s.mu.Lock()
	s.onEvict = append(s.onEvict, fn)
	s.mu.Unlock()
}

// Start launches periodic eviction of expired datasets.
func (s *Store) Start() {
	s.cleanupWG.Add(1)
	ticker := time.NewTicker(s.cleanupEvery)
	go func() {
		defer s.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and drops every dataset.
func (s *Store) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	done := make(chan struct{})
	go func() { s.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
		delete(s.entries, id)
	}
	hooks := s.onEvict
	s.mu.Unlock()

	for _, id := range ids {
		s.release()
		notify(hooks, id)
	}
	return nil
}

// Add registers ds under a fresh ID, reserving capacity through the gate.
// The dataset's ID and LoadedAt are set by the store.
func (s *Store) Add(ctx context.Context, ds *Dataset) (string, error) {
	if ds == nil {
		return "", fmt.Errorf("datasets: nil dataset")
	}
	if err := s.acquire(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCapacity, err)
	}
	now := s.clock()
	ds.ID = uuid.NewString()
	ds.LoadedAt = now

	s.mu.Lock()
	s.entries[ds.ID] = &entry{ds: ds, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return ds.ID, nil
}

// Get returns the dataset when present and refreshes its TTL.
func (s *Store) Get(id string) (*Dataset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	// Idle timeout semantics: access extends the lease.
	e.expiresAt = s.clock().Add(s.ttl)
	return e.ds, true
}

// Remove drops a dataset by ID, releasing capacity via the gate.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	_, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	hooks := s.onEvict
	s.mu.Unlock()
	if !ok {
		return ErrDatasetNotFound
	}
	s.release()
	notify(hooks, id)
	return nil
}

// EvictExpired drops expired datasets and returns their IDs.
func (s *Store) EvictExpired() []string {
	now := s.clock()
	var expired []string

	s.mu.Lock()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, id)
			delete(s.entries, id)
		}
	}
	hooks := s.onEvict
	s.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		s.release()
		notify(hooks, id)
	}
	return expired
}

// Count returns the current number of stored datasets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns the stored datasets ordered by load time.
func (s *Store) List() []*Dataset {
	s.mu.RLock()
	out := make([]*Dataset, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.ds)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoadedAt.Equal(out[j].LoadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LoadedAt.Before(out[j].LoadedAt)
	})
	return out
}

func (s *Store) acquire(ctx context.Context) error {
	if s.gate == nil {
		return nil
	}
	return s.gate.AcquireDataset(ctx)
}

func (s *Store) release() {
	if s.gate == nil {
		return
	}
	s.gate.ReleaseDataset()
}

func notify(hooks []func(string), id string) {
	for _, fn := range hooks {
		fn(id)
	}
}

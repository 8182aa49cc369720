package datasets

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGate implements Gate for tests with counters.
type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireDataset(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseDataset() { g.releases.Add(1) }

// fakeClock is a clock the test can advance.
type fakeClock struct{ now atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.now.Store(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.now.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func TestStore_AddGetRemove(t *testing.T) {
	gate := &fakeGate{}
	s := NewStore(time.Minute, time.Second, gate, time.Now)

	ds := &Dataset{Name: "pnl"}
	id, err := s.Add(context.Background(), ds)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, id, ds.ID)
	require.False(t, ds.LoadedAt.IsZero())
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, 1, s.Count())

	got, ok := s.Get(id)
	require.True(t, ok)
	require.Same(t, ds, got)

	require.NoError(t, s.Remove(id))
	require.Equal(t, 0, s.Count())
	require.Equal(t, int64(1), gate.releases.Load())
	require.ErrorIs(t, s.Remove(id), ErrDatasetNotFound)
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestStore_TTLExpiryAndEviction(t *testing.T) {
	clock := newFakeClock()
	gate := &fakeGate{}
	s := NewStore(50*time.Millisecond, 5*time.Millisecond, gate, clock.Now)

	var evicted []string
	s.OnEvict(func(id string) { evicted = append(evicted, id) })

	id, err := s.Add(context.Background(), &Dataset{})
	require.NoError(t, err)

	clock.Advance(40 * time.Millisecond)
	_, ok := s.Get(id) // refreshes the lease
	require.True(t, ok)
	clock.Advance(40 * time.Millisecond)
	require.Empty(t, s.EvictExpired())

	clock.Advance(200 * time.Millisecond)
	require.Equal(t, []string{id}, s.EvictExpired())
	require.Equal(t, 0, s.Count())
	require.Equal(t, int64(1), gate.releases.Load())
	require.Equal(t, []string{id}, evicted)
}

func TestStore_GateBusy(t *testing.T) {
	gate := &fakeGate{acquireErr: context.DeadlineExceeded}
	s := NewStore(time.Second, time.Second, gate, time.Now)

	_, err := s.Add(context.Background(), &Dataset{})
	require.True(t, errors.Is(err, ErrCapacity))
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(0), gate.releases.Load())
	require.Equal(t, 0, s.Count())
}

func TestStore_CloseReleasesEverything(t *testing.T) {
	gate := &fakeGate{}
	s := NewStore(time.Second, time.Millisecond, gate, time.Now)
	s.Start()

	var evicted atomic.Int64
	s.OnEvict(func(string) { evicted.Add(1) })

	for range 3 {
		_, err := s.Add(context.Background(), &Dataset{})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close(context.Background()))
	require.Equal(t, 0, s.Count())
	require.Equal(t, int64(3), gate.releases.Load())
	require.Equal(t, int64(3), evicted.Load())
}

func TestStore_ListByLoadTime(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(time.Hour, time.Second, nil, clock.Now)

	first, err := s.Add(context.Background(), &Dataset{Name: "a"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.Add(context.Background(), &Dataset{Name: "b"})
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	require.Equal(t, first, list[0].ID)
	require.Equal(t, second, list[1].ID)
}

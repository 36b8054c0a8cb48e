package cache

import (
	"barter/internal/domain"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func snapshot(value string) domain.CreditSnapshot {
	return domain.CreditSnapshot{
		Value:          decimal.RequireFromString(value),
		Timestamp:      t0,
		TotalProcessed: 10,
		ValidUsed:      8,
		Status:         domain.StatusSuccess,
	}
}

func TestCreditCache_Get(t *testing.T) {
	t.Run("empty cache", func(t *testing.T) {
		clock := &fakeClock{t: t0}
		c := New(time.Minute, clock.Now)

		read := c.Get()
		require.True(t, read.Empty)
		require.True(t, read.Stale)
		require.Equal(t, domain.StatusError, read.Snapshot.Status)
		require.Equal(t, domain.NoDataMessage, read.Snapshot.ErrorMessage)
		require.True(t, read.Snapshot.Value.IsZero())
	})

	t.Run("freshness around ttl", func(t *testing.T) {
		clock := &fakeClock{t: t0}
		c := New(time.Minute, clock.Now)
		require.True(t, c.Update(snapshot("2")))

		clock.Set(t0.Add(time.Minute - time.Millisecond))
		read := c.Get()
		require.False(t, read.Stale)
		require.False(t, read.Empty)
		require.Equal(t, time.Minute-time.Millisecond, read.Age)

		clock.Set(t0.Add(time.Minute))
		require.True(t, c.Get().Stale)

		clock.Set(t0.Add(time.Minute + time.Millisecond))
		read = c.Get()
		require.True(t, read.Stale)
		require.Equal(t, "2", read.Snapshot.Value.String())
	})

	t.Run("clock going backwards reads as fresh", func(t *testing.T) {
		clock := &fakeClock{t: t0}
		c := New(time.Minute, clock.Now)
		c.Update(snapshot("2"))
		clock.Set(t0.Add(-time.Hour))
		read := c.Get()
		require.Equal(t, time.Duration(0), read.Age)
		require.False(t, read.Stale)
	})
}

func TestCreditCache_Update(t *testing.T) {
	t.Run("error snapshots are not stored", func(t *testing.T) {
		clock := &fakeClock{t: t0}
		c := New(time.Minute, clock.Now)
		c.Update(snapshot("3"))

		stored := c.Update(domain.ErrorSnapshot(t0, 5, "no valid prices"))
		require.False(t, stored)
		require.Equal(t, "3", c.GetOrStale().Value.String())
		require.True(t, c.GetOrStale().Ok())
	})

	t.Run("keeps previous", func(t *testing.T) {
		clock := &fakeClock{t: t0}
		c := New(time.Minute, clock.Now)
		_, ok := c.Previous()
		require.False(t, ok)

		c.Update(snapshot("1"))
		_, ok = c.Previous()
		require.False(t, ok)

		c.Update(snapshot("2"))
		prev, ok := c.Previous()
		require.True(t, ok)
		require.Equal(t, "1", prev.Value.String())
	})

	t.Run("fetchedAt never goes backwards", func(t *testing.T) {
		clock := &fakeClock{t: t0}
		c := New(time.Minute, clock.Now)
		c.Update(snapshot("1"))

		clock.Set(t0.Add(-30 * time.Second))
		c.Update(snapshot("2"))
		require.Equal(t, t0, c.Get().FetchedAt)

		clock.Set(t0.Add(time.Second))
		c.Update(snapshot("3"))
		require.Equal(t, t0.Add(time.Second), c.Get().FetchedAt)
	})

	t.Run("clear", func(t *testing.T) {
		c := New(0, nil)
		require.Equal(t, DefaultTTL, c.TTL())
		c.Update(snapshot("1"))
		c.Clear()
		require.True(t, c.Get().Empty)
	})
}

func TestCreditCache_GetOrStale(t *testing.T) {
	clock := &fakeClock{t: t0}
	c := New(time.Minute, clock.Now)
	require.Equal(t, domain.NoDataMessage, c.GetOrStale().ErrorMessage)

	c.Update(snapshot("4.5"))
	clock.Advance(time.Hour)
	require.Equal(t, "4.5", c.GetOrStale().Value.String())
}

func Test_concurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := New(time.Minute, nil)
	first := snapshot("1")
	first.ValidUsed = 1
	c.Update(first)

	stop := make(chan struct{})
	var torn atomic.Int64
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := c.Get().Snapshot
				// writers always set ValidUsed = Value
				if !s.Value.Equal(decimal.NewFromInt(int64(s.ValidUsed))) {
					torn.Add(1)
				}
			}
		}()
	}

	for i := 1; i <= 2000; i++ {
		s := snapshot("1")
		s.Value = decimal.NewFromInt(int64(i))
		s.ValidUsed = i
		c.Update(s)
	}
	close(stop)
	wg.Wait()

	require.Zero(t, torn.Load())
	require.Equal(t, "2000", c.GetOrStale().Value.String())
}

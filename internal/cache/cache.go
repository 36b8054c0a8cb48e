package cache

import (
	"barter/internal/domain"
	"sync/atomic"
	"time"
)

const DefaultTTL = 5 * time.Minute

type entry struct {
	snapshot  domain.CreditSnapshot
	fetchedAt time.Time
	previous  *domain.CreditSnapshot
}

// Read is what a reader sees at one instant. Snapshot is always set;
// when nothing has been stored yet it's an error snapshot and Empty is true.
type Read struct {
	Snapshot  domain.CreditSnapshot
	FetchedAt time.Time
	Age       time.Duration
	Stale     bool
	Empty     bool
}

// CreditCache holds the last good snapshot. Writes swap a whole entry so
// readers never lock and never see half of an update.
type CreditCache struct {
	ttl     time.Duration
	now     func() time.Time
	current atomic.Pointer[entry]
}

func New(ttl time.Duration, now func() time.Time) *CreditCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CreditCache{
		ttl: ttl,
		now: now,
	}
}

func (c *CreditCache) TTL() time.Duration {
	return c.ttl
}

func (c *CreditCache) Get() Read {
	now := c.now()
	e := c.current.Load()
	if e == nil {
		return Read{
			Snapshot: domain.ErrorSnapshot(now.UTC(), 0, domain.NoDataMessage),
			Stale:    true,
			Empty:    true,
		}
	}

	age := now.Sub(e.fetchedAt)
	if age < 0 {
		age = 0
	}
	return Read{
		Snapshot:  e.snapshot,
		FetchedAt: e.fetchedAt,
		Age:       age,
		Stale:     age >= c.ttl,
	}
}

// Update stores snapshot if it's a success and reports whether it did.
// Error snapshots never replace good data.
func (c *CreditCache) Update(snapshot domain.CreditSnapshot) bool {
	if !snapshot.Ok() {
		return false
	}

	for {
		old := c.current.Load()
		next := &entry{
			snapshot:  snapshot,
			fetchedAt: c.now(),
		}
		if old != nil {
			prev := old.snapshot
			next.previous = &prev
			if next.fetchedAt.Before(old.fetchedAt) {
				next.fetchedAt = old.fetchedAt
			}
		}
		if c.current.CompareAndSwap(old, next) {
			return true
		}
	}
}

// GetOrStale ignores freshness and returns the last good snapshot
func (c *CreditCache) GetOrStale() domain.CreditSnapshot {
	return c.Get().Snapshot
}

func (c *CreditCache) Previous() (domain.CreditSnapshot, bool) {
	e := c.current.Load()
	if e == nil || e.previous == nil {
		return domain.CreditSnapshot{}, false
	}
	return *e.previous, true
}

// Clear drops everything, used on shutdown
func (c *CreditCache) Clear() {
	c.current.Store(nil)
}

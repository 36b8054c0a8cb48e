package prices

import (
	"sync"
	"time"
)

// the free coingecko plans are metered per month, so we keep a
// rough count of what we've spent. in-memory only, a restart
// resets the counters

const DefaultMonthlyCallLimit = 10000

type Usage struct {
	CallsToday           int
	MonthlyCallsUsed     int
	MonthlyLimit         int
	MonthlyRemaining     int
	UsagePercentage      float64
	EstimatedDailyBudget int
	Month                string
}

type UsageTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	limit   int
	day     string
	month   string
	today   int
	monthly int
}

// NewUsageTracker tracks calls against limit. A limit <= 0 disables
// the check but calls are still counted.
func NewUsageTracker(limit int, now func() time.Time) *UsageTracker {
	if now == nil {
		now = time.Now
	}
	u := &UsageTracker{
		now:   now,
		limit: limit,
	}
	u.rollover()
	return u
}

func (u *UsageTracker) rollover() {
	t := u.now().UTC()
	day := t.Format("2006-01-02")
	month := t.Format("2006-01")
	if month != u.month {
		u.month = month
		u.monthly = 0
	}
	if day != u.day {
		u.day = day
		u.today = 0
	}
}

// TryRecord counts one call if the monthly limit has room for it and
// reports whether it did.
func (u *UsageTracker) TryRecord() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollover()
	if u.limit > 0 && u.monthly >= u.limit {
		return false
	}
	u.today++
	u.monthly++
	return true
}

func (u *UsageTracker) Snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollover()

	out := Usage{
		CallsToday:       u.today,
		MonthlyCallsUsed: u.monthly,
		MonthlyLimit:     u.limit,
		Month:            u.month,
	}
	if u.limit > 0 {
		out.MonthlyRemaining = u.limit - u.monthly
		if out.MonthlyRemaining < 0 {
			out.MonthlyRemaining = 0
		}
		out.UsagePercentage = float64(int(float64(u.monthly)/float64(u.limit)*10000)) / 100
		out.EstimatedDailyBudget = u.limit / 30
	}
	return out
}

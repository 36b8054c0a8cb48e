package metrics

import (
	"barter/internal/domain"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "barter"

	OutcomeSuccess      = "success"
	OutcomeFetchError   = "fetch_error"
	OutcomeRateLimited  = "rate_limited"
	OutcomeNoValidPrice = "aggregation_error"

	TriggerTimer  = "timer"
	TriggerManual = "manual"
	TriggerStart  = "start"
)

// Metrics is safe to use as a nil pointer, which records nothing
type Metrics struct {
	factory promauto.Factory

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	refreshes     *prometheus.CounterVec
	coalesced     prometheus.Counter
	creditValue   prometheus.Gauge
	coinsValid    prometheus.Gauge
	coinsTotal    prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New registers everything on reg. A nil reg builds unregistered
// collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Refresh cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent fetching and aggregating prices",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "triggers_total",
			Help:      "Refresh requests by trigger",
		}, []string{"trigger"}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "coalesced_total",
			Help:      "Refresh requests served by a cycle that was already running",
		}),
		creditValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credit",
			Name:      "value_usd",
			Help:      "Latest successful barter credit value",
		}),
		coinsValid: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credit",
			Name:      "valid_coins",
			Help:      "Coins used by the latest successful aggregation",
		}),
		coinsTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credit",
			Name:      "processed_coins",
			Help:      "Coins seen by the latest successful aggregation",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) RefreshTriggered(trigger string, shared bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(trigger).Inc()
	if shared {
		m.coalesced.Inc()
	}
}

func (m *Metrics) CycleFinished(outcome string, elapsed time.Duration, snapshot domain.CreditSnapshot) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	if outcome == OutcomeSuccess {
		m.creditValue.Set(snapshot.Value.InexactFloat64())
		m.coinsValid.Set(float64(snapshot.ValidUsed))
		m.coinsTotal.Set(float64(snapshot.TotalProcessed))
	}
}

func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// WatchCache exports the cache age, read at scrape time
func (m *Metrics) WatchCache(ageSeconds func() float64) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "age_seconds",
		Help:      "Seconds since the cached credit was fetched, -1 when empty",
	}, ageSeconds)
}

func (m *Metrics) WatchHub(failures, dropped func() int64) {
	if m == nil {
		return
	}
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "delivery_failures_total",
		Help:      "Subscriber callbacks that errored or panicked",
	}, func() float64 { return float64(failures()) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a channel subscriber was full",
	}, func() float64 { return float64(dropped()) })
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	barter_errors "barter/internal"
	"barter/internal/cache"
	"barter/internal/credit"
	"barter/internal/domain"
	"barter/internal/hub"
	"barter/internal/metrics"
	"barter/internal/prices"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultFetchTimeout = 10 * time.Second

	refreshKey = "credit"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type Status struct {
	State        State
	Stopped      bool
	Interval     time.Duration
	LastOutcome  Outcome
	LastError    string
	LastRun      time.Time
	LastDuration time.Duration
	NextRun      time.Time
	Cycles       int64
	Failures     int64
	// callers currently waiting on a cycle
	Waiting int64
}

// Result is what a cycle produced. A failed cycle still has a Snapshot:
// the last good one (or the "data not available" snapshot) with Fallback
// set. Stale follows the cache TTL, same as a read.
type Result struct {
	Snapshot domain.CreditSnapshot
	Stale    bool
	Fallback bool
	Err      error
	// true when the caller joined a cycle someone else started
	Shared bool
}

// cycleOutcome carries a finished cycle to every caller that waited on it.
// Its events go out once, after the singleflight key is released, so a
// subscriber can call Refresh without joining the cycle that is
// notifying it.
type cycleOutcome struct {
	res    Result
	events []hub.Event
	once   sync.Once
}

func (o *cycleOutcome) publish(h *hub.Hub) {
	o.once.Do(func() {
		h.Notify(o.events...)
	})
}

type Config struct {
	Interval       time.Duration
	FetchTimeout   time.Duration
	RefreshOnStart bool
}

type Scheduler struct {
	cfg        Config
	source     prices.PriceSource
	aggregator credit.Aggregator
	cache      *cache.CreditCache
	hub        *hub.Hub
	metrics    *metrics.Metrics
	log        *slog.Logger

	group    singleflight.Group
	inflight sync.WaitGroup
	waiting  atomic.Int64

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	started bool
	stopped bool
	status  Status
}

func New(
	cfg Config,
	source prices.PriceSource,
	aggregator credit.Aggregator,
	creditCache *cache.CreditCache,
	notifier *hub.Hub,
	m *metrics.Metrics,
	log *slog.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg,
		source:     source,
		aggregator: aggregator,
		cache:      creditCache,
		hub:        notifier,
		metrics:    m,
		log:        log,
		status: Status{
			State:    StateIdle,
			Interval: cfg.Interval,
		},
	}
}

// Start arms the timer. Starting twice is a no-op; starting after Stop
// returns ErrSchedulerStopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return barter_errors.ErrSchedulerStopped
	}
	if s.started {
		return nil
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.entry = c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		_, err := s.trigger(context.Background(), metrics.TriggerTimer)
		if err != nil && !errors.Is(err, barter_errors.ErrSchedulerStopped) {
			s.log.Warn("scheduled refresh did not run", "error", err)
		}
	}))
	c.Start()
	s.cron = c
	s.started = true

	s.log.Info("refresh scheduler started",
		"interval", s.cfg.Interval.String(),
		"refreshOnStart", s.cfg.RefreshOnStart,
	)

	if s.cfg.RefreshOnStart {
		startCtx := context.WithoutCancel(ctx)
		go func() {
			_, _ = s.trigger(startCtx, metrics.TriggerStart)
		}()
	}
	return nil
}

// Stop disarms the timer and waits, bounded by ctx, for a cycle that is
// already running. That cycle still updates the cache. No cycle starts
// after Stop returns.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight refresh: %w", ctx.Err())
	}
}

// Refresh runs a cycle now, or joins the one already running. It doesn't
// move the timer. A failed cycle is reported in Result.Err; the returned
// error is only for a stopped scheduler or a caller that gave up.
func (s *Scheduler) Refresh(ctx context.Context) (Result, error) {
	return s.trigger(ctx, metrics.TriggerManual)
}

func (s *Scheduler) trigger(ctx context.Context, trigger string) (Result, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Result{}, barter_errors.ErrSchedulerStopped
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	// the cycle outlives any one caller
	cycleCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(refreshKey, func() (interface{}, error) {
		return s.cycle(cycleCtx), nil
	})
	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	// runs even when the caller gives up, so the events still go out
	out := make(chan singleflight.Result, 1)
	go func() {
		defer s.inflight.Done()
		r := <-ch
		r.Val.(*cycleOutcome).publish(s.hub)
		out <- r
	}()

	select {
	case r := <-out:
		res := r.Val.(*cycleOutcome).res
		res.Shared = r.Shared
		s.metrics.RefreshTriggered(trigger, r.Shared)
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Scheduler) cycle(ctx context.Context) (res *cycleOutcome) {
	start := time.Now()
	s.setRunning()

	defer func() {
		if r := recover(); r != nil {
			res = s.fail(fmt.Errorf("refresh panicked: %v", r), metrics.OutcomeFetchError, start)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	entries, err := s.source.FetchRawPrices(fetchCtx)
	if err != nil {
		fetchErr := barter_errors.FetchError{}
		if !errors.As(err, &fetchErr) {
			err = barter_errors.FetchError{Message: "price source", Err: err}
			fetchErr = err.(barter_errors.FetchError)
		}
		result := metrics.OutcomeFetchError
		if fetchErr.RateLimited() {
			result = metrics.OutcomeRateLimited
		}
		return s.fail(err, result, start)
	}

	snapshot := s.aggregator.Aggregate(entries)
	if !snapshot.Ok() {
		return s.fail(snapshot.Err(), metrics.OutcomeNoValidPrice, start)
	}

	s.cache.Update(snapshot)
	s.finish(OutcomeSuccess, nil, start)
	s.metrics.CycleFinished(metrics.OutcomeSuccess, time.Since(start), snapshot)
	s.log.Info("barter credit refreshed",
		"value", snapshot.Value.String(),
		"validUsed", snapshot.ValidUsed,
		"totalProcessed", snapshot.TotalProcessed,
		"elapsed", time.Since(start).String(),
	)

	return &cycleOutcome{
		res: Result{Snapshot: snapshot},
		events: []hub.Event{
			hub.CreditUpdate(snapshot, false),
			hub.CreditValue(snapshot.Value),
		},
	}
}

func (s *Scheduler) fail(err error, result string, start time.Time) *cycleOutcome {
	read := s.cache.Get()
	s.finish(OutcomeFailure, err, start)
	s.metrics.CycleFinished(result, time.Since(start), read.Snapshot)
	s.log.Warn("refresh failed, serving last known credit",
		"error", err,
		"outcome", result,
		"fallbackValue", read.Snapshot.Value.String(),
		"fallbackStatus", read.Snapshot.Status,
		"stale", read.Stale,
	)

	return &cycleOutcome{
		res: Result{
			Snapshot: read.Snapshot,
			Stale:    read.Stale,
			Fallback: true,
			Err:      err,
		},
		events: []hub.Event{
			hub.ErrorEvent(err.Error()),
			hub.CreditUpdate(read.Snapshot, read.Stale),
		},
	}
}

func (s *Scheduler) setRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = StateRunning
}

func (s *Scheduler) finish(outcome Outcome, err error, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = StateIdle
	s.status.LastOutcome = outcome
	s.status.LastRun = start.UTC()
	s.status.LastDuration = time.Since(start)
	s.status.Cycles++
	s.status.LastError = ""
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.status
	out.Stopped = s.stopped
	out.Waiting = s.waiting.Load()
	if s.cron != nil && !s.stopped {
		out.NextRun = s.cron.Entry(s.entry).Next
	}
	return out
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

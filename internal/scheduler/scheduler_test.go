package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	barter_errors "barter/internal"
	"barter/internal/cache"
	"barter/internal/credit"
	"barter/internal/domain"
	"barter/internal/hub"
	"barter/internal/logger"
	"barter/internal/metrics"
	"barter/internal/prices"
	"barter/internal/util"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func price(id, p string) domain.RawPriceEntry {
	return domain.RawPriceEntry{ID: id, Price: util.DecimalPtr(decimal.RequireFromString(p))}
}

type fixture struct {
	scheduler *Scheduler
	cache     *cache.CreditCache
	hub       *hub.Hub

	mu     sync.Mutex
	events []hub.Event
}

func (f *fixture) received() []hub.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]hub.Event, len(f.events))
	copy(out, f.events)
	return out
}

func newFixture(source prices.PriceSource, cfg Config) *fixture {
	return newFixtureAt(source, cfg, nil)
}

func newFixtureAt(source prices.PriceSource, cfg Config, now func() time.Time) *fixture {
	f := &fixture{
		cache: cache.New(time.Minute, now),
		hub:   hub.New(logger.Nop()),
	}
	f.hub.Subscribe(func(e hub.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
		return nil
	})
	f.scheduler = New(
		cfg,
		source,
		credit.NewAggregator(credit.DefaultAggregatorConfig(), nil),
		f.cache,
		f.hub,
		metrics.New(nil),
		logger.Nop(),
	)
	return f
}

type blockingSource struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	entries []domain.RawPriceEntry
}

func newBlockingSource(entries ...domain.RawPriceEntry) *blockingSource {
	return &blockingSource{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		entries: entries,
	}
}

func (b *blockingSource) FetchRawPrices(ctx context.Context) ([]domain.RawPriceEntry, error) {
	b.calls.Add(1)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.entries, nil
}

func TestScheduler_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("success updates cache and notifies", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{
			price("a", "1"),
			price("b", "3"),
		}, nil)
		f := newFixture(source, Config{})

		res, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)
		require.NoError(t, res.Err)
		require.False(t, res.Stale)
		require.Equal(t, "2", res.Snapshot.Value.String())
		require.Equal(t, "2", f.cache.GetOrStale().Value.String())

		events := f.received()
		require.Len(t, events, 2)
		require.Equal(t, hub.EventCreditUpdate, events[0].Type)
		require.False(t, events[0].Stale)
		require.Equal(t, hub.EventCreditValue, events[1].Type)
		require.Equal(t, "2", events[1].Value.String())

		status := f.scheduler.Status()
		require.Equal(t, StateIdle, status.State)
		require.Equal(t, OutcomeSuccess, status.LastOutcome)
		require.Equal(t, int64(1), status.Cycles)
		require.Zero(t, status.Failures)
	})

	t.Run("fetch failure falls back to the last good value", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		gomock.InOrder(
			source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{price("a", "2")}, nil),
			source.EXPECT().FetchRawPrices(gomock.Any()).Return(nil, barter_errors.FetchError{HTTPStatus: 503, Message: "unavailable"}),
		)
		f := newFixture(source, Config{})

		_, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)

		res, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)
		require.True(t, res.Fallback)
		// still inside the ttl, same answer a cache read gives
		require.False(t, res.Stale)
		require.Equal(t, f.cache.Get().Stale, res.Stale)
		require.True(t, errors.As(res.Err, &barter_errors.FetchError{}))
		require.True(t, res.Snapshot.Ok())
		require.Equal(t, "2", res.Snapshot.Value.String())
		require.Equal(t, "2", f.cache.GetOrStale().Value.String())

		events := f.received()
		require.Len(t, events, 4)
		require.Equal(t, hub.EventError, events[2].Type)
		require.Contains(t, events[2].Message, "503")
		require.Equal(t, hub.EventCreditUpdate, events[3].Type)
		require.False(t, events[3].Stale)
		require.Equal(t, "2", events[3].Snapshot.Value.String())

		status := f.scheduler.Status()
		require.Equal(t, OutcomeFailure, status.LastOutcome)
		require.Equal(t, int64(2), status.Cycles)
		require.Equal(t, int64(1), status.Failures)
		require.NotEmpty(t, status.LastError)
	})

	t.Run("failure with nothing cached", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		source.EXPECT().FetchRawPrices(gomock.Any()).Return(nil, errors.New("dial tcp: refused"))
		f := newFixture(source, Config{})

		res, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)
		require.True(t, res.Stale)
		require.True(t, res.Fallback)
		require.Equal(t, domain.StatusError, res.Snapshot.Status)
		require.Equal(t, domain.NoDataMessage, res.Snapshot.ErrorMessage)
		// plain errors from a source are reported as fetch errors
		require.True(t, errors.As(res.Err, &barter_errors.FetchError{}))
	})

	t.Run("fallback past the ttl is stale", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		gomock.InOrder(
			source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{price("a", "2")}, nil),
			source.EXPECT().FetchRawPrices(gomock.Any()).Return(nil, barter_errors.FetchError{HTTPStatus: 429, Message: "slow down"}),
		)
		var mu sync.Mutex
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		f := newFixtureAt(source, Config{}, clock)

		_, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)

		mu.Lock()
		now = now.Add(2 * time.Minute)
		mu.Unlock()

		res, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)
		require.True(t, res.Fallback)
		require.True(t, res.Stale)
		require.Equal(t, "2", res.Snapshot.Value.String())

		events := f.received()
		require.Len(t, events, 4)
		require.True(t, events[3].Stale)
	})

	t.Run("nothing valid keeps the cache", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		gomock.InOrder(
			source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{price("a", "5")}, nil),
			source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{{ID: "x"}, price("dust", "0.001")}, nil),
		)
		f := newFixture(source, Config{})
		_, _ = f.scheduler.Refresh(ctx)

		res, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)
		require.True(t, errors.As(res.Err, &barter_errors.AggregationError{}))
		require.Equal(t, "5", res.Snapshot.Value.String())
		require.True(t, res.Snapshot.Ok())
	})

	t.Run("panicking source is a failed cycle", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		source.EXPECT().FetchRawPrices(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]domain.RawPriceEntry, error) {
			panic("nil map")
		})
		f := newFixture(source, Config{})

		res, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)
		require.ErrorContains(t, res.Err, "panicked")
		require.Equal(t, StateIdle, f.scheduler.Status().State)
	})

	t.Run("fetch is bounded by the timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		source.EXPECT().FetchRawPrices(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]domain.RawPriceEntry, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		f := newFixture(source, Config{FetchTimeout: 20 * time.Millisecond})

		res, err := f.scheduler.Refresh(ctx)
		require.NoError(t, err)
		require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	})
}

func Test_subscriberCanRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := prices.NewMockPriceSource(ctrl)
	gomock.InOrder(
		source.EXPECT().FetchRawPrices(gomock.Any()).Return(nil, barter_errors.FetchError{HTTPStatus: 503, Message: "unavailable"}),
		source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{price("a", "4")}, nil),
	)
	f := newFixture(source, Config{})

	// retry once after an error, from inside the callback
	var retried atomic.Bool
	var retry Result
	var retryErr error
	f.hub.Subscribe(func(e hub.Event) error {
		if e.Type != hub.EventError || !retried.CompareAndSwap(false, true) {
			return nil
		}
		retry, retryErr = f.scheduler.Refresh(context.Background())
		return nil
	})

	done := make(chan Result, 1)
	go func() {
		res, err := f.scheduler.Refresh(context.Background())
		if err == nil {
			done <- res
		}
		close(done)
	}()

	select {
	case res, ok := <-done:
		require.True(t, ok)
		require.True(t, res.Fallback)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh from a subscriber blocked the outer refresh")
	}

	require.True(t, retried.Load())
	require.NoError(t, retryErr)
	require.NoError(t, retry.Err)
	require.False(t, retry.Shared)
	require.Equal(t, "4", retry.Snapshot.Value.String())
	require.Equal(t, "4", f.cache.GetOrStale().Value.String())

	types := []hub.EventType{}
	for _, e := range f.received() {
		types = append(types, e.Type)
	}
	require.Equal(t, []hub.EventType{
		hub.EventError,
		hub.EventCreditUpdate,
		hub.EventCreditUpdate,
		hub.EventCreditValue,
	}, types)
	require.Equal(t, int64(2), f.scheduler.Status().Cycles)
}

func Test_concurrentRefreshFetchesOnce(t *testing.T) {
	source := newBlockingSource(price("a", "1"), price("b", "3"))
	f := newFixture(source, Config{})

	const callers = 5
	results := make([]Result, callers)
	errs := make([]error, callers)
	wg := sync.WaitGroup{}
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.scheduler.Refresh(context.Background())
		}(i)
	}

	<-source.entered
	require.Eventually(t, func() bool {
		return f.scheduler.Status().Waiting == callers
	}, time.Second, time.Millisecond)
	close(source.release)
	wg.Wait()

	require.Equal(t, int32(1), source.calls.Load())
	for i, res := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "2", res.Snapshot.Value.String())
		require.True(t, res.Shared)
	}
	require.Equal(t, int64(1), f.scheduler.Status().Cycles)
	// one creditUpdate + one creditValue, not one pair per caller
	require.Len(t, f.received(), 2)
}

func Test_cancelledCallerDoesNotCancelCycle(t *testing.T) {
	source := newBlockingSource(price("a", "4"))
	f := newFixture(source, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := f.scheduler.Refresh(ctx)
		errs <- err
	}()
	<-source.entered

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	// a caller arriving now joins the same cycle
	done := make(chan Result, 1)
	go func() {
		res, _ := f.scheduler.Refresh(context.Background())
		done <- res
	}()
	require.Eventually(t, func() bool {
		return f.scheduler.Status().Waiting == 1
	}, time.Second, time.Millisecond)

	close(source.release)
	res := <-done
	require.Equal(t, "4", res.Snapshot.Value.String())
	require.Equal(t, int32(1), source.calls.Load())
	require.Equal(t, "4", f.cache.GetOrStale().Value.String())
}

func TestScheduler_Stop(t *testing.T) {
	t.Run("refresh after stop", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		f := newFixture(source, Config{})

		require.NoError(t, f.scheduler.Start(context.Background()))
		require.NoError(t, f.scheduler.Stop(context.Background()))
		require.NoError(t, f.scheduler.Stop(context.Background()))

		_, err := f.scheduler.Refresh(context.Background())
		require.ErrorIs(t, err, barter_errors.ErrSchedulerStopped)
		require.ErrorIs(t, f.scheduler.Start(context.Background()), barter_errors.ErrSchedulerStopped)
		require.True(t, f.scheduler.Status().Stopped)
	})

	t.Run("waits for the in-flight cycle", func(t *testing.T) {
		source := newBlockingSource(price("a", "6"))
		f := newFixture(source, Config{})

		go func() { _, _ = f.scheduler.Refresh(context.Background()) }()
		<-source.entered

		stopped := make(chan error, 1)
		go func() { stopped <- f.scheduler.Stop(context.Background()) }()

		select {
		case <-stopped:
			t.Fatal("stop returned while a cycle was running")
		case <-time.After(50 * time.Millisecond):
		}

		close(source.release)
		require.NoError(t, <-stopped)
		require.Equal(t, "6", f.cache.GetOrStale().Value.String())
		require.Equal(t, int32(1), source.calls.Load())
	})

	t.Run("gives up when ctx expires", func(t *testing.T) {
		source := newBlockingSource(price("a", "6"))
		f := newFixture(source, Config{})
		defer close(source.release)

		go func() { _, _ = f.scheduler.Refresh(context.Background()) }()
		<-source.entered

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, f.scheduler.Stop(ctx), context.DeadlineExceeded)
	})
}

func TestScheduler_Start(t *testing.T) {
	t.Run("refresh on start", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{price("a", "9")}, nil).Times(1)
		f := newFixture(source, Config{Interval: time.Hour, RefreshOnStart: true})

		require.NoError(t, f.scheduler.Start(context.Background()))
		require.NoError(t, f.scheduler.Start(context.Background()))
		require.Eventually(t, func() bool {
			return f.scheduler.Status().Cycles == 1
		}, time.Second, 5*time.Millisecond)
		require.NoError(t, f.scheduler.Stop(context.Background()))

		require.Equal(t, "9", f.cache.GetOrStale().Value.String())
	})

	t.Run("timer fires", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source := prices.NewMockPriceSource(ctrl)
		source.EXPECT().FetchRawPrices(gomock.Any()).Return([]domain.RawPriceEntry{price("a", "1")}, nil).MinTimes(1)
		f := newFixture(source, Config{Interval: time.Second})

		require.NoError(t, f.scheduler.Start(context.Background()))
		require.False(t, f.scheduler.Status().NextRun.IsZero())
		require.Eventually(t, func() bool {
			return f.scheduler.Status().Cycles >= 1
		}, 3*time.Second, 10*time.Millisecond)
		require.NoError(t, f.scheduler.Stop(context.Background()))
	})
}

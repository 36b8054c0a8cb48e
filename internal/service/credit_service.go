package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"barter/internal/cache"
	"barter/internal/convert"
	"barter/internal/credit"
	"barter/internal/domain"
	"barter/internal/hub"
	"barter/internal/metrics"
	"barter/internal/prices"
	"barter/internal/publisher"
	"barter/internal/scheduler"
	"barter/internal/util"

	"github.com/shopspring/decimal"
)

const publisherBuffer = 64

type CreditService interface {
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Current() cache.Read
	Refresh(ctx context.Context) (scheduler.Result, error)
	Convert(amount decimal.Decimal, from, to domain.Unit) (decimal.Decimal, cache.Read, error)

	Subscribe(cb hub.Callback) hub.Token
	SubscribeChan(buffer int) (hub.Token, <-chan hub.Event)
	Unsubscribe(token hub.Token) bool

	Usage() (prices.Usage, bool)
	SchedulerStatus() scheduler.Status
	UpdateInterval() time.Duration
}

type creditServiceHandler struct {
	Cache        *cache.CreditCache
	Hub          *hub.Hub
	Scheduler    *scheduler.Scheduler
	UsageTracker *prices.UsageTracker
	Publishers   []publisher.Publisher
	Log          *slog.Logger

	interval time.Duration

	mu        sync.Mutex
	cancel    context.CancelFunc
	publishWg sync.WaitGroup
}

// NewCreditService owns the cache, hub and scheduler for one process.
// usage and publishers are optional.
func NewCreditService(
	cfg util.Config,
	source prices.PriceSource,
	usage *prices.UsageTracker,
	m *metrics.Metrics,
	publishers []publisher.Publisher,
	log *slog.Logger,
) CreditService {
	if log == nil {
		log = slog.Default()
	}
	creditCache := cache.New(cfg.Refresh.CacheTTL, nil)
	notifier := hub.New(log)
	aggregator := credit.NewAggregator(credit.AggregatorConfig{
		MinPrice:          cfg.Credit.MinPrice,
		MaxPrice:          cfg.Credit.MaxPrice,
		RequireMarketData: cfg.Credit.RequireMarketData,
	}, nil)

	m.WatchCache(func() float64 {
		read := creditCache.Get()
		if read.Empty {
			return -1
		}
		return read.Age.Seconds()
	})
	m.WatchHub(notifier.Failures, notifier.Dropped)

	return &creditServiceHandler{
		Cache: creditCache,
		Hub:   notifier,
		Scheduler: scheduler.New(
			scheduler.Config{
				Interval:       cfg.Refresh.Interval,
				FetchTimeout:   cfg.CoinGecko.Timeout,
				RefreshOnStart: cfg.Refresh.RefreshOnStart,
			},
			source,
			aggregator,
			creditCache,
			notifier,
			m,
			log,
		),
		UsageTracker: usage,
		Publishers:   publishers,
		Log:          log,
		interval:     cfg.Refresh.Interval,
	}
}

func (h *creditServiceHandler) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tokens := []hub.Token{}
	for _, p := range h.Publishers {
		token, events := h.Hub.SubscribeChan(publisherBuffer)
		tokens = append(tokens, token)
		h.publishWg.Add(1)
		go func(p publisher.Publisher) {
			defer h.publishWg.Done()
			publisher.Run(runCtx, events, p, h.Log)
		}(p)
	}

	if err := h.Scheduler.Start(ctx); err != nil {
		for _, token := range tokens {
			h.Hub.Unsubscribe(token)
		}
		cancel()
		return err
	}
	h.cancel = cancel
	return nil
}

// Shutdown stops refreshing, lets the last cycle land, then tears down
// subscribers and publishers. The cache is dropped last.
func (h *creditServiceHandler) Shutdown(ctx context.Context) error {
	errs := []error{}
	if err := h.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	// closes every channel, which ends the publisher loops
	h.Hub.Close()

	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.publishWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if cancel != nil {
		cancel()
	}

	for _, p := range h.Publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	h.Cache.Clear()
	return errors.Join(errs...)
}

func (h *creditServiceHandler) Current() cache.Read {
	return h.Cache.Get()
}

func (h *creditServiceHandler) Refresh(ctx context.Context) (scheduler.Result, error) {
	return h.Scheduler.Refresh(ctx)
}

// Convert always uses the cached credit, stale or not; an empty cache
// surfaces as a ConversionError.
func (h *creditServiceHandler) Convert(amount decimal.Decimal, from, to domain.Unit) (decimal.Decimal, cache.Read, error) {
	read := h.Cache.Get()
	out, err := convert.Convert(amount, from, to, read.Snapshot)
	return out, read, err
}

func (h *creditServiceHandler) Subscribe(cb hub.Callback) hub.Token {
	return h.Hub.Subscribe(cb)
}

func (h *creditServiceHandler) SubscribeChan(buffer int) (hub.Token, <-chan hub.Event) {
	return h.Hub.SubscribeChan(buffer)
}

func (h *creditServiceHandler) Unsubscribe(token hub.Token) bool {
	return h.Hub.Unsubscribe(token)
}

func (h *creditServiceHandler) Usage() (prices.Usage, bool) {
	if h.UsageTracker == nil {
		return prices.Usage{}, false
	}
	return h.UsageTracker.Snapshot(), true
}

func (h *creditServiceHandler) SchedulerStatus() scheduler.Status {
	return h.Scheduler.Status()
}

func (h *creditServiceHandler) UpdateInterval() time.Duration {
	return h.interval
}

package hub

import (
	"barter/internal/domain"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventCreditUpdate EventType = "creditUpdate"
	EventCreditValue  EventType = "creditValue"
	EventError        EventType = "error"
)

type Event struct {
	Type      EventType
	Snapshot  domain.CreditSnapshot
	Stale     bool
	Value     decimal.Decimal
	Message   string
	CreatedAt time.Time
}

func CreditUpdate(s domain.CreditSnapshot, stale bool) Event {
	return Event{
		Type:      EventCreditUpdate,
		Snapshot:  s,
		Stale:     stale,
		Value:     s.Value,
		CreatedAt: time.Now().UTC(),
	}
}

func CreditValue(v decimal.Decimal) Event {
	return Event{
		Type:      EventCreditValue,
		Value:     v,
		CreatedAt: time.Now().UTC(),
	}
}

func ErrorEvent(message string) Event {
	return Event{
		Type:      EventError,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

type Token string

type Callback func(Event) error

type subscriber struct {
	token Token
	cb    Callback
	// set for channel subscribers so unsubscribe can close it
	ch *chanSink
}

// Hub fans events out to subscribers in the order they subscribed. One
// goroutine delivers at a time; a Notify that arrives while a pass is
// running, including one made from inside a callback, queues its events
// behind that pass and returns.
type Hub struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs []subscriber

	queueMu    sync.Mutex
	queue      []Event
	delivering bool

	failures atomic.Int64
	dropped  atomic.Int64
}

func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log}
}

func (h *Hub) Subscribe(cb Callback) Token {
	if cb == nil {
		return ""
	}
	return h.add(subscriber{cb: cb})
}

func (h *Hub) add(s subscriber) Token {
	s.token = Token(uuid.NewString())
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, s)
	return s.token
}

// Unsubscribe reports whether token was registered. Unknown or repeated
// tokens are a no-op.
func (h *Hub) Unsubscribe(token Token) bool {
	h.mu.Lock()
	var removed *subscriber
	for i, s := range h.subs {
		if s.token == token {
			removed = &s
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	if removed == nil {
		return false
	}
	if removed.ch != nil {
		removed.ch.close()
	}
	return true
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify delivers events in order. Events from one call are never
// interleaved with another call's.
func (h *Hub) Notify(events ...Event) {
	if len(events) == 0 {
		return
	}
	h.queueMu.Lock()
	h.queue = append(h.queue, events...)
	if h.delivering {
		h.queueMu.Unlock()
		return
	}
	h.delivering = true
	h.queueMu.Unlock()

	for {
		h.queueMu.Lock()
		if len(h.queue) == 0 {
			h.delivering = false
			h.queue = nil
			h.queueMu.Unlock()
			return
		}
		e := h.queue[0]
		h.queue = h.queue[1:]
		h.queueMu.Unlock()

		h.deliver(e)
	}
}

func (h *Hub) deliver(e Event) {
	h.mu.RLock()
	subs := make([]subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		if err := invoke(s.cb, e); err != nil {
			h.failures.Add(1)
			h.log.Warn("subscriber failed",
				"token", s.token,
				"event", e.Type,
				"error", err,
			)
		}
	}
}

func invoke(cb Callback, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return cb(e)
}

// Failures counts callbacks that returned an error or panicked
func (h *Hub) Failures() int64 {
	return h.failures.Load()
}

// Dropped counts events a full channel subscriber never got
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone and closes every channel subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	for _, s := range subs {
		if s.ch != nil {
			s.ch.close()
		}
	}
}

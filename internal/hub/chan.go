package hub

import "sync"

type chanSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// send never blocks the notifying goroutine; a full buffer drops the event
func (c *chanSink) send(e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.ch <- e:
		return true
	default:
		return false
	}
}

func (c *chanSink) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// SubscribeChan delivers events on a buffered channel. The channel is
// closed on Unsubscribe or Close.
func (h *Hub) SubscribeChan(buffer int) (Token, <-chan Event) {
	if buffer < 1 {
		buffer = 1
	}
	sink := &chanSink{ch: make(chan Event, buffer)}
	cb := func(e Event) error {
		if !sink.send(e) {
			h.dropped.Add(1)
		}
		return nil
	}
	return h.add(subscriber{cb: cb, ch: sink}), sink.ch
}

package publisher

import (
	"barter/internal/hub"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Publisher forwards credit events to something outside the process
type Publisher interface {
	Publish(ctx context.Context, e hub.Event) error
	Close() error
}

type creditMessage struct {
	Type                string           `json:"type"`
	Value               *decimal.Decimal `json:"value,omitempty"`
	Status              string           `json:"status,omitempty"`
	Stale               bool             `json:"stale"`
	Error               string           `json:"error,omitempty"`
	TotalCoinsProcessed int              `json:"total_coins_processed,omitempty"`
	ValidCoinsUsed      int              `json:"valid_coins_used,omitempty"`
	ComputedAt          *time.Time       `json:"computed_at,omitempty"`
	SentAt              time.Time        `json:"sent_at"`
}

func encode(e hub.Event) ([]byte, error) {
	msg := creditMessage{
		Type:   string(e.Type),
		SentAt: e.CreatedAt,
	}
	switch e.Type {
	case hub.EventCreditUpdate:
		s := e.Snapshot
		msg.Value = &s.Value
		msg.Status = string(s.Status)
		msg.Stale = e.Stale
		msg.Error = s.ErrorMessage
		msg.TotalCoinsProcessed = s.TotalProcessed
		msg.ValidCoinsUsed = s.ValidUsed
		if !s.Timestamp.IsZero() {
			msg.ComputedAt = &s.Timestamp
		}
	case hub.EventCreditValue:
		v := e.Value
		msg.Value = &v
	case hub.EventError:
		msg.Error = e.Message
	}
	return json.Marshal(msg)
}

// Run drains events into p until the channel closes or ctx is done.
// creditValue events are skipped since creditUpdate already carries the
// value. A failed publish is logged and dropped.
func Run(ctx context.Context, events <-chan hub.Event, p Publisher, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == hub.EventCreditValue {
				continue
			}
			if err := p.Publish(ctx, e); err != nil {
				log.Warn("failed to publish credit event",
					"event", e.Type,
					"error", err,
				)
			}
		}
	}
}

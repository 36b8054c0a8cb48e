package api

import (
	"log/slog"
	"net/http"
	"time"

	"barter/internal/hub"
	"barter/internal/resolver"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer = 16
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

func newUpgrader(origins []string) websocket.Upgrader {
	allowed := map[string]struct{}{}
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	anyOrigin := allowsAnyOrigin(origins)

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if anyOrigin {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// stream pushes hub events to a websocket client, starting with the
// current credit so a new client doesn't wait a whole interval
func stream(c *gin.Context, r resolver.Resolver, origins []string, log *slog.Logger) {
	upgrader := newUpgrader(origins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	token, events := r.SubscribeEvents(streamBuffer)
	defer r.UnsubscribeEvents(token)

	// reads only to notice the client going away and to handle pongs
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	current := r.GetBarterCredit()
	first := r.StreamEvent(hub.Event{Type: hub.EventCreditUpdate, CreatedAt: time.Now().UTC()})
	first.Credit = &current
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(r.StreamEvent(e)); err != nil {
				log.Debug("websocket write failed", "token", token, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

/*

Event hub pushing pool lifecycle notifications (new provisional winner, lock,
completion, successor creation) to websocket subscribers. Pools publish
through the Notifier interface so the core never depends on transport
details; a nil hub is a valid no-op notifier for tests.

*/

package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thisispalash/tits-dot-fun/internal/logger"
	"github.com/thisispalash/tits-dot-fun/internal/types"
)

var hubLogger = logger.GetForComponent("event_hub")

// Notifier receives pool lifecycle events.
type Notifier interface {
	Publish(ev types.PoolEvent)
}

// Hub fans pool events out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// HandleWS upgrades an HTTP request into an event subscription.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hubLogger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	hubLogger.Debug().Int("subscribers", total).Msg("Websocket client subscribed")

	// Reader loop only exists to detect disconnects; clients never send.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Publish sends ev to every connected client, dropping any whose write fails.
func (h *Hub) Publish(ev types.PoolEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(ev); err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

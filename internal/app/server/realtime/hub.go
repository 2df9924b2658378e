package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/exp/slog"

	syncdomain "tether/internal/domain/sync"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

type client struct {
	send chan []byte
}

// Hub fans change-log entries out to connected websocket clients. A client
// whose buffer is full is dropped; it catches up through the change log.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log.With("component", "realtime_hub"),
	}
}

// Broadcast never blocks on slow clients.
func (h *Hub) Broadcast(entry syncdomain.ChangeLogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		h.log.Error("failed to encode change", "seq", entry.Seq, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping slow realtime client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Info("realtime client connected", "remote_addr", r.RemoteAddr, "total", total)

	// Clients never send anything; CloseRead handles pings and reports the
	// disconnect through ctx.
	ctx := conn.CloseRead(r.Context())
	defer h.remove(c)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := write(ctx, conn, data); err != nil {
				h.log.Debug("realtime write failed", "error", err)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

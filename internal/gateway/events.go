package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/pelican/internal/session"
)

const (
	// subscriberBuffer is the per-client backlog before events are dropped.
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// EventMessage is the JSON frame sent on /ws/events.
type EventMessage struct {
	Type    string    `json:"type"`
	Builder string    `json:"builder"`
	ID      int64     `json:"id"`
	Kind    string    `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// hub fans lifecycle events out to websocket subscribers. publish runs on
// the dispatch goroutine and never blocks: slow clients lose events.
type hub struct {
	logger *slog.Logger
	cancel func()

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, clients: make(map[chan []byte]struct{})}
}

func (h *hub) publish(ev session.Event) {
	data, err := json.Marshal(EventMessage{
		Type:    string(ev.Kind),
		Builder: ev.Tag.BuilderID,
		ID:      ev.Tag.ID,
		Kind:    string(ev.Tag.Kind),
		Reason:  ev.Reason,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.logger.Debug("gateway: event dropped for slow subscriber", "type", ev.Kind)
		}
	}
}

// subscribe registers a client. ok is false once the hub is closed.
func (h *hub) subscribe() (ch chan []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch = make(chan []byte, subscriberBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close detaches from the dispatcher and ends every subscription.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.cancel != nil {
		h.cancel()
	}
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// handleEvents upgrades to a websocket and streams lifecycle events until
// the client disconnects or the gateway stops.
func (g *Gateway) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Error("gateway: websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		ch, ok := g.hub.subscribe()
		if !ok {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer g.hub.unsubscribe(ch)

		// Clients only listen; CloseRead handles control frames and cancels
		// ctx when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				return
			case data, open := <-ch:
				if !open {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if err := writeFrame(ctx, conn, data); err != nil {
					g.logger.Debug("gateway: websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

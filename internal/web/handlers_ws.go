package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"espnow-lamp/internal/node"
)

const (
	wsReadLimit    = 4096
	wsClientBuffer = 64
	wsWriteTimeout = 10 * time.Second
)

// wsMessage is one frame of the event stream. The first frame after connect
// has type "state" and carries a node.State snapshot.
type wsMessage struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

func newWSMessage(event node.Event) wsMessage {
	return wsMessage{Type: event.Type, Data: event.Data, Time: time.Now().UTC()}
}

// WSHub fans node events out to WebSocket clients. Each client has a bounded
// send queue; a client whose queue is full when an event arrives is dropped.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan wsMessage

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan wsMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "clients", n)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws marshal", "type", msg.Type, "err", err)
				continue
			}
			h.fanOut(data)
		}
	}
}

func (h *WSHub) fanOut(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.drop(client)
			h.logger.Warn("ws client evicted", "reason", "send queue full")
		}
	}
}

// drop removes a registered client and closes its queue. h.mu must be held.
func (h *WSHub) drop(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}

// Stop is idempotent.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues msg for every client without blocking; when the hub is
// backed up the message is dropped.
func (h *WSHub) Broadcast(msg wsMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast queue full, dropping", "type", msg.Type)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// If no allowedOrigins configured, nhooyr defaults to same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsClientBuffer),
	}
	// The hub owns client.send once registered; queue the snapshot first.
	if snapshot, err := json.Marshal(wsMessage{Type: "state", Data: s.lamp.State(), Time: time.Now().UTC()}); err == nil {
		client.send <- snapshot
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by hub; close connection.
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			// Hub already shut down; close connection directly.
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel read context when hub shuts down.
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, _, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		// Incoming messages are ignored.
	}
}

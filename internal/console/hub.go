package console

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // 90% of pongWait
	maxMessageSize = 4096
)

// StreamMessage is one frame on the session stream.
type StreamMessage struct {
	Type string            `json:"type"`
	Data remediation.Event `json:"data"`
}

type outbound struct {
	tenant string
	data   []byte
}

// EventHub streams remediation session transitions to browser clients. Clients
// may narrow the stream to one tenant with ?tenant=.
type EventHub struct {
	clients    map[string]*streamClient
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan outbound

	authToken      string
	allowedOrigins []string

	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *Metrics
	mu       sync.RWMutex
	ctx      context.Context
}

func NewEventHub(ctx context.Context, authToken string, allowedOrigins []string, logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventHub{
		clients:        make(map[string]*streamClient),
		register:       make(chan *streamClient),
		unregister:     make(chan *streamClient),
		broadcast:      make(chan outbound, 256),
		authToken:      authToken,
		allowedOrigins: allowedOrigins,
		logger:         logger,
		metrics:        GetMetrics(),
		ctx:            ctx,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *EventHub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.metrics.SetStreamClients(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetStreamClients(count)
			h.logger.Debug("stream client connected", zap.String("client_id", c.id), zap.String("tenant", c.tenant))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetStreamClients(count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				if c.tenant != "" && c.tenant != msg.tenant {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping slow stream client", zap.String("client_id", id))
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for every interested client without blocking the session.
func (h *EventHub) Publish(ev remediation.Event) {
	data, err := json.Marshal(StreamMessage{Type: "session.transition", Data: ev})
	if err != nil {
		h.logger.Error("failed to marshal stream message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{tenant: ev.Tenant, data: data}:
	default:
		h.logger.Warn("stream broadcast queue full; dropping event", zap.String("session_id", ev.SessionID))
	}
}

// ServeWS upgrades an authenticated request (bearer header or token query param).
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" || token != h.authToken {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &streamClient{
		hub:    h,
		conn:   conn,
		id:     uuid.NewString(),
		tenant: r.URL.Query().Get("tenant"),
		send:   make(chan []byte, 64),
	}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if MatchOrigin(origin, allowed) {
			return true
		}
	}
	h.logger.Warn("rejected stream connection from unauthorized origin", zap.String("origin", origin))
	return false
}

type streamClient struct {
	hub    *EventHub
	conn   *websocket.Conn
	id     string
	tenant string
	send   chan []byte
}

// readPump only services control frames; clients never send data.
func (c *streamClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("stream client closed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

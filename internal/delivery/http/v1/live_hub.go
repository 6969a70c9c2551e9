package v1

import (
	"context"
	"net/http"
	"sync"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/internal/notifier"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveSendBuffer = 64
)

// LiveMessage is one frame of the admin live feed.
type LiveMessage struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// LiveHub pushes notifier signals to connected admin websockets.
type LiveHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*liveClient
}

type liveClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func NewLiveHub(checkOrigin func(r *http.Request) bool) *LiveHub {
	return &LiveHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*liveClient),
	}
}

// Attach subscribes the hub to the admin facing signals.
func (h *LiveHub) Attach(bus *notifier.Bus) {
	notifier.Subscribe(bus, func(_ context.Context, s notifier.OrderChanged) { h.broadcast(s) })
	notifier.Subscribe(bus, func(_ context.Context, s notifier.NewOrder) { h.broadcast(s) })
	notifier.Subscribe(bus, func(_ context.Context, s notifier.LowStock) { h.broadcast(s) })
	notifier.Subscribe(bus, func(_ context.Context, s notifier.RefundStatusChanged) { h.broadcast(s) })
}

func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an authenticated admin request.
func (h *LiveHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, _ := domain.UserFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithContext(r.Context()).Warn().Err(err).Msg("Live feed upgrade failed")
		return
	}

	c := &liveClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, liveSendBuffer)}
	if user != nil {
		c.userID = user.ID
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *LiveHub) register(c *liveClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.LiveClients.Inc()
	logger.Info().Str("client_id", c.id).Str("user_id", c.userID).Msg("Live client connected")
}

func (h *LiveHub) unregister(c *liveClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
		metrics.LiveClients.Dec()
	}
	h.mu.Unlock()
}

// broadcast drops the frame for clients whose buffer is full.
func (h *LiveHub) broadcast(s notifier.Signal) {
	frame, err := json.Marshal(LiveMessage{Kind: s.Kind(), Data: s})
	if err != nil {
		logger.Error().Err(err).Str("signal", s.Kind()).Msg("Live frame encode failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- frame:
		default:
			logger.Warn().Str("client_id", c.id).Msg("Live client too slow, frame dropped")
		}
	}
}

func (h *LiveHub) writePump(c *liveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump only watches for pongs and the close frame.
func (h *LiveHub) readPump(c *liveClient) {
	defer func() {
		h.unregister(c)
		logger.Info().Str("client_id", c.id).Msg("Live client disconnected")
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Package websocket broadcasts orchestration lifecycle events to connected
// observers over a websocket endpoint.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/events"
	"github.com/archonhq/archon/internal/events/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Hub fans bus events out to every connected observer. Observers are
// read-only; inbound frames are discarded.
type Hub struct {
	bus      bus.EventBus
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu           sync.Mutex
	clients      map[*client]struct{}
	subscription bus.Subscription
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		bus: eventBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log.WithFields(zap.String("component", "ws_gateway")),
		clients: make(map[*client]struct{}),
	}
}

// Start subscribes the hub to every orchestration event.
func (h *Hub) Start() error {
	sub, err := h.bus.Subscribe(events.SubjectAll, func(ctx context.Context, event *bus.Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		h.broadcast(data)
		return nil
	})
	if err != nil {
		return err
	}
	h.subscription = sub
	return nil
}

// Stop unsubscribes and disconnects every observer.
func (h *Hub) Stop() {
	if h.subscription != nil {
		if err := h.subscription.Unsubscribe(); err != nil {
			h.logger.Warn("Failed to unsubscribe gateway", zap.Error(err))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Register mounts the websocket endpoint.
func (h *Hub) Register(router *gin.Engine) {
	router.GET("/api/v1/ws", h.handleConnection)
}

func (h *Hub) handleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Observer connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow observer: drop the connection rather than block the bus.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		close(cl.send)
		delete(h.clients, cl)
	}
	h.mu.Unlock()
	_ = cl.conn.Close()
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

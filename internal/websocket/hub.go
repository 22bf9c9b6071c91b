package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nikarya-store/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusMessage is pushed to subscribers of an order
type StatusMessage struct {
	OrderRef string               `json:"order_ref"`
	Status   models.PaymentStatus `json:"status"`
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	orderRef string
	send     chan []byte
}

// Hub tracks subscribers per order reference
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan StatusMessage
	done       chan struct{}
	log        *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan StatusMessage, 64),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes subscriptions and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.orderRef] == nil {
				h.clients[c.orderRef] = make(map[*client]struct{})
			}
			h.clients[c.orderRef][c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c.orderRef]
	if !ok {
		return
	}
	if _, ok := subs[c]; ok {
		delete(subs, c)
		close(c.send)
	}
	if len(subs) == 0 {
		delete(h.clients, c.orderRef)
	}
}

func (h *Hub) deliver(msg StatusMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode status message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[msg.OrderRef] {
		select {
		case c.send <- data:
		default:
			// slow subscriber
			delete(h.clients[msg.OrderRef], c)
			close(c.send)
		}
	}
	if len(h.clients[msg.OrderRef]) == 0 {
		delete(h.clients, msg.OrderRef)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ref, subs := range h.clients {
		for c := range subs {
			close(c.send)
		}
		delete(h.clients, ref)
	}
}

// ClientCount returns the number of open subscriptions
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.clients {
		n += len(subs)
	}
	return n
}

// OrderStatusChanged queues a status push to the order's subscribers
func (h *Hub) OrderStatusChanged(ctx context.Context, orderRef string, status models.PaymentStatus) {
	select {
	case h.broadcast <- StatusMessage{OrderRef: orderRef, Status: status}:
	case <-h.done:
	case <-ctx.Done():
	}
}

// HandleWebSocket upgrades the request and subscribes it to orderRef
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, orderRef string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{hub: hub, conn: conn, orderRef: orderRef, send: make(chan []byte, sendBuffer)}
	select {
	case hub.register <- c:
	case <-hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only drains control frames so pongs and close are processed
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

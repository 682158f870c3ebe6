package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"networth-api/internal/models"
)

const (
	MessageSnapshot = "snapshot"
	MessageWarning  = "warning"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Message is the envelope pushed to subscribers.
type Message struct {
	Type      string                      `json:"type"`
	UserID    int64                       `json:"user_id"`
	Snapshot  *models.PerformanceSnapshot `json:"snapshot,omitempty"`
	Warning   string                      `json:"warning,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
}

type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans snapshot updates and soft warnings out to the websocket
// subscribers of each user. Slow subscribers drop messages.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[int64]map[*client]struct{}
	logger   *logrus.Entry
}

func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients: make(map[int64]map[*client]struct{}),
		logger:  logger.WithField("component", "stream_hub"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// PublishSnapshot pushes a fresh snapshot to the user's subscribers.
func (h *Hub) PublishSnapshot(userID int64, snapshot *models.PerformanceSnapshot) {
	h.publish(Message{Type: MessageSnapshot, UserID: userID, Snapshot: snapshot, Timestamp: time.Now().UTC()})
}

// PublishWarning pushes a soft warning to the user's subscribers.
func (h *Hub) PublishWarning(userID int64, message string) {
	h.publish(Message{Type: MessageWarning, UserID: userID, Warning: message, Timestamp: time.Now().UTC()})
}

func (h *Hub) publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode stream message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[msg.UserID] {
		select {
		case c.send <- data:
		default:
			h.logger.WithField("user_id", msg.UserID).Debug("Subscriber buffer full, dropping message")
		}
	}
}

// Subscribers returns the number of open connections for a user.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// ServeUser upgrades the request and streams the user's updates until the
// peer goes away.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Warn("Websocket upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// readPump drains control frames so pongs are processed.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("user_id", c.userID).Debug("Websocket closed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

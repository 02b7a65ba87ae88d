package notify

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var wsClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chipledger_ws_clients",
	Help: "Currently connected websocket clients",
})

// Client is one websocket consumer of a session's change feed.
type Client struct {
	userID    string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	once      sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// Hub routes broker events to the websocket clients of each session. One Run
// goroutine consumes the full feed; per-client write pumps drain buffered
// send channels so a stalled client never blocks the feed.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]map[*Client]struct{}), log: log}
}

// Run consumes the broker feed until the channel closes. Call in its own
// goroutine.
func (h *Hub) Run(events <-chan Event) {
	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.log.Error("marshal change event", zap.Error(err))
			continue
		}
		h.mu.RLock()
		for c := range h.rooms[ev.SessionID] {
			select {
			case c.send <- payload:
			default:
				h.log.Warn("closing slow websocket client",
					zap.String("user_id", c.userID),
					zap.String("session_id", c.sessionID))
				go h.remove(c)
			}
		}
		h.mu.RUnlock()
	}
}

// Serve registers the connection in the session's room and blocks until the
// client disconnects.
func (h *Hub) Serve(conn *websocket.Conn, sessionID, userID string) {
	c := &Client{
		userID:    userID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, 32),
	}

	h.mu.Lock()
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Client]struct{})
	}
	h.rooms[sessionID][c] = struct{}{}
	h.mu.Unlock()
	wsClients.Inc()

	h.log.Info("websocket client connected",
		zap.String("user_id", userID), zap.String("session_id", sessionID))

	go c.writePump(h.log)
	c.readPump() // blocks; clients only consume, reads just detect close

	h.remove(c)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.sessionID]
	if ok {
		if _, ok := room[c]; ok {
			delete(room, c)
			wsClients.Dec()
		}
		if len(room) == 0 {
			delete(h.rooms, c.sessionID)
		}
	}
	h.mu.Unlock()
	c.close()
}

func (c *Client) readPump() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(log *zap.Logger) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debug("websocket write failed", zap.String("user_id", c.userID), zap.Error(err))
			return
		}
	}
}

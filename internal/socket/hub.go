// Package socket fans batch events out to websocket clients grouped by
// cooperative.
package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"coffee-trace-api-server/internal/metrics"
	"coffee-trace-api-server/internal/models"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

const (
	EventBatchCreated       = "batch.created"
	EventBatchStatusChanged = "batch.status_changed"
)

// Event is the JSON frame pushed to clients.
type Event struct {
	Type       string               `json:"type"`
	Batch      *models.HarvestBatch `json:"batch"`
	FromStatus models.Status        `json:"from_status,omitempty"`
	At         time.Time            `json:"at"`
}

// Client is one registered connection. Frames are written by its own
// goroutine so a slow reader never blocks a broadcaster.
type Client struct {
	conn          *websocket.Conn
	cooperativeID int64
	userID        int64
	send          chan []byte
	closeOnce     sync.Once
}

// Hub tracks connected clients per cooperative.
type Hub struct {
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex
	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		metrics: m,
	}
}

// Register adds conn to its cooperative's group and starts its writer.
func (h *Hub) Register(cooperativeID, userID int64, conn *websocket.Conn) *Client {
	c := &Client{
		conn:          conn,
		cooperativeID: cooperativeID,
		userID:        userID,
		send:          make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	group, ok := h.clients[cooperativeID]
	if !ok {
		group = make(map[*Client]struct{})
		h.clients[cooperativeID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.WebsocketClients(1)
	log.Debug().Int64("cooperative_id", cooperativeID).Int64("user_id", userID).Msg("WebSocket client registered")

	go c.writePump()
	return c
}

// Unregister removes c and stops its writer. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	group := h.clients[c.cooperativeID]
	_, ok := group[c]
	if ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.clients, c.cooperativeID)
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.WebsocketClients(-1)
		log.Debug().Int64("cooperative_id", c.cooperativeID).Int64("user_id", c.userID).Msg("WebSocket client unregistered")
	}
	c.closeOnce.Do(func() { close(c.send) })
}

// ClientCount reports how many clients follow a cooperative.
func (h *Hub) ClientCount(cooperativeID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[cooperativeID])
}

// Broadcast queues message for every client of a cooperative. Clients whose
// buffer is full miss the frame.
func (h *Hub) Broadcast(cooperativeID int64, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[cooperativeID] {
		select {
		case c.send <- message:
		default:
			log.Warn().Int64("cooperative_id", cooperativeID).Int64("user_id", c.userID).Msg("WebSocket client lagging, frame dropped")
		}
	}
}

func (h *Hub) publish(ev Event) {
	ev.At = time.Now().UTC()
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode websocket event")
		return
	}
	h.Broadcast(ev.Batch.CooperativeID, raw)
}

func (h *Hub) BatchCreated(b *models.HarvestBatch) {
	h.publish(Event{Type: EventBatchCreated, Batch: b})
}

func (h *Hub) BatchStatusChanged(b *models.HarvestBatch, from models.Status) {
	h.publish(Event{Type: EventBatchStatusChanged, Batch: b, FromStatus: from})
}

func (c *Client) writePump() {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debug().Err(err).Int64("user_id", c.userID).Msg("WebSocket write failed")
			// drain so Broadcast never sees a full buffer from a dead client
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// RoomEvent is one room broadcast as it travels between instances.
type RoomEvent struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Except string          `json:"except,omitempty"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPublisher publishes room events for other instances.
type RedisPublisher interface {
	PublishRoomEvent(sessionID string, ev RoomEvent) error
}

// RedisSubscriber subscribes to a room channel and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeRoom(sessionID string, handler func(ev RoomEvent)) (cancel func(), err error)
}

// Hub maintains session rooms of connected clients. Broadcasts are delivered to local
// members at once and, when Redis is configured, published for the other instances.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client            // transportID -> client
	rooms    map[string]map[string]*Client // sessionID -> transportID -> client
	users    map[string]int                // userID -> open connections
	subs     map[string]func()
	origin   string
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		users:    make(map[string]int),
		subs:     make(map[string]func()),
		origin:   uuid.New().String(),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.users[c.UserID]++
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Unregister removes a client from the hub and every room it joined, then closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	if h.users[c.UserID]--; h.users[c.UserID] <= 0 {
		delete(h.users, c.UserID)
	}
	for sessionID, members := range h.rooms {
		if _, ok := members[c.ID]; ok {
			h.leaveLocked(sessionID, c.ID)
		}
	}
	close(c.send)
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Join subscribes a connected transport to a session room. Starts the Redis
// subscription for the room with its first local member. The subscription is
// opened without holding the hub lock.
func (h *Hub) Join(sessionID, transportID string) {
	h.mu.Lock()
	c, ok := h.clients[transportID]
	if !ok {
		h.mu.Unlock()
		return
	}
	first := h.rooms[sessionID] == nil
	if first {
		h.rooms[sessionID] = make(map[string]*Client)
	}
	h.rooms[sessionID][transportID] = c
	h.mu.Unlock()

	if first && h.redisSub != nil {
		h.subscribe(sessionID)
	}
}

func (h *Hub) subscribe(sessionID string) {
	cancel, err := h.redisSub.SubscribeRoom(sessionID, func(ev RoomEvent) {
		if ev.Origin == h.origin {
			return
		}
		h.deliver(sessionID, ev.Except, WSMessage{Event: ev.Event, Data: ev.Data})
	})
	if err != nil {
		h.logger.Warn("redis subscribe failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	// The room may have emptied, closed or been re-subscribed while the
	// subscription was being opened.
	if len(h.rooms[sessionID]) == 0 {
		cancel()
		return
	}
	if _, exists := h.subs[sessionID]; exists {
		cancel()
		return
	}
	h.subs[sessionID] = cancel
}

// Leave removes a transport from a session room.
func (h *Hub) Leave(sessionID, transportID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sessionID, transportID)
}

// CloseRoom drops every local member of a room.
func (h *Hub) CloseRoom(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, sessionID)
	if cancel, ok := h.subs[sessionID]; ok {
		cancel()
		delete(h.subs, sessionID)
	}
}

// Broadcast sends an event to every member of a room.
func (h *Hub) Broadcast(sessionID, event string, payload any) {
	h.BroadcastExcept(sessionID, "", event, payload)
}

// BroadcastExcept sends an event to every member of a room except one transport.
func (h *Hub) BroadcastExcept(sessionID, exceptTransportID, event string, payload any) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(sessionID, exceptTransportID, WSMessage{Event: event, Data: data})
	if h.redis != nil {
		ev := RoomEvent{Origin: h.origin, Event: event, Except: exceptTransportID, Data: data, At: time.Now().Unix()}
		if err := h.redis.PublishRoomEvent(sessionID, ev); err != nil {
			h.logger.Warn("redis publish failed", zap.String("session_id", sessionID), zap.String("event", event), zap.Error(err))
		}
	}
}

// SendTo sends an event to a single local transport.
func (h *Hub) SendTo(transportID, event string, payload any) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[transportID]
	if !ok {
		return
	}
	h.push(c, WSMessage{Event: event, Data: data})
}

// RoomSize returns the number of local members of a room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// UserConnections returns how many transports a user currently has open on this instance.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

func (h *Hub) deliver(sessionID, exceptTransportID string, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[sessionID] {
		if id == exceptTransportID {
			continue
		}
		h.push(c, msg)
	}
}

// push must be called with h.mu held; Unregister closes send under the write lock.
func (h *Hub) push(c *Client, msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client send buffer full, dropping message", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

func (h *Hub) leaveLocked(sessionID, transportID string) {
	members, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(members, transportID)
	if len(members) == 0 {
		delete(h.rooms, sessionID)
		if cancel, ok := h.subs[sessionID]; ok {
			cancel()
			delete(h.subs, sessionID)
		}
	}
}

func encode(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

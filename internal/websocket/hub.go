package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"hermes/server/internal/events"
	"hermes/server/internal/metrics"
	"hermes/server/internal/models"
	"hermes/server/internal/presence"

	"go.uber.org/zap"
)

// FriendLister is used to tell a user's friends when they come and go.
type FriendLister interface {
	ListFriends(ctx context.Context, username string) ([]models.Friend, error)
}

// Hub owns the room table. Rooms map to the connections currently joined;
// membership is per connection and is dropped when the connection goes.
type Hub struct {
	mu sync.RWMutex

	// Registered clients mapped by connection ID
	clients map[string]*Client
	// Connections per username
	users map[string]map[string]*Client
	// room -> connection ID -> client
	rooms map[string]map[string]*Client
	// connection ID -> joined rooms
	joined map[string]map[string]struct{}

	presence presence.Tracker
	friends  FriendLister
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewHub(tracker presence.Tracker, friends FriendLister, m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		users:    make(map[string]map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		joined:   make(map[string]map[string]struct{}),
		presence: tracker,
		friends:  friends,
		metrics:  m,
		log:      log,
	}
}

// Register adds a client. The first connection of a user marks them online
// and notifies their friends.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	if h.users[c.Username] == nil {
		h.users[c.Username] = make(map[string]*Client)
	}
	h.users[c.Username][c.ID] = c
	h.joined[c.ID] = make(map[string]struct{})
	h.mu.Unlock()

	h.metrics.Connections.Inc()
	h.log.Info("client connected", zap.String("username", c.Username), zap.String("conn", c.ID))

	first, err := h.presence.Connect(ctx, c.Username)
	if err != nil {
		h.log.Warn("failed to record presence", zap.String("username", c.Username), zap.Error(err))
		return
	}
	if first {
		h.broadcastPresence(ctx, c.Username, true, nil)
	}
}

// Unregister removes a client from every room and closes its send queue.
func (h *Hub) Unregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range h.joined[c.ID] {
		h.leaveLocked(c.ID, room)
	}
	delete(h.joined, c.ID)
	delete(h.clients, c.ID)
	if conns := h.users[c.Username]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.users, c.Username)
		}
	}
	close(c.send)
	h.metrics.Rooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()

	h.metrics.Connections.Dec()
	h.log.Info("client disconnected", zap.String("username", c.Username), zap.String("conn", c.ID))

	last, err := h.presence.Disconnect(ctx, c.Username)
	if err != nil {
		h.log.Warn("failed to record presence", zap.String("username", c.Username), zap.Error(err))
		return
	}
	if last {
		seen, _ := h.presence.LastSeen(ctx, c.Username)
		h.broadcastPresence(ctx, c.Username, false, &seen)
	}
}

// broadcastPresence sends a user's online/offline status to their friends
func (h *Hub) broadcastPresence(ctx context.Context, username string, online bool, lastSeen *time.Time) {
	friends, err := h.friends.ListFriends(ctx, username)
	if err != nil {
		h.log.Warn("failed to load friends for presence", zap.String("username", username), zap.Error(err))
		return
	}

	t := events.UserOnline
	if !online {
		t = events.UserOffline
	}
	ev, err := events.New(t, events.PresencePayload{Username: username, Online: online, LastSeen: lastSeen})
	if err != nil {
		return
	}
	for _, f := range friends {
		h.BroadcastToRoom(events.IdentityRoom(f.Username), ev, "")
	}
}

// Join subscribes a connection to a room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.joined[c.ID]
	if !ok {
		return
	}
	rooms[room] = struct{}{}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][c.ID] = c
	h.metrics.Rooms.Set(float64(len(h.rooms)))
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(c.ID, room)
	h.metrics.Rooms.Set(float64(len(h.rooms)))
}

func (h *Hub) leaveLocked(connID, room string) {
	if rooms, ok := h.joined[connID]; ok {
		delete(rooms, room)
	}
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// EvictUser removes every connection of username from room. Used when a
// member is kicked from a group.
func (h *Hub) EvictUser(username, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id := range h.users[username] {
		if _, ok := h.rooms[room][id]; ok {
			h.leaveLocked(id, room)
			n++
		}
	}
	h.metrics.Rooms.Set(float64(len(h.rooms)))
	return n
}

// DisconnectUser drops every room of every connection username holds and
// closes those sockets. The read pumps then unregister them.
func (h *Hub) DisconnectUser(username string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id, c := range h.users[username] {
		for room := range h.joined[id] {
			h.leaveLocked(id, room)
		}
		c.kick()
		n++
	}
	h.metrics.Rooms.Set(float64(len(h.rooms)))
	if n > 0 {
		h.log.Info("disconnected user", zap.String("username", username), zap.Int("connections", n))
	}
	return n
}

// BroadcastToRoom delivers ev to every connection joined to room except
// excludeConn. It returns the number of connections the event was queued for.
func (h *Hub) BroadcastToRoom(room string, ev events.Envelope, excludeConn string) int {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for id, c := range h.rooms[room] {
		if id == excludeConn {
			continue
		}
		if h.enqueueLocked(c, data) {
			n++
		}
	}
	return n
}

// SendToConn delivers ev to a single connection.
func (h *Hub) SendToConn(connID string, ev events.Envelope) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	return h.enqueueLocked(c, data)
}

// enqueueLocked must run under at least the read lock so the send channel
// cannot be closed underneath it. A full queue drops the client.
func (h *Hub) enqueueLocked(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.metrics.EventsDropped.WithLabelValues("slow_consumer").Inc()
		h.log.Warn("dropping slow client", zap.String("username", c.Username), zap.String("conn", c.ID))
		c.kick()
		return false
	}
}

// IsUserOnline checks if a user has at least one live connection here
func (h *Hub) IsUserOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.users[username]) > 0
}

// Stats is a snapshot for the stats endpoint.
type Stats struct {
	OnlineUsers []string `json:"onlineUsers"`
	Connections int      `json:"connections"`
	Rooms       int      `json:"rooms"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.users))
	for u := range h.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return Stats{OnlineUsers: users, Connections: len(h.clients), Rooms: len(h.rooms)}
}

// RoomsOf lists the rooms a connection has joined.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.joined[connID]))
	for r := range h.joined[connID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

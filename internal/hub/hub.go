package hub

import (
	"sort"
	"sync"

	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// Hub is the process-local connection registry. The room->connections and
// connection->rooms indices, together with per-user presence counts, change
// only under mu so no reader sees one side updated without the other.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client             // connID -> client
	users    map[string]map[string]*Client  // userID -> connID -> client
	rooms    map[string]map[string]*Client  // room -> connID -> client
	joined   map[string]map[string]struct{} // connID -> rooms
	presence map[string]map[string]int      // room -> userID -> joined connections
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		users:    make(map[string]map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		joined:   make(map[string]map[string]struct{}),
		presence: make(map[string]map[string]int),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	_, exists := h.clients[client.ID]
	h.clients[client.ID] = client
	h.mu.Unlock()

	if !exists {
		metrics.Connections.Inc()
	}
	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client registered")
}

// Bind indexes an authenticated client under its user id.
func (h *Hub) Bind(client *Client) {
	userID := client.UserID()
	if userID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	conns, ok := h.users[userID]
	if !ok {
		conns = make(map[string]*Client)
		h.users[userID] = conns
	}
	conns[client.ID] = client
}

// Join adds client to room. added is false when it was already there; first
// is true when this is the user's only connection in the room.
func (h *Hub) Join(client *Client, room string) (added, first bool) {
	userID := client.UserID()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false, false
	}
	if _, ok := h.joined[client.ID][room]; ok {
		return false, false
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.ID] = client

	rooms, ok := h.joined[client.ID]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[client.ID] = rooms
	}
	rooms[room] = struct{}{}

	counts, ok := h.presence[room]
	if !ok {
		counts = make(map[string]int)
		h.presence[room] = counts
	}
	counts[userID]++

	return true, counts[userID] == 1
}

// Leave removes client from room. last is true when the user has no other
// connection left in it.
func (h *Hub) Leave(client *Client, room string) (removed, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(client, room)
}

func (h *Hub) leaveLocked(client *Client, room string) (removed, last bool) {
	if _, ok := h.joined[client.ID][room]; !ok {
		return false, false
	}

	delete(h.joined[client.ID], room)
	if len(h.joined[client.ID]) == 0 {
		delete(h.joined, client.ID)
	}

	if members, ok := h.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}

	userID := client.UserID()
	counts := h.presence[room]
	counts[userID]--
	if counts[userID] <= 0 {
		delete(counts, userID)
		last = true
	}
	if len(counts) == 0 {
		delete(h.presence, room)
	}
	return true, last
}

// Unregister removes client from every index and closes its send side. It
// returns the rooms in which this was the user's last connection.
func (h *Hub) Unregister(client *Client) []string {
	h.mu.Lock()
	_, registered := h.clients[client.ID]

	var lastIn []string
	for room := range h.joined[client.ID] {
		if _, last := h.leaveLocked(client, room); last {
			lastIn = append(lastIn, room)
		}
	}

	if conns, ok := h.users[client.UserID()]; ok {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(h.users, client.UserID())
		}
	}
	delete(h.clients, client.ID)
	h.mu.Unlock()

	client.closeSend()
	if registered {
		metrics.Connections.Dec()
	}

	sort.Strings(lastIn)
	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Int("rooms_left", len(lastIn)).Msg("client unregistered")
	return lastIn
}

// Rooms lists the rooms client is joined to.
func (h *Hub) Rooms(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.joined[client.ID]))
	for room := range h.joined[client.ID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// InRoom reports whether client is joined to room.
func (h *Hub) InRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[client.ID][room]
	return ok
}

// Presence lists the users with at least one connection in room.
func (h *Hub) Presence(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.presence[room]))
	for userID := range h.presence[room] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// RoomSize is the number of connections joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// UserConnections is the number of authenticated connections of userID.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// ClientCount is the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsViewing reports whether any connection of userID has declared channelID
// as its active channel.
func (h *Hub) IsViewing(userID, channelID string) bool {
	for _, c := range h.userClients(userID) {
		if c.Session.ActiveChannel() == channelID {
			return true
		}
	}
	return false
}

// BroadcastRaw pushes data to every connection in room except those of
// excludeUser, and returns how many pushes were queued.
func (h *Hub) BroadcastRaw(room string, data []byte, excludeUser string) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		if excludeUser != "" && c.UserID() == excludeUser {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Push(data) {
			delivered++
		}
	}
	return delivered
}

// SendToUserRaw pushes data to every connection of userID except excludeConn.
func (h *Hub) SendToUserRaw(userID string, data []byte, excludeConn string) int {
	delivered := 0
	for _, c := range h.userClients(userID) {
		if c.ID == excludeConn {
			continue
		}
		if c.Push(data) {
			delivered++
		}
	}
	return delivered
}

// Clients returns a snapshot of every registered connection.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// ClientsOf returns the authenticated connections of userID.
func (h *Hub) ClientsOf(userID string) []*Client {
	return h.userClients(userID)
}

// RoomClients returns the connections joined to room.
func (h *Hub) RoomClients(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) userClients(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		out = append(out, c)
	}
	return out
}

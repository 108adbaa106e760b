package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/party"
	"github.com/tcriess/lightspeed-party/types"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 1000
)

// Hub keeps all connected clients and delivers room-scoped events to
// the clients currently subscribed to the room. It implements
// party.Notifier.
type Hub struct {
	session *party.Session

	// registered clients
	clients map[*Client]struct{}

	// mutex for manipulating the clients
	sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

// SetSession wires the session engine in after construction, the
// engine itself needs the hub as its notifier.
func (h *Hub) SetSession(session *party.Session) {
	h.session = session
}

func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

func (h *Hub) Register(client *Client) {
	h.Lock()
	h.clients[client] = struct{}{}
	h.Unlock()
	h.session.Reconnect(client.user.Id)
}

func (h *Hub) Unregister(client *Client) {
	h.Lock()
	if _, ok := h.clients[client]; !ok {
		h.Unlock()
		return
	}
	delete(h.clients, client)
	client.conn.Close()
	// wait for all loops and write operations to be finished before
	// closing the send channel
	client.Wait()
	close(client.Send)
	h.Unlock()
	h.session.Disconnect(client.user.Id)
}

// Publish delivers event to every client subscribed to roomId.
// Fire-and-forget, a slow client does not block the caller beyond its
// buffered send channel.
func (h *Hub) Publish(roomId string, event *types.Event) {
	data, err := json.Marshal(types.WireEvent{Event: event})
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "error", err)
		return
	}
	go func() {
		var wg sync.WaitGroup
		h.RLock()
		for client := range h.clients {
			if client.Room() != roomId {
				continue
			}
			wg.Add(1)
			client.Add(1)
			go func(c *Client) {
				defer wg.Done()
				defer c.Done()
				c.Send <- data
			}(client)
		}
		wg.Wait()
		h.RUnlock()
	}()
}

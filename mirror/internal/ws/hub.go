package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/snapsync/pkg/types"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Source is the part of the mirror the hub reads from.
// *supervisor.Supervisor satisfies it.
type Source interface {
	// View calls fn with the current entries while no event is delivered.
	View(fn func(entries []types.Entry))
	// Item returns the entry at index.
	Item(index int) (types.Entry, error)
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event    string          `json:"event"`
	Index    *int            `json:"index,omitempty"`
	OldIndex *int            `json:"old_index,omitempty"`
	Key      string          `json:"key,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     *SnapshotData   `json:"data,omitempty"`
}

// SnapshotData is the payload of the "snapshot" message.
type SnapshotData struct {
	Items []types.Entry `json:"items"`
}

// Hub manages WebSocket clients and forwards change events to all of them.
type Hub struct {
	src Source

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads snapshots and values from src.
func New(src Source) *Hub {
	return &Hub{
		src:     src,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	// The snapshot is queued and the client registered while no event can be
	// delivered, so the client sees every later event exactly once.
	var snapErr error
	h.src.View(func(entries []types.Entry) {
		if entries == nil {
			entries = []types.Entry{}
		}
		data, err := json.Marshal(Message{Event: "snapshot", Data: &SnapshotData{Items: entries}})
		if err != nil {
			snapErr = err
			return
		}
		c.send <- data // fresh buffer, never blocks
		h.register(c)
	})
	if snapErr != nil {
		slog.Error("ws: encode snapshot", "err", snapErr)
		conn.Close()
		return
	}
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- events.Listener --------------------------------------------------------

// OnChange broadcasts ev. Inserted and Updated messages carry the new value.
func (h *Hub) OnChange(ev types.ChangeEvent) {
	msg := Message{Event: ev.Type.String(), Key: ev.Key}
	switch ev.Type {
	case types.Inserted, types.Updated:
		msg.Index = intPtr(ev.Index)
		if e, err := h.src.Item(ev.Index); err == nil {
			msg.Value = e.Value
		}
	case types.Removed:
		msg.Index = intPtr(ev.Index)
	case types.Moved:
		msg.Index = intPtr(ev.Index)
		msg.OldIndex = intPtr(ev.OldIndex)
	}
	h.broadcast(msg)
}

// OnInitialSyncComplete broadcasts a "synced" message.
func (h *Hub) OnInitialSyncComplete() {
	h.broadcast(Message{Event: "synced"})
}

// OnCancelled broadcasts a "cancelled" message carrying err.
func (h *Hub) OnCancelled(err error) {
	msg := Message{Event: "cancelled"}
	if err != nil {
		msg.Error = err.Error()
	}
	h.broadcast(msg)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues msg for every client. Sends happen under the read lock so
// unregister cannot close a channel mid-send.
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws: encode event", "event", msg.Event, "err", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		// A client that missed an event can no longer follow positions.
		slog.Warn("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func intPtr(i int) *int { return &i }

// writePump drains the client's send channel into the connection and sends
// periodic pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Hub shut down or dropped the client.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames to process control messages and detect disconnects.
// Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

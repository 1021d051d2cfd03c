// Package hub fans task status and log updates out to live WebSocket
// subscribers. Delivery is at-most-once and fire-and-forget: nothing
// is buffered for disconnected clients, a reconnecting client must
// re-subscribe and reconcile through the poll read path.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowforge/flowforge/internal/protocol"
)

// Heartbeat timing. pongWait allows missing two heartbeats before the
// connection is torn down.
const (
	pingPeriod = 30 * time.Second
	pongWait   = 90 * time.Second
	writeWait  = 10 * time.Second

	// sendBuffer is per-connection; a client that falls this far
	// behind is dropped rather than blocking the broadcaster
	sendBuffer = 32
)

// Hub maintains live connections and their task subscriptions
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[*connection]struct{}
}

type connection struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu   sync.Mutex
	subs map[string]struct{}
}

// New creates a Hub
func New() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: make(map[*connection]struct{}),
	}
}

// HandleWebSocket upgrades an incoming request and services the
// connection until it drops
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}

	c := &connection{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		subs: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.connections[c] = struct{}{}
	h.mu.Unlock()

	c.enqueueJSON(protocol.TypeConnectionStatus, protocol.ConnectionStatusMessage{Connected: true})

	go c.writePump(func() { h.remove(c) })
	go c.readPump(func() { h.remove(c) })
}

func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	_, ok := h.connections[c]
	if ok {
		delete(h.connections, c)
	}
	h.mu.Unlock()

	if ok {
		close(c.done)
		c.conn.Close()
	}
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// BroadcastStatus sends a task_status_update to every connection
// subscribed to the task
func (h *Hub) BroadcastStatus(msg protocol.TaskStatusMessage) {
	h.broadcast(msg.TaskID, protocol.TypeTaskStatusUpdate, msg)
}

// BroadcastLogs sends a task_logs_update to every connection
// subscribed to the task
func (h *Hub) BroadcastLogs(msg protocol.TaskLogsMessage) {
	h.broadcast(msg.TaskID, protocol.TypeTaskLogsUpdate, msg)
}

func (h *Hub) broadcast(taskID, msgType string, payload interface{}) {
	data, err := protocol.MarshalEnvelope(msgType, payload)
	if err != nil {
		log.Printf("marshal %s failed: %v", msgType, err)
		return
	}

	h.mu.RLock()
	var slow []*connection
	for c := range h.connections {
		if !c.subscribed(taskID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client can't keep up; tear it down instead of blocking
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c)
	}
}

func (c *connection) subscribed(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[taskID]
	return ok
}

// subscribe and unsubscribe are idempotent
func (c *connection) subscribe(taskID string) {
	c.mu.Lock()
	c.subs[taskID] = struct{}{}
	c.mu.Unlock()
}

func (c *connection) unsubscribe(taskID string) {
	c.mu.Lock()
	delete(c.subs, taskID)
	c.mu.Unlock()
}

func (c *connection) enqueueJSON(msgType string, payload interface{}) {
	data, err := protocol.MarshalEnvelope(msgType, payload)
	if err != nil {
		log.Printf("marshal %s failed: %v", msgType, err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *connection) readPump(onClose func()) {
	defer onClose()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read error: %v", err)
			}
			return
		}

		// Extend read deadline on any message received
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case protocol.TypeSubscribe:
			var sub protocol.SubscribeMessage
			if err := json.Unmarshal(env.Payload, &sub); err != nil {
				log.Printf("invalid subscribe: %v", err)
				continue
			}
			if sub.TaskID != "" {
				c.subscribe(sub.TaskID)
			}

		case protocol.TypeUnsubscribe:
			var sub protocol.SubscribeMessage
			if err := json.Unmarshal(env.Payload, &sub); err != nil {
				log.Printf("invalid unsubscribe: %v", err)
				continue
			}
			c.unsubscribe(sub.TaskID)

		case protocol.TypePing:
			// Application-level ping for clients that can't send
			// WebSocket control frames
			c.enqueueJSON(protocol.TypePong, nil)
		}
	}
}

func (c *connection) writePump(onClose func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		onClose()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

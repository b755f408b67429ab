package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/logging"
)

// Frame types on the /ws stream.
//
// Server to client: snapshot (once, on connect), state, ack, pong, error.
// Client to server: watch, unwatch, ping.
const (
	FrameSnapshot = "snapshot"
	FrameState    = "state"
	FrameAck      = "ack"
	FramePong     = "pong"
	FrameError    = "error"

	FrameWatch   = "watch"
	FrameUnwatch = "unwatch"
	FramePing    = "ping"

	wsSendBufferSize = 256
)

// StateChangedEvent is one registry state change as streamed to clients.
type StateChangedEvent struct {
	Key      string            `json:"key"`
	Name     string            `json:"name"`
	Type     device.DeviceType `json:"type"`
	Previous device.State      `json:"previous"`
	State    device.State      `json:"state"`
	Source   device.Source     `json:"source"`
	At       time.Time         `json:"at"`
}

// Frame is every message on the stream. Which fields are set depends on
// Type.
type Frame struct {
	Type string `json:"type"`
	// ID echoes a client request id on ack, pong and error.
	ID      string             `json:"id,omitempty"`
	Keys    []string           `json:"keys,omitempty"`
	Devices []device.Device    `json:"devices,omitempty"`
	Change  *StateChangedEvent `json:"change,omitempty"`
	Message string             `json:"message,omitempty"`
	Sent    string             `json:"sent,omitempty"`
}

// Hub fans registry state changes out to WebSocket clients. A client
// receives every device until it sends a watch frame; from then on only
// the watched keys.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu      sync.Mutex
	send    chan []byte
	closed  bool
	watch   map[string]struct{}
	dropped int
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware decides which origins reach the handler.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx ends and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnStateChange implements device.Observer. The frame is encoded once and
// queued to every interested client; a client whose buffer is full misses
// it.
func (h *Hub) OnStateChange(_ context.Context, change device.StateChange) {
	data, err := json.Marshal(Frame{
		Type: FrameState,
		Change: &StateChangedEvent{
			Key:      change.Key,
			Name:     change.Name,
			Type:     change.Type,
			Previous: change.Previous,
			State:    change.State,
			Source:   change.Source,
			At:       change.At,
		},
		Sent: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("encoding websocket state frame", "key", change.Key, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.wants(change.Key) {
			c.queue(data)
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// handleWebSocket upgrades the request, sends the current device set and
// starts streaming changes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	// Register and read the device set under the client lock: a change
	// committed after the read is queued behind the snapshot, one committed
	// before it is already in the snapshot.
	c.mu.Lock()
	s.hub.register(c)
	if data, err := encodeFrame(Frame{Type: FrameSnapshot, Devices: s.control.ListDevices()}); err == nil {
		c.send <- data
	}
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *wsClient) readPump() {
	defer c.hub.unregister(c)

	cfg := c.hub.cfg
	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	ping, pong := wsTimings(cfg)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ping + pong)) }
	_ = extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers don't always answer protocol pings; any frame counts.
		_ = extend() //nolint:errcheck // see above
		c.handle(data)
	}
}

func (c *wsClient) writePump() {
	ping, pong := wsTimings(c.hub.cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck // write errors end the loop below
			c.conn.SetWriteDeadline(time.Now().Add(pong))
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write errors end the loop below
			c.conn.SetWriteDeadline(time.Now().Add(pong))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(Frame{Type: FrameError, Message: "invalid JSON frame"})
		return
	}

	switch f.Type {
	case FrameWatch:
		if len(f.Keys) == 0 {
			c.reply(Frame{Type: FrameError, ID: f.ID, Message: "watch needs at least one key"})
			return
		}
		c.reply(Frame{Type: FrameAck, ID: f.ID, Keys: c.setWatch(f.Keys, true)})
	case FrameUnwatch:
		c.reply(Frame{Type: FrameAck, ID: f.ID, Keys: c.setWatch(f.Keys, false)})
	case FramePing:
		c.reply(Frame{Type: FramePong, ID: f.ID})
	default:
		c.reply(Frame{Type: FrameError, ID: f.ID, Message: "unknown frame type: " + f.Type})
	}
}

// setWatch adds or removes keys and returns the resulting watch list.
// Unwatch without keys, or removing the last key, returns the client to
// receiving every device.
func (c *wsClient) setWatch(keys []string, add bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case add:
		if c.watch == nil {
			c.watch = make(map[string]struct{}, len(keys))
		}
		for _, k := range keys {
			c.watch[k] = struct{}{}
		}
	case len(keys) == 0:
		c.watch = nil
	default:
		for _, k := range keys {
			delete(c.watch, k)
		}
		if len(c.watch) == 0 {
			c.watch = nil
		}
	}

	out := make([]string, 0, len(c.watch))
	for k := range c.watch {
		out = append(out, k)
	}
	return out
}

func (c *wsClient) wants(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watch == nil {
		return true
	}
	_, ok := c.watch[key]
	return ok
}

func encodeFrame(f Frame) ([]byte, error) {
	f.Sent = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(f)
}

func (c *wsClient) reply(f Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		return
	}
	c.queue(data)
}

// queue never blocks. Frames for a closed or backed-up client are dropped.
func (c *wsClient) queue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.dropped++
		if c.dropped == 1 || c.dropped%100 == 0 {
			c.hub.logger.Warn("websocket client too slow, dropping frames", "dropped", c.dropped)
		}
	}
}

// close ends the write pump. It is safe to call more than once.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// wsTimings returns the ping interval and pong wait, falling back to
// 30s and 10s when unset.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong = time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

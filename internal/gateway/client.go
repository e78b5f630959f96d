package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// strategies filters envelopes by channel suffix; empty receives all.
	subMu      sync.RWMutex
	strategies map[string]bool
}

// subscribeMsg changes the client's strategy filter:
// {"type":"SUBSCRIBE","strategies":["sma_crossover"]}.
type subscribeMsg struct {
	Type       string   `json:"type"`
	Strategies []string `json:"strategies"`
	Ping       int64    `json:"ping"`
}

// ServeHTTP upgrades the request and registers a client. Query parameters:
// since=<seq> replays buffered envelopes after seq, strategy=a,b filters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := int64(-1)
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	conn.EnableWriteCompression(true)

	c := &Client{
		conn: conn,
		hub:  h,
	}
	c.setStrategies(splitList(r.URL.Query().Get("strategy")))

	h.register(c, since)
	go c.writePump()
	go c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) setStrategies(names []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(names) == 0 {
		c.strategies = nil
		return
	}
	c.strategies = make(map[string]bool, len(names))
	for _, n := range names {
		c.strategies[n] = true
	}
}

// matches reports whether the client wants envelopes on channel.
func (c *Client) matches(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.strategies) == 0 {
		return true
	}
	i := strings.IndexByte(channel, ':')
	if i < 0 {
		return true
	}
	return c.strategies[channel[i+1:]]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued envelopes into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		switch {
		case msg.Type == "SUBSCRIBE":
			c.setStrategies(msg.Strategies)
		case msg.Ping > 0:
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.hub.mu.RLock()
			if c.hub.clients[c] {
				select {
				case c.send <- pong:
				default:
				}
			}
			c.hub.mu.RUnlock()
		}
	}
}

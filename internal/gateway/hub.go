// Package gateway streams backtest progress to WebSocket clients. A Hub is
// a backtest.Recorder: every observed equity point, fill, halt and run
// completion becomes a JSON envelope fanned out to connected clients and
// kept in a replay buffer for late joiners.
package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-backtestv1/internal/model"
)

// Channel prefixes. The full channel is "<prefix>:<strategy>".
const (
	ChannelEquity = "equity"
	ChannelFill   = "fill"
	ChannelHalt   = "halt"
	ChannelRun    = "run"
)

// sendBuffer is the per-client queue depth beyond any replayed backlog.
const sendBuffer = 256

// Hub manages WebSocket clients and progress fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer
	log     *zap.Logger

	// equityEvery throttles equity envelopes per strategy; run, fill and
	// halt envelopes are never throttled.
	equityEvery int
	equitySeen  map[string]int

	now func() time.Time
}

// NewHub creates a hub. equityEvery <= 1 publishes every equity point;
// replaySize <= 0 uses the replay buffer default.
func NewHub(equityEvery, replaySize int, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if equityEvery < 1 {
		equityEvery = 1
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		replay:      NewReplayBuffer(replaySize),
		log:         log.Named("gateway"),
		equityEvery: equityEvery,
		equitySeen:  make(map[string]int),
		now:         time.Now,
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func (h *Hub) register(c *Client, since int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var backlog [][]byte
	if since >= 0 {
		for _, e := range h.replay.Range(since+1, h.seq) {
			if c.matches(e.Channel) {
				backlog = append(backlog, e.Data)
			}
		}
	}
	c.send = make(chan []byte, sendBuffer+len(backlog))
	for _, b := range backlog {
		c.send <- b
	}
	h.clients[c] = true
	h.log.Info("ws client connected", zap.Int("clients", len(h.clients)), zap.Int64("since", since))
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ws client disconnected", zap.Int("clients", n))
}

type equityData struct {
	Timestamp  int64   `json:"ts"`
	Equity     float64 `json:"equity"`
	Position   float64 `json:"position"`
	Mark       float64 `json:"mark"`
	Unrealized float64 `json:"unrealized"`
	Drawdown   float64 `json:"drawdown"`
	Halted     bool    `json:"halted"`
}

type runData struct {
	Bars      int     `json:"bars"`
	ElapsedMs float64 `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
}

func (h *Hub) ObserveEquity(strategy string, p model.EquityPoint) {
	h.mu.Lock()
	n := h.equitySeen[strategy]
	h.equitySeen[strategy] = n + 1
	h.mu.Unlock()
	if n%h.equityEvery != 0 {
		return
	}
	h.publish(ChannelEquity+":"+strategy, equityData{
		Timestamp:  p.Timestamp,
		Equity:     p.Equity,
		Position:   p.Position,
		Mark:       p.MarkPrice,
		Unrealized: p.Unrealized,
		Drawdown:   p.Drawdown,
		Halted:     p.Halted,
	})
}

func (h *Hub) ObserveFill(strategy string, f model.Fill) {
	h.publish(ChannelFill+":"+strategy, f)
}

func (h *Hub) ObserveHalt(strategy, reason string) {
	h.publish(ChannelHalt+":"+strategy, map[string]string{"reason": reason})
}

func (h *Hub) ObserveRun(strategy string, bars int, elapsed time.Duration, err error) {
	d := runData{Bars: bars, ElapsedMs: float64(elapsed.Microseconds()) / 1000.0}
	if err != nil {
		d.Error = err.Error()
	}
	h.publish(ChannelRun+":"+strategy, d)

	h.mu.Lock()
	delete(h.equitySeen, strategy)
	h.mu.Unlock()
}

func (h *Hub) publish(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("marshal progress", zap.String("channel", channel), zap.Error(err))
		return
	}
	h.Broadcast(channel, data)
}

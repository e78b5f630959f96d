package gateway

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trading-backtestv1/internal/model"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	buf := buildEnvelope("equity:sma", []byte(`{"equity":1010.5,"halted":false}`), now, 42)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != "equity:sma" || env.Seq != 42 {
		t.Errorf("envelope %+v", env)
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil || !parsed.Equal(now) {
		t.Errorf("ts = %q (%v)", env.TS, err)
	}
	var data struct {
		Equity float64 `json:"equity"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Equity != 1010.5 {
		t.Errorf("data = %s", env.Data)
	}
}

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, "equity:x", []byte("msg"))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		if e.Seq != int64(i)+3 {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, int64(i)+3)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)

	// Push 8 entries; the first 3 are evicted
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, "fill:x", []byte("msg"))
	}
	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Range(1, 10)
	if len(got) != 5 || got[0].Seq != 4 || got[4].Seq != 8 {
		t.Errorf("range after wrap: %+v", got)
	}
	if n := len(NewReplayBuffer(10).Range(1, 100)); n != 0 {
		t.Errorf("empty buffer Range should return 0, got %d", n)
	}
}

func TestHub_ThrottlesEquityOnly(t *testing.T) {
	h := NewHub(3, 0, nil)
	for i := 0; i < 7; i++ {
		h.ObserveEquity("sma", model.EquityPoint{Timestamp: int64(i)})
	}
	h.ObserveFill("sma", model.Fill{OrderID: "ORD-1"})
	h.ObserveHalt("sma", "max drawdown exceeded")

	// equity points 0, 3, 6 plus one fill and one halt
	if got := h.Seq(); got != 5 {
		t.Fatalf("seq = %d, want 5", got)
	}
	entries := h.replay.Range(1, 5)
	var channels []string
	for _, e := range entries {
		channels = append(channels, e.Channel)
	}
	want := "equity:sma,equity:sma,equity:sma,fill:sma,halt:sma"
	if strings.Join(channels, ",") != want {
		t.Errorf("channels = %v", channels)
	}

	// a finished run resets the throttle counter
	h.ObserveRun("sma", 7, time.Second, errors.New("boom"))
	h.ObserveEquity("sma", model.EquityPoint{})
	if got := h.Seq(); got != 7 {
		t.Errorf("seq after run = %d, want 7", got)
	}
	var rd runData
	if err := json.Unmarshal(extractData(t, h.replay.Range(6, 6)[0].Data), &rd); err != nil {
		t.Fatal(err)
	}
	if rd.Bars != 7 || rd.Error != "boom" || rd.ElapsedMs != 1000 {
		t.Errorf("run data %+v", rd)
	}
}

func TestClient_Matches(t *testing.T) {
	c := &Client{}
	if !c.matches("equity:a") {
		t.Error("unfiltered client should receive everything")
	}
	c.setStrategies(splitList("a, b,"))
	if !c.matches("fill:a") || !c.matches("run:b") || c.matches("equity:c") {
		t.Error("strategy filter mismatch")
	}
	if !c.matches("system") {
		t.Error("channels without a strategy always match")
	}
}

func extractData(t *testing.T, buf []byte) []byte {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatal(err)
	}
	return env.Data
}

// readEnvelopes reads frames until n envelopes arrive or the deadline hits.
func readEnvelopes(t *testing.T, conn *websocket.Conn, n int) []envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out []envelope
	for len(out) < n {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %d envelopes: %v", len(out), err)
		}
		for _, line := range strings.Split(string(msg), "\n") {
			var env envelope
			if err := json.Unmarshal([]byte(line), &env); err != nil {
				t.Fatalf("bad envelope %q: %v", line, err)
			}
			out = append(out, env)
		}
	}
	return out
}

func TestHub_WebSocketReplayAndLive(t *testing.T) {
	h := NewHub(1, 0, nil)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	h.ObserveEquity("a", model.EquityPoint{Timestamp: 1, Equity: 100})
	h.ObserveEquity("b", model.EquityPoint{Timestamp: 1, Equity: 200})
	h.ObserveEquity("a", model.EquityPoint{Timestamp: 2, Equity: 101})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?since=0&strategy=a"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	backlog := readEnvelopes(t, conn, 2)
	if backlog[0].Seq != 1 || backlog[1].Seq != 3 {
		t.Errorf("backlog seqs = %d, %d; want 1, 3", backlog[0].Seq, backlog[1].Seq)
	}
	for _, env := range backlog {
		if env.Channel != "equity:a" {
			t.Errorf("filtered client got %s", env.Channel)
		}
	}

	h.ObserveFill("b", model.Fill{OrderID: "ORD-9"})
	h.ObserveFill("a", model.Fill{OrderID: "ORD-7", Side: model.Buy, Price: 100, Qty: 1})
	live := readEnvelopes(t, conn, 1)
	if live[0].Channel != "fill:a" || live[0].Seq != 5 {
		t.Fatalf("live envelope %+v", live[0])
	}
	var f model.Fill
	if err := json.Unmarshal(live[0].Data, &f); err != nil || f.OrderID != "ORD-7" {
		t.Errorf("fill payload %s", live[0].Data)
	}
	if h.ClientCount() != 1 {
		t.Errorf("clients = %d", h.ClientCount())
	}
}

func TestHub_RejectsBadSince(t *testing.T) {
	h := NewHub(1, 0, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?since=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("response = %+v", resp)
	}
}

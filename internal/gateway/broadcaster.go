package gateway

import (
	"strconv"
	"time"
)

// buildEnvelope hand-crafts {"channel":"...","data":...,"ts":"...","seq":N}
// around an already-encoded payload, avoiding a second json.Marshal.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// Broadcast sends data on channel to every matching client and stores the
// envelope for replay. Slow clients drop messages rather than block the
// replay loop.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	buf := buildEnvelope(channel, data, h.now().UTC(), h.seq)
	h.replay.Push(h.seq, channel, buf)

	for client := range h.clients {
		if !client.matches(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

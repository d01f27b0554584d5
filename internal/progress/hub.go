// Package progress streams optimizer progress to websocket clients.
//
// Every finished cell becomes a {"type":"cell",...} envelope and the final
// report a {"type":"done",...} envelope. Envelopes carry a monotonic seq; a
// client reconnecting with ?after=<seq> is replayed what it missed.
package progress

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tvbacktest/internal/optimizer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub fans progress envelopes out to connected websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer
}

// NewHub creates a hub keeping the last replayCap envelopes for late joiners.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replayCap),
	}
}

// CellEvent is the payload of a "cell" envelope. Score is omitted for cells
// that cannot be scored.
type CellEvent struct {
	Strategy       string   `json:"strategy"`
	Variant        int      `json:"variant"`
	Dataset        string   `json:"dataset"`
	Params         string   `json:"params"`
	Score          *float64 `json:"score,omitempty"`
	NetProfitPct   float64  `json:"net_profit_pct"`
	MaxDrawdownPct float64  `json:"max_drawdown_pct"`
	Trades         int      `json:"trades"`
	Cached         bool     `json:"cached,omitempty"`
	Error          string   `json:"error,omitempty"`
	DurationMs     float64  `json:"duration_ms"`
}

// DoneEvent is the payload of a "done" envelope.
type DoneEvent struct {
	Strategy    string       `json:"strategy"`
	Cells       int          `json:"cells"`
	FailedCells int          `json:"failed_cells"`
	Best        *BestVariant `json:"best,omitempty"`
	ElapsedMs   float64      `json:"elapsed_ms"`
}

// BestVariant summarises the winning variant.
type BestVariant struct {
	Params string  `json:"params"`
	Score  float64 `json:"score"`
}

// OnCell broadcasts a finished cell.
func (h *Hub) OnCell(c optimizer.CellResult) {
	ev := CellEvent{
		Strategy:       c.Strategy,
		Variant:        c.Variant,
		Dataset:        c.DatasetName,
		Params:         c.Params.String(),
		NetProfitPct:   c.Metrics.NetProfitPct,
		MaxDrawdownPct: c.Metrics.MaxDrawdownPct,
		Trades:         c.Metrics.TotalTrades,
		Cached:         c.Cached,
		DurationMs:     float64(c.Duration.Microseconds()) / 1000.0,
	}
	if c.Scored() {
		s := c.Score
		ev.Score = &s
	}
	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	h.publish("cell", ev)
}

// Finish broadcasts the end of a run.
func (h *Hub) Finish(r *optimizer.Report) {
	ev := DoneEvent{
		Strategy:    r.Strategy,
		Cells:       r.Cells,
		FailedCells: r.FailedCells,
		ElapsedMs:   float64(r.Elapsed.Microseconds()) / 1000.0,
	}
	if best, ok := r.Best(); ok {
		ev.Best = &BestVariant{Params: best.Params.String(), Score: best.Score}
	}
	h.publish("done", ev)
}

func (h *Hub) publish(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[progress] marshal %s: %v", typ, err)
		return
	}

	h.mu.Lock()
	h.seq++
	env := buildEnvelope(typ, data, time.Now().UTC(), h.seq)
	h.replay.Push(h.seq, env)
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			// slow client; it can resync with ?after=
		}
	}
	h.mu.Unlock()
}

// buildEnvelope hand-assembles {"type":...,"data":...,"ts":...,"seq":N}.
func buildEnvelope(typ string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(typ)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// ServeHTTP upgrades the request and registers the client. Buffered
// envelopes newer than the "after" query parameter are sent first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[progress] ws upgrade error: %v", err)
		return
	}
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	// Holding the lock while queueing the backlog keeps replay and live
	// envelopes in seq order.
	h.mu.Lock()
	for _, e := range h.replay.After(after) {
		select {
		case client.send <- e.Data:
		default:
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[progress] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
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

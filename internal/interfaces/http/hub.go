package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/optionflow/internal/models"
	"github.com/sawpanic/optionflow/internal/scan/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Event is one message on the /ws stream
type Event struct {
	Type    string          `json:"type"`
	RunID   string          `json:"run_id"`
	Symbols []string        `json:"symbols,omitempty"`
	Symbol  string          `json:"symbol,omitempty"`
	Status  pipeline.Status `json:"status,omitempty"`
	Run     *models.ScanRun `json:"run,omitempty"`
	At      time.Time       `json:"at"`
}

// Event types
const (
	EventScanStart    = "scan_start"
	EventSymbolDone   = "symbol_done"
	EventScanComplete = "scan_complete"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans scan events out to websocket subscribers. Slow subscribers whose
// buffer fills up are disconnected.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	onCount func(n int)
}

// NewHub creates a hub. onCount, when set, is told the subscriber count after
// every change.
func NewHub(onCount func(n int)) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		onCount: onCount,
	}
}

// ScanStart implements pipeline.Progress
func (h *Hub) ScanStart(runID string, symbols []string) {
	h.Broadcast(Event{Type: EventScanStart, RunID: runID, Symbols: symbols, At: time.Now().UTC()})
}

// SymbolDone implements pipeline.Progress
func (h *Hub) SymbolDone(runID, symbol string, status pipeline.Status) {
	h.Broadcast(Event{Type: EventSymbolDone, RunID: runID, Symbol: symbol, Status: status, At: time.Now().UTC()})
}

// ScanComplete implements pipeline.Progress
func (h *Hub) ScanComplete(run *models.ScanRun) {
	h.Broadcast(Event{Type: EventScanComplete, RunID: run.ID, Run: run, At: time.Now().UTC()})
}

// Broadcast sends ev to every subscriber without blocking
func (h *Hub) Broadcast(ev Event) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode websocket event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Dropping slow websocket subscriber")
			h.removeLocked(c)
		}
	}
}

// Clients reports the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the peer leaves
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.countLocked()
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.countLocked()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) countLocked() {
	if h.onCount != nil {
		h.onCount(len(h.clients))
	}
}

// readPump discards inbound messages and keeps the pong deadline fresh
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket subscriber left")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

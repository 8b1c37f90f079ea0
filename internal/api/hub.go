package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim-lab/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotMessage is one equity-curve sample pushed to websocket clients.
type SnapshotMessage struct {
	Instance      string          `json:"instance"`
	Timestamp     int64           `json:"timestamp"`
	Equity        decimal.Decimal `json:"equity"`
	Cash          decimal.Decimal `json:"cash"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Fees          decimal.Decimal `json:"fees"`
	OpenPositions int             `json:"open_positions"`
}

type client struct {
	conn     *websocket.Conn
	instance string // empty receives every instance
	send     chan []byte
}

// Hub fans out portfolio snapshots to websocket subscribers. Publish never
// blocks the simulation loop: a client whose buffer is full is dropped.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Publish sends a snapshot to every subscriber of instance.
func (h *Hub) Publish(instance string, snap domain.PortfolioSnapshot) {
	msg, err := json.Marshal(SnapshotMessage{
		Instance:      instance,
		Timestamp:     snap.Timestamp,
		Equity:        snap.Equity,
		Cash:          snap.Cash,
		UnrealizedPnL: snap.UnrealizedPnL,
		RealizedPnL:   snap.RealizedPnLCumulative,
		Fees:          snap.FeesCumulative,
		OpenPositions: snap.OpenPositions,
	})
	if err != nil {
		h.log.Error("marshal snapshot", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.instance != "" && c.instance != instance {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow websocket client", zap.String("instance", c.instance))
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// serveWS upgrades the request and streams snapshots until the peer goes away.
// The optional ?instance= query parameter filters the stream.
func (h *Hub) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		conn:     conn,
		instance: c.Query("instance"),
		send:     make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(cl *client) {
	defer h.remove(cl)

	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(cl)
}

// removeLocked unregisters cl and closes its send channel once. Caller holds h.mu.
func (h *Hub) removeLocked(cl *client) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
}

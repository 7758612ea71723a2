package notify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/pulse/async"
)

// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4 * 1024

	clientSendBuffer = 64
)

// OwnerHeader carries the authenticated owner id on websocket upgrades
const OwnerHeader = "X-Owner-ID"

// JobUpdate is pushed for every job state change the queue publishes
type JobUpdate struct {
	Type string     `json:"type"`
	Job  *async.Job `json:"job"`
}

// Hub pushes job updates and completion events to websocket clients.
// Clients only ever receive messages about their own owner id.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type hubClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan interface{}
	owner     string
	id        string
	closeOnce sync.Once
}

// NewHub builds a hub. allowedOrigins are matched by prefix; requests
// without an Origin header are always accepted.
func NewHub(allowedOrigins []string, l *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	h := &Hub{
		clients: make(map[*hubClient]struct{}),
		logger:  logger.OrGlobal(l, "hub"),
		metrics: m,
		now:     time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 2048,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.HasPrefix(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS upgrades the request and registers the client under its owner id.
// The owner comes from X-Owner-ID, or the owner query parameter for browsers.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		owner = r.URL.Query().Get("owner")
	}
	if owner == "" {
		http.Error(w, "missing owner", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", logger.FieldError, err.Error())
		return
	}

	c := &hubClient{
		hub:   h,
		conn:  conn,
		send:  make(chan interface{}, clientSendBuffer),
		owner: owner,
		id:    uuid.NewString(),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// ClientCount reports connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Start subscribes to queue before returning and forwards its updates to the
// owning clients until ctx is done.
func (h *Hub) Start(ctx context.Context, queue *async.Queue) {
	updates := queue.Subscribe()
	go h.forward(ctx, queue, updates)
}

func (h *Hub) forward(ctx context.Context, queue *async.Queue, updates chan *async.Job) {
	defer func() {
		// Unsubscribe before close so the queue never sends on a closed channel
		queue.Unsubscribe(updates)
		close(updates)
	}()

	h.logger.Infow("Job update broadcaster started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("Job update broadcaster stopping due to context cancellation")
			h.closeAll()
			return
		case job := <-updates:
			h.sendTo(job.OwnerID, JobUpdate{Type: "job_update", Job: job})
		}
	}
}

func (h *Hub) NotifyJobComplete(ctx context.Context, owner string, job JobSummary) error {
	sent := h.sendTo(owner, jobEvent(owner, job, h.now()))
	h.metrics.Notified("websocket", outcome(sent))
	return nil
}

func (h *Hub) NotifyBatchComplete(ctx context.Context, owner string, batch BatchSummary) error {
	sent := h.sendTo(owner, batchEvent(owner, batch, h.now()))
	h.metrics.Notified("websocket", outcome(sent))
	return nil
}

func outcome(sent int) string {
	if sent == 0 {
		return "no_clients"
	}
	return "ok"
}

// sendTo queues msg for every client of owner and returns how many accepted it.
// Slow clients with a full buffer miss the message. The read lock is held
// across the sends: send channels are only closed under the write lock, and
// the sends never block.
func (h *Hub) sendTo(owner string, msg interface{}) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		if c.owner != owner {
			continue
		}
		select {
		case c.send <- msg:
			sent++
		default:
		}
	}
	return sent
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debugw("Client connected", "client_id", c.id, logger.FieldOwnerID, c.owner, logger.FieldCount, total)
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.closeSend()
	}
}

func (c *hubClient) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump only services control frames; clients have nothing to say.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.hub.logger.Warnw("WebSocket read error", "client_id", c.id, logger.FieldError, err.Error())
			}
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.Debugw("WebSocket write error", "client_id", c.id, logger.FieldError, err.Error())
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

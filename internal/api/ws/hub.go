package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var errConnClosed = errors.New("connection closed")

// Conn is one caller connection.
type Conn struct {
	id     string
	origin string
	ws     *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func newConn(id, origin string, ws *websocket.Conn) *Conn {
	return &Conn{id: id, origin: origin, ws: ws}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) Origin() string { return c.origin }

// WriteFrame sends f as one text message.
func (c *Conn) WriteFrame(f types.Frame) error {
	data, err := wire.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) writeControl(messageType int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.ws.WriteControl(messageType, nil, time.Now().Add(writeWait))
}

// Close closes the socket once.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// Hub tracks live connections and pushes signals to them.
type Hub struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{metrics: metrics, logger: logger, conns: make(map[string]*Conn)}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.DecWSConnections()
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Notify pushes a signal to one connection.
func (h *Hub) Notify(connID, frameType string, payload types.SignalPayload) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.push(c, frameType, payload) == nil
}

// Broadcast pushes a signal to every connection of origin.
func (h *Hub) Broadcast(origin, frameType string, payload types.SignalPayload) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.origin == origin {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if h.push(c, frameType, payload) == nil {
			sent++
		}
	}
	return sent
}

// Log pushes a diagnostic line to one connection.
func (h *Hub) Log(connID, message string) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		_ = h.push(c, types.PushLog, types.SignalPayload{Origin: c.origin, Message: message})
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
		if h.metrics != nil {
			h.metrics.DecWSConnections()
		}
	}
}

func (h *Hub) push(c *Conn, frameType string, payload types.SignalPayload) error {
	data, err := wire.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(types.Frame{Type: frameType, Data: data}); err != nil {
		h.logger.Debug("push failed", zap.String("conn", c.id), zap.String("type", frameType), zap.Error(err))
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", frameType)
	}
	return nil
}

// Package realtime pushes device change events to websocket observers and
// accepts command submissions over the same connection.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	devdomain "mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/device/store"
	"mowerhub/backend/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024

	dispatchTimeout = 30 * time.Second
)

// CommandSubmitter handles commands submitted over the socket.
type CommandSubmitter interface {
	Dispatch(ctx context.Context, req devdomain.CommandRequest) devdomain.CommandOutcome
}

// Hub upgrades HTTP requests into push connections. Each connection gets its
// own bus subscription, released when the transport drops.
type Hub struct {
	bus        *eventbus.Bus
	states     *store.Store
	dispatcher CommandSubmitter
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

// NewHub returns a Hub. dispatcher may be nil for observe-only deployments.
func NewHub(bus *eventbus.Bus, states *store.Store, dispatcher CommandSubmitter, logger *zap.Logger) *Hub {
	return &Hub{
		bus:        bus,
		states:     states,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// conn is one observer connection.
type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	sub  *eventbus.Subscription
	send chan []byte
	quit chan struct{}
	once sync.Once
}

// ServeWS upgrades the request and runs the connection until the transport
// drops or the hub closes. Blocks for the life of the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		hub:  h,
		ws:   ws,
		send: make(chan []byte, 64),
		quit: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	c.sub = h.bus.Subscribe("")
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	c.enqueue(envelope{Type: "connected"}.encode())
	c.enqueue(envelope{Type: string(eventbus.EventDeviceList), Data: h.states.All()}.encode())

	go c.writePump()
	go c.forward()
	c.readPump()
}

// ConnCount reports the number of live observer connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close tears down every connection. The hub accepts no new ones afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.teardown()
	}
}

// teardown releases the bus subscription and drops the connection. Safe to
// call more than once.
func (c *conn) teardown() {
	c.once.Do(func() {
		close(c.quit)
		c.hub.bus.Unsubscribe(c.sub)
		c.ws.Close()
		c.hub.mu.Lock()
		delete(c.hub.conns, c)
		c.hub.mu.Unlock()
	})
}

// enqueue hands a frame to the write pump. A slow observer that fills the
// channel is dropped rather than allowed to block the producer.
func (c *conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.quit:
	default:
		c.hub.logger.Warn("observer too slow, dropping connection")
		c.teardown()
	}
}

// forward moves bus events onto the wire until the subscription closes.
func (c *conn) forward() {
	for e := range c.sub.Events() {
		c.enqueue(eventEnvelope(e).encode())
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *conn) readPump() {
	defer c.teardown()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("observer connection dropped", zap.Error(err))
			}
			return
		}
		c.handle(raw)
	}
}

func (c *conn) handle(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(errorEnvelope("malformed message").encode())
		return
	}
	switch msg.Type {
	case msgPing:
		c.enqueue(envelope{Type: "pong"}.encode())
	case msgGetDevices:
		c.enqueue(envelope{Type: string(eventbus.EventDeviceList), Data: c.hub.states.All()}.encode())
	case msgGetDeviceStatus:
		state, ok := c.hub.states.Get(msg.DeviceID)
		if !ok {
			c.enqueue(errorEnvelope("unknown device: " + msg.DeviceID).encode())
			return
		}
		c.enqueue(envelope{
			Type:     string(eventbus.EventDeviceStatus),
			DeviceID: state.DeviceID,
			Data:     state,
		}.encode())
	case msgSendCommand:
		if c.hub.dispatcher == nil {
			c.enqueue(errorEnvelope("command submission disabled").encode())
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		outcome := c.hub.dispatcher.Dispatch(ctx, devdomain.CommandRequest{
			DeviceID: msg.DeviceID,
			Kind:     devdomain.CommandKind(msg.Command),
		})
		cancel()
		// Successful outcomes reach the observer through the bus; only
		// failures need a direct reply.
		if !outcome.Success {
			c.enqueue(envelope{
				Type:     string(eventbus.EventCommandResult),
				DeviceID: msg.DeviceID,
				Data:     outcome,
			}.encode())
		}
	default:
		c.enqueue(errorEnvelope("unsupported message type: " + msg.Type).encode())
	}
}

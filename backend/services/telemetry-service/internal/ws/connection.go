package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the lifecycle position of a viewer connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnOptions tunes a viewer connection.
type ConnOptions struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// Connection is a live-feed viewer. Outgoing messages are queued and written by a single
// write pump; the read pump only exists to notice when the peer goes away.
type Connection struct {
	id        string
	ws        *websocket.Conn
	opts      ConnOptions
	send      chan []byte
	done      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
	logger    *zap.Logger
	onClose   func(*Connection)
}

// NewConnection builds connection wrapper in the Connecting state.
func NewConnection(id string, ws *websocket.Conn, opts ConnOptions, logger *zap.Logger, onClose func(*Connection)) *Connection {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		id:      id,
		ws:      ws,
		opts:    opts,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		logger:  logger,
		onClose: onClose,
	}
}

// ID returns identifier.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// MarkOpen moves a connecting viewer to Open. It has no effect once closed.
func (c *Connection) MarkOpen() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Start launches the write pump and blocks in the read pump until the peer disconnects.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.Close()
	readWait := 2 * c.opts.PingInterval
	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("viewer read failed", zap.String("viewer_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Info("viewer write failed", zap.String("viewer_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues msg for an Open viewer without blocking. It reports false when the viewer
// is not open or its queue is full.
func (c *Connection) Send(msg []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	return c.enqueue(msg)
}

func (c *Connection) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("dropping live feed message, buffer full", zap.String("viewer_id", c.id))
		return false
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Close moves the viewer to Closed, stops both pumps and notifies the owner once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

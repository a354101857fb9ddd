package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const greeting = "Connected to telemetry monitoring server"

// Server upgrades HTTP connections to live-feed WebSockets.
type Server struct {
	hub      *Hub
	logger   *zap.Logger
	opts     ConnOptions
	upgrader websocket.Upgrader
	seq      atomic.Uint64
	ctx      context.Context
}

// NewServer builds ws server. Viewer connections stop when ctx is cancelled.
func NewServer(ctx context.Context, hub *Hub, opts ConnOptions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		hub:    hub,
		logger: logger,
		opts:   opts.withDefaults(),
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for the /ws endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	id := fmt.Sprintf("viewer-%d", s.seq.Add(1))
	connection := NewConnection(id, conn, s.opts, s.logger, func(c *Connection) {
		s.hub.Remove(c.ID())
	})

	hello, err := json.Marshal(Envelope{
		Type:      MessageConnected,
		Message:   greeting,
		Timestamp: s.hub.now().UTC(),
	})
	if err == nil {
		// Queued before the viewer turns Open, so it always precedes the first record.
		connection.enqueue(hello)
	}
	connection.MarkOpen()
	s.hub.Add(connection)

	go connection.Start(s.ctx)
}

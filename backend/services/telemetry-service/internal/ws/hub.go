package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
)

const (
	MessageConnected  = "connected"
	MessageSensorData = "sensor_data"
)

// Envelope is the JSON frame pushed to viewers.
type Envelope struct {
	Type      string                  `json:"type"`
	Message   string                  `json:"message,omitempty"`
	Data      *models.TelemetryRecord `json:"data,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Subscriber is a live-feed viewer as seen by the hub.
type Subscriber interface {
	ID() string
	State() State
	Send(msg []byte) bool
}

// Hub owns the set of live viewers and fans every published record out to them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	publishMu   sync.Mutex
	logger      *zap.Logger
	now         func() time.Time
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]Subscriber),
		logger:      logger,
		now:         time.Now,
	}
}

// Add registers a viewer.
func (h *Hub) Add(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.ID()] = sub
	total := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Info("live feed viewer connected", zap.String("viewer_id", sub.ID()), zap.Int("total", total))
}

// Remove unregisters a viewer. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	_, ok := h.subscribers[id]
	delete(h.subscribers, id)
	total := len(h.subscribers)
	h.mu.Unlock()
	if ok {
		h.logger.Info("live feed viewer disconnected", zap.String("viewer_id", id), zap.Int("remaining", total))
	}
}

// Count returns the number of registered viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish pushes rec to every viewer that is Open right now.
func (h *Hub) Publish(_ context.Context, rec models.TelemetryRecord) error {
	msg, err := json.Marshal(Envelope{
		Type:      MessageSensorData,
		Data:      &rec,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		return err
	}
	sent := h.Broadcast(msg)
	if sent > 0 {
		h.logger.Debug("broadcasted telemetry record", zap.Int("viewers", sent))
	}
	return nil
}

// Broadcast delivers msg to every Open viewer and returns how many accepted it. Viewers
// in any other state are skipped. Calls are serialized so that every viewer sees
// messages in publish order.
func (h *Hub) Broadcast(msg []byte) int {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	sent := 0
	for _, sub := range targets {
		if sub.State() != StateOpen {
			continue
		}
		if sub.Send(msg) {
			sent++
		}
	}
	return sent
}

// CloseAll closes every registered viewer that supports closing.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if closer, ok := sub.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

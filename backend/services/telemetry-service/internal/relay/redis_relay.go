// Package relay carries persisted records between service processes so that viewers
// attached to any process see samples ingested by every process.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gridwatch/backend/services/telemetry-service/internal/models"
)

// DefaultChannel is the pub/sub channel records travel on.
const DefaultChannel = "telemetry:records"

// Sink receives records coming off the relay, usually the local ws.Hub.
type Sink interface {
	Publish(ctx context.Context, rec models.TelemetryRecord) error
}

// RedisRelay fans records out to the local sink and, through a redis channel, to every
// other process. Messages carry the id of the publishing process so that Run skips the
// ones this process already delivered locally. Redis delivers messages from one
// publisher in order.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	sink    Sink
	logger  *zap.Logger
}

type relayMessage struct {
	Origin string                 `json:"origin"`
	Record models.TelemetryRecord `json:"record"`
}

// NewRedisRelay returns redis-backed relay with a fresh process id.
func NewRedisRelay(client *redis.Client, channel string, sink Sink, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		sink:    sink,
		logger:  logger,
	}
}

// Origin returns the id stamped on messages published by this relay.
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Publish delivers rec to the local sink first and then to the other processes. Local
// delivery does not depend on redis; a failed PUBLISH is returned after it.
func (r *RedisRelay) Publish(ctx context.Context, rec models.TelemetryRecord) error {
	localErr := r.sink.Publish(ctx, rec)

	data, err := json.Marshal(relayMessage{Origin: r.origin, Record: rec})
	if err != nil {
		return errors.Join(localErr, err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return errors.Join(localErr, fmt.Errorf("relay publish: %w", err))
	}
	return localErr
}

// Run subscribes to the channel and forwards records published by other processes until
// ctx is cancelled. The ready callback, if set, fires once the subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready func()) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if ready != nil {
		ready()
	}
	r.logger.Info("record relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.Warn("dropping malformed relay message", zap.Error(err))
				continue
			}
			if m.Origin == r.origin {
				continue
			}
			if err := r.sink.Publish(ctx, m.Record); err != nil {
				r.logger.Warn("relay sink failed", zap.Error(err))
			}
		}
	}
}

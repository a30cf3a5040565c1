package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamChannelPrefix = "live:stream:"
	discoveryChannel    = "live:discovery"
)

// redisPayload is the envelope published for downstream consumers.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub publishes domain events to Redis. Consumers (chatbot replies, notifications)
// subscribe outside this process.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis event publisher.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// StreamChannel returns the channel carrying a stream's domain events.
func StreamChannel(streamID string) string {
	return streamChannelPrefix + streamID
}

// PublishStreamEvent publishes an event on the stream's channel.
func (r *RedisPubSub) PublishStreamEvent(ctx context.Context, streamID, event string, payload []byte) error {
	return r.publish(ctx, StreamChannel(streamID), event, payload)
}

// PublishDiscovery publishes a platform-wide discovery event such as new_live_stream.
func (r *RedisPubSub) PublishDiscovery(ctx context.Context, event string, payload []byte) error {
	return r.publish(ctx, discoveryChannel, event, payload)
}

func (r *RedisPubSub) publish(ctx context.Context, channel, event string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

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
	channelPrefix    = "remote_session:"
	publishTTL       = 5 * time.Second
	subscribeTimeout = 5 * time.Second
)

// RedisPubSub bridges session rooms across instances with Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session rooms.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishRoomEvent publishes an event to the session's Redis channel.
func (r *RedisPubSub) PublishRoomEvent(sessionID string, ev RoomEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+sessionID, body).Err()
}

// SubscribeRoom subscribes to a session's Redis channel and calls handler for each message.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeRoom(sessionID string, handler func(ev RoomEvent)) (cancel func(), err error) {
	channel := channelPrefix + sessionID
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	confirmCtx, cancelConfirm := context.WithTimeout(ctx, subscribeTimeout)
	_, err = pubsub.Receive(confirmCtx)
	cancelConfirm()
	if err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev RoomEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("drop malformed room event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}

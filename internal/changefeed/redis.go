package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "live_session:"
	publishTimeout = 5 * time.Second
)

// RedisBridge carries notifications between instances over Redis pub/sub, one channel per session.
type RedisBridge struct {
	client *redis.Client
	logger *zap.Logger
}

var (
	_ Publisher  = (*RedisBridge)(nil)
	_ Subscriber = (*RedisBridge)(nil)
)

// NewRedisBridge creates a Redis pub/sub bridge for session notifications.
func NewRedisBridge(client *redis.Client, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, logger: logger}
}

// Channel returns the Redis channel for a session.
func Channel(sessionID uuid.UUID) string {
	return channelPrefix + sessionID.String()
}

// Publish sends n to the session's channel.
func (r *RedisBridge) Publish(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, Channel(n.SessionID), body).Err()
}

// Subscribe listens on the session's channel and calls handler for each notification.
// Returns a cancel function to stop the subscription.
func (r *RedisBridge) Subscribe(sessionID uuid.UUID, handler func(Notification)) (cancel func(), err error) {
	channel := Channel(sessionID)
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
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
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					r.logger.Warn("invalid notification payload", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(n)
			}
		}
	}()
	return cancelCtx, nil
}

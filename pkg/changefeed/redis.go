// Package changefeed fans committed document changes out across server and
// worker processes over Redis pub/sub.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/pkg/docstore"
)

const (
	channelPrefix  = "docs:"
	publishTimeout = 5 * time.Second
	bufferSize     = 256
)

var _ docstore.Feed = (*Redis)(nil)

// envelope is the message published to Redis.
type envelope struct {
	Change docstore.Change `json:"change"`
	At     int64           `json:"at"`
}

// Redis implements docstore.Feed using Redis pub/sub.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis creates a Redis-backed change feed.
func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

// Channel returns the Redis channel for a collection.
func Channel(collection string) string {
	return channelPrefix + collection
}

// Publish sends a change to the collection's channel.
func (r *Redis) Publish(ctx context.Context, c docstore.Change) error {
	body, err := json.Marshal(envelope{Change: c, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, Channel(c.Document.Collection), body).Err()
}

// Subscribe streams changes for a collection until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, collection string) (<-chan docstore.Change, error) {
	pubsub := r.client.Subscribe(ctx, Channel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	msgs := pubsub.Channel()
	out := make(chan docstore.Change, bufferSize)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e envelope
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					r.logger.Warn("invalid change payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- e.Change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisSink publishes indicator samples as JSON on their channel key
// over redis pub/sub.
type RedisSink struct {
	client *redis.Client
}

// Ensure the redis sink implements the Sink interface.
var _ Sink = (*RedisSink)(nil)

// NewRedisSink initializes a redis sink publishing to the provided
// address.
func NewRedisSink(addr string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Publish sends the sample on its channel key.
func (r *RedisSink) Publish(ctx context.Context, sample Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshalling sample for %s: %w", sample.Key(), err)
	}

	err = r.client.Publish(ctx, sample.Key(), payload).Err()
	if err != nil {
		return fmt.Errorf("publishing sample on %s: %w", sample.Key(), err)
	}

	return nil
}

// Close releases the underlying redis connection.
func (r *RedisSink) Close() error {
	return r.client.Close()
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps go-redis for the application.
type Client struct {
	rdb *redis.Client
}

var Default *Client

// Connect creates a Redis client and verifies connectivity.
func Connect(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	c := &Client{rdb: rdb}
	Default = c
	return c, nil
}

// Raw returns the underlying redis.Client for advanced usage.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Subscribe returns a pub/sub subscription for the given channels.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"botgate/internal/platform/config"
)

// Client wraps the go-redis client with health checking capabilities.
type Client struct {
	*redis.Client
	dialTimeout time.Duration
}

// New creates a Redis client from the provided configuration. It returns nil
// if the URL is empty (Redis not configured). No connection is made here: an
// unreachable server at startup must not stop the client from being used once
// it comes back, so callers check Health and keep the client either way.
// Retries are disabled: counter operations are attempted once and fall back
// locally.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = -1

	return &Client{Client: redis.NewClient(opts), dialTimeout: cfg.DialTimeout}, nil
}

// Health pings the server, bounded by the dial timeout.
func (c *Client) Health(ctx context.Context) error {
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.Client.Close()
}

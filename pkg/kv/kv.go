// Package kv wraps the Redis hot path: resolved download URLs with a
// one-hour TTL and bot credentials cached without expiry.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss means the key is not cached.
var ErrMiss = errors.New("kv: cache miss")

const (
	urlKeyPrefix = "url:"
	botKeyPrefix = "bot:"

	// URLTTL matches the upstream's minimum path validity of one hour.
	URLTTL = 3600 * time.Second
)

// Config contains Redis connection settings.
type Config struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	DB   int    `mapstructure:"db" yaml:"db"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "redis:6379"
	}
}

// Client is the typed facade over the Redis connection.
type Client struct {
	rdb *redis.Client
}

// New creates a client for the given configuration.
func New(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()

	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr: config.Addr,
			DB:   config.DB,
		}),
	}
}

// NewWithClient wraps an existing Redis client. Used by tests with miniredis.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetURL returns the cached download URL for a file, or ErrMiss.
func (c *Client) GetURL(ctx context.Context, fileUUID string) (string, error) {
	v, err := c.rdb.Get(ctx, urlKeyPrefix+fileUUID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("kv: failed to get url for %s: %w", fileUUID, err)
	}
	return v, nil
}

// SetURL caches a resolved download URL for the standard TTL.
func (c *Client) SetURL(ctx context.Context, fileUUID, url string) error {
	if err := c.rdb.Set(ctx, urlKeyPrefix+fileUUID, url, URLTTL).Err(); err != nil {
		return fmt.Errorf("kv: failed to cache url for %s: %w", fileUUID, err)
	}
	return nil
}

// GetBotToken returns the cached credential for a bot, or ErrMiss.
func (c *Client) GetBotToken(ctx context.Context, botID int16) (string, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf("%s%d", botKeyPrefix, botID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("kv: failed to get token for bot %d: %w", botID, err)
	}
	return v, nil
}

// SetBotToken caches a credential without expiry. The bot_id <-> token
// mapping is immutable, so there is no invalidation path.
func (c *Client) SetBotToken(ctx context.Context, botID int16, token string) error {
	if err := c.rdb.Set(ctx, fmt.Sprintf("%s%d", botKeyPrefix, botID), token, 0).Err(); err != nil {
		return fmt.Errorf("kv: failed to cache token for bot %d: %w", botID, err)
	}
	return nil
}

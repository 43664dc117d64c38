// Package redis implements the BBO cache and signal bus using go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName     = "cfebook"
	defaultTimeout = 3 * time.Second
)

// ClientConfig holds connection parameters for the Redis client. A zero
// Timeout falls back to three seconds.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Timeout    time.Duration
}

func (cfg ClientConfig) options() *redis.Options {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		ClientName:   clientName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolTimeout:  timeout + time.Second,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client owns the go-redis connection pool shared by the cache and the bus.
type Client struct {
	rdb     *redis.Client
	addr    string
	timeout time.Duration
}

// New connects and pings once before returning, so a bad address fails at
// wiring time rather than on the first published update.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := cfg.options()
	c := &Client{rdb: redis.NewClient(opts), addr: cfg.Addr, timeout: opts.DialTimeout}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Name identifies the client in health reports and publish metrics.
func (c *Client) Name() string { return "redis" }

// Ping checks the connection, bounded by the configured timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

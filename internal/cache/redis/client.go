// Package redis implements the snapshot cache, signal bus, rate limiter and
// lock manager on go-redis/v9. Every key is prefixed with the client
// namespace so several deployments can share one Redis database.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes keys when ClientConfig.Namespace is empty.
const DefaultNamespace = "edgeprof"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace is prepended to every key, e.g. "edgeprof:profile:ES".
	Namespace string
}

// Client wraps a go-redis client together with its key namespace.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, namespace: namespaceOrDefault(cfg.Namespace)}, nil
}

func namespaceOrDefault(ns string) string {
	ns = strings.Trim(ns, ":")
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// Key joins parts under the client namespace.
func (c *Client) Key(parts ...string) string {
	return namespacedKey(c.namespace, parts...)
}

func namespacedKey(ns string, parts ...string) string {
	return ns + ":" + strings.Join(parts, ":")
}

// Namespace returns the key prefix without the trailing separator.
func (c *Client) Namespace() string { return c.namespace }

// Ping checks the Redis connection; it backs the /api/health probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the go-redis client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

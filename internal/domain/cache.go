package domain

import (
	"context"
	"time"
)

// SnapshotCache keeps the latest profile snapshot per symbol.
type SnapshotCache interface {
	Set(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, symbol string) (Snapshot, error)
	Symbols(ctx context.Context) ([]string, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BusMessage is a pub/sub payload tagged with the concrete channel it was
// published on, which differs from the subscription when it is a pattern.
type BusMessage struct {
	Channel string
	Payload []byte
}

// PatternSubscriber delivers messages together with their source channel.
type PatternSubscriber interface {
	SubscribeMessages(ctx context.Context, pattern string) (<-chan BusMessage, error)
}

// Bus channel and stream names shared by the engine, the hub and feeds.
const (
	ChannelProfilePrefix = "ch:profile:"
	ChannelProfileAll    = "ch:profile:*"
	ChannelSignal        = "ch:signal"
	ChannelStatus        = "ch:status"
	StreamProfile        = "stream:profile"
)

// ProfileChannel is the channel snapshots for symbol are published on.
func ProfileChannel(symbol string) string {
	return ChannelProfilePrefix + symbol
}

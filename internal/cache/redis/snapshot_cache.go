package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// defaultSnapshotTTL bounds how long a symbol's snapshot survives after its
// feed goes quiet.
const defaultSnapshotTTL = time.Hour

// SnapshotCache implements domain.SnapshotCache with one JSON string per
// symbol.
//
// Key schema, under the client namespace:
//
//	profile:snapshot:{symbol}  - JSON-encoded domain.Snapshot, expires after ttl
//	profile:symbols            - set of symbols seen
type SnapshotCache struct {
	client *Client
	rdb    *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A
// non-positive ttl uses one hour.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{client: c, rdb: c.Underlying(), ttl: ttl}
}

func (sc *SnapshotCache) snapshotKey(symbol string) string {
	return sc.client.Key("profile", "snapshot", symbol)
}

func (sc *SnapshotCache) symbolsKey() string {
	return sc.client.Key("profile", "symbols")
}

// Set stores snap as the latest snapshot of its symbol.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Symbol, err)
	}

	pipe := sc.rdb.TxPipeline()
	pipe.Set(ctx, sc.snapshotKey(snap.Symbol), data, sc.ttl)
	pipe.SAdd(ctx, sc.symbolsKey(), snap.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

// Get returns the latest snapshot for symbol, or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, symbol string) (domain.Snapshot, error) {
	data, err := sc.rdb.Get(ctx, sc.snapshotKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("redis: get snapshot %s: %w", symbol, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", symbol, err)
	}
	return snap, nil
}

// Symbols lists symbols with a cached snapshot, sorted. Symbols whose entry
// has expired are dropped from the index as a side effect.
func (sc *SnapshotCache) Symbols(ctx context.Context) ([]string, error) {
	members, err := sc.rdb.SMembers(ctx, sc.symbolsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list symbols: %w", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	pipe := sc.rdb.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(members))
	for _, s := range members {
		cmds[s] = pipe.Exists(ctx, sc.snapshotKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: list symbols pipeline: %w", err)
	}

	live := make([]string, 0, len(members))
	var stale []any
	for s, cmd := range cmds {
		if cmd.Val() > 0 {
			live = append(live, s)
		} else {
			stale = append(stale, s)
		}
	}
	if len(stale) > 0 {
		_ = sc.rdb.SRem(ctx, sc.symbolsKey(), stale...).Err()
	}
	slices.Sort(live)
	return live, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)

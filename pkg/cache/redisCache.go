package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zoff-tech/order-events/pkg/config"
)

// Status tells whether the cache is backed by a reachable Redis.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

const (
	defaultTTL           = 5 * time.Minute
	defaultOpTimeout     = 2 * time.Second
	defaultProbeInterval = time.Second
	scanBatch            = 100
)

// Cache is the best-effort key/value store used by the pipeline. None of its
// methods return errors: failures are logged and reported as a miss, false or 0.
type Cache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Del(ctx context.Context, key string) bool
	InvalidatePattern(ctx context.Context, pattern string) int
}

// RedisCache implements Cache on go-redis. Status follows the outcome of
// each command. While disconnected, operations fail fast except for one ping
// per probe interval, and the first successful ping brings the cache back.
// A cache built without a client never touches the network.
type RedisCache struct {
	client        redis.UniversalClient
	status        atomic.Int32
	closed        atomic.Bool
	lastProbe     atomic.Int64
	probeInterval time.Duration
	ttl           time.Duration
	opTimeout     time.Duration
	log           *zap.SugaredLogger
}

// Connect parses settings.URL and pings the server. An empty or bad URL yields
// a cache with no client. A failed ping keeps the client and starts the cache
// disconnected, so it recovers once Redis is reachable.
func Connect(ctx context.Context, settings config.CacheSettings, log *zap.SugaredLogger) *RedisCache {
	c := &RedisCache{
		probeInterval: defaultProbeInterval,
		ttl:           settings.DefaultTTL,
		opTimeout:     settings.OpTimeout,
		log:           log,
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	if c.opTimeout <= 0 {
		c.opTimeout = defaultOpTimeout
	}
	if settings.URL == "" {
		log.Infow("cache URL not configured, caching disabled")
		return c
	}

	opts, err := redis.ParseURL(settings.URL)
	if err != nil {
		log.Warnw("invalid cache URL, caching disabled", "error", err)
		return c
	}
	c.client = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		c.lastProbe.Store(time.Now().UnixNano())
		log.Warnw("cache unreachable, will retry on use", "addr", opts.Addr, "error", err)
		return c
	}

	c.status.Store(int32(StatusConnected))
	log.Infow("cache connected", "addr", opts.Addr)
	return c
}

// NewRedisCache wraps an already connected client.
func NewRedisCache(client redis.UniversalClient, log *zap.SugaredLogger) *RedisCache {
	c := &RedisCache{
		client:        client,
		probeInterval: defaultProbeInterval,
		ttl:           defaultTTL,
		opTimeout:     defaultOpTimeout,
		log:           log,
	}
	c.status.Store(int32(StatusConnected))
	return c
}

func (c *RedisCache) Status() Status { return Status(c.status.Load()) }

// ready reports whether an operation should be sent to Redis.
func (c *RedisCache) ready(ctx context.Context) bool {
	if c == nil || c.client == nil || c.closed.Load() {
		return false
	}
	if c.Status() == StatusConnected {
		return true
	}

	now := time.Now().UnixNano()
	last := c.lastProbe.Load()
	if now-last < int64(c.probeInterval) || !c.lastProbe.CompareAndSwap(last, now) {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		return false
	}
	c.markConnected()
	return true
}

// observe updates the status from a command result. Server replies such as
// WRONGTYPE prove the connection is alive.
func (c *RedisCache) observe(err error) {
	var replyErr redis.Error
	if err == nil || errors.Is(err, redis.Nil) || errors.As(err, &replyErr) {
		c.markConnected()
		return
	}
	if c.status.CompareAndSwap(int32(StatusConnected), int32(StatusDisconnected)) {
		c.lastProbe.Store(time.Now().UnixNano())
		c.log.Warnw("cache connection lost", "error", err)
	}
}

func (c *RedisCache) markConnected() {
	if c.status.CompareAndSwap(int32(StatusDisconnected), int32(StatusConnected)) {
		c.log.Infow("cache reconnected")
	}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) bool {
	if !c.ready(ctx) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, key).Bytes()
	c.observe(err)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("cache get failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warnw("cache entry is not valid JSON", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores value as JSON. A ttl of zero uses the configured default.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if !c.ready(ctx) {
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warnw("cache value not serializable", "key", key, "error", err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	err = c.client.Set(ctx, key, raw, ttl).Err()
	c.observe(err)
	if err != nil {
		c.log.Warnw("cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Del removes key. Deleting an absent key succeeds.
func (c *RedisCache) Del(ctx context.Context, key string) bool {
	if !c.ready(ctx) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	err := c.client.Del(ctx, key).Err()
	c.observe(err)
	if err != nil {
		c.log.Warnw("cache delete failed", "key", key, "error", err)
		return false
	}
	return true
}

// InvalidatePattern deletes every key matching the glob pattern in a single
// DEL and returns how many were removed.
func (c *RedisCache) InvalidatePattern(ctx context.Context, pattern string) int {
	if !c.ready(ctx) {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	err := iter.Err()
	c.observe(err)
	if err != nil {
		c.log.Warnw("cache scan failed", "pattern", pattern, "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	n, err := c.client.Del(ctx, keys...).Result()
	c.observe(err)
	if err != nil {
		c.log.Warnw("cache pattern delete failed", "pattern", pattern, "keys", len(keys), "error", err)
		return 0
	}
	return int(n)
}

func (c *RedisCache) Close() error {
	if c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.status.Store(int32(StatusDisconnected))
	return c.client.Close()
}

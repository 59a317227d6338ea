package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zoff-tech/order-events/pkg/config"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, zap.NewNop().Sugar()), mr
}

func TestSetGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	type product struct {
		Name  string `json:"name"`
		Stock int    `json:"stock"`
	}
	assert.True(t, c.Set(ctx, ProductKey("p1"), product{Name: "Tomatoes", Stock: 12}, time.Minute))

	var got product
	assert.True(t, c.Get(ctx, ProductKey("p1"), &got))
	assert.Equal(t, product{Name: "Tomatoes", Stock: 12}, got)
	assert.Equal(t, time.Minute, mr.TTL(ProductKey("p1")))

	assert.False(t, c.Get(ctx, ProductKey("missing"), &got))
}

func TestSet_DefaultTTL(t *testing.T) {
	c, mr := newTestCache(t)

	assert.True(t, c.Set(context.Background(), UserKey("u1"), map[string]string{"name": "Asha"}, 0))
	assert.Equal(t, defaultTTL, mr.TTL(UserKey("u1")))
}

func TestDel_AbsentKeyIsNoop(t *testing.T) {
	c, _ := newTestCache(t)
	assert.True(t, c.Del(context.Background(), "product:nope"))
}

func TestInvalidatePattern(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("products:list:all", "[]"))
	require.NoError(t, mr.Set(`products:list:{"category":"fruit"}`, "[]"))
	require.NoError(t, mr.Set("product:p1", "{}"))

	n := c.InvalidatePattern(ctx, ProductsListPattern)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("products:list:all"))
	assert.True(t, mr.Exists("product:p1"))
}

func TestInvalidatePattern_NoMatchesReturnsZero(t *testing.T) {
	c, _ := newTestCache(t)
	assert.Equal(t, 0, c.InvalidatePattern(context.Background(), "nothing:*"))
}

func TestInvalidatePattern_UnreachableReturnsZero(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRedisCache(client, zap.New(core).Sugar())

	mr.Close()

	assert.Equal(t, 0, c.InvalidatePattern(context.Background(), ProductsListPattern))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.Del(context.Background(), ProductKey("p1")))
	assert.Equal(t, 1, logs.FilterMessage("cache connection lost").Len())
}

func TestDisconnectedCache(t *testing.T) {
	c := Connect(context.Background(), config.CacheSettings{}, zap.NewNop().Sugar())
	ctx := context.Background()

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.Set(ctx, "k", "v", time.Minute))
	var v string
	assert.False(t, c.Get(ctx, "k", &v))
	assert.False(t, c.Del(ctx, "k"))
	assert.Equal(t, 0, c.InvalidatePattern(ctx, "*"))
	assert.NoError(t, c.Close())
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	c := Connect(context.Background(), config.CacheSettings{URL: "redis://" + mr.Addr() + "/0"}, zap.NewNop().Sugar())
	defer c.Close()

	assert.Equal(t, StatusConnected, c.Status())
	assert.True(t, c.Set(context.Background(), "k", "v", 0))
	assert.True(t, mr.Exists("k"))
}

func TestConnect_UnreachableIsDisconnected(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := Connect(context.Background(), config.CacheSettings{
		URL:       "redis://" + addr + "/0",
		OpTimeout: 300 * time.Millisecond,
	}, zap.NewNop().Sugar())

	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnect_RecoversWhenRedisComesBack(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	c := Connect(context.Background(), config.CacheSettings{
		URL:       "redis://" + addr + "/0",
		OpTimeout: 300 * time.Millisecond,
	}, zap.New(core).Sugar())
	defer c.Close()
	require.Equal(t, StatusDisconnected, c.Status())

	restarted := miniredis.NewMiniRedis()
	require.NoError(t, restarted.StartAddr(addr))
	defer restarted.Close()
	require.NoError(t, restarted.Set(ProductKey("p1"), "{}"))

	c.probeInterval = 0
	assert.True(t, c.Del(context.Background(), ProductKey("p1")))
	assert.False(t, restarted.Exists(ProductKey("p1")))
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 1, logs.FilterMessage("cache reconnected").Len())
}

func TestDisconnectedCache_ProbesAtMostOncePerInterval(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := Connect(context.Background(), config.CacheSettings{
		URL:       "redis://" + addr + "/0",
		OpTimeout: 300 * time.Millisecond,
	}, zap.NewNop().Sugar())
	defer c.Close()

	restarted := miniredis.NewMiniRedis()
	require.NoError(t, restarted.StartAddr(addr))
	defer restarted.Close()

	c.probeInterval = time.Hour
	assert.False(t, c.Del(context.Background(), ProductKey("p1")))
	assert.Equal(t, StatusDisconnected, c.Status())
}

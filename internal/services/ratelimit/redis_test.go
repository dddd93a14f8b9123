package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisLimiter(t *testing.T, defaults map[string]int) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, defaults, zap.NewNop())
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	l := newRedisLimiter(t, map[string]int{RequestsPerMinute: 2})

	require.False(t, l.Check(ctx, "key-a", nil).Exceeded)
	l.Record(ctx, "key-a")
	require.False(t, l.Check(ctx, "key-a", nil).Exceeded)
	l.Record(ctx, "key-a")

	verdict := l.Check(ctx, "key-a", nil)
	assert.True(t, verdict.Exceeded)
	assert.Equal(t, []string{RequestsPerMinute}, verdict.ExceededLimits)
	assert.Equal(t, 0, verdict.Remaining[RequestsPerMinute])
}

func TestRedisLimiterPerKeyLimits(t *testing.T) {
	ctx := context.Background()
	l := newRedisLimiter(t, map[string]int{RequestsPerMinute: 100})

	l.SetKeyLimits("vip", map[string]int{RequestsPerMinute: 1})
	l.Record(ctx, "vip")

	assert.True(t, l.Check(ctx, "vip", nil).Exceeded)
	assert.False(t, l.Check(ctx, "other", nil).Exceeded)
}

func TestRedisLimiterStatusResetAndKeys(t *testing.T) {
	ctx := context.Background()
	l := newRedisLimiter(t, map[string]int{RequestsPerMinute: 5})

	l.Record(ctx, "key-a")
	l.Record(ctx, "key-b")

	status := l.GetStatus(ctx, "key-a")
	require.Contains(t, status.Details, RequestsPerMinute)
	assert.Equal(t, 1, status.Details[RequestsPerMinute].Current)
	assert.Equal(t, 4, status.Details[RequestsPerMinute].Remaining)

	assert.Equal(t, []string{"key-a", "key-b"}, l.Keys(ctx))

	l.Reset(ctx, "key-a")
	assert.Equal(t, 0, l.GetStatus(ctx, "key-a").Details[RequestsPerMinute].Current)
	assert.Equal(t, []string{"key-b"}, l.Keys(ctx))
}

func TestRedisLimiterFailsOpenWhenBackendDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLimiter(client, map[string]int{RequestsPerMinute: 1}, zap.NewNop())

	mr.Close()

	verdict := l.Check(ctx, "key-a", nil)
	assert.False(t, verdict.Exceeded)
	assert.Contains(t, verdict.Reason, "backend unavailable")
}

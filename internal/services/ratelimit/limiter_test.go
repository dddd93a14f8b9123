package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(map[string]int{RequestsPerMinute: 3}, zap.NewNop())

	for i := 0; i < 3; i++ {
		verdict := l.Check(ctx, "key-a", nil)
		require.False(t, verdict.Exceeded, "request %d should pass", i)
		l.Record(ctx, "key-a")
	}

	verdict := l.Check(ctx, "key-a", nil)
	assert.True(t, verdict.Exceeded)
	assert.Equal(t, []string{RequestsPerMinute}, verdict.ExceededLimits)
	assert.Contains(t, verdict.Reason, "rate limit exceeded")
	assert.Equal(t, 0, verdict.Remaining[RequestsPerMinute])
	assert.Equal(t, 3, verdict.Limit[RequestsPerMinute])
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(map[string]int{RequestsPerMinute: 1}, zap.NewNop())

	l.Record(ctx, "key-a")
	assert.True(t, l.Check(ctx, "key-a", nil).Exceeded)
	assert.False(t, l.Check(ctx, "key-b", nil).Exceeded)
}

func TestMemoryLimiterZeroLimitAlwaysExceeded(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(map[string]int{RequestsPerMinute: 0}, zap.NewNop())
	assert.True(t, l.Check(ctx, "any", nil).Exceeded)
}

func TestMemoryLimiterOverrides(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(map[string]int{RequestsPerMinute: 100}, zap.NewNop())

	l.Record(ctx, "key-a")
	l.Record(ctx, "key-a")

	assert.False(t, l.Check(ctx, "key-a", nil).Exceeded)
	assert.True(t, l.Check(ctx, "key-a", map[string]int{RequestsPerMinute: 2}).Exceeded)
}

func TestMemoryLimiterStatusAndReset(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(map[string]int{RequestsPerMinute: 5, RequestsPerHour: 10}, zap.NewNop())

	l.Record(ctx, "key-a")
	l.Record(ctx, "key-a")

	status := l.GetStatus(ctx, "key-a")
	require.Contains(t, status.Details, RequestsPerMinute)
	minute := status.Details[RequestsPerMinute]
	assert.Equal(t, 2, minute.Current)
	assert.Equal(t, 3, minute.Remaining)
	assert.False(t, minute.ResetTime.IsZero())

	l.Reset(ctx, "key-a")
	status = l.GetStatus(ctx, "key-a")
	assert.Equal(t, 0, status.Details[RequestsPerMinute].Current)
}

func TestMemoryLimiterKeys(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(nil, zap.NewNop())

	l.Record(ctx, "b")
	l.Record(ctx, "a")
	assert.Equal(t, []string{"a", "b"}, l.Keys(ctx))
}

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()
	assert.Equal(t, 60, limits[RequestsPerMinute])
	assert.Equal(t, 1000, limits[RequestsPerHour])
	assert.Equal(t, 10000, limits[RequestsPerDay])
}

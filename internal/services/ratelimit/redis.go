package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "stinger:ratelimit:"

// RedisLimiter implements the Limiter contract on a shared redis instance
// so several service replicas enforce one budget. Events live in a sorted
// set per key, scored by unix nanoseconds. Redis failures degrade to
// not-exceeded; the limiter never raises into callers.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger

	mu       sync.RWMutex
	defaults map[string]int
	limits   map[string]map[string]int
}

func NewRedisLimiter(client *redis.Client, defaults map[string]int, logger *zap.Logger) *RedisLimiter {
	if defaults == nil {
		defaults = DefaultLimits()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client:   client,
		logger:   logger.Named("ratelimit_redis"),
		defaults: defaults,
		limits:   make(map[string]map[string]int),
	}
}

func (l *RedisLimiter) limitsFor(key string) map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limits, ok := l.limits[key]; ok {
		return copyLimits(limits)
	}
	return copyLimits(l.defaults)
}

func (l *RedisLimiter) Check(ctx context.Context, key string, overrides map[string]int) Verdict {
	now := time.Now()
	limits := l.limitsFor(key)
	for w, v := range overrides {
		limits[w] = v
	}

	verdict := Verdict{
		Remaining: make(map[string]int, len(limits)),
		Limit:     make(map[string]int, len(limits)),
	}

	redisKey := redisKeyPrefix + key
	pipe := l.client.Pipeline()
	counts := make(map[string]*redis.IntCmd, len(limits))
	for window := range limits {
		d, ok := windowDurations[window]
		if !ok {
			continue
		}
		cutoff := now.Add(-d).UnixNano()
		counts[window] = pipe.ZCount(ctx, redisKey, strconv.FormatInt(cutoff, 10), "+inf")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		l.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		verdict.Reason = fmt.Sprintf("backend unavailable: %v", err)
		for window, limit := range limits {
			verdict.Limit[window] = limit
			verdict.Remaining[window] = limit
		}
		return verdict
	}

	for window, limit := range limits {
		cmd, ok := counts[window]
		if !ok {
			continue
		}
		current := int(cmd.Val())
		verdict.Limit[window] = limit
		verdict.Remaining[window] = maxInt(limit-current, 0)
		if limit <= 0 || current >= limit {
			verdict.Exceeded = true
			verdict.ExceededLimits = append(verdict.ExceededLimits, window)
		}
	}
	sort.Strings(verdict.ExceededLimits)
	if verdict.Exceeded {
		verdict.Reason = "rate limit exceeded: " + joinComma(verdict.ExceededLimits)
	}
	return verdict
}

func (l *RedisLimiter) Record(ctx context.Context, key string) {
	now := time.Now()
	redisKey := redisKeyPrefix + key
	longest := 24 * time.Hour

	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(now.Add(-longest).UnixNano(), 10))
	pipe.Expire(ctx, redisKey, longest)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limit record failed", zap.Error(err))
	}
}

func (l *RedisLimiter) GetStatus(ctx context.Context, key string) KeyStatus {
	now := time.Now()
	limits := l.limitsFor(key)
	redisKey := redisKeyPrefix + key

	status := KeyStatus{Key: key, Details: make(map[string]WindowStatus, len(limits))}
	for window, limit := range limits {
		d, ok := windowDurations[window]
		if !ok {
			continue
		}
		cutoff := now.Add(-d)
		cutoffStr := strconv.FormatInt(cutoff.UnixNano(), 10)

		current, err := l.client.ZCount(ctx, redisKey, cutoffStr, "+inf").Result()
		if err != nil && err != redis.Nil {
			l.logger.Warn("rate limit status failed", zap.Error(err))
			continue
		}

		ws := WindowStatus{
			Current:   int(current),
			Limit:     limit,
			Remaining: maxInt(limit-int(current), 0),
			ResetTime: now,
		}
		oldest, err := l.client.ZRangeByScore(ctx, redisKey, &redis.ZRangeBy{
			Min: cutoffStr, Max: "+inf", Count: 1,
		}).Result()
		if err == nil && len(oldest) > 0 {
			if ns, perr := strconv.ParseInt(oldest[0], 10, 64); perr == nil {
				ws.ResetTime = time.Unix(0, ns).Add(d)
			}
		}
		status.Details[window] = ws
	}
	return status
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) {
	if err := l.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		l.logger.Warn("rate limit reset failed", zap.Error(err))
	}
	l.mu.Lock()
	delete(l.limits, key)
	l.mu.Unlock()
}

func (l *RedisLimiter) SetDefaultLimits(limits map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaults = copyLimits(limits)
}

// SetKeyLimits pins explicit limits for one key.
func (l *RedisLimiter) SetKeyLimits(key string, limits map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[key] = copyLimits(limits)
}

func (l *RedisLimiter) Keys(ctx context.Context) []string {
	keys, err := l.client.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		l.logger.Warn("rate limit key scan failed", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(redisKeyPrefix):])
	}
	sort.Strings(out)
	return out
}

package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWindows stores sliding windows in Redis sorted sets so limits are
// shared across instances. Each key holds one member per admitted
// request, scored by unix-nano timestamp; pruning is a range removal.
type RedisWindows struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

// NewRedisWindows creates a distributed window store.
func NewRedisWindows(client *redis.Client, prefix string, logger *zap.SugaredLogger) *RedisWindows {
	if prefix == "" {
		prefix = "bastion:ratelimit:"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisWindows{client: client, prefix: prefix, logger: logger}
}

// peek prunes and counts the window without consuming quota. The error
// return lets the limiter fall back to its in-memory window.
func (rw *RedisWindows) peek(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: false, RetryAfter: window}, nil
	}

	redisKey := rw.prefix + key
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := rw.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
	card := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(card.Val())
	if count < limit {
		return Decision{Allowed: true, Remaining: limit - count - 1}, nil
	}

	oldest, err := rw.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil {
		return Decision{}, err
	}
	retry := window
	if len(oldest) > 0 {
		expiresAt := time.Unix(0, int64(oldest[0].Score)).Add(window)
		retry = expiresAt.Sub(now)
		if retry < time.Millisecond {
			retry = time.Millisecond
		}
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// commit records an admitted request and refreshes the key TTL.
func (rw *RedisWindows) commit(ctx context.Context, key string, window time.Duration) error {
	redisKey := rw.prefix + key
	now := time.Now()

	pipe := rw.client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.New().String(),
	})
	pipe.PExpire(ctx, redisKey, window)
	_, err := pipe.Exec(ctx)
	return err
}

// evaluateRedis runs the two-phase check against the distributed store.
// The peek/commit pair is not atomic across instances; slight
// over-admission under contention is accepted in exchange for shared
// state. Any Redis error degrades that key to the in-memory window.
func (hl *HierarchicalLimiter) evaluateRedis(ctx context.Context, checks []tierCheck) Result {
	denied := Result{Allowed: true}
	allowed := Result{Allowed: true, Remaining: -1}
	fallback := make([]tierCheck, 0)
	committable := make([]tierCheck, 0, len(checks))

	for _, c := range checks {
		d, err := hl.redis.peek(ctx, c.key, c.limit, c.window)
		if err != nil {
			hl.logger.Warnw("redis window peek failed, using in-memory window",
				"key", c.key, "error", err)
			fallback = append(fallback, c)
			continue
		}
		if !d.Allowed {
			if denied.Allowed || d.RetryAfter < denied.RetryAfter {
				denied = Result{Allowed: false, Tier: c.tier, RetryAfter: d.RetryAfter}
			}
			continue
		}
		committable = append(committable, c)
		if allowed.Remaining < 0 || d.Remaining < allowed.Remaining {
			allowed.Remaining = d.Remaining
			allowed.Tier = c.tier
		}
	}

	// In-memory fallback tiers still participate in the AND decision.
	for _, c := range fallback {
		w := hl.window(c.key, c.window)
		d := w.Peek(c.limit)
		if !d.Allowed {
			if denied.Allowed || d.RetryAfter < denied.RetryAfter {
				denied = Result{Allowed: false, Tier: c.tier, RetryAfter: d.RetryAfter}
			}
			continue
		}
		if allowed.Remaining < 0 || d.Remaining < allowed.Remaining {
			allowed.Remaining = d.Remaining
			allowed.Tier = c.tier
		}
	}

	if !denied.Allowed {
		return denied
	}

	for _, c := range committable {
		if err := hl.redis.commit(ctx, c.key, c.window); err != nil {
			hl.logger.Warnw("redis window commit failed",
				"key", c.key, "error", err)
		}
	}
	for _, c := range fallback {
		hl.window(c.key, c.window).CheckAndIncrement(c.limit)
	}
	if allowed.Remaining < 0 {
		allowed.Remaining = 0
	}
	return allowed
}

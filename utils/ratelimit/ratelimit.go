package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	// Allow consumes one unit from key's current window.
	Allow(ctx context.Context, key string, rule Rule) (bool, error)

	// Remaining reports how many units key has left in its current window.
	Remaining(ctx context.Context, key string, rule Rule) (int, error)

	// Reset clears key's current window.
	Reset(ctx context.Context, key string, rule Rule) error
}

// Rule is a limit of Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// WindowLimiter counts requests per fixed time window in Redis with INCR + EXPIRE,
// so the limit holds across every process sharing the Redis instance.
type WindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	failOpen    bool
	now         func() time.Time
}

// NewWindowLimiter creates a Redis backed limiter.
//
// Parameters:
//   - redisClient: Redis client for storing counters
//   - logger: Logger for rate limit events
//   - failOpen: If true, requests are allowed when Redis is unavailable
func NewWindowLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *WindowLimiter {
	return &WindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
		now:         time.Now,
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	bucketKey := l.bucketKey(key, rule.Window)

	pipe := l.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, bucketKey)
	pipe.Expire(ctx, bucketKey, rule.Window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count > int64(rule.Limit) {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", rule.Limit),
		)
		return false, nil
	}
	return true, nil
}

func (l *WindowLimiter) Remaining(ctx context.Context, key string, rule Rule) (int, error) {
	count, err := l.redisClient.Get(ctx, l.bucketKey(key, rule.Window)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rule.Limit, nil
		}
		return 0, fmt.Errorf("failed to get remaining requests: %w", err)
	}
	return max(rule.Limit-count, 0), nil
}

func (l *WindowLimiter) Reset(ctx context.Context, key string, rule Rule) error {
	if err := l.redisClient.Del(ctx, l.bucketKey(key, rule.Window)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

// bucketKey 以窗口起始时间分桶
func (l *WindowLimiter) bucketKey(key string, window time.Duration) string {
	bucket := l.now().UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}

// Endpoints with their own per-minute budgets.
const (
	EndpointRegister = "register"
	EndpointLogin    = "login"
	EndpointMessage  = "message"
	EndpointAPI      = "api"
)

// PerMinute holds per-endpoint limits, mirroring the ratelimit config section.
type PerMinute struct {
	Register int
	Login    int
	Message  int
	API      int
}

// RuleFor returns the rule for an endpoint; unknown endpoints get 100/min.
func RuleFor(endpoint string, limits PerMinute) Rule {
	limit := 100
	switch endpoint {
	case EndpointRegister:
		limit = limits.Register
	case EndpointLogin:
		limit = limits.Login
	case EndpointMessage:
		limit = limits.Message
	case EndpointAPI:
		limit = limits.API
	}
	return Rule{Limit: limit, Window: time.Minute}
}

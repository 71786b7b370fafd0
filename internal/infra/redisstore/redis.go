// Package redisstore implements the response cache, the fixed-window rate
// limiter and the chat history on Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("redisstore")

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// ============================================================
// Cache: port.Cache
// ============================================================

// Cache stores serialized responses with a TTL.
type Cache struct {
	rdb redis.UniversalClient
}

// NewCache creates a Redis backed response cache.
func NewCache(rdb redis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Track adds key to the group set. The set lives as long as its newest member.
func (c *Cache) Track(ctx context.Context, group, key string, ttl time.Duration) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, group, key)
		pipe.Expire(ctx, group, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis track %s: %w", group, err)
	}
	return nil
}

// Invalidate deletes every member of the group set and the set itself.
func (c *Cache) Invalidate(ctx context.Context, group string) error {
	ctx, span := tracer.Start(ctx, "Cache.Invalidate")
	defer span.End()
	span.SetAttributes(attribute.String("cache.group", group))

	members, err := c.rdb.SMembers(ctx, group).Result()
	if err != nil {
		return fmt.Errorf("redis smembers %s: %w", group, err)
	}
	keys := append(members, group)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del group %s: %w", group, err)
	}
	return nil
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ============================================================
// Limiter: port.RateLimiter
// ============================================================

// Limiter is a fixed-window counter: INCR the key, EXPIRE it on the first hit.
type Limiter struct {
	rdb redis.UniversalClient
}

// NewLimiter creates a Redis backed rate limiter.
func NewLimiter(rdb redis.UniversalClient) *Limiter {
	return &Limiter{rdb: rdb}
}

func (l *Limiter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis expire %s: %w", key, err)
		}
		return count, window, nil
	}

	ttl, err := l.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis pttl %s: %w", key, err)
	}
	if ttl < 0 {
		// key lost its expiry (crash between INCR and EXPIRE): restart the window
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis expire %s: %w", key, err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// ============================================================
// History: port.ChatHistory
// ============================================================

// History stores chat turns as JSON in a list per user.
type History struct {
	rdb      redis.UniversalClient
	maxTurns int64
}

// NewHistory creates a Redis chat history keeping at most maxTurns entries.
func NewHistory(rdb redis.UniversalClient, maxTurns int) *History {
	return &History{rdb: rdb, maxTurns: int64(maxTurns)}
}

func historyKey(userID string) string {
	return "chat:session:" + userID
}

// Recent returns the last n turns, oldest first.
func (h *History) Recent(ctx context.Context, userID string, n int) ([]domain.ChatTurn, error) {
	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}
	raw, err := h.rdb.LRange(ctx, historyKey(userID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	turns := make([]domain.ChatTurn, 0, len(raw))
	for _, item := range raw {
		var t domain.ChatTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Append pushes turns and trims the list to maxTurns.
func (h *History) Append(ctx context.Context, userID string, turns ...domain.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal chat turn: %w", err)
		}
		values = append(values, b)
	}

	key := historyKey(userID)
	_, err := h.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if h.maxTurns > 0 {
			pipe.LTrim(ctx, key, -h.maxTurns, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

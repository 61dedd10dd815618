package router

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Daily counters live under a date-suffixed key, so "reset at local
// midnight" is just reading today's key; yesterday's expires on its own.
const countersRetention = 48 * time.Hour

const (
	fieldPush      = "push"
	fieldNonUrgent = "non_urgent"
)

// Counters tracks the per-user daily push and non-urgent acceptance counts.
type Counters struct {
	redis *redis.Client
}

func NewCounters(rdb *redis.Client) *Counters {
	return &Counters{redis: rdb}
}

func dailyKey(userID string, now time.Time) string {
	return fmt.Sprintf("coach:daily:%s:%s", userID, now.Format("2006-01-02"))
}

func (c *Counters) count(ctx context.Context, userID, field string, now time.Time) (int, error) {
	n, err := c.redis.HGet(ctx, dailyKey(userID, now), field).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily counter %s: %w", field, err)
	}
	return n, nil
}

func (c *Counters) incr(ctx context.Context, userID, field string, now time.Time) error {
	key := dailyKey(userID, now)
	if err := c.redis.HIncrBy(ctx, key, field, 1).Err(); err != nil {
		return fmt.Errorf("bump daily counter %s: %w", field, err)
	}
	return c.redis.Expire(ctx, key, countersRetention).Err()
}

// PushCount returns how many pushes went out today, P0 included.
func (c *Counters) PushCount(ctx context.Context, userID string, now time.Time) (int, error) {
	return c.count(ctx, userID, fieldPush, now)
}

// RecordPush increments today's push count. P0 pushes count too, so the
// counter stays an honest observability signal even though P0 is exempt
// from the cap.
func (c *Counters) RecordPush(ctx context.Context, userID string, now time.Time) error {
	return c.incr(ctx, userID, fieldPush, now)
}

// NonUrgentCount returns today's accepted P2/P3 count.
func (c *Counters) NonUrgentCount(ctx context.Context, userID string, now time.Time) (int, error) {
	return c.count(ctx, userID, fieldNonUrgent, now)
}

// RecordNonUrgent increments today's accepted P2/P3 count.
func (c *Counters) RecordNonUrgent(ctx context.Context, userID string, now time.Time) error {
	return c.incr(ctx, userID, fieldNonUrgent, now)
}

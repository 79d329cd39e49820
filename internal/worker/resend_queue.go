package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resendQueueKey    = "newsletter:resend:due"
	resendAttemptsKey = "newsletter:resend:attempts"
)

// RedisResendQueue holds subscribers whose confirmation message could not be
// delivered. Members of a sorted set are scored by the unix millisecond at
// which the next attempt is due; failed attempt counts live in a hash.
type RedisResendQueue struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisResendQueue creates a resend queue on client.
func NewRedisResendQueue(client *redis.Client) *RedisResendQueue {
	return &RedisResendQueue{client: client, now: time.Now}
}

// ScheduleResend queues subscriberID for an immediate attempt. An id that is
// already queued keeps its existing due time.
func (q *RedisResendQueue) ScheduleResend(ctx context.Context, subscriberID string) error {
	err := q.client.ZAddNX(ctx, resendQueueKey, redis.Z{
		Score:  score(q.now()),
		Member: subscriberID,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule resend %s: %w", subscriberID, err)
	}
	return nil
}

// Due returns up to limit ids whose due time has passed, oldest first.
func (q *RedisResendQueue) Due(ctx context.Context, limit int) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, resendQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(score(q.now()), 'f', 0, 64),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due resends: %w", err)
	}
	return ids, nil
}

// Claim removes id from the queue. It reports false when another worker
// removed it first.
func (q *RedisResendQueue) Claim(ctx context.Context, subscriberID string) (bool, error) {
	n, err := q.client.ZRem(ctx, resendQueueKey, subscriberID).Result()
	if err != nil {
		return false, fmt.Errorf("claim resend %s: %w", subscriberID, err)
	}
	return n == 1, nil
}

// RecordFailure increments and returns the failed attempt count for id.
func (q *RedisResendQueue) RecordFailure(ctx context.Context, subscriberID string) (int, error) {
	n, err := q.client.HIncrBy(ctx, resendAttemptsKey, subscriberID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("record resend failure %s: %w", subscriberID, err)
	}
	return int(n), nil
}

// Reschedule queues id again, due at at.
func (q *RedisResendQueue) Reschedule(ctx context.Context, subscriberID string, at time.Time) error {
	err := q.client.ZAdd(ctx, resendQueueKey, redis.Z{Score: score(at), Member: subscriberID}).Err()
	if err != nil {
		return fmt.Errorf("reschedule resend %s: %w", subscriberID, err)
	}
	return nil
}

// Forget drops the attempt history for id.
func (q *RedisResendQueue) Forget(ctx context.Context, subscriberID string) error {
	if err := q.client.HDel(ctx, resendAttemptsKey, subscriberID).Err(); err != nil {
		return fmt.Errorf("forget resend %s: %w", subscriberID, err)
	}
	return nil
}

// Len returns the number of queued ids.
func (q *RedisResendQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, resendQueueKey).Result()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

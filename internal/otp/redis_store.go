package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helpinghands/auth-service/internal/client"
)

// RedisStore backs the OTP windows with Redis sorted sets so multiple
// instances share rate-limit and lockout state. Record TTLs ride on the
// Redis key expiry in addition to the stored expires_at.
type RedisStore struct {
	rdb *client.RedisClient
}

func NewRedisStore(rdb *client.RedisClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func recKey(identity string) string  { return "otp:rec:" + identity }
func attKey(identity string) string  { return "otp:att:" + identity }
func reqKey(identity string) string  { return "otp:req:" + identity }
func failKey(identity string) string { return "otp:fail:" + identity }

func (s *RedisStore) SaveRecord(ctx context.Context, rec Record, ttl time.Duration) error {
	if err := s.rdb.SetJSON(ctx, recKey(rec.Identity), rec, ttl); err != nil {
		return fmt.Errorf("save otp record: %w", err)
	}
	return s.rdb.Del(ctx, attKey(rec.Identity)).Err()
}

func (s *RedisStore) GetRecord(ctx context.Context, identity string) (*Record, error) {
	var rec Record
	err := s.rdb.GetJSON(ctx, recKey(identity), &rec)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get otp record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) DeleteRecord(ctx context.Context, identity string) error {
	return s.rdb.Del(ctx, recKey(identity), attKey(identity)).Err()
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, identity string) (int, error) {
	// Attempt counter expires with the longest code lifetime so stale
	// counters cannot leak across issuances.
	n, err := s.rdb.IncrementWithTTL(ctx, attKey(identity), time.Hour)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) AddRequest(ctx context.Context, identity string, window time.Duration) error {
	return s.addWindow(ctx, reqKey(identity), window)
}

func (s *RedisStore) RequestWindow(ctx context.Context, identity string, window time.Duration) (int, time.Time, error) {
	return s.windowStats(ctx, reqKey(identity), window)
}

func (s *RedisStore) AddFailure(ctx context.Context, identity string, window time.Duration) error {
	return s.addWindow(ctx, failKey(identity), window)
}

func (s *RedisStore) FailureWindow(ctx context.Context, identity string, window time.Duration) (int, time.Time, error) {
	return s.windowStats(ctx, failKey(identity), window)
}

func (s *RedisStore) ClearFailures(ctx context.Context, identity string) error {
	return s.rdb.Del(ctx, failKey(identity)).Err()
}

func (s *RedisStore) addWindow(ctx context.Context, key string, window time.Duration) error {
	now := time.Now()
	score := float64(now.UnixNano())
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: strconv.FormatInt(now.UnixNano(), 10)})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-window).UnixNano(), 10))
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) windowStats(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	count := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, time.Time{}, err
	}

	n := int(count.Val())
	var first time.Time
	if zs := oldest.Val(); len(zs) > 0 {
		first = time.Unix(0, int64(zs[0].Score))
	}
	return n, first, nil
}

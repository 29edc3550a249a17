package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helpinghands/auth-service/internal/client"
)

// RedisStore keys sessions as session:<id> JSON with the absolute TTL on
// the Redis key, plus a per-user id set for the concurrency cap.
type RedisStore struct {
	rdb *client.RedisClient
}

func NewRedisStore(rdb *client.RedisClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func sessKey(id string) string     { return "session:" + id }
func userKey(userID string) string { return "session:user:" + userID }

func (s *RedisStore) Save(ctx context.Context, d Data) error {
	ttl := time.Until(d.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.rdb.SetJSON(ctx, sessKey(d.ID), d, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, userKey(d.UserID), d.ID)
	pipe.Expire(ctx, userKey(d.UserID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Data, error) {
	var d Data
	err := s.rdb.GetJSON(ctx, sessKey(id), &d)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &d, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessKey(id))
	if d != nil {
		pipe.SRem(ctx, userKey(d.UserID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UserSessions(ctx context.Context, userID string) ([]Data, error) {
	ids, err := s.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]Data, 0, len(ids))
	for _, id := range ids {
		d, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if d == nil {
			// Key expired under us; prune the index entry.
			_ = s.rdb.SRem(ctx, userKey(userID), id).Err()
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *RedisStore) All(ctx context.Context) ([]Data, error) {
	var out []Data
	iter := s.rdb.Scan(ctx, 0, "session:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if len(key) > len("session:user:") && key[:len("session:user:")] == "session:user:" {
			continue
		}
		var d Data
		if err := s.rdb.GetJSON(ctx, key, &d); err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, iter.Err()
}

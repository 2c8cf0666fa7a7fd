package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis 键空间：
//
//	<ns>:generations          SET，成员为代名称
//	<ns>:gen:<generation>     HASH，field 为 Key.Digest()，value 为 record JSON
type redisStore struct {
	redis     *redis.Client
	namespace string
}

// NewRedisStore 基于已有的 Redis 客户端构建存储。
func NewRedisStore(client *redis.Client, namespace string) (Store, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if namespace == "" {
		namespace = "peg-hub"
	}
	return &redisStore{redis: client, namespace: namespace}, nil
}

func (s *redisStore) generationsKey() string {
	return s.namespace + ":generations"
}

func (s *redisStore) generationKey(generation string) string {
	return s.namespace + ":gen:" + generation
}

func (s *redisStore) Open(ctx context.Context, generation string) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	if err := s.redis.SAdd(ctx, s.generationsKey(), generation).Err(); err != nil {
		cacheErrors.WithLabelValues("redis", "open").Inc()
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

func (s *redisStore) Match(ctx context.Context, generation string, key Key) (*Snapshot, error) {
	if err := validGeneration(generation); err != nil {
		return nil, err
	}
	data, err := s.redis.HGet(ctx, s.generationKey(generation), key.Digest()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		cacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		cacheErrors.WithLabelValues("redis", "decode").Inc()
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if rec.Snapshot == nil || rec.Key != key {
		return nil, ErrNotFound
	}
	return rec.Snapshot, nil
}

func (s *redisStore) Put(ctx context.Context, generation string, key Key, snap *Snapshot) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	payload, err := json.Marshal(record{Key: key, Snapshot: snap})
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.SAdd(ctx, s.generationsKey(), generation)
	pipe.HSet(ctx, s.generationKey(generation), key.Digest(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues("redis", "put").Inc()
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, generation string, key Key) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	if err := s.redis.HDel(ctx, s.generationKey(generation), key.Digest()).Err(); err != nil {
		cacheErrors.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (s *redisStore) Generations(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.generationsKey()).Result()
	if err != nil {
		cacheErrors.WithLabelValues("redis", "list").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *redisStore) DropGeneration(ctx context.Context, generation string) (bool, error) {
	if err := validGeneration(generation); err != nil {
		return false, err
	}
	pipe := s.redis.TxPipeline()
	removed := pipe.SRem(ctx, s.generationsKey(), generation)
	pipe.Del(ctx, s.generationKey(generation))
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues("redis", "drop").Inc()
		return false, fmt.Errorf("redis drop: %w", err)
	}
	return removed.Val() > 0, nil
}

func (s *redisStore) Close() error {
	return s.redis.Close()
}

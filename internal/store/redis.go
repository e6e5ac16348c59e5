package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	draftPrefix  = "audit-draft:"
	retryBackoff = 25 * time.Millisecond
)

// RedisSessionStore shares drafts between API replicas. Each write refreshes
// the TTL so abandoned drafts eventually disappear.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, draftPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s.client.Get -> %w", err)
	}

	return data, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, draftPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("s.client.Set -> %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, draftPrefix+key).Err(); err != nil {
		return fmt.Errorf("s.client.Del -> %w", err)
	}
	return nil
}

// RedisLocker is a lock shared by every replica talking to the same Redis.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrNotObtained
		}
		return nil, fmt.Errorf("l.client.Obtain -> %w", err)
	}

	return lock, nil
}

// ObtainWait retries with a linear backoff until the lock is free, wait
// elapses or ctx is done.
func (l *RedisLocker) ObtainWait(ctx context.Context, key string, ttl, wait time.Duration) (Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryBackoff),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNotObtained
		}
		return nil, fmt.Errorf("l.client.Obtain -> %w", err)
	}

	return lock, nil
}

// NewRedisClient connects and pings. The caller owns the returned client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("client.Ping -> %w", err)
	}

	return client, nil
}

package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"commonvote/internal/otp/models"
	"commonvote/pkg/platform/sentinel"
)

const (
	defaultRetention  = time.Hour
	defaultMaxRetries = 5
)

// RedisStore keeps one JSON document per challenge key. Update is an optimistic
// WATCH/MULTI transaction retried on contention. Keys expire on their own
// some time after the challenge does, so Sweep has nothing to do.
type RedisStore struct {
	client     *redis.Client
	retention  time.Duration
	maxRetries int
}

type RedisOption func(*RedisStore)

// WithRetention sets how long an expired challenge is kept so that
// verification still reports Expired rather than NotFound.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.retention = d
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		retention:  defaultRetention,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) Replace(ctx context.Context, c *models.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	ttl := c.ExpiresAt.Sub(c.CreatedAt) + s.retention
	return s.client.Set(ctx, c.Key().String(), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key models.ChallengeKey) (*models.Challenge, error) {
	raw, err := s.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (s *RedisStore) Update(ctx context.Context, key models.ChallengeKey, fn func(c *models.Challenge) error) (*models.Challenge, error) {
	k := key.String()
	for range s.maxRetries {
		var updated *models.Challenge
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				return sentinel.ErrNotFound
			}
			if err != nil {
				return err
			}
			c, err := decode(raw)
			if err != nil {
				return err
			}
			if err := fn(c); err != nil {
				return err
			}
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal challenge: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, k, data, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err == nil {
				updated = c
			}
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update challenge %s: %w", k, sentinel.ErrUnavailable)
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func decode(raw []byte) (*models.Challenge, error) {
	var c models.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return &c, nil
}

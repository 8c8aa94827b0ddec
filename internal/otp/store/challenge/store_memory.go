package challenge

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"commonvote/internal/otp/models"
	"commonvote/pkg/platform/sentinel"
)

const shardCount = 64

// InMemoryStore keeps challenges in sharded maps. Update holds the shard lock
// for the whole read-modify-write, so racing verifications for one phone are
// serialised while other phones proceed.
type InMemoryStore struct {
	shards    [shardCount]*shard
	retention time.Duration
}

type InMemoryOption func(*InMemoryStore)

// WithInMemoryRetention sets how long an expired or exhausted challenge is
// kept so that verification still reports Expired or Exhausted.
func WithInMemoryRetention(d time.Duration) InMemoryOption {
	return func(s *InMemoryStore) {
		s.retention = d
	}
}

type shard struct {
	mu         sync.Mutex
	challenges map[models.ChallengeKey]models.Challenge
}

func NewInMemory(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{retention: defaultRetention}
	for i := range s.shards {
		s.shards[i] = &shard{challenges: make(map[models.ChallengeKey]models.Challenge)}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) shardFor(key models.ChallengeKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return s.shards[h.Sum32()%shardCount]
}

func (s *InMemoryStore) Replace(_ context.Context, c *models.Challenge) error {
	sh := s.shardFor(c.Key())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.challenges[c.Key()] = *c
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key models.ChallengeKey) (*models.Challenge, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.challenges[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

func (s *InMemoryStore) Update(_ context.Context, key models.ChallengeKey, fn func(c *models.Challenge) error) (*models.Challenge, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.challenges[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	sh.challenges[key] = c
	return &c, nil
}

// Sweep drops consumed challenges and those past expiry plus retention, the
// same lifetime RedisStore gives its keys.
func (s *InMemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, c := range sh.challenges {
			if c.Consumed || now.After(c.ExpiresAt.Add(s.retention)) {
				delete(sh.challenges, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

package window

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"commonvote/internal/ratelimit/models"
)

const shardCount = 64

// InMemoryStore implements WindowStore with fixed windows held in memory.
// Keys are spread over shards so unrelated phones do not contend on one lock.
// Not distributed; use RedisStore when running more than one instance.
type InMemoryStore struct {
	shards [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string][]counter
}

// counter is one window's state for a key.
type counter struct {
	start  time.Time
	length time.Duration
	count  int
}

func (c counter) elapsed(now time.Time) bool {
	return c.count == 0 || !now.Before(c.start.Add(c.length))
}

func New() *InMemoryStore {
	s := &InMemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string][]counter)}
	}
	return s
}

func (s *InMemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Allow resets elapsed windows, checks every window against its limit and, if
// all have room, increments all of them. Nothing changes on denial.
func (s *InMemoryStore) Allow(_ context.Context, key string, policy models.Policy, now time.Time) (*models.RateLimitResult, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	counters := sh.entries[key]
	if len(counters) != len(policy) {
		counters = make([]counter, len(policy))
	}

	for i, w := range policy {
		counters[i].length = w.Length
		if counters[i].elapsed(now) {
			counters[i] = counter{start: now, length: w.Length}
		}
	}

	var retryAfter time.Duration
	var resetAt time.Time
	for i, w := range policy {
		if counters[i].count < w.Limit {
			continue
		}
		reset := counters[i].start.Add(w.Length)
		if wait := reset.Sub(now); wait > retryAfter {
			retryAfter = wait
			resetAt = reset
		}
	}
	if retryAfter > 0 {
		sh.entries[key] = counters
		return &models.RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			Limit:      tightest(policy, counters).Limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}

	for i := range counters {
		counters[i].count++
	}
	sh.entries[key] = counters

	idx := tightestIndex(policy, counters)
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     policy[idx].Limit,
		Remaining: policy[idx].Limit - counters[idx].count,
		ResetAt:   counters[idx].start.Add(policy[idx].Length),
	}, nil
}

// Reset clears the counters for a key.
func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
	return nil
}

// Sweep drops keys whose windows have all elapsed at now and returns how many
// were removed. A dropped key behaves exactly like one never seen.
func (s *InMemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, counters := range sh.entries {
			if allElapsed(counters, now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func allElapsed(counters []counter, now time.Time) bool {
	for _, c := range counters {
		if !c.elapsed(now) {
			return false
		}
	}
	return true
}

// Len reports how many keys are held.
func (s *InMemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// tightestIndex returns the window with the least remaining room.
func tightestIndex(policy models.Policy, counters []counter) int {
	best := 0
	for i := range policy {
		if policy[i].Limit-counters[i].count < policy[best].Limit-counters[best].count {
			best = i
		}
	}
	return best
}

func tightest(policy models.Policy, counters []counter) models.Window {
	return policy[tightestIndex(policy, counters)]
}

package window

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"commonvote/internal/ratelimit/models"
)

// allowScript checks every window and increments all of them only if each has
// room. Counters expire with their window, which gives fixed-window semantics.
//
// KEYS[i]      counter for window i
// ARGV[2i-1]   limit of window i
// ARGV[2i]     length of window i in milliseconds
//
// Returns {allowed, retry_ms, count_1, ..., count_n}.
var allowScript = redis.NewScript(`
local n = #KEYS
local counts = {}
local retry = 0
for i = 1, n do
  local c = tonumber(redis.call('GET', KEYS[i]) or '0')
  counts[i] = c
  if c >= tonumber(ARGV[2*i-1]) then
    local ttl = redis.call('PTTL', KEYS[i])
    if ttl < 0 then ttl = tonumber(ARGV[2*i]) end
    if ttl > retry then retry = ttl end
  end
end
if retry > 0 then
  local out = {0, retry}
  for i = 1, n do out[#out+1] = counts[i] end
  return out
end
local out = {1, 0}
for i = 1, n do
  local c = redis.call('INCR', KEYS[i])
  if c == 1 then redis.call('PEXPIRE', KEYS[i], ARGV[2*i]) end
  out[#out+1] = c
end
return out
`)

// RedisStore implements WindowStore on Redis. All window keys of one counter
// share a hash tag so the script runs on a single slot.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func windowKeys(key string, policy models.Policy) []string {
	keys := make([]string, len(policy))
	for i, w := range policy {
		keys[i] = fmt.Sprintf("{%s}:%d", key, w.Length.Milliseconds())
	}
	return keys
}

// Allow runs the check-and-increment script. now is only used to compute ResetAt;
// window expiry follows the Redis server clock.
func (s *RedisStore) Allow(ctx context.Context, key string, policy models.Policy, now time.Time) (*models.RateLimitResult, error) {
	args := make([]any, 0, 2*len(policy))
	for _, w := range policy {
		args = append(args, w.Limit, w.Length.Milliseconds())
	}

	raw, err := allowScript.Run(ctx, s.client, windowKeys(key, policy), args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 2+len(policy) {
		return nil, fmt.Errorf("rate limit script: unexpected reply length %d", len(raw))
	}

	counts := raw[2:]
	idx := 0
	for i := range policy {
		if int64(policy[i].Limit)-counts[i] < int64(policy[idx].Limit)-counts[idx] {
			idx = i
		}
	}

	if raw[0] == 0 {
		retry := time.Duration(raw[1]) * time.Millisecond
		return &models.RateLimitResult{
			Allowed:    false,
			Limit:      policy[idx].Limit,
			Remaining:  0,
			ResetAt:    now.Add(retry),
			RetryAfter: retry,
		}, nil
	}

	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     policy[idx].Limit,
		Remaining: policy[idx].Limit - int(counts[idx]),
		ResetAt:   now.Add(policy[idx].Length),
	}, nil
}

// Reset deletes every window counter for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	var cursor uint64
	pattern := "{" + key + "}:*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan rate limit keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete rate limit keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

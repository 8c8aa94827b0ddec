//go:build integration

package window_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commonvote/internal/ratelimit/models"
	"commonvote/internal/ratelimit/store/window"
	"commonvote/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *window.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = window.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestShortWindowDeniesSecondRequest() {
	ctx := context.Background()
	key := models.NewKey(models.ActionOTPRequest, "+15551234567")
	policy := models.DefaultOTPPolicy()

	res, err := s.store.Allow(ctx, key, policy, time.Now())
	s.Require().NoError(err)
	s.True(res.Allowed)

	res, err = s.store.Allow(ctx, key, policy, time.Now())
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Greater(res.RetryAfter, 50*time.Second)
	s.LessOrEqual(res.RetryAfter, time.Minute)
}

func (s *RedisStoreSuite) TestWindowExpires() {
	ctx := context.Background()
	policy := models.Policy{{Limit: 1, Length: 200 * time.Millisecond}}

	res, err := s.store.Allow(ctx, "expiring", policy, time.Now())
	s.Require().NoError(err)
	s.True(res.Allowed)

	s.Eventually(func() bool {
		res, err := s.store.Allow(ctx, "expiring", policy, time.Now())
		return err == nil && res.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisStoreSuite) TestResetClearsAllWindows() {
	ctx := context.Background()
	policy := models.DefaultOTPPolicy()

	_, err := s.store.Allow(ctx, "reset-me", policy, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(ctx, "reset-me"))

	res, err := s.store.Allow(ctx, "reset-me", policy, time.Now())
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *RedisStoreSuite) TestConcurrentAllow() {
	ctx := context.Background()
	policy := models.Policy{{Limit: 10, Length: time.Minute}, {Limit: 20, Length: time.Hour}}
	const goroutines = 50

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for range goroutines {
		wg.Go(func() {
			res, err := s.store.Allow(ctx, "concurrent", policy, time.Now())
			s.NoError(err)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(10), allowed.Load(), "exactly the short limit is admitted")
}

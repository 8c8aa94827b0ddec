package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commonvote/internal/otp/models"
	"commonvote/pkg/platform/sentinel"
)

// =============================================================================
// In-Memory Challenge Store Test Suite
// =============================================================================
// Justification: the store is the only place where the one-active-challenge
// rule and atomic read-modify-write are enforced for the in-process backend.

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
	key   models.ChallengeKey
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.key = models.ChallengeKey{Phone: "+15551234567", Purpose: models.PurposeRegistration}
}

func (s *InMemoryStoreSuite) challenge(hash string) *models.Challenge {
	return &models.Challenge{
		Phone:       s.key.Phone,
		Purpose:     s.key.Purpose,
		CodeHash:    []byte(hash),
		CreatedAt:   s.now,
		ExpiresAt:   s.now.Add(10 * time.Minute),
		MaxAttempts: 3,
	}
}

func (s *InMemoryStoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, s.key)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestReplaceDiscardsPrevious() {
	s.Require().NoError(s.store.Replace(s.ctx, s.challenge("first")))

	_, err := s.store.Update(s.ctx, s.key, func(c *models.Challenge) error {
		c.AttemptsUsed = 2
		return nil
	})
	s.Require().NoError(err)

	s.Require().NoError(s.store.Replace(s.ctx, s.challenge("second")))

	got, err := s.store.Get(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal([]byte("second"), got.CodeHash)
	s.Zero(got.AttemptsUsed)
}

func (s *InMemoryStoreSuite) TestPurposesAreIndependent() {
	s.Require().NoError(s.store.Replace(s.ctx, s.challenge("reg")))
	voting := s.challenge("vote")
	voting.Purpose = models.PurposeVoting
	s.Require().NoError(s.store.Replace(s.ctx, voting))

	got, err := s.store.Get(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal([]byte("reg"), got.CodeHash)
}

func (s *InMemoryStoreSuite) TestUpdate() {
	s.Run("missing key", func() {
		_, err := s.store.Update(s.ctx, s.key, func(*models.Challenge) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Require().NoError(s.store.Replace(s.ctx, s.challenge("h")))

	s.Run("fn error discards changes", func() {
		boom := errors.New("boom")
		_, err := s.store.Update(s.ctx, s.key, func(c *models.Challenge) error {
			c.AttemptsUsed = 99
			return boom
		})
		s.ErrorIs(err, boom)

		got, err := s.store.Get(s.ctx, s.key)
		s.Require().NoError(err)
		s.Zero(got.AttemptsUsed)
	})

	s.Run("returned challenge is a copy", func() {
		got, err := s.store.Update(s.ctx, s.key, func(c *models.Challenge) error {
			c.Consumed = true
			return nil
		})
		s.Require().NoError(err)
		got.Consumed = false

		again, err := s.store.Get(s.ctx, s.key)
		s.Require().NoError(err)
		s.True(again.Consumed)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentUpdatesAreNotLost() {
	s.Require().NoError(s.store.Replace(s.ctx, s.challenge("h")))

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			_, err := s.store.Update(s.ctx, s.key, func(c *models.Challenge) error {
				c.AttemptsUsed++
				return nil
			})
			s.NoError(err)
		})
	}
	wg.Wait()

	got, err := s.store.Get(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(100, got.AttemptsUsed)
}

func (s *InMemoryStoreSuite) TestSweep() {
	live := s.challenge("live")
	s.Require().NoError(s.store.Replace(s.ctx, live))

	recentlyExpired := s.challenge("expired")
	recentlyExpired.Purpose = models.PurposeVoting
	recentlyExpired.ExpiresAt = s.now.Add(-time.Second)
	recentlyExpired.AttemptsUsed = recentlyExpired.MaxAttempts
	s.Require().NoError(s.store.Replace(s.ctx, recentlyExpired))

	consumed := s.challenge("consumed")
	consumed.Purpose = models.PurposePasswordReset
	consumed.Consumed = true
	s.Require().NoError(s.store.Replace(s.ctx, consumed))

	s.Run("keeps expired and exhausted challenges within retention", func() {
		removed, err := s.store.Sweep(s.ctx, s.now)
		s.Require().NoError(err)
		s.Equal(1, removed)

		_, err = s.store.Get(s.ctx, s.key)
		s.NoError(err)
		_, err = s.store.Get(s.ctx, recentlyExpired.Key())
		s.NoError(err)
		_, err = s.store.Get(s.ctx, consumed.Key())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("drops challenges past retention", func() {
		removed, err := s.store.Sweep(s.ctx, recentlyExpired.ExpiresAt.Add(defaultRetention+time.Second))
		s.Require().NoError(err)
		s.Equal(1, removed)

		_, err = s.store.Get(s.ctx, recentlyExpired.Key())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestSweepCustomRetention() {
	store := NewInMemory(WithInMemoryRetention(time.Minute))
	c := s.challenge("expired")
	c.ExpiresAt = s.now
	s.Require().NoError(store.Replace(s.ctx, c))

	removed, err := store.Sweep(s.ctx, s.now.Add(30*time.Second))
	s.Require().NoError(err)
	s.Zero(removed)

	removed, err = store.Sweep(s.ctx, s.now.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)
}

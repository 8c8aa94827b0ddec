package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"commonvote/internal/otp/models"
	"commonvote/internal/otp/service/mocks"
	"commonvote/internal/otp/store/challenge"
	rlModels "commonvote/internal/ratelimit/models"
	rlService "commonvote/internal/ratelimit/service"
	"commonvote/internal/ratelimit/store/window"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/requestcontext"
)

// =============================================================================
// OTP Service Test Suite
// =============================================================================
// Justification: Request/Verify/Status carry the challenge lifecycle rules
// (replacement, expiry, attempt budget, single use). The in-memory store is
// real so lifecycle transitions are observed end to end; rate limiting,
// delivery and the membership hook are mocked at their ports.

type ServiceSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	store        *challenge.InMemoryStore
	mockLimiter  *mocks.MockRateLimiter
	mockSender   *mocks.MockSender
	mockVerifier *mocks.MockPhoneVerifier
	mockAudit    *mocks.MockAuditPublisher
	service      *Service
	now          time.Time
	number       phone.Number
	nextCode     string
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = challenge.NewInMemory()
	s.mockLimiter = mocks.NewMockRateLimiter(s.ctrl)
	s.mockSender = mocks.NewMockSender(s.ctrl)
	s.mockVerifier = mocks.NewMockPhoneVerifier(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.number = phone.Number("+15551234567")
	s.nextCode = "482913"

	hasher, err := models.NewCodeHasher([]byte("test-secret"))
	s.Require().NoError(err)

	s.service, err = New(s.store, s.mockLimiter, s.mockSender, hasher,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.mockAudit),
		WithPhoneVerifier(s.mockVerifier),
		WithCodeGenerator(func(int) (string, error) { return s.nextCode, nil }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(offset))
}

func (s *ServiceSuite) allow() {
	s.mockLimiter.EXPECT().Allow(gomock.Any(), s.number, rlModels.ActionOTPRequest).
		Return(&rlModels.RateLimitResult{Allowed: true}, nil)
}

func (s *ServiceSuite) issue(purpose models.Purpose, code string) {
	s.nextCode = code
	s.allow()
	s.mockSender.EXPECT().Send(gomock.Any(), s.number, gomock.Any()).Return(nil)
	res, err := s.service.Request(s.at(0), s.number, purpose)
	s.Require().NoError(err)
	s.Require().Equal(models.RequestSent, res.Status)
}

// =============================================================================
// Constructor Tests (Invariant Enforcement)
// =============================================================================

func (s *ServiceSuite) TestNew() {
	hasher, err := models.NewCodeHasher(nil)
	s.Require().NoError(err)

	s.Run("nil challenge store", func() {
		_, err := New(nil, s.mockLimiter, s.mockSender, hasher)
		s.ErrorContains(err, "challenge store is required")
	})
	s.Run("nil rate limiter", func() {
		_, err := New(s.store, nil, s.mockSender, hasher)
		s.ErrorContains(err, "rate limiter is required")
	})
	s.Run("nil sender", func() {
		_, err := New(s.store, s.mockLimiter, nil, hasher)
		s.ErrorContains(err, "sender is required")
	})
	s.Run("nil hasher", func() {
		_, err := New(s.store, s.mockLimiter, s.mockSender, nil)
		s.ErrorContains(err, "code hasher is required")
	})
}

// =============================================================================
// Request Tests
// =============================================================================

func (s *ServiceSuite) TestRequest() {
	s.Run("sends the code and stores a hashed challenge", func() {
		s.allow()
		s.mockSender.EXPECT().
			Send(gomock.Any(), s.number, "Your verification code is: 482913. Valid for 10 minutes. Do not share this code.").
			Return(nil)

		res, err := s.service.Request(s.at(0), s.number, models.PurposeRegistration)
		s.Require().NoError(err)
		s.Equal(models.RequestSent, res.Status)
		s.True(res.Delivered)
		s.Equal(s.now.Add(10*time.Minute), res.ExpiresAt)

		stored, err := s.store.Get(context.Background(), models.ChallengeKey{Phone: s.number, Purpose: models.PurposeRegistration})
		s.Require().NoError(err)
		s.NotContains(string(stored.CodeHash), "482913")
		s.Equal(3, stored.MaxAttempts)
	})

	s.Run("rate limited request creates nothing", func() {
		other := phone.Number("+15559990000")
		s.mockLimiter.EXPECT().Allow(gomock.Any(), other, rlModels.ActionOTPRequest).
			Return(&rlModels.RateLimitResult{Allowed: false, RetryAfter: 42 * time.Second}, nil)

		res, err := s.service.Request(s.at(0), other, models.PurposeRegistration)
		s.Require().NoError(err)
		s.Equal(models.RequestRateLimited, res.Status)
		s.Equal(42*time.Second, res.RetryAfter)

		status, err := s.service.Status(s.at(0), other, models.PurposeRegistration)
		s.Require().NoError(err)
		s.Equal(models.StateNotFound, status.State)
	})

	s.Run("delivery failure keeps the challenge", func() {
		s.allow()
		s.mockSender.EXPECT().Send(gomock.Any(), s.number, gomock.Any()).Return(errors.New("carrier down"))

		res, err := s.service.Request(s.at(0), s.number, models.PurposeVoting)
		s.Require().NoError(err)
		s.False(res.Delivered)

		status, err := s.service.Status(s.at(0), s.number, models.PurposeVoting)
		s.Require().NoError(err)
		s.True(status.HasActive)
	})

	s.Run("unknown purpose", func() {
		_, err := s.service.Request(s.at(0), s.number, models.Purpose("login"))
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("limiter error propagates", func() {
		s.mockLimiter.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInternal, "failed to check rate limit"))
		_, err := s.service.Request(s.at(0), s.number, models.PurposeRegistration)
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestNewRequestReplacesPreviousChallenge() {
	s.issue(models.PurposeRegistration, "111111")
	s.issue(models.PurposeRegistration, "222222")

	outcome, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposeRegistration, "111111")
	s.Require().NoError(err)
	s.Equal(models.OutcomeInvalidCode, outcome)

	s.mockVerifier.EXPECT().MarkPhoneVerified(gomock.Any(), s.number).Return(nil)
	outcome, err = s.service.Verify(s.at(time.Minute), s.number, models.PurposeRegistration, "222222")
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, outcome)
}

// =============================================================================
// Verify Tests
// =============================================================================

func (s *ServiceSuite) TestVerifyScenario() {
	s.issue(models.PurposeRegistration, "482913")
	s.mockVerifier.EXPECT().MarkPhoneVerified(gomock.Any(), s.number).Return(nil)

	outcome, err := s.service.Verify(s.at(5*time.Minute), s.number, models.PurposeRegistration, "482913")
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, outcome)

	outcome, err = s.service.Verify(s.at(5*time.Minute), s.number, models.PurposeRegistration, "482913")
	s.Require().NoError(err)
	s.Equal(models.OutcomeNotFound, outcome)

	status, err := s.service.Status(s.at(5*time.Minute), s.number, models.PurposeRegistration)
	s.Require().NoError(err)
	s.Equal(models.StateNotFound, status.State)
}

func (s *ServiceSuite) TestVerifyNoChallenge() {
	outcome, err := s.service.Verify(s.at(0), s.number, models.PurposeRegistration, "000000")
	s.Require().NoError(err)
	s.Equal(models.OutcomeNotFound, outcome)
}

func (s *ServiceSuite) TestVerifyExhaustsAfterThreeWrongCodes() {
	s.issue(models.PurposeVoting, "482913")

	for range 3 {
		outcome, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposeVoting, "000000")
		s.Require().NoError(err)
		s.Equal(models.OutcomeInvalidCode, outcome)
	}

	outcome, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposeVoting, "482913")
	s.Require().NoError(err)
	s.Equal(models.OutcomeExhausted, outcome)

	status, err := s.service.Status(s.at(time.Minute), s.number, models.PurposeVoting)
	s.Require().NoError(err)
	s.Equal(models.StateExhausted, status.State)
	s.False(status.HasActive)
	s.Zero(status.AttemptsRemaining)
}

func (s *ServiceSuite) TestVerifyExpired() {
	s.issue(models.PurposeVoting, "482913")

	s.Run("exactly at expiry is still valid for wrong code counting", func() {
		outcome, err := s.service.Verify(s.at(10*time.Minute), s.number, models.PurposeVoting, "000000")
		s.Require().NoError(err)
		s.Equal(models.OutcomeInvalidCode, outcome)
	})

	s.Run("after expiry even the correct code is expired", func() {
		outcome, err := s.service.Verify(s.at(10*time.Minute+time.Second), s.number, models.PurposeVoting, "482913")
		s.Require().NoError(err)
		s.Equal(models.OutcomeExpired, outcome)
	})

	s.Run("expired does not consume attempts", func() {
		c, err := s.store.Get(context.Background(), models.ChallengeKey{Phone: s.number, Purpose: models.PurposeVoting})
		s.Require().NoError(err)
		s.Equal(1, c.AttemptsUsed)
	})
}

func (s *ServiceSuite) TestSweepKeepsFailedChallengesReadable() {
	s.Run("expired challenge still reports expired after a sweep", func() {
		s.issue(models.PurposeVoting, "482913")

		removed, err := s.service.Sweep(s.at(11 * time.Minute))
		s.Require().NoError(err)
		s.Zero(removed)

		outcome, err := s.service.Verify(s.at(11*time.Minute), s.number, models.PurposeVoting, "482913")
		s.Require().NoError(err)
		s.Equal(models.OutcomeExpired, outcome)
	})

	s.Run("exhausted challenge still reports exhausted after a sweep", func() {
		s.issue(models.PurposeRegistration, "482913")
		for range 3 {
			outcome, err := s.service.Verify(s.at(time.Second), s.number, models.PurposeRegistration, "000000")
			s.Require().NoError(err)
			s.Equal(models.OutcomeInvalidCode, outcome)
		}

		_, err := s.service.Sweep(s.at(2 * time.Second))
		s.Require().NoError(err)

		outcome, err := s.service.Verify(s.at(3*time.Second), s.number, models.PurposeRegistration, "482913")
		s.Require().NoError(err)
		s.Equal(models.OutcomeExhausted, outcome)
	})

	s.Run("consumed challenge is swept", func() {
		s.issue(models.PurposePasswordReset, "482913")
		outcome, err := s.service.Verify(s.at(time.Second), s.number, models.PurposePasswordReset, "482913")
		s.Require().NoError(err)
		s.Equal(models.OutcomeVerified, outcome)

		removed, err := s.service.Sweep(s.at(2 * time.Second))
		s.Require().NoError(err)
		s.Equal(1, removed)
	})
}

func (s *ServiceSuite) TestVerifyOnlyRegistrationMarksPhone() {
	s.issue(models.PurposePasswordReset, "482913")

	// No MarkPhoneVerified expectation: gomock fails on an unexpected call.
	outcome, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposePasswordReset, "482913")
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, outcome)
}

func (s *ServiceSuite) TestVerifyHookFailureStillVerifies() {
	s.issue(models.PurposeRegistration, "482913")
	s.mockVerifier.EXPECT().MarkPhoneVerified(gomock.Any(), s.number).Return(errors.New("db down"))

	outcome, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposeRegistration, "482913")
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, outcome)
}

func (s *ServiceSuite) TestConcurrentVerifyCountsEveryAttempt() {
	s.issue(models.PurposeVoting, "482913")

	outcomes := make(chan models.VerifyOutcome, 10)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			outcome, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposeVoting, "000000")
			s.NoError(err)
			outcomes <- outcome
		})
	}
	wg.Wait()
	close(outcomes)

	counts := map[models.VerifyOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	s.Equal(3, counts[models.OutcomeInvalidCode])
	s.Equal(7, counts[models.OutcomeExhausted])
}

func (s *ServiceSuite) TestConcurrentCorrectCodeVerifiesOnce() {
	s.issue(models.PurposeVoting, "482913")

	outcomes := make(chan models.VerifyOutcome, 10)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			outcome, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposeVoting, "482913")
			s.NoError(err)
			outcomes <- outcome
		})
	}
	wg.Wait()
	close(outcomes)

	verified := 0
	for o := range outcomes {
		if o == models.OutcomeVerified {
			verified++
		} else {
			s.Equal(models.OutcomeNotFound, o)
		}
	}
	s.Equal(1, verified)
}

func (s *ServiceSuite) TestVerifyStoreError() {
	store := mocks.NewMockChallengeStore(s.ctrl)
	hasher, err := models.NewCodeHasher(nil)
	s.Require().NoError(err)
	svc, err := New(store, s.mockLimiter, s.mockSender, hasher)
	s.Require().NoError(err)

	store.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

	_, err = svc.Verify(s.at(0), s.number, models.PurposeVoting, "482913")
	s.True(dErrors.Is(err, dErrors.CodeInternal))
}

// =============================================================================
// Status and Sweep Tests
// =============================================================================

func (s *ServiceSuite) TestStatus() {
	s.issue(models.PurposeRegistration, "482913")

	_, err := s.service.Verify(s.at(time.Minute), s.number, models.PurposeRegistration, "000000")
	s.Require().NoError(err)

	status, err := s.service.Status(s.at(90*time.Second), s.number, models.PurposeRegistration)
	s.Require().NoError(err)
	s.Equal(models.StateActive, status.State)
	s.True(status.HasActive)
	s.Equal(2, status.AttemptsRemaining)
	s.Equal(510, status.SecondsUntilExpiry)

	status, err = s.service.Status(s.at(11*time.Minute), s.number, models.PurposeRegistration)
	s.Require().NoError(err)
	s.Equal(models.StateExpired, status.State)
	s.False(status.HasActive)
	s.Zero(status.SecondsUntilExpiry)
}

func (s *ServiceSuite) TestSweep() {
	s.issue(models.PurposeRegistration, "482913")
	s.issue(models.PurposeVoting, "482913")

	n, err := s.service.Sweep(s.at(time.Minute))
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.service.Sweep(s.at(time.Hour))
	s.Require().NoError(err)
	s.Zero(n, "expired challenges are kept for the retention period")

	n, err = s.service.Sweep(s.at(2 * time.Hour))
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *ServiceSuite) TestRunSweeperStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.service.RunSweeper(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("sweeper did not stop")
	}
}

// =============================================================================
// Rate Limit Integration
// =============================================================================
// Justification: request limits are a cross-component property; this wires the
// real rate limit service and checks the minute and hour caps through Request.

func TestRequestRespectsMinuteAndHourCaps(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	limiter, err := rlService.New(window.New())
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := models.NewCodeHasher(nil)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(challenge.NewInMemory(), limiter, sender, hasher,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}

	number := phone.Number("+15551234567")
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	request := func(offset time.Duration) models.RequestStatus {
		t.Helper()
		res, err := svc.Request(requestcontext.WithTime(context.Background(), start.Add(offset)), number, models.PurposeRegistration)
		if err != nil {
			t.Fatal(err)
		}
		return res.Status
	}

	if got := request(0); got != models.RequestSent {
		t.Fatalf("first request: got %s", got)
	}
	if got := request(30 * time.Second); got != models.RequestRateLimited {
		t.Fatalf("second request in minute: got %s", got)
	}
	for i := 1; i <= 4; i++ {
		if got := request(time.Duration(i) * time.Minute); got != models.RequestSent {
			t.Fatalf("request %d: got %s", i+1, got)
		}
	}
	if got := request(5 * time.Minute); got != models.RequestRateLimited {
		t.Fatalf("sixth request in hour: got %s", got)
	}
	if got := request(time.Hour); got != models.RequestSent {
		t.Fatalf("request after hour: got %s", got)
	}
}

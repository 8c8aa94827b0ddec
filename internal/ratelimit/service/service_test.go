package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"commonvote/internal/ratelimit/models"
	"commonvote/internal/ratelimit/service/mocks"
	"commonvote/internal/ratelimit/store/window"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/requestcontext"
)

// =============================================================================
// Rate Limit Service Test Suite
// =============================================================================
// Justification for unit tests: the service owns policy lookup, key building,
// error translation and audit emission on denial. Window arithmetic is covered
// by the store tests; here the real in-memory store is used for the happy paths
// and mocks for failure propagation.

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	mockStore *mocks.MockWindowStore
	mockAudit *mocks.MockAuditPublisher
	logger    *slog.Logger
	ctx       context.Context
	number    phone.Number
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockWindowStore(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.number = phone.Number("+15551234567")
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

// =============================================================================
// Constructor Tests (Invariant Enforcement)
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil window store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "window store is required")
	})

	s.Run("with options applies options", func() {
		svc, err := New(s.mockStore, WithLogger(s.logger), WithAuditPublisher(s.mockAudit))
		s.NoError(err)
		s.Equal(s.logger, svc.logger)
		s.Equal(s.mockAudit, svc.auditPublisher)
	})
}

// =============================================================================
// Allow Tests
// =============================================================================

func (s *ServiceSuite) TestAllowWithRealStore() {
	pub := s.mockAudit
	svc, err := New(window.New(), WithLogger(s.logger), WithAuditPublisher(pub))
	s.Require().NoError(err)

	s.Run("first request passes without audit", func() {
		res, err := svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("second request in the minute is denied and audited", func() {
		pub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e audit.Event) error {
				s.Equal(string(audit.EventOTPRateLimited), e.Action)
				s.Equal(s.number.String(), e.Subject)
				s.Equal("denied", e.Decision)
				return nil
			})

		res, err := svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(60, res.RetryAfterSeconds())
	})

	s.Run("audit failure does not change the decision", func() {
		pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("sink down"))

		res, err := svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
		s.Require().NoError(err)
		s.False(res.Allowed)
	})
}

func (s *ServiceSuite) TestAllowUsesPhoneScopedKey() {
	svc, err := New(s.mockStore)
	s.Require().NoError(err)

	s.mockStore.EXPECT().
		Allow(gomock.Any(), "rl:otp_request:+15551234567", models.DefaultOTPPolicy(), gomock.Any()).
		Return(&models.RateLimitResult{Allowed: true, Limit: 1}, nil)

	res, err := svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *ServiceSuite) TestAllowCustomPolicy() {
	policy := models.Policy{{Limit: 3, Length: time.Minute}}
	svc, err := New(window.New(), WithPolicy(models.ActionOTPRequest, policy))
	s.Require().NoError(err)

	for range 3 {
		res, err := svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
		s.Require().NoError(err)
		s.Require().True(res.Allowed)
	}
	res, err := svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
	s.Require().NoError(err)
	s.False(res.Allowed)
}

func (s *ServiceSuite) TestAllowStoreErrorIsInternal() {
	svc, err := New(s.mockStore)
	s.Require().NoError(err)

	s.mockStore.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("redis timeout"))

	_, err = svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestAllowUnknownAction() {
	svc, err := New(s.mockStore)
	s.Require().NoError(err)

	_, err = svc.Allow(s.ctx, s.number, models.Action("vote"))
	s.Require().Error(err)
}

func (s *ServiceSuite) TestReset() {
	s.Run("clears counters and audits the administrator", func() {
		svc, err := New(window.New(), WithLogger(s.logger), WithAuditPublisher(s.mockAudit))
		s.Require().NoError(err)

		_, err = svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
		s.Require().NoError(err)

		s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e audit.Event) error {
				s.Equal(string(audit.EventRateLimitReset), e.Action)
				s.Equal(s.number.String(), e.Subject)
				s.Equal(string(models.ActionOTPRequest), e.Reason)
				s.Equal("ops@example.org", e.ActorID)
				return nil
			})
		ctx := requestcontext.WithActorID(s.ctx, "ops@example.org")
		s.Require().NoError(svc.Reset(ctx, s.number, models.ActionOTPRequest))

		res, err := svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("unknown action is a validation error", func() {
		svc, err := New(s.mockStore)
		s.Require().NoError(err)

		err = svc.Reset(s.ctx, s.number, models.Action("vote"))
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("store failure is internal and not audited", func() {
		svc, err := New(s.mockStore, WithAuditPublisher(s.mockAudit))
		s.Require().NoError(err)

		s.mockStore.EXPECT().Reset(gomock.Any(), "rl:otp_request:+15551234567").Return(errors.New("redis timeout"))
		err = svc.Reset(s.ctx, s.number, models.ActionOTPRequest)
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})
}

// =============================================================================
// Sweep Tests
// =============================================================================

type sweepingStore struct {
	*mocks.MockWindowStore
	*mocks.MockSweeper
}

func (s *ServiceSuite) TestSweep() {
	s.Run("evicts idle phones from the memory store", func() {
		store := window.New()
		svc, err := New(store)
		s.Require().NoError(err)
		s.True(svc.Sweeps())

		_, err = svc.Allow(s.ctx, s.number, models.ActionOTPRequest)
		s.Require().NoError(err)

		n, err := svc.Sweep(s.ctx)
		s.Require().NoError(err)
		s.Equal(0, n)

		n, err = svc.Sweep(requestcontext.WithTime(s.ctx, requestcontext.Now(s.ctx).Add(time.Hour)))
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(0, store.Len())
	})

	s.Run("stores with their own expiry are left alone", func() {
		svc, err := New(s.mockStore)
		s.Require().NoError(err)
		s.False(svc.Sweeps())

		n, err := svc.Sweep(s.ctx)
		s.Require().NoError(err)
		s.Equal(0, n)
	})

	s.Run("sweep failure is internal", func() {
		sweeper := mocks.NewMockSweeper(s.ctrl)
		sweeper.EXPECT().Sweep(gomock.Any(), gomock.Any()).Return(0, errors.New("boom"))
		svc, err := New(sweepingStore{s.mockStore, sweeper})
		s.Require().NoError(err)

		_, err = svc.Sweep(s.ctx)
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})
}

// Package app assembles the services, stores and HTTP routes from config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	membershipModels "commonvote/internal/membership/models"
	membershipStore "commonvote/internal/membership/store"
	otpHandler "commonvote/internal/otp/handler"
	otpMetrics "commonvote/internal/otp/metrics"
	otpModels "commonvote/internal/otp/models"
	otpService "commonvote/internal/otp/service"
	challengeStore "commonvote/internal/otp/store/challenge"
	"commonvote/internal/platform/config"
	platformMetrics "commonvote/internal/platform/metrics"
	"commonvote/internal/platform/middleware"
	natsclient "commonvote/internal/platform/nats"
	"commonvote/internal/platform/postgres"
	redisclient "commonvote/internal/platform/redis"
	proposalHandler "commonvote/internal/proposal/handler"
	proposalMetrics "commonvote/internal/proposal/metrics"
	proposalService "commonvote/internal/proposal/service"
	proposalStore "commonvote/internal/proposal/store"
	rlHandler "commonvote/internal/ratelimit/handler"
	rlMetrics "commonvote/internal/ratelimit/metrics"
	rlModels "commonvote/internal/ratelimit/models"
	rlService "commonvote/internal/ratelimit/service"
	windowStore "commonvote/internal/ratelimit/store/window"
	smsHandler "commonvote/internal/sms/handler"
	smsMetrics "commonvote/internal/sms/metrics"
	"commonvote/internal/sms/queue"
	smsService "commonvote/internal/sms/service"
	"commonvote/internal/sms/transport"
	tallyMetrics "commonvote/internal/tally/metrics"
	tallyService "commonvote/internal/tally/service"
	tallyStore "commonvote/internal/tally/store"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	auditPublisher "commonvote/pkg/platform/audit/publisher"
	auditFanout "commonvote/pkg/platform/audit/store/fanout"
	auditKafka "commonvote/pkg/platform/audit/store/kafka"
	auditMemory "commonvote/pkg/platform/audit/store/memory"
	auditPostgres "commonvote/pkg/platform/audit/store/postgres"
	"commonvote/pkg/platform/circuit"
	"commonvote/pkg/platform/httputil"
	"commonvote/pkg/platform/middleware/admin"
)

// MemberDirectory is the membership surface shared by every backend.
type MemberDirectory interface {
	Upsert(ctx context.Context, m membershipModels.Member) error
	ResolveMemberGroup(ctx context.Context, number phone.Number) (string, bool, error)
	IsVerifiedMember(ctx context.Context, number phone.Number, groupID string) (bool, error)
	MarkPhoneVerified(ctx context.Context, number phone.Number) error
	ListVerifiedMembers(ctx context.Context, groupID string) ([]phone.Number, error)
}

// App holds the assembled router plus the background loops and resources
// that must be started and released by the caller.
type App struct {
	Router  http.Handler
	Members MemberDirectory
	Audit   audit.Store

	OTP       *otpService.Service
	RateLimit *rlService.Service
	Proposals *proposalService.Service
	Tally     *tallyService.Service
	SMS       *smsService.Service

	cfg      *config.Config
	logger   *slog.Logger
	nats     *natsclient.Client
	consumer *queue.Consumer
	closers  []func()
	health   map[string]func(context.Context) error
}

// Option adjusts assembly. Used by tests to replace the outbound transport.
type Option func(*options)

type options struct {
	sender transport.Sender
}

// WithSender replaces the configured outbound transport.
func WithSender(s transport.Sender) Option {
	return func(o *options) {
		o.sender = s
	}
}

// New builds the application for cfg. On error every resource opened so far
// is released.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		health: make(map[string]func(context.Context) error),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	platform := platformMetrics.New(reg)

	var db *sql.DB
	if cfg.Server.StoreBackend == config.BackendPostgres {
		db, err = postgres.OpenWithConfig(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.health["postgres"] = db.PingContext
	}

	var rdb *redisclient.Client
	if cfg.Server.StoreBackend == config.BackendRedis || (cfg.Server.StoreBackend == config.BackendPostgres && cfg.Redis.URL != "") {
		rdb, err = redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.health["redis"] = rdb.Health
	}

	auditStore, err := a.buildAuditStore(ctx, db, platform)
	if err != nil {
		return nil, err
	}
	a.Audit = auditStore
	auditOpts := []auditPublisher.Option{
		auditPublisher.WithLogger(logger),
		auditPublisher.WithMetrics(platform),
	}
	if cfg.Server.AuditOpsSampleRate < 1 {
		auditOpts = append(auditOpts, auditPublisher.WithSampler(auditPublisher.NewSampler(cfg.Server.AuditOpsSampleRate)))
	}
	if cfg.Server.AuditBuffer > 0 {
		auditOpts = append(auditOpts, auditPublisher.WithAsyncBuffer(cfg.Server.AuditBuffer))
	}
	publisher := auditPublisher.NewPublisher(auditStore, auditOpts...)
	a.closers = append(a.closers, publisher.Close)

	sender := o.sender
	if sender == nil {
		sender = buildSender(cfg.SMS, platform, logger)
	}

	var (
		proposals proposalService.Store
		members   MemberDirectory
		votes     tallyService.VoteStore
	)
	if db != nil {
		ps := proposalStore.NewPostgres(db)
		proposals = ps
		members = membershipStore.NewPostgres(db)
		votes = tallyStore.NewPostgres(db, ps)
	} else {
		ps := proposalStore.NewInMemory()
		proposals = ps
		members = membershipStore.NewInMemory()
		votes = tallyStore.NewInMemory(ps)
	}
	a.Members = members
	if cfg.Server.MembersFile != "" {
		if err := a.seedMembers(ctx, cfg.Server.MembersFile); err != nil {
			return nil, err
		}
	}

	var (
		challenges otpService.ChallengeStore
		windows    rlService.WindowStore
	)
	if rdb != nil {
		challenges = challengeStore.NewRedis(rdb.Client, challengeStore.WithRetention(cfg.OTP.Retention))
		windows = windowStore.NewRedis(rdb.Client)
	} else {
		challenges = challengeStore.NewInMemory(challengeStore.WithInMemoryRetention(cfg.OTP.Retention))
		windows = windowStore.New()
	}

	limiter, err := rlService.New(windows,
		rlService.WithLogger(logger),
		rlService.WithAuditPublisher(publisher),
		rlService.WithMetrics(rlMetrics.New(reg)),
		rlService.WithPolicy(rlModels.ActionOTPRequest, rlModels.Policy{
			{Limit: cfg.RateLimit.ShortLimit, Length: cfg.RateLimit.ShortWindow},
			{Limit: cfg.RateLimit.LongLimit, Length: cfg.RateLimit.LongWindow},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	a.RateLimit = limiter

	hasher, err := otpModels.NewCodeHasher([]byte(cfg.OTP.HashSecret))
	if err != nil {
		return nil, err
	}
	a.OTP, err = otpService.New(challenges, limiter, sender, hasher,
		otpService.WithLogger(logger),
		otpService.WithAuditPublisher(publisher),
		otpService.WithMetrics(otpMetrics.New(reg)),
		otpService.WithPhoneVerifier(members),
		otpService.WithCodeLength(cfg.OTP.CodeLength),
		otpService.WithTTL(cfg.OTP.TTL),
		otpService.WithMaxAttempts(cfg.OTP.MaxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("otp service: %w", err)
	}

	proposalOpts := []proposalService.Option{
		proposalService.WithLogger(logger),
		proposalService.WithAuditPublisher(publisher),
		proposalService.WithMetrics(proposalMetrics.New(reg)),
		proposalService.WithVotingDuration(cfg.Voting.DefaultDuration),
	}
	if cfg.Voting.Broadcast {
		proposalOpts = append(proposalOpts, proposalService.WithBroadcast(members, sender))
	}
	a.Proposals, err = proposalService.New(proposals, proposalOpts...)
	if err != nil {
		return nil, fmt.Errorf("proposal service: %w", err)
	}

	a.Tally, err = tallyService.New(a.Proposals, members, votes,
		tallyService.WithLogger(logger),
		tallyService.WithAuditPublisher(publisher),
		tallyService.WithMetrics(tallyMetrics.New(reg)),
	)
	if err != nil {
		return nil, fmt.Errorf("tally service: %w", err)
	}

	a.SMS, err = smsService.New(members, a.Proposals, a.Tally,
		smsService.WithLogger(logger),
		smsService.WithAuditPublisher(publisher),
		smsService.WithMetrics(smsMetrics.New(reg)),
		smsService.WithDefaultCountryCode(cfg.Server.DefaultCountryCode),
	)
	if err != nil {
		return nil, fmt.Errorf("sms coordinator: %w", err)
	}

	var webhookOpts []smsHandler.Option
	if cfg.SMS.InboundMode == config.InboundQueue {
		a.nats, err = natsclient.New(cfg.NATS.URL, "commonvote", logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.nats.Close)
		a.health["nats"] = a.nats.Health
		webhookOpts = append(webhookOpts, smsHandler.WithQueue(queue.NewPublisher(a.nats, cfg.NATS.InboundSubject)))
		a.consumer, err = queue.NewConsumer(a.SMS, sender, logger,
			queue.WithWorkers(cfg.NATS.ConsumerWorkers),
			queue.WithDefaultCountryCode(cfg.Server.DefaultCountryCode),
		)
		if err != nil {
			return nil, fmt.Errorf("inbound consumer: %w", err)
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	r := chi.NewRouter()
	middleware.Common(r, logger)
	r.Use(middleware.Latency(platform))

	r.Get("/health", a.handleHealth)
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	otpHandler.New(a.OTP, logger, validate, cfg.Server.DefaultCountryCode).Register(r)
	smsHandler.New(a.SMS, logger, validate, webhookOpts...).Register(r)
	r.Group(func(r chi.Router) {
		if cfg.Admin.JWTSecret != "" {
			r.Use(admin.RequireAdmin([]byte(cfg.Admin.JWTSecret), logger))
		} else {
			logger.Warn("ADMIN_JWT_SECRET not set; admin routes are unauthenticated")
		}
		proposalHandler.New(a.Proposals, logger, validate).Register(r)
		rlHandler.New(limiter, logger, cfg.Server.DefaultCountryCode).RegisterAdmin(r)
	})
	a.Router = r

	return a, nil
}

func (a *App) buildAuditStore(ctx context.Context, db *sql.DB, m *platformMetrics.Metrics) (audit.Store, error) {
	var primary audit.Store = auditMemory.NewInMemoryStore()
	if db != nil {
		primary = auditPostgres.New(db)
	}

	brokers := a.cfg.KafkaBrokers()
	if len(brokers) == 0 {
		return primary, nil
	}
	sink, err := auditKafka.New(brokers, a.cfg.Kafka.AuditTopic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sink.Close)
	if err := sink.EnsureTopic(ctx, 1, 1); err != nil {
		// The broker may forbid topic creation; producing can still work.
		a.logger.WarnContext(ctx, "audit topic bootstrap failed", "topic", a.cfg.Kafka.AuditTopic, "error", err)
		m.IncAuditPersistFailure()
	}
	return auditFanout.New(primary, sink), nil
}

func (a *App) seedMembers(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open members file: %w", err)
	}
	defer f.Close()
	n, err := membershipStore.Seed(ctx, f, a.Members, a.cfg.Server.DefaultCountryCode)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "members loaded", "path", path, "count", n)
	return nil
}

func buildSender(cfg config.SMS, m *platformMetrics.Metrics, logger *slog.Logger) transport.Sender {
	fallback := transport.NewLog(logger)
	if !cfg.TwilioEnabled() {
		logger.Info("twilio credentials not set; outbound sms is logged only")
		return fallback
	}
	twilio := transport.NewTwilio(transport.TwilioConfig{
		BaseURL:    cfg.TwilioBaseURL,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFromNumber,
		Timeout:    cfg.SendTimeout,
	}, logger, nil)
	return transport.NewFailover(twilio, fallback, circuit.New("twilio"), m, logger)
}

// Runners returns the background loops by name. Each blocks until ctx is done.
func (a *App) Runners() map[string]func(context.Context) error {
	runners := map[string]func(context.Context) error{
		"otp-sweeper":     func(ctx context.Context) error { return a.OTP.RunSweeper(ctx, a.cfg.OTP.SweepInterval) },
		"proposal-closer": func(ctx context.Context) error { return a.Proposals.RunCloser(ctx, a.cfg.Voting.SweepInterval) },
	}
	if a.RateLimit.Sweeps() {
		runners["ratelimit-sweeper"] = func(ctx context.Context) error { return a.RateLimit.RunSweeper(ctx, a.cfg.OTP.SweepInterval) }
	}
	if a.consumer != nil {
		runners["sms-consumer"] = func(ctx context.Context) error {
			return a.consumer.Run(ctx, a.nats.Conn, a.cfg.NATS.InboundSubject, a.cfg.NATS.ConsumerQueue)
		}
	}
	return runners
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(a.health) > 0 {
		resp.Checks = make(map[string]string, len(a.health))
	}
	for name, check := range a.health {
		if err := check(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

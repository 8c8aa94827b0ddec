package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	membershipStore "commonvote/internal/membership/store"
	"commonvote/internal/platform/config"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/platform/middleware/admin"
	"commonvote/pkg/testutil"
)

const testSecret = "app-test-secret-0123456789abcdef"

type recordingSender struct {
	mu   sync.Mutex
	sent map[phone.Number][]string
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) Send(_ context.Context, to phone.Number, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[phone.Number][]string)
	}
	r.sent[to] = append(r.sent[to], body)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Server.StoreBackend = config.BackendMemory
	cfg.Server.AuditBuffer = 0
	cfg.Server.MembersFile = ""
	cfg.SMS.InboundMode = config.InboundSync
	cfg.Kafka.Brokers = ""
	cfg.Voting.Broadcast = true
	cfg.Admin.JWTSecret = testSecret
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, logger, prometheus.NewRegistry(), WithSender(sender))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, sender
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := admin.IssueToken([]byte(testSecret), "ops@example.org", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return token
}

func TestHealthAndMetrics(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	rr := testutil.DoRequest(a.Router, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ok")

	rr = testutil.DoRequest(a.Router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.Contains(t, rr.Body.String(), "commonvote_http_request_duration_seconds")
}

func TestAdminRoutes(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	body := map[string]string{"group_id": "g1", "title": "Fix the roof"}

	testutil.Given(t, "no bearer token", func(t *testing.T) {
		rr := testutil.DoRequest(a.Router, testutil.NewJSONRequest(t, http.MethodPost, "/admin/proposals", body))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	testutil.Given(t, "an admin token", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/proposals", body)
		req.Header.Set("Authorization", "Bearer "+adminToken(t))
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
		rr := testutil.DoRequest(a.Router, req)

		testutil.Then(t, "the proposal is created", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusCreated)
			testutil.AssertJSONHasKey(t, rr, "id")
		})

		testutil.Then(t, "the audit trail names the administrator", func(t *testing.T) {
			resp := testutil.UnmarshalResponse[struct {
				ID string `json:"id"`
			}](t, rr)
			events, err := a.Audit.ListBySubject(context.Background(), resp.ID)
			require.NoError(t, err)
			require.NotEmpty(t, events)
			assert.Equal(t, string(audit.EventProposalCreated), events[0].Action)
			assert.Equal(t, "ops@example.org", events[0].ActorID)
			assert.Contains(t, events[0].Client, "Firefox")
		})
	})
}

func TestRateLimitReset(t *testing.T) {
	a, sender := newTestApp(t, testConfig(t))
	otpBody := map[string]string{"phone": "+15550000009", "purpose": "registration"}
	requestOTP := func() int {
		return testutil.DoRequest(a.Router, testutil.NewJSONRequest(t, http.MethodPost, "/otp/request", otpBody)).Code
	}

	testutil.Given(t, "a phone over its request limit", func(t *testing.T) {
		require.Equal(t, http.StatusOK, requestOTP())
		require.Equal(t, http.StatusTooManyRequests, requestOTP())
	})

	testutil.When(t, "an administrator resets it", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodPost, "/admin/ratelimit/otp/+15550000009/reset")
		req.Header.Set("Authorization", "Bearer "+adminToken(t))
		rr := testutil.DoRequest(a.Router, req)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "reset", true)

		events, err := a.Audit.ListBySubject(context.Background(), "+15550000009")
		require.NoError(t, err)
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, string(audit.EventRateLimitReset), last.Action)
		assert.Equal(t, "ops@example.org", last.ActorID)
	})

	testutil.Then(t, "the phone can request a code again", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, requestOTP())
		assert.Len(t, sender.sent["+15550000009"], 2)
	})

	testutil.Then(t, "the reset route needs a token", func(t *testing.T) {
		rr := testutil.DoRequest(a.Router, testutil.NewRequest(t, http.MethodPost, "/admin/ratelimit/otp/+15550000009/reset"))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})
}

func TestVotingThroughWebhook(t *testing.T) {
	a, sender := newTestApp(t, testConfig(t))
	ctx := context.Background()

	p, err := a.Proposals.Create(ctx, "g1", "Fix the roof", "")
	require.NoError(t, err)

	testutil.Given(t, "a verified member", func(t *testing.T) {
		members := strings.NewReader(`[{"phone": "+15550000001", "group_id": "g1", "phone_verified": true}]`)
		n, err := membershipStore.Seed(ctx, members, a.Members, "1")
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	testutil.When(t, "voting starts", func(t *testing.T) {
		res, err := a.Proposals.StartVoting(ctx, p.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Broadcast.Sent)
		assert.Len(t, sender.sent["+15550000001"], 1)
	})

	testutil.Then(t, "a texted vote is counted", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sms/inbound", map[string]string{"from": "+15550000001", "body": "YES001"})
		rr := testutil.DoRequest(a.Router, req)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "kind", "accepted")

		tally, err := a.Proposals.GetTally(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, tally.Counts.Yes)
	})
}

func TestMembersFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("loads members at start", func(t *testing.T) {
		path := filepath.Join(dir, "members.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"phone": "5550000001", "group_id": "g1", "phone_verified": true}]`), 0o600))

		cfg := testConfig(t)
		cfg.Server.MembersFile = path
		a, _ := newTestApp(t, cfg)

		group, ok, err := a.Members.ResolveMemberGroup(context.Background(), "+15550000001")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "g1", group)
	})

	t.Run("missing file fails start", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Server.MembersFile = filepath.Join(dir, "absent.json")
		_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
		assert.ErrorContains(t, err, "open members file")
	})
}

func TestQueueModeNeedsBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.SMS.InboundMode = config.InboundQueue
	cfg.NATS.URL = "nats://127.0.0.1:1"

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	assert.ErrorContains(t, err, "connect to nats")
}

func TestRunners(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	runners := a.Runners()
	assert.Contains(t, runners, "otp-sweeper")
	assert.Contains(t, runners, "proposal-closer")
	assert.Contains(t, runners, "ratelimit-sweeper")
	assert.NotContains(t, runners, "sms-consumer")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, run := range runners {
		assert.ErrorIs(t, run(ctx), context.Canceled, name)
	}
}

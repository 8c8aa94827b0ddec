// Package e2e runs the feature files in-process against the assembled router.
package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"commonvote/internal/app"
	membershipModels "commonvote/internal/membership/models"
	"commonvote/internal/platform/config"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/middleware/admin"
)

// outbox captures outbound SMS instead of calling a carrier.
type outbox struct {
	mu       sync.Mutex
	messages map[phone.Number][]string
}

func (o *outbox) Name() string { return "outbox" }

func (o *outbox) Send(_ context.Context, to phone.Number, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages[to] = append(o.messages[to], body)
	return nil
}

func (o *outbox) to(number phone.Number) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.messages[number]...)
}

// TestContext holds per-scenario state: a fresh application, the last
// response and named proposals.
type TestContext struct {
	app        *app.App
	router     http.Handler
	outbox     *outbox
	adminToken string
	anonymous  bool

	lastResponse *httptest.ResponseRecorder
	lastBody     map[string]any
	proposals    map[string]string
}

// Reset builds a new in-memory application for a scenario.
func (tc *TestContext) Reset() error {
	tc.Close()

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Server.StoreBackend = config.BackendMemory
	cfg.Server.AuditBuffer = 0
	cfg.Server.MembersFile = ""
	cfg.Server.DefaultCountryCode = "1"
	cfg.SMS.InboundMode = config.InboundSync
	cfg.Kafka.Brokers = ""
	cfg.Voting.Broadcast = true
	cfg.Admin.JWTSecret = hex.EncodeToString(secret)

	tc.outbox = &outbox{messages: make(map[phone.Number][]string)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc.app, err = app.New(context.Background(), cfg, logger, prometheus.NewRegistry(), app.WithSender(tc.outbox))
	if err != nil {
		return err
	}
	tc.router = tc.app.Router

	tc.adminToken, err = admin.IssueToken([]byte(cfg.Admin.JWTSecret), "e2e-admin", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		return err
	}
	tc.anonymous = false
	tc.lastResponse = nil
	tc.lastBody = nil
	tc.proposals = make(map[string]string)
	return nil
}

func (tc *TestContext) Close() {
	if tc.app != nil {
		tc.app.Close()
		tc.app = nil
	}
}

func (tc *TestContext) do(req *http.Request) error {
	if strings.HasPrefix(req.URL.Path, "/admin/") && !tc.anonymous {
		req.Header.Set("Authorization", "Bearer "+tc.adminToken)
	}
	rr := httptest.NewRecorder()
	tc.router.ServeHTTP(rr, req)
	tc.lastResponse = rr
	tc.lastBody = nil
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && rr.Body.Len() > 0 {
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		tc.lastBody = body
	}
	return nil
}

func (tc *TestContext) POST(path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(http.MethodPost, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return tc.do(req)
}

func (tc *TestContext) GET(path string) error {
	return tc.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (tc *TestContext) PostForm(path string, values url.Values) error {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return tc.do(req)
}

func (tc *TestContext) SetAnonymous(anonymous bool) {
	tc.anonymous = anonymous
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.lastResponse == nil {
		return 0
	}
	return tc.lastResponse.Code
}

func (tc *TestContext) GetLastResponseBody() []byte {
	if tc.lastResponse == nil {
		return nil
	}
	return tc.lastResponse.Body.Bytes()
}

func (tc *TestContext) GetLastResponseHeader(name string) string {
	if tc.lastResponse == nil {
		return ""
	}
	return tc.lastResponse.Header().Get(name)
}

// GetResponseField looks up a dotted path such as "proposal.short_code".
func (tc *TestContext) GetResponseField(field string) (any, error) {
	if tc.lastBody == nil {
		return nil, fmt.Errorf("last response has no JSON body (status %d)", tc.GetLastResponseStatus())
	}
	var current any = tc.lastBody
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not present in response", field)
		}
	}
	return current, nil
}

func (tc *TestContext) AddMember(number, groupID string, verified bool) error {
	n, err := phone.Parse(number)
	if err != nil {
		return err
	}
	return tc.app.Members.Upsert(context.Background(), membershipModels.Member{
		Phone:         n,
		GroupID:       groupID,
		PhoneVerified: verified,
	})
}

func (tc *TestContext) IsVerifiedMember(number, groupID string) (bool, error) {
	n, err := phone.Parse(number)
	if err != nil {
		return false, err
	}
	return tc.app.Members.IsVerifiedMember(context.Background(), n, groupID)
}

func (tc *TestContext) MessagesTo(number string) []string {
	return tc.outbox.to(phone.Number(number))
}

func (tc *TestContext) RememberProposal(name, id string) {
	tc.proposals[name] = id
}

func (tc *TestContext) ProposalID(name string) (string, error) {
	id, ok := tc.proposals[name]
	if !ok {
		return "", fmt.Errorf("no proposal named %q", name)
	}
	return id, nil
}

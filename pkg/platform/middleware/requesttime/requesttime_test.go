package requesttime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commonvote/pkg/requestcontext"
)

// RequestTimeSuite covers the request-scoped values the rest of the stack reads
// back from context: time, client IP and the parsed client name that admin
// audit events carry.
type RequestTimeSuite struct {
	suite.Suite
}

func TestRequestTimeSuite(t *testing.T) {
	suite.Run(t, new(RequestTimeSuite))
}

func (s *RequestTimeSuite) TestClientName() {
	s.Run("empty user agent yields nothing", func() {
		s.Empty(ClientName(""))
		s.Empty(ClientName("   "))
	})

	s.Run("chrome on desktop names browser and OS", func() {
		ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		client := ClientName(ua)
		s.True(strings.HasPrefix(client, "Chrome 120"), client)
		s.Contains(client, " on ")
		s.Contains(client, "Mac OS X")
	})

	s.Run("firefox on linux", func() {
		client := ClientName("Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
		s.Contains(client, "Firefox")
		s.Contains(client, "Linux")
	})

	s.Run("crawlers are marked", func() {
		client := ClientName("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
		s.True(strings.HasSuffix(client, "(bot)"), client)
	})

	s.Run("result has no stray whitespace", func() {
		client := ClientName("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
		s.Equal(strings.TrimSpace(client), client)
		s.NotContains(client, "  ")
	})
}

func (s *RequestTimeSuite) TestMiddleware() {
	var (
		client, ip string
		pinned     bool
	)
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		client = requestcontext.Client(ctx)
		ip = requestcontext.ClientIP(ctx)
		_, pinned = ctx.Value(requestcontext.ContextKeyRequestTime).(time.Time)
	}))

	s.Run("records the client of the caller", func() {
		req := httptest.NewRequest(http.MethodPost, "/admin/proposals", nil)
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
		h.ServeHTTP(httptest.NewRecorder(), req)

		s.Contains(client, "Firefox")
		s.Equal(req.RemoteAddr, ip)
		s.True(pinned)
	})

	s.Run("no user agent leaves client empty", func() {
		req := httptest.NewRequest(http.MethodPost, "/admin/proposals", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
		s.Empty(client)
	})
}

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commonvote/pkg/phone"
	"commonvote/pkg/platform/circuit"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTwilioSend(t *testing.T) {
	t.Run("posts the form with basic auth", func(t *testing.T) {
		var got *http.Request
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			got = r
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sid":"SM1"}`))
		}))
		defer srv.Close()

		sender := NewTwilio(TwilioConfig{BaseURL: srv.URL + "/", AccountSID: "AC1", AuthToken: "tok", From: "+15550009999"}, discard(), srv.Client())
		require.NoError(t, sender.Send(context.Background(), "+15551234567", "hello"))

		require.NotNil(t, got)
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", got.URL.Path)
		user, pass, ok := got.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "tok", pass)
		assert.Equal(t, "+15551234567", got.PostForm.Get("To"))
		assert.Equal(t, "+15550009999", got.PostForm.Get("From"))
		assert.Equal(t, "hello", got.PostForm.Get("Body"))
	})

	t.Run("surfaces the carrier error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
		}))
		defer srv.Close()

		sender := NewTwilio(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "tok"}, discard(), srv.Client())
		err := sender.Send(context.Background(), "+15551234567", "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "21211")
		assert.Contains(t, err.Error(), "Invalid 'To' Phone Number")
	})

	t.Run("non json error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		sender := NewTwilio(TwilioConfig{BaseURL: srv.URL}, discard(), srv.Client())
		err := sender.Send(context.Background(), "+15551234567", "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
	})
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	sender := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sender.Send(context.Background(), "+15551234567", "Your verification code is: 123456"))
	assert.Contains(t, buf.String(), `"phone":"+155***4567"`)
	assert.Contains(t, buf.String(), `"transport":"log"`)
}

type fakeSender struct {
	name string
	err  error
	mu   sync.Mutex
	sent []phone.Number
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, to phone.Number, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return f.err
}

type countingMetrics struct {
	counts map[string]int
}

func (m *countingMetrics) IncOutboundSMS(transport, result string) {
	m.counts[transport+":"+result]++
}

func TestFailoverSender(t *testing.T) {
	ctx := context.Background()

	t.Run("primary success", func(t *testing.T) {
		primary := &fakeSender{name: "twilio"}
		fallback := &fakeSender{name: "log"}
		m := &countingMetrics{counts: map[string]int{}}
		f := NewFailover(primary, fallback, circuit.New("sms"), m, discard())

		require.NoError(t, f.Send(ctx, "+15551234567", "hi"))
		assert.Len(t, primary.sent, 1)
		assert.Empty(t, fallback.sent)
		assert.Equal(t, 1, m.counts["twilio:sent"])
	})

	t.Run("fallback after the breaker opens", func(t *testing.T) {
		carrierErr := errors.New("carrier down")
		primary := &fakeSender{name: "twilio", err: carrierErr}
		fallback := &fakeSender{name: "log"}
		m := &countingMetrics{counts: map[string]int{}}
		breaker := circuit.New("sms", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
		f := NewFailover(primary, fallback, breaker, m, discard())

		assert.ErrorIs(t, f.Send(ctx, "+15551234567", "hi"), carrierErr)
		assert.Empty(t, fallback.sent, "breaker still closed")

		assert.ErrorIs(t, f.Send(ctx, "+15551234567", "hi"), carrierErr)
		assert.Len(t, fallback.sent, 1)
		assert.True(t, breaker.IsOpen())
		assert.Equal(t, 1, m.counts["log:fallback"])

		primary.err = nil
		require.NoError(t, f.Send(ctx, "+15551234567", "hi"))
		assert.False(t, breaker.IsOpen())
		assert.Len(t, fallback.sent, 1)
	})
}

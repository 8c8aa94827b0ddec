// Package requesttime provides middleware that pins request-scoped values.
// All operations within a single HTTP request use the same "now" timestamp,
// so OTP expiry, vote timestamps and audit entries agree with each other.
package requesttime

import (
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mssola/useragent"

	"commonvote/pkg/requestcontext"
)

// Middleware captures the current time, the chi request ID, the client IP and
// the caller's client name at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		if reqID := chimw.GetReqID(ctx); reqID != "" {
			ctx = requestcontext.WithRequestID(ctx, reqID)
		}
		ctx = requestcontext.WithClientIP(ctx, r.RemoteAddr)
		if client := ClientName(r.UserAgent()); client != "" {
			ctx = requestcontext.WithClient(ctx, client)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientName reduces a User-Agent header to "<browser> <version> on <os>".
// Bots are suffixed with "(bot)". An empty header yields "".
func ClientName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)

	name, version := ua.Browser()
	client := strings.TrimSpace(name + " " + version)
	if client == "" {
		client = "unknown"
	}
	if os := ua.OS(); os != "" {
		client += " on " + os
	}
	if ua.Bot() {
		client += " (bot)"
	}
	return client
}

package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/circle/backend/internal/logging"
)

// RateLimiter guards sensitive endpoints. ratelimit.Local and ratelimit.Redis satisfy it.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// allowRequest fails open when the limiter backend errors.
func allowRequest(limiter RateLimiter, r *http.Request, scope string) bool {
	if limiter == nil {
		return true
	}
	key := rateLimitKey(r, scope)
	allowed, err := limiter.Allow(r.Context(), key)
	if err != nil {
		logging.FromContext(r.Context()).Warn("rate limiter unavailable", "key", key, "error", err)
		return true
	}
	return allowed
}

func rateLimitKey(r *http.Request, scope string) string {
	ip := clientIP(r)
	if scope == "" {
		return ip
	}
	return fmt.Sprintf("%s:%s", scope, ip)
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

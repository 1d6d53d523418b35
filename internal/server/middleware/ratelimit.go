package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// scanDivisor shrinks the budget of requests that trigger a full queue scan.
const scanDivisor = 5

// RateLimit returns middleware limiting each client IP to limit requests per
// window. Requests that scan the whole redemption queue (the queue endpoint
// and debt-in-front with fresh=true) draw from a separate budget of
// limit/5. Limiter errors let the request through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))
	scanLimit := max(limit/scanDivisor, 1)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			bucket, budget := "api", limit
			if scansQueue(r) {
				bucket, budget = "scan", scanLimit
			}

			allowed, err := limiter.Allow(r.Context(), bucket+":"+clientIP(r), budget, window)
			if err == nil && !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(budget))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// scansQueue reports whether r forces a listing of every open trove.
func scansQueue(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/queue/") {
		return true
	}
	if strings.HasSuffix(r.URL.Path, "/debt-in-front") {
		fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
		return fresh
	}
	return false
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

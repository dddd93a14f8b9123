package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/services/ratelimit"
)

// RateLimit enforces the global per-principal limits before a request
// reaches a handler. The principal is the authenticated key hash when auth
// ran, otherwise the client IP. Responses carry the usual X-RateLimit-*
// headers for the minute window; 429s add Retry-After.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			principal := Principal(r.Context())
			if principal == "" {
				principal = clientIP(r)
			}

			verdict := limiter.Check(r.Context(), principal, nil)
			setRateLimitHeaders(w, limiter, r, principal, verdict)

			if verdict.Exceeded {
				logger.Warn("Rate limit exceeded",
					zap.String("principal", principal),
					zap.Strings("windows", verdict.ExceededLimits))
				writeError(w, http.StatusTooManyRequests, verdict.Reason)
				return
			}

			limiter.Record(r.Context(), principal)
			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, limiter ratelimit.Limiter, r *http.Request, principal string, verdict ratelimit.Verdict) {
	limit, ok := verdict.Limit[ratelimit.RequestsPerMinute]
	if !ok {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining[ratelimit.RequestsPerMinute]))

	status := limiter.GetStatus(r.Context(), principal)
	reset := time.Now().Add(time.Minute)
	if ws, ok := status.Details[ratelimit.RequestsPerMinute]; ok && !ws.ResetTime.IsZero() {
		reset = ws.ResetTime
	}
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

	if verdict.Exceeded {
		retryAfter := int(time.Until(reset).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

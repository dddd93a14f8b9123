package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
)

type contextKey string

const principalKey contextKey = "stinger.principal"

// Principal returns the authenticated caller identity stored by Authenticate:
// the hex sha256 of the presented API key. Empty when auth is disabled.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey).(string)
	return p
}

// HashAPIKey derives the stored form of an API key. Raw keys never appear in
// config files or logs.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticate validates the X-API-Key header against the configured key
// hashes. Health and metrics stay reachable without a key so probes and
// scrapers keep working.
func Authenticate(cfg config.AuthConfig, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			if len(cfg.APIKeyHashes) == 0 {
				logger.Error("Auth required but no API key hashes configured")
				writeError(w, http.StatusServiceUnavailable, "authentication is not configured")
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			hash := HashAPIKey(key)
			for _, known := range cfg.APIKeyHashes {
				if subtle.ConstantTimeCompare([]byte(hash), []byte(known)) == 1 {
					ctx := context.WithValue(r.Context(), principalKey, hash)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			logger.Warn("Rejected request with unknown API key",
				zap.String("remote", r.RemoteAddr),
				zap.String("path", r.URL.Path))
			writeError(w, http.StatusForbidden, "invalid API key")
		})
	}
}

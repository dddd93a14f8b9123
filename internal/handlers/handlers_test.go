package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/middleware"
	"github.com/stinger-proxy/stinger/internal/router"
	"github.com/stinger-proxy/stinger/internal/services/audit"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/detectors"
	"github.com/stinger-proxy/stinger/internal/services/ratelimit"
)

func TestMain(m *testing.M) {
	detectors.RegisterAll()
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Auth:   config.AuthConfig{RequireAuth: false},
		RateLimit: config.RateLimitConfig{
			Enabled: false,
			Backend: "memory",
		},
		Limits: config.LimitsConfig{
			MaxBodyBytes:    1 << 20,
			MaxTextBytes:    100 * 1024,
			MaxContextBytes: 10 * 1024,
			MaxPresetChars:  50,
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		},
		DefaultPreset: "customer_service",
	}
}

func newServer(t *testing.T, cfg *config.Config, limiter ratelimit.Limiter) *httptest.Server {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(nil, zap.NewNop())
	}
	srv := httptest.NewServer(router.New(cfg, zap.NewNop(), limiter, audit.NewTrail()))
	t.Cleanup(srv.Close)
	return srv
}

func postCheck(t *testing.T, srv *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/check", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type checkResponse struct {
	Action   string   `json:"action"`
	Reasons  []string `json:"reasons"`
	Warnings []string `json:"warnings"`
	Metadata struct {
		GuardrailsTriggered []string `json:"guardrails_triggered"`
		ProcessingTimeMS    float64  `json:"processing_time_ms"`
		Preset              string   `json:"preset"`
		RulesVersion        string   `json:"rules_version"`
	} `json:"metadata"`
}

func TestCheckBlocksSSN(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	resp := postCheck(t, srv, `{"text":"my ssn is 123-45-6789","kind":"prompt"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[checkResponse](t, resp)
	assert.Equal(t, "block", body.Action)
	assert.Contains(t, body.Reasons, "PII detected: ssn")
	assert.Contains(t, body.Metadata.GuardrailsTriggered, "pii_check")
	assert.Equal(t, "customer_service", body.Metadata.Preset)
	assert.Regexp(t, `^1\.0\.[0-9a-f]{8}$`, body.Metadata.RulesVersion)
}

func TestCheckAllowsCleanPrompt(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	resp := postCheck(t, srv, `{"text":"what are your opening hours?"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[checkResponse](t, resp)
	assert.Equal(t, "allow", body.Action)
	assert.Empty(t, body.Reasons)
	assert.Empty(t, body.Metadata.GuardrailsTriggered)
}

func TestCheckResponseKindUsesOutputStage(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	// url_filter only exists on the output stage of customer_service.
	resp := postCheck(t, srv, `{"text":"see https://bit.ly/x","kind":"response"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[checkResponse](t, resp)
	assert.Equal(t, "warn", body.Action)
	assert.Contains(t, body.Metadata.GuardrailsTriggered, "url_filter")
}

func TestCheckValidation(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing text", `{"kind":"prompt"}`, http.StatusBadRequest},
		{"blank text", `{"text":"   "}`, http.StatusBadRequest},
		{"invalid kind", `{"text":"x","kind":"letter"}`, http.StatusBadRequest},
		{"unknown field", `{"text":"x","verbose":true}`, http.StatusBadRequest},
		{"not json", `this is not json`, http.StatusBadRequest},
		{"unknown preset", `{"text":"x","preset":"nonexistent"}`, http.StatusBadRequest},
		{"preset too long", `{"text":"x","preset":"` + strings.Repeat("p", 51) + `"}`, http.StatusBadRequest},
		{"oversized context", `{"text":"x","context":{"pad":"` + strings.Repeat("c", 11*1024) + `"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postCheck(t, srv, tt.body, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestCheckOversizedTextRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxTextBytes = 64
	srv := newServer(t, cfg, nil)

	resp := postCheck(t, srv, `{"text":"`+strings.Repeat("a", 65)+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxBodyBytes = 256
	srv := newServer(t, cfg, nil)

	resp := postCheck(t, srv, `{"text":"`+strings.Repeat("a", 1024)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.RequireAuth = true
	cfg.Auth.APIKeyHashes = []string{middleware.HashAPIKey("valid-key")}
	srv := newServer(t, cfg, nil)

	t.Run("missing key is 401", func(t *testing.T) {
		resp := postCheck(t, srv, `{"text":"hello"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key is 403", func(t *testing.T) {
		resp := postCheck(t, srv, `{"text":"hello"}`, map[string]string{"X-API-Key": "wrong"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("valid key passes", func(t *testing.T) {
		resp := postCheck(t, srv, `{"text":"hello there"}`, map[string]string{"X-API-Key": "valid-key"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAuthMisconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.RequireAuth = true
	srv := newServer(t, cfg, nil)

	resp := postCheck(t, srv, `{"text":"hello"}`, map[string]string{"X-API-Key": "any"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimitHeadersAnd429(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	limiter := ratelimit.NewMemoryLimiter(map[string]int{ratelimit.RequestsPerMinute: 2}, zap.NewNop())
	srv := newServer(t, cfg, limiter)

	for i := 0; i < 2; i++ {
		resp := postCheck(t, srv, `{"text":"hello there"}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp := postCheck(t, srv, `{"text":"hello there"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "rate limit exceeded")
}

func TestHealthEndpoint(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["pipeline_available"])
	assert.Equal(t, false, body["api_key_configured"])
	assert.InDelta(t, 6, body["guardrail_count"], 0.1)
}

func TestHealthDetailed(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	resp, err := srv.Client().Get(srv.URL + "/health?detailed=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Contains(t, body, "overall_status")
	assert.Contains(t, body, "pipeline_status")
	assert.Contains(t, body, "performance_metrics")
}

func TestRulesEndpoint(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	resp, err := srv.Client().Get(srv.URL + "/v1/rules?preset=basic")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Preset     string `json:"preset"`
		Guardrails struct {
			InputGuardrails  []map[string]any `json:"input_guardrails"`
			OutputGuardrails []map[string]any `json:"output_guardrails"`
		} `json:"guardrails"`
		Version string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "basic", body.Preset)
	assert.Len(t, body.Guardrails.InputGuardrails, 2)
	assert.Len(t, body.Guardrails.OutputGuardrails, 1)
	assert.Regexp(t, `^1\.0\.[0-9a-f]{8}$`, body.Version)

	t.Run("unknown preset is 400", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/v1/rules?preset=nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, testConfig(), nil)

	// Generate some traffic first.
	postCheck(t, srv, `{"text":"hello there"}`, nil)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("json format", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/metrics?format=json")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		body := decode[map[string]any](t, resp)
		assert.Contains(t, body, "stinger_guardrail_evaluations_total")
	})
}

package router

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voyagekit/lifeboat/cmd/gateway/metrics"
	"github.com/voyagekit/lifeboat/pkg/artifacts"
	"github.com/voyagekit/lifeboat/pkg/auth"
	"github.com/voyagekit/lifeboat/pkg/health"
	"github.com/voyagekit/lifeboat/pkg/httpx"
	"github.com/voyagekit/lifeboat/pkg/mlcache"
	"github.com/voyagekit/lifeboat/pkg/predict"
	"github.com/voyagekit/lifeboat/pkg/ratelimit"
)

const (
	testIssuer   = "auth.test"
	testAudience = "lifeboat-test"
)

// Prometheus collectors register globally; one instance serves every test.
var testMetrics = metrics.New()

type testGateway struct {
	handler http.Handler
	signer  *rsa.PrivateKey
	cache   *mlcache.Cache
	health  *health.Checker
	dir     string
}

func writeArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		artifacts.ManifestFile: `["pclass", "sex"]`,
		artifacts.StatsFile:    `{"age_median": 28, "fare_median": 14.45, "embarked_mode": "S"}`,
		artifacts.LogisticFile: `{"bias": 1.5, "weights": [-0.5, -2.5]}`,
		artifacts.DecisionTreeFile: `{"nodes": [
			{"feature": 1, "threshold": 0.5, "left": 1, "right": 2},
			{"feature": -1, "value": 0.95},
			{"feature": -1, "value": 0.19}
		]}`,
		artifacts.EvaluationFile: `{"logistic_regression_accuracy": 0.83, "decision_tree_accuracy": 0.80, "ensemble_accuracy": 0.82}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func newTestGateway(t *testing.T, rateLimitMax int) *testGateway {
	t.Helper()
	return newTestGatewayWithLimiter(t, ratelimit.NewMemoryLimiter(time.Minute, rateLimitMax))
}

func newTestGatewayWithLimiter(t *testing.T, limiter ratelimit.Limiter) *testGateway {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	verifier, err := auth.NewVerifier(pubPEM, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	dir := writeArtifacts(t)
	store, err := artifacts.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cache := mlcache.New(predict.Loaders(store), 0, logger)
	checker := health.NewChecker(cache, store, health.Thresholds{MemoryPercent: 100, DiskPercent: 100}, nil)

	mux := SetupRoutes(Deps{
		Predictor: predict.New(cache),
		Verifier:  verifier,
		Limiter:   limiter,
		Health:    checker,
		Store:     store,
		Cache:     cache,
		Metrics:   testMetrics,
		Logger:    logger,
	})

	// Same outer middleware the gateway binary applies.
	handler := httpx.RequestIDMiddleware()(mux)

	return &testGateway{handler: handler, signer: key, cache: cache, health: checker, dir: dir}
}

func (g *testGateway) token(t *testing.T, user string) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"user_id": user,
		"iss":     testIssuer,
		"aud":     testAudience,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}).SignedString(g.signer)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func (g *testGateway) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response not JSON: %v\n%s", err, rec.Body.String())
	}
	return out
}

func TestPredict_Success(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	rec := g.do(t, http.MethodPost, "/predict", g.token(t, "alice"),
		`{"pclass": 1, "sex": "female", "age": 38, "fare": 71.28, "embarked": "C"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	ensemble, ok := body["ensemble"].(map[string]any)
	if !ok {
		t.Fatalf("missing ensemble in %v", body)
	}
	if ensemble["label"] != "survived" {
		t.Errorf("ensemble label = %v, want survived", ensemble["label"])
	}
	perModel, ok := body["per_model"].(map[string]any)
	if !ok || len(perModel) != 2 {
		t.Errorf("per_model = %v, want both models", body["per_model"])
	}
	if body["request_id"] == "" {
		t.Error("request_id missing from response")
	}

	if rec.Header().Get("X-RateLimit-Limit") != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestPredict_RequiresToken(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no header", func(r *http.Request) {}},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwdw==") }},
		{"empty bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") }},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"pclass":1,"sex":"female"}`))
			tt.setup(req)
			rec := httptest.NewRecorder()
			g.handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if body := decodeBody(t, rec); body["code"] != "AUTHENTICATION_ERROR" {
				t.Errorf("code = %v, want AUTHENTICATION_ERROR", body["code"])
			}
		})
	}
}

func TestPredict_ExpiredToken(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	now := time.Now()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"user_id": "alice",
		"iss":     testIssuer,
		"aud":     testAudience,
		"iat":     now.Add(-2 * time.Hour).Unix(),
		"exp":     now.Add(-time.Hour).Unix(),
	}).SignedString(g.signer)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	rec := g.do(t, http.MethodPost, "/predict", expired, `{"pclass":1,"sex":"female"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeBody(t, rec)
	if msg, _ := body["message"].(string); !strings.Contains(msg, "expired") {
		t.Errorf("message = %q, want expiry reason", msg)
	}
}

func TestPredict_ValidationErrors(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	rec := g.do(t, http.MethodPost, "/predict", g.token(t, "alice"),
		`{"pclass": 5, "sex": "other", "age": -3}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400\n%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v, want VALIDATION_ERROR", body["code"])
	}

	details, _ := body["details"].(map[string]any)
	fieldErrors, _ := details["field_errors"].(map[string]any)
	for _, field := range []string{"pclass", "sex", "age"} {
		if _, ok := fieldErrors[field]; !ok {
			t.Errorf("missing field error for %q in %v", field, fieldErrors)
		}
	}
}

func TestPredict_RateLimited(t *testing.T) {
	g := newTestGateway(t, 2)
	g.health.SetReady()
	token := g.token(t, "alice")

	for i := 0; i < 2; i++ {
		if rec := g.do(t, http.MethodPost, "/predict", token, `{"pclass":1,"sex":"female"}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := g.do(t, http.MethodPost, "/predict", token, `{"pclass":1,"sex":"female"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}
	if body := decodeBody(t, rec); body["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %v, want RATE_LIMIT_EXCEEDED", body["code"])
	}

	// A different caller still has budget.
	if rec := g.do(t, http.MethodPost, "/predict", g.token(t, "bob"), `{"pclass":1,"sex":"female"}`); rec.Code != http.StatusOK {
		t.Errorf("bob: status = %d, want 200", rec.Code)
	}
}

// brokenLimiter simulates an unreachable limiter backend.
type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, identity, endpoint string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("dial tcp: connection refused")
}

func TestPredict_LimiterBackendErrorFailsRequest(t *testing.T) {
	g := newTestGatewayWithLimiter(t, brokenLimiter{})
	g.health.SetReady()

	// Admission cannot be decided, so the request must not slip past
	// metering unmetered.
	rec := g.do(t, http.MethodPost, "/predict", g.token(t, "alice"), `{"pclass":1,"sex":"female"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500\n%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %v, want INTERNAL_ERROR", body["code"])
	}
	// The backend error must stay out of the response body.
	if msg, _ := body["message"].(string); strings.Contains(msg, "dial tcp") {
		t.Errorf("message leaks backend error: %q", msg)
	}

	// The rejection happens before the handler: nothing loads.
	if g.cache.Peek(predict.KeyLogistic) {
		t.Error("rejected request reached the predictor")
	}
}

func TestPredict_ModelUnavailable(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	if err := os.Remove(filepath.Join(g.dir, artifacts.DecisionTreeFile)); err != nil {
		t.Fatalf("remove: %v", err)
	}

	rec := g.do(t, http.MethodPost, "/predict", g.token(t, "alice"), `{"pclass":1,"sex":"female"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503\n%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["code"] != "MODEL_UNAVAILABLE" {
		t.Errorf("code = %v, want MODEL_UNAVAILABLE", body["code"])
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	rec := g.do(t, http.MethodGet, "/predict", g.token(t, "alice"), "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	rec := g.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ready" {
		t.Errorf("status = %v, want ready", body["status"])
	}
	if _, ok := body["checks"]; ok {
		t.Error("fast health must not include detailed checks")
	}
}

func TestHealth_StartingIsUnavailable(t *testing.T) {
	g := newTestGateway(t, 10) // SetReady not called

	rec := g.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 while starting", rec.Code)
	}
}

func TestHealth_Detailed(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	rec := g.do(t, http.MethodGet, "/health?detailed=true", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	checks, ok := body["checks"].(map[string]any)
	if !ok {
		t.Fatalf("detailed health missing checks: %v", body)
	}
	for _, name := range []string{"models", "artifacts", "memory", "disk", "configuration"} {
		if _, ok := checks[name]; !ok {
			t.Errorf("missing check %q", name)
		}
	}
}

func TestHealth_DetailedDegradedStillServes(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	if err := os.Remove(filepath.Join(g.dir, artifacts.LogisticFile)); err != nil {
		t.Fatalf("remove: %v", err)
	}

	rec := g.do(t, http.MethodGet, "/health?detailed=true", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degraded is advisory)", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestModelsInfo(t *testing.T) {
	g := newTestGateway(t, 10)
	g.health.SetReady()

	// Requires authentication.
	if rec := g.do(t, http.MethodGet, "/models/info", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	rec := g.do(t, http.MethodGet, "/models/info", g.token(t, "alice"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	models, ok := body["models"].(map[string]any)
	if !ok {
		t.Fatalf("missing models in %v", body)
	}

	// Reporting load state must not itself load anything.
	lr, _ := models["logistic_regression"].(map[string]any)
	if lr["loaded"] != false {
		t.Errorf("logistic loaded = %v, want false before first predict", lr["loaded"])
	}
	if lr["accuracy"] != 0.83 {
		t.Errorf("logistic accuracy = %v, want 0.83", lr["accuracy"])
	}
	if g.cache.Peek(predict.KeyLogistic) {
		t.Error("models/info forced a model load")
	}
	if body["loading_mode"] != "lazy" {
		t.Errorf("loading_mode = %v, want lazy", body["loading_mode"])
	}
	if cols, _ := body["feature_columns"].([]any); len(cols) != 2 {
		t.Errorf("feature_columns = %v, want the manifest columns", body["feature_columns"])
	}

	// After a prediction the flags flip.
	if rec := g.do(t, http.MethodPost, "/predict", g.token(t, "alice"), `{"pclass":1,"sex":"female"}`); rec.Code != http.StatusOK {
		t.Fatalf("predict status = %d, want 200", rec.Code)
	}

	rec = g.do(t, http.MethodGet, "/models/info", g.token(t, "alice"), "")
	body = decodeBody(t, rec)
	models, _ = body["models"].(map[string]any)
	lr, _ = models["logistic_regression"].(map[string]any)
	if lr["loaded"] != true {
		t.Errorf("logistic loaded = %v, want true after predict", lr["loaded"])
	}
}

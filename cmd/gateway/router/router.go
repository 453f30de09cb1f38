// Package router configures HTTP routes for the gateway's API.
//
// Routes configured:
//   - POST /predict - Run an ensemble survival prediction (authenticated, rate limited)
//   - GET /models/info - Model metadata and load state (authenticated, rate limited)
//   - GET /health - Fast liveness check; ?detailed=true runs dependency checks
//   - GET /metrics - Prometheus metrics endpoint
//
// Authenticated routes require an RS256 bearer token. Rate limiting is
// applied per caller per endpoint after authentication, so anonymous
// traffic can never consume an identified caller's budget. Every error
// response uses the standard envelope with a stable code and the request
// id, and 429 responses carry Retry-After and X-RateLimit-* headers.
package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voyagekit/lifeboat/cmd/gateway/metrics"
	"github.com/voyagekit/lifeboat/pkg/apierr"
	"github.com/voyagekit/lifeboat/pkg/artifacts"
	"github.com/voyagekit/lifeboat/pkg/auth"
	"github.com/voyagekit/lifeboat/pkg/health"
	"github.com/voyagekit/lifeboat/pkg/httpx"
	"github.com/voyagekit/lifeboat/pkg/mlcache"
	"github.com/voyagekit/lifeboat/pkg/predict"
	"github.com/voyagekit/lifeboat/pkg/ratelimit"
	"github.com/voyagekit/lifeboat/pkg/validate"
)

// maxBodyBytes caps request bodies well above any legitimate passenger
// payload.
const maxBodyBytes = 64 << 10

// detailedCheckTimeout bounds the dependency probes on the detailed
// health path.
const detailedCheckTimeout = 5 * time.Second

// Deps carries the wired components the routes serve from.
type Deps struct {
	Predictor *predict.Predictor
	Verifier  *auth.Verifier
	Limiter   ratelimit.Limiter
	Health    *health.Checker
	Store     *artifacts.Store
	Cache     *mlcache.Cache
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// SetupRoutes configures the gateway's HTTP endpoints.
func SetupRoutes(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /predict", deps.protected("predict", handlePredict(deps)))
	mux.HandleFunc("GET /models/info", deps.protected("models_info", handleModelsInfo(deps)))

	// Health is deliberately unauthenticated: probes must work without
	// credentials.
	mux.HandleFunc("GET /health", handleHealth(deps))

	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// protected wraps a handler with bearer-token verification and per-caller
// rate limiting, in that order.
func (d Deps) protected(endpoint string, next func(http.ResponseWriter, *http.Request, auth.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := authenticate(d.Verifier, r)
		if err != nil {
			reason := string(apierr.ReasonMalformed)
			var authErr *apierr.AuthError
			if errors.As(err, &authErr) {
				reason = string(authErr.Reason)
			}
			d.Metrics.RecordAuthFailure(reason)
			d.Logger.Warn("authentication rejected",
				"endpoint", endpoint,
				"reason", reason,
				"request_id", httpx.RequestID(r.Context()))
			httpx.WriteError(w, r, err, nil)
			return
		}

		decision, err := d.Limiter.Allow(r.Context(), identity.UserID, endpoint)
		if err != nil {
			// Admission cannot be decided, so the request fails rather
			// than bypassing metering. The limiter's own calls are
			// bounded, so this returns promptly.
			d.Metrics.RecordError("ratelimit", "backend_error")
			d.Logger.Error("rate limiter unavailable, rejecting request",
				"endpoint", endpoint,
				"error", err,
				"request_id", httpx.RequestID(r.Context()))
			httpx.WriteError(w, r, err, nil)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Permitted {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			d.Metrics.RecordRateLimitRejection(endpoint)
			d.Logger.Warn("rate limit exceeded",
				"endpoint", endpoint,
				"user_id", identity.UserID,
				"retry_after", decision.RetryAfter,
				"request_id", httpx.RequestID(r.Context()))
			httpx.WriteError(w, r, &apierr.RateLimitError{RetryAfter: decision.RetryAfter}, nil)
			return
		}

		next(w, r, identity)
	}
}

// authenticate extracts and verifies the bearer token on r.
func authenticate(verifier *auth.Verifier, r *http.Request) (auth.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.Identity{}, &apierr.AuthError{Reason: apierr.ReasonMissing}
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return auth.Identity{}, &apierr.AuthError{Reason: apierr.ReasonMalformed}
	}

	return verifier.Verify(strings.TrimSpace(token))
}

// predictResponse is the body of a successful POST /predict.
type predictResponse struct {
	predict.Result
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// handlePredict returns the handler for POST /predict.
func handlePredict(deps Deps) func(http.ResponseWriter, *http.Request, auth.Identity) {
	return func(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
		start := time.Now()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			verr := &apierr.ValidationError{}
			verr.Add("body", "request body unreadable or too large")
			httpx.WriteError(w, r, verr, map[string]any{"field_errors": verr.FieldErrors})
			return
		}

		passenger, warnings, err := validate.Passenger(body)
		if err != nil {
			details := map[string]any{}
			var verr *apierr.ValidationError
			if errors.As(err, &verr) {
				details["field_errors"] = verr.FieldErrors
			}
			deps.Metrics.RecordError("validate", "rejected")
			httpx.WriteError(w, r, err, details)
			return
		}

		for _, warning := range warnings {
			deps.Logger.Warn("anomalous input accepted",
				"signal", warning,
				"user_id", identity.UserID,
				"request_id", httpx.RequestID(r.Context()))
		}

		result, err := deps.Predictor.Predict(r.Context(), passenger)
		if err != nil {
			deps.Metrics.RecordError("predict", "failed")
			deps.Logger.Error("prediction failed",
				"error", err,
				"request_id", httpx.RequestID(r.Context()))
			httpx.WriteError(w, r, err, nil)
			return
		}

		deps.Metrics.RecordPredict(time.Since(start).Seconds())

		resp := predictResponse{
			Result:    result,
			Timestamp: time.Now().UTC(),
			RequestID: httpx.RequestID(r.Context()),
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleHealth returns the handler for GET /health.
//
// The fast path answers from in-memory state only. The detailed path
// (?detailed=true) probes artifacts, system resources and configuration,
// and may report degraded; it never forces a model load.
func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status health.Status
		if r.URL.Query().Get("detailed") == "true" {
			ctx, cancel := context.WithTimeout(r.Context(), detailedCheckTimeout)
			defer cancel()
			status = deps.Health.CheckDetailed(ctx)
		} else {
			status = deps.Health.CheckFast()
		}

		// Degraded still serves traffic; only a gateway that has not
		// finished starting is reported unavailable.
		code := http.StatusOK
		if status.Status == health.StatusStarting {
			code = http.StatusServiceUnavailable
		}

		if err := httpx.WriteJSON(w, code, status); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// modelInfo describes one model without forcing it into the cache.
type modelInfo struct {
	Type     string  `json:"type"`
	Loaded   bool    `json:"loaded"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// handleModelsInfo returns the handler for GET /models/info. Load state
// comes from cache inspection only; an unloaded model stays unloaded.
func handleModelsInfo(deps Deps) func(http.ResponseWriter, *http.Request, auth.Identity) {
	return func(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
		eval := deps.Store.Evaluation(r.Context())

		resp := map[string]any{
			"models": map[string]modelInfo{
				predict.KeyLogistic: {
					Type:     "logistic_regression",
					Loaded:   deps.Cache.Peek(predict.KeyLogistic),
					Accuracy: eval.LogisticAccuracy,
				},
				predict.KeyTree: {
					Type:     "decision_tree",
					Loaded:   deps.Cache.Peek(predict.KeyTree),
					Accuracy: eval.TreeAccuracy,
				},
			},
			"ensemble": map[string]any{
				"strategy": "average",
				"accuracy": eval.EnsembleAccuracy,
			},
			"preprocessor_loaded": deps.Cache.Peek(predict.KeyPreprocessor),
			"loading_mode":        "lazy",
		}
		if cols, err := deps.Store.Manifest(r.Context()); err == nil {
			resp["feature_columns"] = cols
		}
		if !eval.TrainedAt.IsZero() {
			resp["trained_at"] = eval.TrainedAt.Format(time.RFC3339)
		}

		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

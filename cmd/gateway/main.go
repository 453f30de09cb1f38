// Command gateway serves survival predictions from a trained model ensemble
// over an authenticated HTTP API.
//
// On startup the gateway validates its configuration and the artifact
// directory, then serves with an empty model cache: artifacts are loaded
// lazily on first use and retained for the life of the process.
//
// The gateway serves an HTTP API on port 8080 (configurable) providing:
//   - POST /predict - Ensemble survival prediction (authenticated, rate limited)
//   - GET /models/info - Model metadata and load state (authenticated, rate limited)
//   - GET /health - Liveness check; ?detailed=true adds dependency checks
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	gateway \
//	  -models-dir=/var/lib/lifeboat/models \
//	  -jwt-issuer=auth.example.com \
//	  -jwt-audience=lifeboat-api \
//	  -jwt-public-key=/etc/lifeboat/jwt.pub \
//	  -rate-limit-backend=shared \
//	  -redis-addr=redis:6379
//
// Environment variables:
//
//	LISTEN             - HTTP listen address (default: :8080)
//	MODELS_DIR         - Model artifact directory (required)
//	JWT_ISSUER         - Expected token issuer (required)
//	JWT_AUDIENCE       - Expected token audience (required)
//	JWT_PUBLIC_KEY     - RSA public key PEM file (required)
//	RATE_LIMIT_BACKEND - memory or shared (default: memory)
//	RATE_LIMIT_WINDOW  - Window size (default: 1m)
//	RATE_LIMIT_MAX     - Requests per caller per endpoint per window (default: 50)
//	REDIS_ADDR         - Redis address for the shared backend
//	CONFIG_FILE        - Optional YAML configuration file
//	LOG_LEVEL          - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT         - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voyagekit/lifeboat/cmd/gateway/config"
	"github.com/voyagekit/lifeboat/cmd/gateway/logger"
	"github.com/voyagekit/lifeboat/cmd/gateway/metrics"
	"github.com/voyagekit/lifeboat/cmd/gateway/router"
	"github.com/voyagekit/lifeboat/pkg/artifacts"
	"github.com/voyagekit/lifeboat/pkg/auth"
	"github.com/voyagekit/lifeboat/pkg/health"
	"github.com/voyagekit/lifeboat/pkg/httpx"
	"github.com/voyagekit/lifeboat/pkg/mlcache"
	"github.com/voyagekit/lifeboat/pkg/predict"
	"github.com/voyagekit/lifeboat/pkg/ratelimit"
	"github.com/voyagekit/lifeboat/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log.Info("starting lifeboat gateway",
		"version", version,
		"listen", cfg.Listen,
		"models_dir", cfg.ModelsDir,
		"rate_limit_backend", cfg.RateLimitBackend,
	)

	store, err := artifacts.NewStore(cfg.ModelsDir)
	if err != nil {
		log.Error("artifact store unavailable", "error", err)
		os.Exit(1)
	}

	// The feature manifest and imputation stats must be readable before
	// serving; a gateway that cannot build feature vectors is
	// misconfigured, not degraded.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := store.Manifest(startupCtx); err != nil {
		cancelStartup()
		log.Error("feature manifest check failed", "error", err)
		os.Exit(1)
	}
	if _, err := store.Stats(startupCtx); err != nil {
		cancelStartup()
		log.Error("preprocessing stats check failed", "error", err)
		os.Exit(1)
	}
	cancelStartup()

	publicKeyPEM, err := os.ReadFile(cfg.JWTPublicKeyFile)
	if err != nil {
		log.Error("failed to read JWT public key", "file", cfg.JWTPublicKeyFile, "error", err)
		os.Exit(1)
	}
	verifier, err := auth.NewVerifier(publicKeyPEM, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		log.Error("failed to initialize token verifier", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	cache := mlcache.New(predict.Loaders(store), cfg.ArtifactLoadTimeout, log)
	cache.OnLoad = func(key string, duration time.Duration, err error) {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			m.RecordError("mlcache", "load_failed")
		}
		m.RecordModelLoad(key, outcome, duration.Seconds())

		loaded := 0
		for _, k := range cache.Keys() {
			if cache.Peek(k) {
				loaded++
			}
		}
		m.SetModelsLoaded(loaded)
	}

	limiter, err := newLimiter(cfg)
	if err != nil {
		log.Error("failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	if closer, ok := limiter.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close rate limiter", "error", err)
			}
		}()
	}
	if stopper, ok := limiter.(interface{ Stop() }); ok {
		defer stopper.Stop()
	}

	checker := health.NewChecker(cache, store, health.Thresholds{
		MemoryPercent: cfg.MemoryPercent,
		DiskPercent:   cfg.DiskPercent,
	}, cfg.Validate)

	mux := router.SetupRoutes(router.Deps{
		Predictor: predict.New(cache),
		Verifier:  verifier,
		Limiter:   limiter,
		Health:    checker,
		Store:     store,
		Cache:     cache,
		Metrics:   m,
		Logger:    log,
	})

	var handler http.Handler = mux
	handler = httpx.ThrottleMiddleware(cfg.GlobalRPS, cfg.GlobalBurst)(handler)
	handler = httpx.RecoveryMiddleware(log)(handler)
	handler = httpx.LoggingMiddleware(log)(handler)
	handler = httpx.RequestIDMiddleware()(handler)

	httpServer := httpx.NewServer(cfg.Listen, handler, log)
	if cfg.TLS.Enabled {
		tlsConfig, err := tls.NewServerTLSConfig(cfg.TLS)
		if err != nil {
			log.Error("failed to build TLS configuration", "error", err)
			os.Exit(1)
		}
		httpServer.SetTLSConfig(tlsConfig)
	}

	checker.SetReady()

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErr <- httpServer.Start()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

// newLimiter builds the rate limiter selected by configuration. The memory
// backend runs a background sweep sized to the window so idle callers do
// not accumulate.
func newLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.RateLimitBackend == config.BackendShared {
		return ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RateLimitWindow, cfg.RateLimitMax)
	}
	return ratelimit.NewMemoryLimiterWithCleanup(cfg.RateLimitWindow, cfg.RateLimitMax, cfg.RateLimitWindow), nil
}

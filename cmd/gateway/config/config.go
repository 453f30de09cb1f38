// Package config provides configuration parsing and management for the
// gateway.
//
// It handles command-line flags, environment variables and an optional YAML
// configuration file. Flags take precedence over environment variables,
// which take precedence over the file, which takes precedence over built-in
// defaults.
//
// Recognized options cover the HTTP listener, logging, the artifact
// directory, JWT verification (issuer, audience, public key), rate limiting
// (backend, window, max, Redis connection), health thresholds and TLS.
//
// Validation is strict: a misconfigured gateway refuses to start.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voyagekit/lifeboat/pkg/apierr"
	"github.com/voyagekit/lifeboat/pkg/tls"
)

// Rate limiter backend names.
const (
	BackendMemory = "memory"
	BackendShared = "shared"
)

// Config holds all gateway configuration.
type Config struct {
	Listen    string
	LogLevel  string
	LogFormat string

	ModelsDir           string
	ArtifactLoadTimeout time.Duration

	JWTIssuer        string
	JWTAudience      string
	JWTPublicKeyFile string

	RateLimitBackend string
	RateLimitWindow  time.Duration
	RateLimitMax     int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	GlobalRPS   float64
	GlobalBurst int

	MemoryPercent float64
	DiskPercent   float64

	TLS tls.Config
}

// fileConfig is the YAML schema for the optional configuration file.
type fileConfig struct {
	Listen string `yaml:"listen"`
	Log    struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ModelsDir string `yaml:"models_dir"`
	JWT       struct {
		Issuer    string `yaml:"issuer"`
		Audience  string `yaml:"audience"`
		PublicKey string `yaml:"public_key"`
	} `yaml:"jwt"`
	RateLimit struct {
		Backend string `yaml:"backend"`
		Window  string `yaml:"window"`
		Max     int    `yaml:"max"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"rate_limit"`
	Server struct {
		GlobalRPS   float64 `yaml:"global_rps"`
		GlobalBurst int     `yaml:"global_burst"`
	} `yaml:"server"`
	Health struct {
		MemoryPercent float64 `yaml:"memory_percent"`
		DiskPercent   float64 `yaml:"disk_percent"`
	} `yaml:"health"`
	TLS struct {
		Enabled      bool   `yaml:"enabled"`
		CertFile     string `yaml:"cert_file"`
		KeyFile      string `yaml:"key_file"`
		ClientCAFile string `yaml:"client_ca_file"`
	} `yaml:"tls"`
}

// ParseFlags parses command-line flags and environment variables into a
// Config, then merges in the YAML file (if one is given) for fields the
// flags and environment left untouched.
func ParseFlags() (*Config, error) {
	cfg := &Config{}
	var configFile string

	flag.StringVar(&configFile, "config", getEnv("CONFIG_FILE", ""), "YAML configuration file")

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")

	flag.StringVar(&cfg.ModelsDir, "models-dir", getEnv("MODELS_DIR", ""), "Directory containing model artifacts (required)")
	flag.DurationVar(&cfg.ArtifactLoadTimeout, "artifact-load-timeout", getEnvDuration("ARTIFACT_LOAD_TIMEOUT", 10*time.Second), "Timeout for a single artifact load")

	flag.StringVar(&cfg.JWTIssuer, "jwt-issuer", getEnv("JWT_ISSUER", ""), "Expected JWT issuer (required)")
	flag.StringVar(&cfg.JWTAudience, "jwt-audience", getEnv("JWT_AUDIENCE", ""), "Expected JWT audience (required)")
	flag.StringVar(&cfg.JWTPublicKeyFile, "jwt-public-key", getEnv("JWT_PUBLIC_KEY", ""), "PEM file with the RSA public key for token verification (required)")

	flag.StringVar(&cfg.RateLimitBackend, "rate-limit-backend", getEnv("RATE_LIMIT_BACKEND", BackendMemory), "Rate limit backend: memory or shared")
	flag.DurationVar(&cfg.RateLimitWindow, "rate-limit-window", getEnvDuration("RATE_LIMIT_WINDOW", time.Minute), "Rate limit window size")
	flag.IntVar(&cfg.RateLimitMax, "rate-limit-max", getEnvInt("RATE_LIMIT_MAX", 50), "Max requests per caller per endpoint per window")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address (shared backend)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")

	flag.Float64Var(&cfg.GlobalRPS, "global-rps", getEnvFloat("GLOBAL_RPS", 0), "Server-wide requests/sec throttle (0 disables)")
	flag.IntVar(&cfg.GlobalBurst, "global-burst", getEnvInt("GLOBAL_BURST", 0), "Server-wide throttle burst")

	flag.Float64Var(&cfg.MemoryPercent, "health-memory-percent", getEnvFloat("HEALTH_MEMORY_PERCENT", 95), "Memory usage percent above which health degrades")
	flag.Float64Var(&cfg.DiskPercent, "health-disk-percent", getEnvFloat("HEALTH_DISK_PERCENT", 95), "Disk usage percent above which health degrades")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.ClientCAFile, "tls-client-ca-file", getEnv("TLS_CLIENT_CA_FILE", ""), "CA certificate file for verifying client certificates (enables mTLS)")

	flag.Parse()

	if configFile != "" {
		set := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := applyFile(cfg, configFile, set); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// applyFile merges YAML values into cfg for fields not already set by a
// flag or environment variable.
func applyFile(cfg *Config, path string, setFlags map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &apierr.ConfigurationError{Field: "config", Err: err}
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return &apierr.ConfigurationError{Field: "config", Err: fmt.Errorf("parse %s: %w", path, err)}
	}

	untouched := func(flagName, envName string) bool {
		return !setFlags[flagName] && os.Getenv(envName) == ""
	}

	if fc.Listen != "" && untouched("listen", "LISTEN") {
		cfg.Listen = fc.Listen
	}
	if fc.Log.Level != "" && untouched("log-level", "LOG_LEVEL") {
		cfg.LogLevel = fc.Log.Level
	}
	if fc.Log.Format != "" && untouched("log-format", "LOG_FORMAT") {
		cfg.LogFormat = fc.Log.Format
	}
	if fc.ModelsDir != "" && untouched("models-dir", "MODELS_DIR") {
		cfg.ModelsDir = fc.ModelsDir
	}
	if fc.JWT.Issuer != "" && untouched("jwt-issuer", "JWT_ISSUER") {
		cfg.JWTIssuer = fc.JWT.Issuer
	}
	if fc.JWT.Audience != "" && untouched("jwt-audience", "JWT_AUDIENCE") {
		cfg.JWTAudience = fc.JWT.Audience
	}
	if fc.JWT.PublicKey != "" && untouched("jwt-public-key", "JWT_PUBLIC_KEY") {
		cfg.JWTPublicKeyFile = fc.JWT.PublicKey
	}
	if fc.RateLimit.Backend != "" && untouched("rate-limit-backend", "RATE_LIMIT_BACKEND") {
		cfg.RateLimitBackend = fc.RateLimit.Backend
	}
	if fc.RateLimit.Window != "" && untouched("rate-limit-window", "RATE_LIMIT_WINDOW") {
		d, err := time.ParseDuration(fc.RateLimit.Window)
		if err != nil {
			return &apierr.ConfigurationError{Field: "rate_limit.window", Err: err}
		}
		cfg.RateLimitWindow = d
	}
	if fc.RateLimit.Max != 0 && untouched("rate-limit-max", "RATE_LIMIT_MAX") {
		cfg.RateLimitMax = fc.RateLimit.Max
	}
	if fc.RateLimit.Redis.Addr != "" && untouched("redis-addr", "REDIS_ADDR") {
		cfg.RedisAddr = fc.RateLimit.Redis.Addr
	}
	if fc.RateLimit.Redis.Password != "" && untouched("redis-password", "REDIS_PASSWORD") {
		cfg.RedisPassword = fc.RateLimit.Redis.Password
	}
	if fc.RateLimit.Redis.DB != 0 && untouched("redis-db", "REDIS_DB") {
		cfg.RedisDB = fc.RateLimit.Redis.DB
	}
	if fc.Server.GlobalRPS != 0 && untouched("global-rps", "GLOBAL_RPS") {
		cfg.GlobalRPS = fc.Server.GlobalRPS
	}
	if fc.Server.GlobalBurst != 0 && untouched("global-burst", "GLOBAL_BURST") {
		cfg.GlobalBurst = fc.Server.GlobalBurst
	}
	if fc.Health.MemoryPercent != 0 && untouched("health-memory-percent", "HEALTH_MEMORY_PERCENT") {
		cfg.MemoryPercent = fc.Health.MemoryPercent
	}
	if fc.Health.DiskPercent != 0 && untouched("health-disk-percent", "HEALTH_DISK_PERCENT") {
		cfg.DiskPercent = fc.Health.DiskPercent
	}
	if fc.TLS.Enabled && untouched("tls-enabled", "TLS_ENABLED") {
		cfg.TLS.Enabled = fc.TLS.Enabled
		cfg.TLS.CertFile = fc.TLS.CertFile
		cfg.TLS.KeyFile = fc.TLS.KeyFile
		cfg.TLS.ClientCAFile = fc.TLS.ClientCAFile
	}

	return nil
}

// Validate checks the configuration. Any failure is a ConfigurationError:
// the process must refuse to serve rather than run misconfigured.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return &apierr.ConfigurationError{Field: "listen", Err: fmt.Errorf("cannot be empty")}
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return &apierr.ConfigurationError{Field: "log-format", Err: fmt.Errorf("invalid format %q (must be text or json)", c.LogFormat)}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &apierr.ConfigurationError{Field: "log-level", Err: fmt.Errorf("invalid level %q", c.LogLevel)}
	}

	if c.ModelsDir == "" {
		return &apierr.ConfigurationError{Field: "models-dir", Err: fmt.Errorf("cannot be empty")}
	}
	if info, err := os.Stat(c.ModelsDir); err != nil {
		return &apierr.ConfigurationError{Field: "models-dir", Err: err}
	} else if !info.IsDir() {
		return &apierr.ConfigurationError{Field: "models-dir", Err: fmt.Errorf("%q is not a directory", c.ModelsDir)}
	}

	if c.JWTIssuer == "" {
		return &apierr.ConfigurationError{Field: "jwt-issuer", Err: fmt.Errorf("cannot be empty")}
	}
	if c.JWTAudience == "" {
		return &apierr.ConfigurationError{Field: "jwt-audience", Err: fmt.Errorf("cannot be empty")}
	}
	if c.JWTPublicKeyFile == "" {
		return &apierr.ConfigurationError{Field: "jwt-public-key", Err: fmt.Errorf("cannot be empty")}
	}
	if _, err := os.Stat(c.JWTPublicKeyFile); err != nil {
		return &apierr.ConfigurationError{Field: "jwt-public-key", Err: err}
	}

	switch c.RateLimitBackend {
	case BackendMemory, BackendShared:
	default:
		return &apierr.ConfigurationError{Field: "rate-limit-backend", Err: fmt.Errorf("invalid backend %q (must be memory or shared)", c.RateLimitBackend)}
	}
	if c.RateLimitWindow <= 0 {
		return &apierr.ConfigurationError{Field: "rate-limit-window", Err: fmt.Errorf("must be > 0")}
	}
	if c.RateLimitMax <= 0 {
		return &apierr.ConfigurationError{Field: "rate-limit-max", Err: fmt.Errorf("must be > 0")}
	}
	if c.RateLimitBackend == BackendShared && c.RedisAddr == "" {
		return &apierr.ConfigurationError{Field: "redis-addr", Err: fmt.Errorf("required for the shared backend")}
	}

	if c.GlobalRPS < 0 {
		return &apierr.ConfigurationError{Field: "global-rps", Err: fmt.Errorf("cannot be negative")}
	}

	if err := c.TLS.Validate(); err != nil {
		return &apierr.ConfigurationError{Field: "tls", Err: err}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

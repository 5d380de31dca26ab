// Package config reads the service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every runtime setting of the service.
type Config struct {
	HTTPAddr       string
	GRPCHealthAddr string

	ResultsDir     string
	StaticDir      string
	MaxUploadBytes int64

	MinRegionArea     float64
	BinarizeThreshold float64
	SSIMWindow        int

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr      string
	ResultCacheTTL time.Duration

	JWTSecret   string
	JWTAudience string

	ShutdownTimeout time.Duration
	LogLevel        string
}

// Load builds a Config from environment variables, applying defaults for
// unset ones. Malformed numeric or duration values are reported together.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		GRPCHealthAddr: getEnvAllowEmpty("GRPC_HEALTH_ADDR", ":8081"),
		ResultsDir:     getEnv("RESULTS_DIR", "results"),
		StaticDir:      getEnv("STATIC_DIR", "static"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "diff-finder.db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var errs []error
	cfg.MaxUploadBytes = parseInt64(&errs, "MAX_UPLOAD_BYTES", 10<<20)
	cfg.MinRegionArea = parseFloat(&errs, "MIN_REGION_AREA", 40)
	cfg.BinarizeThreshold = parseFloat(&errs, "BINARIZE_THRESHOLD", 0)
	cfg.SSIMWindow = int(parseInt64(&errs, "SSIM_WINDOW", 7))
	cfg.ResultCacheTTL = parseDuration(&errs, "RESULT_CACHE_TTL", 10*time.Minute)
	cfg.ShutdownTimeout = parseDuration(&errs, "SHUTDOWN_TIMEOUT", 15*time.Second)

	switch {
	case cfg.MaxUploadBytes <= 0:
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes))
	case cfg.MinRegionArea < 0:
		errs = append(errs, fmt.Errorf("MIN_REGION_AREA must not be negative, got %v", cfg.MinRegionArea))
	case cfg.BinarizeThreshold < 0 || cfg.BinarizeThreshold > 255:
		errs = append(errs, fmt.Errorf("BINARIZE_THRESHOLD must be within [0, 255], got %v", cfg.BinarizeThreshold))
	case cfg.SSIMWindow < 3 || cfg.SSIMWindow%2 == 0:
		errs = append(errs, fmt.Errorf("SSIM_WINDOW must be an odd value of at least 3, got %d", cfg.SSIMWindow))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// AuthEnabled reports whether bearer tokens are required on the API routes.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAllowEmpty distinguishes an unset variable from one explicitly set to "".
func getEnvAllowEmpty(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func parseInt64(errs *[]error, key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func parseFloat(errs *[]error, key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func parseDuration(errs *[]error, key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

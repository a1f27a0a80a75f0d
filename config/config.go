// Package config loads the loyalty service configuration from environment
// variables. Reference-data (tiers, benefits, locations) ships separately as
// a YAML catalog seed consumed by the catalog package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the loyalty service.
type Config struct {
	Port        string
	Environment string
	DatabaseURL string

	// BusinessTZ is the fixed business timezone every day-boundary
	// computation is projected into, independent of the host timezone.
	BusinessTZ *time.Location

	OTPStep     time.Duration
	OTPSkew     int
	Multiplier  int
	RevokeCount int
	DecayIdle   time.Duration

	AuthSecret  string
	AuthIssuer  string
	AuthMaxSkew time.Duration

	CatalogSeedPath string

	PresentationRatePerMinute float64
	PresentationBurst         int

	LogFile string

	OTelEndpoint string
	OTelInsecure bool
	OTelHeaders  string
	OTelMetrics  bool
	OTelTraces   bool
}

// FromEnv loads configuration from environment variables required by the
// service.
func FromEnv() (*Config, error) {
	port := getEnvDefault("LOYALTY_PORT", "8080")

	dbURL := os.Getenv("LOYALTY_DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("LOYALTY_DB_URL is required")
	}

	authSecret := strings.TrimSpace(os.Getenv("LOYALTY_AUTH_SECRET"))
	if authSecret == "" {
		return nil, fmt.Errorf("LOYALTY_AUTH_SECRET is required")
	}

	tzName := getEnvDefault("LOYALTY_BUSINESS_TZ", "Asia/Seoul")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid LOYALTY_BUSINESS_TZ %q: %w", tzName, err)
	}

	stepSeconds := parseIntEnv("LOYALTY_OTP_STEP_SECONDS", 30)
	if stepSeconds <= 0 {
		return nil, fmt.Errorf("invalid LOYALTY_OTP_STEP_SECONDS %d", stepSeconds)
	}
	skew := parseIntEnv("LOYALTY_OTP_SKEW_STEPS", 1)
	if skew < 0 {
		return nil, fmt.Errorf("invalid LOYALTY_OTP_SKEW_STEPS %d", skew)
	}

	multiplier := parseIntEnv("LOYALTY_WEIGHTED_ORDER_MULTIPLIER", 3)
	if multiplier <= 0 {
		return nil, fmt.Errorf("invalid LOYALTY_WEIGHTED_ORDER_MULTIPLIER %d", multiplier)
	}

	revokeCount := parseIntEnv("LOYALTY_REVOKE_DEFAULT_COUNT", 2)
	if revokeCount <= 0 {
		return nil, fmt.Errorf("invalid LOYALTY_REVOKE_DEFAULT_COUNT %d", revokeCount)
	}

	decayIdleDays := parseIntEnv("LOYALTY_DECAY_IDLE_DAYS", 90)
	if decayIdleDays <= 0 {
		return nil, fmt.Errorf("invalid LOYALTY_DECAY_IDLE_DAYS %d", decayIdleDays)
	}

	authSkewSeconds := parseIntEnv("LOYALTY_AUTH_MAX_SKEW_SECONDS", 60)
	if authSkewSeconds < 0 {
		authSkewSeconds = 60
	}

	rateLimit := parseFloatEnv("LOYALTY_PRESENTATION_RATE_PER_MINUTE", 120)
	if rateLimit < 0 {
		rateLimit = 0
	}
	burst := parseIntEnv("LOYALTY_PRESENTATION_BURST", 10)
	if burst <= 0 {
		burst = 1
	}

	return &Config{
		Port:        normalizePort(port),
		Environment: strings.TrimSpace(os.Getenv("LOYALTY_ENV")),
		DatabaseURL: dbURL,

		BusinessTZ: tz,

		OTPStep:     time.Duration(stepSeconds) * time.Second,
		OTPSkew:     skew,
		Multiplier:  multiplier,
		RevokeCount: revokeCount,
		DecayIdle:   time.Duration(decayIdleDays) * 24 * time.Hour,

		AuthSecret:  authSecret,
		AuthIssuer:  getEnvDefault("LOYALTY_AUTH_ISSUER", "loyaltyd"),
		AuthMaxSkew: time.Duration(authSkewSeconds) * time.Second,

		CatalogSeedPath: strings.TrimSpace(os.Getenv("LOYALTY_CATALOG_SEED")),

		PresentationRatePerMinute: rateLimit,
		PresentationBurst:         burst,

		LogFile: strings.TrimSpace(os.Getenv("LOYALTY_LOG_FILE")),

		OTelEndpoint: strings.TrimSpace(os.Getenv("LOYALTY_OTEL_ENDPOINT")),
		OTelInsecure: parseBoolEnv("LOYALTY_OTEL_INSECURE", false),
		OTelHeaders:  strings.TrimSpace(os.Getenv("LOYALTY_OTEL_HEADERS")),
		OTelMetrics:  parseBoolEnv("LOYALTY_OTEL_METRICS", false),
		OTelTraces:   parseBoolEnv("LOYALTY_OTEL_TRACES", false),
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	if _, err := strconv.Atoi(port); err == nil {
		return port
	}
	// Allow values like ":8080".
	if len(port) > 0 && port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloatEnv(key string, def float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}

package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LOYALTY_DB_URL", "postgres://localhost/loyalty")
	t.Setenv("LOYALTY_AUTH_SECRET", "test-secret")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.BusinessTZ.String() != "Asia/Seoul" {
		t.Fatalf("business tz = %q, want Asia/Seoul", cfg.BusinessTZ)
	}
	if cfg.OTPStep != 30*time.Second || cfg.OTPSkew != 1 {
		t.Fatalf("otp step/skew = %v/%d, want 30s/1", cfg.OTPStep, cfg.OTPSkew)
	}
	if cfg.Multiplier != 3 {
		t.Fatalf("multiplier = %d, want 3", cfg.Multiplier)
	}
	if cfg.RevokeCount != 2 {
		t.Fatalf("revoke count = %d, want 2", cfg.RevokeCount)
	}
	if cfg.DecayIdle != 90*24*time.Hour {
		t.Fatalf("decay idle = %v, want 90 days", cfg.DecayIdle)
	}
}

func TestFromEnvRequiresDatabaseURL(t *testing.T) {
	t.Setenv("LOYALTY_DB_URL", "")
	t.Setenv("LOYALTY_AUTH_SECRET", "test-secret")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without LOYALTY_DB_URL")
	}
}

func TestFromEnvRequiresAuthSecret(t *testing.T) {
	t.Setenv("LOYALTY_DB_URL", "postgres://localhost/loyalty")
	t.Setenv("LOYALTY_AUTH_SECRET", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without LOYALTY_AUTH_SECRET")
	}
}

func TestFromEnvRejectsBadTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("LOYALTY_BUSINESS_TZ", "Mars/Olympus")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOYALTY_PORT", ":9090")
	t.Setenv("LOYALTY_OTP_STEP_SECONDS", "60")
	t.Setenv("LOYALTY_WEIGHTED_ORDER_MULTIPLIER", "5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.OTPStep != time.Minute {
		t.Fatalf("otp step = %v, want 1m", cfg.OTPStep)
	}
	if cfg.Multiplier != 5 {
		t.Fatalf("multiplier = %d, want 5", cfg.Multiplier)
	}
}

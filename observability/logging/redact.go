package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskSecret fully redacts OTP secrets and presented codes. Neither may ever
// reach a log line, even truncated.
func MaskSecret(key string) slog.Attr {
	return slog.String(key, RedactedValue)
}

// MaskPhone keeps the trailing four digits of a phone number so operators can
// correlate support tickets without exposing the full identifier.
func MaskPhone(key, phone string) slog.Attr {
	trimmed := strings.TrimSpace(phone)
	if len(trimmed) <= 4 {
		return slog.String(key, RedactedValue)
	}
	return slog.String(key, "****"+trimmed[len(trimmed)-4:])
}

// Package otp implements the time-stepped numeric identity code used to prove
// presence at a terminal (RFC 6238 TOTP, HMAC-SHA1, six digits).
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultStep is the code rotation interval.
	DefaultStep = 30 * time.Second
	// DefaultSkew is the tolerance in steps accepted on either side of now.
	DefaultSkew = 1
	// Digits is the fixed code length. The terminal protocol transmits a
	// plain numeric string of exactly this length.
	Digits = 6

	secretBytes = 20
)

// Proofer derives and validates time-stepped codes for a shared secret.
type Proofer struct {
	Step time.Duration
	Skew int
}

// New returns a Proofer with the supplied step and skew, falling back to the
// defaults for non-positive values.
func New(step time.Duration, skew int) *Proofer {
	if step <= 0 {
		step = DefaultStep
	}
	if skew < 0 {
		skew = DefaultSkew
	}
	return &Proofer{Step: step, Skew: skew}
}

// GenerateSecret produces a fresh base32-encoded shared secret. It is called
// once at customer activation; the secret is immutable afterwards.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// Code derives the six-digit code for the step containing now.
func (p *Proofer) Code(secret string, now time.Time) (string, error) {
	return p.codeAtCounter(secret, p.counter(now))
}

// Validate reports whether code matches the derivation for the current step
// or any step within the skew window. Callers must treat false uniformly:
// "wrong code" and "right code, wrong customer" are indistinguishable.
func (p *Proofer) Validate(code, secret string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false
	}
	counter := p.counter(now)
	matched := false
	for offset := -int64(p.Skew); offset <= int64(p.Skew); offset++ {
		candidate, err := p.codeAtCounter(secret, counter+offset)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			matched = true
		}
	}
	return matched
}

func (p *Proofer) counter(now time.Time) int64 {
	step := p.Step
	if step <= 0 {
		step = DefaultStep
	}
	return now.Unix() / int64(step/time.Second)
}

func (p *Proofer) codeAtCounter(secret string, counter int64) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1000000), nil
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("decode otp secret: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("otp secret empty")
	}
	return key, nil
}

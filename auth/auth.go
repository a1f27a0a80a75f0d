// Package auth verifies the bearer tokens presented by point-of-sale
// terminals and back-office jobs. Tokens are HS256 JWTs carrying a role
// claim; terminals may record presentations and redemptions, while the
// revocation and decay hooks are reserved for admin callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	contextKeySubject contextKey = "auth_subject"
	contextKeyRole    contextKey = "auth_role"
)

// Role represents an authorized caller persona.
type Role string

// Supported roles.
const (
	RoleTerminal Role = "terminal"
	RoleAdmin    Role = "admin"
)

var allowedRoles = map[Role]struct{}{
	RoleTerminal: {},
	RoleAdmin:    {},
}

// ErrUnauthorized is returned when a token is missing, malformed or expired.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Verifier validates inbound bearer tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	maxSkew  time.Duration
	timeFunc func() time.Time
}

// NewVerifier constructs a Verifier for the shared HS256 secret.
func NewVerifier(secret []byte, issuer string, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = time.Minute
	}
	return &Verifier{secret: secret, issuer: issuer, maxSkew: maxSkew, timeFunc: time.Now}
}

// Claims is the identity extracted from a verified token.
type Claims struct {
	Subject string
	Role    Role
}

// Verify parses and validates a raw compact JWT.
func (v *Verifier) Verify(raw string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.maxSkew),
		jwt.WithTimeFunc(v.timeFunc),
	)
	token, err := parser.Parse(raw, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrUnauthorized
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrUnauthorized
	}
	subject, _ := mapClaims.GetSubject()
	roleValue, _ := mapClaims["role"].(string)
	role := Role(strings.ToLower(strings.TrimSpace(roleValue)))
	if _, allowed := allowedRoles[role]; !allowed || subject == "" {
		return Claims{}, ErrUnauthorized
	}
	return Claims{Subject: subject, Role: role}, nil
}

// IssueToken mints a token for the subject and role. Used by provisioning
// tooling and tests.
func (v *Verifier) IssueToken(subject string, role Role, ttl time.Duration) (string, error) {
	now := v.timeFunc()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  v.issuer,
		"sub":  subject,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate is the HTTP middleware enforcing bearer auth on every route.
func (v *Verifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		claims, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeySubject, claims.Subject)
		ctx = context.WithValue(ctx, contextKeyRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route to the listed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if _, permitted := allowed[role]; !permitted {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext returns the authenticated caller identifier.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(contextKeySubject).(string)
	return subject, ok
}

// RoleFromContext returns the authenticated caller role.
func RoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(contextKeyRole).(Role)
	return role, ok
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "loyaltyd", time.Minute)
	token, err := v.IssueToken("pos-001", RoleTerminal, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := v.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := SubjectFromContext(r.Context())
		if !ok || subject != "pos-001" {
			t.Fatalf("subject = %q ok=%v", subject, ok)
		}
		role, ok := RoleFromContext(r.Context())
		if !ok || role != RoleTerminal {
			t.Fatalf("role = %q ok=%v", role, ok)
		}
		w.WriteHeader(http.StatusOK)
	}))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", recorder.Code)
	}
}

func TestAuthenticateRejectsMissingAndGarbageTokens(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "loyaltyd", time.Minute)
	handler := v.Authenticate(okHandler())

	for _, header := range []string{"", "Bearer not-a-jwt", "Basic abc"} {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401 got %d", header, recorder.Code)
		}
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "loyaltyd", time.Second)
	token, err := v.IssueToken("pos-001", RoleTerminal, -time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := v.Authenticate(okHandler())
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", recorder.Code)
	}
}

func TestRequireRole(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "loyaltyd", time.Minute)
	terminalToken, _ := v.IssueToken("pos-001", RoleTerminal, time.Hour)
	adminToken, _ := v.IssueToken("ops", RoleAdmin, time.Hour)

	handler := v.Authenticate(RequireRole(RoleAdmin)(okHandler()))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+terminalToken)
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("terminal on admin route: expected 403 got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin on admin route: expected 200 got %d", recorder.Code)
	}
}

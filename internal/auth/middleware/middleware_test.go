package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJWTMiddlewareStashesIdentity(t *testing.T) {
	svc := NewAuthService("test-secret")
	tok, err := svc.IssueJWT("u1", "student")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got Identity
	h := JWTMiddleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = Identity{
			Subject: SubjectFromContext(r.Context()),
			Role:    RoleFromContext(r.Context()),
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.Subject != "u1" || got.Role != "student" {
		t.Fatalf("identity = %+v", got)
	}
}

func TestJWTMiddlewareRejectsBadTokens(t *testing.T) {
	svc := NewAuthService("test-secret")
	h := JWTMiddleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Bearer not-a-token"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestIdentityAbsentFromBareContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if s := SubjectFromContext(req.Context()); s != "" {
		t.Fatalf("subject = %q, want empty", s)
	}
	if r := RoleFromContext(req.Context()); r != "" {
		t.Fatalf("role = %q, want empty", r)
	}
}

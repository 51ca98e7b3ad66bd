package jwtsigner

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	s, err := NewFromBase64("", "kid-1", "ids-hub")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tok, err := s.Sign("ops", ScopeAdmin, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := s.Verify(tok, ScopeAdmin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "ops" {
		t.Fatalf("expected subject ops, got %q", sub)
	}
}

func TestVerifyRejects(t *testing.T) {
	s, _ := NewFromBase64("", "kid-1", "ids-hub")
	other, _ := NewFromBase64("", "kid-2", "ids-hub")

	expired, _ := s.Sign("ops", ScopeAdmin, -time.Minute)
	wrongScope, _ := s.Sign("ops", "read", time.Minute)
	foreign, _ := other.Sign("ops", ScopeAdmin, time.Minute)

	for name, tok := range map[string]string{
		"expired":     expired,
		"wrong scope": wrongScope,
		"foreign key": foreign,
		"garbage":     "a.b.c",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Verify(tok, ScopeAdmin); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a, err := NewFromBase64(priv, "k", "iss")
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	b, _ := NewFromBase64(priv, "k", "iss")
	tok, _ := a.Sign("ops", ScopeAdmin, time.Minute)
	if _, err := b.Verify(tok, ScopeAdmin); err != nil {
		t.Fatalf("expected token from same key to verify: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	s, _ := NewFromBase64("", "kid-1", "ids-hub")
	h := s.Middleware(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, _ := SubjectFrom(r.Context())
		_, _ = w.Write([]byte(sub))
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/devices", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	tok, _ := s.Sign("ops", ScopeAdmin, time.Minute)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "ops" {
		t.Fatalf("expected 200 ops, got %d %q", rr.Code, rr.Body.String())
	}
}

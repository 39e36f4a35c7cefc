package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func guardedEcho(key string) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return NewWorkerKeyGuard(key).Middleware(next)
}

func TestWorkerKeyGuard_ValidKeyPasses(t *testing.T) {
	h := guardedEcho("secret-key")

	req := httptest.NewRequest(http.MethodGet, "/api/n8n/posts", nil)
	req.Header.Set("x-n8n-api-key", "secret-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("expected next handler to run, got %q", rr.Body.String())
	}
}

func TestWorkerKeyGuard_MissingOrWrongKey(t *testing.T) {
	h := guardedEcho("secret-key")

	cases := map[string]string{
		"missing":    "",
		"wrong":      "not-the-key",
		"whitespace": "   ",
	}
	for name, key := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/n8n/posts", nil)
		if key != "" {
			req.Header.Set("x-n8n-api-key", key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", name, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Unauthorized") {
			t.Fatalf("%s: expected error body, got %q", name, rr.Body.String())
		}
	}
}

func TestWorkerKeyGuard_EmptyConfiguredKeyLocksRoute(t *testing.T) {
	h := guardedEcho("")

	req := httptest.NewRequest(http.MethodGet, "/api/n8n/posts", nil)
	req.Header.Set("x-n8n-api-key", "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

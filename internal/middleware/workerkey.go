package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// WorkerKeyGuard protects the automation endpoints with a shared-secret
// header. The external worker sends its key as x-n8n-api-key.
type WorkerKeyGuard struct {
	Header string
	Key    string
}

// NewWorkerKeyGuard builds a guard for the given key. An empty key locks the
// guarded routes entirely; the server validates the key at startup so that
// only happens in misconfigured test setups.
func NewWorkerKeyGuard(key string) *WorkerKeyGuard {
	return &WorkerKeyGuard{Header: "x-n8n-api-key", Key: key}
}

// Middleware returns an HTTP middleware enforcing the worker key.
func (g *WorkerKeyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get(g.Header))
		if g.Key == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(g.Key)) != 1 {
			g.respondUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *WorkerKeyGuard) respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	log.Printf("[WorkerKey] unauthorized %s %s remote=%s", r.Method, r.URL.Path, r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}

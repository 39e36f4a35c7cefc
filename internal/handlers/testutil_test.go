package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"

	"github.com/linkpost-app/linkpost/backend/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	env := map[string]string{
		"DATABASE_URL":           "postgres://example",
		"LINKEDIN_CLIENT_ID":     "li-client",
		"LINKEDIN_CLIENT_SECRET": "li-secret",
		"N8N_API_KEY":            "worker-key",
		"APP_BASE_URL":           "https://app.example.com",
	}
	cfg, err := config.Load(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func newTestHandler(t *testing.T, db *sql.DB) *Handler {
	t.Helper()
	return New(db, testConfig(t))
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func buildTestRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	RegisterRoutes(h, r)
	return r
}

var userRowColumns = []string{
	"id", "email", "phone_number", "first_name", "last_name", "profile_picture",
	"email_verified", "phone_verified", "plan", "subscription_status",
	"posts_used", "posts_limit", "stripe_customer_id", "stripe_subscription_id",
	"connected_accounts", "timezone", "language", "is_active",
	"created_at", "updated_at", "last_login_at", "last_active_at",
}

var errTestUpstream = errors.New("linkedin publish returned 422: upstream says no")

// fakePublisher satisfies linkedInPublisher and counts provider calls.
type fakePublisher struct {
	calls  int
	postID string
	err    error
}

func (f *fakePublisher) PublishPost(ctx context.Context, accessToken, profileID, text string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.postID == "" {
		return "urn:li:share:test", nil
	}
	return f.postID, nil
}

func doRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

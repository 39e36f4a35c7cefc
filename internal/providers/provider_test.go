package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestAuthorizationURL_CarriesStateAndRedirect(t *testing.T) {
	p := NewLinkedIn("client-1", "secret-1", "")

	got, err := p.AuthorizationURL("state-abc", "https://app.example.com/api/auth/linkedin/callback")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-abc" {
		t.Fatalf("expected state=state-abc got %q", q.Get("state"))
	}
	if q.Get("client_id") != "client-1" {
		t.Fatalf("expected client_id=client-1 got %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://app.example.com/api/auth/linkedin/callback" {
		t.Fatalf("unexpected redirect_uri %q", q.Get("redirect_uri"))
	}
	if !strings.Contains(q.Get("scope"), "w_member_social") {
		t.Fatalf("expected w_member_social scope, got %q", q.Get("scope"))
	}
}

func TestAuthorizationURL_MissingClientID(t *testing.T) {
	p := NewLinkedIn("", "", "")
	if _, err := p.AuthorizationURL("s", "https://x/cb"); err == nil {
		t.Fatalf("expected error for missing client id")
	}
}

func TestAuthorizationURL_MissingRedirect(t *testing.T) {
	p := NewLinkedIn("client-1", "secret-1", "")
	if _, err := p.AuthorizationURL("s", ""); err == nil {
		t.Fatalf("expected error when no redirect URI is available")
	}
}

func TestExchange_PostsCodeOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("code"); got != "auth-code-1" {
			t.Fatalf("expected code=auth-code-1 got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   5184000,
			"scope":        "openid profile email",
		})
	}))
	defer srv.Close()

	p := &Provider{
		Name: "linkedin",
		Config: &oauth2.Config{
			ClientID:     "c",
			ClientSecret: "s",
			Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		},
	}

	tok, err := p.Exchange(context.Background(), "auth-code-1", "https://x/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tok.AccessToken != "tok-123" {
		t.Fatalf("expected tok-123 got %q", tok.AccessToken)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one token request, got %d", calls)
	}
}

func TestExchange_ProviderErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	p := &Provider{
		Name: "linkedin",
		Config: &oauth2.Config{
			ClientID: "c", ClientSecret: "s",
			Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		},
	}

	_, err := p.Exchange(context.Background(), "stale-code", "https://x/cb")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("expected provider error in message, got %v", err)
	}
}

func TestFetchProfile_LinkedInOIDCShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"abc123","name":"Jamie Rivera","email":"jamie@example.com","picture":"https://img"}`))
	}))
	defer srv.Close()

	p := &Provider{Name: "linkedin", Config: &oauth2.Config{}, UserinfoURL: srv.URL}

	prof, err := p.FetchProfile(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if prof.ID != "abc123" || prof.Email != "jamie@example.com" {
		t.Fatalf("unexpected profile %#v", prof)
	}
}

func TestFetchProfile_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"serviceErrorCode":65601,"message":"token revoked"}`))
	}))
	defer srv.Close()

	p := &Provider{Name: "linkedin", Config: &oauth2.Config{}, UserinfoURL: srv.URL}

	_, err := p.FetchProfile(context.Background(), "bad")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "token revoked") {
		t.Fatalf("expected upstream body in error, got %v", err)
	}
}

func TestPublishPost_ReadsRestliIDHeader(t *testing.T) {
	var gotBody ugcPostRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/ugcPosts" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Restli-Protocol-Version"); got != "2.0.0" {
			t.Fatalf("expected restli protocol header, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("x-restli-id", "urn:li:share:777")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewLinkedInClient()
	c.BaseURL = srv.URL

	id, err := c.PublishPost(context.Background(), "tok", "person-1", "hello world")
	if err != nil {
		t.Fatalf("PublishPost: %v", err)
	}
	if id != "urn:li:share:777" {
		t.Fatalf("expected restli id, got %q", id)
	}
	if gotBody.Author != "urn:li:person:person-1" {
		t.Fatalf("expected author urn, got %q", gotBody.Author)
	}
	if gotBody.SpecificContent["com.linkedin.ugc.ShareContent"].ShareCommentary.Text != "hello world" {
		t.Fatalf("unexpected commentary %#v", gotBody.SpecificContent)
	}
}

func TestPublishPost_UpstreamErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"duplicate post"}`))
	}))
	defer srv.Close()

	c := NewLinkedInClient()
	c.BaseURL = srv.URL

	_, err := c.PublishPost(context.Background(), "tok", "person-1", "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "duplicate post") {
		t.Fatalf("expected upstream body, got %v", err)
	}
}

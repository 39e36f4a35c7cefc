package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestOAuthStart_ReturnsURLAndStateCookie(t *testing.T) {
	h := newTestHandler(t, nil)
	r := buildTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/linkedin?action=start", nil)
	rr := doRequest(r, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}

	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	authURL, err := url.Parse(out["url"])
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := authURL.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state in auth url, got %q", out["url"])
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "lp_li_state" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected lp_li_state cookie, got %v", rr.Result().Cookies())
	}
	if cookie.Value != state {
		t.Fatalf("cookie state %q does not match url state %q", cookie.Value, state)
	}
	if !cookie.HttpOnly {
		t.Fatalf("state cookie must be httpOnly")
	}
	if cookie.MaxAge != 600 {
		t.Fatalf("expected 10 minute cookie TTL, got %d", cookie.MaxAge)
	}
}

func TestOAuthStart_UnknownAction(t *testing.T) {
	h := newTestHandler(t, nil)
	r := buildTestRouter(h)

	rr := doRequest(r, httptest.NewRequest(http.MethodGet, "/api/auth/linkedin?action=refresh", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestOAuthStart_UnconfiguredProvider(t *testing.T) {
	// google is not configured in the test config
	h := newTestHandler(t, nil)
	r := buildTestRouter(h)

	rr := doRequest(r, httptest.NewRequest(http.MethodGet, "/api/auth/google?action=start", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

// pointProviderAt rewires the handler's LinkedIn provider at a local stub.
func pointProviderAt(h *Handler, tokenURL, userinfoURL string) {
	h.linkedin.Config.Endpoint = oauth2.Endpoint{
		AuthURL:   tokenURL + "/authorize",
		TokenURL:  tokenURL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	h.linkedin.UserinfoURL = userinfoURL
}

func callbackRequest(path, cookieState string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: "lp_li_state", Value: cookieState})
	}
	return req
}

func TestOAuthCallback_StateMatchExchanges(t *testing.T) {
	exchanges := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			exchanges++
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok-xyz","expires_in":5184000,"scope":"openid profile email w_member_social"}`))
		case "/userinfo":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"sub":"person-1","name":"Jamie","email":"jamie@example.com"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	h := newTestHandler(t, nil)
	pointProviderAt(h, upstream.URL, upstream.URL+"/userinfo")
	r := buildTestRouter(h)

	req := callbackRequest("/api/auth/linkedin/callback?code=abc&state=st-1", "st-1")
	rr := doRequest(r, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if exchanges != 1 {
		t.Fatalf("expected exactly one exchange, got %d", exchanges)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `"success":true`) {
		t.Fatalf("expected success payload, got %q", body)
	}
	if !strings.Contains(body, `"accessToken":"tok-xyz"`) {
		t.Fatalf("expected access token in payload, got %q", body)
	}
	if !strings.Contains(body, "window.opener.postMessage") {
		t.Fatalf("expected opener postMessage script, got %q", body)
	}
	if !strings.Contains(body, `<div id="result">`) {
		t.Fatalf("expected result div fallback, got %q", body)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected html content type, got %q", ct)
	}
}

func TestOAuthCallback_StateMismatchNoExchange(t *testing.T) {
	exchanges := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"never"}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, nil)
	pointProviderAt(h, upstream.URL, upstream.URL+"/userinfo")
	r := buildTestRouter(h)

	req := callbackRequest("/api/auth/linkedin/callback?code=abc&state=attacker", "st-1")
	rr := doRequest(r, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"invalid_state"`) {
		t.Fatalf("expected invalid_state payload, got %q", rr.Body.String())
	}
	if exchanges != 0 {
		t.Fatalf("expected zero exchange calls on state mismatch, got %d", exchanges)
	}
}

func TestOAuthCallback_MissingCookieNoExchange(t *testing.T) {
	h := newTestHandler(t, nil)
	r := buildTestRouter(h)

	req := callbackRequest("/api/auth/linkedin/callback?code=abc&state=st-1", "")
	rr := doRequest(r, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"invalid_state"`) {
		t.Fatalf("expected invalid_state payload, got %q", rr.Body.String())
	}
}

func TestOAuthCallback_ProviderError(t *testing.T) {
	h := newTestHandler(t, nil)
	r := buildTestRouter(h)

	req := callbackRequest("/api/auth/linkedin/callback?error=access_denied&error_description=member+declined", "st-1")
	rr := doRequest(r, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"error":"access_denied"`) {
		t.Fatalf("expected access_denied payload, got %q", body)
	}
	if !strings.Contains(body, "member declined") {
		t.Fatalf("expected description in payload, got %q", body)
	}
}

func TestOAuthCallback_MissingParams(t *testing.T) {
	h := newTestHandler(t, nil)
	r := buildTestRouter(h)

	rr := doRequest(r, callbackRequest("/api/auth/linkedin/callback", "st-1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"missing_params"`) {
		t.Fatalf("expected missing_params payload, got %q", rr.Body.String())
	}
}

func TestOAuthCallback_ExchangeFailureIs500(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"server_error"}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, nil)
	pointProviderAt(h, upstream.URL, upstream.URL+"/userinfo")
	r := buildTestRouter(h)

	req := callbackRequest("/api/auth/linkedin/callback?code=abc&state=st-1", "st-1")
	rr := doRequest(r, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"oauth_failed"`) {
		t.Fatalf("expected oauth_failed payload, got %q", rr.Body.String())
	}
}

func TestRenderCallbackPage_EscapesScriptBreakout(t *testing.T) {
	rr := httptest.NewRecorder()
	renderCallbackPage(rr, http.StatusBadRequest, map[string]any{
		"error":       "access_denied",
		"description": "</script><script>alert(1)</script>",
	})

	if strings.Contains(rr.Body.String(), "</script><script>alert(1)") {
		t.Fatalf("payload must not break out of the script tag: %q", rr.Body.String())
	}
}

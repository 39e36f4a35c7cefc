package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/linkpost-app/linkpost/backend/internal/providers"
)

// State cookie TTL. The nonce only needs to survive the popup round trip.
const oauthStateTTL = 10 * time.Minute

func stateCookieName(provider string) string {
	if provider == "google" {
		return "lp_g_state"
	}
	return "lp_li_state"
}

func (h *Handler) providerFor(name string) *providers.Provider {
	switch name {
	case "linkedin":
		return h.linkedin
	case "google":
		return h.google
	}
	return nil
}

func (h *Handler) redirectURIFor(r *http.Request, name string) string {
	if h.cfg != nil {
		if name == "linkedin" && h.cfg.LinkedInRedirectURI != "" {
			return h.cfg.LinkedInRedirectURI
		}
		if name == "google" && h.cfg.GoogleRedirectURI != "" {
			return h.cfg.GoogleRedirectURI
		}
		if h.cfg.AppBaseURL != "" {
			return h.cfg.AppBaseURL + "/api/auth/" + name + "/callback"
		}
	}
	return publicOrigin(r) + "/api/auth/" + name + "/callback"
}

// OAuthStart handles GET /api/auth/{provider}?action=start. It mints a state
// nonce, stores it in an httpOnly cookie, and returns the authorization URL
// for the frontend to open in a popup.
func (h *Handler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	name := pathVar(r, "provider")
	if r.URL.Query().Get("action") != "start" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
		return
	}

	p := h.providerFor(name)
	if p == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider"})
		return
	}

	state := randHex(16)
	authURL, err := p.AuthorizationURL(state, h.redirectURIFor(r, name))
	if err != nil {
		log.Printf("[OAuth] start %s error: %v", name, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "oauth_failed"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName(name),
		Value:    state,
		Path:     "/",
		MaxAge:   int(oauthStateTTL / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})

	log.Printf("[OAuth] start provider=%s state=%s", name, truncate(state, 8))
	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

// OAuthCallback handles GET /api/auth/{provider}/callback. Every outcome is an
// HTML page that posts a JSON payload to window.opener and closes itself, so
// the popup flow gets a structured message whether the grant succeeded or not.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := pathVar(r, "provider")
	p := h.providerFor(name)
	if p == nil {
		renderCallbackPage(w, http.StatusBadRequest, map[string]any{"error": "unknown provider"})
		return
	}

	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		log.Printf("[OAuth] callback %s provider error=%s", name, errCode)
		h.clearStateCookie(w, name)
		renderCallbackPage(w, http.StatusBadRequest, map[string]any{
			"error":       errCode,
			"description": q.Get("error_description"),
		})
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		renderCallbackPage(w, http.StatusBadRequest, map[string]any{"error": "missing_params"})
		return
	}

	cookie, err := r.Cookie(stateCookieName(name))
	if err != nil || !secureCompare(cookie.Value, state) {
		log.Printf("[OAuth] callback %s state mismatch", name)
		renderCallbackPage(w, http.StatusBadRequest, map[string]any{"error": "invalid_state"})
		return
	}
	h.clearStateCookie(w, name)

	token, err := p.Exchange(r.Context(), code, h.redirectURIFor(r, name))
	if err != nil {
		log.Printf("[OAuth] callback %s exchange error: %v", name, err)
		renderCallbackPage(w, http.StatusInternalServerError, map[string]any{
			"error":   "oauth_failed",
			"message": err.Error(),
		})
		return
	}

	profile, err := p.FetchProfile(r.Context(), token.AccessToken)
	if err != nil {
		log.Printf("[OAuth] callback %s userinfo error: %v", name, err)
		renderCallbackPage(w, http.StatusInternalServerError, map[string]any{
			"error":   "oauth_failed",
			"message": err.Error(),
		})
		return
	}

	payload := map[string]any{
		"success":     true,
		"provider":    name,
		"accessToken": token.AccessToken,
		"profile":     profile,
		"email":       profile.Email,
	}
	if token.RefreshToken != "" {
		payload["refreshToken"] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		payload["expiresIn"] = int64(time.Until(token.Expiry) / time.Second)
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		payload["scope"] = scope
	}

	log.Printf("[OAuth] callback %s success profile=%s", name, truncate(profile.ID, 12))
	renderCallbackPage(w, http.StatusOK, payload)
}

func (h *Handler) clearStateCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName(name),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// renderCallbackPage writes the popup result page. The payload is embedded
// twice: once for window.opener.postMessage and once in a visible <div> as a
// fallback when no opener is present. encoding/json escapes <, > and & so the
// marshaled payload is safe inside both the script and the div.
func renderCallbackPage(w http.ResponseWriter, status int, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
<div id="result">%s</div>
<script>
  (function () {
    var payload = %s;
    if (window.opener) {
      window.opener.postMessage(payload, "*");
    }
    window.close();
  })();
</script>
</body>
</html>
`, data, data)
}

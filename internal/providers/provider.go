package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Profile is the subset of an OAuth userinfo response we persist.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
}

// Provider wraps an oauth2.Config plus the provider's userinfo endpoint.
// One instance per configured provider, shared across requests.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserinfoURL string

	// AuthCodeOptions are appended to every authorization URL (e.g. Google's
	// access_type=offline to obtain a refresh token).
	AuthCodeOptions []oauth2.AuthCodeOption

	HTTPClient *http.Client
}

func (p *Provider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// AuthorizationURL returns the provider authorization URL for the given state.
// redirectURI overrides the configured redirect when non-empty (the callback
// URL is derived from the request origin when no fixed one is configured).
func (p *Provider) AuthorizationURL(state, redirectURI string) (string, error) {
	if p.Config.ClientID == "" {
		return "", fmt.Errorf("%s client id is not configured", p.Name)
	}
	cfg := p.configFor(redirectURI)
	if cfg.RedirectURL == "" {
		return "", fmt.Errorf("%s redirect URI could not be determined", p.Name)
	}
	return cfg.AuthCodeURL(state, p.AuthCodeOptions...), nil
}

// Exchange swaps an authorization code for a token. Single attempt, never
// retried: authorization codes are one-time use.
func (p *Provider) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	cfg := p.configFor(redirectURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient())
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s token exchange failed: %w", p.Name, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%s token exchange returned an empty access token", p.Name)
	}
	return tok, nil
}

// FetchProfile GETs the provider userinfo endpoint with a bearer token.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s userinfo request failed: %w", p.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s userinfo read failed: %w", p.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s userinfo returned %d: %s", p.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// LinkedIn's OIDC userinfo uses "sub" for the member id; Google's legacy
	// userinfo uses "id". Accept either.
	var raw struct {
		Sub     string `json:"sub"`
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%s userinfo decode failed: %w", p.Name, err)
	}
	prof := &Profile{ID: raw.Sub, Name: raw.Name, Email: raw.Email, Picture: raw.Picture}
	if prof.ID == "" {
		prof.ID = raw.ID
	}
	if prof.ID == "" {
		return nil, fmt.Errorf("%s userinfo response had no subject id", p.Name)
	}
	return prof, nil
}

func (p *Provider) configFor(redirectURI string) *oauth2.Config {
	cfg := *p.Config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return &cfg
}

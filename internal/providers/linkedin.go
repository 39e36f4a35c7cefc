package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"
	"golang.org/x/time/rate"
)

const linkedinUserinfoURL = "https://api.linkedin.com/v2/userinfo"

// NewLinkedIn builds the LinkedIn OAuth provider (OIDC scopes plus w_member_social
// for posting on the member's behalf).
func NewLinkedIn(clientID, clientSecret, redirectURI string) *Provider {
	return &Provider{
		Name: "linkedin",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     linkedin.Endpoint,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid", "profile", "email", "w_member_social"},
		},
		UserinfoURL: linkedinUserinfoURL,
	}
}

// LinkedInClient posts UGC shares to the LinkedIn REST API. Outbound calls go
// through a rate limiter so a burst of due posts cannot trip LinkedIn's quota.
type LinkedInClient struct {
	HTTP    *http.Client
	Limiter *rate.Limiter
	BaseURL string
}

// NewLinkedInClient applies env-overridable rate limits (LINKEDIN_API_RPS,
// LINKEDIN_API_BURST) over conservative defaults.
func NewLinkedInClient() *LinkedInClient {
	rps := 2.0
	burst := 4
	if v := os.Getenv("LINKEDIN_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("LINKEDIN_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return &LinkedInClient{
		HTTP:    &http.Client{Timeout: 20 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), burst),
		BaseURL: "https://api.linkedin.com",
	}
}

type ugcShareCommentary struct {
	Text string `json:"text"`
}

type ugcShareContent struct {
	ShareCommentary    ugcShareCommentary `json:"shareCommentary"`
	ShareMediaCategory string             `json:"shareMediaCategory"`
}

type ugcPostRequest struct {
	Author          string                     `json:"author"`
	LifecycleState  string                     `json:"lifecycleState"`
	SpecificContent map[string]ugcShareContent `json:"specificContent"`
	Visibility      map[string]string          `json:"visibility"`
}

// PublishPost creates a public text share as urn:li:person:<profileID> and
// returns the new post id (x-restli-id header, falling back to the body).
func (c *LinkedInClient) PublishPost(ctx context.Context, accessToken, profileID, text string) (string, error) {
	if accessToken == "" {
		return "", fmt.Errorf("linkedin access token is required")
	}
	if profileID == "" {
		return "", fmt.Errorf("linkedin profile id is required")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	payload := ugcPostRequest{
		Author:         "urn:li:person:" + profileID,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]ugcShareContent{
			"com.linkedin.ugc.ShareContent": {
				ShareCommentary:    ugcShareCommentary{Text: text},
				ShareMediaCategory: "NONE",
			},
		},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("linkedin publish request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("linkedin publish returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if id := strings.TrimSpace(resp.Header.Get("x-restli-id")); id != "" {
		return id, nil
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err == nil && out.ID != "" {
		return out.ID, nil
	}
	return "", fmt.Errorf("linkedin publish succeeded but no post id was returned")
}

package config

import (
	"fmt"
	"strings"
)

// Config holds everything the server reads from the environment. Required
// values are validated once at startup so a misconfigured deploy fails fast
// instead of 500ing on the first OAuth callback.
type Config struct {
	DatabaseURL string
	Port        string
	AppEnv      string
	AppBaseURL  string

	LinkedInClientID     string
	LinkedInClientSecret string
	LinkedInRedirectURI  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	N8NAPIKey string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePremiumPrice  string
}

// Load builds a Config from the provided getenv func (injectable for tests).
func Load(getenv func(string) string) (*Config, error) {
	c := &Config{
		DatabaseURL: strings.TrimSpace(getenv("DATABASE_URL")),
		Port:        strings.TrimSpace(getenv("PORT")),
		AppEnv:      strings.TrimSpace(getenv("APP_ENV")),
		AppBaseURL:  strings.TrimSpace(getenv("APP_BASE_URL")),

		LinkedInClientID:     strings.TrimSpace(getenv("LINKEDIN_CLIENT_ID")),
		LinkedInClientSecret: strings.TrimSpace(getenv("LINKEDIN_CLIENT_SECRET")),
		LinkedInRedirectURI:  strings.TrimSpace(getenv("LINKEDIN_REDIRECT_URI")),

		GoogleClientID:     strings.TrimSpace(getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: strings.TrimSpace(getenv("GOOGLE_CLIENT_SECRET")),
		GoogleRedirectURI:  strings.TrimSpace(getenv("GOOGLE_REDIRECT_URI")),

		N8NAPIKey: strings.TrimSpace(getenv("N8N_API_KEY")),

		StripeSecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET")),
		StripePremiumPrice:  strings.TrimSpace(getenv("STRIPE_PREMIUM_PRICE_ID")),
	}
	if c.Port == "" {
		c.Port = "18911"
	}

	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.LinkedInClientID == "" {
		missing = append(missing, "LINKEDIN_CLIENT_ID")
	}
	if c.LinkedInClientSecret == "" {
		missing = append(missing, "LINKEDIN_CLIENT_SECRET")
	}
	if c.N8NAPIKey == "" {
		missing = append(missing, "N8N_API_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return c, nil
}

// IsProduction reports whether error details should be suppressed from responses.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GoogleEnabled reports whether google linking is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// StripeEnabled reports whether billing endpoints can talk to Stripe.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

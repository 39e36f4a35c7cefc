package providers

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// NewGoogle builds the Google OAuth provider. access_type=offline is requested
// so a refresh token comes back on first consent.
func NewGoogle(clientID, clientSecret, redirectURI string) *Provider {
	return &Provider{
		AuthCodeOptions: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline},
		Name: "google",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURI,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
		UserinfoURL: googleUserinfoURL,
	}
}

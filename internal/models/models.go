package models

import "time"

// ConnectedAccount is the per-provider connection record stored as JSONB on
// the users row, keyed by provider name ("linkedin", "google").
type ConnectedAccount struct {
	Connected    bool       `json:"connected"`
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken *string    `json:"refreshToken,omitempty"`
	ProfileID    *string    `json:"profileId,omitempty"`
	Email        *string    `json:"email,omitempty"`
	Scope        *string    `json:"scope,omitempty"`
	ExpiresIn    *int64     `json:"expiresIn,omitempty"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty"`
}

type User struct {
	ID             string  `json:"id"`
	Email          string  `json:"email"`
	PhoneNumber    *string `json:"phoneNumber,omitempty"`
	FirstName      *string `json:"firstName,omitempty"`
	LastName       *string `json:"lastName,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`

	EmailVerified bool `json:"emailVerified"`
	PhoneVerified bool `json:"phoneVerified"`

	Plan               string  `json:"plan"`
	SubscriptionStatus string  `json:"subscriptionStatus"`
	PostsUsed          int     `json:"postsUsed"`
	PostsLimit         int     `json:"postsLimit"` // -1 means unlimited
	StripeCustomerID   *string `json:"stripeCustomerId,omitempty"`
	StripeSubID        *string `json:"stripeSubscriptionId,omitempty"`

	ConnectedAccounts map[string]ConnectedAccount `json:"connectedAccounts"`

	Timezone *string `json:"timezone,omitempty"`
	Language *string `json:"language,omitempty"`

	IsActive     bool       `json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
}

type Post struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Content        string     `json:"content"`
	Platform       string     `json:"platform"`
	Type           string     `json:"type"`   // immediate | scheduled
	Status         string     `json:"status"` // scheduled | published | failed
	ScheduleDate   *time.Time `json:"scheduleDate,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	LinkedInPostID *string    `json:"linkedinPostId,omitempty"`
	PublishError   *string    `json:"publishError,omitempty"`
	N8NProcessed   bool       `json:"n8nProcessed"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Package linking drives the OAuth popup flow end to end: fetch the
// authorization URL, open the popup, wait for the callback page to post its
// result message, persist the connection, and verify the write landed.
package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkpost-app/linkpost/backend/internal/models"
	"github.com/linkpost-app/linkpost/backend/internal/providers"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingAuthorization
	StateAwaitingCallback
	StatePersisting
	StateSucceeded
	StateFailed
	StateCancelled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAuthorization:
		return "awaiting_authorization"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StatePersisting:
		return "persisting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Envelope is the message shape the callback page posts to window.opener.
// Anything else arriving on the message channel (devtools chatter, other
// widgets) is ignored.
type Envelope struct {
	Success      bool               `json:"success"`
	Provider     string             `json:"provider"`
	Error        string             `json:"error"`
	Description  string             `json:"description"`
	Message      string             `json:"message"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresIn    int64              `json:"expiresIn"`
	Scope        string             `json:"scope"`
	Email        string             `json:"email"`
	Profile      *providers.Profile `json:"profile"`
}

// DecodeEnvelope parses a raw message and reports whether it is OAuth-shaped
// (a success payload or an error payload). Non-OAuth messages return ok=false.
func DecodeEnvelope(raw []byte) (*Envelope, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false
	}
	_, hasSuccess := probe["success"]
	_, hasError := probe["error"]
	if !hasSuccess && !hasError {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if !env.Success && env.Error == "" {
		return nil, false
	}
	return &env, true
}

// Popup is the window opened for the authorization grant.
type Popup interface {
	Closed() bool
	Close()
}

// Opener opens the popup. Returning an error (or a nil popup) means the
// browser blocked it.
type Opener interface {
	Open(url string) (Popup, error)
}

// AccountStore persists connections and reads accounts back. The production
// implementation is the HTTP adapter in store.go.
type AccountStore interface {
	SaveConnection(ctx context.Context, userID, provider string, account models.ConnectedAccount) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// Result is the terminal outcome of one linking attempt.
type Result struct {
	State   State
	Err     error
	Account *models.ConnectedAccount
}

const (
	defaultTimeout      = 90 * time.Second
	defaultCloseGrace   = 1500 * time.Millisecond
	defaultPollInterval = 700 * time.Millisecond
)

// Coordinator runs one linking attempt. A Coordinator is single-use: Run a
// second time returns an error.
type Coordinator struct {
	Provider string
	UserID   string

	// StartAuth fetches the provider authorization URL (the ?action=start
	// endpoint, which also plants the state cookie).
	StartAuth func(ctx context.Context) (string, error)

	Opener   Opener
	Store    AccountStore
	Messages <-chan []byte

	// All three have sane defaults; tests shrink them.
	Timeout      time.Duration
	CloseGrace   time.Duration
	PollInterval time.Duration

	state State
	ran   bool
}

func (c *Coordinator) State() State { return c.state }

func (c *Coordinator) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c *Coordinator) closeGrace() time.Duration {
	if c.CloseGrace > 0 {
		return c.CloseGrace
	}
	return defaultCloseGrace
}

func (c *Coordinator) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// Run drives the attempt to a terminal state. The returned Result always has
// a terminal State; the error return mirrors Result.Err for convenience.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	if c.ran {
		return nil, fmt.Errorf("linking attempt already ran (state %s)", c.state)
	}
	c.ran = true

	c.state = StateAwaitingAuthorization
	authURL, err := c.StartAuth(ctx)
	if err != nil {
		return c.fail(StateFailed, fmt.Errorf("authorization start failed: %w", err))
	}

	popup, err := c.Opener.Open(authURL)
	if err != nil || popup == nil {
		if err == nil {
			err = fmt.Errorf("no window returned")
		}
		return c.fail(StateFailed, fmt.Errorf("popup blocked: %w", err))
	}
	defer popup.Close()

	c.state = StateAwaitingCallback

	deadline := time.NewTimer(c.timeout())
	defer deadline.Stop()
	poll := time.NewTicker(c.pollInterval())
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.fail(StateFailed, ctx.Err())

		case <-deadline.C:
			return c.fail(StateTimedOut, fmt.Errorf("timeout waiting for authorization"))

		case raw, open := <-c.Messages:
			if !open {
				return c.fail(StateCancelled, fmt.Errorf("cancelled"))
			}
			env, ok := DecodeEnvelope(raw)
			if !ok {
				continue
			}
			return c.finish(ctx, env)

		case <-poll.C:
			if !popup.Closed() {
				continue
			}
			// The callback message can still be in flight after the popup
			// closes itself; give it a grace period before calling the
			// attempt cancelled.
			if env, ok := c.waitGrace(ctx); ok {
				return c.finish(ctx, env)
			}
			return c.fail(StateCancelled, fmt.Errorf("cancelled"))
		}
	}
}

// waitGrace drains the message channel for the close-grace window, returning
// the first OAuth-shaped envelope if one shows up.
func (c *Coordinator) waitGrace(ctx context.Context) (*Envelope, bool) {
	grace := time.NewTimer(c.closeGrace())
	defer grace.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-grace.C:
			return nil, false
		case raw, open := <-c.Messages:
			if !open {
				return nil, false
			}
			if env, ok := DecodeEnvelope(raw); ok {
				return env, true
			}
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, env *Envelope) (*Result, error) {
	if !env.Success {
		msg := env.Error
		if env.Description != "" {
			msg += ": " + env.Description
		} else if env.Message != "" {
			msg += ": " + env.Message
		}
		return c.fail(StateFailed, fmt.Errorf("authorization failed: %s", msg))
	}

	c.state = StatePersisting
	account := models.ConnectedAccount{
		Connected:   true,
		AccessToken: env.AccessToken,
	}
	if env.RefreshToken != "" {
		rt := env.RefreshToken
		account.RefreshToken = &rt
	}
	if env.Scope != "" {
		sc := env.Scope
		account.Scope = &sc
	}
	if env.ExpiresIn > 0 {
		ei := env.ExpiresIn
		account.ExpiresIn = &ei
	}
	if env.Profile != nil && env.Profile.ID != "" {
		pid := env.Profile.ID
		account.ProfileID = &pid
	}
	if env.Email != "" {
		em := env.Email
		account.Email = &em
	} else if env.Profile != nil && env.Profile.Email != "" {
		em := env.Profile.Email
		account.Email = &em
	}
	now := time.Now().UTC()
	account.ConnectedAt = &now

	if err := c.Store.SaveConnection(ctx, c.UserID, c.Provider, account); err != nil {
		return c.fail(StateFailed, fmt.Errorf("failed to persist connection: %w", err))
	}

	// Read-after-write: only report success once the connection is visible.
	user, err := c.Store.GetUser(ctx, c.UserID)
	if err != nil {
		return c.fail(StateFailed, fmt.Errorf("failed to persist connection: %w", err))
	}
	persisted, ok := user.ConnectedAccounts[c.Provider]
	if !ok || !persisted.Connected || persisted.AccessToken != account.AccessToken {
		return c.fail(StateFailed, fmt.Errorf("failed to persist connection: verification read did not match"))
	}

	c.state = StateSucceeded
	return &Result{State: StateSucceeded, Account: &persisted}, nil
}

func (c *Coordinator) fail(state State, err error) (*Result, error) {
	c.state = state
	return &Result{State: state, Err: err}, err
}

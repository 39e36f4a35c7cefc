package handlers

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/linkpost-app/linkpost/backend/internal/config"
	"github.com/linkpost-app/linkpost/backend/internal/models"
	"github.com/linkpost-app/linkpost/backend/internal/providers"
)

// linkedInPublisher is what the post endpoints need from the LinkedIn API
// client. Narrowed to an interface so tests can count publish calls.
type linkedInPublisher interface {
	PublishPost(ctx context.Context, accessToken, profileID, text string) (string, error)
}

type Handler struct {
	db  *sql.DB
	cfg *config.Config
	rt  *realtimeHub

	linkedin  *providers.Provider
	google    *providers.Provider
	publisher linkedInPublisher
}

func New(db *sql.DB, cfg *config.Config) *Handler {
	h := &Handler{db: db, cfg: cfg, rt: newRealtimeHub()}
	if cfg != nil {
		h.linkedin = providers.NewLinkedIn(cfg.LinkedInClientID, cfg.LinkedInClientSecret, cfg.LinkedInRedirectURI)
		if cfg.GoogleEnabled() {
			h.google = providers.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
		}
	}
	h.publisher = providers.NewLinkedInClient()
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

const userColumns = `id, email, phone_number, first_name, last_name, profile_picture,
		email_verified, phone_verified, plan, subscription_status,
		posts_used, posts_limit, stripe_customer_id, stripe_subscription_id,
		connected_accounts, timezone, language, is_active,
		created_at, updated_at, last_login_at, last_active_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var phone, firstName, lastName, picture, stripeCustomer, stripeSub, tz, lang sql.NullString
	var lastLogin, lastActive sql.NullTime
	var accounts []byte

	err := row.Scan(
		&u.ID, &u.Email, &phone, &firstName, &lastName, &picture,
		&u.EmailVerified, &u.PhoneVerified, &u.Plan, &u.SubscriptionStatus,
		&u.PostsUsed, &u.PostsLimit, &stripeCustomer, &stripeSub,
		&accounts, &tz, &lang, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin, &lastActive,
	)
	if err != nil {
		return nil, err
	}

	u.PhoneNumber = nullStrPtr(phone)
	u.FirstName = nullStrPtr(firstName)
	u.LastName = nullStrPtr(lastName)
	u.ProfilePicture = nullStrPtr(picture)
	u.StripeCustomerID = nullStrPtr(stripeCustomer)
	u.StripeSubID = nullStrPtr(stripeSub)
	u.Timezone = nullStrPtr(tz)
	u.Language = nullStrPtr(lang)
	u.LastLoginAt = nullTimePtr(lastLogin)
	u.LastActiveAt = nullTimePtr(lastActive)

	u.ConnectedAccounts = map[string]models.ConnectedAccount{}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &u.ConnectedAccounts); err != nil {
			return nil, fmt.Errorf("decode connected_accounts for user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func (h *Handler) loadUser(ctx context.Context, id string) (*models.User, error) {
	row := h.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM public.users WHERE id = $1`, id)
	return scanUser(row)
}

type createUserRequest struct {
	ID             string  `json:"id"`
	Email          string  `json:"email"`
	PhoneNumber    *string `json:"phoneNumber"`
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	ProfilePicture *string `json:"profilePicture"`
	Timezone       *string `json:"timezone"`
	Language       *string `json:"language"`
}

// CreateUser inserts a new account row at first sign-in. The id comes from the
// upstream auth layer, so this is an insert, not an upsert: replaying a create
// for an existing id is a client bug and gets a 409.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Email) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id and email are required"})
		return
	}

	emptyAccounts := []byte(`{"linkedin":{"connected":false},"google":{"connected":false}}`)

	row := h.db.QueryRowContext(r.Context(), `
		INSERT INTO public.users (
			id, email, phone_number, first_name, last_name, profile_picture,
			plan, subscription_status, posts_used, posts_limit,
			connected_accounts, timezone, language, is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'free', 'active', 0, 1, $7, $8, $9, true, NOW(), NOW())
		RETURNING `+userColumns,
		req.ID, req.Email, req.PhoneNumber, req.FirstName, req.LastName, req.ProfilePicture,
		emptyAccounts, req.Timezone, req.Language,
	)

	user, err := scanUser(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "user already exists"})
			return
		}
		log.Printf("[Users] create error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	log.Printf("[Users] created id=%s plan=%s", user.ID, user.Plan)
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")

	user, err := h.loadUser(r.Context(), id)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Users] get error id=%s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type updateUserRequest struct {
	Email          *string `json:"email"`
	PhoneNumber    *string `json:"phoneNumber"`
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	ProfilePicture *string `json:"profilePicture"`
	Timezone       *string `json:"timezone"`
	Language       *string `json:"language"`
}

// UpdateUser applies a partial profile update. Absent fields keep their
// current values (COALESCE on the nullable bind params).
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	row := h.db.QueryRowContext(r.Context(), `
		UPDATE public.users SET
			email = COALESCE($2, email),
			phone_number = COALESCE($3, phone_number),
			first_name = COALESCE($4, first_name),
			last_name = COALESCE($5, last_name),
			profile_picture = COALESCE($6, profile_picture),
			timezone = COALESCE($7, timezone),
			language = COALESCE($8, language),
			updated_at = NOW()
		WHERE id = $1 AND is_active = true
		RETURNING `+userColumns,
		id, req.Email, req.PhoneNumber, req.FirstName, req.LastName,
		req.ProfilePicture, req.Timezone, req.Language,
	)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Users] update error id=%s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// DeactivateUser soft-deletes the account. Rows stay for audit; every read
// path filters on is_active.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE public.users SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`, id)
	if err != nil {
		log.Printf("[Users] deactivate error id=%s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}

	log.Printf("[Users] deactivated id=%s", id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RecordLogin bumps last_login_at / last_active_at on each sign-in.
func (h *Handler) RecordLogin(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")

	row := h.db.QueryRowContext(r.Context(), `
		UPDATE public.users SET last_login_at = NOW(), last_active_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_active = true
		RETURNING `+userColumns, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Users] login error id=%s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func validProvider(name string) bool {
	return name == "linkedin" || name == "google"
}

// UpsertConnectedAccount persists a provider connection record into the
// connected_accounts JSONB document. The linking flow re-reads the user after
// this call to verify the write landed.
func (h *Handler) UpsertConnectedAccount(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	provider := pathVar(r, "provider")
	if !validProvider(provider) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider"})
		return
	}

	var account models.ConnectedAccount
	if err := decodeJSON(r, &account); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if account.Connected && account.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "accessToken is required for a connected account"})
		return
	}
	if account.ConnectedAt == nil {
		now := time.Now().UTC()
		account.ConnectedAt = &now
	}

	doc, err := json.Marshal(account)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	row := h.db.QueryRowContext(r.Context(), `
		UPDATE public.users SET
			connected_accounts = jsonb_set(COALESCE(connected_accounts, '{}'::jsonb), ARRAY[$2], $3::jsonb, true),
			updated_at = NOW()
		WHERE id = $1 AND is_active = true
		RETURNING `+userColumns,
		id, provider, doc)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Users] connect %s error id=%s: %v", provider, id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	log.Printf("[Users] connected provider=%s id=%s", provider, id)
	writeJSON(w, http.StatusOK, user)
}

// DisconnectAccount resets a provider slot to {"connected": false}.
func (h *Handler) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	provider := pathVar(r, "provider")
	if !validProvider(provider) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider"})
		return
	}

	row := h.db.QueryRowContext(r.Context(), `
		UPDATE public.users SET
			connected_accounts = jsonb_set(COALESCE(connected_accounts, '{}'::jsonb), ARRAY[$2], '{"connected":false}'::jsonb, true),
			updated_at = NOW()
		WHERE id = $1 AND is_active = true
		RETURNING `+userColumns,
		id, provider)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Users] disconnect %s error id=%s: %v", provider, id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	log.Printf("[Users] disconnected provider=%s id=%s", provider, id)
	writeJSON(w, http.StatusOK, user)
}

func nullStrPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func publicOrigin(r *http.Request) string {
	proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := r.Host
	if h := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); h != "" {
		host = h
	}
	return fmt.Sprintf("%s://%s", proto, host)
}

func randHex(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

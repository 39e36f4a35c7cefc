package handlers

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

type BillingPlan struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	PriceCents    int     `json:"priceCents"`
	Currency      string  `json:"currency"`
	Interval      string  `json:"interval"`
	StripePriceID *string `json:"stripePriceId,omitempty"`
	PostsLimit    int     `json:"postsLimit"` // -1 means unlimited
	IsActive      bool    `json:"isActive"`
}

// Stripe client instance
var stripeClient *client.API

func initStripe() {
	if stripeClient != nil {
		return
	}

	secretKey := os.Getenv("STRIPE_SECRET_KEY")
	if secretKey == "" {
		log.Printf("[Billing] STRIPE_SECRET_KEY not set, Stripe features disabled")
		return
	}

	stripeClient = &client.API{}
	stripeClient.Init(secretKey, nil)
}

// GetBillingPlans returns the active plans, cheapest first.
func (h *Handler) GetBillingPlans(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, name, description, price_cents, currency, interval, stripe_price_id, posts_limit, is_active
		FROM public.billing_plans
		WHERE is_active = true
		ORDER BY price_cents ASC
	`)
	if err != nil {
		log.Printf("[Billing][Plans] query error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	plans := []BillingPlan{}
	for rows.Next() {
		var p BillingPlan
		var description, stripePriceID sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &description, &p.PriceCents, &p.Currency, &p.Interval, &stripePriceID, &p.PostsLimit, &p.IsActive); err != nil {
			log.Printf("[Billing][Plans] scan error: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
		p.Description = nullStrPtr(description)
		p.StripePriceID = nullStrPtr(stripePriceID)
		plans = append(plans, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

type checkoutRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// CreateCheckoutSession starts a Stripe Checkout session for the premium plan.
// The user id rides along as ClientReferenceID so the webhook can find the
// account to upgrade.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	initStripe()
	if stripeClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Stripe not configured"})
		return
	}

	userID := pathVar(r, "userId")
	user, err := h.loadUser(r.Context(), userID)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Billing][Checkout] load user error id=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if user.Plan == "premium" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "already on premium"})
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	priceID := os.Getenv("STRIPE_PREMIUM_PRICE_ID")
	if priceID == "" {
		// Fall back to the cheapest active paid plan in the catalog.
		err := h.db.QueryRowContext(r.Context(), `
			SELECT stripe_price_id FROM public.billing_plans
			WHERE is_active = true AND price_cents > 0 AND stripe_price_id IS NOT NULL
			ORDER BY price_cents ASC LIMIT 1
		`).Scan(&priceID)
		if err != nil {
			log.Printf("[Billing][Checkout] no premium price configured: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no premium plan available"})
			return
		}
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = publicOrigin(r) + "/account/billing?status=success"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = publicOrigin(r) + "/account/billing?status=cancelled"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(user.ID),
		CustomerEmail:     stripe.String(user.Email),
	}
	session, err := stripeClient.CheckoutSessions.New(params)
	if err != nil {
		log.Printf("[Billing][Checkout] session error user=%s: %v", user.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create checkout session"})
		return
	}

	log.Printf("[Billing][Checkout] created user=%s session=%s", user.ID, session.ID)
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": session.ID, "url": session.URL})
}

// StripeWebhook processes Stripe events. Signature verification runs when
// STRIPE_WEBHOOK_SECRET is set; without it the payload is trusted, which is
// only acceptable for local development.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Billing][Webhook] read error: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret != "" {
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			log.Printf("[Billing][Webhook] missing Stripe-Signature header")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing signature"})
			return
		}
		event, err := webhook.ConstructEvent(payload, sig, webhookSecret)
		if err != nil {
			log.Printf("[Billing][Webhook] signature verification error: %v", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
			return
		}
		h.processStripeEvent(event)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	log.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, skipping signature verification")
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Billing][Webhook] unmarshal error: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	h.processStripeEvent(event)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) processStripeEvent(event stripe.Event) {
	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionCancelled(event)
	default:
		log.Printf("[Billing][Webhook] unhandled event type: %s", event.Type)
	}
}

// handleCheckoutCompleted upgrades the referenced account to premium with an
// unlimited post quota.
func (h *Handler) handleCheckoutCompleted(event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		log.Printf("[Billing][Webhook] checkout unmarshal error: %v", err)
		return
	}
	userID := session.ClientReferenceID
	if userID == "" {
		log.Printf("[Billing][Webhook] checkout session %s has no client reference id", session.ID)
		return
	}

	var customerID, subscriptionID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	res, err := h.db.Exec(`
		UPDATE public.users SET
			plan = 'premium', posts_limit = -1, subscription_status = 'active',
			stripe_customer_id = NULLIF($2, ''), stripe_subscription_id = NULLIF($3, ''),
			updated_at = NOW()
		WHERE id = $1
	`, userID, customerID, subscriptionID)
	if err != nil {
		log.Printf("[Billing][Webhook] upgrade error user=%s: %v", userID, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("[Billing][Webhook] upgrade skipped, unknown user=%s", userID)
		return
	}
	log.Printf("[Billing][Webhook] upgraded user=%s to premium", userID)
}

// handleSubscriptionCancelled drops the account back to the free tier.
func (h *Handler) handleSubscriptionCancelled(event stripe.Event) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		log.Printf("[Billing][Webhook] subscription unmarshal error: %v", err)
		return
	}

	res, err := h.db.Exec(`
		UPDATE public.users SET
			plan = 'free', posts_limit = 1, subscription_status = 'cancelled',
			stripe_subscription_id = NULL, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, subscription.ID)
	if err != nil {
		log.Printf("[Billing][Webhook] downgrade error sub=%s: %v", subscription.ID, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("[Billing][Webhook] downgrade skipped, unknown subscription=%s", subscription.ID)
		return
	}
	log.Printf("[Billing][Webhook] downgraded subscription=%s to free", subscription.ID)
}

package handlers

import (
	"github.com/gorilla/mux"

	"github.com/linkpost-app/linkpost/backend/internal/middleware"
)

// RegisterRoutes wires every endpoint onto the router. The n8n subtree goes
// through the worker-key guard; everything else is fronted by the frontend
// server, which handles session auth.
func RegisterRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")

	// User accounts
	r.HandleFunc("/api/users", h.CreateUser).Methods("POST")
	r.HandleFunc("/api/users/{id}", h.GetUser).Methods("GET")
	r.HandleFunc("/api/users/{id}", h.UpdateUser).Methods("PUT")
	r.HandleFunc("/api/users/{id}/deactivate", h.DeactivateUser).Methods("POST")
	r.HandleFunc("/api/users/{id}/login", h.RecordLogin).Methods("POST")
	r.HandleFunc("/api/users/{id}/connected-accounts/{provider}", h.UpsertConnectedAccount).Methods("POST", "PUT")
	r.HandleFunc("/api/users/{id}/connected-accounts/{provider}", h.DisconnectAccount).Methods("DELETE")

	// OAuth linking (popup flow)
	r.HandleFunc("/api/auth/{provider}", h.OAuthStart).Methods("GET")
	r.HandleFunc("/api/auth/{provider}/callback", h.OAuthCallback).Methods("GET")

	// Posts
	r.HandleFunc("/api/posts", h.ListPosts).Methods("GET")
	r.HandleFunc("/api/posts/publish", h.PublishPost).Methods("POST")

	// External worker pull API
	var guardKey string
	if h.cfg != nil {
		guardKey = h.cfg.N8NAPIKey
	}
	guard := middleware.NewWorkerKeyGuard(guardKey)
	n8n := r.PathPrefix("/api/n8n").Subrouter()
	n8n.Use(guard.Middleware)
	n8n.HandleFunc("/posts", h.ListDuePosts).Methods("GET")
	n8n.HandleFunc("/posts", h.ReportOutcome).Methods("POST")

	// Verification
	r.HandleFunc("/api/verification/{channel}/send", h.SendVerification).Methods("POST")
	r.HandleFunc("/api/verification/{channel}/confirm", h.ConfirmVerification).Methods("POST")

	// Billing
	r.HandleFunc("/api/billing/plans", h.GetBillingPlans).Methods("GET")
	r.HandleFunc("/api/billing/checkout/user/{userId}", h.CreateCheckoutSession).Methods("POST")
	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")

	// Realtime events
	r.HandleFunc("/api/events/ping", h.EventsPing).Methods("GET")
	r.HandleFunc("/api/events/ws", h.EventsWebSocket)

	// Debug (disabled in production)
	r.HandleFunc("/api/debug/users", h.DebugListUsers).Methods("GET")
	r.HandleFunc("/api/debug/posts", h.DebugListPosts).Methods("GET")
	r.HandleFunc("/api/debug/update-schedule", h.DebugUpdateSchedule).Methods("POST")
}

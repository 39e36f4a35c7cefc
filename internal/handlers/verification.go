package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"time"
)

// Resend cooldown shared by email and phone verification.
const verificationCooldown = 60 * time.Second

func verificationColumns(channel string) (sentAtCol, verifiedCol string, ok bool) {
	switch channel {
	case "email":
		return "email_verification_sent_at", "email_verified", true
	case "phone":
		return "phone_verification_sent_at", "phone_verified", true
	}
	return "", "", false
}

// SendVerification handles POST /api/verification/{channel}/send. Delivery
// itself happens out of band; this endpoint records the send and enforces the
// resend cooldown.
func (h *Handler) SendVerification(w http.ResponseWriter, r *http.Request) {
	userID := bearerUserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	channel := pathVar(r, "channel")
	sentAtCol, _, ok := verificationColumns(channel)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown channel"})
		return
	}

	var lastSent sql.NullTime
	err := h.db.QueryRowContext(r.Context(),
		`SELECT `+sentAtCol+` FROM public.users WHERE id = $1 AND is_active = true`, userID,
	).Scan(&lastSent)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Verification] lookup error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	if lastSent.Valid {
		if wait := verificationCooldown - time.Since(lastSent.Time); wait > 0 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":        "verification_cooldown",
				"retryAfterMs": wait.Milliseconds(),
			})
			return
		}
	}

	if _, err := h.db.ExecContext(r.Context(),
		`UPDATE public.users SET `+sentAtCol+` = NOW(), updated_at = NOW() WHERE id = $1`, userID,
	); err != nil {
		log.Printf("[Verification] send record error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	log.Printf("[Verification] sent channel=%s user=%s", channel, userID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ConfirmVerification handles POST /api/verification/{channel}/confirm.
func (h *Handler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	userID := bearerUserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	channel := pathVar(r, "channel")
	_, verifiedCol, ok := verificationColumns(channel)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown channel"})
		return
	}

	res, err := h.db.ExecContext(r.Context(),
		`UPDATE public.users SET `+verifiedCol+` = true, updated_at = NOW() WHERE id = $1 AND is_active = true`, userID,
	)
	if err != nil {
		log.Printf("[Verification] confirm error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}

	log.Printf("[Verification] confirmed channel=%s user=%s", channel, userID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

package handlers

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"
)

const duePostsPageSize = 100

type duePost struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	Content             string    `json:"content"`
	Platform            string    `json:"platform"`
	ScheduleDate        time.Time `json:"scheduleDate"`
	LinkedInAccessToken string    `json:"linkedinAccessToken"`
	LinkedInProfileID   string    `json:"linkedinProfileId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// ListDuePosts handles GET /api/n8n/posts for the external automation worker.
// The page fetch filters on status and n8n_processed only; the schedule_date
// cutoff is applied in memory over the fetched page. Candidates whose owner
// has no usable LinkedIn token are terminally failed right here so the worker
// never sees a post it cannot publish.
func (h *Handler) ListDuePosts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, user_id, content, platform, schedule_date, created_at
		FROM public.posts
		WHERE status = 'scheduled' AND n8n_processed = false
		ORDER BY schedule_date ASC
		LIMIT $1
	`, duePostsPageSize)
	if err != nil {
		log.Printf("[N8N] list query error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	type candidate struct {
		id, userID, content, platform string
		scheduleDate, createdAt       time.Time
	}
	candidates := []candidate{}
	func() {
		defer rows.Close()
		for rows.Next() {
			var c candidate
			var scheduleDate sql.NullTime
			if err := rows.Scan(&c.id, &c.userID, &c.content, &c.platform, &scheduleDate, &c.createdAt); err != nil {
				log.Printf("[N8N] list scan error: %v", err)
				return
			}
			if !scheduleDate.Valid {
				continue
			}
			c.scheduleDate = scheduleDate.Time
			candidates = append(candidates, c)
		}
	}()

	now := time.Now().UTC()
	out := []duePost{}
	for _, c := range candidates {
		if c.scheduleDate.After(now) {
			continue
		}

		user, err := h.loadUser(r.Context(), c.userID)
		if err != nil {
			log.Printf("[N8N] owner load error post=%s user=%s: %v", c.id, c.userID, err)
			continue
		}

		linkedin := user.ConnectedAccounts["linkedin"]
		if !user.IsActive || !linkedin.Connected || linkedin.AccessToken == "" {
			h.failPostDuringListing(r.Context(), c.id, "LinkedIn account not connected")
			continue
		}

		p := duePost{
			ID:                  c.id,
			UserID:              c.userID,
			Content:             c.content,
			Platform:            c.platform,
			ScheduleDate:        c.scheduleDate,
			LinkedInAccessToken: linkedin.AccessToken,
			CreatedAt:           c.createdAt,
		}
		if linkedin.ProfileID != nil {
			p.LinkedInProfileID = *linkedin.ProfileID
		}
		out = append(out, p)
	}

	log.Printf("[N8N] listed due=%d fetched=%d", len(out), len(candidates))
	writeJSON(w, http.StatusOK, map[string]any{
		"posts": out,
		"count": len(out),
	})
}

func (h *Handler) failPostDuringListing(ctx context.Context, postID, reason string) {
	_, err := h.db.ExecContext(ctx, `
		UPDATE public.posts SET status = 'failed', publish_error = $2, n8n_processed = true, processed_at = NOW()
		WHERE id = $1
	`, postID, reason)
	if err != nil {
		log.Printf("[N8N] terminal-fail error post=%s: %v", postID, err)
		return
	}
	log.Printf("[N8N] terminally failed post=%s reason=%q", postID, reason)
}

type outcomeRequest struct {
	PostID         string `json:"postId"`
	Status         string `json:"status"`
	LinkedInPostID string `json:"linkedinPostId"`
	Error          string `json:"error"`
}

// ReportOutcome handles POST /api/n8n/posts: the worker reporting what happened
// to a post it pulled. A published outcome charges the owner's quota. There is
// no idempotency key on the report, so a worker retry after a dropped response
// charges the quota twice (see the regression test pinning this behavior).
func (h *Handler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if req.PostID == "" || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "postId and status are required"})
		return
	}
	if req.Status != "published" && req.Status != "failed" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be published or failed"})
		return
	}

	var userID string
	err := h.db.QueryRowContext(r.Context(), `SELECT user_id FROM public.posts WHERE id = $1`, req.PostID).Scan(&userID)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Post not found"})
		return
	}
	if err != nil {
		log.Printf("[N8N] outcome lookup error post=%s: %v", req.PostID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	switch req.Status {
	case "published":
		_, err = h.db.ExecContext(r.Context(), `
			UPDATE public.posts SET status = 'published', published_at = NOW(),
				linkedin_post_id = NULLIF($2, ''), n8n_processed = true, processed_at = NOW()
			WHERE id = $1
		`, req.PostID, req.LinkedInPostID)
		if err == nil {
			if _, qerr := h.db.ExecContext(r.Context(), `
				UPDATE public.users SET posts_used = posts_used + 1, updated_at = NOW() WHERE id = $1
			`, userID); qerr != nil {
				log.Printf("[N8N] quota increment error user=%s: %v", userID, qerr)
			}
		}
	case "failed":
		_, err = h.db.ExecContext(r.Context(), `
			UPDATE public.posts SET status = 'failed', publish_error = NULLIF($2, ''),
				n8n_processed = true, processed_at = NOW()
			WHERE id = $1
		`, req.PostID, req.Error)
	}
	if err != nil {
		log.Printf("[N8N] outcome update error post=%s: %v", req.PostID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	h.emitEvent(userID, realtimeEvent{Type: "post.updated", PostID: req.PostID, Status: req.Status})

	log.Printf("[N8N] outcome post=%s status=%s", req.PostID, req.Status)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

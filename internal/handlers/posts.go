package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/linkpost-app/linkpost/backend/internal/models"
)

const maxPostLength = 3000 // LinkedIn's UGC commentary limit

type publishRequest struct {
	Content      string `json:"content"`
	ScheduleDate string `json:"scheduleDate"`
	PublishNow   bool   `json:"publishNow"`
}

// PublishPost handles POST /api/posts/publish. publishNow goes straight to
// LinkedIn and charges the quota; scheduleDate stores the post for the
// external worker and charges nothing until it actually publishes.
func (h *Handler) PublishPost(w http.ResponseWriter, r *http.Request) {
	userID := bearerUserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req publishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if len(req.Content) > maxPostLength {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content exceeds the maximum post length"})
		return
	}
	if !req.PublishNow && req.ScheduleDate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	user, err := h.loadUser(r.Context(), userID)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		log.Printf("[Posts] load user error id=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if !user.IsActive {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}

	linkedin := user.ConnectedAccounts["linkedin"]
	if !linkedin.Connected || linkedin.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "LinkedIn account not connected",
			"message": "Connect your LinkedIn account before publishing",
		})
		return
	}

	// Quota admission before any provider call. -1 means unlimited.
	if user.PostsLimit >= 0 && user.PostsUsed >= user.PostsLimit {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "No posts remaining",
			"message": "Upgrade your plan to publish more posts",
		})
		return
	}

	if req.PublishNow {
		h.publishNow(w, r, user, linkedin, req.Content)
		return
	}
	h.schedulePost(w, r, user, req)
}

func (h *Handler) publishNow(w http.ResponseWriter, r *http.Request, user *models.User, linkedin models.ConnectedAccount, content string) {
	profileID := ""
	if linkedin.ProfileID != nil {
		profileID = *linkedin.ProfileID
	}

	// Older connection records predate profileId capture; resolve it lazily
	// and persist it back so the worker path never has to.
	if profileID == "" {
		profile, err := h.linkedin.FetchProfile(r.Context(), linkedin.AccessToken)
		if err != nil {
			log.Printf("[Posts] profile resolve error user=%s: %v", user.ID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":   "Failed to publish to LinkedIn",
				"details": err.Error(),
			})
			return
		}
		profileID = profile.ID
		if _, err := h.db.ExecContext(r.Context(), `
			UPDATE public.users SET
				connected_accounts = jsonb_set(connected_accounts, '{linkedin,profileId}', to_jsonb($2::text), true),
				updated_at = NOW()
			WHERE id = $1
		`, user.ID, profileID); err != nil {
			log.Printf("[Posts] profileId persist error user=%s: %v", user.ID, err)
		}
	}

	linkedinPostID, err := h.publisher.PublishPost(r.Context(), linkedin.AccessToken, profileID, content)
	if err != nil {
		log.Printf("[Posts] publish error user=%s: %v", user.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to publish to LinkedIn",
			"details": err.Error(),
		})
		return
	}

	// Quota charge and history row. The provider call already happened, so a
	// failure here loses bookkeeping, not the member's post.
	if _, err := h.db.ExecContext(r.Context(), `
		UPDATE public.users SET posts_used = posts_used + 1, updated_at = NOW() WHERE id = $1
	`, user.ID); err != nil {
		log.Printf("[Posts] quota increment error user=%s: %v", user.ID, err)
	}

	post := models.Post{
		ID:             "post_" + randHex(12),
		UserID:         user.ID,
		Content:        content,
		Platform:       "linkedin",
		Type:           "immediate",
		Status:         "published",
		LinkedInPostID: &linkedinPostID,
	}
	row := h.db.QueryRowContext(r.Context(), `
		INSERT INTO public.posts (id, user_id, content, platform, type, status, published_at, linkedin_post_id, n8n_processed, created_at)
		VALUES ($1, $2, $3, 'linkedin', 'immediate', 'published', NOW(), $4, false, NOW())
		RETURNING published_at, created_at
	`, post.ID, post.UserID, post.Content, linkedinPostID)
	var publishedAt time.Time
	if err := row.Scan(&publishedAt, &post.CreatedAt); err != nil {
		log.Printf("[Posts] history insert error user=%s: %v", user.ID, err)
	} else {
		post.PublishedAt = &publishedAt
	}

	h.emitEvent(user.ID, realtimeEvent{Type: "post.updated", PostID: post.ID, Status: "published"})

	log.Printf("[Posts] published now user=%s post=%s linkedin=%s", user.ID, post.ID, truncate(linkedinPostID, 40))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"post":           post,
		"linkedinPostId": linkedinPostID,
	})
}

func (h *Handler) schedulePost(w http.ResponseWriter, r *http.Request, user *models.User, req publishRequest) {
	scheduleAt, err := time.Parse(time.RFC3339, req.ScheduleDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scheduleDate must be RFC3339"})
		return
	}

	post := models.Post{
		ID:           "post_" + randHex(12),
		UserID:       user.ID,
		Content:      req.Content,
		Platform:     "linkedin",
		Type:         "scheduled",
		Status:       "scheduled",
		ScheduleDate: &scheduleAt,
	}
	row := h.db.QueryRowContext(r.Context(), `
		INSERT INTO public.posts (id, user_id, content, platform, type, status, schedule_date, n8n_processed, created_at)
		VALUES ($1, $2, $3, 'linkedin', 'scheduled', 'scheduled', $4, false, NOW())
		RETURNING created_at
	`, post.ID, post.UserID, post.Content, scheduleAt)
	if err := row.Scan(&post.CreatedAt); err != nil {
		log.Printf("[Posts] schedule insert error user=%s: %v", user.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	log.Printf("[Posts] scheduled user=%s post=%s at=%s", user.ID, post.ID, scheduleAt.Format(time.RFC3339))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"post":    post,
	})
}

func scanPosts(rows *sql.Rows) ([]models.Post, error) {
	defer rows.Close()
	out := []models.Post{}
	for rows.Next() {
		var p models.Post
		var scheduleDate, publishedAt, processedAt sql.NullTime
		var linkedinPostID, publishError sql.NullString
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Content, &p.Platform, &p.Type, &p.Status,
			&scheduleDate, &publishedAt, &linkedinPostID, &publishError,
			&p.N8NProcessed, &processedAt, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		p.ScheduleDate = nullTimePtr(scheduleDate)
		p.PublishedAt = nullTimePtr(publishedAt)
		p.ProcessedAt = nullTimePtr(processedAt)
		p.LinkedInPostID = nullStrPtr(linkedinPostID)
		p.PublishError = nullStrPtr(publishError)
		out = append(out, p)
	}
	return out, rows.Err()
}

const postColumns = `id, user_id, content, platform, type, status,
		schedule_date, published_at, linkedin_post_id, publish_error,
		n8n_processed, processed_at, created_at`

// ListPosts handles GET /api/posts: the dashboard view of recent published and
// upcoming scheduled posts plus totals.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	userID := bearerUserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	publishedRows, err := h.db.QueryContext(r.Context(), `
		SELECT `+postColumns+` FROM public.posts
		WHERE user_id = $1 AND status = 'published'
		ORDER BY published_at DESC NULLS LAST
		LIMIT 10
	`, userID)
	if err != nil {
		log.Printf("[Posts] list published error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	published, err := scanPosts(publishedRows)
	if err != nil {
		log.Printf("[Posts] scan published error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	scheduledRows, err := h.db.QueryContext(r.Context(), `
		SELECT `+postColumns+` FROM public.posts
		WHERE user_id = $1 AND status = 'scheduled'
		ORDER BY schedule_date ASC
		LIMIT 10
	`, userID)
	if err != nil {
		log.Printf("[Posts] list scheduled error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	scheduled, err := scanPosts(scheduledRows)
	if err != nil {
		log.Printf("[Posts] scan scheduled error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	var totalPublished, totalScheduled int
	err = h.db.QueryRowContext(r.Context(), `
		SELECT
			COUNT(*) FILTER (WHERE status = 'published'),
			COUNT(*) FILTER (WHERE status = 'scheduled')
		FROM public.posts WHERE user_id = $1
	`, userID).Scan(&totalPublished, &totalScheduled)
	if err != nil {
		log.Printf("[Posts] stats error user=%s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"publishedPosts": published,
		"scheduledPosts": scheduled,
		"stats": map[string]int{
			"totalPublished": totalPublished,
			"totalScheduled": totalScheduled,
		},
	})
}

package handlers

import (
	"log"
	"net/http"
	"time"
)

// Debug endpoints exist to exercise the worker flow without waiting out a
// schedule. They are disabled in production.
func (h *Handler) debugEnabled() bool {
	return h.cfg == nil || !h.cfg.IsProduction()
}

func (h *Handler) DebugListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.debugEnabled() {
		http.NotFound(w, r)
		return
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, email, plan, posts_used, posts_limit, is_active
		FROM public.users ORDER BY created_at DESC LIMIT 50
	`)
	if err != nil {
		log.Printf("[Debug] users query error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	type debugUser struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		Plan       string `json:"plan"`
		PostsUsed  int    `json:"postsUsed"`
		PostsLimit int    `json:"postsLimit"`
		IsActive   bool   `json:"isActive"`
	}
	users := []debugUser{}
	for rows.Next() {
		var u debugUser
		if err := rows.Scan(&u.ID, &u.Email, &u.Plan, &u.PostsUsed, &u.PostsLimit, &u.IsActive); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
		users = append(users, u)
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (h *Handler) DebugListPosts(w http.ResponseWriter, r *http.Request) {
	if !h.debugEnabled() {
		http.NotFound(w, r)
		return
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT `+postColumns+` FROM public.posts ORDER BY created_at DESC LIMIT 50
	`)
	if err != nil {
		log.Printf("[Debug] posts query error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	posts, err := scanPosts(rows)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": posts, "count": len(posts)})
}

type debugScheduleRequest struct {
	PostID       string `json:"postId"`
	ScheduleDate string `json:"scheduleDate"`
	MinutesAgo   int    `json:"minutesAgo"`
}

// DebugUpdateSchedule rewinds (or sets) a post's schedule_date so it becomes
// immediately visible to the worker poll.
func (h *Handler) DebugUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.debugEnabled() {
		http.NotFound(w, r)
		return
	}

	var req debugScheduleRequest
	if err := decodeJSON(r, &req); err != nil || req.PostID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	var scheduleAt time.Time
	switch {
	case req.ScheduleDate != "":
		t, err := time.Parse(time.RFC3339, req.ScheduleDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scheduleDate must be RFC3339"})
			return
		}
		scheduleAt = t
	case req.MinutesAgo > 0:
		scheduleAt = time.Now().UTC().Add(-time.Duration(req.MinutesAgo) * time.Minute)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scheduleDate or minutesAgo is required"})
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE public.posts SET schedule_date = $2 WHERE id = $1 AND status = 'scheduled'
	`, req.PostID, scheduleAt)
	if err != nil {
		log.Printf("[Debug] schedule update error post=%s: %v", req.PostID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Post not found or not scheduled"})
		return
	}

	log.Printf("[Debug] rescheduled post=%s to=%s", req.PostID, scheduleAt.Format(time.RFC3339))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

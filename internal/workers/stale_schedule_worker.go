package workers

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// StaleScheduleWorker fails scheduled posts the external worker never picked
// up. Without it, a post whose owner disconnected LinkedIn between scheduling
// and pickup would sit in the due queue forever.
type StaleScheduleWorker struct {
	DB              *sql.DB
	MaxAgeHours     int // how far past schedule_date before a post is stale (default: 168 = 7 days)
	CheckIntervalMs int // how often to sweep (default: 3600000 = 1 hour)
}

// Start begins the stale-schedule sweep loop.
func (w *StaleScheduleWorker) Start(ctx context.Context) {
	if w.MaxAgeHours <= 0 {
		w.MaxAgeHours = 168
	}
	if w.CheckIntervalMs <= 0 {
		w.CheckIntervalMs = 3600000 // 1 hour
	}

	ticker := time.NewTicker(time.Duration(w.CheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Printf("[StaleScheduleWorker] started (maxAge=%dh, interval=%dms)", w.MaxAgeHours, w.CheckIntervalMs)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[StaleScheduleWorker] stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep terminally fails posts still unprocessed long after their schedule date.
func (w *StaleScheduleWorker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(w.MaxAgeHours) * time.Hour)

	result, err := w.DB.ExecContext(ctx, `
		UPDATE public.posts
		SET status = 'failed', publish_error = 'schedule expired before pickup',
			n8n_processed = true, processed_at = NOW()
		WHERE status = 'scheduled'
		AND n8n_processed = false
		AND schedule_date < $1
	`, cutoff)

	if err != nil {
		log.Printf("[StaleScheduleWorker] error: %v", err)
		return
	}

	failed, err := result.RowsAffected()
	if err != nil {
		log.Printf("[StaleScheduleWorker] error getting rows affected: %v", err)
		return
	}

	if failed > 0 {
		log.Printf("[StaleScheduleWorker] failed %d stale scheduled posts", failed)
	}
}

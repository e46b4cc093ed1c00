package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"leadrelay/internal/models"
)

const (
	// retryBase seeds the exponential backoff curve.
	retryBase = 30 * time.Second
	// backoffCap bounds the curve.
	backoffCap = time.Hour
	// maxAttempts abandons a row; the row itself is kept with last_error.
	maxAttempts = 8
	// staleClaim is how long a claim holds before a crashed worker's row
	// becomes reclaimable.
	staleClaim = 5 * time.Minute
)

// Queue is the durable at-least-once work queue. Rows are claimed with a
// conditional update so concurrent consumers never double-process.
type Queue struct {
	db       *gorm.DB
	workerID string
}

func New(db *gorm.DB) *Queue {
	return &Queue{db: db, workerID: uuid.NewString()}
}

// Enqueue inserts a ready-now event. The payload is marshaled to JSON.
func (q *Queue) Enqueue(eventType string, payload interface{}) (*models.OutboxEvent, error) {
	return q.EnqueueAt(eventType, payload, nil)
}

// EnqueueAt inserts an event that becomes due at the given time. A nil due
// time means ready now.
func (q *Queue) EnqueueAt(eventType string, payload interface{}, dueAt *time.Time) (*models.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	ev := models.OutboxEvent{
		Type:          eventType,
		Payload:       string(raw),
		NextAttemptAt: dueAt,
		DedupeKey:     dedupeKeyOf(payload),
	}
	if err := q.db.Create(&ev).Error; err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}
	log.Debug().Uint("eventID", ev.ID).Str("type", eventType).Msg("Outbox event enqueued")
	return &ev, nil
}

// dedupeKeyOf extracts a natural key from payloads that carry one.
func dedupeKeyOf(payload interface{}) string {
	type keyed interface{ DedupeKey() string }
	if k, ok := payload.(keyed); ok {
		return k.DedupeKey()
	}
	return ""
}

// ClaimDue atomically claims up to limit due rows for this worker. A row is
// due when unprocessed, under the attempt budget, its next attempt time has
// passed (or is unset) and it carries no live claim. Stale claims from
// crashed workers are reclaimable.
func (q *Queue) ClaimDue(now time.Time, limit int) ([]models.OutboxEvent, error) {
	staleBefore := now.Add(-staleClaim)

	var candidates []models.OutboxEvent
	err := q.db.
		Where("processed_at IS NULL").
		Where("attempts < ?", maxAttempts).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Where("claimed_at IS NULL OR claimed_at <= ?", staleBefore).
		Order("id").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("list due outbox events: %w", err)
	}

	claimed := make([]models.OutboxEvent, 0, len(candidates))
	for _, ev := range candidates {
		res := q.db.Model(&models.OutboxEvent{}).
			Where("id = ? AND processed_at IS NULL AND (claimed_at IS NULL OR claimed_at <= ?)", ev.ID, staleBefore).
			Updates(map[string]interface{}{
				"claimed_at": now,
				"claimed_by": q.workerID,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim outbox event %d: %w", ev.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			ev.ClaimedAt = &now
			ev.ClaimedBy = q.workerID
			claimed = append(claimed, ev)
		}
		// RowsAffected == 0: another worker won the row, skip it.
	}
	return claimed, nil
}

// Complete marks an event terminally processed.
func (q *Queue) Complete(eventID uint) error {
	now := time.Now().UTC()
	return q.db.Model(&models.OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"processed_at": now,
			"claimed_at":   nil,
			"claimed_by":   "",
		}).Error
}

// Fail records a failed attempt: bumps the counter, schedules the next
// attempt on the backoff curve and releases the claim.
func (q *Queue) Fail(ev *models.OutboxEvent, attemptErr error) error {
	attempts := ev.Attempts + 1
	next := time.Now().UTC().Add(Backoff(attempts))
	if attempts >= maxAttempts {
		log.Error().Uint("eventID", ev.ID).Str("type", ev.Type).Int("attempts", attempts).
			Err(attemptErr).Msg("Outbox event exhausted its attempt budget")
	}
	return q.db.Model(&models.OutboxEvent{}).
		Where("id = ?", ev.ID).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      attemptErr.Error(),
			"claimed_at":      nil,
			"claimed_by":      "",
		}).Error
}

// Release clears a claim and the retry schedule so a row becomes due again
// immediately. Used by the manual force-retry endpoint.
func (q *Queue) Release(eventID uint) error {
	return q.db.Model(&models.OutboxEvent{}).
		Where("id = ? AND processed_at IS NULL", eventID).
		Updates(map[string]interface{}{
			"next_attempt_at": nil,
			"claimed_at":      nil,
			"claimed_by":      "",
		}).Error
}

// Backoff is the retry curve: retryBase * 2^(attempts-1), capped.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// Stats summarizes queue depth for the ops surface.
type Stats struct {
	Pending   int64 `json:"pending"`
	Exhausted int64 `json:"exhausted"`
	Processed int64 `json:"processed"`
}

func (q *Queue) Stats() (Stats, error) {
	var s Stats
	if err := q.db.Model(&models.OutboxEvent{}).
		Where("processed_at IS NULL AND attempts < ?", maxAttempts).
		Count(&s.Pending).Error; err != nil {
		return s, err
	}
	if err := q.db.Model(&models.OutboxEvent{}).
		Where("processed_at IS NULL AND attempts >= ?", maxAttempts).
		Count(&s.Exhausted).Error; err != nil {
		return s, err
	}
	if err := q.db.Model(&models.OutboxEvent{}).
		Where("processed_at IS NOT NULL").
		Count(&s.Processed).Error; err != nil {
		return s, err
	}
	return s, nil
}

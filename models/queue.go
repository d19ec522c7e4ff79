package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue reasons, in rough priority order.
const (
	ReasonNewProperty  = "new_property"
	ReasonPriceChange  = "price_change"
	ReasonRelisted     = "relisted"
	ReasonVerification = "verification"
	ReasonStaleData    = "stale_data"
	ReasonRandomSample = "random_sample"
)

// Queue entry status
const (
	QueuePending    = "pending"
	QueueInProgress = "in_progress"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
	QueueCancelled  = "cancelled"
)

// QueueEntry is one property awaiting (or through) a detail scrape.
// At most one pending entry exists per property_id.
type QueueEntry struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	PropertyID   string          `json:"property_id" db:"property_id"`
	SourceURL    string          `json:"source_url" db:"source_url"`
	Priority     int             `json:"priority" db:"priority"` // 1 highest .. 5 lowest
	QueueReason  string          `json:"queue_reason" db:"queue_reason"`
	Status       string          `json:"status" db:"status"`
	Metadata     json.RawMessage `json:"metadata" db:"metadata"`
	AttemptCount int             `json:"attempt_count" db:"attempt_count"`
	ClaimedAt    *time.Time      `json:"claimed_at" db:"claimed_at"`
	ClaimedBy    *string         `json:"claimed_by" db:"claimed_by"`
	LastError    *string         `json:"last_error" db:"last_error"`
	QueuedAt     time.Time       `json:"queued_at" db:"queued_at"`
	CompletedAt  *time.Time      `json:"completed_at" db:"completed_at"`
	RunID        *int64          `json:"run_id" db:"run_id"`
}

// QueueStats summarizes the queue for the CLI and tier reports.
type QueueStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

func (s QueueStats) Total() int {
	return s.Pending + s.InProgress + s.Completed + s.Failed + s.Cancelled
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// SyncRun is the durable record of one tier execution.
type SyncRun struct {
	ID                int64      `json:"id" db:"id"`
	TierLevel         int        `json:"tier_level" db:"tier_level"`
	TierName          string     `json:"tier_name" db:"tier_name"`
	Status            RunStatus  `json:"status" db:"status"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at" db:"completed_at"`
	PagesScanned      int        `json:"pages_scanned" db:"pages_scanned"`
	NewFound          int        `json:"new_found" db:"new_found"`
	PriceChanges      int        `json:"price_changes" db:"price_changes"`
	RemovalsConfirmed int        `json:"removals_confirmed" db:"removals_confirmed"`
	Queued            int        `json:"queued" db:"queued"`
	Scraped           int        `json:"scraped" db:"scraped"`
	Updated           int        `json:"updated" db:"updated"`
	ErrorSummary      string     `json:"error_summary" db:"error_summary"`
}

// ScrapingSession brackets the detail-scrape activity of one tier run.
type ScrapingSession struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TierLevel   int        `json:"tier_level" db:"tier_level"`
	Status      string     `json:"status" db:"status"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
}

// RunSummary aggregates runs for the summary CLI command.
type RunSummary struct {
	TierLevel         int        `json:"tier_level" db:"tier_level"`
	Runs              int        `json:"runs" db:"runs"`
	Failures          int        `json:"failures" db:"failures"`
	PagesScanned      int        `json:"pages_scanned" db:"pages_scanned"`
	NewFound          int        `json:"new_found" db:"new_found"`
	PriceChanges      int        `json:"price_changes" db:"price_changes"`
	RemovalsConfirmed int        `json:"removals_confirmed" db:"removals_confirmed"`
	Scraped           int        `json:"scraped" db:"scraped"`
	LastRunAt         *time.Time `json:"last_run_at" db:"last_run_at"`
}

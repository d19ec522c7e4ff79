package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/SpencerMonger/PropScraper-sub000/models"
)

// Batch sizes chosen to keep IN-clauses and statements within store limits.
const (
	ReadChunkSize  = 200
	WriteChunkSize = 50
)

// Store is the persistence contract shared by the Postgres and SQLite
// backends. ClaimQueueBatch is the point where the two diverge: Postgres
// claims atomically with FOR UPDATE SKIP LOCKED, SQLite emulates it with a
// compare-and-swap update and treats lost races as misses.
type Store interface {
	Close()

	// Manifest
	UpsertManifestEntries(ctx context.Context, entries []models.ManifestEntry) error
	GetManifestEntries(ctx context.Context, ids []string) ([]models.ManifestEntry, error)
	GetNewPropertyIDs(ctx context.Context, runID int64) ([]string, error)
	GetPriceChangedEntries(ctx context.Context, runID int64) ([]models.ManifestEntry, error)
	ClearManifestFlags(ctx context.Context, runID int64) error
	DeleteManifestEntries(ctx context.Context, ids []string) error

	// Canonical
	GetCanonicalByIDs(ctx context.Context, ids []string) ([]models.CanonicalProperty, error)
	UpsertCanonicalFromScrape(ctx context.Context, p *models.CanonicalProperty) error
	IncrementMissingCounts(ctx context.Context, runID int64, operationTypes []string, now time.Time) (int, error)
	ResetMissingCounts(ctx context.Context, runID int64, now time.Time) (int, error)
	GetRemovalCandidates(ctx context.Context, minMissing, limit int) ([]models.CanonicalProperty, error)
	MarkConfirmedRemoved(ctx context.Context, ids []string, now time.Time) error
	ClearRemovalCandidates(ctx context.Context, ids []string, now time.Time) error
	GetRelistedIDs(ctx context.Context, runID int64) ([]string, error)
	MarkRelisted(ctx context.Context, ids []string, now time.Time) error
	CountActiveCanonical(ctx context.Context) (int, error)
	GetStaleCanonicalIDs(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
	GetRandomCanonicalIDs(ctx context.Context, limit int) ([]string, error)

	// Queue
	InsertQueueEntry(ctx context.Context, e *models.QueueEntry) (bool, error)
	CountQueuePending(ctx context.Context) (int, error)
	ClaimQueueBatch(ctx context.Context, n int, workerID string, now time.Time) ([]models.QueueEntry, error)
	CompleteQueueEntry(ctx context.Context, id uuid.UUID, success bool, errMsg string, now time.Time) error
	ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error)
	RetryFailedEntries(ctx context.Context, maxAttempts, limit int) (int, error)
	CancelPendingByReason(ctx context.Context, reason string) (int, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
	CleanupQueue(ctx context.Context, olderThan time.Time) (int, error)

	// Runs and sessions
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	UpdateSyncRun(ctx context.Context, run *models.SyncRun) error
	GetLastRun(ctx context.Context, tierLevel int) (*models.SyncRun, error)
	GetLastSuccessfulRun(ctx context.Context, tierLevel int) (*models.SyncRun, error)
	ListRuns(ctx context.Context, tierLevel, limit int) ([]models.SyncRun, error)
	SummarizeRuns(ctx context.Context, days int) ([]models.RunSummary, error)
	CreateScrapingSession(ctx context.Context, s *models.ScrapingSession) error
	CloseScrapingSession(ctx context.Context, id uuid.UUID, status string, now time.Time) error
}

// chunkStrings splits ids into slices of at most size.
func chunkStrings(ids []string, size int) [][]string {
	if size <= 0 {
		size = ReadChunkSize
	}
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func marshalStrings(v []string) []byte {
	if v == nil {
		return nil
	}
	data, _ := json.Marshal(v)
	return data
}

func unmarshalStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var v []string
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

// truncateError caps stored error text so a giant scraper stack trace cannot
// blow out the row.
func truncateError(msg string) string {
	const max = 1000
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SpencerMonger/PropScraper-sub000/models"
)

// PostgresStore is the production backend. Schema is managed externally by
// the migration scripts; this store only reads and writes the five sync
// tables: property_manifest, properties_live, scrape_queue, sync_runs,
// scraping_sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Manifest
// =============================================================================

func (s *PostgresStore) UpsertManifestEntries(ctx context.Context, entries []models.ManifestEntry) error {
	query := `
		INSERT INTO property_manifest (
			property_id, source_url, listing_price, listing_title, latitude, longitude,
			operation_type, is_new, price_changed, needs_full_scrape,
			first_seen_at, last_seen_at, seen_in_run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (property_id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			listing_price = COALESCE(EXCLUDED.listing_price, property_manifest.listing_price),
			listing_title = COALESCE(EXCLUDED.listing_title, property_manifest.listing_title),
			latitude = COALESCE(EXCLUDED.latitude, property_manifest.latitude),
			longitude = COALESCE(EXCLUDED.longitude, property_manifest.longitude),
			operation_type = EXCLUDED.operation_type,
			is_new = EXCLUDED.is_new,
			price_changed = EXCLUDED.price_changed,
			needs_full_scrape = EXCLUDED.needs_full_scrape,
			last_seen_at = EXCLUDED.last_seen_at,
			seen_in_run_id = EXCLUDED.seen_in_run_id`

	batch := &pgx.Batch{}
	for i := range entries {
		e := &entries[i]
		batch.Queue(query,
			e.PropertyID, e.SourceURL, e.ListingPrice, e.ListingTitle, e.Latitude, e.Longitude,
			e.OperationType, e.IsNew, e.PriceChanged, e.NeedsFullScrape,
			e.FirstSeenAt, e.LastSeenAt, e.SeenInRunID,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert manifest: %w", err)
		}
	}
	return nil
}

const manifestColumns = `property_id, source_url, listing_price, listing_title, latitude, longitude,
	operation_type, is_new, price_changed, needs_full_scrape, first_seen_at, last_seen_at, seen_in_run_id`

func scanManifestRows(rows pgx.Rows) ([]models.ManifestEntry, error) {
	defer rows.Close()
	var entries []models.ManifestEntry
	for rows.Next() {
		var e models.ManifestEntry
		if err := rows.Scan(
			&e.PropertyID, &e.SourceURL, &e.ListingPrice, &e.ListingTitle, &e.Latitude, &e.Longitude,
			&e.OperationType, &e.IsNew, &e.PriceChanged, &e.NeedsFullScrape,
			&e.FirstSeenAt, &e.LastSeenAt, &e.SeenInRunID,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetManifestEntries(ctx context.Context, ids []string) ([]models.ManifestEntry, error) {
	var all []models.ManifestEntry
	for _, chunk := range chunkStrings(ids, ReadChunkSize) {
		rows, err := s.pool.Query(ctx,
			`SELECT `+manifestColumns+` FROM property_manifest WHERE property_id = ANY($1)`, chunk)
		if err != nil {
			return nil, err
		}
		entries, err := scanManifestRows(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func (s *PostgresStore) GetNewPropertyIDs(ctx context.Context, runID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT property_id FROM property_manifest WHERE is_new AND seen_in_run_id = $1`, runID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (s *PostgresStore) GetPriceChangedEntries(ctx context.Context, runID int64) ([]models.ManifestEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+manifestColumns+` FROM property_manifest WHERE price_changed AND seen_in_run_id = $1`, runID)
	if err != nil {
		return nil, err
	}
	return scanManifestRows(rows)
}

func (s *PostgresStore) ClearManifestFlags(ctx context.Context, runID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE property_manifest
		 SET is_new = false, price_changed = false, needs_full_scrape = false
		 WHERE seen_in_run_id = $1`, runID)
	return err
}

func (s *PostgresStore) DeleteManifestEntries(ctx context.Context, ids []string) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM property_manifest WHERE property_id = ANY($1)`, chunk); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Canonical
// =============================================================================

const canonicalColumns = `property_id, source_url, price, price_at_last_manifest, title, description,
	property_type, operation_type, bedrooms, bathrooms, area_built, area_total,
	address, neighborhood, city, state, postal_code, latitude, longitude,
	amenities, features, images, agent_name, agent_phone, agency_name, extra,
	listing_status, status, consecutive_missing_count, scrape_priority,
	last_full_scrape_at, last_manifest_seen_at, first_seen_at, last_seen_at, last_updated_at`

func scanCanonicalRows(rows pgx.Rows) ([]models.CanonicalProperty, error) {
	defer rows.Close()
	var props []models.CanonicalProperty
	for rows.Next() {
		var p models.CanonicalProperty
		var amenities, features, images []byte
		if err := rows.Scan(
			&p.PropertyID, &p.SourceURL, &p.Price, &p.PriceAtLastManifest, &p.Title, &p.Description,
			&p.PropertyType, &p.OperationType, &p.Bedrooms, &p.Bathrooms, &p.AreaBuilt, &p.AreaTotal,
			&p.Address, &p.Neighborhood, &p.City, &p.State, &p.PostalCode, &p.Latitude, &p.Longitude,
			&amenities, &features, &images, &p.AgentName, &p.AgentPhone, &p.AgencyName, &p.Extra,
			&p.ListingStatus, &p.Status, &p.ConsecutiveMissingCount, &p.ScrapePriority,
			&p.LastFullScrapeAt, &p.LastManifestSeenAt, &p.FirstSeenAt, &p.LastSeenAt, &p.LastUpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Amenities = unmarshalStrings(amenities)
		p.Features = unmarshalStrings(features)
		p.Images = unmarshalStrings(images)
		props = append(props, p)
	}
	return props, rows.Err()
}

func (s *PostgresStore) GetCanonicalByIDs(ctx context.Context, ids []string) ([]models.CanonicalProperty, error) {
	var all []models.CanonicalProperty
	for _, chunk := range chunkStrings(ids, ReadChunkSize) {
		rows, err := s.pool.Query(ctx,
			`SELECT `+canonicalColumns+` FROM properties_live WHERE property_id = ANY($1)`, chunk)
		if err != nil {
			return nil, err
		}
		props, err := scanCanonicalRows(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, props...)
	}
	return all, nil
}

// UpsertCanonicalFromScrape applies the merge policy: scraped non-null values
// overwrite, null/empty values never clobber, arrays replace wholesale, and
// scrape stamps reset the lifecycle to active.
func (s *PostgresStore) UpsertCanonicalFromScrape(ctx context.Context, p *models.CanonicalProperty) error {
	query := `
		INSERT INTO properties_live (` + canonicalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35)
		ON CONFLICT (property_id) DO UPDATE SET
			source_url = COALESCE(NULLIF(EXCLUDED.source_url, ''), properties_live.source_url),
			price = COALESCE(EXCLUDED.price, properties_live.price),
			price_at_last_manifest = COALESCE(EXCLUDED.price_at_last_manifest, properties_live.price_at_last_manifest),
			title = COALESCE(NULLIF(EXCLUDED.title, ''), properties_live.title),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), properties_live.description),
			property_type = COALESCE(NULLIF(EXCLUDED.property_type, ''), properties_live.property_type),
			operation_type = COALESCE(NULLIF(EXCLUDED.operation_type, ''), properties_live.operation_type),
			bedrooms = COALESCE(EXCLUDED.bedrooms, properties_live.bedrooms),
			bathrooms = COALESCE(EXCLUDED.bathrooms, properties_live.bathrooms),
			area_built = COALESCE(EXCLUDED.area_built, properties_live.area_built),
			area_total = COALESCE(EXCLUDED.area_total, properties_live.area_total),
			address = COALESCE(NULLIF(EXCLUDED.address, ''), properties_live.address),
			neighborhood = COALESCE(NULLIF(EXCLUDED.neighborhood, ''), properties_live.neighborhood),
			city = COALESCE(NULLIF(EXCLUDED.city, ''), properties_live.city),
			state = COALESCE(NULLIF(EXCLUDED.state, ''), properties_live.state),
			postal_code = COALESCE(NULLIF(EXCLUDED.postal_code, ''), properties_live.postal_code),
			latitude = COALESCE(EXCLUDED.latitude, properties_live.latitude),
			longitude = COALESCE(EXCLUDED.longitude, properties_live.longitude),
			amenities = COALESCE(EXCLUDED.amenities, properties_live.amenities),
			features = COALESCE(EXCLUDED.features, properties_live.features),
			images = COALESCE(EXCLUDED.images, properties_live.images),
			agent_name = COALESCE(NULLIF(EXCLUDED.agent_name, ''), properties_live.agent_name),
			agent_phone = COALESCE(NULLIF(EXCLUDED.agent_phone, ''), properties_live.agent_phone),
			agency_name = COALESCE(NULLIF(EXCLUDED.agency_name, ''), properties_live.agency_name),
			extra = COALESCE(EXCLUDED.extra, properties_live.extra),
			listing_status = EXCLUDED.listing_status,
			status = EXCLUDED.status,
			consecutive_missing_count = 0,
			scrape_priority = EXCLUDED.scrape_priority,
			last_full_scrape_at = EXCLUDED.last_full_scrape_at,
			last_manifest_seen_at = EXCLUDED.last_manifest_seen_at,
			last_seen_at = EXCLUDED.last_seen_at,
			last_updated_at = EXCLUDED.last_updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.PropertyID, p.SourceURL, p.Price, p.PriceAtLastManifest, p.Title, p.Description,
		p.PropertyType, p.OperationType, p.Bedrooms, p.Bathrooms, p.AreaBuilt, p.AreaTotal,
		p.Address, p.Neighborhood, p.City, p.State, p.PostalCode, p.Latitude, p.Longitude,
		marshalStrings(p.Amenities), marshalStrings(p.Features), marshalStrings(p.Images),
		p.AgentName, p.AgentPhone, p.AgencyName, p.Extra,
		p.ListingStatus, p.Status, p.ConsecutiveMissingCount, p.ScrapePriority,
		p.LastFullScrapeAt, p.LastManifestSeenAt, p.FirstSeenAt, p.LastSeenAt, p.LastUpdatedAt,
	)
	return err
}

func (s *PostgresStore) IncrementMissingCounts(ctx context.Context, runID int64, operationTypes []string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE properties_live
		SET consecutive_missing_count = consecutive_missing_count + 1, last_updated_at = $3
		WHERE status = 'active'
		  AND operation_type = ANY($2)
		  AND property_id NOT IN (
			SELECT property_id FROM property_manifest WHERE seen_in_run_id = $1
		  )`, runID, operationTypes, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ResetMissingCounts(ctx context.Context, runID int64, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE properties_live
		SET consecutive_missing_count = 0, last_manifest_seen_at = $2, last_updated_at = $2
		WHERE property_id IN (
			SELECT property_id FROM property_manifest WHERE seen_in_run_id = $1
		)`, runID, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetRemovalCandidates(ctx context.Context, minMissing, limit int) ([]models.CanonicalProperty, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+canonicalColumns+` FROM properties_live
		 WHERE status = 'active' AND consecutive_missing_count >= $1
		 ORDER BY last_manifest_seen_at NULLS FIRST
		 LIMIT $2`, minMissing, limit)
	if err != nil {
		return nil, err
	}
	return scanCanonicalRows(rows)
}

func (s *PostgresStore) MarkConfirmedRemoved(ctx context.Context, ids []string, now time.Time) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		if _, err := s.pool.Exec(ctx, `
			UPDATE properties_live
			SET listing_status = 'confirmed_removed', status = 'removed', last_updated_at = $2
			WHERE property_id = ANY($1)`, chunk, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ClearRemovalCandidates(ctx context.Context, ids []string, now time.Time) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		if _, err := s.pool.Exec(ctx, `
			UPDATE properties_live
			SET consecutive_missing_count = 0, last_manifest_seen_at = $2, last_updated_at = $2
			WHERE property_id = ANY($1)`, chunk, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetRelistedIDs(ctx context.Context, runID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.property_id
		FROM properties_live p
		JOIN property_manifest m ON m.property_id = p.property_id
		WHERE m.seen_in_run_id = $1
		  AND p.listing_status IN ('confirmed_removed', 'sold', 'likely_removed')`, runID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (s *PostgresStore) MarkRelisted(ctx context.Context, ids []string, now time.Time) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		if _, err := s.pool.Exec(ctx, `
			UPDATE properties_live
			SET listing_status = 'relisted', status = 'active',
				consecutive_missing_count = 0, last_manifest_seen_at = $2, last_updated_at = $2
			WHERE property_id = ANY($1)`, chunk, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CountActiveCanonical(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM properties_live WHERE status = 'active'`).Scan(&n)
	return n, err
}

func (s *PostgresStore) GetStaleCanonicalIDs(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT property_id FROM properties_live
		WHERE status = 'active'
		  AND (last_full_scrape_at IS NULL OR last_full_scrape_at < $1)
		ORDER BY last_full_scrape_at NULLS FIRST
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (s *PostgresStore) GetRandomCanonicalIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT property_id FROM properties_live
		WHERE status = 'active'
		ORDER BY random()
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// =============================================================================
// Queue
// =============================================================================

const queueColumns = `id, property_id, source_url, priority, queue_reason, status, metadata,
	attempt_count, claimed_at, claimed_by, last_error, queued_at, completed_at, run_id`

func scanQueueRows(rows pgx.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(
			&e.ID, &e.PropertyID, &e.SourceURL, &e.Priority, &e.QueueReason, &e.Status, &e.Metadata,
			&e.AttemptCount, &e.ClaimedAt, &e.ClaimedBy, &e.LastError, &e.QueuedAt, &e.CompletedAt, &e.RunID,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertQueueEntry inserts a pending entry; the partial unique index on
// (property_id) WHERE status = 'pending' makes duplicate pendings a silent
// no-op. Returns false when the insert was skipped.
func (s *PostgresStore) InsertQueueEntry(ctx context.Context, e *models.QueueEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_queue (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (property_id) WHERE status = 'pending' DO NOTHING`,
		e.ID, e.PropertyID, e.SourceURL, e.Priority, e.QueueReason, e.Status, e.Metadata,
		e.AttemptCount, e.ClaimedAt, e.ClaimedBy, e.LastError, e.QueuedAt, e.CompletedAt, e.RunID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CountQueuePending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM scrape_queue WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// ClaimQueueBatch atomically flips up to n pending entries to in_progress.
// SKIP LOCKED lets concurrent workers claim disjoint batches.
func (s *PostgresStore) ClaimQueueBatch(ctx context.Context, n int, workerID string, now time.Time) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scrape_queue
		SET status = 'in_progress', claimed_at = $2, claimed_by = $3,
			attempt_count = attempt_count + 1
		WHERE id IN (
			SELECT id FROM scrape_queue
			WHERE status = 'pending'
			ORDER BY priority ASC, queued_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns, n, now, workerID)
	if err != nil {
		return nil, err
	}
	return scanQueueRows(rows)
}

func (s *PostgresStore) CompleteQueueEntry(ctx context.Context, id uuid.UUID, success bool, errMsg string, now time.Time) error {
	status := models.QueueCompleted
	var lastErr *string
	if !success {
		status = models.QueueFailed
		trimmed := truncateError(errMsg)
		lastErr = &trimmed
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_queue
		SET status = $2, completed_at = $3, last_error = COALESCE($4, last_error)
		WHERE id = $1`, id, status, now, lastErr)
	return err
}

func (s *PostgresStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_queue
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL
		WHERE status = 'in_progress' AND claimed_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RetryFailedEntries(ctx context.Context, maxAttempts, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_queue
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL, completed_at = NULL
		WHERE id IN (
			SELECT id FROM scrape_queue
			WHERE status = 'failed' AND attempt_count < $1
			ORDER BY queued_at
			LIMIT $2
		)`, maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CancelPendingByReason(ctx context.Context, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_queue SET status = 'cancelled'
		WHERE status = 'pending' AND queue_reason = $1`, reason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM scrape_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		applyQueueCount(stats, status, n)
	}
	return stats, rows.Err()
}

func (s *PostgresStore) CleanupQueue(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM scrape_queue
		WHERE status IN ('completed', 'cancelled') AND queued_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Sync runs
// =============================================================================

const runColumns = `id, tier_level, tier_name, status, started_at, completed_at,
	pages_scanned, new_found, price_changes, removals_confirmed, queued, scraped, updated, error_summary`

func (s *PostgresStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (tier_level, tier_name, status, started_at,
			pages_scanned, new_found, price_changes, removals_confirmed, queued, scraped, updated, error_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		run.TierLevel, run.TierName, run.Status, run.StartedAt,
		run.PagesScanned, run.NewFound, run.PriceChanges, run.RemovalsConfirmed,
		run.Queued, run.Scraped, run.Updated, run.ErrorSummary,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdateSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET
			status = $2, completed_at = $3, pages_scanned = $4, new_found = $5,
			price_changes = $6, removals_confirmed = $7, queued = $8, scraped = $9,
			updated = $10, error_summary = $11
		WHERE id = $1`,
		run.ID, run.Status, run.CompletedAt, run.PagesScanned, run.NewFound,
		run.PriceChanges, run.RemovalsConfirmed, run.Queued, run.Scraped,
		run.Updated, run.ErrorSummary,
	)
	return err
}

func (s *PostgresStore) getRun(ctx context.Context, query string, args ...interface{}) (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&run.ID, &run.TierLevel, &run.TierName, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.PagesScanned, &run.NewFound, &run.PriceChanges, &run.RemovalsConfirmed,
		&run.Queued, &run.Scraped, &run.Updated, &run.ErrorSummary,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PostgresStore) GetLastRun(ctx context.Context, tierLevel int) (*models.SyncRun, error) {
	return s.getRun(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE tier_level = $1 ORDER BY started_at DESC LIMIT 1`,
		tierLevel)
}

func (s *PostgresStore) GetLastSuccessfulRun(ctx context.Context, tierLevel int) (*models.SyncRun, error) {
	return s.getRun(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		 WHERE tier_level = $1 AND status = 'completed'
		 ORDER BY started_at DESC LIMIT 1`,
		tierLevel)
}

func (s *PostgresStore) ListRuns(ctx context.Context, tierLevel, limit int) ([]models.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs`
	args := []interface{}{limit}
	if tierLevel > 0 {
		query += ` WHERE tier_level = $2`
		args = append(args, tierLevel)
	}
	query += ` ORDER BY started_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		if err := rows.Scan(
			&run.ID, &run.TierLevel, &run.TierName, &run.Status, &run.StartedAt, &run.CompletedAt,
			&run.PagesScanned, &run.NewFound, &run.PriceChanges, &run.RemovalsConfirmed,
			&run.Queued, &run.Scraped, &run.Updated, &run.ErrorSummary,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) SummarizeRuns(ctx context.Context, days int) ([]models.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tier_level, count(*),
			count(*) FILTER (WHERE status = 'failed'),
			COALESCE(sum(pages_scanned), 0), COALESCE(sum(new_found), 0),
			COALESCE(sum(price_changes), 0), COALESCE(sum(removals_confirmed), 0),
			COALESCE(sum(scraped), 0), max(started_at)
		FROM sync_runs
		WHERE started_at > now() - make_interval(days => $1)
		GROUP BY tier_level
		ORDER BY tier_level`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RunSummary
	for rows.Next() {
		var rs models.RunSummary
		if err := rows.Scan(
			&rs.TierLevel, &rs.Runs, &rs.Failures, &rs.PagesScanned, &rs.NewFound,
			&rs.PriceChanges, &rs.RemovalsConfirmed, &rs.Scraped, &rs.LastRunAt,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, rs)
	}
	return summaries, rows.Err()
}

// =============================================================================
// Scraping sessions
// =============================================================================

func (s *PostgresStore) CreateScrapingSession(ctx context.Context, sess *models.ScrapingSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraping_sessions (id, tier_level, status, started_at)
		VALUES ($1, $2, $3, $4)`,
		sess.ID, sess.TierLevel, sess.Status, sess.StartedAt)
	return err
}

func (s *PostgresStore) CloseScrapingSession(ctx context.Context, id uuid.UUID, status string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraping_sessions SET status = $2, completed_at = $3 WHERE id = $1`,
		id, status, now)
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func scanIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func applyQueueCount(stats *models.QueueStats, status string, n int) {
	switch status {
	case models.QueuePending:
		stats.Pending = n
	case models.QueueInProgress:
		stats.InProgress = n
	case models.QueueCompleted:
		stats.Completed = n
	case models.QueueFailed:
		stats.Failed = n
	case models.QueueCancelled:
		stats.Cancelled = n
	}
}

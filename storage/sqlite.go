package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/SpencerMonger/PropScraper-sub000/models"
)

// SQLiteStore backs local and development runs. It migrates its own schema
// and emulates the atomic queue claim with a compare-and-swap update, since
// SQLite has no SKIP LOCKED.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS property_manifest (
		property_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		listing_price REAL,
		listing_title TEXT,
		latitude REAL,
		longitude REAL,
		operation_type TEXT,
		is_new BOOLEAN DEFAULT FALSE,
		price_changed BOOLEAN DEFAULT FALSE,
		needs_full_scrape BOOLEAN DEFAULT FALSE,
		first_seen_at DATETIME,
		last_seen_at DATETIME,
		seen_in_run_id INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_manifest_run ON property_manifest(seen_in_run_id);

	CREATE TABLE IF NOT EXISTS properties_live (
		property_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		price REAL,
		price_at_last_manifest REAL,
		title TEXT DEFAULT '',
		description TEXT DEFAULT '',
		property_type TEXT DEFAULT '',
		operation_type TEXT DEFAULT '',
		bedrooms INTEGER,
		bathrooms INTEGER,
		area_built REAL,
		area_total REAL,
		address TEXT DEFAULT '',
		neighborhood TEXT DEFAULT '',
		city TEXT DEFAULT '',
		state TEXT DEFAULT '',
		postal_code TEXT DEFAULT '',
		latitude REAL,
		longitude REAL,
		amenities JSON,
		features JSON,
		images JSON,
		agent_name TEXT DEFAULT '',
		agent_phone TEXT DEFAULT '',
		agency_name TEXT DEFAULT '',
		extra JSON,
		listing_status TEXT DEFAULT 'active',
		status TEXT DEFAULT 'active',
		consecutive_missing_count INTEGER DEFAULT 0,
		scrape_priority INTEGER DEFAULT 3,
		last_full_scrape_at DATETIME,
		last_manifest_seen_at DATETIME,
		first_seen_at DATETIME,
		last_seen_at DATETIME,
		last_updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_live_status_seen ON properties_live(listing_status, last_manifest_seen_at);

	CREATE TABLE IF NOT EXISTS scrape_queue (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		source_url TEXT NOT NULL,
		priority INTEGER DEFAULT 3,
		queue_reason TEXT,
		status TEXT DEFAULT 'pending',
		metadata JSON,
		attempt_count INTEGER DEFAULT 0,
		claimed_at DATETIME,
		claimed_by TEXT,
		last_error TEXT,
		queued_at DATETIME,
		completed_at DATETIME,
		run_id INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_pending_property
		ON scrape_queue(property_id) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_queue_claim ON scrape_queue(status, priority, queued_at);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY,
		tier_level INTEGER,
		tier_name TEXT,
		status TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		pages_scanned INTEGER DEFAULT 0,
		new_found INTEGER DEFAULT 0,
		price_changes INTEGER DEFAULT 0,
		removals_confirmed INTEGER DEFAULT 0,
		queued INTEGER DEFAULT 0,
		scraped INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		error_summary TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS scraping_sessions (
		id TEXT PRIMARY KEY,
		tier_level INTEGER,
		status TEXT,
		started_at DATETIME,
		completed_at DATETIME
	);`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Manifest
// =============================================================================

func (s *SQLiteStore) UpsertManifestEntries(ctx context.Context, entries []models.ManifestEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO property_manifest (
			property_id, source_url, listing_price, listing_title, latitude, longitude,
			operation_type, is_new, price_changed, needs_full_scrape,
			first_seen_at, last_seen_at, seen_in_run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (property_id) DO UPDATE SET
			source_url = excluded.source_url,
			listing_price = COALESCE(excluded.listing_price, property_manifest.listing_price),
			listing_title = COALESCE(excluded.listing_title, property_manifest.listing_title),
			latitude = COALESCE(excluded.latitude, property_manifest.latitude),
			longitude = COALESCE(excluded.longitude, property_manifest.longitude),
			operation_type = excluded.operation_type,
			is_new = excluded.is_new,
			price_changed = excluded.price_changed,
			needs_full_scrape = excluded.needs_full_scrape,
			last_seen_at = excluded.last_seen_at,
			seen_in_run_id = excluded.seen_in_run_id`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		if _, err := stmt.ExecContext(ctx,
			e.PropertyID, e.SourceURL, e.ListingPrice, e.ListingTitle, e.Latitude, e.Longitude,
			e.OperationType, e.IsNew, e.PriceChanged, e.NeedsFullScrape,
			e.FirstSeenAt, e.LastSeenAt, e.SeenInRunID,
		); err != nil {
			return fmt.Errorf("upsert manifest %s: %w", e.PropertyID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) scanManifest(rows *sql.Rows) ([]models.ManifestEntry, error) {
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

func (s *SQLiteStore) GetManifestEntries(ctx context.Context, ids []string) ([]models.ManifestEntry, error) {
	var all []models.ManifestEntry
	for _, chunk := range chunkStrings(ids, ReadChunkSize) {
		query := `SELECT ` + manifestColumns + ` FROM property_manifest WHERE property_id IN (` + placeholders(len(chunk)) + `)`
		rows, err := s.db.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		entries, err := s.scanManifest(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func (s *SQLiteStore) GetNewPropertyIDs(ctx context.Context, runID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT property_id FROM property_manifest WHERE is_new AND seen_in_run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	return s.scanStringIDs(rows)
}

func (s *SQLiteStore) GetPriceChangedEntries(ctx context.Context, runID int64) ([]models.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+manifestColumns+` FROM property_manifest WHERE price_changed AND seen_in_run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	return s.scanManifest(rows)
}

func (s *SQLiteStore) ClearManifestFlags(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE property_manifest
		SET is_new = FALSE, price_changed = FALSE, needs_full_scrape = FALSE
		WHERE seen_in_run_id = ?`, runID)
	return err
}

func (s *SQLiteStore) DeleteManifestEntries(ctx context.Context, ids []string) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		query := `DELETE FROM property_manifest WHERE property_id IN (` + placeholders(len(chunk)) + `)`
		if _, err := s.db.ExecContext(ctx, query, stringArgs(chunk)...); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Canonical
// =============================================================================

func (s *SQLiteStore) scanCanonical(rows *sql.Rows) ([]models.CanonicalProperty, error) {
	defer rows.Close()
	var props []models.CanonicalProperty
	for rows.Next() {
		var p models.CanonicalProperty
		// JSON columns are nullable; database/sql cannot scan NULL into
		// json.RawMessage directly, so go through []byte.
		var amenities, features, images, extra []byte
		if err := rows.Scan(
			&p.PropertyID, &p.SourceURL, &p.Price, &p.PriceAtLastManifest, &p.Title, &p.Description,
			&p.PropertyType, &p.OperationType, &p.Bedrooms, &p.Bathrooms, &p.AreaBuilt, &p.AreaTotal,
			&p.Address, &p.Neighborhood, &p.City, &p.State, &p.PostalCode, &p.Latitude, &p.Longitude,
			&amenities, &features, &images, &p.AgentName, &p.AgentPhone, &p.AgencyName, &extra,
			&p.ListingStatus, &p.Status, &p.ConsecutiveMissingCount, &p.ScrapePriority,
			&p.LastFullScrapeAt, &p.LastManifestSeenAt, &p.FirstSeenAt, &p.LastSeenAt, &p.LastUpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Amenities = unmarshalStrings(amenities)
		p.Features = unmarshalStrings(features)
		p.Images = unmarshalStrings(images)
		p.Extra = extra
		props = append(props, p)
	}
	return props, rows.Err()
}

func (s *SQLiteStore) GetCanonicalByIDs(ctx context.Context, ids []string) ([]models.CanonicalProperty, error) {
	var all []models.CanonicalProperty
	for _, chunk := range chunkStrings(ids, ReadChunkSize) {
		query := `SELECT ` + canonicalColumns + ` FROM properties_live WHERE property_id IN (` + placeholders(len(chunk)) + `)`
		rows, err := s.db.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		props, err := s.scanCanonical(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, props...)
	}
	return all, nil
}

func (s *SQLiteStore) UpsertCanonicalFromScrape(ctx context.Context, p *models.CanonicalProperty) error {
	query := `
		INSERT INTO properties_live (` + canonicalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (property_id) DO UPDATE SET
			source_url = CASE WHEN excluded.source_url != '' THEN excluded.source_url ELSE properties_live.source_url END,
			price = COALESCE(excluded.price, properties_live.price),
			price_at_last_manifest = COALESCE(excluded.price_at_last_manifest, properties_live.price_at_last_manifest),
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE properties_live.title END,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE properties_live.description END,
			property_type = CASE WHEN excluded.property_type != '' THEN excluded.property_type ELSE properties_live.property_type END,
			operation_type = CASE WHEN excluded.operation_type != '' THEN excluded.operation_type ELSE properties_live.operation_type END,
			bedrooms = COALESCE(excluded.bedrooms, properties_live.bedrooms),
			bathrooms = COALESCE(excluded.bathrooms, properties_live.bathrooms),
			area_built = COALESCE(excluded.area_built, properties_live.area_built),
			area_total = COALESCE(excluded.area_total, properties_live.area_total),
			address = CASE WHEN excluded.address != '' THEN excluded.address ELSE properties_live.address END,
			neighborhood = CASE WHEN excluded.neighborhood != '' THEN excluded.neighborhood ELSE properties_live.neighborhood END,
			city = CASE WHEN excluded.city != '' THEN excluded.city ELSE properties_live.city END,
			state = CASE WHEN excluded.state != '' THEN excluded.state ELSE properties_live.state END,
			postal_code = CASE WHEN excluded.postal_code != '' THEN excluded.postal_code ELSE properties_live.postal_code END,
			latitude = COALESCE(excluded.latitude, properties_live.latitude),
			longitude = COALESCE(excluded.longitude, properties_live.longitude),
			amenities = COALESCE(excluded.amenities, properties_live.amenities),
			features = COALESCE(excluded.features, properties_live.features),
			images = COALESCE(excluded.images, properties_live.images),
			agent_name = CASE WHEN excluded.agent_name != '' THEN excluded.agent_name ELSE properties_live.agent_name END,
			agent_phone = CASE WHEN excluded.agent_phone != '' THEN excluded.agent_phone ELSE properties_live.agent_phone END,
			agency_name = CASE WHEN excluded.agency_name != '' THEN excluded.agency_name ELSE properties_live.agency_name END,
			extra = COALESCE(excluded.extra, properties_live.extra),
			listing_status = excluded.listing_status,
			status = excluded.status,
			consecutive_missing_count = 0,
			scrape_priority = excluded.scrape_priority,
			last_full_scrape_at = excluded.last_full_scrape_at,
			last_manifest_seen_at = excluded.last_manifest_seen_at,
			last_seen_at = excluded.last_seen_at,
			last_updated_at = excluded.last_updated_at`

	_, err := s.db.ExecContext(ctx, query,
		p.PropertyID, p.SourceURL, p.Price, p.PriceAtLastManifest, p.Title, p.Description,
		p.PropertyType, p.OperationType, p.Bedrooms, p.Bathrooms, p.AreaBuilt, p.AreaTotal,
		p.Address, p.Neighborhood, p.City, p.State, p.PostalCode, p.Latitude, p.Longitude,
		marshalStrings(p.Amenities), marshalStrings(p.Features), marshalStrings(p.Images),
		p.AgentName, p.AgentPhone, p.AgencyName, nullableJSON(p.Extra),
		p.ListingStatus, p.Status, p.ConsecutiveMissingCount, p.ScrapePriority,
		p.LastFullScrapeAt, p.LastManifestSeenAt, p.FirstSeenAt, p.LastSeenAt, p.LastUpdatedAt,
	)
	return err
}

func (s *SQLiteStore) IncrementMissingCounts(ctx context.Context, runID int64, operationTypes []string, now time.Time) (int, error) {
	query := `
		UPDATE properties_live
		SET consecutive_missing_count = consecutive_missing_count + 1, last_updated_at = ?
		WHERE status = 'active'
		  AND operation_type IN (` + placeholders(len(operationTypes)) + `)
		  AND property_id NOT IN (
			SELECT property_id FROM property_manifest WHERE seen_in_run_id = ?
		  )`
	args := []interface{}{now}
	for _, op := range operationTypes {
		args = append(args, op)
	}
	args = append(args, runID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ResetMissingCounts(ctx context.Context, runID int64, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE properties_live
		SET consecutive_missing_count = 0, last_manifest_seen_at = ?, last_updated_at = ?
		WHERE property_id IN (
			SELECT property_id FROM property_manifest WHERE seen_in_run_id = ?
		)`, now, now, runID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) GetRemovalCandidates(ctx context.Context, minMissing, limit int) ([]models.CanonicalProperty, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+canonicalColumns+` FROM properties_live
		 WHERE status = 'active' AND consecutive_missing_count >= ?
		 ORDER BY last_manifest_seen_at
		 LIMIT ?`, minMissing, limit)
	if err != nil {
		return nil, err
	}
	return s.scanCanonical(rows)
}

func (s *SQLiteStore) MarkConfirmedRemoved(ctx context.Context, ids []string, now time.Time) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		query := `
			UPDATE properties_live
			SET listing_status = 'confirmed_removed', status = 'removed', last_updated_at = ?
			WHERE property_id IN (` + placeholders(len(chunk)) + `)`
		if _, err := s.db.ExecContext(ctx, query, prepend(now, chunk)...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ClearRemovalCandidates(ctx context.Context, ids []string, now time.Time) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		query := `
			UPDATE properties_live
			SET consecutive_missing_count = 0, last_manifest_seen_at = ?, last_updated_at = ?
			WHERE property_id IN (` + placeholders(len(chunk)) + `)`
		args := []interface{}{now, now}
		for _, id := range chunk {
			args = append(args, id)
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetRelistedIDs(ctx context.Context, runID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.property_id
		FROM properties_live p
		JOIN property_manifest m ON m.property_id = p.property_id
		WHERE m.seen_in_run_id = ?
		  AND p.listing_status IN ('confirmed_removed', 'sold', 'likely_removed')`, runID)
	if err != nil {
		return nil, err
	}
	return s.scanStringIDs(rows)
}

func (s *SQLiteStore) MarkRelisted(ctx context.Context, ids []string, now time.Time) error {
	for _, chunk := range chunkStrings(ids, WriteChunkSize) {
		query := `
			UPDATE properties_live
			SET listing_status = 'relisted', status = 'active',
				consecutive_missing_count = 0, last_manifest_seen_at = ?, last_updated_at = ?
			WHERE property_id IN (` + placeholders(len(chunk)) + `)`
		args := []interface{}{now, now}
		for _, id := range chunk {
			args = append(args, id)
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CountActiveCanonical(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM properties_live WHERE status = 'active'`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) GetStaleCanonicalIDs(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT property_id FROM properties_live
		WHERE status = 'active'
		  AND (last_full_scrape_at IS NULL OR last_full_scrape_at < ?)
		ORDER BY last_full_scrape_at
		LIMIT ?`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return s.scanStringIDs(rows)
}

func (s *SQLiteStore) GetRandomCanonicalIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT property_id FROM properties_live
		WHERE status = 'active'
		ORDER BY RANDOM()
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return s.scanStringIDs(rows)
}

// =============================================================================
// Queue
// =============================================================================

func (s *SQLiteStore) scanQueue(rows *sql.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var id string
		var metadata []byte
		if err := rows.Scan(
			&id, &e.PropertyID, &e.SourceURL, &e.Priority, &e.QueueReason, &e.Status, &metadata,
			&e.AttemptCount, &e.ClaimedAt, &e.ClaimedBy, &e.LastError, &e.QueuedAt, &e.CompletedAt, &e.RunID,
		); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("queue entry id %q: %w", id, err)
		}
		e.ID = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) InsertQueueEntry(ctx context.Context, e *models.QueueEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (property_id) WHERE status = 'pending' DO NOTHING`,
		e.ID.String(), e.PropertyID, e.SourceURL, e.Priority, e.QueueReason, e.Status, nullableJSON(e.Metadata),
		e.AttemptCount, e.ClaimedAt, e.ClaimedBy, e.LastError, e.QueuedAt, e.CompletedAt, e.RunID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) CountQueuePending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM scrape_queue WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// ClaimQueueBatch emulates the atomic claim: select candidate ids, then flip
// each with a guarded update. A row whose status changed between the two
// steps is a lost race and simply is not returned.
func (s *SQLiteStore) ClaimQueueBatch(ctx context.Context, n int, workerID string, now time.Time) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM scrape_queue
		WHERE status = 'pending'
		ORDER BY priority ASC, queued_at ASC
		LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	candidates, err := s.scanStringIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var claimed []string
	for _, id := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE scrape_queue
			SET status = 'in_progress', claimed_at = ?, claimed_by = ?,
				attempt_count = attempt_count + 1
			WHERE id = ? AND status = 'pending'`, now, workerID, id)
		if err != nil {
			return nil, err
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	query := `SELECT ` + queueColumns + ` FROM scrape_queue WHERE id IN (` + placeholders(len(claimed)) + `)
		ORDER BY priority ASC, queued_at ASC`
	rows, err = s.db.QueryContext(ctx, query, stringArgs(claimed)...)
	if err != nil {
		return nil, err
	}
	return s.scanQueue(rows)
}

func (s *SQLiteStore) CompleteQueueEntry(ctx context.Context, id uuid.UUID, success bool, errMsg string, now time.Time) error {
	status := models.QueueCompleted
	var lastErr interface{}
	if !success {
		status = models.QueueFailed
		lastErr = truncateError(errMsg)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_queue
		SET status = ?, completed_at = ?, last_error = COALESCE(?, last_error)
		WHERE id = ?`, status, now, lastErr, id.String())
	return err
}

func (s *SQLiteStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_queue
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL
		WHERE status = 'in_progress' AND claimed_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) RetryFailedEntries(ctx context.Context, maxAttempts, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_queue
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL, completed_at = NULL
		WHERE id IN (
			SELECT id FROM scrape_queue
			WHERE status = 'failed' AND attempt_count < ?
			ORDER BY queued_at
			LIMIT ?
		)`, maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) CancelPendingByReason(ctx context.Context, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_queue SET status = 'cancelled'
		WHERE status = 'pending' AND queue_reason = ?`, reason)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
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

func (s *SQLiteStore) CleanupQueue(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scrape_queue
		WHERE status IN ('completed', 'cancelled') AND queued_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// Sync runs
// =============================================================================

func (s *SQLiteStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (tier_level, tier_name, status, started_at,
			pages_scanned, new_found, price_changes, removals_confirmed, queued, scraped, updated, error_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TierLevel, run.TierName, run.Status, run.StartedAt,
		run.PagesScanned, run.NewFound, run.PriceChanges, run.RemovalsConfirmed,
		run.Queued, run.Scraped, run.Updated, run.ErrorSummary,
	)
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = ?, completed_at = ?, pages_scanned = ?, new_found = ?,
			price_changes = ?, removals_confirmed = ?, queued = ?, scraped = ?,
			updated = ?, error_summary = ?
		WHERE id = ?`,
		run.Status, run.CompletedAt, run.PagesScanned, run.NewFound,
		run.PriceChanges, run.RemovalsConfirmed, run.Queued, run.Scraped,
		run.Updated, run.ErrorSummary, run.ID,
	)
	return err
}

func (s *SQLiteStore) getRun(ctx context.Context, query string, args ...interface{}) (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &run.TierLevel, &run.TierName, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.PagesScanned, &run.NewFound, &run.PriceChanges, &run.RemovalsConfirmed,
		&run.Queued, &run.Scraped, &run.Updated, &run.ErrorSummary,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) GetLastRun(ctx context.Context, tierLevel int) (*models.SyncRun, error) {
	return s.getRun(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE tier_level = ? ORDER BY started_at DESC LIMIT 1`,
		tierLevel)
}

func (s *SQLiteStore) GetLastSuccessfulRun(ctx context.Context, tierLevel int) (*models.SyncRun, error) {
	return s.getRun(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		 WHERE tier_level = ? AND status = 'completed'
		 ORDER BY started_at DESC LIMIT 1`,
		tierLevel)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, tierLevel, limit int) ([]models.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs`
	var args []interface{}
	if tierLevel > 0 {
		query += ` WHERE tier_level = ?`
		args = append(args, tierLevel)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) SummarizeRuns(ctx context.Context, days int) ([]models.RunSummary, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier_level, count(*),
			sum(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			COALESCE(sum(pages_scanned), 0), COALESCE(sum(new_found), 0),
			COALESCE(sum(price_changes), 0), COALESCE(sum(removals_confirmed), 0),
			COALESCE(sum(scraped), 0), max(started_at)
		FROM sync_runs
		WHERE started_at > ?
		GROUP BY tier_level
		ORDER BY tier_level`, cutoff)
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

func (s *SQLiteStore) CreateScrapingSession(ctx context.Context, sess *models.ScrapingSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraping_sessions (id, tier_level, status, started_at)
		VALUES (?, ?, ?, ?)`,
		sess.ID.String(), sess.TierLevel, sess.Status, sess.StartedAt)
	return err
}

func (s *SQLiteStore) CloseScrapingSession(ctx context.Context, id uuid.UUID, status string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_sessions SET status = ?, completed_at = ? WHERE id = ?`,
		status, now, id.String())
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func (s *SQLiteStore) scanStringIDs(rows *sql.Rows) ([]string, error) {
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func prepend(first interface{}, ids []string) []interface{} {
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, first)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return data
}

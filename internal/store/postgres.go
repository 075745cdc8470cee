package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"event-extractor/internal/models"
)

// Store wraps pgxpool for Postgres persistence of tenants and events.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const tenantColumns = `tenant_id, company_name, api_url, api_key, active,
	extraction_interval_minutes, extract_custom_events, extract_standard_events,
	max_retry_attempts, timeout_seconds,
	last_successful_extraction, last_attempted_extraction, last_extraction_error,
	custom_cursor, standard_cursor, created_at, updated_at`

// FindEligibleForExtraction returns active tenants whose last attempt is
// at least one extraction interval before now, never-attempted first.
func (s *Store) FindEligibleForExtraction(ctx context.Context, now time.Time) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenant_configurations
		WHERE active
		  AND (last_attempted_extraction IS NULL
		       OR last_attempted_extraction <= $1::timestamptz - make_interval(mins => COALESCE(NULLIF(extraction_interval_minutes, 0), $2)))
		ORDER BY last_attempted_extraction NULLS FIRST, tenant_id
	`, now.UTC(), models.DefaultIntervalMinutes)
	if err != nil {
		return nil, fmt.Errorf("query eligible tenants: %w", err)
	}
	return collectTenants(rows)
}

// FindTenantsWithErrors returns active tenants whose last run failed.
func (s *Store) FindTenantsWithErrors(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenant_configurations
		WHERE active AND last_extraction_error IS NOT NULL
		ORDER BY last_attempted_extraction DESC NULLS LAST, tenant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query failing tenants: %w", err)
	}
	return collectTenants(rows)
}

// GetTenant fetches a tenant by id. It wraps models.ErrTenantNotFound when
// the row does not exist.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (models.Tenant, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+` FROM tenant_configurations WHERE tenant_id = $1
	`, tenantID)
	t, err := scanTenant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, fmt.Errorf("%w: %s", models.ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return models.Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	return t, nil
}

// SaveExtractionState writes only the extraction state columns of t.
func (s *Store) SaveExtractionState(ctx context.Context, t models.Tenant) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant_configurations
		SET last_successful_extraction = $2,
		    last_attempted_extraction = $3,
		    last_extraction_error = $4,
		    custom_cursor = $5,
		    standard_cursor = $6,
		    updated_at = NOW()
		WHERE tenant_id = $1
	`, t.ID, t.LastSuccessfulExtraction, t.LastAttemptedExtraction, t.LastExtractionError, t.CustomCursor, t.StandardCursor)
	if err != nil {
		return fmt.Errorf("update extraction state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrTenantNotFound, t.ID)
	}
	return nil
}

// UpsertTenant inserts a tenant or refreshes its configuration columns.
// Extraction state of an existing row is left untouched.
func (s *Store) UpsertTenant(ctx context.Context, t models.Tenant) error {
	if t.ExtractionIntervalMinutes <= 0 {
		t.ExtractionIntervalMinutes = models.DefaultIntervalMinutes
	}
	if t.MaxRetryAttempts <= 0 {
		t.MaxRetryAttempts = models.DefaultMaxRetryAttempts
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = models.DefaultTimeoutSeconds
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_configurations (tenant_id, company_name, api_url, api_key, active,
			extraction_interval_minutes, extract_custom_events, extract_standard_events,
			max_retry_attempts, timeout_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			api_url = EXCLUDED.api_url,
			api_key = EXCLUDED.api_key,
			active = EXCLUDED.active,
			extraction_interval_minutes = EXCLUDED.extraction_interval_minutes,
			extract_custom_events = EXCLUDED.extract_custom_events,
			extract_standard_events = EXCLUDED.extract_standard_events,
			max_retry_attempts = EXCLUDED.max_retry_attempts,
			timeout_seconds = EXCLUDED.timeout_seconds,
			updated_at = NOW()
	`, t.ID, t.CompanyName, t.APIURL, t.APIKey, t.Active,
		t.ExtractionIntervalMinutes, t.ExtractCustomEvents, t.ExtractStandardEvents,
		t.MaxRetryAttempts, t.TimeoutSeconds)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

// EventExists reports whether (tenantID, eventID) is already stored.
func (s *Store) EventExists(ctx context.Context, tenantID, eventID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM extracted_events WHERE tenant_id = $1 AND event_id = $2)
	`, tenantID, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check event exists: %w", err)
	}
	return exists, nil
}

// SaveEvents inserts a page of events in one transaction and returns how
// many rows were new. Rows colliding on (tenant_id, event_id) are dropped.
func (s *Store) SaveEvents(ctx context.Context, events []models.ExtractedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	batch := &pgx.Batch{}
	for _, e := range events {
		status := e.Status
		if status == "" {
			status = models.StatusExtracted
		}
		batch.Queue(`
			INSERT INTO extracted_events (id, tenant_id, event_id, event_type, event_name, event_data,
				event_timestamp, extracted_at, processing_status, processing_error, retry_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (tenant_id, event_id) DO NOTHING
		`, e.ID, e.TenantID, e.EventID, string(e.Category), e.EventName, []byte(e.Payload),
			e.EventTimestamp.UTC(), e.ExtractedAt.UTC(), status, e.ProcessingError, e.RetryCount)
	}

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range events {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert event: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// CountEventsSince counts a tenant's events extracted at or after since.
func (s *Store) CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM extracted_events WHERE tenant_id = $1 AND extracted_at >= $2
	`, tenantID, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recent events: %w", err)
	}
	return n, nil
}

// LatestEventTimestamp returns the newest event timestamp for a tenant, or
// nil when it has no events.
func (s *Store) LatestEventTimestamp(ctx context.Context, tenantID string) (*time.Time, error) {
	var ts pgtype.Timestamptz
	if err := s.pool.QueryRow(ctx, `
		SELECT MAX(event_timestamp) FROM extracted_events WHERE tenant_id = $1
	`, tenantID).Scan(&ts); err != nil {
		return nil, fmt.Errorf("latest event timestamp: %w", err)
	}
	return timePtr(ts), nil
}

// ListEvents returns a tenant's most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, tenantID string, limit int) ([]models.ExtractedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, event_id, event_type, event_name, event_data,
			event_timestamp, extracted_at, processing_status, processing_error, retry_count
		FROM extracted_events
		WHERE tenant_id = $1
		ORDER BY event_timestamp DESC, event_id
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.ExtractedEvent
	for rows.Next() {
		var (
			e       models.ExtractedEvent
			cat     string
			payload []byte
			procErr pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventID, &cat, &e.EventName, &payload,
			&e.EventTimestamp, &e.ExtractedAt, &e.Status, &procErr, &e.RetryCount); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Category = models.Category(cat)
		e.Payload = payload
		e.ProcessingError = textPtr(procErr)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func collectTenants(rows pgx.Rows) ([]models.Tenant, error) {
	defer rows.Close()
	var out []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return out, nil
}

func scanTenant(row pgx.Row) (models.Tenant, error) {
	var (
		t                     models.Tenant
		lastOK, lastTry       pgtype.Timestamptz
		lastErr, cust, stdCur pgtype.Text
	)
	err := row.Scan(&t.ID, &t.CompanyName, &t.APIURL, &t.APIKey, &t.Active,
		&t.ExtractionIntervalMinutes, &t.ExtractCustomEvents, &t.ExtractStandardEvents,
		&t.MaxRetryAttempts, &t.TimeoutSeconds,
		&lastOK, &lastTry, &lastErr, &cust, &stdCur, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Tenant{}, err
	}
	t.LastSuccessfulExtraction = timePtr(lastOK)
	t.LastAttemptedExtraction = timePtr(lastTry)
	t.LastExtractionError = textPtr(lastErr)
	t.CustomCursor = textPtr(cust)
	t.StandardCursor = textPtr(stdCur)
	return t, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time.UTC()
		return &v
	}
	return nil
}

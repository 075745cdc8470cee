package extract

import (
	"context"
	"fmt"
	"time"

	"event-extractor/internal/models"
)

// StateTracker writes a tenant's extraction state back to the store at each
// lifecycle step. Only the worker running the tenant calls it.
type StateTracker struct {
	tenants TenantStore
}

func NewStateTracker(tenants TenantStore) *StateTracker {
	return &StateTracker{tenants: tenants}
}

// MarkAttempt stamps the attempt time on entry to CONNECTING.
func (s *StateTracker) MarkAttempt(ctx context.Context, t *models.Tenant, at time.Time) error {
	at = at.UTC()
	t.LastAttemptedExtraction = &at
	return s.save(ctx, t, "attempt")
}

// AdvanceCursor persists the category cursor after a completed page.
func (s *StateTracker) AdvanceCursor(ctx context.Context, t *models.Tenant, c models.Category, cursor string) error {
	t.SetCursor(c, cursor)
	return s.save(ctx, t, "cursor")
}

// MarkSuccess records a clean run started at startedAt and clears any old error.
func (s *StateTracker) MarkSuccess(ctx context.Context, t *models.Tenant, startedAt time.Time) error {
	startedAt = startedAt.UTC()
	t.LastSuccessfulExtraction = &startedAt
	t.LastExtractionError = nil
	return s.save(ctx, t, "success")
}

// MarkFailure records the cause of a failed run.
func (s *StateTracker) MarkFailure(ctx context.Context, t *models.Tenant, cause error) error {
	msg := cause.Error()
	t.LastExtractionError = &msg
	return s.save(ctx, t, "failure")
}

func (s *StateTracker) save(ctx context.Context, t *models.Tenant, step string) error {
	if err := s.tenants.SaveExtractionState(ctx, *t); err != nil {
		return fmt.Errorf("save %s state for tenant %s: %w", step, t.ID, err)
	}
	return nil
}

package extract

import (
	"context"
	"time"

	"event-extractor/internal/models"
	"event-extractor/internal/source"
)

// TenantStore reads tenants and writes back their extraction state.
type TenantStore interface {
	FindEligibleForExtraction(ctx context.Context, now time.Time) ([]models.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (models.Tenant, error)
	SaveExtractionState(ctx context.Context, t models.Tenant) error
}

// EventStore is the append-only event sink.
type EventStore interface {
	EventExists(ctx context.Context, tenantID, eventID string) (bool, error)
	SaveEvents(ctx context.Context, events []models.ExtractedEvent) (int, error)
}

// Source is the remote API as seen by the extractor.
type Source interface {
	FetchPage(ctx context.Context, tenant models.Tenant, category models.Category, cursor string, pageSize int) (source.Envelope, error)
	TestConnection(ctx context.Context, tenant models.Tenant) bool
}

// TenantLocker guards a tenant against concurrent runs. ok is false when
// another holder owns the tenant; release must be called once when ok.
// The run uses held, which is cancelled if the claim is lost mid-run.
type TenantLocker interface {
	TryLock(ctx context.Context, tenantID string) (held context.Context, release func(), ok bool, err error)
}

// Archiver keeps a copy of raw page bodies.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

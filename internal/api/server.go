package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"event-extractor/internal/extract"
	"event-extractor/internal/models"
	"event-extractor/internal/telemetry"
)

// Extractions starts extraction runs.
type Extractions interface {
	RunAll(ctx context.Context) extract.Summary
	RunOne(ctx context.Context, tenantID string) (extract.Result, error)
}

// Tenants is the read side used by the monitoring endpoints.
type Tenants interface {
	GetTenant(ctx context.Context, tenantID string) (models.Tenant, error)
	FindTenantsWithErrors(ctx context.Context) ([]models.Tenant, error)
	CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int64, error)
	LatestEventTimestamp(ctx context.Context, tenantID string) (*time.Time, error)
	ListEvents(ctx context.Context, tenantID string, limit int) ([]models.ExtractedEvent, error)
}

// Leases reports which tenants currently have a run in progress.
type Leases interface {
	Held(ctx context.Context) ([]string, error)
}

// Prober checks a tenant's remote credentials.
type Prober interface {
	TestConnection(ctx context.Context, tenant models.Tenant) bool
}

// Limiter throttles on-demand triggers per tenant.
type Limiter interface {
	AllowTrigger(ctx context.Context, tenantID string) (bool, error)
}

// Server wires HTTP handlers for the operator API.
type Server struct {
	runs    Extractions
	tenants Tenants
	prober  Prober
	limiter Limiter
	leases  Leases
	log     zerolog.Logger
	now     func() time.Time
}

// New constructs the API server. limiter and leases may be nil.
func New(runs Extractions, tenants Tenants, prober Prober, limiter Limiter, leases Leases, log zerolog.Logger) *Server {
	return &Server{
		runs:    runs,
		tenants: tenants,
		prober:  prober,
		limiter: limiter,
		leases:  leases,
		log:     log.With().Str("component", "api").Logger(),
		now:     time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/extractions", s.handleRunAll)
	r.Get("/tenants/errors", s.handleFailing)
	r.Route("/tenants/{id}", func(r chi.Router) {
		r.Post("/extractions", s.handleRunOne)
		r.Post("/connection-test", s.handleConnectionTest)
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// handleRunAll starts a pass over every due tenant. With ?wait=true the
// call blocks and returns the summary.
func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "true" {
		writeJSON(w, http.StatusOK, s.runs.RunAll(r.Context()))
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		sum := s.runs.RunAll(ctx)
		s.log.Info().Int("succeeded", sum.Succeeded).Int("failed", sum.Failed).Msg("triggered pass finished")
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleRunOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.limiter != nil {
		allowed, err := s.limiter.AllowTrigger(r.Context(), id)
		if err != nil {
			s.log.Error().Err(err).Str("tenant_id", id).Msg("rate limit check")
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.TriggerRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	res, err := s.runs.RunOne(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, models.ErrTenantNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, extract.ErrTenantBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, extract.ErrShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Error().Err(err).Str("tenant_id", id).Msg("on-demand extraction")
		http.Error(w, "extraction failed to start", http.StatusInternalServerError)
	}
}

func (s *Server) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": t.ID,
		"connected": s.prober.TestConnection(r.Context(), t),
	})
}

type statusResponse struct {
	models.Tenant
	EventsLast24h   int64      `json:"events_last_24h"`
	LatestEventTime *time.Time `json:"latest_event_timestamp,omitempty"`
	InProgress      bool       `json:"in_progress"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	count, err := s.tenants.CountEventsSince(r.Context(), t.ID, s.now().Add(-24*time.Hour))
	if err != nil {
		s.internalError(w, err, "count events")
		return
	}
	latest, err := s.tenants.LatestEventTimestamp(r.Context(), t.ID)
	if err != nil {
		s.internalError(w, err, "latest event")
		return
	}
	resp := statusResponse{Tenant: t, EventsLast24h: count, LatestEventTime: latest}
	if s.leases != nil {
		held, err := s.leases.Held(r.Context())
		if err != nil {
			s.internalError(w, err, "list leases")
			return
		}
		resp.InProgress = slices.Contains(held, t.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.tenants.ListEvents(r.Context(), t.ID, limit)
	if err != nil {
		s.internalError(w, err, "list events")
		return
	}
	if events == nil {
		events = []models.ExtractedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleFailing(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.tenants.FindTenantsWithErrors(r.Context())
	if err != nil {
		s.internalError(w, err, "failing tenants")
		return
	}
	if tenants == nil {
		tenants = []models.Tenant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (models.Tenant, bool) {
	t, err := s.tenants.GetTenant(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, models.ErrTenantNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return models.Tenant{}, false
	}
	if err != nil {
		s.internalError(w, err, "load tenant")
		return models.Tenant{}, false
	}
	return t, true
}

func (s *Server) internalError(w http.ResponseWriter, err error, what string) {
	s.log.Error().Err(err).Msg(what)
	http.Error(w, what+" failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"event-extractor/internal/models"
	"event-extractor/internal/source"
)

// memTenants is an in-memory TenantStore.
type memTenants struct {
	mu      sync.Mutex
	tenants map[string]models.Tenant
	saves   int
}

func newMemTenants(ts ...models.Tenant) *memTenants {
	m := &memTenants{tenants: map[string]models.Tenant{}}
	for _, t := range ts {
		m.tenants[t.ID] = t
	}
	return m
}

func (m *memTenants) FindEligibleForExtraction(_ context.Context, _ time.Time) ([]models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTenants) GetTenant(_ context.Context, id string) (models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return models.Tenant{}, fmt.Errorf("%w: %s", models.ErrTenantNotFound, id)
	}
	return t, nil
}

func (m *memTenants) SaveExtractionState(ctx context.Context, t models.Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.tenants[t.ID] = t
	return nil
}

func (m *memTenants) get(id string) models.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenants[id]
}

// memEvents is an in-memory EventStore keyed like the unique constraint.
type memEvents struct {
	mu     sync.Mutex
	events map[string]models.ExtractedEvent
}

func newMemEvents() *memEvents {
	return &memEvents{events: map[string]models.ExtractedEvent{}}
}

func (m *memEvents) EventExists(_ context.Context, tenantID, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[tenantID+"/"+eventID]
	return ok, nil
}

func (m *memEvents) SaveEvents(_ context.Context, events []models.ExtractedEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range events {
		k := e.TenantID + "/" + e.EventID
		if _, dup := m.events[k]; dup {
			continue
		}
		m.events[k] = e
		n++
	}
	return n, nil
}

func (m *memEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memEvents) get(tenantID, eventID string) (models.ExtractedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[tenantID+"/"+eventID]
	return e, ok
}

// remoteAPI serves scripted responses per path and scrollId.
type remoteAPI struct {
	mu        sync.Mutex
	responses map[string]func(n int) (int, string)
	hits      map[string]int
	requests  []*url.URL
}

func newRemoteAPI() *remoteAPI {
	return &remoteAPI{
		responses: map[string]func(int) (int, string){
			"/v1/users?": func(int) (int, string) { return http.StatusOK, `{"users":[]}` },
		},
		hits: map[string]int{},
	}
}

// on registers a responder for path and cursor ("" is the first page and
// the only key the connection check at /v1/users ever hits).
// n counts calls to that exact key, starting at 1. A zero status makes
// the server hang instead of answering.
func (a *remoteAPI) on(path, cursor string, fn func(n int) (int, string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[path+"?"+cursor] = fn
}

func (a *remoteAPI) page(path, cursor, body string) {
	a.on(path, cursor, func(int) (int, string) { return http.StatusOK, body })
}

func (a *remoteAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.requests = append(a.requests, r.URL)
	key := r.URL.Path + "?" + r.URL.Query().Get("scrollId")
	a.hits[key]++
	n := a.hits[key]
	fn, ok := a.responses[key]
	a.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":"not scripted"}`, http.StatusNotFound)
		return
	}
	status, body := fn(n)
	if status == 0 {
		// Hang until the client's per-call timeout fires.
		<-r.Context().Done()
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (a *remoteAPI) eventRequests(path string) []*url.URL {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*url.URL
	for _, u := range a.requests {
		if u.Path == path {
			out = append(out, u)
		}
	}
	return out
}

type harness struct {
	api     *remoteAPI
	srv     *httptest.Server
	tenants *memTenants
	events  *memEvents
	ext     *TenantExtractor
	sleeps  []time.Duration
	clock   time.Time
}

func newHarness(t *testing.T, tenant models.Tenant, opts Options) *harness {
	t.Helper()
	h := &harness{
		api:    newRemoteAPI(),
		events: newMemEvents(),
		clock:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	h.srv = httptest.NewServer(h.api)
	t.Cleanup(h.srv.Close)

	tenant.APIURL = h.srv.URL
	h.tenants = newMemTenants(tenant)

	policy := source.DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	client := source.NewClient(h.srv.Client(), policy, zerolog.Nop())

	h.ext = NewTenantExtractor(client, h.tenants, h.events, nil, opts, zerolog.Nop())
	h.ext.now = func() time.Time { return h.clock }
	h.ext.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) run(id string) Result {
	return h.ext.Run(context.Background(), h.tenants.get(id))
}

func testTenant(id string) models.Tenant {
	return models.Tenant{
		ID:                        id,
		CompanyName:               "Acme",
		APIKey:                    "secret",
		Active:                    true,
		ExtractionIntervalMinutes: 5,
		ExtractCustomEvents:       true,
		MaxRetryAttempts:          3,
		TimeoutSeconds:            5,
	}
}

func strPtr(s string) *string { return &s }

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-extractor/internal/models"
)

type recorded struct {
	path  string
	query map[string]string
	auth  string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded
	handle   func(n int, w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	f.requests = append(f.requests, recorded{path: r.URL.Path, query: q, auth: r.Header.Get("Authorization")})
	n := len(f.requests)
	f.mu.Unlock()
	f.handle(n, w, r)
}

func (f *fakeAPI) calls() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func testClient() *Client {
	p := DefaultRetryPolicy()
	p.BaseDelay = time.Millisecond
	return NewClient(&http.Client{}, p, zerolog.Nop())
}

func testTenant(url string) models.Tenant {
	return models.Tenant{ID: "t1", APIURL: url, APIKey: "secret", Active: true, MaxRetryAttempts: 3, TimeoutSeconds: 1}
}

func TestFetchPagePathsAndQuery(t *testing.T) {
	api := &fakeAPI{handle: func(_ int, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := testClient()
	tn := testTenant(srv.URL + "/")
	last := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	tn.LastSuccessfulExtraction = &last

	_, err := c.FetchPage(context.Background(), tn, models.CategoryCustom, "", 5000)
	require.NoError(t, err)
	_, err = c.FetchPage(context.Background(), tn, models.CategoryStandard, "cur-7", 50)
	require.NoError(t, err)

	calls := api.calls()
	require.Len(t, calls, 2)

	assert.Equal(t, "/v1/events/custom", calls[0].path)
	assert.Equal(t, "1000", calls[0].query["pageSize"], "page size clamped")
	assert.Equal(t, "2024-03-01T08:30:00", calls[0].query["from"])
	assert.NotContains(t, calls[0].query, "scrollId")
	assert.Equal(t, "Bearer secret", calls[0].auth)

	assert.Equal(t, "/v1/events", calls[1].path)
	assert.Equal(t, "cur-7", calls[1].query["scrollId"])
	assert.NotContains(t, calls[1].query, "from", "resumed pages never carry a time filter")
}

func TestFetchPageNoFromWithoutPriorSuccess(t *testing.T) {
	api := &fakeAPI{handle: func(_ int, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	_, err := testClient().FetchPage(context.Background(), testTenant(srv.URL), models.CategoryCustom, "", 10)
	require.NoError(t, err)
	assert.NotContains(t, api.calls()[0].query, "from")
}

func TestFetchPageUnknownCategoryFailsBeforeNetwork(t *testing.T) {
	api := &fakeAPI{handle: func(int, http.ResponseWriter, *http.Request) {}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	_, err := testClient().FetchPage(context.Background(), testTenant(srv.URL), models.Category("USERS"), "", 10)
	assert.True(t, errors.Is(err, models.ErrUnknownCategory))
	assert.Empty(t, api.calls())
}

func TestFetchPageRetriesTimeoutsThenSucceeds(t *testing.T) {
	api := &fakeAPI{handle: func(n int, w http.ResponseWriter, r *http.Request) {
		if n <= 2 {
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"e1"},{"id":"e2"}],"hasMore":false}`))
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	env, err := testClient().FetchPage(context.Background(), testTenant(srv.URL), models.CategoryCustom, "", 10)
	require.NoError(t, err)
	assert.Len(t, env.Items, 2)
	assert.Len(t, api.calls(), 3)
}

func TestFetchPageDoesNotRetryBadRequest(t *testing.T) {
	api := &fakeAPI{handle: func(_ int, w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad pageSize", http.StatusBadRequest)
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	env, err := testClient().FetchPage(context.Background(), testTenant(srv.URL), models.CategoryCustom, "", 10)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.False(t, env.Success)
	assert.Len(t, api.calls(), 1)
}

func countingClient(retries *atomic.Int32) *Client {
	p := DefaultRetryPolicy()
	p.BaseDelay = time.Millisecond
	p.OnRetry = func(int, time.Duration, error) { retries.Add(1) }
	return NewClient(&http.Client{}, p, zerolog.Nop())
}

func TestFetchPageUnsupportedSchemeFailsWithoutRetry(t *testing.T) {
	var retries atomic.Int32
	_, err := countingClient(&retries).FetchPage(context.Background(), testTenant("ftp://files.example.com"), models.CategoryCustom, "", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol scheme")
	assert.False(t, IsTransient(err))
	assert.Zero(t, retries.Load(), "a misconfigured URL fails the same way on every attempt")
}

func TestFetchPageRetriesRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	var retries atomic.Int32
	_, err := countingClient(&retries).FetchPage(context.Background(), testTenant(addr), models.CategoryCustom, "", 10)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.EqualValues(t, 2, retries.Load(), "three attempts, two retries")
}

func TestFetchPageRetriesServerErrorsUpToTenantCeiling(t *testing.T) {
	api := &fakeAPI{handle: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	tn := testTenant(srv.URL)
	tn.MaxRetryAttempts = 4
	_, err := testClient().FetchPage(context.Background(), tn, models.CategoryStandard, "", 10)
	require.Error(t, err)
	assert.Len(t, api.calls(), 4)
}

func TestFetchPageMalformedBodyNotRetried(t *testing.T) {
	api := &fakeAPI{handle: func(_ int, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	_, err := testClient().FetchPage(context.Background(), testTenant(srv.URL), models.CategoryCustom, "", 10)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.Len(t, api.calls(), 1)
}

func TestTestConnection(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	api := &fakeAPI{handle: func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"users":[]}`))
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := testClient()
	assert.True(t, c.TestConnection(context.Background(), testTenant(srv.URL)))
	calls := api.calls()
	assert.Equal(t, "/v1/users", calls[0].path)
	assert.Equal(t, "1", calls[0].query["pageSize"])

	status.Store(http.StatusUnauthorized)
	assert.False(t, c.TestConnection(context.Background(), testTenant(srv.URL)))

	assert.False(t, c.TestConnection(context.Background(), testTenant("http://127.0.0.1:1")))
}

func TestFetchUsers(t *testing.T) {
	api := &fakeAPI{handle: func(_ int, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"users":[{"id":"u1"}],"scrollId":"s2","hasMore":true}`))
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	env, err := testClient().FetchUsers(context.Background(), testTenant(srv.URL), "s1", 20)
	require.NoError(t, err)
	assert.Equal(t, "s2", env.NextCursor)
	assert.True(t, env.HasMore)
	assert.Equal(t, "s1", api.calls()[0].query["scrollId"])
}

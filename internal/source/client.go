package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"event-extractor/internal/models"
	"event-extractor/internal/telemetry"
)

// MaxPageSize is the hard ceiling applied to every page request.
const MaxPageSize = 1000

// fromLayout is the wire format of the incremental "from" filter.
const fromLayout = "2006-01-02T15:04:05"

const maxBodyBytes = 32 << 20

// Client calls the remote analytics API on behalf of a tenant.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	log        zerolog.Logger
}

// NewClient wires a client. Per-call timeouts come from the tenant, so the
// http.Client should not carry a global Timeout of its own.
func NewClient(httpClient *http.Client, policy RetryPolicy, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		policy:     policy,
		log:        log.With().Str("component", "source").Logger(),
	}
}

func eventsPath(c models.Category) (string, error) {
	switch c {
	case models.CategoryCustom:
		return "/v1/events/custom", nil
	case models.CategoryStandard:
		return "/v1/events", nil
	}
	return "", fmt.Errorf("%w: %q", models.ErrUnknownCategory, string(c))
}

// FetchPage fetches one page of events for the category starting at cursor.
// On the first page of an incremental run (no cursor, prior success) a
// "from" filter limits the result to new data.
func (c *Client) FetchPage(ctx context.Context, tenant models.Tenant, category models.Category, cursor string, pageSize int) (Envelope, error) {
	path, err := eventsPath(category)
	if err != nil {
		return Envelope{}, err
	}
	q := pageQuery(cursor, pageSize)
	if cursor == "" && tenant.LastSuccessfulExtraction != nil {
		q.Set("from", tenant.LastSuccessfulExtraction.UTC().Format(fromLayout))
	}
	return c.get(ctx, tenant, path, q, tenant.RetryAttempts())
}

// FetchUsers pages through the tenant's user list.
func (c *Client) FetchUsers(ctx context.Context, tenant models.Tenant, cursor string, pageSize int) (Envelope, error) {
	return c.get(ctx, tenant, "/v1/users", pageQuery(cursor, pageSize), tenant.RetryAttempts())
}

// TestConnection does a one-item fetch and reports whether it succeeded.
func (c *Client) TestConnection(ctx context.Context, tenant models.Tenant) bool {
	env, err := c.get(ctx, tenant, "/v1/users", pageQuery("", 1), 1)
	if err != nil {
		c.log.Warn().Str("tenant_id", tenant.ID).Err(err).Msg("connection test failed")
		return false
	}
	return env.Success
}

func pageQuery(cursor string, pageSize int) url.Values {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(min(pageSize, MaxPageSize)))
	}
	if cursor != "" {
		q.Set("scrollId", cursor)
	}
	return q
}

func (c *Client) get(ctx context.Context, tenant models.Tenant, path string, q url.Values, attempts int) (Envelope, error) {
	u, err := url.Parse(strings.TrimRight(tenant.APIURL, "/") + path)
	if err != nil {
		return Envelope{}, fmt.Errorf("build url: %w", err)
	}
	u.RawQuery = q.Encode()
	target := u.String()

	policy := c.policy.WithMaxAttempts(attempts)
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		telemetry.RemoteRetries.Inc()
		c.log.Warn().Str("tenant_id", tenant.ID).Str("path", path).
			Int("attempt", attempt).Dur("backoff", delay).Err(err).Msg("remote call failed, retrying")
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	var env Envelope
	err = policy.Do(ctx, func(ctx context.Context, _ int) error {
		var callErr error
		env, callErr = c.do(ctx, tenant, target)
		return callErr
	})
	return env, err
}

func (c *Client) do(ctx context.Context, tenant models.Tenant, target string) (Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, tenant.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("tenant_id", tenant.ID).Str("url", target).Msg("fetching")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Envelope{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBodyBytes {
		return Envelope{}, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxBodyBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		env := Envelope{StatusCode: resp.StatusCode, RawBody: body}
		return env, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return Normalize(body, resp.StatusCode)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

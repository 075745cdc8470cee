package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegistersOnce(t *testing.T) {
	_ = Handler()
	h := Handler()

	PagesFetched.Inc()
	LeasesLost.Inc()
	EventsExtracted.WithLabelValues("CUSTOM").Add(3)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "extractor_pages_fetched_total")
	assert.Contains(t, rec.Body.String(), "extractor_leases_lost_total")
	assert.Contains(t, rec.Body.String(), `extractor_events_extracted_total{category="CUSTOM"}`)
}

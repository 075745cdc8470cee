package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeedDefaults(t *testing.T) {
	doc := `
tenants:
  - tenant_id: acme
    company_name: Acme
    api_url: https://api.acme.test
    api_key: k1
  - tenant_id: globex
    api_url: https://api.globex.test
    api_key: k2
    active: false
    extract_standard_events: false
    extraction_interval_minutes: 15
`
	tenants, err := parseSeed(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, tenants, 2)

	assert.Equal(t, "acme", tenants[0].ID)
	assert.Equal(t, "k1", tenants[0].APIKey)
	assert.True(t, tenants[0].Active)
	assert.True(t, tenants[0].ExtractCustomEvents)
	assert.True(t, tenants[0].ExtractStandardEvents)

	assert.False(t, tenants[1].Active)
	assert.True(t, tenants[1].ExtractCustomEvents)
	assert.False(t, tenants[1].ExtractStandardEvents)
	assert.Equal(t, 15, tenants[1].ExtractionIntervalMinutes)
}

func TestParseSeedRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing id":  "tenants:\n  - api_url: http://x\n",
		"missing url": "tenants:\n  - tenant_id: a\n",
		"duplicate":   "tenants:\n  - {tenant_id: a, api_url: http://x}\n  - {tenant_id: a, api_url: http://y}\n",
		"empty":       "tenants: []\n",
		"not yaml":    "tenants: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseSeed(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

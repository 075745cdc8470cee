package extract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-extractor/internal/models"
)

func TestDedupGate(t *testing.T) {
	ctx := context.Background()
	events := newMemEvents()
	_, err := events.SaveEvents(ctx, []models.ExtractedEvent{{TenantID: "t1", EventID: "stored", Payload: json.RawMessage(`{}`)}})
	require.NoError(t, err)

	gate := NewDedupGate(events)

	ok, err := gate.Accept(ctx, "t1", "stored")
	require.NoError(t, err)
	assert.False(t, ok, "already persisted")

	ok, _ = gate.Accept(ctx, "t1", "new")
	assert.True(t, ok)
	ok, _ = gate.Accept(ctx, "t1", "new")
	assert.False(t, ok, "admitted earlier in the run")

	ok, _ = gate.Accept(ctx, "t2", "stored")
	assert.True(t, ok, "identity is tenant scoped")
}

package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestExtractIDFallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		item string
		want string
		ok   bool
	}{
		{"id wins", `{"id":"a","eventId":"b"}`, "a", true},
		{"numeric id", `{"id":12345}`, "12345", true},
		{"eventId", `{"eventId":"b","_id":"d"}`, "b", true},
		{"nested global context", `{"globalContext":{"eventId":"c"},"_id":"d"}`, "c", true},
		{"mongo style", `{"_id":"d"}`, "d", true},
		{"empty string falls through", `{"id":"","_id":"d"}`, "d", true},
		{"object falls through", `{"id":{"v":1},"eventId":"b"}`, "b", true},
		{"null falls through", `{"id":null,"eventId":"b"}`, "b", true},
		{"none", `{"name":"x"}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractID(gjson.Parse(tt.item))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractNameFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, "a", ExtractName(gjson.Parse(`{"eventName":"a","name":"b"}`)))
	assert.Equal(t, "b", ExtractName(gjson.Parse(`{"name":"b","type":"c"}`)))
	assert.Equal(t, "c", ExtractName(gjson.Parse(`{"type":"c","eventType":"d"}`)))
	assert.Equal(t, "d", ExtractName(gjson.Parse(`{"eventType":"d"}`)))
	assert.Equal(t, UnknownName, ExtractName(gjson.Parse(`{"id":"1"}`)))
	assert.Equal(t, UnknownName, ExtractName(gjson.Parse(`{"name":""}`)))
}

func TestResolveTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		item string
		want time.Time
	}{
		{"zone-less iso is utc", `{"timestamp":"2024-01-02T03:04:05"}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"millis", `{"timestamp":"2024-01-02T03:04:05.250"}`, time.Date(2024, 1, 2, 3, 4, 5, 250e6, time.UTC)},
		{"zulu", `{"eventTime":"2024-01-02T03:04:05Z"}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"zulu millis", `{"createdAt":"2024-01-02T03:04:05.100Z"}`, time.Date(2024, 1, 2, 3, 4, 5, 100e6, time.UTC)},
		{"space separated", `{"createdAt":"2024-01-02 03:04:05"}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"offset normalized", `{"timestamp":"2024-01-02T05:04:05+02:00"}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"epoch millis number", `{"occurred":1704164645123}`, time.Date(2024, 1, 2, 3, 4, 5, 123e6, time.UTC)},
		{"epoch millis string", `{"occurred":"1704164645000"}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"first parseable wins", `{"timestamp":"garbage","eventTime":"2024-01-02T03:04:05"}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"all malformed", `{"timestamp":"nope","eventTime":true,"createdAt":{},"occurred":-5}`, now},
		{"absent", `{"id":"1"}`, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTimestamp(gjson.Parse(tt.item), now)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

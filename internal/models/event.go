package models

import (
	"encoding/json"
	"time"
)

// Processing states of a stored event. Only StatusExtracted is written by
// the extractor; the rest belong to downstream consumers.
const (
	StatusExtracted  = "EXTRACTED"
	StatusProcessing = "PROCESSING"
	StatusProcessed  = "PROCESSED"
	StatusFailed     = "FAILED"
)

// ExtractedEvent is one remote event persisted exactly once per tenant.
type ExtractedEvent struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	EventID         string          `json:"event_id"`
	Category        Category        `json:"event_type"`
	EventName       string          `json:"event_name"`
	Payload         json.RawMessage `json:"event_data"`
	EventTimestamp  time.Time       `json:"event_timestamp"`
	ExtractedAt     time.Time       `json:"extracted_at"`
	Status          string          `json:"status"`
	ProcessingError *string         `json:"processing_error,omitempty"`
	RetryCount      int             `json:"retry_count"`
}

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category enumerates the event classes extracted independently per tenant.
type Category string

const (
	CategoryCustom   Category = "CUSTOM"
	CategoryStandard Category = "STANDARD"
)

// ErrUnknownCategory is returned for any category outside the closed set.
var ErrUnknownCategory = errors.New("unknown event category")

// ParseCategory accepts CUSTOM or STANDARD in any letter case.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryCustom:
		return CategoryCustom, nil
	case CategoryStandard:
		return CategoryStandard, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c == CategoryCustom || c == CategoryStandard
}

// Defaults applied when a tenant row leaves a tuning field unset.
const (
	DefaultIntervalMinutes  = 5
	DefaultMaxRetryAttempts = 3
	DefaultTimeoutSeconds   = 30
)

// Tenant is a customer configuration together with its extraction state.
// The extractor only writes the state fields (timestamps, error, cursors).
type Tenant struct {
	ID                        string     `json:"tenant_id" yaml:"tenant_id"`
	CompanyName               string     `json:"company_name" yaml:"company_name"`
	APIURL                    string     `json:"api_url" yaml:"api_url"`
	APIKey                    string     `json:"-" yaml:"api_key"`
	Active                    bool       `json:"active" yaml:"active"`
	ExtractionIntervalMinutes int        `json:"extraction_interval_minutes" yaml:"extraction_interval_minutes"`
	ExtractCustomEvents       bool       `json:"extract_custom_events" yaml:"extract_custom_events"`
	ExtractStandardEvents     bool       `json:"extract_standard_events" yaml:"extract_standard_events"`
	MaxRetryAttempts          int        `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	TimeoutSeconds            int        `json:"timeout_seconds" yaml:"timeout_seconds"`
	LastSuccessfulExtraction  *time.Time `json:"last_successful_extraction,omitempty" yaml:"-"`
	LastAttemptedExtraction   *time.Time `json:"last_attempted_extraction,omitempty" yaml:"-"`
	LastExtractionError       *string    `json:"last_extraction_error,omitempty" yaml:"-"`
	CustomCursor              *string    `json:"custom_cursor,omitempty" yaml:"-"`
	StandardCursor            *string    `json:"standard_cursor,omitempty" yaml:"-"`
	CreatedAt                 time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt                 time.Time  `json:"updated_at" yaml:"-"`
}

// Cursor returns the last processed cursor for the category, or "".
func (t Tenant) Cursor(c Category) string {
	var p *string
	switch c {
	case CategoryCustom:
		p = t.CustomCursor
	case CategoryStandard:
		p = t.StandardCursor
	}
	if p == nil {
		return ""
	}
	return *p
}

// SetCursor stores the cursor for the category; "" clears it.
func (t *Tenant) SetCursor(c Category, cursor string) {
	var v *string
	if cursor != "" {
		v = &cursor
	}
	switch c {
	case CategoryCustom:
		t.CustomCursor = v
	case CategoryStandard:
		t.StandardCursor = v
	}
}

// Categories lists the enabled categories in extraction order.
func (t Tenant) Categories() []Category {
	out := make([]Category, 0, 2)
	if t.ExtractCustomEvents {
		out = append(out, CategoryCustom)
	}
	if t.ExtractStandardEvents {
		out = append(out, CategoryStandard)
	}
	return out
}

// Interval is the minimum spacing between extraction attempts.
func (t Tenant) Interval() time.Duration {
	m := t.ExtractionIntervalMinutes
	if m <= 0 {
		m = DefaultIntervalMinutes
	}
	return time.Duration(m) * time.Minute
}

// RequestTimeout bounds every single remote call made for the tenant.
func (t Tenant) RequestTimeout() time.Duration {
	s := t.TimeoutSeconds
	if s <= 0 {
		s = DefaultTimeoutSeconds
	}
	return time.Duration(s) * time.Second
}

// RetryAttempts is the attempt ceiling for one remote call.
func (t Tenant) RetryAttempts() int {
	if t.MaxRetryAttempts <= 0 {
		return DefaultMaxRetryAttempts
	}
	return t.MaxRetryAttempts
}

// DueAt reports whether the tenant is eligible for extraction at now.
func (t Tenant) DueAt(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.LastAttemptedExtraction == nil {
		return true
	}
	return !now.Before(t.LastAttemptedExtraction.Add(t.Interval()))
}

// ErrTenantNotFound is returned by stores when no tenant has the given ID.
var ErrTenantNotFound = errors.New("tenant not found")

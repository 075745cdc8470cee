package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Rule probes one field path and converts what it finds.
// Parse returning false means "try the next rule".
type Rule[T any] struct {
	Path  string
	Parse func(gjson.Result) (T, bool)
}

// firstMatch evaluates rules in order and returns the first accepted value.
func firstMatch[T any](item gjson.Result, rules []Rule[T]) (T, string, bool) {
	for _, r := range rules {
		v := item.Get(r.Path)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if out, ok := r.Parse(v); ok {
			return out, r.Path, true
		}
	}
	var zero T
	return zero, "", false
}

func scalarText(v gjson.Result) (string, bool) {
	if v.IsObject() || v.IsArray() {
		return "", false
	}
	s := v.String()
	return s, s != ""
}

// IDRules locate the remote event identity.
var IDRules = []Rule[string]{
	{Path: "id", Parse: scalarText},
	{Path: "eventId", Parse: scalarText},
	{Path: "globalContext.eventId", Parse: scalarText},
	{Path: "_id", Parse: scalarText},
}

// NameRules locate a display name.
var NameRules = []Rule[string]{
	{Path: "eventName", Parse: scalarText},
	{Path: "name", Parse: scalarText},
	{Path: "type", Parse: scalarText},
	{Path: "eventType", Parse: scalarText},
}

// TimestampRules locate the occurrence time.
var TimestampRules = []Rule[time.Time]{
	{Path: "timestamp", Parse: parseTimestamp},
	{Path: "eventTime", Parse: parseTimestamp},
	{Path: "createdAt", Parse: parseTimestamp},
	{Path: "occurred", Parse: parseTimestamp},
}

// UnknownName is used when no name rule matches.
const UnknownName = "unknown"

// timestampLayouts are tried in order; values without a zone are UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ExtractID returns the event identity, or false when the item must be skipped.
func ExtractID(item gjson.Result) (string, bool) {
	id, _, ok := firstMatch(item, IDRules)
	return id, ok
}

// ExtractName returns the event name, never failing.
func ExtractName(item gjson.Result) string {
	if name, _, ok := firstMatch(item, NameRules); ok {
		return name
	}
	return UnknownName
}

// ResolveTimestamp returns the occurrence time or now if no field parses.
func ResolveTimestamp(item gjson.Result, now time.Time) time.Time {
	if ts, _, ok := firstMatch(item, TimestampRules); ok {
		return ts
	}
	return now
}

func parseTimestamp(v gjson.Result) (time.Time, bool) {
	if v.Type == gjson.Number {
		return fromEpochMillis(v.Int())
	}
	if v.Type != gjson.String {
		return time.Time{}, false
	}
	s := strings.TrimSpace(v.Str)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpochMillis(ms)
	}
	return time.Time{}, false
}

func fromEpochMillis(ms int64) (time.Time, bool) {
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

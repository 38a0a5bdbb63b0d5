package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"example.com/touchpoints/internal/domain"
)

// isoLayouts covers the ISO-8601 shapes accepted for string timestamps.
// Layouts without a zone parse as UTC.
var isoLayouts = func() []string {
	var layouts []string
	for _, sep := range []string{"T", " "} {
		for _, clock := range []string{"15:04:05.999999999", "15:04"} {
			for _, zone := range []string{"Z07:00", "-0700", ""} {
				layouts = append(layouts, "2006-01-02"+sep+clock+zone)
			}
		}
	}
	return append(layouts, "2006-01-02")
}()

// ParseTimestamp normalises a raw JSON timestamp into a UTC instant. Numbers are
// Unix epoch milliseconds, strings are ISO-8601.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return time.Time{}, fmt.Errorf("%w: 'timestamp' field is required", domain.ErrMissingField)
	}

	var ts time.Time
	switch kind := jsonKind(raw); kind {
	case "number":
		parsed, err := fromEpochMillis(json.Number(raw))
		if err != nil {
			return time.Time{}, err
		}
		ts = parsed
	case "string":
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %w", domain.ErrParse, err)
		}
		parsed, err := parseISO(value)
		if err != nil {
			return time.Time{}, err
		}
		ts = parsed
	default:
		return time.Time{}, fmt.Errorf("%w: timestamp must be epoch milliseconds or an ISO-8601 string, got %s", domain.ErrUnsupportedType, kind)
	}

	if ts.Year() < 1 || ts.Year() > 9999 {
		return time.Time{}, fmt.Errorf("%w: timestamp %s out of range", domain.ErrParse, raw)
	}
	return ts.UTC(), nil
}

func fromEpochMillis(n json.Number) (time.Time, error) {
	if ms, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		if ms > math.MaxInt64/1000 || ms < math.MinInt64/1000 {
			return time.Time{}, fmt.Errorf("%w: timestamp %s out of range", domain.ErrParse, n)
		}
		return time.UnixMilli(ms), nil
	}
	ms, err := n.Float64()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %s: %w", domain.ErrParse, n, err)
	}
	micros := math.Round(ms * 1000)
	if micros > math.MaxInt64 || micros < math.MinInt64 {
		return time.Time{}, fmt.Errorf("%w: timestamp %s out of range", domain.ErrParse, n)
	}
	return time.UnixMicro(int64(micros)), nil
}

func parseISO(value string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unable to parse timestamp %q; expected ISO-8601 or epoch ms", domain.ErrParse, value)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// jsonKind names the JSON type of a trimmed, syntactically valid value.
func jsonKind(raw json.RawMessage) string {
	switch raw[0] {
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	case '{':
		return "object"
	case '[':
		return "array"
	default:
		return "number"
	}
}

package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// msThreshold separates epoch seconds from epoch milliseconds.
const msThreshold = 1e11

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp converts an upstream timestamp into epoch seconds (UTC).
// Accepted: epoch seconds or milliseconds as a number or numeric string, and
// ISO-8601 strings with or without zone (zone-less strings are UTC).
func ParseTimestamp(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return fromEpoch(t)
	case int64:
		return fromEpoch(float64(t))
	case int:
		return fromEpoch(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return fromEpoch(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.Unix(), true
			}
		}
	}
	return 0, false
}

func fromEpoch(f float64) (int64, bool) {
	if !isFinite(f) || f <= 0 {
		return 0, false
	}
	if f > msThreshold {
		f /= 1000
	}
	return int64(f), true
}

// ParseNumber accepts JSON numbers and numeric strings.
func ParseNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, isFinite(t)
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && isFinite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && isFinite(f)
	}
	return 0, false
}

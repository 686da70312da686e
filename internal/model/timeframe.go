package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the chart interval selected by the user.
type Timeframe string

const (
	TF1Minute  Timeframe = "1minute"
	TF5Minute  Timeframe = "5minute"
	TF15Minute Timeframe = "15minute"
	TF30Minute Timeframe = "30minute"
	TF1Hour    Timeframe = "1hour"
	TF1Day     Timeframe = "1day"
	TF1Week    Timeframe = "1week"
	TF1Month   Timeframe = "1month"
)

// Timeframes lists all supported timeframes from finest to coarsest.
var Timeframes = []Timeframe{
	TF1Minute, TF5Minute, TF15Minute, TF30Minute, TF1Hour, TF1Day, TF1Week, TF1Month,
}

// aliases accepted by ParseTimeframe besides the canonical names.
var tfAliases = map[string]Timeframe{
	"1m": TF1Minute, "5m": TF5Minute, "15m": TF15Minute, "30m": TF30Minute,
	"1h": TF1Hour, "60m": TF1Hour, "1d": TF1Day, "day": TF1Day,
	"1w": TF1Week, "week": TF1Week, "1mo": TF1Month, "month": TF1Month,
}

// ParseTimeframe resolves a canonical name ("15minute") or a short alias ("15m").
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, tf := range Timeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	if tf, ok := tfAliases[s]; ok {
		return tf, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// minutes returns the bucket width for minute-based timeframes, 0 otherwise.
func (tf Timeframe) minutes() int {
	switch tf {
	case TF1Minute:
		return 1
	case TF5Minute:
		return 5
	case TF15Minute:
		return 15
	case TF30Minute:
		return 30
	}
	return 0
}

// Live reports whether ticks may be aggregated client-side for this timeframe.
// Week and month charts are built from historical candles only.
func (tf Timeframe) Live() bool {
	return tf.minutes() > 0 || tf == TF1Hour || tf == TF1Day
}

// Duration returns the nominal bucket width. Month is approximated as 30 days
// and must not be used for alignment.
func (tf Timeframe) Duration() time.Duration {
	if m := tf.minutes(); m > 0 {
		return time.Duration(m) * time.Minute
	}
	switch tf {
	case TF1Hour:
		return time.Hour
	case TF1Day:
		return 24 * time.Hour
	case TF1Week:
		return 7 * 24 * time.Hour
	case TF1Month:
		return 30 * 24 * time.Hour
	}
	return 0
}

// BucketStart aligns an epoch-second timestamp to the start of its bucket, in UTC.
//
//	N-minute: minute truncated to floor(minute/N)*N, seconds zeroed
//	1hour:    minutes and seconds zeroed
//	1day:     UTC midnight
//	1week:    Monday 00:00 UTC
//	1month:   first day of month 00:00 UTC
func (tf Timeframe) BucketStart(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	if m := tf.minutes(); m > 0 {
		minute := (t.Minute() / m) * m
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC).Unix()
	}
	switch tf {
	case TF1Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
	case TF1Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
	case TF1Week:
		offset := (int(t.Weekday()) + 6) % 7 // days since Monday
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, -offset).Unix()
	case TF1Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Unix()
	}
	return ts
}

// Package timeparse decodes the timestamp shapes seen on provider payloads
// into a single canonical UTC time.Time. Providers deliver times as RFC3339
// strings, epoch milliseconds, or wrapped second objects ({"seconds": n} and
// {"_seconds": n}); every boundary that reads a wire timestamp goes through
// Decode so the rest of the system only ever sees time.Time.
package timeparse

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimestamp = errors.New("invalid_timestamp")

// Decode normalizes a decoded JSON value into a UTC timestamp.
func Decode(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, ErrInvalidTimestamp
	case time.Time:
		return v.UTC(), nil
	case string:
		return decodeString(v)
	case float64:
		return decodeEpoch(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, ErrInvalidTimestamp
		}
		return decodeEpoch(f), nil
	case int64:
		return decodeEpoch(float64(v)), nil
	case map[string]any:
		return decodeSecondsObject(v)
	default:
		return time.Time{}, ErrInvalidTimestamp
	}
}

func decodeString(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	if epoch, err := strconv.ParseFloat(raw, 64); err == nil {
		return decodeEpoch(epoch), nil
	}
	return time.Time{}, ErrInvalidTimestamp
}

// decodeEpoch treats values below the millisecond cutover as seconds.
// 1e12 seconds is year 33658, so any realistic second count sits below it
// while any millisecond count since 2001 sits above.
func decodeEpoch(value float64) time.Time {
	if math.Abs(value) >= 1e12 {
		return time.UnixMilli(int64(value)).UTC()
	}
	seconds := int64(value)
	nanos := int64((value - float64(seconds)) * float64(time.Second))
	return time.Unix(seconds, nanos).UTC()
}

func decodeSecondsObject(obj map[string]any) (time.Time, error) {
	for _, key := range []string{"seconds", "_seconds"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return time.Unix(int64(v), nanosFrom(obj)).UTC(), nil
		case json.Number:
			sec, err := v.Int64()
			if err != nil {
				return time.Time{}, ErrInvalidTimestamp
			}
			return time.Unix(sec, nanosFrom(obj)).UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

func nanosFrom(obj map[string]any) int64 {
	for _, key := range []string{"nanos", "_nanoseconds"} {
		if raw, ok := obj[key]; ok {
			if v, ok := raw.(float64); ok {
				return int64(v)
			}
		}
	}
	return 0
}

package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRFC3339String(t *testing.T) {
	got, err := Decode("2026-03-10T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC), got)

	got, err = Decode("2026-03-10T12:30:00.250+07:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 5, 30, 0, 250000000, time.UTC), got)
}

func TestDecodeEpochMillis(t *testing.T) {
	got, err := Decode(float64(1773145800000))
	require.NoError(t, err)
	assert.Equal(t, int64(1773145800), got.Unix())
}

func TestDecodeEpochSeconds(t *testing.T) {
	got, err := Decode(float64(1773145800))
	require.NoError(t, err)
	assert.Equal(t, int64(1773145800), got.Unix())
}

func TestDecodeSecondsObjects(t *testing.T) {
	got, err := Decode(map[string]any{"seconds": float64(1773145800)})
	require.NoError(t, err)
	assert.Equal(t, int64(1773145800), got.Unix())

	got, err = Decode(map[string]any{"_seconds": float64(1773145800)})
	require.NoError(t, err)
	assert.Equal(t, int64(1773145800), got.Unix())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, value := range []any{nil, "", "not a time", true, map[string]any{"minutes": 5}} {
		_, err := Decode(value)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, "value %v", value)
	}
}

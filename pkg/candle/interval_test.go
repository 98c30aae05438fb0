package candle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	t.Run("valid labels", func(t *testing.T) {
		for _, iv := range Intervals() {
			parsed, err := ParseInterval(string(iv))
			require.NoError(t, err)
			assert.Equal(t, iv, parsed)
			assert.True(t, parsed.Valid())
		}
	})

	t.Run("unknown label", func(t *testing.T) {
		_, err := ParseInterval("7m")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInterval)
	})

	t.Run("empty label", func(t *testing.T) {
		_, err := ParseInterval("")
		assert.ErrorIs(t, err, ErrInvalidInterval)
	})
}

func TestIntervalSeconds(t *testing.T) {
	assert.Equal(t, int64(60), Interval1m.Seconds())
	assert.Equal(t, int64(1800), Interval30m.Seconds())
	assert.Equal(t, int64(14400), Interval4h.Seconds())
	assert.Equal(t, int64(86400), Interval1d.Seconds())
	assert.Equal(t, int64(0), Interval("2w").Seconds())
}

func TestLimitMultiplier(t *testing.T) {
	tests := []struct {
		interval Interval
		want     float64
	}{
		{Interval1m, 1},
		{Interval5m, 1.5},
		{Interval15m, 2},
		{Interval30m, 2.5},
		{Interval1h, 3},
		{Interval4h, 5},
		{Interval1d, 10},
		{Interval("2w"), 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.interval.LimitMultiplier())
		})
	}
}

func TestIntervalsOrdered(t *testing.T) {
	ivs := Intervals()
	require.Len(t, ivs, 7)
	for i := 1; i < len(ivs); i++ {
		assert.Greater(t, ivs[i].Seconds(), ivs[i-1].Seconds())
	}
}

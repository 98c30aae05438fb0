package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/candlestream/pkg/candle"
)

func flat(ts int64, price, volume float64) candle.Candle {
	return candle.Candle{Time: ts, Open: price, High: price, Low: price, Close: price, Volume: volume}
}

func TestMergeVolumeWeighting(t *testing.T) {
	t.Run("two sources one bucket", func(t *testing.T) {
		// volumes 10 and 30 at closes 100 and 200: (100*10+200*30)/40 = 175
		s := Merge([][]candle.Candle{
			{flat(3600, 100, 10)},
			{flat(3600, 200, 30)},
		}, candle.Interval1h, 0)

		require.Len(t, s.Candles, 1)
		got := s.Candles[0]
		assert.Equal(t, int64(3600), got.Time)
		assert.InDelta(t, 175, got.Open, 1e-9)
		assert.InDelta(t, 175, got.High, 1e-9)
		assert.InDelta(t, 175, got.Low, 1e-9)
		assert.InDelta(t, 175, got.Close, 1e-9)
		assert.Equal(t, 40.0, got.Volume)
		assert.True(t, s.IsAggregated)
		assert.Equal(t, 2, s.SourceCount)
	})

	t.Run("zero volume falls back to mean", func(t *testing.T) {
		s := Merge([][]candle.Candle{
			{flat(3600, 100, 0)},
			{flat(3600, 200, 0)},
		}, candle.Interval1h, 0)

		require.Len(t, s.Candles, 1)
		assert.InDelta(t, 150, s.Candles[0].Close, 1e-9)
		assert.Equal(t, 0.0, s.Candles[0].Volume)
	})

	t.Run("offset timestamps share a bucket", func(t *testing.T) {
		// one source 30s into the bar still merges into the aligned bucket
		s := Merge([][]candle.Candle{
			{flat(3600, 100, 1)},
			{flat(3630, 300, 1)},
		}, candle.Interval1h, 0)

		require.Len(t, s.Candles, 1)
		assert.Equal(t, int64(3600), s.Candles[0].Time)
		assert.InDelta(t, 200, s.Candles[0].Close, 1e-9)
	})

	t.Run("fields weighted independently", func(t *testing.T) {
		a := candle.Candle{Time: 3600, Open: 10, High: 20, Low: 5, Close: 15, Volume: 1}
		b := candle.Candle{Time: 3600, Open: 30, High: 40, Low: 25, Close: 35, Volume: 3}
		s := Merge([][]candle.Candle{{a}, {b}}, candle.Interval1h, 0)

		require.Len(t, s.Candles, 1)
		got := s.Candles[0]
		assert.InDelta(t, 25, got.Open, 1e-9)
		assert.InDelta(t, 35, got.High, 1e-9)
		assert.InDelta(t, 20, got.Low, 1e-9)
		assert.InDelta(t, 30, got.Close, 1e-9)
	})
}

func TestMergeSources(t *testing.T) {
	t.Run("single source is not aggregated", func(t *testing.T) {
		s := Merge([][]candle.Candle{
			{flat(60, 100, 1), flat(120, 101, 1)},
		}, candle.Interval1m, 0)

		assert.False(t, s.IsAggregated)
		assert.Equal(t, 1, s.SourceCount)
		assert.Len(t, s.Candles, 2)
	})

	t.Run("empty sources ignored", func(t *testing.T) {
		s := Merge([][]candle.Candle{
			nil,
			{flat(60, 100, 1)},
			{},
		}, candle.Interval1m, 0)

		assert.False(t, s.IsAggregated)
		assert.Equal(t, 1, s.SourceCount)
	})

	t.Run("no sources", func(t *testing.T) {
		s := Merge(nil, candle.Interval1m, 0)
		assert.Empty(t, s.Candles)
		assert.Equal(t, 0, s.SourceCount)
	})
}

func TestGapFilling(t *testing.T) {
	t.Run("missing steps synthesized flat", func(t *testing.T) {
		// bars at t=0 and t=300 with 1m interval leave four missing steps
		s := Merge([][]candle.Candle{
			{flat(0, 50, 2), flat(300, 60, 3)},
		}, candle.Interval1m, 0)

		require.Len(t, s.Candles, 6)
		for i, want := range []int64{0, 60, 120, 180, 240, 300} {
			assert.Equal(t, want, s.Candles[i].Time)
		}
		for _, synth := range s.Candles[1:5] {
			assert.Equal(t, 50.0, synth.Open)
			assert.Equal(t, 50.0, synth.High)
			assert.Equal(t, 50.0, synth.Low)
			assert.Equal(t, 50.0, synth.Close)
			assert.Equal(t, 0.0, synth.Volume)
		}
		assert.Equal(t, 60.0, s.Candles[5].Close)
	})

	t.Run("adjacent bars untouched", func(t *testing.T) {
		s := Merge([][]candle.Candle{
			{flat(0, 1, 1), flat(60, 2, 1), flat(120, 3, 1)},
		}, candle.Interval1m, 0)
		assert.Len(t, s.Candles, 3)
	})

	t.Run("single missing step filled", func(t *testing.T) {
		s := Merge([][]candle.Candle{
			{flat(0, 1, 1), flat(120, 2, 1)},
		}, candle.Interval1m, 0)
		require.Len(t, s.Candles, 3)
		assert.Equal(t, int64(60), s.Candles[1].Time)
		assert.Equal(t, 1.0, s.Candles[1].Close)
	})
}

func TestMergeLimit(t *testing.T) {
	s := Merge([][]candle.Candle{
		{flat(60, 1, 1), flat(120, 2, 1), flat(180, 3, 1), flat(240, 4, 1)},
	}, candle.Interval1m, 2)

	require.Len(t, s.Candles, 2)
	assert.Equal(t, int64(180), s.Candles[0].Time)
	assert.Equal(t, int64(240), s.Candles[1].Time)
}

// Package aggregate merges candle series from several exchange/quote
// sources into one volume-weighted series for a base asset. Buckets are
// grouped by aligned timestamp, each OHLC field is weighted by source
// volume, and time gaps in the merged result are closed with flat
// zero-volume candles so downstream charting never sees a discontinuity.
package aggregate

import (
	"sort"

	"github.com/veiloq/candlestream/pkg/candle"
)

// Series is the merged output. It is ephemeral and derived; it is never
// written back to the cache.
type Series struct {
	Candles []candle.Candle

	// IsAggregated is true iff at least two sources contributed
	IsAggregated bool

	// SourceCount is the number of non-empty sources merged
	SourceCount int
}

// Merge combines per-source candle arrays into one volume-weighted
// series. Empty sources are ignored. The result is ascending by time,
// gap-filled, and truncated to the most recent limit candles (limit <= 0
// keeps everything).
func Merge(sources [][]candle.Candle, iv candle.Interval, limit int) Series {
	buckets := make(map[int64][]candle.Candle)
	used := 0
	for _, src := range sources {
		if len(src) == 0 {
			continue
		}
		used++
		for _, cdl := range src {
			ts := candle.AlignTime(cdl.Time, iv)
			buckets[ts] = append(buckets[ts], cdl)
		}
	}

	merged := make([]candle.Candle, 0, len(buckets))
	for ts, group := range buckets {
		merged = append(merged, weigh(ts, group))
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })

	merged = fillGaps(merged, iv)

	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}

	return Series{
		Candles:      merged,
		IsAggregated: used > 1,
		SourceCount:  used,
	}
}

// weigh collapses all candles of one timestamp bucket into a single
// volume-weighted candle. A zero-volume bucket falls back to the simple
// arithmetic mean so thin markets still produce a price.
func weigh(ts int64, group []candle.Candle) candle.Candle {
	var totalVolume float64
	for _, c := range group {
		totalVolume += c.Volume
	}

	out := candle.Candle{Time: ts, Volume: totalVolume}

	if totalVolume == 0 {
		n := float64(len(group))
		for _, c := range group {
			out.Open += c.Open / n
			out.High += c.High / n
			out.Low += c.Low / n
			out.Close += c.Close / n
		}
		return out
	}

	for _, c := range group {
		w := c.Volume / totalVolume
		out.Open += c.Open * w
		out.High += c.High * w
		out.Low += c.Low * w
		out.Close += c.Close * w
	}
	return out
}

// fillGaps scans consecutive candles and synthesizes one flat candle per
// missing interval step wherever the gap exceeds 1.5 intervals. Synthetic
// candles repeat the previous close with zero volume.
func fillGaps(candles []candle.Candle, iv candle.Interval) []candle.Candle {
	ivSec := iv.Seconds()
	if ivSec <= 0 || len(candles) < 2 {
		return candles
	}

	out := make([]candle.Candle, 0, len(candles))
	out = append(out, candles[0])

	for i := 1; i < len(candles); i++ {
		prev := out[len(out)-1]
		cur := candles[i]

		if cur.Time-prev.Time > ivSec+ivSec/2 {
			for ts := prev.Time + ivSec; ts < cur.Time; ts += ivSec {
				out = append(out, candle.Candle{
					Time:   ts,
					Open:   prev.Close,
					High:   prev.Close,
					Low:    prev.Close,
					Close:  prev.Close,
					Volume: 0,
				})
			}
		}
		out = append(out, cur)
	}
	return out
}

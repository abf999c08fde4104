// Package benchmark drives the warmup and timed phases and verifies the results
package benchmark

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latency histogram bounds in microseconds
const (
	histogramMinMicros = 1
	histogramMaxMicros = 60_000_000
	histogramSigFigs   = 3
)

// HdrStats records per-request latencies of one phase
type HdrStats struct {
	histogram *hdrhistogram.Histogram
	minValue  int64
	maxValue  int64
}

// NewHdrStats creates an HdrStats tracking 1us..60s with 3 significant figures
func NewHdrStats() *HdrStats {
	return &HdrStats{
		histogram: hdrhistogram.New(histogramMinMicros, histogramMaxMicros, histogramSigFigs),
		minValue:  math.MaxInt64,
	}
}

// RecordDuration records d, clamped into the trackable range
func (h *HdrStats) RecordDuration(d time.Duration) {
	us := d.Microseconds()
	if us < histogramMinMicros {
		us = histogramMinMicros
	}
	if us > histogramMaxMicros {
		us = histogramMaxMicros
	}
	// in range after clamping, so RecordValue cannot fail
	_ = h.histogram.RecordValue(us)
	if us < h.minValue {
		h.minValue = us
	}
	if us > h.maxValue {
		h.maxValue = us
	}
}

// Mean returns the mean in microseconds
func (h *HdrStats) Mean() float64 {
	return h.histogram.Mean()
}

// StdDev returns the standard deviation in microseconds
func (h *HdrStats) StdDev() float64 {
	return h.histogram.StdDev()
}

// Min returns the smallest recorded value, 0 when empty
func (h *HdrStats) Min() int64 {
	if h.minValue == math.MaxInt64 {
		return 0
	}
	return h.minValue
}

// Max returns the largest recorded value
func (h *HdrStats) Max() int64 {
	return h.maxValue
}

// Percentile returns the value at the given percentile (0-100)
func (h *HdrStats) Percentile(percentile float64) int64 {
	return h.histogram.ValueAtQuantile(percentile)
}

// Count returns the number of recorded values
func (h *HdrStats) Count() int64 {
	return h.histogram.TotalCount()
}

// HistogramBucket is one row of the ASCII histogram
type HistogramBucket struct {
	RangeStart int64   // microseconds
	RangeEnd   int64   // microseconds, -1 for "and above"
	Count      int64
	Percentage float64
}

var defaultBoundaries = []int64{
	100,      // 100us
	250,      // 250us
	500,      // 500us
	1000,     // 1ms
	5000,     // 5ms
	10000,    // 10ms
	50000,    // 50ms
	100000,   // 100ms
	500000,   // 500ms
	1000000,  // 1s
	10000000, // 10s
}

// Buckets groups recorded values by the default boundaries, skipping empty buckets
func (h *HdrStats) Buckets() []HistogramBucket {
	totalCount := h.histogram.TotalCount()
	if totalCount == 0 {
		return nil
	}

	counts := make([]int64, len(defaultBoundaries))
	var overflow int64
	for _, bar := range h.histogram.Distribution() {
		if bar.Count == 0 {
			continue
		}
		assigned := false
		for i, boundary := range defaultBoundaries {
			if bar.To <= boundary {
				counts[i] += bar.Count
				assigned = true
				break
			}
		}
		if !assigned {
			overflow += bar.Count
		}
	}

	buckets := make([]HistogramBucket, 0, len(defaultBoundaries)+1)
	var prev int64
	for i, boundary := range defaultBoundaries {
		if counts[i] > 0 {
			buckets = append(buckets, HistogramBucket{
				RangeStart: prev,
				RangeEnd:   boundary,
				Count:      counts[i],
				Percentage: float64(counts[i]) / float64(totalCount) * 100,
			})
		}
		prev = boundary
	}
	if overflow > 0 {
		buckets = append(buckets, HistogramBucket{
			RangeStart: prev,
			RangeEnd:   -1,
			Count:      overflow,
			Percentage: float64(overflow) / float64(totalCount) * 100,
		})
	}
	return buckets
}

// FormatDurationShort formats microseconds compactly
func FormatDurationShort(us int64) string {
	if us < 1000 {
		return fmt.Sprintf("%dus", us)
	} else if us < 1000000 {
		return fmt.Sprintf("%.0fms", float64(us)/1000)
	}
	return fmt.Sprintf("%.1fs", float64(us)/1000000)
}

// RenderASCIIHistogram renders buckets as horizontal bars of at most maxBarWidth
func RenderASCIIHistogram(buckets []HistogramBucket, maxBarWidth int) string {
	if len(buckets) == 0 {
		return "  No data recorded\n"
	}

	maxPct := float64(0)
	for _, b := range buckets {
		if b.Percentage > maxPct {
			maxPct = b.Percentage
		}
	}
	if maxPct == 0 {
		maxPct = 1
	}

	var sb strings.Builder
	for _, bucket := range buckets {
		var label string
		if bucket.RangeStart == 0 {
			label = fmt.Sprintf("  < %s", FormatDurationShort(bucket.RangeEnd))
		} else if bucket.RangeEnd == -1 {
			label = fmt.Sprintf("  > %s", FormatDurationShort(bucket.RangeStart))
		} else {
			label = fmt.Sprintf("  %s - %s", FormatDurationShort(bucket.RangeStart), FormatDurationShort(bucket.RangeEnd))
		}

		width := int(math.Round(bucket.Percentage / maxPct * float64(maxBarWidth)))
		width = max(0, min(width, maxBarWidth))

		fmt.Fprintf(&sb, "%-20s [%s%s] %6.2f%% (%d)\n",
			label, strings.Repeat("#", width), strings.Repeat(" ", maxBarWidth-width), bucket.Percentage, bucket.Count)
	}
	return sb.String()
}

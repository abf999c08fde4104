package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/httpclient_benchmark/pkg/benchmark"
)

// Result represents the JSON output format for benchmark results
type Result struct {
	Timestamp      string      `json:"timestamp"`
	Client         string      `json:"client"`
	Concurrency    int         `json:"concurrency"`
	Requests       int         `json:"requests"`
	ContentBytes   int         `json:"content_bytes_size"`
	KeepAlive      bool        `json:"keep_alive"`
	WarmupRequests int         `json:"warmup_requests"`
	Phases         []PhaseJSON `json:"phases"`
	ServerStats    *ServerJSON `json:"server_stats,omitempty"`
	Verification   VerifyJSON  `json:"verification"`
	Duration       float64     `json:"duration_seconds"`
}

// PhaseJSON contains one timed phase. RequestsPerSec is null when the rate
// is undefined.
type PhaseJSON struct {
	Phase          string         `json:"phase"`
	Requests       int            `json:"requests"`
	Succeeded      int64          `json:"success_count"`
	Failed         int64          `json:"failure_count"`
	Bytes          int64          `json:"bytes"`
	ElapsedMs      int64          `json:"elapsed_millis"`
	RequestsPerSec *float64       `json:"requests_per_second"`
	MBPerSec       float64        `json:"mb_per_second"`
	Latency        LatencyStats   `json:"latency"`
	Errors         map[string]int `json:"errors,omitempty"`
}

// LatencyStats contains latency statistics
type LatencyStats struct {
	Average     string            `json:"average"`
	StdDev      string            `json:"std_dev"`
	Min         string            `json:"min"`
	Max         string            `json:"max"`
	Percentiles map[string]string `json:"percentiles"`
}

// ServerJSON contains the server counters read after the timed phases
type ServerJSON struct {
	Raw   string `json:"raw"`
	Total int64  `json:"total"`
	Fixed int64  `json:"fixed"`
	Echo  int64  `json:"echo"`
}

// VerifyJSON contains the byte verification
type VerifyJSON struct {
	Passed   bool  `json:"passed"`
	Received int64 `json:"received_bytes"`
	Expected int64 `json:"expected_bytes"`
}

var reportedPercentiles = []int{50, 75, 90, 99}

// ToJSONResult converts a Report to Result
func ToJSONResult(report *benchmark.Report) *Result {
	cfg := report.Config
	result := &Result{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Client:         report.Client,
		Concurrency:    cfg.Concurrency,
		Requests:       cfg.Requests,
		ContentBytes:   cfg.ContentBytesSize,
		KeepAlive:      cfg.KeepAliveScenario,
		WarmupRequests: report.WarmupRequests,
		Verification: VerifyJSON{
			Passed:   report.Verification.Passed,
			Received: report.Verification.Received,
			Expected: report.Verification.Expected,
		},
	}
	if !report.StartedAt.IsZero() && !report.FinishedAt.IsZero() {
		result.Duration = report.FinishedAt.Sub(report.StartedAt).Seconds()
	}

	for _, res := range []benchmark.PhaseResult{report.Get, report.Post} {
		result.Phases = append(result.Phases, toPhaseJSON(res))
	}

	if report.ServerStats != nil {
		result.ServerStats = &ServerJSON{
			Raw:   report.ServerStatsRaw,
			Total: report.ServerStats.Total,
			Fixed: report.ServerStats.Fixed,
			Echo:  report.ServerStats.Echo,
		}
	}
	return result
}

func toPhaseJSON(res benchmark.PhaseResult) PhaseJSON {
	p := PhaseJSON{
		Phase:     string(res.Phase),
		Requests:  res.Requests,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Bytes:     res.Bytes,
		ElapsedMs: res.ElapsedMillis(),
		MBPerSec:  res.ThroughputMBps(),
		Errors:    res.Errors,
	}
	if res.RateDefined {
		rate := res.RequestsPerSecond
		p.RequestsPerSec = &rate
	}
	if lat := res.Latency; lat != nil {
		percentiles := make(map[string]string, len(reportedPercentiles))
		for _, pct := range reportedPercentiles {
			percentiles[fmt.Sprintf("p%d", pct)] = FormatLatency(float64(lat.Percentile(float64(pct))))
		}
		p.Latency = LatencyStats{
			Average:     FormatLatency(lat.Mean()),
			StdDev:      FormatLatency(lat.StdDev()),
			Min:         FormatLatency(float64(lat.Min())),
			Max:         FormatLatency(float64(lat.Max())),
			Percentiles: percentiles,
		}
	}
	return p
}

// WriteJSON writes report as indented JSON
func WriteJSON(w io.Writer, report *benchmark.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(ToJSONResult(report)); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	return nil
}

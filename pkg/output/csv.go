package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/httpclient_benchmark/pkg/benchmark"
)

var csvHeader = []string{
	"timestamp",
	"client",
	"phase",
	"concurrency",
	"requests",
	"content_bytes_size",
	"keep_alive",
	"elapsed_millis",
	"requests_per_second",
	"success_count",
	"failure_count",
	"bytes",
	"latency_avg_us",
	"latency_std_dev_us",
	"latency_p50_us",
	"latency_p90_us",
	"latency_p99_us",
	"latency_max_us",
	"throughput_mb_per_sec",
	"verified",
}

// WriteCSV writes one row per timed phase
func WriteCSV(w io.Writer, report *benchmark.Report) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}

	cfg := report.Config
	timestamp := time.Now().UTC().Format(time.RFC3339)
	for _, res := range []benchmark.PhaseResult{report.Get, report.Post} {
		lat := latencyOf(res)
		rate := ""
		if res.RateDefined {
			rate = strconv.FormatFloat(res.RequestsPerSecond, 'f', 2, 64)
		}
		row := []string{
			timestamp,
			report.Client,
			string(res.Phase),
			strconv.Itoa(cfg.Concurrency),
			strconv.Itoa(res.Requests),
			strconv.Itoa(cfg.ContentBytesSize),
			strconv.FormatBool(cfg.KeepAliveScenario),
			strconv.FormatInt(res.ElapsedMillis(), 10),
			rate,
			strconv.FormatInt(res.Succeeded, 10),
			strconv.FormatInt(res.Failed, 10),
			strconv.FormatInt(res.Bytes, 10),
			strconv.FormatFloat(lat.Mean(), 'f', 2, 64),
			strconv.FormatFloat(lat.StdDev(), 'f', 2, 64),
			strconv.FormatInt(lat.Percentile(50), 10),
			strconv.FormatInt(lat.Percentile(90), 10),
			strconv.FormatInt(lat.Percentile(99), 10),
			strconv.FormatInt(lat.Max(), 10),
			strconv.FormatFloat(res.ThroughputMBps(), 'f', 4, 64),
			strconv.FormatBool(report.Verification.Passed),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("error writing CSV data: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("error writing CSV data: %w", err)
	}
	return nil
}

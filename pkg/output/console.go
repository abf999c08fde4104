package output

import (
	"fmt"
	"io"

	"github.com/httpclient_benchmark/pkg/benchmark"
)

// WriteConsole prints the full report
func WriteConsole(w io.Writer, report *benchmark.Report, showHistogram bool) {
	cfg := report.Config
	fmt.Fprintf(w, "\nClient: %s, concurrency: %d, requests: %d, payload: %d bytes, keep-alive: %t\n",
		report.Client, cfg.Concurrency, cfg.Requests, cfg.ContentBytesSize, cfg.KeepAliveScenario)

	fmt.Fprintln(w, "\nPhase     Reqs/sec     Elapsed        Avg      Stdev        p50        p90        p99        Max")
	for _, res := range []benchmark.PhaseResult{report.Get, report.Post} {
		lat := latencyOf(res)
		fmt.Fprintf(w, "  %-5s %10s %10dms %10s %10s %10s %10s %10s %10s\n",
			res.Phase,
			FormatRate(res),
			res.ElapsedMillis(),
			FormatLatency(lat.Mean()),
			FormatLatency(lat.StdDev()),
			FormatLatency(float64(lat.Percentile(50))),
			FormatLatency(float64(lat.Percentile(90))),
			FormatLatency(float64(lat.Percentile(99))),
			FormatLatency(float64(lat.Max())))
	}

	for _, res := range []benchmark.PhaseResult{report.Get, report.Post} {
		fmt.Fprintf(w, "\n  %s: %d ok, %d failed, %d bytes, %.2fMB/s\n",
			res.Phase, res.Succeeded, res.Failed, res.Bytes, res.ThroughputMBps())
		if errs := res.SortedErrors(); len(errs) > 0 {
			fmt.Fprintln(w, "    Errors:")
			for _, e := range errs {
				fmt.Fprintf(w, "      %s - %d\n", e.Message, e.Count)
			}
		}
		if lat := latencyOf(res); showHistogram && lat.Count() > 0 {
			fmt.Fprintf(w, "    Latency Histogram:\n%s", benchmark.RenderASCIIHistogram(lat.Buckets(), 40))
		}
	}

	if report.ServerStatsRaw != "" {
		fmt.Fprintf(w, "\n  Server stats: %s\n", report.ServerStatsRaw)
	}
	writeVerification(w, report.Verification)
}

// WriteConsoleQuiet prints one line per phase plus the verification result
func WriteConsoleQuiet(w io.Writer, report *benchmark.Report) {
	for _, res := range []benchmark.PhaseResult{report.Get, report.Post} {
		fmt.Fprintf(w, "%s: Requests: %d, Duration: %dms, Req/s: %s, Avg Latency: %s, Errors: %d\n",
			res.Phase,
			res.Requests,
			res.ElapsedMillis(),
			FormatRate(res),
			FormatLatency(latencyOf(res).Mean()),
			res.Failed)
	}
	writeVerification(w, report.Verification)
}

func writeVerification(w io.Writer, v benchmark.Verification) {
	if v.Passed {
		fmt.Fprintf(w, "Verification: OK (received %d bytes, expected at least %d)\n", v.Received, v.Expected)
		return
	}
	fmt.Fprintf(w, "Verification: FAILED (received bytes '%d' are less than expected '%d')\n", v.Received, v.Expected)
}

// Package output handles benchmark result output in various formats
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/httpclient_benchmark/pkg/benchmark"
	"github.com/httpclient_benchmark/pkg/config"
)

// FormatLatency formats latency values with appropriate units
func FormatLatency(microseconds float64) string {
	if microseconds >= 1_000_000 {
		return fmt.Sprintf("%.2fs", microseconds/1_000_000)
	} else if microseconds >= 1_000 {
		return fmt.Sprintf("%.2fms", microseconds/1_000)
	}
	return fmt.Sprintf("%.2fus", microseconds)
}

// FormatRate formats a requests-per-second value, or n/a when undefined
func FormatRate(r benchmark.PhaseResult) string {
	if !r.RateDefined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", r.RequestsPerSecond)
}

// latencyOf returns the phase histogram, or an empty one for phases that never ran
func latencyOf(r benchmark.PhaseResult) *benchmark.HdrStats {
	if r.Latency == nil {
		return benchmark.NewHdrStats()
	}
	return r.Latency
}

// Write renders report in the configured format. Console output goes to
// stdout; json and csv go to cfg.Output.File when set.
func Write(report *benchmark.Report, cfg config.Config, stdout io.Writer) error {
	switch cfg.Output.Format {
	case "json":
		return toFile(cfg.Output.File, stdout, func(w io.Writer) error {
			return WriteJSON(w, report)
		})
	case "csv":
		return toFile(cfg.Output.File, stdout, func(w io.Writer) error {
			return WriteCSV(w, report)
		})
	default:
		if cfg.Quiet {
			WriteConsoleQuiet(stdout, report)
		} else {
			WriteConsole(stdout, report, cfg.Histogram)
		}
		return nil
	}
}

func toFile(path string, fallback io.Writer, fn func(io.Writer) error) error {
	if path == "" {
		return fn(fallback)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	if err := fn(file); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing output file: %w", err)
	}
	return nil
}

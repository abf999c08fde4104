package benchmark

import (
	"fmt"
	"sort"
	"time"

	"github.com/httpclient_benchmark/pkg/config"
	"github.com/httpclient_benchmark/pkg/server"
)

// maxDistinctErrors caps the error breakdown kept per phase
const maxDistinctErrors = 20

// otherErrorsKey collects errors past the cap
const otherErrorsKey = "(other errors)"

// Phase identifies a request phase
type Phase string

const (
	PhaseGET  Phase = "GET"
	PhasePOST Phase = "POST"
)

// PhaseResult summarizes one timed phase
type PhaseResult struct {
	Phase     Phase
	Requests  int
	Succeeded int64
	Failed    int64
	// Bytes sums body lengths of successful responses only
	Bytes   int64
	Elapsed time.Duration
	// RequestsPerSecond is Requests divided by Elapsed in seconds. It is 0
	// and RateDefined is false when there were no requests or no elapsed time.
	RequestsPerSecond float64
	RateDefined       bool
	Latency           *HdrStats
	Errors            map[string]int
}

// summarize folds the outcomes of a completed phase. Only called after
// the barrier, so it runs on a single goroutine.
func summarize(phase Phase, requests int, elapsed time.Duration, outcomes []Outcome) PhaseResult {
	res := PhaseResult{
		Phase:    phase,
		Requests: requests,
		Elapsed:  elapsed,
		Latency:  NewHdrStats(),
		Errors:   make(map[string]int),
	}

	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			res.Failed++
			res.addError(o.Err.Error())
		case !o.Response.IsSuccess():
			res.Failed++
			res.Latency.RecordDuration(o.Latency)
			res.addError(fmt.Sprintf("HTTP %d", o.Response.StatusCode))
		default:
			res.Succeeded++
			res.Bytes += int64(o.Response.BodyLength())
			res.Latency.RecordDuration(o.Latency)
		}
	}

	if requests > 0 && elapsed > 0 {
		res.RequestsPerSecond = float64(requests) / elapsed.Seconds()
		res.RateDefined = true
	}
	return res
}

func (r *PhaseResult) addError(msg string) {
	if _, ok := r.Errors[msg]; !ok && len(r.Errors) >= maxDistinctErrors {
		msg = otherErrorsKey
	}
	r.Errors[msg]++
}

// ElapsedMillis returns the phase duration in whole milliseconds
func (r PhaseResult) ElapsedMillis() int64 {
	return r.Elapsed.Milliseconds()
}

// ThroughputMBps returns successful body bytes per second in MB/s
func (r PhaseResult) ThroughputMBps() float64 {
	if r.Bytes > 0 && r.Elapsed > 0 {
		return (float64(r.Bytes) / 1024.0 / 1024.0) / r.Elapsed.Seconds()
	}
	return 0
}

// SortedErrors returns the error breakdown ordered by count, then message
func (r PhaseResult) SortedErrors() []ErrorCount {
	out := make([]ErrorCount, 0, len(r.Errors))
	for msg, n := range r.Errors {
		out = append(out, ErrorCount{Message: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// ErrorCount is one entry of an error breakdown
type ErrorCount struct {
	Message string
	Count   int
}

// Report is the result of a full run
type Report struct {
	Client         string
	Config         config.Config
	WarmupRequests int
	StartedAt      time.Time
	FinishedAt     time.Time
	Get            PhaseResult
	Post           PhaseResult
	// ServerStatsRaw is the /stats body fetched after the timed phases
	ServerStatsRaw string
	// ServerStats is nil when ServerStatsRaw could not be parsed
	ServerStats  *server.Stats
	Verification Verification
}

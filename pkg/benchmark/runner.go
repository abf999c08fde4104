package benchmark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/httpclient_benchmark/pkg/config"
	"github.com/httpclient_benchmark/pkg/content"
	"github.com/httpclient_benchmark/pkg/logger"
	"github.com/httpclient_benchmark/pkg/progress"
	"github.com/httpclient_benchmark/pkg/server"
	"github.com/httpclient_benchmark/pkg/transport"
)

// State is the lifecycle position of a Runner
type State int32

const (
	StateIdle State = iota
	StateWarmup
	StateTimedGET
	StateTimedPOST
	StateStatsCollection
	StateVerified
	StateFailed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmup:
		return "warmup"
	case StateTimedGET:
		return "timed-get"
	case StateTimedPOST:
		return "timed-post"
	case StateStatsCollection:
		return "stats-collection"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Runner executes one benchmark against a server base URL
type Runner struct {
	cfg        config.Config
	client     transport.Client
	clientName string
	baseURL    string
	payload    []byte
	log        *logger.Logger
	out        io.Writer
	progress   bool
	onState    func(State)
	state      atomic.Int32
}

// RunnerOption customizes a Runner
type RunnerOption func(*Runner)

// WithLogger sets the runner logger
func WithLogger(l *logger.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = l
	}
}

// WithOutput sets where phase progress lines are printed. Defaults to io.Discard.
func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.out = w
	}
}

// WithProgress enables the progress bar during timed phases
func WithProgress(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.progress = enabled
	}
}

// WithStateHook registers fn to be called on every state transition
func WithStateHook(fn func(State)) RunnerOption {
	return func(r *Runner) {
		r.onState = fn
	}
}

// WithClientName labels the report with the transport name
func WithClientName(name string) RunnerOption {
	return func(r *Runner) {
		r.clientName = name
	}
}

// NewRunner creates a runner. The POST payload is generated here once and
// shared read-only by every POST request.
func NewRunner(cfg config.Config, client transport.Client, baseURL string, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:        cfg,
		client:     client,
		clientName: cfg.Client,
		baseURL:    baseURL,
		payload:    content.Random(cfg.ContentBytesSize),
		log:        logger.Default,
		out:        io.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) transition(s State) {
	r.state.Store(int32(s))
	r.log.Debug("runner", "state -> %s", s)
	if r.onState != nil {
		r.onState(s)
	}
}

// Run performs warmup, the timed GET and POST phases, stats collection and
// verification. The report is returned alongside a *VerificationError when
// too few bytes arrived; other errors are fatal and return a nil report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	pool := NewPool(r.cfg.Concurrency, defaultQueueFactor)
	pool.Start(ctx)
	defer func() {
		pool.Stop()
		r.transition(StateDone)
	}()

	report := &Report{
		Client:         r.clientName,
		Config:         r.cfg,
		WarmupRequests: WarmupRequests(r.cfg.Requests, r.cfg.Concurrency),
		StartedAt:      time.Now(),
	}

	r.transition(StateWarmup)
	if err := r.warmup(ctx, pool, report.WarmupRequests); err != nil {
		return nil, r.fail(err)
	}

	r.transition(StateTimedGET)
	get, err := r.timedPhase(ctx, pool, PhaseGET)
	if err != nil {
		return nil, r.fail(err)
	}
	report.Get = get

	r.transition(StateTimedPOST)
	post, err := r.timedPhase(ctx, pool, PhasePOST)
	if err != nil {
		return nil, r.fail(err)
	}
	report.Post = post

	r.transition(StateStatsCollection)
	raw, err := r.collectStats(ctx)
	if err != nil {
		return nil, r.fail(err)
	}
	report.ServerStatsRaw = raw
	if stats, err := server.ParseStats(raw); err != nil {
		r.log.Warn("runner", "could not parse server stats: %v", err)
	} else {
		report.ServerStats = &stats
	}

	report.Verification = Verify(get, post, r.cfg.ContentBytesSize, r.cfg.Requests)
	report.FinishedAt = time.Now()
	if err := report.Verification.Err(); err != nil {
		r.transition(StateFailed)
		return report, err
	}

	r.transition(StateVerified)
	return report, nil
}

func (r *Runner) fail(err error) error {
	r.transition(StateFailed)
	if errors.Is(err, ErrInterrupted) {
		r.log.Warn("runner", "%v", err)
	} else {
		r.log.Error("runner", "%v", err)
	}
	return err
}

func (r *Runner) warmup(ctx context.Context, pool *Pool, n int) error {
	half := n / 2
	r.log.Info("runner", "warming up with %d GET and %d POST requests", half, half)

	if _, err := r.runPhase(ctx, pool, PhaseGET, half, nil); err != nil {
		return fmt.Errorf("warmup GET: %w", err)
	}
	if _, err := r.runPhase(ctx, pool, PhasePOST, half, nil); err != nil {
		return fmt.Errorf("warmup POST: %w", err)
	}

	raw, err := r.collectStats(ctx)
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	r.log.Debug("runner", "warmup server stats: %s", raw)
	return nil
}

func (r *Runner) timedPhase(ctx context.Context, pool *Pool, phase Phase) (PhaseResult, error) {
	n := r.cfg.Requests
	fmt.Fprintf(r.out, "Start benchmarking %s requests: %d\n", phase, n)

	var bar *progress.Bar
	if r.progress && n > 0 {
		bar = progress.New(r.out, n)
	}

	res, err := r.runPhase(ctx, pool, phase, n, bar)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("%s phase: %w", phase, err)
	}

	fmt.Fprintf(r.out, "%s '%d' requests completed in: %d millis\n", phase, n, res.ElapsedMillis())
	if res.RateDefined {
		fmt.Fprintf(r.out, "%s requests per seconds on concurrency '%d' : %.2f\n", phase, r.cfg.Concurrency, res.RequestsPerSecond)
	} else {
		fmt.Fprintf(r.out, "%s requests per seconds on concurrency '%d' : n/a\n", phase, r.cfg.Concurrency)
	}
	if res.Failed > 0 {
		r.log.Warn("runner", "%s phase: %d of %d requests failed", phase, res.Failed, n)
	}
	return res, nil
}

// runPhase submits n tasks, waits for all of them and summarizes. The
// window measured starts before the first submission and ends after the
// last completion.
func (r *Runner) runPhase(ctx context.Context, pool *Pool, phase Phase, n int, bar *progress.Bar) (PhaseResult, error) {
	target := r.baseURL + server.PathFixed
	if phase == PhasePOST {
		target = r.baseURL + server.PathEcho
	}

	var completed atomic.Int64
	stopProgress := r.trackProgress(bar, &completed)

	start := time.Now()
	futures := make([]*Future, 0, n)
	for range n {
		f, err := pool.Submit(ctx, r.task(phase, target, r.requestContext(phase), &completed))
		if err != nil {
			stopProgress()
			return PhaseResult{}, err
		}
		futures = append(futures, f)
	}

	outcomes, err := WaitAll(ctx, futures)
	elapsed := time.Since(start)
	stopProgress()
	if err != nil {
		return PhaseResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return PhaseResult{}, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	if bar != nil {
		bar.Complete(elapsed, n)
	}

	return summarize(phase, n, elapsed, outcomes), nil
}

func (r *Runner) task(phase Phase, target string, rc transport.RequestContext, completed *atomic.Int64) Task {
	return func(ctx context.Context) Outcome {
		start := time.Now()
		var (
			resp *transport.Response
			err  error
		)
		if phase == PhasePOST {
			resp, err = r.client.Post(ctx, target, rc)
		} else {
			resp, err = r.client.Get(ctx, target, rc)
		}
		completed.Add(1)
		return Outcome{Response: resp, Err: err, Latency: time.Since(start)}
	}
}

// requestContext builds a fresh context for one request
func (r *Runner) requestContext(phase Phase) transport.RequestContext {
	rc := transport.RequestContext{
		SocketTimeout:  r.cfg.SocketTimeout(),
		ConnectTimeout: r.cfg.ConnectTimeout(),
	}
	if !r.cfg.KeepAliveScenario {
		rc = rc.WithHeader("Connection", "Close")
	}
	if phase == PhasePOST {
		rc = rc.WithHeader("Content-Type", "application/octet-stream")
		rc.PostBody = r.payload
	}
	return rc
}

// collectStats fetches /stats and then /stats/reset. Any failure is fatal.
func (r *Runner) collectStats(ctx context.Context) (string, error) {
	rc := transport.RequestContext{
		SocketTimeout:  r.cfg.SocketTimeout(),
		ConnectTimeout: r.cfg.ConnectTimeout(),
	}

	resp, err := r.client.Get(ctx, r.baseURL+server.PathStats, rc)
	if err != nil {
		return "", fmt.Errorf("failed to fetch server stats: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("failed to fetch server stats: HTTP %d", resp.StatusCode)
	}
	stats := string(resp.Body)

	resp, err = r.client.Get(ctx, r.baseURL+server.PathStatsReset, rc)
	if err != nil {
		return "", fmt.Errorf("failed to reset server stats: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("failed to reset server stats: HTTP %d", resp.StatusCode)
	}

	r.log.Info("runner", "server stats: %s", stats)
	return stats, nil
}

// trackProgress refreshes bar every 100ms until the returned func is called
func (r *Runner) trackProgress(bar *progress.Bar, completed *atomic.Int64) func() {
	if bar == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Report(int(completed.Load()))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

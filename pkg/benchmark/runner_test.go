package benchmark

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpclient_benchmark/pkg/config"
	"github.com/httpclient_benchmark/pkg/logger"
	"github.com/httpclient_benchmark/pkg/server"
	"github.com/httpclient_benchmark/pkg/transport"
)

func runnerConfig() config.Config {
	cfg := config.Defaults()
	cfg.Port = 0
	cfg.Concurrency = 4
	cfg.Requests = 60
	cfg.ContentBytesSize = 64
	cfg.ClientSocketTimeoutMillis = 5000
	cfg.ClientConnectTimeoutMillis = 1000
	return cfg
}

func startServer(t *testing.T, cfg config.Config) *server.Server {
	t.Helper()
	s := server.New(cfg, server.WithLogger(logger.Discard()))
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (s *stateRecorder) record(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateRecorder) get() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func TestRunAgainstEmbeddedServer(t *testing.T) {
	for _, name := range transport.Names() {
		t.Run(name, func(t *testing.T) {
			cfg := runnerConfig()
			srv := startServer(t, cfg)
			client, err := transport.New(name, cfg)
			require.NoError(t, err)

			var out bytes.Buffer
			rec := &stateRecorder{}
			r := NewRunner(cfg, client, srv.URL(),
				WithLogger(logger.Discard()),
				WithOutput(&out),
				WithStateHook(rec.record),
				WithClientName(name),
			)
			assert.Equal(t, StateIdle, r.State())

			report, err := r.Run(context.Background())
			require.NoError(t, err)
			require.NotNil(t, report)

			assert.Equal(t, []State{
				StateWarmup, StateTimedGET, StateTimedPOST, StateStatsCollection, StateVerified, StateDone,
			}, rec.get())
			assert.Equal(t, StateDone, r.State())

			assert.Equal(t, name, report.Client)
			assert.Equal(t, 6, report.WarmupRequests)
			assert.Equal(t, int64(60), report.Get.Succeeded)
			assert.Equal(t, int64(60), report.Post.Succeeded)
			assert.Zero(t, report.Get.Failed+report.Post.Failed)
			assert.Equal(t, int64(60*64), report.Get.Bytes)
			assert.Equal(t, int64(60*64), report.Post.Bytes)
			assert.True(t, report.Get.RateDefined)
			assert.Greater(t, report.Get.RequestsPerSecond, 0.0)
			assert.Equal(t, int64(60), report.Get.Latency.Count())

			assert.True(t, report.Verification.Passed)
			assert.Equal(t, int64(60*64*2), report.Verification.Expected)

			// warmup traffic is reset before the timed phases
			require.NotNil(t, report.ServerStats)
			assert.Equal(t, server.Stats{Total: 120, Fixed: 60, Echo: 60}, *report.ServerStats)
			assert.Equal(t, "total:120,fixed:60echo:60", report.ServerStatsRaw)
			assert.Equal(t, server.Stats{}, srv.Counters().Snapshot())

			lines := out.String()
			assert.Contains(t, lines, "Start benchmarking GET requests: 60\n")
			assert.Contains(t, lines, "Start benchmarking POST requests: 60\n")
			assert.Contains(t, lines, "GET '60' requests completed in: ")
			assert.Contains(t, lines, "POST requests per seconds on concurrency '4' : ")
		})
	}
}

func TestRunWithoutKeepAlive(t *testing.T) {
	cfg := runnerConfig()
	cfg.KeepAliveScenario = false
	cfg.Requests = 20
	srv := startServer(t, cfg)

	fake := &fakeClient{inner: transport.NewNetHTTP(cfg)}
	r := NewRunner(cfg, fake, srv.URL(), WithLogger(logger.Discard()))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Verification.Passed)

	for _, rc := range fake.phaseContexts() {
		assert.True(t, rc.WantsClose())
	}
}

func TestRunWithKeepAliveSendsNoCloseHeader(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 10
	srv := startServer(t, cfg)

	fake := &fakeClient{inner: transport.NewNetHTTP(cfg)}
	_, err := NewRunner(cfg, fake, srv.URL(), WithLogger(logger.Discard())).Run(context.Background())
	require.NoError(t, err)

	contexts := fake.phaseContexts()
	require.NotEmpty(t, contexts)
	for _, rc := range contexts {
		assert.False(t, rc.WantsClose())
		assert.Equal(t, 5*time.Second, rc.SocketTimeout)
		assert.Equal(t, time.Second, rc.ConnectTimeout)
	}
}

func TestRunZeroRequests(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 0
	srv := startServer(t, cfg)
	client := transport.NewNetHTTP(cfg)

	var out bytes.Buffer
	report, err := NewRunner(cfg, client, srv.URL(), WithLogger(logger.Discard()), WithOutput(&out)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cfg.Concurrency, report.WarmupRequests)
	assert.False(t, report.Get.RateDefined)
	assert.Zero(t, report.Get.RequestsPerSecond)
	assert.True(t, report.Verification.Passed)
	assert.Zero(t, report.Verification.Expected)
	assert.Equal(t, server.Stats{}, *report.ServerStats)
	assert.Contains(t, out.String(), "GET requests per seconds on concurrency '4' : n/a")
}

func TestRunZeroContentSize(t *testing.T) {
	cfg := runnerConfig()
	cfg.ContentBytesSize = 0
	cfg.Requests = 10
	srv := startServer(t, cfg)

	report, err := NewRunner(cfg, transport.NewNetHTTP(cfg), srv.URL(), WithLogger(logger.Discard())).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Verification.Received)
	assert.True(t, report.Verification.Passed)
	assert.Equal(t, int64(10), report.Post.Succeeded)
}

// fakeClient records request contexts and can override responses
type fakeClient struct {
	inner transport.Client
	get   func(ctx context.Context, target string) (*transport.Response, error)
	post  func(ctx context.Context, target string) (*transport.Response, error)

	mu   sync.Mutex
	seen []recorded
}

type recorded struct {
	target string
	rc     transport.RequestContext
}

func (f *fakeClient) Get(ctx context.Context, target string, rc transport.RequestContext) (*transport.Response, error) {
	f.record(target, rc)
	if f.get != nil {
		if resp, err := f.get(ctx, target); resp != nil || err != nil {
			return resp, err
		}
	}
	return f.inner.Get(ctx, target, rc)
}

func (f *fakeClient) Post(ctx context.Context, target string, rc transport.RequestContext) (*transport.Response, error) {
	f.record(target, rc)
	if f.post != nil {
		if resp, err := f.post(ctx, target); resp != nil || err != nil {
			return resp, err
		}
	}
	return f.inner.Post(ctx, target, rc)
}

func (f *fakeClient) record(target string, rc transport.RequestContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, recorded{target: target, rc: rc})
}

// phaseContexts returns contexts sent to /fixed and /echo
func (f *fakeClient) phaseContexts() []transport.RequestContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.RequestContext
	for _, r := range f.seen {
		if strings.HasSuffix(r.target, server.PathFixed) || strings.HasSuffix(r.target, server.PathEcho) {
			out = append(out, r.rc)
		}
	}
	return out
}

func TestRunPostContextCarriesPayload(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 8
	srv := startServer(t, cfg)

	fake := &fakeClient{inner: transport.NewNetHTTP(cfg)}
	_, err := NewRunner(cfg, fake, srv.URL(), WithLogger(logger.Discard())).Run(context.Background())
	require.NoError(t, err)

	var first []byte
	for _, r := range fake.seen {
		if !strings.HasSuffix(r.target, server.PathEcho) {
			assert.Nil(t, r.rc.PostBody)
			continue
		}
		assert.Equal(t, "application/octet-stream", r.rc.Headers.Get("Content-Type"))
		require.Len(t, r.rc.PostBody, 64)
		if first == nil {
			first = r.rc.PostBody
		}
		assert.Equal(t, first, r.rc.PostBody)
	}
}

func TestRunVerificationFailure(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 20
	srv := startServer(t, cfg)

	var calls atomic.Int32
	fake := &fakeClient{
		inner: transport.NewNetHTTP(cfg),
		get: func(ctx context.Context, target string) (*transport.Response, error) {
			// every other /fixed request fails
			if strings.HasSuffix(target, server.PathFixed) && calls.Add(1)%2 == 0 {
				return nil, &transport.Error{Op: "GET", URL: target, Err: errors.New("connection reset")}
			}
			return nil, nil
		},
	}
	rec := &stateRecorder{}
	report, err := NewRunner(cfg, fake, srv.URL(), WithLogger(logger.Discard()), WithStateHook(rec.record)).Run(context.Background())
	require.Error(t, err)

	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(20*64*2), verr.Expected)
	assert.Less(t, verr.Received, verr.Expected)
	assert.Contains(t, err.Error(), "are less than expected")

	require.NotNil(t, report)
	assert.False(t, report.Verification.Passed)
	assert.Equal(t, int64(10), report.Get.Failed)
	assert.Equal(t, 10, report.Get.Errors["GET "+srv.URL()+server.PathFixed+": connection reset"])

	states := rec.get()
	assert.Equal(t, []State{StateFailed, StateDone}, states[len(states)-2:])
}

func TestRunNonSuccessResponsesDoNotCount(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 10
	srv := startServer(t, cfg)

	fake := &fakeClient{
		inner: transport.NewNetHTTP(cfg),
		post: func(ctx context.Context, target string) (*transport.Response, error) {
			return &transport.Response{StatusCode: 500, Body: bytes.Repeat([]byte("E"), 64)}, nil
		},
	}
	report, err := NewRunner(cfg, fake, srv.URL(), WithLogger(logger.Discard())).Run(context.Background())

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, report.Post.Bytes)
	assert.Equal(t, int64(10), report.Post.Failed)
	assert.Equal(t, 10, report.Post.Errors["HTTP 500"])
	assert.Equal(t, int64(10*64), verr.Received)
}

func TestRunStatsFailureIsFatal(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 10
	srv := startServer(t, cfg)

	fake := &fakeClient{
		inner: transport.NewNetHTTP(cfg),
		get: func(ctx context.Context, target string) (*transport.Response, error) {
			if strings.HasSuffix(target, server.PathStats) {
				return &transport.Response{StatusCode: 503}, nil
			}
			return nil, nil
		},
	}
	rec := &stateRecorder{}
	report, err := NewRunner(cfg, fake, srv.URL(), WithLogger(logger.Discard()), WithStateHook(rec.record)).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "failed to fetch server stats")

	// the first stats fetch happens right after warmup
	assert.Equal(t, []State{StateWarmup, StateFailed, StateDone}, rec.get())
}

func TestRunInterrupted(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 1000

	block := func(ctx context.Context, target string) (*transport.Response, error) {
		<-ctx.Done()
		return nil, &transport.Error{Op: "GET", URL: target, Err: ctx.Err()}
	}
	fake := &fakeClient{get: block, post: block}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	r := NewRunner(cfg, fake, "http://127.0.0.1:1", WithLogger(logger.Discard()))
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInterrupted)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateDone, r.State())
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunInterruptedDuringSlowRequests(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	for _, name := range transport.Names() {
		t.Run(name, func(t *testing.T) {
			cfg := runnerConfig()
			client, err := transport.New(name, cfg)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			timer := time.AfterFunc(200*time.Millisecond, cancel)
			defer timer.Stop()

			start := time.Now()
			_, err = NewRunner(cfg, client, slow.URL, WithLogger(logger.Discard())).Run(ctx)
			assert.ErrorIs(t, err, ErrInterrupted)
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}
}

func TestRunWithProgressBar(t *testing.T) {
	cfg := runnerConfig()
	cfg.Requests = 30
	srv := startServer(t, cfg)

	var out bytes.Buffer
	_, err := NewRunner(cfg, transport.NewNetHTTP(cfg), srv.URL(),
		WithLogger(logger.Discard()), WithOutput(&out), WithProgress(true)).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "(30 requests)")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "timed-get", StateTimedGET.String())
	assert.Equal(t, "unknown", State(99).String())
}

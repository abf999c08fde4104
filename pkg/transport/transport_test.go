package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpclient_benchmark/pkg/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var closes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/fixed", func(w http.ResponseWriter, r *http.Request) {
		if r.Close {
			closes.Add(1)
		}
		_, _ = w.Write([]byte("ABCDEFGHIJ"))
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		if r.Close {
			closes.Add(1)
		}
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/fixed", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = w.Write([]byte("late"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &closes
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Concurrency = 4
	cfg.ClientSocketTimeoutMillis = 2000
	cfg.ClientConnectTimeoutMillis = 1000
	return cfg
}

func baseContext(cfg config.Config) RequestContext {
	return RequestContext{
		SocketTimeout:  cfg.SocketTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
	}
}

func forEachClient(t *testing.T, fn func(t *testing.T, c Client, cfg config.Config)) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			c, err := New(name, cfg)
			require.NoError(t, err)
			if closer, ok := c.(io.Closer); ok {
				t.Cleanup(func() { _ = closer.Close() })
			}
			fn(t, c, cfg)
		})
	}
}

func TestClientGet(t *testing.T) {
	srv, _ := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		resp, err := c.Get(context.Background(), srv.URL+"/fixed", baseContext(cfg))
		require.NoError(t, err)
		assert.True(t, resp.IsSuccess())
		assert.Equal(t, 10, resp.BodyLength())
		assert.Equal(t, "ABCDEFGHIJ", string(resp.Body))
	})
}

func TestClientPostEchoesBody(t *testing.T) {
	srv, _ := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		rc := baseContext(cfg).WithHeader("Content-Type", "application/octet-stream")
		rc.PostBody = []byte("ZYXWVUTSRQ")

		resp, err := c.Post(context.Background(), srv.URL+"/echo", rc)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ZYXWVUTSRQ", string(resp.Body))
	})
}

func TestClientConnectionClose(t *testing.T) {
	srv, closes := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		before := closes.Load()
		rc := baseContext(cfg).WithHeader("Connection", "Close")

		_, err := c.Get(context.Background(), srv.URL+"/fixed", rc)
		require.NoError(t, err)
		assert.Equal(t, before+1, closes.Load())
	})
}

func TestClientDoesNotFollowRedirects(t *testing.T) {
	srv, _ := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		resp, err := c.Get(context.Background(), srv.URL+"/redirect", baseContext(cfg))
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.False(t, resp.IsSuccess())
	})
}

func TestClientNonSuccessIsNotAnError(t *testing.T) {
	srv, _ := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		resp, err := c.Get(context.Background(), srv.URL+"/missing", baseContext(cfg))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.False(t, resp.IsSuccess())
	})
}

func TestClientSocketTimeout(t *testing.T) {
	srv, _ := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		rc := baseContext(cfg)
		rc.SocketTimeout = 50 * time.Millisecond

		resp, err := c.Get(context.Background(), srv.URL+"/slow", rc)
		require.Error(t, err)
		assert.Nil(t, resp)

		var te *Error
		require.True(t, errors.As(err, &te))
		assert.Equal(t, http.MethodGet, te.Op)
		assert.True(t, te.Timeout(), "expected timeout, got %v", err)
		assert.True(t, IsTimeout(err))
	})
}

func TestClientConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL + "/fixed"
	srv.Close()

	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		_, err := c.Get(context.Background(), target, baseContext(cfg))
		var te *Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, target, te.URL)
	})
}

func TestClientCancelledContext(t *testing.T) {
	srv, _ := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Get(ctx, srv.URL+"/fixed", baseContext(cfg))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClientCancelDuringRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	forEachClient(t, func(t *testing.T, c Client, cfg config.Config) {
		ctx, cancel := context.WithCancel(context.Background())
		timer := time.AfterFunc(100*time.Millisecond, cancel)
		defer timer.Stop()

		start := time.Now()
		resp, err := c.Get(ctx, srv.URL+"/slow", baseContext(cfg))
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)

		var te *Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.MethodGet, te.Op)
	})
}

func TestRequestContextWithHeaderCopies(t *testing.T) {
	base := RequestContext{}
	withClose := base.WithHeader("Connection", "Close")

	assert.Nil(t, base.Headers)
	assert.False(t, base.WantsClose())
	assert.True(t, withClose.WantsClose())

	keepAlive := RequestContext{}.WithHeader("Connection", "keep-alive, Upgrade")
	assert.False(t, keepAlive.WantsClose())
}

func TestResponseHelpers(t *testing.T) {
	var nilResp *Response
	assert.False(t, nilResp.IsSuccess())
	assert.Equal(t, 0, nilResp.BodyLength())

	assert.True(t, (&Response{StatusCode: 200}).IsSuccess())
	assert.True(t, (&Response{StatusCode: 299}).IsSuccess())
	assert.False(t, (&Response{StatusCode: 300}).IsSuccess())
	assert.False(t, (&Response{StatusCode: 199}).IsSuccess())
	assert.Equal(t, 0, (&Response{StatusCode: 204}).BodyLength())
}

func TestNewUnknownClient(t *testing.T) {
	_, err := New("carrier-pigeon", testConfig())
	assert.ErrorContains(t, err, "carrier-pigeon")
	assert.Equal(t, []string{"fasthttp", "net/http"}, Names())
}

func TestPoolSizes(t *testing.T) {
	perHost, total := poolSizes(10)
	assert.Equal(t, 20, perHost)
	assert.Equal(t, 20, total)

	perHost, total = poolSizes(0)
	assert.Equal(t, 11, perHost)
	assert.Equal(t, 2, total)
}

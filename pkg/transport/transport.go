// Package transport defines the client abstraction the benchmark drives and
// the adapters that bind it to concrete HTTP client libraries.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/httpclient_benchmark/pkg/config"
)

// ErrTimeout marks a request that exceeded its connect or socket timeout
var ErrTimeout = errors.New("timeout")

// Client executes a single logical request and returns once the whole body
// has been read. Implementations must be safe for concurrent use, speak
// HTTP/1.1 only and never follow redirects.
type Client interface {
	Get(ctx context.Context, target string, rc RequestContext) (*Response, error)
	Post(ctx context.Context, target string, rc RequestContext) (*Response, error)
}

// RequestContext carries the per-request parameters. A new one is built for
// every request; the PostBody slice may be shared and must not be written to.
type RequestContext struct {
	SocketTimeout  time.Duration
	ConnectTimeout time.Duration
	PostBody       []byte
	Headers        http.Header
}

// WithHeader returns a copy of rc with value appended to the named header
func (rc RequestContext) WithHeader(name, value string) RequestContext {
	h := rc.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Add(name, value)
	rc.Headers = h
	return rc
}

// WantsClose reports whether the request asks for Connection: close
func (rc RequestContext) WantsClose() bool {
	for _, v := range rc.Headers.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "close") {
				return true
			}
		}
	}
	return false
}

// Response is a fully materialized HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// BodyLength returns the body size, 0 when there is no body
func (r *Response) BodyLength() int {
	if r == nil {
		return 0
	}
	return len(r.Body)
}

// Error is returned for connection, protocol and timeout failures
type Error struct {
	Op  string // GET or POST
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a connect or socket timeout
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, ErrTimeout) || errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// IsTimeout reports whether err is a transport timeout
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Timeout()
}

// Factory builds a client sized for cfg
type Factory func(cfg config.Config) Client

var factories = map[string]Factory{
	"net/http": func(cfg config.Config) Client { return NewNetHTTP(cfg) },
	"fasthttp": func(cfg config.Config) Client { return NewFastHTTP(cfg) },
}

// New returns the named client
func New(name string, cfg config.Config) (Client, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown client %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(cfg), nil
}

// Names lists the registered client names in sorted order
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// poolSizes returns the per-host and total connection limits for a concurrency
func poolSizes(concurrency int) (perHost, total int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	return concurrency + 10, 2 * concurrency
}

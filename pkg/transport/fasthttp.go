package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/httpclient_benchmark/pkg/config"
)

// FastHTTPClient adapts valyala/fasthttp to Client
type FastHTTPClient struct {
	client *fasthttp.Client
}

// NewFastHTTP creates a fasthttp client with pools sized from cfg.Concurrency.
// fasthttp dials per client, so the connect timeout comes from cfg.
func NewFastHTTP(cfg config.Config) *FastHTTPClient {
	perHost, _ := poolSizes(cfg.Concurrency)
	connectTimeout := cfg.ConnectTimeout()

	return &FastHTTPClient{
		client: &fasthttp.Client{
			Name:                     "httpclient-benchmark",
			NoDefaultUserAgentHeader: true,
			MaxConnsPerHost:          perHost,
			MaxIdleConnDuration:      90 * time.Second,
			ReadTimeout:              cfg.SocketTimeout(),
			WriteTimeout:             cfg.SocketTimeout(),
			Dial: func(addr string) (net.Conn, error) {
				if connectTimeout <= 0 {
					return fasthttp.Dial(addr)
				}
				return fasthttp.DialTimeout(addr, connectTimeout)
			},
		},
	}
}

// Get performs a GET request
func (c *FastHTTPClient) Get(ctx context.Context, target string, rc RequestContext) (*Response, error) {
	return c.do(ctx, fasthttp.MethodGet, target, rc)
}

// Post performs a POST request with rc.PostBody
func (c *FastHTTPClient) Post(ctx context.Context, target string, rc RequestContext) (*Response, error) {
	return c.do(ctx, fasthttp.MethodPost, target, rc)
}

// Close releases idle connections
func (c *FastHTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *FastHTTPClient) do(ctx context.Context, method, target string, rc RequestContext) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: method, URL: target, Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(target)
	req.Header.SetMethod(method)
	for name, values := range rc.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if rc.WantsClose() {
		req.SetConnectionClose()
	}
	if rc.PostBody != nil {
		req.SetBodyRaw(rc.PostBody)
	}

	timeout := rc.SocketTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	// fasthttp has no context support, so the call runs aside and ctx is
	// watched here. req and resp belong to that goroutine until it returns.
	result := make(chan error, 1)
	go func() {
		if timeout > 0 {
			result <- c.client.DoTimeout(req, resp, timeout)
		} else {
			result <- c.client.Do(req, resp)
		}
	}()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		go func() {
			<-result
			release()
		}()
		return nil, &Error{Op: method, URL: target, Err: ctx.Err()}
	}
	defer release()

	if err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, &Error{Op: method, URL: target, Err: err}
	}

	// resp is returned to the pool on exit, so the body has to be copied out
	body := append([]byte{}, resp.Body()...)
	return &Response{StatusCode: resp.StatusCode(), Body: body}, nil
}

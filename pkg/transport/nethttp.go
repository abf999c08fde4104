package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/httpclient_benchmark/pkg/config"
)

type connectTimeoutKey struct{}

// NetHTTPClient adapts net/http to Client
type NetHTTPClient struct {
	client    *http.Client
	transport *http.Transport
}

// NewNetHTTP creates a net/http client pinned to HTTP/1.1 with pools sized from cfg.Concurrency
func NewNetHTTP(cfg config.Config) *NetHTTPClient {
	perHost, total := poolSizes(cfg.Concurrency)
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := *dialer
			if timeout, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok && timeout > 0 {
				d.Timeout = timeout
			}
			return d.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        total,
		MaxIdleConnsPerHost: perHost,
		MaxConnsPerHost:     perHost,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		ForceAttemptHTTP2:   false,
		// A non-nil empty map disables the automatic HTTP/2 upgrade
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}

	return &NetHTTPClient{
		transport: transport,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Get performs a GET request
func (c *NetHTTPClient) Get(ctx context.Context, target string, rc RequestContext) (*Response, error) {
	return c.do(ctx, http.MethodGet, target, rc)
}

// Post performs a POST request with rc.PostBody
func (c *NetHTTPClient) Post(ctx context.Context, target string, rc RequestContext) (*Response, error) {
	return c.do(ctx, http.MethodPost, target, rc)
}

// Close releases idle connections
func (c *NetHTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *NetHTTPClient) do(ctx context.Context, method, target string, rc RequestContext) (*Response, error) {
	ctx = context.WithValue(ctx, connectTimeoutKey{}, rc.ConnectTimeout)
	if rc.SocketTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.SocketTimeout)
		defer cancel()
	}

	var body io.Reader
	if rc.PostBody != nil {
		body = bytes.NewReader(rc.PostBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Op: method, URL: target, Err: err}
	}
	for name, values := range rc.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Close = rc.WantsClose()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: method, URL: target, Err: err}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Package http is the target client: one physical request per call, with
// per-phase timing and transport error classification.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Defaults for the underlying transport.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConnsPerHost = 100
	DefaultUserAgent           = "steadyrate/1.0"
)

// Client executes requests against the target.
//
// It never retries: a retry would send more than one request per tick and
// distort the arrival rate. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
	compress   bool
}

type clientConfig struct {
	baseURL             string
	headers             map[string]string
	timeout             time.Duration
	userAgent           string
	transport           http.RoundTripper
	http2               bool
	insecureSkipVerify  bool
	maxConnsPerHost     int
	maxIdleConnsPerHost int
	compress            bool
}

// ClientOption is a function that configures a Client
type ClientOption func(*clientConfig)

// NewClient creates a new target client with the given options.
func NewClient(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		headers:             make(map[string]string),
		timeout:             DefaultTimeout,
		userAgent:           DefaultUserAgent,
		maxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		compress:            true,
	}
	for _, option := range options {
		option(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		tr := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        0,
			MaxIdleConnsPerHost: cfg.maxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.maxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   cfg.http2,
			// Compression is handled by decodeBody so gzip, deflate and br
			// are treated alike and byte counts reflect the wire.
			DisableCompression: true,
		}
		if cfg.insecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		if cfg.http2 {
			if err := http2.ConfigureTransport(tr); err != nil {
				return nil, fmt.Errorf("configure http2 transport: %w", err)
			}
		}
		transport = tr
	}

	if cfg.userAgent != "" {
		if _, ok := cfg.headers["User-Agent"]; !ok {
			cfg.headers["User-Agent"] = cfg.userAgent
		}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			// The per-call deadline is applied through the request context.
			Timeout: 0,
			// Redirects are not followed: one Execute is one request and a
			// 3xx is the observed status.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:  cfg.baseURL,
		headers:  cfg.headers,
		timeout:  cfg.timeout,
		compress: cfg.compress,
	}, nil
}

// WithBaseURL resolves relative request URLs against baseURL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *clientConfig) {
		c.headers[key] = value
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithTransport replaces the transport. Connection options are ignored.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) {
		c.transport = rt
	}
}

// WithHTTP2 enables HTTP/2 negotiation on TLS targets.
func WithHTTP2(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.http2 = enabled
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *clientConfig) {
		c.insecureSkipVerify = skip
	}
}

// WithMaxConnsPerHost limits connections per host (0 = unlimited).
func WithMaxConnsPerHost(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxConnsPerHost = n
	}
}

// WithMaxIdleConnsPerHost sets the idle pool size per host.
func WithMaxIdleConnsPerHost(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxIdleConnsPerHost = n
		}
	}
}

// WithCompression controls whether Accept-Encoding is advertised.
func WithCompression(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.compress = enabled
	}
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// CloseIdleConnections closes idle keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Execute performs exactly one request and reads the full response.
//
// Any failure to obtain a response is returned as a *TransportError. A
// response with any status code is a success at this layer.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := req.Build(c.baseURL)
	if err != nil {
		return nil, &TransportError{Kind: KindInvalidRequest, Op: req.Method, URL: req.URL, Err: err}
	}
	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	if c.compress && httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	rec := &traceRecorder{}
	rec.timing.StartTime = time.Now()
	rec.lastPhaseEnd = rec.timing.StartTime
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(callCtx, rec.trace()))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, newTransportError(ctx, httpReq, err)
	}
	defer httpResp.Body.Close()

	contentTransferStart := time.Now()
	counter := &countingReader{r: httpResp.Body}
	body, err := decodeBody(httpResp.Header.Get("Content-Encoding"), counter)
	if err != nil {
		return nil, newTransportError(ctx, httpReq, fmt.Errorf("read body: %w", err))
	}
	end := time.Now()

	timing := rec.snapshot()
	timing.ContentTransferTime = end.Sub(contentTransferStart)
	timing.TotalTime = end.Sub(timing.StartTime)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Proto:      httpResp.Proto,
		Headers:    httpResp.Header,
		Body:       body,
		Bytes:      counter.n,
		Latency:    timing.TotalTime,
		Timing:     timing,
	}, nil
}

// traceRecorder collects httptrace callbacks, which may fire on transport
// goroutines.
type traceRecorder struct {
	mu                sync.Mutex
	timing            TimingInfo
	dnsStart          time.Time
	connectStart      time.Time
	tlsHandshakeStart time.Time
	lastPhaseEnd      time.Time
}

func (r *traceRecorder) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			r.mu.Lock()
			r.dnsStart = time.Now()
			r.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			r.mu.Lock()
			now := time.Now()
			r.timing.DNSLookupTime = now.Sub(r.dnsStart)
			r.lastPhaseEnd = now
			r.mu.Unlock()
		},
		ConnectStart: func(string, string) {
			r.mu.Lock()
			if r.connectStart.IsZero() {
				r.connectStart = time.Now()
			}
			r.mu.Unlock()
		},
		ConnectDone: func(_, _ string, err error) {
			if err != nil {
				return
			}
			r.mu.Lock()
			now := time.Now()
			r.timing.TCPConnectTime = now.Sub(r.connectStart)
			r.lastPhaseEnd = now
			r.mu.Unlock()
		},
		TLSHandshakeStart: func() {
			r.mu.Lock()
			r.tlsHandshakeStart = time.Now()
			r.mu.Unlock()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err != nil {
				return
			}
			r.mu.Lock()
			now := time.Now()
			r.timing.TLSHandshakeTime = now.Sub(r.tlsHandshakeStart)
			r.lastPhaseEnd = now
			r.mu.Unlock()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			r.mu.Lock()
			r.timing.ConnectionReused = info.Reused
			if info.Reused {
				r.lastPhaseEnd = time.Now()
			}
			r.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			r.mu.Lock()
			r.timing.TimeToFirstByte = time.Since(r.lastPhaseEnd)
			r.mu.Unlock()
		},
	}
}

func (r *traceRecorder) snapshot() TimingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timing
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// newBodyReader wraps a request body for http.NewRequest.
func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request represents one request to the target.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// NewRequest creates a new request.
func NewRequest(method, rawURL string) *Request {
	return &Request{
		Method:  method,
		URL:     rawURL,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *Request) WithHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// WithBody sets the body of the request
func (r *Request) WithBody(body string) *Request {
	r.Body = []byte(body)
	return r
}

// Build constructs an http.Request, resolving relative URLs against baseURL.
func (r *Request) Build(baseURL string) (*http.Request, error) {
	target, err := resolveURL(baseURL, r.URL)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequest(method, target, newBodyReader(r.Body))
	if err != nil {
		return nil, err
	}

	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	if len(r.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func resolveURL(baseURL, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if baseURL == "" {
		return "", fmt.Errorf("relative url %q without a base url", raw)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	// Join paths rather than using ResolveReference so "/api" + "/x" keeps
	// the base path prefix.
	joined := *base
	joined.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
	joined.RawPath = ""
	if u.RawQuery != "" {
		if joined.RawQuery != "" {
			joined.RawQuery += "&" + u.RawQuery
		} else {
			joined.RawQuery = u.RawQuery
		}
	}
	return joined.String(), nil
}

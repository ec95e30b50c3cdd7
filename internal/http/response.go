package http

import (
	"net/http"
	"time"
)

// TimingInfo stores detailed timing information for a request.
// All durations represent the time spent in each phase of the request.
type TimingInfo struct {
	// StartTime is when the request started
	StartTime time.Time

	// DNSLookupTime is the time spent looking up the DNS address
	DNSLookupTime time.Duration

	// TCPConnectTime is the time spent establishing a TCP connection
	TCPConnectTime time.Duration

	// TLSHandshakeTime is the time spent performing the TLS handshake (for HTTPS)
	TLSHandshakeTime time.Duration

	// TimeToFirstByte is the time from connection ready to the first response byte
	TimeToFirstByte time.Duration

	// ContentTransferTime is the time spent reading the response body
	ContentTransferTime time.Duration

	// TotalTime is the total time from request start to the last body byte
	TotalTime time.Duration

	// ConnectionReused is true when a keep-alive connection was used
	ConnectionReused bool
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Status     string
	Proto      string
	Headers    http.Header

	// Body is the decoded body.
	Body []byte

	// Bytes counts body bytes as received on the wire (before decoding).
	Bytes int64

	// Latency is the time from sending the request to reading the last byte.
	Latency time.Duration

	Timing TimingInfo
}

// BodyString returns the body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// Header returns the first value of the named header.
func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}

// IsServerError returns true if the response status code is in the 5xx range
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Transport error kinds.
const (
	KindTimeout           = "timeout"
	KindCanceled          = "canceled"
	KindConnectionRefused = "connection_refused"
	KindConnectionReset   = "connection_reset"
	KindDNS               = "dns"
	KindTLS               = "tls"
	KindInvalidRequest    = "invalid_request"
	KindOther             = "other"
)

// TransportError means no response was obtained for a request.
type TransportError struct {
	Kind string
	Op   string
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Canceled reports whether the caller's context ended the request, as
// opposed to the target or the per-call timeout.
func (e *TransportError) Canceled() bool {
	return e.Kind == KindCanceled
}

// newTransportError classifies err. parent is the caller's context: when it
// is done the failure is a cancellation rather than a per-call timeout.
func newTransportError(parent context.Context, req *http.Request, err error) *TransportError {
	return &TransportError{
		Kind: classify(parent, err),
		Op:   req.Method,
		URL:  req.URL.String(),
		Err:  err,
	}
}

func classify(parent context.Context, err error) string {
	if parent.Err() != nil {
		return KindCanceled
	}

	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &dnsErr):
		return KindDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return KindConnectionReset
	case errors.As(err, &certErr), errors.As(err, &recordErr),
		errors.As(err, &unknownAuth), errors.As(err, &hostErr):
		return KindTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	default:
		return KindOther
	}
}

package httpfile

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// TransportErrorKind distinguishes transport failures so callers can react
// without string matching.
type TransportErrorKind int

const (
	TransportOther TransportErrorKind = iota
	TransportDNS
	TransportConnect
	TransportTLS
	TransportTimeout
	TransportRefusedMethod
	TransportCancelled
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportDNS:
		return "dns"
	case TransportConnect:
		return "connect"
	case TransportTLS:
		return "tls"
	case TransportTimeout:
		return "timeout"
	case TransportRefusedMethod:
		return "refused-method"
	case TransportCancelled:
		return "cancelled"
	default:
		return "other"
	}
}

// TransportError wraps a transport failure with its kind.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport sends a fully resolved request and hands back a response. The
// core never performs networking itself; this is the pluggable collaborator
// of the engine.
type Transport interface {
	Send(ctx context.Context, req *ResolvedRequest) (*Response, error)
}

// HTTPTransport is the net/http-backed Transport. It refuses TRACE and
// CONNECT.
type HTTPTransport struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPTransport returns a transport over a fresh http.Client.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{}}
}

// Send performs the request. The resolved URL must be absolute http(s).
func (t *HTTPTransport) Send(ctx context.Context, req *ResolvedRequest) (*Response, error) {
	if req.Failed {
		return nil, &TransportError{Kind: TransportOther, Err: errors.New("request failed resolution and must not be sent")}
	}
	if req.Method == MethodTrace || req.Method == MethodConnect {
		return nil, &TransportError{Kind: TransportRefusedMethod,
			Err: fmt.Errorf("method %s is refused by this transport", req.Method)}
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil, &TransportError{Kind: TransportOther,
			Err: fmt.Errorf("resolved URL %q must start with http:// or https://", req.URL)}
	}
	if _, err := url.Parse(req.URL); err != nil {
		return nil, &TransportError{Kind: TransportOther, Err: fmt.Errorf("invalid URL: %w", err)}
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if !req.Body.IsEmpty() {
		bodyReader = bytes.NewReader(req.Body.Bytes())
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL, bodyReader)
	if err != nil {
		return nil, &TransportError{Kind: TransportOther, Err: err}
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	start := time.Now()
	httpResp, err := t.client().Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	headers := make(Headers, 0, len(httpResp.Header))
	for name, values := range httpResp.Header {
		for _, v := range values {
			headers = append(headers, Header{Name: name, Value: v})
		}
	}

	return &Response{
		StatusCode:  httpResp.StatusCode,
		Status:      httpResp.Status,
		StatusKnown: true,
		Proto:       httpResp.Proto,
		Headers:     headers,
		Body:        body,
		Duration:    time.Since(start),
	}, nil
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

// classifyTransportError maps a net/http error to its TransportError kind.
func classifyTransportError(err error) *TransportError {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError

	switch {
	case errors.Is(err, context.Canceled):
		return &TransportError{Kind: TransportCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return &TransportError{Kind: TransportTimeout, Err: err}
	case errors.As(err, &dnsErr):
		return &TransportError{Kind: TransportDNS, Err: err}
	case errors.As(err, &recordErr), errors.As(err, &certErr):
		return &TransportError{Kind: TransportTLS, Err: err}
	case errors.As(err, &opErr):
		if opErr.Timeout() {
			return &TransportError{Kind: TransportTimeout, Err: err}
		}
		return &TransportError{Kind: TransportConnect, Err: err}
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return &TransportError{Kind: TransportTimeout, Err: err}
	}
	return &TransportError{Kind: TransportOther, Err: err}
}

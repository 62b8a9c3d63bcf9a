// Package retry retries remote calls that fail for transient reasons: the
// theme repository and the core version-check and download endpoints.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies an error for retry decisions.
type ErrorKind int

const (
	Retriable    ErrorKind = iota // transient, worth retrying
	NonRetriable                  // permanent, fail immediately
	Unknown                       // unclassified, treated as retriable
)

func (k ErrorKind) String() string {
	switch k {
	case Retriable:
		return "RETRIABLE"
	case NonRetriable:
		return "NON_RETRIABLE"
	default:
		return "UNKNOWN"
	}
}

var nonRetriableKeywords = []string{
	"no such host",
	"certificate",
	"unsupported protocol",
}

var retriableKeywords = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"eof",
	"temporary",
}

// Classify decides whether a request that ended with err or HTTP status
// is worth another attempt. A status of 0 means no response arrived.
func Classify(err error, status int) ErrorKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NonRetriable
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Retriable
		}
		lower := strings.ToLower(err.Error())
		for _, kw := range nonRetriableKeywords {
			if strings.Contains(lower, kw) {
				return NonRetriable
			}
		}
		for _, kw := range retriableKeywords {
			if strings.Contains(lower, kw) {
				return Retriable
			}
		}
		return Unknown
	}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return Retriable
	case status >= 500:
		return Unknown
	default:
		return NonRetriable
	}
}

// Policy bounds the attempts and the exponential backoff between them.
type Policy struct {
	MaxAttempts int
	InitDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}
}

// Delay is the wait before attempt n+1, for n starting at 1.
func (p Policy) Delay(n int) time.Duration {
	d := p.InitDelay
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Transport is an http.RoundTripper that retries GET and HEAD requests
// while Classify calls the outcome retriable. Other methods go straight
// through.
type Transport struct {
	Base   http.RoundTripper
	Policy Policy
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, p Policy) *Transport {
	return &Transport{Base: base, Policy: p}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.base().RoundTrip(req)
	}
	attempts := max(t.Policy.MaxAttempts, 1)

	for n := 1; ; n++ {
		resp, err := t.base().RoundTrip(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if n == attempts || (err == nil && status < 400) || Classify(err, status) == NonRetriable {
			return resp, err
		}
		if resp != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}
		if serr := t.sleep(req.Context(), t.Policy.Delay(n)); serr != nil {
			return nil, serr
		}
	}
}

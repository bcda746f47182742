// Package transport performs one-shot asynchronous requests against remote
// location and geocoding services.
//
// Every request delivers exactly one callback: the success callback with the
// response body, or the error callback. A client-side timer enforces the
// request timeout; once it fires the request is settled with [ErrTimeout]
// and any response that arrives later is discarded. The underlying
// connection is released only after a longer cleanup window so that a slow
// response can drain without leaking.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the client-side deadline for a single request.
	DefaultTimeout = 10 * time.Second
	// DefaultCleanupGrace is how long a timed-out request may keep its
	// connection before it is cancelled. Must exceed the timeout.
	DefaultCleanupGrace = 120 * time.Second
)

// ErrTimeout is delivered when the client-side timer fires first.
var ErrTimeout = errors.New("transport: request timed out")

// Request describes a single GET against a remote endpoint.
type Request struct {
	URL    string
	Params map[string]string
	// CallbackParam, when set, names the query parameter that carries a
	// generated JSONP callback name; the matching wrapper is stripped from
	// the response.
	CallbackParam string
	// Timeout overrides the transport default when positive.
	Timeout time.Duration
}

// SuccessFunc receives the (unwrapped) response body.
type SuccessFunc func(body []byte)

// ErrorFunc receives a transport failure, wrapping ErrTimeout on timeout.
type ErrorFunc func(err error)

// Transport issues asynchronous requests. Request returns immediately.
type Transport interface {
	Request(ctx context.Context, req Request, onSuccess SuccessFunc, onError ErrorFunc) Handle
}

// Handle identifies an outstanding request.
type Handle struct {
	ID     string
	cancel func()
}

// NewHandle builds a handle around a cancel function. Used by Transport
// implementations outside this package.
func NewHandle(id string, cancel func()) Handle {
	return Handle{ID: id, cancel: cancel}
}

// Cancel abandons the request. Neither callback fires afterwards.
func (h Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// BuildURL appends the URL-encoded params, plus the JSONP callback
// parameter when callbackName is non-empty.
func BuildURL(req Request, callbackName string) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", req.URL, err)
	}

	q := u.Query()
	for k, v := range req.Params {
		q.Set(k, v)
	}
	if req.CallbackParam != "" && callbackName != "" {
		q.Set(req.CallbackParam, callbackName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// unwrapJSONP strips a "name(...)" or "name(...);" wrapper. Bodies without
// the wrapper are returned as-is.
func unwrapJSONP(body []byte, name string) []byte {
	if name == "" {
		return body
	}
	s := strings.TrimSpace(string(body))
	if !strings.HasPrefix(s, name+"(") {
		return body
	}
	s = strings.TrimPrefix(s, name+"(")
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSuffix(s, ")")
	return []byte(s)
}

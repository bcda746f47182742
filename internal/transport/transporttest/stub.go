// Package transporttest provides a scripted Transport for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/couchcryptid/geoposition-service/internal/transport"
)

// Response is one scripted reply: Body is delivered to onSuccess unless Err
// is set.
type Response struct {
	Body []byte
	Err  error
}

// Stub answers requests synchronously from a queue of responses, repeating
// the last one, and records every request it receives.
type Stub struct {
	mu        sync.Mutex
	responses []Response
	requests  []transport.Request
}

// NewStub returns a Stub that replies with responses in order.
func NewStub(responses ...Response) *Stub {
	return &Stub{responses: responses}
}

// JSON returns a Stub that always succeeds with body.
func JSON(body string) *Stub {
	return NewStub(Response{Body: []byte(body)})
}

// Failing returns a Stub that always fails with err.
func Failing(err error) *Stub {
	return NewStub(Response{Err: err})
}

func (s *Stub) Request(_ context.Context, req transport.Request, onSuccess transport.SuccessFunc, onError transport.ErrorFunc) transport.Handle {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var resp Response
	if n := len(s.responses); n > 0 {
		resp = s.responses[0]
		if n > 1 {
			s.responses = s.responses[1:]
		}
	}
	s.mu.Unlock()

	if resp.Err != nil {
		onError(resp.Err)
	} else {
		onSuccess(resp.Body)
	}
	return transport.NewHandle("stub", func() {})
}

// Requests returns a copy of the requests received so far.
func (s *Stub) Requests() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

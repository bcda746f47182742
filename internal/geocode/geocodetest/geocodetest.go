// Package geocodetest runs geocoding providers synchronously in tests.
package geocodetest

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

// Result is the outcome delivered to a geocode callback.
type Result struct {
	Data any
	Err  error
}

// Run geocodes pos with p and waits for the callback.
func Run(t *testing.T, p geocode.Provider, pos *domain.Position) Result {
	t.Helper()
	done := make(chan Result, 1)
	p.Geocode(context.Background(), pos, func(data any, err error) {
		done <- Result{Data: data, Err: err}
	})
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("geocode callback not delivered")
		return Result{}
	}
}

// Remote composes b with a real HTTP transport, for adapter tests backed by
// httptest servers.
func Remote(name string, b geocode.Backend) *geocode.Remote {
	tr := transport.NewHTTP(transport.Config{Timeout: 5 * time.Second},
		observability.DiscardLogger(), observability.NewMetricsForTesting())
	return geocode.NewRemote(name, b, tr, observability.DiscardLogger())
}

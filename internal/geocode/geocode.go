// Package geocode dispatches Position enrichment to forward, reverse and
// IP geocoding backends.
//
// Transport-backed adapters implement [Backend]; [Remote] turns a Backend
// into a [Provider] with the shared three-outcome contract: on success the
// result is merged into the position and passed to the callback, an empty
// result calls back with nil data, and a failure calls back with a
// *domain.GeocodeError.
package geocode

import (
	"context"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

// Provider enriches pos in place and reports exactly one outcome through cb.
// cb may be nil.
type Provider interface {
	Geocode(ctx context.Context, pos *domain.Position, cb domain.GeocodeCallback)
}

// Backend is the adapter seam for one remote geocoding service.
type Backend interface {
	// Build derives the request from the fields of pos relevant to the role.
	Build(pos *domain.Position) (transport.Request, error)
	// Parse decodes a response body. A backend-reported failure is an error.
	Parse(body []byte) (any, error)
	// IsResultOK distinguishes a usable result from an empty match set.
	IsResultOK(result any) bool
	// Apply merges a usable result into pos.
	Apply(pos *domain.Position, result any)
}

// ErrMessage is the message of every backend or transport GeocodeError.
const ErrMessage = "Unable to geocode the position"

func failure(details any) *domain.GeocodeError {
	return &domain.GeocodeError{Message: ErrMessage, Details: details}
}

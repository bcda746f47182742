// Package locate defines the location provider contract and the pieces that
// sit directly on it: the poll-based watch decorator and the platform sensor
// adapter.
package locate

import (
	"context"

	"github.com/couchcryptid/geoposition-service/internal/domain"
)

// Provider produces a Position from a device sensor or a network source.
// GetCurrentPosition returns immediately and later invokes exactly one of
// onSuccess or onError, exactly once.
type Provider interface {
	GetCurrentPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions)
}

// WatchID identifies an active watch.
type WatchID string

// Watcher is implemented by providers that can report position changes
// continuously.
type Watcher interface {
	WatchPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) WatchID
	ClearWatch(id WatchID)
}

// Parser maps a backend's native payload onto a Position. Providers that
// differ only in field naming share the rest of their implementation and
// vary this seam.
type Parser func(raw domain.Payload) *domain.Position

// IPLookup resolves the caller's public IP address.
type IPLookup interface {
	GetIP(ctx context.Context, onSuccess func(ip string), onError domain.ErrorCallback)
}

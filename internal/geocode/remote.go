package geocode

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

// Remote is a Provider that sends a Backend's requests over a Transport.
type Remote struct {
	name      string
	backend   Backend
	transport transport.Transport
	logger    *slog.Logger
}

// NewRemote composes b with t.
func NewRemote(name string, b Backend, t transport.Transport, logger *slog.Logger) *Remote {
	return &Remote{name: name, backend: b, transport: t, logger: logger}
}

// Name returns the registry name of the backend.
func (r *Remote) Name() string { return r.name }

// Geocode issues one request. A request that cannot be built is reported
// through cb before Geocode returns.
func (r *Remote) Geocode(ctx context.Context, pos *domain.Position, cb domain.GeocodeCallback) {
	if cb == nil {
		cb = func(any, error) {}
	}

	req, err := r.backend.Build(pos)
	if err != nil {
		r.logger.Warn("geocode request not built", "provider", r.name, "error", err)
		cb(nil, failure(err))
		return
	}

	r.transport.Request(ctx, req,
		func(body []byte) {
			result, err := r.backend.Parse(body)
			if err != nil {
				r.logger.Warn("geocode backend failure", "provider", r.name, "error", err)
				cb(nil, failure(err))
				return
			}
			if !r.backend.IsResultOK(result) {
				r.logger.Debug("geocode returned no result", "provider", r.name)
				cb(nil, nil)
				return
			}
			r.backend.Apply(pos, result)
			cb(result, nil)
		},
		func(err error) {
			r.logger.Warn("geocode transport failure", "provider", r.name, "error", err)
			cb(nil, failure(err))
		},
	)
}

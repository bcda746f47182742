package geo

import (
	"context"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
)

// Resolution is the outcome of a successful Resolve. Data is nil when the
// backend found nothing.
type Resolution struct {
	Role domain.GeocodeRole
	Data any
}

// Locate waits for one fix from the default location provider. A location
// failure is returned as a *domain.PositionError.
func (g *Geo) Locate(ctx context.Context, opts *domain.PositionOptions) (*domain.Position, error) {
	type result struct {
		pos *domain.Position
		err error
	}
	done := make(chan result, 1)
	g.GetCurrentPosition(ctx,
		func(pos *domain.Position) { done <- result{pos: pos} },
		func(err *domain.PositionError) { done <- result{err: err} },
		opts)

	select {
	case r := <-done:
		return r.pos, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LookupIP waits for the caller's public IP.
func (g *Geo) LookupIP(ctx context.Context) (string, error) {
	type result struct {
		ip  string
		err error
	}
	done := make(chan result, 1)
	g.GetIPAddress(ctx,
		func(ip string) { done <- result{ip: ip} },
		func(err *domain.PositionError) { done <- result{err: err} })

	select {
	case r := <-done:
		return r.ip, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve geocodes pos once and waits for the outcome. It returns
// ErrNothingToResolve when pos has no usable field, and a
// *domain.GeocodeError on failure; errors.Is(err, domain.ErrNoProvider)
// reports a role without providers.
func (g *Geo) Resolve(ctx context.Context, pos *domain.Position, opts ...geocode.Option) (Resolution, error) {
	type result struct {
		data any
		err  error
	}
	done := make(chan result, 1)
	role := g.Geocode(ctx, pos, func(data any, err error) {
		done <- result{data: data, err: err}
	}, opts...)
	if role == domain.RoleNone {
		return Resolution{}, ErrNothingToResolve
	}

	select {
	case r := <-done:
		return Resolution{Role: role, Data: r.data}, r.err
	case <-ctx.Done():
		return Resolution{Role: role}, ctx.Err()
	}
}

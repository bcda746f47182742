package geoip

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

// Locator is a location provider that resolves the caller's own IP.
type Locator struct {
	svc       Service
	transport transport.Transport
	logger    *slog.Logger
}

// NewLocator creates a location provider for svc.
func NewLocator(svc Service, t transport.Transport, logger *slog.Logger) *Locator {
	return &Locator{svc: svc, transport: t, logger: logger}
}

func (l *Locator) GetCurrentPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) {
	req := l.svc.request()
	if opts != nil && opts.Timeout > 0 {
		req.Timeout = opts.Timeout
	}

	l.transport.Request(ctx, req,
		func(body []byte) {
			raw, err := decode(body)
			if err != nil {
				l.logger.Warn("geoip record rejected", "provider", l.svc.Name, "error", err)
				onError(domain.ErrUnavailable(err.Error()))
				return
			}
			onSuccess(l.svc.Parse(raw))
		},
		func(err error) {
			l.logger.Warn("geoip request failed", "provider", l.svc.Name, "error", err)
			onError(positionError(err))
		},
	)
}

// IPBackend is the IP-role geocoding backend for a Service.
type IPBackend struct {
	svc Service
}

// NewIPBackend creates a geocoding backend for svc, which must support
// arbitrary lookups.
func NewIPBackend(svc Service) *IPBackend {
	return &IPBackend{svc: svc}
}

func (b *IPBackend) Build(pos *domain.Position) (transport.Request, error) {
	if pos.IP == "" {
		return transport.Request{}, errors.New("geoip: ip address required")
	}
	if !b.svc.SupportsLookup() {
		return transport.Request{}, errors.New("geoip: " + b.svc.Name + " cannot look up arbitrary addresses")
	}
	return b.svc.lookup(b.svc, pos.IP), nil
}

func (b *IPBackend) Parse(body []byte) (any, error) {
	return decode(body)
}

// IsResultOK accepts records that locate the address at least to a country.
func (b *IPBackend) IsResultOK(result any) bool {
	raw, ok := result.(domain.Payload)
	if !ok {
		return false
	}
	p := b.svc.Parse(raw)
	return p.HasCoordinates() || p.Address.CountryCode != ""
}

// Apply merges the record's fields into pos. Fields the record does not
// carry keep their value, and so does the queried IP.
func (b *IPBackend) Apply(pos *domain.Position, result any) {
	in := b.svc.record(result.(domain.Payload))
	delete(in, "ip")
	delete(in, "timestamp")
	pos.Merge(in)
}

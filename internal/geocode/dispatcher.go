package geocode

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/provider"
)

// UnavailableMessage is the GeocodeError message used when a role has no
// provider.
const UnavailableMessage = "No geocoding provider available"

// Registries holds one catalog per geocoding role.
type Registries struct {
	Forward *provider.Registry[Provider]
	Reverse *provider.Registry[Provider]
	IP      *provider.Registry[Provider]
}

// Dispatcher routes a position to the role its fields call for and selects
// that role's provider.
type Dispatcher struct {
	selectors map[domain.GeocodeRole]*provider.Selector[Provider]
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewDispatcher creates one selector per role over regs. A nil registry is
// treated as empty.
func NewDispatcher(regs Registries, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	selector := func(role domain.GeocodeRole, reg *provider.Registry[Provider]) *provider.Selector[Provider] {
		if reg == nil {
			reg = provider.NewRegistry[Provider]()
		}
		return provider.NewSelector(string(role), reg, logger, metrics)
	}
	return &Dispatcher{
		selectors: map[domain.GeocodeRole]*provider.Selector[Provider]{
			domain.RoleForward: selector(domain.RoleForward, regs.Forward),
			domain.RoleReverse: selector(domain.RoleReverse, regs.Reverse),
			domain.RoleIP:      selector(domain.RoleIP, regs.IP),
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Option overrides provider selection for one call.
type Option func(*provider.Choice[Provider])

// WithProvider prefers the provider registered under name. An unknown or
// unavailable name falls back to automatic selection.
func WithProvider(name string) Option {
	return func(c *provider.Choice[Provider]) { c.Name = name }
}

// WithInstance uses p without probing its availability.
func WithInstance(p Provider) Option {
	return func(c *provider.Choice[Provider]) { c.Instance = p }
}

// Selector returns the selector for role, or nil for RoleNone.
func (d *Dispatcher) Selector(role domain.GeocodeRole) *provider.Selector[Provider] {
	return d.selectors[role]
}

// Geocode picks the role from pos, selects a provider and dispatches once.
// It returns RoleNone without calling cb when pos has nothing to resolve.
// When the role has no provider, cb receives a GeocodeError wrapping
// domain.ErrNoProvider.
func (d *Dispatcher) Geocode(ctx context.Context, pos *domain.Position, cb domain.GeocodeCallback, opts ...Option) domain.GeocodeRole {
	role := pos.GeocodeRole()
	if role == domain.RoleNone {
		d.metrics.GeocodeRequests.WithLabelValues("none", "skipped").Inc()
		return role
	}

	var choice provider.Choice[Provider]
	for _, opt := range opts {
		opt(&choice)
	}

	p, err := d.selectors[role].Select(choice)
	if err != nil {
		d.metrics.GeocodeRequests.WithLabelValues(string(role), "unavailable").Inc()
		d.logger.Warn("no geocoding provider", "role", role, "error", err)
		if cb != nil {
			cb(nil, &domain.GeocodeError{Message: UnavailableMessage, Details: err})
		}
		return role
	}

	p.Geocode(ctx, pos, d.observe(role, cb))
	return role
}

func (d *Dispatcher) observe(role domain.GeocodeRole, cb domain.GeocodeCallback) domain.GeocodeCallback {
	return func(data any, err error) {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case data == nil:
			outcome = "empty"
		}
		d.metrics.GeocodeRequests.WithLabelValues(string(role), outcome).Inc()
		if cb != nil {
			cb(data, err)
		}
	}
}

// Bind returns a domain.Geocoder that dispatches with opts, for use with
// Position.Geocode.
func (d *Dispatcher) Bind(opts ...Option) domain.Geocoder {
	return boundDispatcher{d: d, opts: opts}
}

type boundDispatcher struct {
	d    *Dispatcher
	opts []Option
}

func (b boundDispatcher) Geocode(ctx context.Context, pos *domain.Position, cb domain.GeocodeCallback) domain.GeocodeRole {
	return b.d.Geocode(ctx, pos, cb, b.opts...)
}

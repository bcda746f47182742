// Package geo is the single entry point for locating the caller and
// geocoding positions. It owns the location selector, the geocoding
// dispatcher and the fixed IP lookup, and routes watch handles back to the
// watcher that issued them.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
	"github.com/couchcryptid/geoposition-service/internal/locate"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/provider"
)

// LocationRole labels the location selector in logs and metrics.
const LocationRole = "location"

// ErrNothingToResolve is returned by Resolve for a position with no
// coordinates, address text or IP.
var ErrNothingToResolve = errors.New("position has nothing to resolve")

// Options tunes a Geo.
type Options struct {
	WatchInterval time.Duration
	Clock         clockwork.Clock
}

// Geo locates the caller and geocodes positions.
type Geo struct {
	location *provider.Selector[locate.Provider]
	geocoder *geocode.Dispatcher
	ip       locate.IPLookup
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	watches map[locate.WatchID]watch
}

type watch struct {
	watcher locate.Watcher
	stop    func() bool
}

// New creates a facade over the location registry, a geocoding dispatcher
// and the IP lookup.
func New(locations *provider.Registry[locate.Provider], geocoder *geocode.Dispatcher, ip locate.IPLookup, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Geo {
	return &Geo{
		location: provider.NewSelector(LocationRole, locations, logger, metrics),
		geocoder: geocoder,
		ip:       ip,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		watches:  make(map[locate.WatchID]watch),
	}
}

// Init selects the default location provider. It fails with an error
// wrapping domain.ErrNoProvider when no provider is available.
func (g *Geo) Init(c provider.Choice[locate.Provider]) error {
	if _, err := g.location.Select(c); err != nil {
		return fmt.Errorf("init geolocation: %w", err)
	}
	_, name, _ := g.location.Current()
	g.logger.Info("location provider selected", "provider", name)
	return nil
}

// SetLocationProvider makes the registered provider called name the
// default. An unknown or unavailable name falls back to automatic selection.
func (g *Geo) SetLocationProvider(name string) error {
	return g.Init(provider.Named[locate.Provider](name))
}

// UseLocationProvider makes p the default without probing it.
func (g *Geo) UseLocationProvider(p locate.Provider) error {
	return g.Init(provider.Use(p))
}

// RegisterLocationProvider adds f to the location registry, or replaces the
// entry of the same name in place.
func (g *Geo) RegisterLocationProvider(f provider.Factory[locate.Provider]) {
	g.location.Registry().Register(f)
}

// LocationProviders lists the registered location providers in priority order.
func (g *Geo) LocationProviders() []string {
	return g.location.Registry().Names()
}

// CurrentLocationProvider returns the name of the default location provider.
func (g *Geo) CurrentLocationProvider() (string, bool) {
	_, name, ok := g.location.Current()
	return name, ok
}

// Ready reports whether a default location provider has been selected.
func (g *Geo) Ready() bool {
	_, _, ok := g.location.Current()
	return ok
}

// CheckReadiness satisfies the HTTP server's readiness contract.
func (g *Geo) CheckReadiness(_ context.Context) error {
	if !g.Ready() {
		return errors.New("no location provider selected")
	}
	return nil
}

func (g *Geo) defaultProvider() (locate.Provider, error) {
	return g.location.Select(provider.Choice[locate.Provider]{})
}

// GetCurrentPosition asks the default location provider for one fix.
// Exactly one of onSuccess or onError is called.
func (g *Geo) GetCurrentPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) {
	p, err := g.defaultProvider()
	if err != nil {
		g.metrics.LocationRequests.WithLabelValues("unavailable").Inc()
		onError(domain.ErrUnavailable(err.Error()))
		return
	}
	p.GetCurrentPosition(ctx,
		func(pos *domain.Position) {
			g.metrics.LocationRequests.WithLabelValues("success").Inc()
			onSuccess(pos)
		},
		func(perr *domain.PositionError) {
			g.metrics.LocationRequests.WithLabelValues("error").Inc()
			onError(perr)
		},
		opts)
}

// WatchPosition reports position changes from the default location provider
// until ClearWatch is called or ctx is done. It returns an empty id, after
// calling onError, when no provider is available.
func (g *Geo) WatchPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) locate.WatchID {
	p, err := g.defaultProvider()
	if err != nil {
		g.metrics.LocationRequests.WithLabelValues("unavailable").Inc()
		onError(domain.ErrUnavailable(err.Error()))
		return ""
	}

	w := locate.WatcherFor(p, g.opts.WatchInterval, g.opts.Clock, g.logger, g.metrics)
	id := w.WatchPosition(ctx, onSuccess, onError, opts)

	g.mu.Lock()
	g.watches[id] = watch{
		watcher: w,
		stop:    context.AfterFunc(ctx, func() { g.ClearWatch(id) }),
	}
	g.mu.Unlock()
	return id
}

// ClearWatch stops the watch id. Unknown ids are ignored. Results already in
// flight are dropped.
func (g *Geo) ClearWatch(id locate.WatchID) {
	g.mu.Lock()
	w, ok := g.watches[id]
	delete(g.watches, id)
	g.mu.Unlock()

	if !ok {
		return
	}
	w.stop()
	w.watcher.ClearWatch(id)
}

// GetIPAddress resolves the caller's public IP through the fixed lookup
// backend, independent of the location provider.
func (g *Geo) GetIPAddress(ctx context.Context, onSuccess func(ip string), onError domain.ErrorCallback) {
	g.ip.GetIP(ctx, onSuccess, onError)
}

// Geocode enriches pos through the role its fields call for. See
// geocode.Dispatcher.Geocode.
func (g *Geo) Geocode(ctx context.Context, pos *domain.Position, cb domain.GeocodeCallback, opts ...geocode.Option) domain.GeocodeRole {
	return g.geocoder.Geocode(ctx, pos, cb, opts...)
}

// GeocodeProviders lists the providers registered for role in priority order.
func (g *Geo) GeocodeProviders(role domain.GeocodeRole) []string {
	s := g.geocoder.Selector(role)
	if s == nil {
		return nil
	}
	return s.Registry().Names()
}

// Geocoder returns a domain.Geocoder bound to opts, for Position.Geocode.
func (g *Geo) Geocoder(opts ...geocode.Option) domain.Geocoder {
	return g.geocoder.Bind(opts...)
}

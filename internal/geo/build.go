package geo

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/couchcryptid/geoposition-service/internal/adapter/flickr"
	"github.com/couchcryptid/geoposition-service/internal/adapter/geoip"
	"github.com/couchcryptid/geoposition-service/internal/adapter/geonames"
	"github.com/couchcryptid/geoposition-service/internal/adapter/google"
	"github.com/couchcryptid/geoposition-service/internal/adapter/mapbox"
	"github.com/couchcryptid/geoposition-service/internal/adapter/nominatim"
	"github.com/couchcryptid/geoposition-service/internal/config"
	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
	"github.com/couchcryptid/geoposition-service/internal/locate"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/provider"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

// SensorName is the registry name of the configured static sensor.
const SensorName = "sensor"

// TransportConfig derives the HTTP transport settings, including per-host
// rate limits, from cfg.
func TransportConfig(cfg *config.Config, logger *slog.Logger) transport.Config {
	limits := make(map[string]float64)
	if cfg.NominatimRateLimit > 0 {
		if host := hostOf(urlFor(cfg, nominatim.Name, nominatim.DefaultBaseURL)); host != "" {
			limits[host] = cfg.NominatimRateLimit
		}
	}
	for name, p := range cfg.Providers {
		if p.RateLimit <= 0 || p.URL == "" {
			continue
		}
		if host := hostOf(p.URL); host != "" {
			limits[host] = p.RateLimit
			continue
		}
		logger.Warn("rate limit ignored, provider url has no host", "provider", name)
	}
	return transport.Config{
		Timeout:      cfg.TransportTimeout,
		CleanupGrace: cfg.CleanupGrace,
		UserAgent:    cfg.UserAgent,
		RateLimits:   limits,
	}
}

// Build wires the default registries over t:
//
//	location: sensor, freegeoip, geoippidgets, geoplugin
//	reverse:  google, mapbox, geonames, nominatim, flickr
//	forward:  google, mapbox, nominatim
//	ip:       freegeoip, geoplugin
//
// Providers whose credentials are missing, or that PROVIDERS_FILE disables,
// report unavailable. Geocoding providers are cached when cfg.CacheSize > 0.
func Build(cfg *config.Config, t transport.Transport, logger *slog.Logger, metrics *observability.Metrics) *Geo {
	b := builder{cfg: cfg, t: t, logger: logger, metrics: metrics}

	freeGeoIP := geoip.FreeGeoIP(b.url(geoip.FreeGeoIPName, ""))
	pidgets := geoip.GeoIPPidgets(b.url(geoip.GeoIPPidgetsName, ""))
	geoPlugin := geoip.GeoPlugin(b.url(geoip.GeoPluginName, ""))

	locations := provider.NewRegistry(
		b.sensor(),
		b.locator(freeGeoIP),
		b.locator(pidgets),
		b.locator(geoPlugin),
	)

	googleClient := google.NewClient(cfg.GoogleMapsAPIKey, b.url(google.Name, google.DefaultBaseURL))
	mapboxClient := mapbox.NewClient(cfg.MapboxToken, b.url(mapbox.Name, mapbox.DefaultBaseURL))
	hasGoogle := cfg.GoogleMapsAPIKey != ""
	hasMapbox := cfg.MapboxToken != ""

	reverse := provider.NewRegistry(
		b.geocoder(domain.RoleReverse, google.Name, hasGoogle, googleClient.Reverse()),
		b.geocoder(domain.RoleReverse, mapbox.Name, hasMapbox, mapboxClient.Reverse()),
		b.geocoder(domain.RoleReverse, geonames.Name, cfg.GeonamesUsername != "",
			geonames.NewReverse(b.url(geonames.Name, ""), cfg.GeonamesUsername)),
		b.geocoder(domain.RoleReverse, nominatim.Name, true, nominatim.NewReverse(b.url(nominatim.Name, ""))),
		b.geocoder(domain.RoleReverse, flickr.Name, cfg.FlickrAPIKey != "",
			flickr.NewReverse(b.url(flickr.Name, ""), cfg.FlickrAPIKey)),
	)
	forward := provider.NewRegistry(
		b.geocoder(domain.RoleForward, google.Name, hasGoogle, googleClient.Forward()),
		b.geocoder(domain.RoleForward, mapbox.Name, hasMapbox, mapboxClient.Forward()),
		b.geocoder(domain.RoleForward, nominatim.Name, true, nominatim.NewForward(b.url(nominatim.Name, ""))),
	)
	ip := provider.NewRegistry(
		b.geocoder(domain.RoleIP, geoip.FreeGeoIPName, true, geoip.NewIPBackend(freeGeoIP)),
		b.geocoder(domain.RoleIP, geoip.GeoPluginName, true, geoip.NewIPBackend(geoPlugin)),
	)

	dispatcher := geocode.NewDispatcher(geocode.Registries{Forward: forward, Reverse: reverse, IP: ip}, logger, metrics)
	lookup := geoip.NewJSONIP(b.url("jsonip", ""), t)

	return New(locations, dispatcher, lookup, Options{WatchInterval: cfg.WatchInterval}, logger, metrics)
}

type builder struct {
	cfg     *config.Config
	t       transport.Transport
	logger  *slog.Logger
	metrics *observability.Metrics
}

// url returns the PROVIDERS_FILE url for name, or def.
func (b builder) url(name, def string) string {
	return urlFor(b.cfg, name, def)
}

func (b builder) sensor() provider.Factory[locate.Provider] {
	f := provider.Factory[locate.Provider]{Name: SensorName}
	s := b.cfg.Sensor
	if s == nil {
		// Registered without a probe so the name is known but never selected.
		return f
	}
	p := locate.NewSensorProvider(&locate.StaticSensor{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
	}, nil)
	f.Available = func() bool { return b.cfg.Enabled(SensorName) }
	f.New = func() locate.Provider { return p }
	return f
}

func (b builder) locator(svc geoip.Service) provider.Factory[locate.Provider] {
	l := geoip.NewLocator(svc, b.t, b.logger)
	return provider.Factory[locate.Provider]{
		Name:      svc.Name,
		Available: func() bool { return b.cfg.Enabled(svc.Name) },
		New:       func() locate.Provider { return l },
	}
}

// geocoder builds one instance per role and name, so the cache survives
// re-selection.
func (b builder) geocoder(role domain.GeocodeRole, name string, configured bool, backend geocode.Backend) provider.Factory[geocode.Provider] {
	var p geocode.Provider = geocode.NewRemote(name, backend, b.t, b.logger)
	if b.cfg.CacheSize > 0 {
		p = geocode.NewCached(role, p, geocode.CacheConfig{
			MaxEntries:   b.cfg.CacheSize,
			H3Resolution: b.cfg.CacheH3Resolution,
		}, b.metrics)
	}
	return provider.Factory[geocode.Provider]{
		Name:      name,
		Available: func() bool { return configured && b.cfg.Enabled(name) },
		New:       func() geocode.Provider { return p },
	}
}

func urlFor(cfg *config.Config, name, def string) string {
	if u := cfg.Provider(name).URL; u != "" {
		return u
	}
	return def
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

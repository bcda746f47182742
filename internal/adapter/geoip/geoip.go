// Package geoip locates the caller, or an arbitrary address, from its IP
// using public GeoIP services.
//
// A [Service] describes one GeoIP endpoint and its record format. The same
// Service backs a location provider ([Locator]) and an IP-role geocoding
// backend ([IPBackend]).
package geoip

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

const (
	FreeGeoIPName    = "freegeoip"
	GeoIPPidgetsName = "geoippidgets"
	GeoPluginName    = "geoplugin"

	DefaultFreeGeoIPURL    = "https://freegeoip.app/json/"
	DefaultGeoIPPidgetsURL = "http://geoip.pidgets.com/"
	DefaultGeoPluginURL    = "http://www.geoplugin.net/json.gp"
)

// Service is one GeoIP endpoint.
type Service struct {
	Name          string
	URL           string
	Params        map[string]string
	CallbackParam string

	normalize func(raw domain.Payload) domain.Payload
	lookup    func(s Service, ip string) transport.Request
}

// FreeGeoIP returns the freegeoip service. An empty url uses the default.
func FreeGeoIP(url string) Service {
	return Service{
		Name:      FreeGeoIPName,
		URL:       orDefault(url, DefaultFreeGeoIPURL),
		normalize: normalizeFreeGeoIP,
		lookup: func(s Service, ip string) transport.Request {
			return transport.Request{URL: strings.TrimRight(s.URL, "/") + "/" + ip}
		},
	}
}

// GeoIPPidgets returns the pidgets service, which shares the freegeoip
// record format.
func GeoIPPidgets(url string) Service {
	return Service{
		Name:      GeoIPPidgetsName,
		URL:       orDefault(url, DefaultGeoIPPidgetsURL),
		Params:    map[string]string{"format": "json"},
		normalize: normalizeFreeGeoIP,
	}
}

// GeoPlugin returns the geoplugin.net service.
func GeoPlugin(url string) Service {
	return Service{
		Name:          GeoPluginName,
		URL:           orDefault(url, DefaultGeoPluginURL),
		CallbackParam: "jsoncallback",
		normalize:     normalizeGeoPlugin,
		lookup: func(s Service, ip string) transport.Request {
			return transport.Request{URL: s.URL, Params: map[string]string{"ip": ip}, CallbackParam: s.CallbackParam}
		},
	}
}

// request is the caller-location request.
func (s Service) request() transport.Request {
	return transport.Request{URL: s.URL, Params: s.Params, CallbackParam: s.CallbackParam}
}

// Parse maps a raw record onto a new Position.
func (s Service) Parse(raw domain.Payload) *domain.Position {
	return domain.NewPosition(s.record(raw))
}

// record returns the canonical fields of raw plus the label
// "city, region - country", with raw itself kept as details.
func (s Service) record(raw domain.Payload) domain.Payload {
	in := s.normalize(raw)
	p := domain.NewPosition(in)
	in["formatted"] = fmt.Sprintf("%s, %s - %s",
		p.Address.City, p.Address.RegionName, p.Address.CountryName)
	in["details"] = map[string]any(raw)
	return in
}

// SupportsLookup reports whether the service can resolve an arbitrary IP.
func (s Service) SupportsLookup() bool { return s.lookup != nil }

func normalizeFreeGeoIP(raw domain.Payload) domain.Payload {
	out := make(domain.Payload, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	if zip, ok := raw["zip_code"]; ok {
		out["zipcode"] = zip
	}
	return out
}

var geoPluginFields = map[string]string{
	"geoplugin_request":       "ip",
	"geoplugin_city":          "city",
	"geoplugin_regionCode":    "region_code",
	"geoplugin_regionName":    "region_name",
	"geoplugin_countryCode":   "country_code",
	"geoplugin_countryName":   "country_name",
	"geoplugin_continentCode": "continent_code",
	"geoplugin_dmaCode":       "metro_code",
	"geoplugin_areaCode":      "area_code",
	"geoplugin_latitude":      "latitude",
	"geoplugin_longitude":     "longitude",
}

func normalizeGeoPlugin(raw domain.Payload) domain.Payload {
	out := make(domain.Payload, len(geoPluginFields))
	for from, to := range geoPluginFields {
		if v, ok := raw[from]; ok {
			out[to] = v
		}
	}
	return out
}

func decode(body []byte) (domain.Payload, error) {
	var raw domain.Payload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode geoip record: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode geoip record: empty body")
	}
	return raw, nil
}

// positionError maps a transport failure to the location error contract:
// timeouts are code 3, everything else code 2.
func positionError(err error) *domain.PositionError {
	var netErr net.Error
	if errors.Is(err, transport.ErrTimeout) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.ErrTimeout()
	}
	return domain.ErrUnavailable(err.Error())
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Package nominatim geocodes through the OpenStreetMap Nominatim API.
package nominatim

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

const (
	// Name is the registry name of both Nominatim backends.
	Name = "nominatim"
	// DefaultBaseURL is the public OpenStreetMap instance, which allows one
	// request per second.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	callbackParam = "json_callback"
)

var errCoordinatesRequired = errors.New("nominatim: coordinates required")

// Reverse resolves coordinates to an address.
type Reverse struct {
	baseURL string
}

// NewReverse creates a reverse backend. An empty baseURL uses DefaultBaseURL.
func NewReverse(baseURL string) *Reverse {
	return &Reverse{baseURL: baseOrDefault(baseURL)}
}

func (r *Reverse) Build(pos *domain.Position) (transport.Request, error) {
	if !pos.HasCoordinates() {
		return transport.Request{}, errCoordinatesRequired
	}
	return transport.Request{
		URL: r.baseURL + "/reverse",
		Params: map[string]string{
			"format":         "json",
			"lat":            formatCoord(*pos.Coords.Latitude),
			"lon":            formatCoord(*pos.Coords.Longitude),
			"zoom":           "18",
			"addressdetails": "1",
		},
		CallbackParam: callbackParam,
	}, nil
}

// Parse decodes a reverse response. Nominatim reports "no match" as an
// error object without an address, which IsResultOK treats as empty.
func (r *Reverse) Parse(body []byte) (any, error) {
	var p place
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode nominatim reverse response: %w", err)
	}
	return &p, nil
}

func (r *Reverse) IsResultOK(result any) bool {
	p, ok := result.(*place)
	return ok && len(p.Address) > 0
}

func (r *Reverse) Apply(pos *domain.Position, result any) {
	p := result.(*place)
	pos.Address.Formatted = p.DisplayName
	pos.Address.Details = p.Address
	p.normalize(&pos.Address)
}

// Forward resolves free-form address text to coordinates.
type Forward struct {
	baseURL string
}

// NewForward creates a forward backend. An empty baseURL uses DefaultBaseURL.
func NewForward(baseURL string) *Forward {
	return &Forward{baseURL: baseOrDefault(baseURL)}
}

func (f *Forward) Build(pos *domain.Position) (transport.Request, error) {
	if pos.Address.Formatted == "" {
		return transport.Request{}, errors.New("nominatim: address text required")
	}
	return transport.Request{
		URL: f.baseURL + "/search",
		Params: map[string]string{
			"format":         "json",
			"q":              pos.Address.Formatted,
			"limit":          "1",
			"addressdetails": "1",
		},
		CallbackParam: callbackParam,
	}, nil
}

func (f *Forward) Parse(body []byte) (any, error) {
	var places []place
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("decode nominatim search response: %w", err)
	}
	return places, nil
}

func (f *Forward) IsResultOK(result any) bool {
	places, ok := result.([]place)
	if !ok || len(places) == 0 {
		return false
	}
	_, latErr := strconv.ParseFloat(places[0].Lat, 64)
	_, lonErr := strconv.ParseFloat(places[0].Lon, 64)
	return latErr == nil && lonErr == nil
}

func (f *Forward) Apply(pos *domain.Position, result any) {
	p := result.([]place)[0]
	lat, _ := strconv.ParseFloat(p.Lat, 64)
	lon, _ := strconv.ParseFloat(p.Lon, 64)
	pos.Coords.Latitude = &lat
	pos.Coords.Longitude = &lon
	pos.Address.Formatted = p.DisplayName
	pos.Address.Details = p.Address
	p.normalize(&pos.Address)
}

// Nominatim API response types.

type place struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
}

// normalize copies the address parts Nominatim reports into the canonical
// fields, leaving fields it does not report untouched.
func (p place) normalize(a *domain.Address) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := p.Address[k]; v != "" {
				*dst = v
				return
			}
		}
	}
	set(&a.Street, "road", "pedestrian")
	set(&a.City, "city", "town", "village", "hamlet")
	set(&a.RegionName, "state")
	set(&a.Zipcode, "postcode")
	set(&a.CountryName, "country")
	if cc := p.Address["country_code"]; cc != "" {
		a.CountryCode = strings.ToUpper(cc)
	}
}

func baseOrDefault(baseURL string) string {
	if baseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

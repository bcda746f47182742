// Package google geocodes through the Google Maps Geocoding API.
package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

const (
	Name           = "google"
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
)

// Client builds Geocoding API requests for both directions.
type Client struct {
	apiKey  string
	baseURL string
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{apiKey: apiKey, baseURL: baseURL}
}

// Forward returns the address text → coordinates backend.
func (c *Client) Forward() *Forward { return &Forward{c} }

// Reverse returns the coordinates → address backend.
func (c *Client) Reverse() *Reverse { return &Reverse{c} }

// Forward resolves address text to coordinates.
type Forward struct{ c *Client }

func (f *Forward) Build(pos *domain.Position) (transport.Request, error) {
	if pos.Address.Formatted == "" {
		return transport.Request{}, errors.New("google: address text required")
	}
	return transport.Request{
		URL:    f.c.baseURL,
		Params: map[string]string{"address": pos.Address.Formatted, "key": f.c.apiKey},
	}, nil
}

func (f *Forward) Parse(body []byte) (any, error) { return parse(body) }
func (f *Forward) IsResultOK(result any) bool { return ok(result) }
func (f *Forward) Apply(pos *domain.Position, result any) {
	r := result.(*response).Results[0]
	lat, lng := r.Geometry.Location.Lat, r.Geometry.Location.Lng
	pos.Coords.Latitude = &lat
	pos.Coords.Longitude = &lng
	r.apply(&pos.Address)
}

// Reverse resolves coordinates to an address.
type Reverse struct{ c *Client }

func (r *Reverse) Build(pos *domain.Position) (transport.Request, error) {
	if !pos.HasCoordinates() {
		return transport.Request{}, errors.New("google: coordinates required")
	}
	latlng := strconv.FormatFloat(*pos.Coords.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(*pos.Coords.Longitude, 'f', -1, 64)
	return transport.Request{
		URL:    r.c.baseURL,
		Params: map[string]string{"latlng": latlng, "key": r.c.apiKey},
	}, nil
}

func (r *Reverse) Parse(body []byte) (any, error) { return parse(body) }
func (r *Reverse) IsResultOK(result any) bool { return ok(result) }
func (r *Reverse) Apply(pos *domain.Position, result any) {
	result.(*response).Results[0].apply(&pos.Address)
}

// parse maps the API status: ZERO_RESULTS is an empty result, any other
// status but OK is a backend failure.
func parse(body []byte) (any, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	switch resp.Status {
	case statusOK, statusZeroResults:
		return &resp, nil
	default:
		if resp.ErrorMessage != "" {
			return nil, fmt.Errorf("google maps status %s: %s", resp.Status, resp.ErrorMessage)
		}
		return nil, fmt.Errorf("google maps status: %s", resp.Status)
	}
}

func ok(result any) bool {
	resp, isResp := result.(*response)
	return isResp && resp.Status == statusOK && len(resp.Results) > 0
}

type response struct {
	Results      []geocodeResult `json:"results"`
	Status       string          `json:"status"` // OK, ZERO_RESULTS, etc.
	ErrorMessage string          `json:"error_message"`
}

type geocodeResult struct {
	AddressComponents []component `json:"address_components"`
	FormattedAddress  string      `json:"formatted_address"`
	Geometry          struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"` // ROOFTOP, RANGE_INTERPOLATED, GEOMETRIC_CENTER, APPROXIMATE
	} `json:"geometry"`
	PlaceID string `json:"place_id"`
}

type component struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

func (c component) is(kind string) bool {
	return slices.Contains(c.Types, kind)
}

// apply sets the formatted address, keeps the components as details and
// fills the canonical fields the components name.
func (r geocodeResult) apply(a *domain.Address) {
	a.Formatted = r.FormattedAddress
	a.Details = r.AddressComponents

	var number, route string
	for _, c := range r.AddressComponents {
		switch {
		case c.is("street_number"):
			number = c.LongName
		case c.is("route"):
			route = c.LongName
		case c.is("locality"):
			a.City = c.LongName
		case c.is("administrative_area_level_1"):
			a.RegionName = c.LongName
			a.RegionCode = c.ShortName
		case c.is("postal_code"):
			a.Zipcode = c.LongName
		case c.is("country"):
			a.CountryName = c.LongName
			a.CountryCode = c.ShortName
		}
	}
	if street := strings.TrimSpace(number + " " + route); street != "" {
		a.Street = street
	}
}

// Package mapbox geocodes through the Mapbox Geocoding API.
package mapbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

const (
	Name           = "mapbox"
	DefaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"
)

// Client builds Mapbox requests for both geocoding directions.
type Client struct {
	token   string
	baseURL string
}

// NewClient creates a Mapbox client. An empty baseURL uses DefaultBaseURL.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{token: token, baseURL: strings.TrimRight(baseURL, "/")}
}

// Forward returns the address text → coordinates backend.
func (c *Client) Forward() *Forward { return &Forward{c} }

// Reverse returns the coordinates → address backend.
func (c *Client) Reverse() *Reverse { return &Reverse{c} }

// Forward resolves address text to coordinates.
type Forward struct{ c *Client }

func (f *Forward) Build(pos *domain.Position) (transport.Request, error) {
	query := strings.TrimSpace(pos.Address.Formatted)
	if query == "" {
		return transport.Request{}, errors.New("mapbox: address text required")
	}
	return transport.Request{
		URL: fmt.Sprintf("%s/%s.json", f.c.baseURL, url.PathEscape(query)),
		Params: map[string]string{
			"access_token": f.c.token,
			"limit":        "1",
		},
	}, nil
}

func (f *Forward) Parse(body []byte) (any, error) { return parse(body) }

func (f *Forward) IsResultOK(result any) bool {
	resp, ok := result.(*response)
	return ok && len(resp.Features) > 0 && len(resp.Features[0].Center) == 2
}

func (f *Forward) Apply(pos *domain.Position, result any) {
	feat := result.(*response).Features[0]
	// Mapbox uses lon,lat order.
	lon, lat := feat.Center[0], feat.Center[1]
	pos.Coords.Latitude = &lat
	pos.Coords.Longitude = &lon
	feat.apply(&pos.Address)
}

// Reverse resolves coordinates to an address.
type Reverse struct{ c *Client }

func (r *Reverse) Build(pos *domain.Position) (transport.Request, error) {
	if !pos.HasCoordinates() {
		return transport.Request{}, errors.New("mapbox: coordinates required")
	}
	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", *pos.Coords.Longitude, *pos.Coords.Latitude)
	return transport.Request{
		URL: fmt.Sprintf("%s/%s.json", r.c.baseURL, coord),
		Params: map[string]string{
			"access_token": r.c.token,
			"limit":        "1",
		},
	}, nil
}

func (r *Reverse) Parse(body []byte) (any, error) { return parse(body) }

func (r *Reverse) IsResultOK(result any) bool {
	resp, ok := result.(*response)
	return ok && len(resp.Features) > 0
}

func (r *Reverse) Apply(pos *domain.Position, result any) {
	result.(*response).Features[0].apply(&pos.Address)
}

func parse(body []byte) (any, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Message != "" && resp.Features == nil {
		return nil, fmt.Errorf("mapbox API error: %s", resp.Message)
	}
	return &resp, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
	Message  string    `json:"message"`
}

type feature struct {
	ID        string           `json:"id"`
	Center    []float64        `json:"center"` // [lon, lat]
	PlaceName string           `json:"place_name"`
	Text      string           `json:"text"`
	Relevance float64          `json:"relevance"`
	Context   []featureContext `json:"context"`
}

type featureContext struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	ShortCode string `json:"short_code"`
}

// apply sets the formatted label and the parts named by the feature
// context, such as "place.123" or "postcode.456".
func (f feature) apply(a *domain.Address) {
	a.Formatted = f.PlaceName
	a.Details = f
	for _, c := range f.Context {
		kind, _, _ := strings.Cut(c.ID, ".")
		switch kind {
		case "place":
			a.City = c.Text
		case "postcode":
			a.Zipcode = c.Text
		case "region":
			a.RegionName = c.Text
			if _, code, ok := strings.Cut(c.ShortCode, "-"); ok {
				a.RegionCode = strings.ToUpper(code)
			}
		case "country":
			a.CountryName = c.Text
			a.CountryCode = strings.ToUpper(c.ShortCode)
		}
	}
}

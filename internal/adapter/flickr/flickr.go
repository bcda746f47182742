// Package flickr reverse geocodes through flickr.places.findByLatLon.
package flickr

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
	Name           = "flickr"
	DefaultBaseURL = "https://api.flickr.com/services/rest/"
)

// Reverse resolves coordinates to the Flickr place containing them.
type Reverse struct {
	baseURL string
	apiKey  string
}

// NewReverse creates a reverse backend. An empty baseURL uses DefaultBaseURL.
func NewReverse(baseURL, apiKey string) *Reverse {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Reverse{baseURL: baseURL, apiKey: apiKey}
}

func (r *Reverse) Build(pos *domain.Position) (transport.Request, error) {
	if !pos.HasCoordinates() {
		return transport.Request{}, errors.New("flickr: coordinates required")
	}
	return transport.Request{
		URL: r.baseURL,
		Params: map[string]string{
			"method":  "flickr.places.findByLatLon",
			"lat":     strconv.FormatFloat(*pos.Coords.Latitude, 'f', -1, 64),
			"lon":     strconv.FormatFloat(*pos.Coords.Longitude, 'f', -1, 64),
			"format":  "json",
			"api_key": r.apiKey,
		},
		CallbackParam: "jsoncallback",
	}, nil
}

// Parse decodes the response; "stat":"fail" is a backend failure.
func (r *Reverse) Parse(body []byte) (any, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode flickr response: %w", err)
	}
	if strings.EqualFold(resp.Stat, "fail") {
		return nil, fmt.Errorf("flickr error %d: %s", resp.Code, resp.Message)
	}
	return &resp, nil
}

func (r *Reverse) IsResultOK(result any) bool {
	resp, ok := result.(*response)
	return ok && len(resp.Places.Place) > 0
}

func (r *Reverse) Apply(pos *domain.Position, result any) {
	p := result.(*response).Places.Place[0]
	pos.Address.Formatted = p.Name
	pos.Address.Details = p
}

// Flickr API response types.

type response struct {
	Places struct {
		Place []place `json:"place"`
		Total int     `json:"total"`
	} `json:"places"`
	Stat    string `json:"stat"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type place struct {
	PlaceID   string `json:"place_id"`
	WOEID     string `json:"woeid"`
	Latitude  any    `json:"latitude"`
	Longitude any    `json:"longitude"`
	PlaceURL  string `json:"place_url"`
	PlaceType string `json:"place_type"`
	Timezone  string `json:"timezone"`
	Name      string `json:"name"`
}

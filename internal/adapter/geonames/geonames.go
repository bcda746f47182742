// Package geonames reverse geocodes through the GeoNames
// findNearbyPlaceName web service.
package geonames

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
	Name            = "geonames"
	DefaultBaseURL  = "http://api.geonames.org"
	DefaultUsername = "demo"
)

// Reverse resolves coordinates to the nearest populated place.
type Reverse struct {
	baseURL  string
	username string
}

// NewReverse creates a reverse backend. Empty arguments use the defaults.
func NewReverse(baseURL, username string) *Reverse {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if username == "" {
		username = DefaultUsername
	}
	return &Reverse{baseURL: strings.TrimRight(baseURL, "/"), username: username}
}

func (r *Reverse) Build(pos *domain.Position) (transport.Request, error) {
	if !pos.HasCoordinates() {
		return transport.Request{}, errors.New("geonames: coordinates required")
	}
	return transport.Request{
		URL: r.baseURL + "/findNearbyPlaceNameJSON",
		Params: map[string]string{
			"lat":      strconv.FormatFloat(*pos.Coords.Latitude, 'f', -1, 64),
			"lng":      strconv.FormatFloat(*pos.Coords.Longitude, 'f', -1, 64),
			"username": r.username,
		},
		CallbackParam: "callback",
	}, nil
}

// Parse decodes the response. GeoNames reports account and quota problems
// as a status object, which is a backend failure.
func (r *Reverse) Parse(body []byte) (any, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode geonames response: %w", err)
	}
	if resp.Status != nil {
		return nil, fmt.Errorf("geonames status %d: %s", resp.Status.Value, resp.Status.Message)
	}
	return resp.Geonames, nil
}

func (r *Reverse) IsResultOK(result any) bool {
	places, ok := result.([]place)
	return ok && len(places) > 0
}

func (r *Reverse) Apply(pos *domain.Position, result any) {
	p := result.([]place)[0]
	pos.Address.Details = p
	pos.Address.City = p.Name
	pos.Address.RegionName = p.AdminName1
	pos.Address.CountryCode = p.CountryCode
	pos.Address.CountryName = p.CountryName

	var parts []string
	for _, s := range []string{p.Name, p.AdminName1, p.CountryName} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	pos.Address.Formatted = strings.Join(parts, ", ")
}

// GeoNames API response types.

type response struct {
	Geonames []place `json:"geonames"`
	Status   *status `json:"status"`
}

type status struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

type place struct {
	GeonameID   int    `json:"geonameId"`
	Name        string `json:"name"`
	ToponymName string `json:"toponymName"`
	AdminName1  string `json:"adminName1"`
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
	Population  int    `json:"population"`
	Distance    string `json:"distance"`
	Lat         string `json:"lat"`
	Lng         string `json:"lng"`
}

package domain

import (
	"context"
	"time"
)

// Payload is a partial, loosely typed position record as produced by a
// backend (decoded JSON) or by Snapshot.
type Payload map[string]any

// Coordinates holds the WGS-84 fix. A nil field is unknown; zero is a real value.
type Coordinates struct {
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	Altitude         *float64 `json:"altitude"`
	Accuracy         *float64 `json:"accuracy"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
	Heading          *float64 `json:"heading"`
	Speed            *float64 `json:"speed"`
}

// Address is the normalized postal description of a position.
// Details carries the backend's raw enrichment data untouched.
type Address struct {
	Street        string `json:"street,omitempty"`
	City          string `json:"city,omitempty"`
	RegionCode    string `json:"region_code,omitempty"`
	RegionName    string `json:"region_name,omitempty"`
	Zipcode       string `json:"zipcode,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	CountryName   string `json:"country_name,omitempty"`
	ContinentCode string `json:"continent_code,omitempty"`
	MetroCode     string `json:"metro_code,omitempty"`
	AreaCode      string `json:"area_code,omitempty"`
	Formatted     string `json:"formatted,omitempty"`
	Details       any    `json:"details,omitempty"`
}

// Position is the canonical, progressively enriched location record.
//
// A Position is not safe for concurrent mutation: callers must not geocode
// the same instance from two goroutines at once.
type Position struct {
	Coords    Coordinates `json:"coords"`
	Address   Address     `json:"address"`
	Timestamp time.Time   `json:"timestamp"`
	IP        string      `json:"ip,omitempty"`
}

var coordinateFields = map[string]func(*Coordinates) **float64{
	"latitude":         func(c *Coordinates) **float64 { return &c.Latitude },
	"longitude":        func(c *Coordinates) **float64 { return &c.Longitude },
	"altitude":         func(c *Coordinates) **float64 { return &c.Altitude },
	"accuracy":         func(c *Coordinates) **float64 { return &c.Accuracy },
	"altitudeAccuracy": func(c *Coordinates) **float64 { return &c.AltitudeAccuracy },
	"heading":          func(c *Coordinates) **float64 { return &c.Heading },
	"speed":            func(c *Coordinates) **float64 { return &c.Speed },
}

var addressFields = map[string]func(*Address) *string{
	"street":         func(a *Address) *string { return &a.Street },
	"city":           func(a *Address) *string { return &a.City },
	"region_code":    func(a *Address) *string { return &a.RegionCode },
	"region_name":    func(a *Address) *string { return &a.RegionName },
	"zipcode":        func(a *Address) *string { return &a.Zipcode },
	"country_code":   func(a *Address) *string { return &a.CountryCode },
	"country_name":   func(a *Address) *string { return &a.CountryName },
	"continent_code": func(a *Address) *string { return &a.ContinentCode },
	"metro_code":     func(a *Address) *string { return &a.MetroCode },
	"area_code":      func(a *Address) *string { return &a.AreaCode },
	"formatted":      func(a *Address) *string { return &a.Formatted },
}

// NewPosition creates a position stamped with the current time and merges p
// into it when p is non-nil.
func NewPosition(p Payload) *Position {
	pos := &Position{Timestamp: clock.Now()}
	if p != nil {
		pos.Merge(p)
	}
	return pos
}

// Float returns a pointer to v, for building coordinates by hand.
func Float(v float64) *float64 { return &v }

// Equals reports whether q denotes the same place: only latitude and
// longitude are compared. A nil q is never equal.
func (p *Position) Equals(q *Position) bool {
	if p == nil || q == nil {
		return false
	}
	return sameFloat(p.Coords.Latitude, q.Coords.Latitude) &&
		sameFloat(p.Coords.Longitude, q.Coords.Longitude)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Merge copies the fields of p that Position declares and drops the rest.
// A nested "coords" object wins over top-level coordinate keys; address,
// timestamp and ip keys are read from the top level.
func (p *Position) Merge(in Payload) {
	coords := in
	if nested, ok := asPayload(in["coords"]); ok {
		coords = nested
	}
	for key, v := range coords {
		if field, ok := coordinateFields[key]; ok {
			*field(&p.Coords) = toFloat(v)
		}
	}

	for key, v := range in {
		if field, ok := addressFields[key]; ok {
			*field(&p.Address) = toString(v)
		}
	}
	if v, ok := in["details"]; ok {
		p.Address.Details = v
	}

	if v, ok := in["timestamp"]; ok {
		if ts, ok := toTime(v); ok {
			p.Timestamp = ts
		}
	}
	if v, ok := in["ip"]; ok {
		p.IP = toString(v)
	}
}

// Snapshot returns the position as a payload. Merging it back is a no-op.
func (p *Position) Snapshot() Payload {
	out := p.Address.Payload()
	out["coords"] = p.Coords.Payload()
	out["timestamp"] = p.Timestamp
	out["ip"] = p.IP
	return out
}

// Payload returns the coordinate fields keyed by their payload names.
func (c Coordinates) Payload() Payload {
	out := make(Payload, len(coordinateFields))
	for key, field := range coordinateFields {
		v := *field(&c)
		if v == nil {
			out[key] = nil
			continue
		}
		out[key] = *v
	}
	return out
}

// Payload returns the address fields keyed by their payload names.
func (a Address) Payload() Payload {
	out := make(Payload, len(addressFields)+1)
	for key, field := range addressFields {
		out[key] = *field(&a)
	}
	out["details"] = a.Details
	return out
}

// HasCoordinates reports whether both latitude and longitude are known.
func (p *Position) HasCoordinates() bool {
	return p.Coords.Latitude != nil && p.Coords.Longitude != nil
}

// GeocodeRole picks the geocoding role for the data the position holds.
// Coordinates outrank address text, which outranks a bare IP.
func (p *Position) GeocodeRole() GeocodeRole {
	switch {
	case p.HasCoordinates():
		return RoleReverse
	case p.Address.Formatted != "":
		return RoleForward
	case p.IP != "":
		return RoleIP
	default:
		return RoleNone
	}
}

// Geocode enriches the position in place through g and returns the role that
// was dispatched. RoleNone means nothing was sent and cb will not fire.
func (p *Position) Geocode(ctx context.Context, g Geocoder, cb GeocodeCallback) GeocodeRole {
	return g.Geocode(ctx, p, cb)
}

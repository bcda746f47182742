package domain

import (
	"context"
	"time"
)

// GeocodeRole identifies which geocoding catalog a request is routed to.
type GeocodeRole string

const (
	RoleNone    GeocodeRole = ""
	RoleForward GeocodeRole = "forward"
	RoleReverse GeocodeRole = "reverse"
	RoleIP      GeocodeRole = "ip"
)

// GeocodeRoles lists the dispatchable roles.
var GeocodeRoles = []GeocodeRole{RoleForward, RoleReverse, RoleIP}

// PositionOptions mirrors the W3C request options.
type PositionOptions struct {
	EnableHighAccuracy bool
	MaximumAge         time.Duration
	Timeout            time.Duration
}

// PositionCallback receives a resolved position.
type PositionCallback func(*Position)

// ErrorCallback receives a location failure.
type ErrorCallback func(*PositionError)

// GeocodeCallback receives exactly one of: (data, nil) on success, (nil, nil)
// when the backend found nothing, or (nil, *GeocodeError) on failure.
type GeocodeCallback func(data any, err error)

// Geocoder enriches a position in place. It returns the role it dispatched,
// or RoleNone without calling cb when the position has nothing to resolve.
type Geocoder interface {
	Geocode(ctx context.Context, pos *Position, cb GeocodeCallback) GeocodeRole
}

// Package domain models a resolved location and the rules for combining
// partial results from different backends.
//
// # Position
//
// A [Position] aggregates coordinates, a postal address, a timestamp and the
// source IP. Backends rarely know all of it: a platform sensor reports a fix,
// a reverse geocoder reports an address for a fix, an IP lookup reports a
// coarse city. Each partial result is folded into the same Position with
// [Position.Merge].
//
// # Merge rules
//
// Merge is a directed, schema-filtered copy from a [Payload]:
//
//	{"coords": {"latitude": 40.7}, "latitude": 1}  →  latitude = 40.7
//	{"city": "X", "unrelated": 5}                   →  address.city = "X"
//
// Coordinate keys follow the W3C names (latitude, longitude, altitude,
// accuracy, altitudeAccuracy, heading, speed). Address keys use the GeoIP
// style snake_case names (region_code, country_name, zipcode, ...) plus
// "formatted" and "details". Unknown keys are dropped silently.
//
// # Equality
//
// Two positions are the same place when latitude and longitude match;
// address, IP and timestamp are ignored. Watch loops rely on this to forward
// only changed fixes.
//
// # Dispatch
//
// [Position.GeocodeRole] picks at most one geocoding role per call, in
// order of specificity:
//
//	coordinates present      →  reverse  (coords → address)
//	address.formatted set    →  forward  (address → coords)
//	ip set                   →  ip       (ip → full position)
//	otherwise                →  none
//
// Multi-stage enrichment is done by calling Geocode again once a merge has
// changed which fields are populated.
package domain

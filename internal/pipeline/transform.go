package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geo"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
)

// Message headers set on every enriched position.
const (
	HeaderRole     = "geocode_role"
	HeaderOutcome  = "geocode_outcome"
	HeaderError    = "geocode_error"
	HeaderProvider = "geocode_provider"
)

// Geocode outcomes reported in HeaderOutcome.
const (
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
	OutcomeSkipped     = "skipped"
	OutcomeDisabled    = "disabled"
)

// Resolver geocodes a position once and waits for the outcome.
type Resolver interface {
	Resolve(ctx context.Context, pos *domain.Position, opts ...geocode.Option) (geo.Resolution, error)
}

// PositionTransformer decodes a position payload, geocodes it once and
// serializes the enriched position.
type PositionTransformer struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewTransformer creates a PositionTransformer. Pass a nil resolver to
// disable geocoding.
func NewTransformer(resolver Resolver, logger *slog.Logger) *PositionTransformer {
	return &PositionTransformer{resolver: resolver, logger: logger}
}

// Transform fails only for payloads that are not a JSON object. Geocoding
// failures are reported in the headers; the position is still published.
// A request may name a provider in the geocode_provider header.
func (t *PositionTransformer) Transform(ctx context.Context, raw domain.RawMessage) (domain.OutputMessage, error) {
	var payload domain.Payload
	if err := json.Unmarshal(raw.Value, &payload); err != nil {
		return domain.OutputMessage{}, fmt.Errorf("decode position payload: %w", err)
	}
	if payload == nil {
		return domain.OutputMessage{}, errors.New("decode position payload: not an object")
	}
	pos := domain.NewPosition(payload)

	headers := make(map[string]string, len(raw.Headers)+3)
	maps.Copy(headers, raw.Headers)
	t.geocode(ctx, pos, raw.Headers[HeaderProvider], headers)

	value, err := json.Marshal(pos)
	if err != nil {
		return domain.OutputMessage{}, fmt.Errorf("serialize position: %w", err)
	}
	return domain.OutputMessage{Key: raw.Key, Value: value, Headers: headers}, nil
}

func (t *PositionTransformer) geocode(ctx context.Context, pos *domain.Position, providerName string, headers map[string]string) {
	headers[HeaderRole] = string(pos.GeocodeRole())
	if t.resolver == nil {
		headers[HeaderOutcome] = OutcomeDisabled
		return
	}

	var opts []geocode.Option
	if providerName != "" {
		opts = append(opts, geocode.WithProvider(providerName))
	}

	res, err := t.resolver.Resolve(ctx, pos, opts...)
	switch {
	case errors.Is(err, geo.ErrNothingToResolve):
		headers[HeaderOutcome] = OutcomeSkipped
	case errors.Is(err, domain.ErrNoProvider):
		headers[HeaderOutcome] = OutcomeUnavailable
	case err != nil:
		t.logger.Warn("geocoding failed, publishing unenriched position", "role", res.Role, "error", err)
		headers[HeaderOutcome] = OutcomeError
		headers[HeaderError] = err.Error()
	case res.Data == nil:
		headers[HeaderOutcome] = OutcomeEmpty
	default:
		headers[HeaderOutcome] = OutcomeSuccess
	}
}

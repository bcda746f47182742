package locate

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/geoposition-service/internal/domain"
)

// RawCallback receives a sensor reading in the sensor's native shape.
type RawCallback func(raw domain.Payload)

// Sensor is the platform location sensor: the three-method shape of the W3C
// geolocation object.
type Sensor interface {
	GetCurrentPosition(ctx context.Context, onSuccess RawCallback, onError domain.ErrorCallback, opts *domain.PositionOptions)
	WatchPosition(ctx context.Context, onSuccess RawCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) string
	ClearWatch(id string)
}

// SensorProvider adapts a Sensor to Provider and Watcher. Its watch is the
// sensor's own, so it is never wrapped in a PollWatcher.
type SensorProvider struct {
	sensor Sensor
	parse  Parser
}

// NewSensorProvider adapts s. A nil parse uses domain.NewPosition.
func NewSensorProvider(s Sensor, parse Parser) *SensorProvider {
	if parse == nil {
		parse = domain.NewPosition
	}
	return &SensorProvider{sensor: s, parse: parse}
}

func (p *SensorProvider) GetCurrentPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) {
	p.sensor.GetCurrentPosition(ctx, func(raw domain.Payload) {
		onSuccess(p.parse(raw))
	}, onError, opts)
}

func (p *SensorProvider) WatchPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) WatchID {
	return WatchID(p.sensor.WatchPosition(ctx, func(raw domain.Payload) {
		onSuccess(p.parse(raw))
	}, onError, opts))
}

func (p *SensorProvider) ClearWatch(id WatchID) {
	p.sensor.ClearWatch(string(id))
}

// StaticSensor reports a fixed fix, for installed devices whose location is
// configured rather than measured.
type StaticSensor struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64

	mu      sync.Mutex
	pending map[string]struct{}
}

func (s *StaticSensor) reading() domain.Payload {
	coords := domain.Payload{"latitude": s.Latitude, "longitude": s.Longitude}
	if s.Accuracy > 0 {
		coords["accuracy"] = s.Accuracy
	}
	return domain.Payload{"coords": coords}
}

func (s *StaticSensor) GetCurrentPosition(_ context.Context, onSuccess RawCallback, _ domain.ErrorCallback, _ *domain.PositionOptions) {
	go onSuccess(s.reading())
}

// WatchPosition reports the fix once unless the watch is cleared first; a
// static sensor never moves.
func (s *StaticSensor) WatchPosition(_ context.Context, onSuccess RawCallback, _ domain.ErrorCallback, _ *domain.PositionOptions) string {
	id := uuid.NewString()

	s.mu.Lock()
	if s.pending == nil {
		s.pending = make(map[string]struct{})
	}
	s.pending[id] = struct{}{}
	s.mu.Unlock()

	go func() {
		s.mu.Lock()
		_, active := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if active {
			onSuccess(s.reading())
		}
	}()
	return id
}

func (s *StaticSensor) ClearWatch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

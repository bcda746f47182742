package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geoposition-service/internal/config"
	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geo"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/pipeline"
	"github.com/couchcryptid/geoposition-service/internal/transport/transporttest"
)

// --- mocks ---

// mockExtractor hands out its batches in order, then blocks until cancelled.
type mockExtractor struct {
	batches [][]domain.RawMessage
	errs    []error
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	i := int(m.index.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockTransformer struct {
	err error
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawMessage) (domain.OutputMessage, error) {
	if m.err != nil {
		return domain.OutputMessage{}, m.err
	}
	return domain.OutputMessage{Key: raw.Key, Value: raw.Value}, nil
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.OutputMessage
	fail   int
}

func (m *mockLoader) LoadBatch(_ context.Context, out []domain.OutputMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail > 0 {
		m.fail--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, out...)
	return nil
}

func (m *mockLoader) Loaded() []domain.OutputMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutputMessage(nil), m.loaded...)
}

type mockResolver struct {
	res  geo.Resolution
	err  error
	opts int
	pos  *domain.Position
}

func (m *mockResolver) Resolve(_ context.Context, pos *domain.Position, opts ...geocode.Option) (geo.Resolution, error) {
	m.pos = pos
	m.opts = len(opts)
	return m.res, m.err
}

func newPipeline(ext pipeline.BatchExtractor, tfm pipeline.Transformer, ldr pipeline.BatchLoader) *pipeline.Pipeline {
	return pipeline.New(ext, tfm, ldr, observability.DiscardLogger(), observability.NewMetricsForTesting(), pipeline.Options{BatchSize: 10, Concurrency: 4})
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- pipeline ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	raw := rawPosition(t, "device-1", domain.Payload{"latitude": 30.2672, "longitude": -97.7431})
	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{}
	p := newPipeline(ext, &mockTransformer{}, ldr)

	runFor(t, p, 500*time.Millisecond)

	loaded := ldr.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, raw.Value, loaded[0].Value)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := newPipeline(&mockExtractor{}, &mockTransformer{}, ldr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.Loaded())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformErrorCommitsAndSkips(t *testing.T) {
	var committed atomic.Bool
	raw := domain.RawMessage{Key: []byte("bad"), Value: []byte("not json"), Commit: func(context.Context) error {
		committed.Store(true)
		return nil
	}}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{}
	p := newPipeline(ext, &mockTransformer{err: errors.New("bad data")}, ldr)

	runFor(t, p, 500*time.Millisecond)

	assert.Empty(t, ldr.Loaded())
	assert.True(t, committed.Load())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	var commits atomic.Int64
	commit := func(context.Context) error {
		commits.Add(1)
		return nil
	}
	batch := make([]domain.RawMessage, 3)
	for i := range batch {
		batch[i] = rawPosition(t, fmt.Sprintf("device-%d", i), domain.Payload{"formatted": "Austin, TX"})
		batch[i].Topic = "position-requests"
		batch[i].Offset = int64(i)
		batch[i].Commit = commit
	}
	ldr := &mockLoader{}
	p := newPipeline(&mockExtractor{batches: [][]domain.RawMessage{batch}}, &mockTransformer{}, ldr)

	runFor(t, p, 500*time.Millisecond)

	assert.Len(t, ldr.Loaded(), 3)
	assert.Equal(t, int64(3), commits.Load())
}

func TestPipeline_Run_RetriesFailedLoad(t *testing.T) {
	var commits atomic.Int64
	raw := rawPosition(t, "device-1", domain.Payload{"ip": "8.8.8.8"})
	raw.Commit = func(context.Context) error {
		commits.Add(1)
		return nil
	}
	// The first load fails, so the batch is not committed; the redelivery
	// succeeds after backoff.
	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}, {raw}}}
	ldr := &mockLoader{fail: 1}
	p := newPipeline(ext, &mockTransformer{}, ldr)

	runFor(t, p, 2*time.Second)

	assert.Len(t, ldr.Loaded(), 1)
	assert.Equal(t, int64(1), commits.Load())
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	raw := rawPosition(t, "device-1", domain.Payload{"ip": "8.8.8.8"})
	ext := &mockExtractor{
		errs:    []error{errors.New("coordinator not available")},
		batches: [][]domain.RawMessage{nil, {raw}},
	}
	ldr := &mockLoader{}
	p := newPipeline(ext, &mockTransformer{}, ldr)

	runFor(t, p, 2*time.Second)

	assert.Len(t, ldr.Loaded(), 1)
}

// slowTransformer records how many transforms overlap.
type slowTransformer struct {
	inFlight, peak atomic.Int64
}

func (s *slowTransformer) Transform(_ context.Context, raw domain.RawMessage) (domain.OutputMessage, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return domain.OutputMessage{Key: raw.Key, Value: raw.Value}, nil
}

func TestPipeline_Run_EnrichesConcurrentlyInOrder(t *testing.T) {
	batch := make([]domain.RawMessage, 10)
	for i := range batch {
		batch[i] = rawPosition(t, fmt.Sprintf("device-%d", i), domain.Payload{"ip": "8.8.8.8"})
	}
	tfm := &slowTransformer{}
	ldr := &mockLoader{}
	p := newPipeline(&mockExtractor{batches: [][]domain.RawMessage{batch}}, tfm, ldr)

	runFor(t, p, time.Second)

	loaded := ldr.Loaded()
	require.Len(t, loaded, 10)
	for i, out := range loaded {
		assert.Equal(t, fmt.Sprintf("device-%d", i), string(out.Key))
	}
	assert.LessOrEqual(t, tfm.peak.Load(), int64(4))
	assert.Greater(t, tfm.peak.Load(), int64(1))
}

// --- transformer ---

func TestPositionTransformer_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		res     geo.Resolution
		err     error
		outcome string
	}{
		{"success", geo.Resolution{Role: domain.RoleReverse, Data: domain.Payload{"city": "Austin"}}, nil, pipeline.OutcomeSuccess},
		{"empty", geo.Resolution{Role: domain.RoleReverse}, nil, pipeline.OutcomeEmpty},
		{"skipped", geo.Resolution{}, geo.ErrNothingToResolve, pipeline.OutcomeSkipped},
		{"unavailable", geo.Resolution{Role: domain.RoleReverse}, &domain.GeocodeError{
			Message: geocode.UnavailableMessage,
			Details: fmt.Errorf("reverse: %w", domain.ErrNoProvider),
		}, pipeline.OutcomeUnavailable},
		{"error", geo.Resolution{Role: domain.RoleReverse}, &domain.GeocodeError{
			Message: geocode.ErrMessage,
			Details: "OVER_QUERY_LIMIT",
		}, pipeline.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mockResolver{res: tt.res, err: tt.err}
			tfm := pipeline.NewTransformer(r, observability.DiscardLogger())
			raw := rawPosition(t, "device-1", domain.Payload{"latitude": 30.2672, "longitude": -97.7431})

			out, err := tfm.Transform(context.Background(), raw)

			require.NoError(t, err)
			assert.Equal(t, []byte("device-1"), out.Key)
			assert.Equal(t, "reverse", out.Headers[pipeline.HeaderRole])
			assert.Equal(t, tt.outcome, out.Headers[pipeline.HeaderOutcome])
			if tt.outcome == pipeline.OutcomeError {
				assert.Equal(t, tt.err.Error(), out.Headers[pipeline.HeaderError])
			} else {
				assert.NotContains(t, out.Headers, pipeline.HeaderError)
			}
			assert.Zero(t, r.opts)
		})
	}
}

func TestPositionTransformer_Disabled(t *testing.T) {
	tfm := pipeline.NewTransformer(nil, observability.DiscardLogger())
	raw := rawPosition(t, "device-1", domain.Payload{"formatted": "Austin, TX"})

	out, err := tfm.Transform(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, "forward", out.Headers[pipeline.HeaderRole])
	assert.Equal(t, pipeline.OutcomeDisabled, out.Headers[pipeline.HeaderOutcome])
}

func TestPositionTransformer_ProviderHeader(t *testing.T) {
	r := &mockResolver{res: geo.Resolution{Role: domain.RoleIP}}
	tfm := pipeline.NewTransformer(r, observability.DiscardLogger())
	raw := rawPosition(t, "device-1", domain.Payload{"ip": "8.8.8.8"})
	raw.Headers = map[string]string{pipeline.HeaderProvider: "geoplugin", "source": "fleet"}

	out, err := tfm.Transform(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, 1, r.opts)
	assert.Equal(t, "8.8.8.8", r.pos.IP)
	assert.Equal(t, "fleet", out.Headers["source"])
	assert.Equal(t, "geoplugin", out.Headers[pipeline.HeaderProvider])
}

func TestPositionTransformer_InvalidPayload(t *testing.T) {
	tfm := pipeline.NewTransformer(&mockResolver{}, observability.DiscardLogger())

	for _, value := range []string{"not json", "null", `["latitude"]`} {
		_, err := tfm.Transform(context.Background(), domain.RawMessage{Value: []byte(value)})
		assert.Error(t, err, value)
	}
}

func TestPositionTransformer_EnrichesWithGeo(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	cfg := &config.Config{Providers: map[string]config.ProviderOverride{"geonames": {Disabled: true}}}
	stub := transporttest.JSON(`{"display_name":"Congress Avenue, Austin, Texas, 78701, United States","address":{"road":"Congress Avenue","city":"Austin","state":"Texas","postcode":"78701","country":"United States","country_code":"us"}}`)
	g := geo.Build(cfg, stub, observability.DiscardLogger(), observability.NewMetricsForTesting())
	tfm := pipeline.NewTransformer(g, observability.DiscardLogger())

	out, err := tfm.Transform(context.Background(),
		rawPosition(t, "device-1", domain.Payload{"latitude": 30.2672, "longitude": -97.7431}))

	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeSuccess, out.Headers[pipeline.HeaderOutcome])

	var got domain.Position
	require.NoError(t, json.Unmarshal(out.Value, &got))

	type summary struct {
		City      string
		Zipcode   string
		Latitude  float64
		Timestamp time.Time
	}
	want := summary{City: "Austin", Zipcode: "78701", Latitude: 30.2672, Timestamp: clock.Now()}
	actual := summary{City: got.Address.City, Zipcode: got.Address.Zipcode, Latitude: *got.Coords.Latitude, Timestamp: got.Timestamp}
	if diff := cmp.Diff(want, actual); diff != "" {
		t.Fatalf("enriched position mismatch (-want +got):\n%s", diff)
	}
}

// --- helpers ---

func rawPosition(t *testing.T, key string, payload domain.Payload) domain.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.RawMessage{Key: []byte(key), Value: data}
}

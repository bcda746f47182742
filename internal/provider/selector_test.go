package provider

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/observability"
)

type backend interface{ Name() string }

type fakeBackend struct{ name string }

func (f *fakeBackend) Name() string { return f.name }

func factory(name string, available bool, built *int) Factory[backend] {
	return Factory[backend]{
		Name:      name,
		Available: func() bool { return available },
		New: func() backend {
			if built != nil {
				*built++
			}
			return &fakeBackend{name: name}
		},
	}
}

func newTestSelector(reg *Registry[backend]) (*Selector[backend], *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewSelector("location", reg, observability.DiscardLogger(), m), m
}

func TestRegistry_RegisterReplacesInPlace(t *testing.T) {
	reg := NewRegistry(factory("a", true, nil), factory("b", true, nil))
	reg.Register(factory("c", true, nil))
	reg.Register(factory("a", false, nil))

	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
	f, ok := reg.Lookup("a")
	require.True(t, ok)
	assert.False(t, f.Available())

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestSelector_ScanPicksFirstAvailable(t *testing.T) {
	reg := NewRegistry(
		Factory[backend]{Name: "base"},
		factory("sensor", false, nil),
		factory("freegeoip", true, nil),
		factory("geoplugin", true, nil),
	)
	sel, m := newTestSelector(reg)

	got, err := sel.Select(Choice[backend]{})
	require.NoError(t, err)
	assert.Equal(t, "freegeoip", got.Name())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderSelections.WithLabelValues("location", "freegeoip", "scan")))
}

func TestSelector_NamedAvailableWins(t *testing.T) {
	reg := NewRegistry(factory("freegeoip", true, nil), factory("geoplugin", true, nil))
	sel, _ := newTestSelector(reg)

	got, err := sel.Select(Named[backend]("geoplugin"))
	require.NoError(t, err)
	assert.Equal(t, "geoplugin", got.Name())

	_, name, ok := sel.Current()
	assert.True(t, ok)
	assert.Equal(t, "geoplugin", name)
}

func TestSelector_NamedUnavailableFallsBack(t *testing.T) {
	reg := NewRegistry(factory("sensor", false, nil), factory("freegeoip", true, nil))
	sel, _ := newTestSelector(reg)

	got, err := sel.Select(Named[backend]("sensor"))
	require.NoError(t, err)
	assert.Equal(t, "freegeoip", got.Name())

	got, err = sel.Select(Named[backend]("nope"))
	require.NoError(t, err)
	assert.Equal(t, "freegeoip", got.Name())
}

func TestSelector_InstanceBypassesProbe(t *testing.T) {
	reg := NewRegistry(factory("freegeoip", true, nil))
	sel, _ := newTestSelector(reg)
	custom := &fakeBackend{name: "custom"}

	got, err := sel.Select(Use[backend](custom))
	require.NoError(t, err)
	assert.Same(t, custom, got)

	again, err := sel.Select(Choice[backend]{})
	require.NoError(t, err)
	assert.Same(t, custom, again, "explicit instance becomes the default")
}

func TestSelector_Memoizes(t *testing.T) {
	var built int
	reg := NewRegistry(factory("freegeoip", true, &built))
	sel, m := newTestSelector(reg)

	first, err := sel.Select(Choice[backend]{})
	require.NoError(t, err)
	second, err := sel.Select(Choice[backend]{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, built)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderSelections.WithLabelValues("location", "freegeoip", "memo")))

	sel.Reset()
	_, err = sel.Select(Choice[backend]{})
	require.NoError(t, err)
	assert.Equal(t, 2, built)
}

func TestSelector_NamedOverridesMemo(t *testing.T) {
	reg := NewRegistry(factory("google", true, nil), factory("nominatim", true, nil))
	sel, _ := newTestSelector(reg)

	_, err := sel.Select(Choice[backend]{})
	require.NoError(t, err)

	got, err := sel.Select(Named[backend]("nominatim"))
	require.NoError(t, err)
	assert.Equal(t, "nominatim", got.Name())

	got, err = sel.Select(Choice[backend]{})
	require.NoError(t, err)
	assert.Equal(t, "nominatim", got.Name())
}

func TestSelector_NoProvider(t *testing.T) {
	reg := NewRegistry(factory("google", false, nil), Factory[backend]{Name: "base"})
	sel, _ := newTestSelector(reg)

	got, err := sel.Select(Choice[backend]{})
	require.ErrorIs(t, err, domain.ErrNoProvider)
	assert.Nil(t, got)

	_, _, ok := sel.Current()
	assert.False(t, ok)
}

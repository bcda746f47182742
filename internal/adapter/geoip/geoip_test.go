package geoip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
	"github.com/couchcryptid/geoposition-service/internal/geocode/geocodetest"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/transport"
	"github.com/couchcryptid/geoposition-service/internal/transport/transporttest"
)

const freeGeoIPRecord = `{"ip":"8.8.8.8","country_code":"US","country_name":"United States","region_code":"CA","region_name":"California","city":"Mountain View","zip_code":"94035","time_zone":"America/Los_Angeles","latitude":37.386,"longitude":-122.0838,"metro_code":807}`

const geoPluginRecord = `{"geoplugin_request":"8.8.8.8","geoplugin_city":"Mountain View","geoplugin_regionName":"California","geoplugin_regionCode":"CA","geoplugin_countryCode":"US","geoplugin_countryName":"United States","geoplugin_continentCode":"NA","geoplugin_latitude":"37.386","geoplugin_longitude":"-122.0838","geoplugin_dmaCode":"807","geoplugin_areaCode":"650"}`

func ipRemote(t transport.Transport, svc Service) *geocode.Remote {
	return geocode.NewRemote(svc.Name, NewIPBackend(svc), t, observability.DiscardLogger())
}

type locateResult struct {
	pos *domain.Position
	err *domain.PositionError
}

func locate(t *testing.T, l *Locator, opts *domain.PositionOptions) locateResult {
	t.Helper()
	done := make(chan locateResult, 2)
	l.GetCurrentPosition(context.Background(),
		func(p *domain.Position) { done <- locateResult{pos: p} },
		func(err *domain.PositionError) { done <- locateResult{err: err} },
		opts)
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no location callback")
		return locateResult{}
	}
}

func TestLocator_FreeGeoIP(t *testing.T) {
	l := NewLocator(FreeGeoIP(""), transporttest.JSON(freeGeoIPRecord), observability.DiscardLogger())

	r := locate(t, l, nil)
	require.Nil(t, r.err)
	assert.Equal(t, "Mountain View, California - United States", r.pos.Address.Formatted)
	assert.Equal(t, "94035", r.pos.Address.Zipcode)
	assert.Equal(t, "807", r.pos.Address.MetroCode)
	assert.Equal(t, "8.8.8.8", r.pos.IP)
	assert.InDelta(t, 37.386, *r.pos.Coords.Latitude, 1e-9)
	assert.Equal(t, "America/Los_Angeles", r.pos.Address.Details.(map[string]any)["time_zone"])
}

func TestLocator_GeoPlugin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cb := r.URL.Query().Get("jsoncallback")
		require.NotEmpty(t, cb)
		_, _ = fmt.Fprintf(w, "%s(%s)", cb, geoPluginRecord)
	}))
	defer srv.Close()

	tr := transport.NewHTTP(transport.Config{Timeout: 5 * time.Second}, observability.DiscardLogger(), observability.NewMetricsForTesting())
	l := NewLocator(GeoPlugin(srv.URL), tr, observability.DiscardLogger())

	r := locate(t, l, nil)
	require.Nil(t, r.err)
	assert.Equal(t, "Mountain View, California - United States", r.pos.Address.Formatted)
	assert.Equal(t, "NA", r.pos.Address.ContinentCode)
	assert.Equal(t, "650", r.pos.Address.AreaCode)
	assert.InDelta(t, -122.0838, *r.pos.Coords.Longitude, 1e-9)
}

func TestLocator_GeoIPPidgetsSendsFormat(t *testing.T) {
	stub := transporttest.JSON(freeGeoIPRecord)
	l := NewLocator(GeoIPPidgets(""), stub, observability.DiscardLogger())

	r := locate(t, l, &domain.PositionOptions{Timeout: 3 * time.Second})
	require.Nil(t, r.err)

	reqs := stub.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, DefaultGeoIPPidgetsURL, reqs[0].URL)
	assert.Equal(t, "json", reqs[0].Params["format"])
	assert.Equal(t, 3*time.Second, reqs[0].Timeout)
}

func TestLocator_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		stub     *transporttest.Stub
		wantCode int
		wantMsg  string
	}{
		{name: "timeout", stub: transporttest.Failing(fmt.Errorf("request x: %w", transport.ErrTimeout)), wantCode: domain.CodeTimeout, wantMsg: "Timeout"},
		{name: "status", stub: transporttest.Failing(&transport.StatusError{Code: 503}), wantCode: domain.CodePositionUnavailable},
		{name: "malformed", stub: transporttest.JSON(`not json`), wantCode: domain.CodePositionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := locate(t, NewLocator(FreeGeoIP(""), tt.stub, observability.DiscardLogger()), nil)
			require.NotNil(t, r.err)
			assert.Equal(t, tt.wantCode, r.err.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, r.err.Message)
			}
		})
	}
}

func TestIPBackend_FreeGeoIP(t *testing.T) {
	stub := transporttest.JSON(freeGeoIPRecord)
	p := ipRemote(stub, FreeGeoIP(""))

	pos := domain.NewPosition(domain.Payload{"ip": "8.8.8.8"})
	res := geocodetest.Run(t, p, pos)

	require.NoError(t, res.Err)
	assert.Equal(t, "https://freegeoip.app/json/8.8.8.8", stub.Requests()[0].URL)
	assert.Equal(t, "Mountain View", pos.Address.City)
	assert.Equal(t, "8.8.8.8", pos.IP)
	assert.Equal(t, domain.RoleReverse, pos.GeocodeRole(), "an IP lookup yields coordinates")
}

func TestIPBackend_GeoPluginLookup(t *testing.T) {
	stub := transporttest.JSON(geoPluginRecord)
	p := ipRemote(stub, GeoPlugin(""))

	res := geocodetest.Run(t, p, domain.NewPosition(domain.Payload{"ip": "8.8.8.8"}))

	require.NoError(t, res.Err)
	assert.Equal(t, "8.8.8.8", stub.Requests()[0].Params["ip"])
}

func TestIPBackend_MergeKeepsCallerFields(t *testing.T) {
	p := ipRemote(transporttest.JSON(geoPluginRecord), GeoPlugin(""))

	pos := domain.NewPosition(domain.Payload{
		"ip":       "8.8.8.8",
		"street":   "1600 Amphitheatre Pkwy",
		"zipcode":  "94043",
		"accuracy": 25.0,
	})
	res := geocodetest.Run(t, p, pos)

	require.NoError(t, res.Err)
	assert.Equal(t, "Mountain View", pos.Address.City)
	assert.Equal(t, "Mountain View, California - United States", pos.Address.Formatted)
	assert.Equal(t, "1600 Amphitheatre Pkwy", pos.Address.Street)
	assert.Equal(t, "94043", pos.Address.Zipcode)
	require.NotNil(t, pos.Coords.Accuracy)
	assert.InDelta(t, 25.0, *pos.Coords.Accuracy, 1e-9)
	require.NotNil(t, pos.Coords.Latitude)
	assert.InDelta(t, 37.386, *pos.Coords.Latitude, 1e-9)
}

func TestIPBackend_UnknownAddressIsEmpty(t *testing.T) {
	p := ipRemote(transporttest.JSON(`{"ip":"10.0.0.1","country_code":"","latitude":0,"longitude":0}`), FreeGeoIP(""))

	res := geocodetest.Run(t, p, domain.NewPosition(domain.Payload{"ip": "10.0.0.1"}))

	assert.NoError(t, res.Err)
	assert.NotNil(t, res.Data, "0,0 is a real coordinate")

	p = ipRemote(transporttest.JSON(`{"ip":"10.0.0.1"}`), FreeGeoIP(""))
	res = geocodetest.Run(t, p, domain.NewPosition(domain.Payload{"ip": "10.0.0.1"}))
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Data)
}

func TestIPBackend_PidgetsCannotLookup(t *testing.T) {
	_, err := NewIPBackend(GeoIPPidgets("")).Build(domain.NewPosition(domain.Payload{"ip": "1.1.1.1"}))
	assert.Error(t, err)
}

func TestJSONIP_DeliversOnce(t *testing.T) {
	var calls atomic.Int32
	var got string
	j := NewJSONIP("", transporttest.JSON(`{"ip":"8.8.8.8"}`))

	j.GetIP(context.Background(),
		func(ip string) { calls.Add(1); got = ip },
		func(*domain.PositionError) { calls.Add(1) })

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "8.8.8.8", got)
}

func TestJSONIP_Errors(t *testing.T) {
	var got *domain.PositionError
	NewJSONIP("", transporttest.Failing(transport.ErrTimeout)).GetIP(context.Background(),
		func(string) { t.Fatal("unexpected success") },
		func(err *domain.PositionError) { got = err })
	require.NotNil(t, got)
	assert.Equal(t, domain.CodeTimeout, got.Code)

	got = nil
	NewJSONIP("", transporttest.JSON(`{}`)).GetIP(context.Background(),
		func(string) { t.Fatal("unexpected success") },
		func(err *domain.PositionError) { got = err })
	require.NotNil(t, got)
	assert.Equal(t, domain.CodePositionUnavailable, got.Code)
}

func TestPositionError_NetTimeout(t *testing.T) {
	assert.Equal(t, domain.CodeTimeout, positionError(timeoutErr{}).Code)
	assert.Equal(t, domain.CodePositionUnavailable, positionError(errors.New("refused")).Code)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

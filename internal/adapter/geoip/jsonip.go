package geoip

import (
	"context"
	"encoding/json"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

// DefaultJSONIPURL answers {"ip": "<caller address>"}.
const DefaultJSONIPURL = "https://jsonip.com/"

// JSONIP resolves the caller's public IP address.
type JSONIP struct {
	url       string
	transport transport.Transport
}

// NewJSONIP creates the lookup. An empty url uses DefaultJSONIPURL.
func NewJSONIP(url string, t transport.Transport) *JSONIP {
	return &JSONIP{url: orDefault(url, DefaultJSONIPURL), transport: t}
}

func (j *JSONIP) GetIP(ctx context.Context, onSuccess func(ip string), onError domain.ErrorCallback) {
	j.transport.Request(ctx, transport.Request{URL: j.url},
		func(body []byte) {
			var resp struct {
				IP string `json:"ip"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				onError(domain.ErrUnavailable("decode jsonip response: " + err.Error()))
				return
			}
			if resp.IP == "" {
				onError(domain.ErrUnavailable("jsonip response has no address"))
				return
			}
			onSuccess(resp.IP)
		},
		func(err error) {
			onError(positionError(err))
		},
	)
}

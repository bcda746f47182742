package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/geoposition-service/internal/observability"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 4 << 20

// Config tunes an HTTPTransport.
type Config struct {
	Timeout      time.Duration
	CleanupGrace time.Duration
	UserAgent    string
	// RateLimits maps a host name to its allowed requests per second.
	RateLimits map[string]float64
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	httpClient *http.Client
	clock      clockwork.Clock
	timeout    time.Duration
	grace      time.Duration
	userAgent  string
	limiters   map[string]*rate.Limiter
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewHTTP creates an HTTP transport. Zero durations fall back to the
// package defaults.
func NewHTTP(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := cfg.CleanupGrace
	if grace <= timeout {
		grace = max(DefaultCleanupGrace, 2*timeout)
	}

	limiters := make(map[string]*rate.Limiter, len(cfg.RateLimits))
	for host, rps := range cfg.RateLimits {
		if rps > 0 {
			limiters[strings.ToLower(host)] = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}

	return &HTTPTransport{
		// The grace window is the hard ceiling; the client-side timer
		// settles the request long before this.
		httpClient: &http.Client{Timeout: grace},
		clock:      clockwork.NewRealClock(),
		timeout:    timeout,
		grace:      grace,
		userAgent:  cfg.UserAgent,
		limiters:   limiters,
		logger:     logger,
		metrics:    metrics,
	}
}

// Request issues req in the background and returns its handle.
func (t *HTTPTransport) Request(ctx context.Context, req Request, onSuccess SuccessFunc, onError ErrorFunc) Handle {
	id := callbackName()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}

	reqCtx, release := context.WithCancel(ctx)
	c := newCall(id, t.clock, timeout, t.grace, release, onSuccess, onError, t.logger, t.metrics)

	fullURL, err := BuildURL(req, jsonpName(req, id))
	if err != nil {
		go c.fail(err)
		return NewHandle(id, c.abandon)
	}

	go t.do(reqCtx, c, fullURL, jsonpName(req, id))
	return NewHandle(id, c.abandon)
}

func (t *HTTPTransport) do(ctx context.Context, c *call, fullURL, wrapper string) {
	if lim := t.limiterFor(fullURL); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			c.fail(fmt.Errorf("rate limit wait: %w", err))
			return
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		c.fail(fmt.Errorf("create request: %w", err))
		return
	}
	httpReq.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		c.fail(fmt.Errorf("request %s: %w", c.id, err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.fail(fmt.Errorf("read response: %w", err))
		return
	}

	if resp.StatusCode != http.StatusOK {
		c.fail(&StatusError{Code: resp.StatusCode, Body: string(body)})
		return
	}

	c.succeed(unwrapJSONP(body, wrapper))
}

func (t *HTTPTransport) limiterFor(rawURL string) *rate.Limiter {
	if len(t.limiters) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return t.limiters[strings.ToLower(u.Hostname())]
}

func jsonpName(req Request, id string) string {
	if req.CallbackParam == "" {
		return ""
	}
	return id
}

// callbackName returns a unique identifier that is also a valid JSONP
// function name.
func callbackName() string {
	return "json_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

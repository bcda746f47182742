package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/geoposition-service/internal/observability"
)

const (
	pending int32 = iota
	settled
	abandoned
)

// call settles a single request exactly once. Whichever of succeed, fail,
// expire or abandon runs first wins; the rest are no-ops.
type call struct {
	id        string
	state     atomic.Int32
	clock     clockwork.Clock
	grace     time.Duration
	timer     clockwork.Timer
	release   context.CancelFunc
	onSuccess SuccessFunc
	onError   ErrorFunc
	started   time.Time
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func newCall(id string, clock clockwork.Clock, timeout, grace time.Duration, release context.CancelFunc,
	onSuccess SuccessFunc, onError ErrorFunc, logger *slog.Logger, metrics *observability.Metrics,
) *call {
	c := &call{
		id:        id,
		clock:     clock,
		grace:     grace,
		release:   release,
		onSuccess: onSuccess,
		onError:   onError,
		started:   clock.Now(),
		logger:    logger,
		metrics:   metrics,
	}
	c.timer = clock.AfterFunc(timeout, c.expire)
	return c
}

func (c *call) settle() bool {
	return c.state.CompareAndSwap(pending, settled)
}

func (c *call) succeed(body []byte) bool {
	if !c.settle() {
		c.late()
		return false
	}
	c.timer.Stop()
	c.release()
	c.observe("success")
	c.onSuccess(body)
	return true
}

func (c *call) fail(err error) bool {
	if !c.settle() {
		c.late()
		return false
	}
	c.timer.Stop()
	c.release()
	c.observe("error")
	c.onError(err)
	return true
}

// expire synthesizes the timeout and schedules the deferred release.
func (c *call) expire() {
	if !c.settle() {
		return
	}
	c.observe("timeout")
	c.clock.AfterFunc(c.grace, c.release)
	c.onError(fmt.Errorf("request %s: %w", c.id, ErrTimeout))
}

func (c *call) abandon() {
	if !c.state.CompareAndSwap(pending, abandoned) {
		return
	}
	c.timer.Stop()
	c.release()
	c.metrics.TransportRequests.WithLabelValues("cancelled").Inc()
}

// late drops a response for an already-settled request. The aborted
// request of a cancelled call is not a late response.
func (c *call) late() {
	c.release()
	if c.state.Load() == abandoned {
		return
	}
	c.metrics.TransportRequests.WithLabelValues("late").Inc()
	c.logger.Debug("discarding late response", "request", c.id)
}

func (c *call) observe(outcome string) {
	c.metrics.TransportRequests.WithLabelValues(outcome).Inc()
	c.metrics.TransportDuration.Observe(c.clock.Since(c.started).Seconds())
}

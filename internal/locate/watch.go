package locate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/observability"
)

// DefaultWatchInterval is the poll period used when none is configured.
const DefaultWatchInterval = time.Second

// PollWatcher gives any Provider a watch by re-polling GetCurrentPosition on
// a fixed interval. A poll result is forwarded only when it is not Equals to
// the previous one. A tick that fires while the previous poll is still
// pending is skipped, so results are never delivered out of order.
type PollWatcher struct {
	Provider

	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	watches map[WatchID]context.CancelFunc
}

// NewPollWatcher wraps p. A non-positive interval means DefaultWatchInterval;
// a nil clock means the real clock.
func NewPollWatcher(p Provider, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *PollWatcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PollWatcher{
		Provider: p,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		watches:  make(map[WatchID]context.CancelFunc),
	}
}

// WatcherFor returns p itself when it watches natively, or p wrapped in a
// PollWatcher.
func WatcherFor(p Provider, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) Watcher {
	if w, ok := p.(Watcher); ok {
		return w
	}
	return NewPollWatcher(p, interval, clock, logger, metrics)
}

type watchState struct {
	onSuccess domain.PositionCallback
	onError   domain.ErrorCallback
	opts      *domain.PositionOptions
	pending   atomic.Bool

	mu   sync.Mutex
	last *domain.Position
}

// WatchPosition polls immediately and then every interval until ClearWatch
// is called or ctx is done.
func (w *PollWatcher) WatchPosition(ctx context.Context, onSuccess domain.PositionCallback, onError domain.ErrorCallback, opts *domain.PositionOptions) WatchID {
	id := WatchID(uuid.NewString())
	watchCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.watches[id] = cancel
	w.mu.Unlock()

	st := &watchState{onSuccess: onSuccess, onError: onError, opts: opts}
	ticker := w.clock.NewTicker(w.interval)
	go w.run(ctx, watchCtx, id, ticker, st)
	return id
}

// ClearWatch stops the ticker for id. A poll already in flight is not
// cancelled; its result is dropped when it lands.
func (w *PollWatcher) ClearWatch(id WatchID) {
	w.mu.Lock()
	cancel, ok := w.watches[id]
	delete(w.watches, id)
	w.mu.Unlock()

	if ok {
		cancel()
	}
}

// run drives one watch. Polls use ctx so that clearing the watch does not
// abort a request in flight; watchCtx gates delivery and the ticker.
func (w *PollWatcher) run(ctx, watchCtx context.Context, id WatchID, ticker clockwork.Ticker, st *watchState) {
	defer ticker.Stop()
	defer w.ClearWatch(id)
	w.logger.Debug("watch started", "watch", id, "interval", w.interval)

	w.poll(ctx, watchCtx, st)
	for {
		select {
		case <-watchCtx.Done():
			w.logger.Debug("watch stopped", "watch", id)
			return
		case <-ticker.Chan():
			w.poll(ctx, watchCtx, st)
		}
	}
}

func (w *PollWatcher) poll(ctx, watchCtx context.Context, st *watchState) {
	if !st.pending.CompareAndSwap(false, true) {
		w.metrics.WatchPolls.WithLabelValues("skipped").Inc()
		return
	}

	w.GetCurrentPosition(ctx,
		func(p *domain.Position) {
			defer st.pending.Store(false)
			if watchCtx.Err() != nil {
				return
			}

			st.mu.Lock()
			dup := p.Equals(st.last)
			st.last = p
			st.mu.Unlock()

			if dup {
				w.metrics.WatchPolls.WithLabelValues("duplicate").Inc()
				return
			}
			w.metrics.WatchPolls.WithLabelValues("forwarded").Inc()
			st.onSuccess(p)
		},
		func(err *domain.PositionError) {
			defer st.pending.Store(false)
			if watchCtx.Err() != nil {
				return
			}
			w.metrics.WatchPolls.WithLabelValues("error").Inc()
			st.onError(err)
		},
		st.opts,
	)
}

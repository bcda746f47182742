package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/observability"
)

// BatchExtractor reads up to batchSize position requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// Transformer turns a position request into an enriched position.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawMessage) (domain.OutputMessage, error)
}

// BatchLoader writes enriched positions to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, out []domain.OutputMessage) error
}

// Options tunes the batch loop.
type Options struct {
	// BatchSize caps the messages extracted per cycle.
	BatchSize int
	// Concurrency caps the messages transformed at once. Geocoding is
	// network bound, so a batch is enriched in parallel.
	Concurrency int
}

// Pipeline orchestrates the extract-enrich-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	opts        Options
	ready       atomic.Bool
}

// New creates a Pipeline. Non-positive options fall back to one message at
// a time.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	opts.BatchSize = max(opts.BatchSize, 1)
	opts.Concurrency = min(max(opts.Concurrency, 1), opts.BatchSize)
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		opts:        opts,
	}
}

// CheckReadiness returns nil once a batch has been loaded.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.opts.BatchSize, "concurrency", p.opts.Concurrency)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	b := &backoff{current: initialBackoff}
	for ctx.Err() == nil {
		if !p.cycle(ctx, b) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", context.Cause(ctx))
	return nil
}

// cycle runs one extract-enrich-load round. Returns false if the pipeline
// should stop.
func (p *Pipeline) cycle(ctx context.Context, b *backoff) bool {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.opts.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return b.wait(ctx)
	}
	if len(batch) == 0 {
		return true
	}

	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))
	b.reset()

	results := p.enrich(ctx, batch)
	if ctx.Err() != nil {
		// Interrupted enrichments are neither loaded nor committed, so the
		// batch is redelivered after restart.
		return false
	}

	out := make([]domain.OutputMessage, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			p.logger.Warn("transform failed, skipping message",
				"error", r.err,
				"topic", batch[i].Topic,
				"partition", batch[i].Partition,
				"offset", batch[i].Offset,
			)
			p.metrics.TransformErrors.Inc()
			continue
		}
		out = append(out, r.out)
	}

	if len(out) > 0 {
		if err := p.loader.LoadBatch(ctx, out); err != nil {
			p.logger.Error("load batch failed", "error", err, "batch_size", len(out))
			return b.wait(ctx)
		}
		p.metrics.MessagesProduced.Add(float64(len(out)))
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}

	// Poison pills are committed with the rest so they are not retried.
	for _, raw := range batch {
		p.commit(ctx, raw)
	}
	return true
}

type result struct {
	out domain.OutputMessage
	err error
}

// enrich transforms the batch with at most opts.Concurrency messages in
// flight. Results keep the order of batch.
func (p *Pipeline) enrich(ctx context.Context, batch []domain.RawMessage) []result {
	results := make([]result, len(batch))
	if p.opts.Concurrency == 1 {
		for i, raw := range batch {
			if ctx.Err() != nil {
				break
			}
			results[i].out, results[i].err = p.transformer.Transform(ctx, raw)
		}
		return results
	}

	sem := make(chan struct{}, p.opts.Concurrency)
	var wg sync.WaitGroup
	for i, raw := range batch {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return results
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i].out, results[i].err = p.transformer.Transform(ctx, raw)
		}()
	}
	wg.Wait()
	return results
}

// commit commits the message offset if a commit function is available.
func (p *Pipeline) commit(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// backoff is the retry delay after a failed extract or load. It doubles on
// every wait up to maxBackoff.
type backoff struct {
	current time.Duration
}

func (b *backoff) reset() { b.current = initialBackoff }

// wait sleeps for the current delay and doubles it. Returns false if ctx
// ended first.
func (b *backoff) wait(ctx context.Context) bool {
	if !retry.SleepWithContext(ctx, b.current) {
		return false
	}
	b.current = retry.NextBackoff(b.current, maxBackoff)
	return true
}

package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fin-ingest/internal/cache"
	"github.com/sells-group/fin-ingest/internal/config"
)

// ErrQueueFull is returned when a job cannot be buffered.
var ErrQueueFull = eris.New("pipeline: queue full")

// dedupeWindow bounds how long a message ID is remembered.
const dedupeWindow = 10 * time.Minute

// Dispatcher is an in-process Queue. Extraction and validation jobs sit in
// separate buffered channels, each drained by its own pool of workers, so
// an extraction worker handing off to validation never waits on itself.
type Dispatcher struct {
	extractions chan ExtractionJob
	validations chan ValidationJob
	concurrency int
	seen        *cache.TTL[string, struct{}]
}

// NewDispatcher sizes the queues and worker pools from cfg.
func NewDispatcher(cfg config.DispatcherConfig) *Dispatcher {
	depth := max(cfg.QueueDepth, 1)
	return &Dispatcher{
		extractions: make(chan ExtractionJob, depth),
		validations: make(chan ValidationJob, depth),
		concurrency: max(cfg.Concurrency, 1),
		seen:        cache.NewTTL[string, struct{}](dedupeWindow, nil),
	}
}

// EnqueueExtraction buffers job. A job whose MessageID was already seen
// within the dedupe window is dropped.
func (d *Dispatcher) EnqueueExtraction(ctx context.Context, job ExtractionJob) error {
	if job.MessageID == "" {
		job.MessageID = job.DocumentID
	}
	if !d.seen.SetIfAbsent(job.MessageID, struct{}{}) {
		zap.L().Info("dispatcher: dropping duplicate job",
			zap.String("message_id", job.MessageID),
			zap.String("document_id", job.DocumentID),
		)
		return nil
	}
	select {
	case d.extractions <- job:
		return nil
	case <-ctx.Done():
		d.seen.Delete(job.MessageID)
		return eris.Wrap(ctx.Err(), "pipeline: enqueue extraction")
	default:
		d.seen.Delete(job.MessageID)
		return eris.Wrapf(ErrQueueFull, "extraction job for %s", job.DocumentID)
	}
}

// EnqueueValidation buffers job, waiting for room until ctx is done.
func (d *Dispatcher) EnqueueValidation(ctx context.Context, job ValidationJob) error {
	select {
	case d.validations <- job:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pipeline: enqueue validation")
	}
}

// Pending reports the number of buffered extraction and validation jobs.
func (d *Dispatcher) Pending() (extractions, validations int) {
	return len(d.extractions), len(d.validations)
}

// Run consumes jobs until ctx is cancelled. Job failures are logged and
// do not stop the workers; they are already recorded in the event log.
func (d *Dispatcher) Run(ctx context.Context, ex *Extractor, va *Validator) error {
	zap.L().Info("dispatcher: starting", zap.Int("concurrency", d.concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job := <-d.extractions:
					if err := ex.Process(gctx, job); err != nil {
						zap.L().Warn("dispatcher: extraction job failed",
							zap.String("document_id", job.DocumentID),
							zap.String("message_id", job.MessageID),
							zap.Error(err),
						)
					}
				}
			}
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job := <-d.validations:
					if err := va.Process(gctx, job); err != nil {
						zap.L().Warn("dispatcher: validation job failed",
							zap.String("document_id", job.DocumentID),
							zap.Error(err),
						)
					}
				}
			}
		})
	}

	err := g.Wait()
	ext, val := d.Pending()
	zap.L().Info("dispatcher: stopped", zap.Int("pending_extractions", ext), zap.Int("pending_validations", val))
	return err
}

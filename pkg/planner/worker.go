package planner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/grupomobel/inventario/internal/metrics"
)

// JobKind selects which recomputation a job triggers.
type JobKind string

const (
	JobExplosion      JobKind = "explosion"
	JobQuantification JobKind = "quantification"
)

// Job is one queued recomputation request.
type Job struct {
	Kind      JobKind
	OrderID   string
	ClientID  string
	SiteID    string
	Prototype string
}

// Worker runs heavy recomputations off the request path. Enqueueing is
// fire-and-forget: callers never wait for or learn about the result,
// failures are logged and counted.
type Worker struct {
	planner *Planner
	logger  *zap.Logger
	jobs    chan Job
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWorker creates a worker with the given queue capacity.
func NewWorker(planner *Planner, logger *zap.Logger, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		planner: planner,
		logger:  logger,
		jobs:    make(chan Job, queueSize),
	}
}

// Start launches the processing goroutine. The context bounds each
// individual job, not the worker's lifetime; use Stop to shut down.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for job := range w.jobs {
			w.process(ctx, job)
		}
	}()
}

// Enqueue submits a job without blocking. When the queue is full the
// job is dropped and logged; recomputations are idempotent rebuilds, so
// a dropped job is repaired by the next change to the same key.
func (w *Worker) Enqueue(job Job) {
	select {
	case w.jobs <- job:
	default:
		w.logger.Warn("recompute queue full, job dropped",
			zap.String("kind", string(job.Kind)),
			zap.String("order_id", job.OrderID),
		)
		metrics.RecomputeFailuresTotal.Inc()
	}
}

// Stop drains the queue and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	w.once.Do(func() {
		close(w.jobs)
	})
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, job Job) {
	var err error
	switch job.Kind {
	case JobExplosion:
		err = w.planner.Explode(ctx, job.OrderID)
	case JobQuantification:
		err = w.planner.RebuildQuantification(ctx, job.ClientID, job.SiteID, job.Prototype)
	default:
		w.logger.Error("unknown job kind", zap.String("kind", string(job.Kind)))
		return
	}
	if err != nil {
		metrics.RecomputeFailuresTotal.Inc()
		w.logger.Error("recompute failed",
			zap.String("kind", string(job.Kind)),
			zap.String("order_id", job.OrderID),
			zap.Error(err),
		)
	}
}

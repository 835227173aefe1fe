package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one job. Returning an error wrapped with Permanent sends
// the job straight to the failed list.
type Handler func(ctx context.Context, job *Job) error

var ErrNoHandler = errors.New("no_handler")

// Worker runs a fixed pool of consumers against a Queue. Jobs are processed
// in no particular order across keys.
type Worker struct {
	queue   *Queue
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorker(queue *Queue, log *zap.Logger, metrics *obsmetrics.Metrics) *Worker {
	return &Worker{
		queue:    queue,
		log:      log.Named("jobqueue.worker").With(zap.String("queue", queue.cfg.Name)),
		metrics:  metrics,
		handlers: map[string]Handler{},
	}
}

func (w *Worker) Handle(name string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = handler
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// RunForever consumes jobs until ctx is cancelled. In-flight jobs finish
// before it returns.
func (w *Worker) RunForever(ctx context.Context) error {
	cfg := w.queue.cfg
	w.log.Info("worker started", zap.Int("concurrency", cfg.Concurrency))
	defer w.log.Info("worker stopped")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			w.consume(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.reap(ctx)
		return nil
	})
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessNext(context.WithoutCancel(ctx))
		if err != nil {
			w.log.Warn("queue poll failed", zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.queue.cfg.PollInterval):
		}
	}
}

func (w *Worker) reap(ctx context.Context) {
	ticker := time.NewTicker(w.queue.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := w.queue.RequeueStalled(ctx, 100)
		if err != nil {
			w.log.Warn("stalled job recovery failed", zap.Error(err))
			continue
		}
		if n > 0 {
			w.log.Warn("recovered stalled jobs", zap.Int("count", n))
		}
	}
}

// ProcessNext claims and runs a single job. It reports whether a job was
// claimed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.log.With(
		zap.String("job_id", job.ID),
		zap.String("job", job.Name),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
	)

	start := time.Now()
	runErr := w.run(ctx, job)
	if runErr == nil {
		if err := w.queue.Complete(ctx, job); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				log.Warn("job finished after its lease was recovered", zap.Duration("elapsed", time.Since(start)))
			}
			return true, err
		}
		w.metrics.RecordJobCompleted(ctx, job.Name, time.Since(start))
		log.Info("job completed", zap.Duration("elapsed", time.Since(start)))
		return true, nil
	}

	final, err := w.queue.Fail(ctx, job, runErr)
	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			log.Warn("job failed after its lease was recovered", zap.Error(runErr))
		}
		return true, err
	}
	w.metrics.RecordJobFailed(ctx, job.Name, runErr, final)
	if final {
		log.Error("job failed permanently", zap.Error(runErr), zap.Bool("permanent", IsPermanent(runErr)))
	} else {
		log.Warn("job failed, retry scheduled",
			zap.Error(runErr),
			zap.Duration("backoff", w.queue.cfg.Backoff(job.Attempts)),
		)
	}
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *Job) (err error) {
	handler, ok := w.handler(job.Name)
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrNoHandler, job.Name))
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrichment-service/internal/agent"
	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/internal/pubsub"
)

// Enricher runs one enrichment job end to end.
type Enricher interface {
	Enrich(ctx context.Context, personID, jobID, userID string) (*agent.Outcome, error)
}

// WorkerConfig controls the polling pool.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed in parallel. Default: 5.
	Concurrency int

	// PollInterval is the idle sleep between empty polls. Default: 1s.
	PollInterval time.Duration

	// TotalIterations is reported in the starting progress snapshot.
	// Default: 5, matching the agent's iteration cap.
	TotalIterations int
}

// DefaultWorkerConfig returns the standard worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:     5,
		PollInterval:    time.Second,
		TotalIterations: 5,
	}
}

// Worker polls the queue and runs jobs through the enricher.
type Worker struct {
	cfg       WorkerConfig
	queue     *Queue
	enricher  Enricher
	publisher pubsub.Publisher
}

// NewWorker creates a worker pool over the queue. publisher may be nil when
// no one listens for progress.
func NewWorker(cfg WorkerConfig, q *Queue, enricher Enricher, publisher pubsub.Publisher) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.TotalIterations <= 0 {
		cfg.TotalIterations = 5
	}
	return &Worker{cfg: cfg, queue: q, enricher: enricher, publisher: publisher}
}

// Run blocks until ctx is canceled, processing jobs on Concurrency loops.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("worker starting", zap.Int("concurrency", w.cfg.Concurrency))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	err := g.Wait()
	zap.L().Info("worker stopped")
	if err == context.Canceled {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.queue.Pop(ctx)
		if err != nil {
			zap.L().Warn("queue pop failed", zap.Error(err))
			job = nil
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.process(ctx, job)
	}
}

// process runs one job. The active set registration is cleared on every exit
// path: MarkCompleted and MarkFailed remove it, and the deferred Deactivate
// covers paths that reach neither.
func (w *Worker) process(ctx context.Context, job *Job) {
	if err := w.queue.MarkActive(ctx, job); err != nil {
		zap.L().Error("job activation failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	defer w.queue.Deactivate(ctx, job.ID)

	zap.L().Info("job started",
		zap.String("job_id", job.ID),
		zap.String("person_id", job.PersonID),
		zap.Int("attempt", job.Attempts))

	w.publishStarted(ctx, job)

	_, err := w.enricher.Enrich(ctx, job.PersonID, job.ID, job.UserID)
	if err != nil {
		if markErr := w.queue.MarkFailed(ctx, job, err); markErr != nil {
			zap.L().Error("job failure bookkeeping failed",
				zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return
	}

	if err := w.queue.MarkCompleted(ctx, job); err != nil {
		zap.L().Error("job completion bookkeeping failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

// publishStarted emits the iteration-zero snapshot so subscribers see the
// job the moment a worker picks it up, before the first search completes.
func (w *Worker) publishStarted(ctx context.Context, job *Job) {
	if w.publisher == nil {
		return
	}
	w.publisher.PublishProgress(ctx, model.AgentProgress{
		JobID:           job.ID,
		Iteration:       0,
		TotalIterations: w.cfg.TotalIterations,
		FieldsFound:     []string{},
		FieldsRemaining: model.FieldNamesToStrings(model.RequiredFields),
	})
}

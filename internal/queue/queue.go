// Package queue is the Redis-backed job queue for enrichment runs. Jobs wait
// in a priority-ordered ready set, retries park in a delayed set until their
// backoff elapses, and a per-person claim prevents duplicate enqueues.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/cache"
	"github.com/sells-group/enrichment-service/pkg/campaign"
)

// Job lifecycle states.
const (
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Fresh subjects run ahead of retried ones.
const (
	PriorityFresh = 1
	PriorityRetry = 5
)

const (
	readyKey      = "enrichment:queue:ready"
	delayedKey    = "enrichment:queue:delayed"
	activeJobsKey = "active_jobs"

	jobKeyPrefix   = "enrichment:job:"
	claimKeyPrefix = "enrich_claim:"

	jobTTL   = 24 * time.Hour
	claimTTL = time.Hour
)

var (
	// ErrJobNotFound means the job record expired or never existed.
	ErrJobNotFound = eris.New("queue: job not found")
	// ErrDuplicateJob means the person already has a pending or running job.
	ErrDuplicateJob = eris.New("queue: person already has a job in flight")
)

// Job is the persisted record of one enrichment run.
type Job struct {
	ID          string    `json:"id"`
	PersonID    string    `json:"personId"`
	UserID      string    `json:"userId"`
	Priority    int       `json:"priority"`
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	LastError   string    `json:"lastError,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Config controls queue behavior.
type Config struct {
	// MaxAttempts is the total tries per job. Default: 3.
	MaxAttempts int

	// BackoffBase is the first retry delay, doubled per attempt. Default: 2s.
	BackoffBase time.Duration
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
	}
}

// Queue enqueues, pops, and tracks jobs.
type Queue struct {
	cfg      Config
	client   *redis.Client
	store    cache.Store
	campaign campaign.Client

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a queue over the given connections.
func New(cfg Config, client *redis.Client, store cache.Store, cc campaign.Client) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	return &Queue{
		cfg:      cfg,
		client:   client,
		store:    store,
		campaign: cc,
		nowFunc:  time.Now,
	}
}

// WithNowFunc overrides the clock for tests.
func (q *Queue) WithNowFunc(now func() time.Time) *Queue {
	q.nowFunc = now
	return q
}

// Enqueue verifies the person exists, claims them, and adds a job to the
// ready set. Retried subjects get a lower priority than fresh ones.
func (q *Queue) Enqueue(ctx context.Context, personID, userID string) (*Job, error) {
	person, err := q.campaign.GetPerson(ctx, personID, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "enqueue person %s", personID)
	}

	if q.store.Increment(ctx, claimKeyPrefix+personID, claimTTL) > 1 {
		return nil, ErrDuplicateJob
	}

	priority := PriorityFresh
	if person.RetryCount > 0 {
		priority = PriorityRetry
	}

	now := q.nowFunc()
	job := &Job{
		ID:          uuid.NewString(),
		PersonID:    personID,
		UserID:      userID,
		Priority:    priority,
		State:       StateWaiting,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}
	if err := q.saveJob(ctx, job); err != nil {
		q.ReleaseClaim(ctx, personID)
		return nil, err
	}
	if err := q.client.ZAdd(ctx, readyKey, redis.Z{
		Score:  readyScore(priority, now),
		Member: job.ID,
	}).Err(); err != nil {
		q.ReleaseClaim(ctx, personID)
		return nil, eris.Wrap(err, "queue: push ready")
	}

	zap.L().Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("person_id", personID),
		zap.Int("priority", priority))
	return job, nil
}

// Status returns the current job record.
func (q *Queue) Status(ctx context.Context, jobID string) (*Job, error) {
	return q.loadJob(ctx, jobID)
}

// Pop promotes due delayed jobs, then takes the highest-priority ready job.
// Returns nil when the queue is empty.
func (q *Queue) Pop(ctx context.Context) (*Job, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	members, err := q.client.ZPopMin(ctx, readyKey, 1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "queue: pop ready")
	}
	if len(members) == 0 {
		return nil, nil
	}

	jobID, _ := members[0].Member.(string)
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		// The record expired while queued; skip it.
		zap.L().Warn("popped job has no record", zap.String("job_id", jobID))
		return nil, nil
	}
	return job, nil
}

// MarkActive records the job as running and registers it in the active set.
// The registration is rolled back if the job record cannot be saved, so a
// job that never runs does not hold admission capacity.
func (q *Queue) MarkActive(ctx context.Context, job *Job) error {
	job.State = StateActive
	job.Attempts++
	job.UpdatedAt = q.nowFunc()
	q.store.ZAdd(ctx, activeJobsKey, float64(job.UpdatedAt.UnixMilli()), job.ID, jobTTL)
	if err := q.saveJob(ctx, job); err != nil {
		q.store.ZRem(ctx, activeJobsKey, job.ID)
		return err
	}
	return nil
}

// MarkCompleted finalizes a successful job and releases its claim. It runs
// detached from ctx cancellation: exit bookkeeping must land even when the
// job itself was canceled, or the active set entry and claim leak until
// their TTLs lapse.
func (q *Queue) MarkCompleted(ctx context.Context, job *Job) error {
	ctx = context.WithoutCancel(ctx)
	job.State = StateCompleted
	job.LastError = ""
	job.UpdatedAt = q.nowFunc()
	q.store.ZRem(ctx, activeJobsKey, job.ID)
	q.ReleaseClaim(ctx, job.PersonID)
	return q.saveJob(ctx, job)
}

// MarkFailed records a failed attempt. Jobs with attempts remaining move to
// the delayed set with exponential backoff and keep their claim; exhausted
// jobs go terminal and release it. Detached from cancellation for the same
// reason as MarkCompleted.
func (q *Queue) MarkFailed(ctx context.Context, job *Job, cause error) error {
	ctx = context.WithoutCancel(ctx)
	job.LastError = cause.Error()
	job.UpdatedAt = q.nowFunc()
	q.store.ZRem(ctx, activeJobsKey, job.ID)

	if job.Attempts >= job.MaxAttempts {
		job.State = StateFailed
		q.ReleaseClaim(ctx, job.PersonID)
		zap.L().Warn("job failed terminally",
			zap.String("job_id", job.ID),
			zap.String("person_id", job.PersonID),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause))
		return q.saveJob(ctx, job)
	}

	job.State = StateDelayed
	readyAt := job.UpdatedAt.Add(q.backoff(job.Attempts))
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return eris.Wrap(err, "queue: push delayed")
	}

	zap.L().Info("job scheduled for retry",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Time("ready_at", readyAt),
		zap.Error(cause))
	return nil
}

// ReleaseClaim frees the per-person duplicate guard.
func (q *Queue) ReleaseClaim(ctx context.Context, personID string) {
	q.store.Delete(ctx, claimKeyPrefix+personID)
}

// Deactivate removes a job from the active set without touching its record
// or claim. Workers defer it so the set drains even when terminal
// bookkeeping never ran.
func (q *Queue) Deactivate(ctx context.Context, jobID string) {
	q.store.ZRem(context.WithoutCancel(ctx), activeJobsKey, jobID)
}

// ActiveCount returns the number of jobs currently running across workers.
func (q *Queue) ActiveCount(ctx context.Context) int64 {
	return q.store.ZCard(ctx, activeJobsKey)
}

// backoff doubles per completed attempt: base, 2*base, 4*base.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// promoteDelayed moves every delayed job whose backoff elapsed into the
// ready set at its original priority.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := q.nowFunc()
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatMillis(now),
	}).Result()
	if err != nil {
		return eris.Wrap(err, "queue: read delayed")
	}

	for _, jobID := range due {
		job, err := q.loadJob(ctx, jobID)
		if err != nil {
			q.client.ZRem(ctx, delayedKey, jobID)
			continue
		}
		job.State = StateWaiting
		job.UpdatedAt = now
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, jobID)
		pipe.ZAdd(ctx, readyKey, redis.Z{
			Score:  readyScore(job.Priority, now),
			Member: jobID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return eris.Wrap(err, "queue: promote delayed")
		}
	}
	return nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "queue: marshal job")
	}
	if err := q.client.Set(ctx, jobKeyPrefix+job.ID, buf, jobTTL).Err(); err != nil {
		return eris.Wrap(err, "queue: save job")
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (*Job, error) {
	raw, err := q.client.Get(ctx, jobKeyPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: load job")
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, eris.Wrap(err, "queue: decode job")
	}
	return &job, nil
}

// readyScore orders the ready set by priority first, enqueue time second.
// Lower scores pop first.
func readyScore(priority int, at time.Time) float64 {
	return float64(priority)*1e13 + float64(at.UnixMilli())
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Package jobqueue is a Redis-backed job queue with keyed deduplication,
// bounded retries with exponential backoff, lease-based stall recovery and
// bounded retention of completed and failed jobs.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/referrals/internal/clock"
)

const keyPrefix = "referrals:queue:%s"

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is the stored form of a queued unit of work.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	State       State           `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`

	// LeaseToken identifies the claim that currently holds the job.
	LeaseToken string `json:"-"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

type EnqueueRequest struct {
	Name string
	// Key deduplicates the job: while a job with the same key is waiting,
	// running or retained, further requests are ignored. Empty means a random
	// key.
	Key         string
	Payload     any
	MaxAttempts int
	Delay       time.Duration
}

type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type keys struct {
	jobs      string
	wait      string
	active    string
	completed string
	failed    string
	leases    string
	attempts  string
}

type Queue struct {
	client  *redis.Client
	cfg     Config
	clock   clock.Clock
	keys    keys
	scripts scripts
}

var (
	ErrQueueNotConfigured = errors.New("queue_not_configured")
	ErrInvalidJob         = errors.New("invalid_job")
	// ErrLeaseLost means the job was recovered by stall recovery (and possibly
	// claimed again) before this holder finished it.
	ErrLeaseLost = errors.New("lease_lost")
)

func NewQueue(client *redis.Client, cfg Config, clk clock.Clock) *Queue {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.SystemClock{}
	}
	prefix := fmt.Sprintf(keyPrefix, cfg.Name)
	return &Queue{
		client: client,
		cfg:    cfg,
		clock:  clk,
		keys: keys{
			jobs:      prefix + ":jobs",
			wait:      prefix + ":wait",
			active:    prefix + ":active",
			completed: prefix + ":completed",
			failed:    prefix + ":failed",
			leases:    prefix + ":leases",
			attempts:  prefix + ":attempts",
		},
		scripts: newScripts(),
	}
}

func (q *Queue) Config() Config {
	return q.cfg
}

// Enqueue adds a job unless one with the same key is already known. It
// reports whether a new job was stored.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (bool, error) {
	if q == nil || q.client == nil {
		return false, ErrQueueNotConfigured
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return false, ErrInvalidJob
	}
	id := strings.TrimSpace(req.Key)
	if id == "" {
		id = ulid.Make().String()
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	now := q.clock.Now()
	body, err := json.Marshal(Job{
		ID:          id,
		Name:        name,
		Payload:     payload,
		State:       StateWaiting,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
	})
	if err != nil {
		return false, err
	}

	readyAt := now.Add(req.Delay).UnixMilli()
	added, err := q.scripts.enqueue.Run(ctx, q.client, []string{q.keys.jobs, q.keys.wait, q.keys.attempts}, id, body, readyAt).Int()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

// Claim leases the oldest ready job and counts the attempt. It returns nil
// when nothing is ready.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	if q == nil || q.client == nil {
		return nil, ErrQueueNotConfigured
	}
	now := q.clock.Now()
	token := ulid.Make().String()
	res, err := q.scripts.claim.Run(ctx, q.client,
		[]string{q.keys.jobs, q.keys.wait, q.keys.active, q.keys.leases, q.keys.attempts},
		now.UnixMilli(),
		now.Add(q.cfg.LeaseDuration).UnixMilli(),
		token,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("claim: unexpected reply %v", res)
	}
	body, _ := res[0].(string)
	attempts, _ := res[1].(int64)

	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job.State = StateActive
	job.Attempts = int(attempts)
	job.LeaseToken = token
	return &job, nil
}

// Complete records a successful run and moves the job to the completed list.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrInvalidJob
	}
	now := q.clock.Now()
	job.State = StateCompleted
	job.LastError = ""
	job.FinishedAt = &now
	return q.finish(ctx, job, q.keys.completed, q.cfg.CompletedRetention)
}

// Fail records a failed attempt. The job is retried after backoff unless its
// attempts are used up or the failure is permanent, in which case it moves
// to the failed list and is not resubmitted. It reports whether the failure
// was final.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	if job == nil {
		return false, ErrInvalidJob
	}
	if cause != nil {
		job.LastError = cause.Error()
	}

	now := q.clock.Now()
	if IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
		job.State = StateFailed
		job.FinishedAt = &now
		return true, q.finish(ctx, job, q.keys.failed, q.cfg.FailedRetention)
	}

	return false, q.requeue(ctx, job, now.Add(q.cfg.Backoff(job.Attempts)))
}

func (q *Queue) requeue(ctx context.Context, job *Job, readyAt time.Time) error {
	job.State = StateWaiting
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	moved, err := q.scripts.retry.Run(ctx, q.client,
		[]string{q.keys.jobs, q.keys.active, q.keys.wait, q.keys.leases},
		job.ID, body, readyAt.UnixMilli(), job.LeaseToken,
	).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *Queue) finish(ctx context.Context, job *Job, list string, retention int) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	moved, err := q.scripts.finish.Run(ctx, q.client,
		[]string{q.keys.jobs, q.keys.active, list, q.keys.leases, q.keys.attempts},
		job.ID, body, retention, job.LeaseToken,
	).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RequeueStalled recovers jobs whose lease expired, which is what a worker
// that died mid-job leaves behind. The lost run counts as an attempt: jobs
// with attempts left go back to the wait set, the rest move to the failed
// list. It reports how many jobs were recovered.
func (q *Queue) RequeueStalled(ctx context.Context, limit int) (int, error) {
	if q == nil || q.client == nil {
		return 0, ErrQueueNotConfigured
	}
	if limit <= 0 {
		limit = 100
	}
	now := q.clock.Now()
	ids, err := q.client.ZRangeByScore(ctx, q.keys.active, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			return recovered, err
		}
		if job == nil {
			if err := q.client.ZRem(ctx, q.keys.active, id).Err(); err != nil {
				return recovered, err
			}
			continue
		}
		token, err := q.client.HGet(ctx, q.keys.leases, id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return recovered, err
		}
		job.LeaseToken = token
		job.LastError = "lease expired"

		if job.Attempts >= job.MaxAttempts {
			job.State = StateFailed
			job.FinishedAt = &now
			err = q.finish(ctx, job, q.keys.failed, q.cfg.FailedRetention)
		} else {
			err = q.requeue(ctx, job, now)
		}
		if errors.Is(err, ErrLeaseLost) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Get returns the stored job for a key, or nil when unknown. Attempts and
// the active state reflect claims made since the job was last written.
func (q *Queue) Get(ctx context.Context, key string) (*Job, error) {
	pipe := q.client.Pipeline()
	bodyCmd := pipe.HGet(ctx, q.keys.jobs, key)
	attemptsCmd := pipe.HGet(ctx, q.keys.attempts, key)
	activeCmd := pipe.ZScore(ctx, q.keys.active, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	body, err := bodyCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if attempts, err := attemptsCmd.Int(); err == nil {
		job.Attempts = attempts
	}
	if activeCmd.Err() == nil {
		job.State = StateActive
	}
	return &job, nil
}

// Failed lists retained failed jobs, newest first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.client.LRange(ctx, q.keys.failed, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Job{}, nil
	}
	bodies, err := q.client.HMGet(ctx, q.keys.jobs, ids...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(bodies))
	for _, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.keys.wait)
	active := pipe.ZCard(ctx, q.keys.active)
	completed := pipe.LLen(ctx, q.keys.completed)
	failed := pipe.LLen(ctx, q.keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

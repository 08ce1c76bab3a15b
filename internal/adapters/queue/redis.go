// Package queue implements the job scheduler, consumer and distributed
// lock on Redis. Queues are lists, delayed jobs live in a sorted set
// scored by their due time, and job ids are tracked in a keyspace that
// makes enqueues idempotent across processes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlloPay/accountd/internal/usecase"
)

const (
	keyPrefix     = "accountd:"
	keyDelayed    = keyPrefix + "delayed"
	keyActiveJobs = keyPrefix + "jobs:active"

	queueKeyFmt     = keyPrefix + "queue:%s"
	jobKeyFmt       = keyPrefix + "job:%s"
	cancelledKeyFmt = keyPrefix + "job:cancelled:%s"
	attemptsKeyFmt  = keyPrefix + "job:attempts:%s"
	parentKeyFmt    = keyPrefix + "flow:parent:%s"
	pendingKeyFmt   = keyPrefix + "flow:pending:%s"

	// jobTTL bounds the bookkeeping keys so abandoned ids cannot block
	// re-enqueues forever.
	jobTTL = 24 * time.Hour
)

// Scheduler is the Redis-backed usecase.JobScheduler.
type Scheduler struct {
	client *redis.Client
	log    *slog.Logger
}

// NewScheduler creates a Redis job scheduler.
func NewScheduler(client *redis.Client, log *slog.Logger) *Scheduler {
	return &Scheduler{client: client, log: log.With("component", "Scheduler")}
}

// Enqueue adds the job unless its id is already known, making concurrent
// enqueues for the same proposal a no-op.
func (s *Scheduler) Enqueue(ctx context.Context, job usecase.Job) error {
	added, err := s.client.SetNX(ctx, fmt.Sprintf(jobKeyFmt, job.ID), "1", jobTTL).Result()
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.ID, err)
	}
	if !added {
		s.log.Debug("job already enqueued", "job", job.ID)
		return nil
	}

	return s.push(ctx, job)
}

func (s *Scheduler) push(ctx context.Context, job usecase.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, keyActiveJobs, job.ID)
	if job.Delay > 0 {
		due := time.Now().Add(job.Delay)
		pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(due.UnixMilli()), Member: payload})
	} else {
		pipe.LPush(ctx, fmt.Sprintf(queueKeyFmt, job.Queue), payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// SubmitFlow submits a job DAG: leaves are enqueued immediately and each
// parent is enqueued once all of its children complete.
func (s *Scheduler) SubmitFlow(ctx context.Context, flow usecase.Flow) error {
	if len(flow.Children) == 0 {
		return s.Enqueue(ctx, flow.Job)
	}

	parentPayload, err := json.Marshal(flow.Job)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(pendingKeyFmt, flow.Job.ID), len(flow.Children), jobTTL)
	pipe.SetNX(ctx, fmt.Sprintf(jobKeyFmt, flow.Job.ID), "1", jobTTL)
	pipe.SAdd(ctx, keyActiveJobs, flow.Job.ID)
	for _, child := range flow.Children {
		pipe.Set(ctx, fmt.Sprintf(parentKeyFmt, child.Job.ID), parentPayload, jobTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	for _, child := range flow.Children {
		if err := s.SubmitFlow(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// Remove cancels a job that has not run yet; a no-op if it already ran.
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(cancelledKeyFmt, jobID), "1", jobTTL)
	pipe.SRem(ctx, keyActiveJobs, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// ActiveJobIDs lists ids of jobs currently queued, delayed or running.
func (s *Scheduler) ActiveJobIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := s.client.SMembers(ctx, keyActiveJobs).Result()
	if err != nil {
		return nil, err
	}
	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}
	return active, nil
}

// complete clears a finished job's bookkeeping and releases its parent
// when it was the last outstanding child of a flow.
func (s *Scheduler) complete(ctx context.Context, job usecase.Job) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx,
		fmt.Sprintf(jobKeyFmt, job.ID),
		fmt.Sprintf(cancelledKeyFmt, job.ID),
		fmt.Sprintf(attemptsKeyFmt, job.ID))
	pipe.SRem(ctx, keyActiveJobs, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	parentPayload, err := s.client.Get(ctx, fmt.Sprintf(parentKeyFmt, job.ID)).Result()
	if err == redis.Nil {
		return nil
	} else if err != nil {
		return err
	}

	var parent usecase.Job
	if err := json.Unmarshal([]byte(parentPayload), &parent); err != nil {
		return err
	}

	remaining, err := s.client.Decr(ctx, fmt.Sprintf(pendingKeyFmt, parent.ID)).Result()
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	s.client.Del(ctx, fmt.Sprintf(pendingKeyFmt, parent.ID), fmt.Sprintf(parentKeyFmt, job.ID))
	return s.push(ctx, parent)
}

// cancelled reports whether the job was removed before running.
func (s *Scheduler) cancelled(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, fmt.Sprintf(cancelledKeyFmt, jobID)).Result()
	return n > 0, err
}

// attempts increments and returns the job's attempt counter.
func (s *Scheduler) attempts(ctx context.Context, jobID string) (int, error) {
	n, err := s.client.Incr(ctx, fmt.Sprintf(attemptsKeyFmt, jobID)).Result()
	if err != nil {
		return 0, err
	}
	s.client.Expire(ctx, fmt.Sprintf(attemptsKeyFmt, jobID), jobTTL)
	return int(n), nil
}

// moveDueJobs promotes delayed jobs whose time has come onto their queues.
func (s *Scheduler) moveDueJobs(ctx context.Context, now time.Time) error {
	due, err := s.client.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	for _, payload := range due {
		var job usecase.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			s.log.Error("dropping undecodable delayed job", "err", err)
			s.client.ZRem(ctx, keyDelayed, payload)
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, keyDelayed, payload)
		pipe.LPush(ctx, fmt.Sprintf(queueKeyFmt, job.Queue), payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/usecase"
)

// HandlerFunc processes one job payload.
type HandlerFunc func(ctx context.Context, payload usecase.JobPayload) error

// retryBackoff delays a retried job so a transient fault has time to clear.
const retryBackoff = 5 * time.Second

// popTimeout bounds each blocking pop so the consumer can notice context
// cancellation and promote due delayed jobs.
const popTimeout = 2 * time.Second

// Consumer pulls jobs off the three pipeline queues and runs them through
// their registered handlers. Errors are classified: fatal errors and the
// clean-stop sentinels finish the job, anything else retries up to the
// configured limit.
type Consumer struct {
	client     *redis.Client
	scheduler  *Scheduler
	handlers   map[usecase.Queue]HandlerFunc
	retryLimit int
	log        *slog.Logger
}

// NewConsumer creates a consumer over the given handler registry.
func NewConsumer(
	client *redis.Client,
	scheduler *Scheduler,
	handlers map[usecase.Queue]HandlerFunc,
	retryLimit int,
	log *slog.Logger,
) *Consumer {
	return &Consumer{
		client:     client,
		scheduler:  scheduler,
		handlers:   handlers,
		retryLimit: retryLimit,
		log:        log.With("component", "Consumer"),
	}
}

// Run consumes jobs until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	queues := lo.Map(lo.Keys(c.handlers), func(q usecase.Queue, _ int) string {
		return fmt.Sprintf(queueKeyFmt, q)
	})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.scheduler.moveDueJobs(ctx, time.Now()); err != nil {
			c.log.Error("promoting delayed jobs failed", "err", err)
		}

		result, err := c.client.BRPop(ctx, popTimeout, queues...).Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("queue pop failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		// BRPop returns [key, payload].
		var job usecase.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			c.log.Error("dropping undecodable job", "queue", result[0], "err", err)
			continue
		}

		c.process(ctx, job)
	}
}

func (c *Consumer) process(ctx context.Context, job usecase.Job) {
	cancelled, err := c.scheduler.cancelled(ctx, job.ID)
	if err != nil {
		c.log.Error("cancellation check failed", "job", job.ID, "err", err)
	}
	if cancelled {
		c.log.Debug("skipping cancelled job", "job", job.ID)
		c.finish(ctx, job)
		return
	}

	handler, ok := c.handlers[job.Queue]
	if !ok {
		c.log.Error("no handler for queue", "queue", job.Queue, "job", job.ID)
		c.finish(ctx, job)
		return
	}

	err = handler(ctx, job.Payload)
	switch {
	case err == nil:
		c.finish(ctx, job)

	case errors.Is(err, domain.ErrNotScheduled), errors.Is(err, domain.ErrAlreadyExecuted):
		// Clean stops: the pipeline legitimately ends here.
		c.log.Info("job stopped", "job", job.ID, "reason", err)
		c.finish(ctx, job)

	case domain.IsFatal(err):
		c.log.Error("job failed permanently", "job", job.ID, "err", err)
		c.finish(ctx, job)

	default:
		c.retry(ctx, job, err)
	}
}

func (c *Consumer) retry(ctx context.Context, job usecase.Job, cause error) {
	attempt, err := c.scheduler.attempts(ctx, job.ID)
	if err != nil {
		c.log.Error("attempt count failed", "job", job.ID, "err", err)
		attempt = c.retryLimit // fail closed rather than retry unboundedly
	}

	if attempt >= c.retryLimit {
		c.log.Error("job exhausted retries", "job", job.ID, "attempts", attempt, "err", cause)
		c.finish(ctx, job)
		return
	}

	c.log.Warn("retrying job", "job", job.ID, "attempt", attempt, "err", cause)
	job.Delay = retryBackoff * time.Duration(attempt)
	if err := c.scheduler.push(ctx, job); err != nil {
		c.log.Error("re-enqueue failed", "job", job.ID, "err", err)
	}
}

func (c *Consumer) finish(ctx context.Context, job usecase.Job) {
	if err := c.scheduler.complete(ctx, job); err != nil {
		c.log.Error("completing job failed", "job", job.ID, "err", err)
	}
}

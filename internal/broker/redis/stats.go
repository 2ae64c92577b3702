package redisbroker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
)

// Counts reports a per-state snapshot for the queue.
func (b *Broker) Counts(ctx context.Context, queue string) (broker.Counts, error) {
	var c broker.Counts

	pipe := b.client.Pipeline()
	ready := pipe.ZCard(ctx, readyKey(queue))
	delayed := pipe.ZCard(ctx, delayKey(queue))
	retrying := pipe.ZCard(ctx, retryKey(queue))
	active := pipe.ZCard(ctx, lockKey(queue))
	done := pipe.LLen(ctx, doneKey(queue))
	dead := pipe.LLen(ctx, deadKey(queue))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return c, fmt.Errorf("redisbroker: counts: %w", err)
	}

	c.Waiting = int(ready.Val() + delayed.Val())
	c.Retryable = int(retrying.Val())
	c.Active = int(active.Val())
	c.Completed = int(done.Val())
	c.Terminal = int(dead.Val())

	head, err := b.client.ZRange(ctx, readyKey(queue), 0, 0).Result()
	if err != nil && err != redis.Nil {
		return c, fmt.Errorf("redisbroker: counts: %w", err)
	}
	if len(head) == 1 {
		if rec, err := b.loadJob(ctx, queue, head[0]); err == nil {
			if age := b.nowMs() - rec.EnqueuedAtMs; age > 0 {
				c.OldestWaitingAgeMs = age
			}
		}
	}
	return c, nil
}

// Jobs lists snapshots in the given state, oldest first.
func (b *Broker) Jobs(ctx context.Context, queue string, state job.State, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	switch state {
	case "":
		out, err := b.zsetJobs(ctx, queue, readyKey(queue), limit)
		if err != nil {
			return nil, err
		}
		for _, key := range []string{delayKey(queue), retryKey(queue), lockKey(queue)} {
			if len(out) >= limit {
				break
			}
			more, err := b.zsetJobs(ctx, queue, key, limit-len(out))
			if err != nil {
				return nil, err
			}
			out = append(out, more...)
		}
		return out, nil
	case job.StateWaiting:
		out, err := b.zsetJobs(ctx, queue, readyKey(queue), limit)
		if err != nil {
			return nil, err
		}
		if len(out) < limit {
			more, err := b.zsetJobs(ctx, queue, delayKey(queue), limit-len(out))
			if err != nil {
				return nil, err
			}
			out = append(out, more...)
		}
		return out, nil
	case job.StateRetryable:
		return b.zsetJobs(ctx, queue, retryKey(queue), limit)
	case job.StateActive:
		return b.zsetJobs(ctx, queue, lockKey(queue), limit)
	case job.StateCompleted:
		return b.listJobs(ctx, doneKey(queue), limit)
	case job.StateTerminal:
		return b.listJobs(ctx, deadKey(queue), limit)
	default:
		return nil, fmt.Errorf("redisbroker: unknown state %q", state)
	}
}

// zsetJobs resolves sorted-set members to records in score order.
func (b *Broker) zsetJobs(ctx context.Context, queue, key string, limit int) ([]*job.Job, error) {
	ids, err := b.client.ZRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redisbroker: list %s: %w", key, err)
	}
	var out []*job.Job
	for _, jobID := range ids {
		rec, err := b.loadJob(ctx, queue, jobID)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// listJobs decodes records off a capped archive list, oldest first. LPUSH
// puts the newest at index 0, so the range is read back reversed.
func (b *Broker) listJobs(ctx context.Context, key string, limit int) ([]*job.Job, error) {
	raws, err := b.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redisbroker: list %s: %w", key, err)
	}
	var out []*job.Job
	for i := len(raws) - 1; i >= 0; i-- {
		rec, err := job.Decode([]byte(raws[i]))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

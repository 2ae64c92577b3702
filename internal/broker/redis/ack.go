package redisbroker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
)

// checkedLoad loads an active job and verifies owner still holds its lock.
func (b *Broker) checkedLoad(ctx context.Context, queue, owner, jobID string) (*job.Job, error) {
	rec, err := b.loadJob(ctx, queue, jobID)
	if err != nil {
		return nil, err
	}
	if rec.State != job.StateActive || rec.Lock == nil || rec.Lock.Owner != owner {
		return nil, fmt.Errorf("%w: job %s", broker.ErrLockLost, jobID)
	}
	return rec, nil
}

// Complete acknowledges a successful run.
func (b *Broker) Complete(ctx context.Context, queue, owner, jobID string) error {
	rec, err := b.checkedLoad(ctx, queue, owner, jobID)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, lockKey(queue), jobID)
	pipe.Del(ctx, jobKey(queue, jobID))
	pipe.HDel(ctx, seqsKey(queue), jobID)
	if !rec.RemoveOnComplete {
		rec.State = job.StateCompleted
		rec.CompletedAtMs = b.nowMs()
		rec.Lock = nil
		encoded, err := job.Encode(rec)
		if err != nil {
			return fmt.Errorf("redisbroker: complete %s: %w", jobID, err)
		}
		pipe.LPush(ctx, doneKey(queue), encoded)
		pipe.LTrim(ctx, doneKey(queue), 0, int64(b.opts.MaxDoneRecords)-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisbroker: complete %s: %w", jobID, err)
	}
	return nil
}

// Fail records a failed run, scheduling a backoff retry or going terminal.
func (b *Broker) Fail(ctx context.Context, queue, owner, jobID, cause string, terminal bool) error {
	rec, err := b.checkedLoad(ctx, queue, owner, jobID)
	if err != nil {
		return err
	}
	rec.Lock = nil
	rec.LastError = cause

	if terminal || rec.AttemptsExhausted() {
		return b.bury(ctx, queue, rec)
	}

	now := b.nowMs()
	rec.State = job.StateRetryable
	rec.NotBeforeMs = now + rec.Backoff.Delay(rec.Attempt).Milliseconds()
	encoded, err := job.Encode(rec)
	if err != nil {
		return fmt.Errorf("redisbroker: fail %s: %w", jobID, err)
	}

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, lockKey(queue), jobID)
	pipe.Set(ctx, jobKey(queue, jobID), encoded, 0)
	pipe.ZAdd(ctx, retryKey(queue), redis.Z{Score: float64(rec.NotBeforeMs), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisbroker: fail %s: %w", jobID, err)
	}
	return nil
}

// bury removes the live record and archives it on the capped dead list unless
// the job opted out.
func (b *Broker) bury(ctx context.Context, queue string, rec *job.Job) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, lockKey(queue), rec.ID)
	pipe.Del(ctx, jobKey(queue, rec.ID))
	pipe.HDel(ctx, seqsKey(queue), rec.ID)
	if !rec.RemoveOnFail {
		rec.State = job.StateTerminal
		rec.CompletedAtMs = b.nowMs()
		encoded, err := job.Encode(rec)
		if err != nil {
			return fmt.Errorf("redisbroker: bury %s: %w", rec.ID, err)
		}
		pipe.LPush(ctx, deadKey(queue), encoded)
		pipe.LTrim(ctx, deadKey(queue), 0, int64(b.opts.MaxDeadRecords)-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisbroker: bury %s: %w", rec.ID, err)
	}
	return nil
}

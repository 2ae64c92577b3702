package redisbroker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
)

// reclaimScript pops expired members off the lock set. The requeue decision
// needs the record, so it happens in Go afterwards; a crash in between leaves
// the job out of every index and the next sweep cannot see it, which is why
// the script returns the ids only after removing them inside one atomic step.
//
// KEYS: lock
// ARGV: now_ms, limit
var reclaimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
end
return due
`)

// ReclaimStalled sweeps expired locks, requeueing stalled jobs with budget
// left (keeping the attempt the failed claim charged) and burying the rest.
func (b *Broker) ReclaimStalled(ctx context.Context, queue string, limit int) ([]broker.Stalled, error) {
	if limit <= 0 {
		limit = 128
	}
	now := b.nowMs()

	ids, err := reclaimScript.Run(ctx, b.client, []string{lockKey(queue)}, now, limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redisbroker: reclaim: %w", err)
	}

	var stalled []broker.Stalled
	for _, jobID := range ids {
		rec, err := b.loadJob(ctx, queue, jobID)
		if err != nil {
			continue
		}
		if rec.State != job.StateActive || rec.Lock == nil || rec.Lock.ExpiresAtMs > now {
			// Renewed or acked concurrently; the lock set entry was stale.
			continue
		}

		rec.Lock = nil
		if rec.AttemptsExhausted() {
			rec.LastError = "lock expired"
			if err := b.bury(ctx, queue, rec); err != nil {
				return stalled, err
			}
			stalled = append(stalled, broker.Stalled{JobID: jobID, Attempt: rec.Attempt, Terminal: true})
			continue
		}

		rec.State = job.StateWaiting
		rec.NotBeforeMs = 0
		encoded, err := job.Encode(rec)
		if err != nil {
			return stalled, fmt.Errorf("redisbroker: reclaim %s: %w", jobID, err)
		}
		pipe := b.client.TxPipeline()
		pipe.Set(ctx, jobKey(queue, jobID), encoded, 0)
		// Original sequence restores the FIFO position.
		pipe.ZAdd(ctx, readyKey(queue), redis.Z{Score: float64(rec.Seq), Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			return stalled, fmt.Errorf("redisbroker: reclaim %s: %w", jobID, err)
		}
		stalled = append(stalled, broker.Stalled{JobID: jobID, Attempt: rec.Attempt, Terminal: false})
	}
	return stalled, nil
}

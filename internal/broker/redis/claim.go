package redisbroker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
)

// claimScript promotes due delay/retry entries into the ready set (restoring
// their enqueue sequence from the seqs hash), then pops up to limit ids from
// the head of the ready set into the lock set. Runs atomically server-side.
//
// KEYS: ready, delay, retry, lock, seqs
// ARGV: now_ms, limit, lock_exp_ms
var claimScript = redis.NewScript(`
for _, src in ipairs({KEYS[2], KEYS[3]}) do
  local due = redis.call('ZRANGEBYSCORE', src, '-inf', ARGV[1])
  for _, id in ipairs(due) do
    local seq = redis.call('HGET', KEYS[5], id)
    if seq then
      redis.call('ZADD', KEYS[1], tonumber(seq), id)
    end
    redis.call('ZREM', src, id)
  end
end
local picked = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[2]) - 1)
for _, id in ipairs(picked) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[4], tonumber(ARGV[3]), id)
end
return picked
`)

// Claim atomically moves up to limit eligible jobs to active in FIFO order.
// Each claim charges one attempt.
func (b *Broker) Claim(ctx context.Context, queue, owner string, limit int, lock time.Duration) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	if lock <= 0 {
		lock = 30 * time.Second
	}
	now := b.nowMs()
	exp := now + lock.Milliseconds()

	ids, err := claimScript.Run(ctx, b.client,
		[]string{readyKey(queue), delayKey(queue), retryKey(queue), lockKey(queue), seqsKey(queue)},
		now, limit, exp,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redisbroker: claim: %w", err)
	}

	var claimed []*job.Job
	for _, jobID := range ids {
		rec, err := b.loadJob(ctx, queue, jobID)
		if err != nil {
			// Orphaned index member; drop it so it stops reappearing.
			b.client.ZRem(ctx, lockKey(queue), jobID)
			continue
		}
		rec.State = job.StateActive
		rec.Attempt++
		rec.NotBeforeMs = 0
		rec.Lock = &job.Lock{Owner: owner, ExpiresAtMs: exp}
		if err := b.storeJob(ctx, rec); err != nil {
			return claimed, fmt.Errorf("redisbroker: claim %s: %w", jobID, err)
		}
		claimed = append(claimed, rec)
	}
	return claimed, nil
}

// Renew extends the locks owner holds on the given jobs.
func (b *Broker) Renew(ctx context.Context, queue, owner string, ids []string, lock time.Duration) error {
	if lock <= 0 {
		lock = 30 * time.Second
	}
	exp := b.nowMs() + lock.Milliseconds()

	for _, jobID := range ids {
		rec, err := b.loadJob(ctx, queue, jobID)
		if err != nil {
			return err
		}
		if rec.State != job.StateActive || rec.Lock == nil || rec.Lock.Owner != owner {
			return fmt.Errorf("%w: job %s", broker.ErrLockLost, jobID)
		}
		rec.Lock.ExpiresAtMs = exp
		if err := b.storeJob(ctx, rec); err != nil {
			return fmt.Errorf("redisbroker: renew %s: %w", jobID, err)
		}
		// XX: only refresh members still present in the lock set.
		if err := b.client.ZAddXX(ctx, lockKey(queue), redis.Z{Score: float64(exp), Member: jobID}).Err(); err != nil {
			return fmt.Errorf("redisbroker: renew %s: %w", jobID, err)
		}
	}
	return nil
}

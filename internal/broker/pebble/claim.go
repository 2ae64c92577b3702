package pebblebroker

import (
	"context"
	"fmt"
	"time"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
)

// promoteDue moves delay-index entries whose ready-at time has passed into
// the ready index, restoring their original sequence so FIFO order holds.
func (b *Broker) promoteDue(ctx context.Context, queue string, nowMs int64, max int) error {
	lo, hi := keyRange(queuePrefix(queue) + suffixDelay)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return fmt.Errorf("pebblebroker: promote: %w", err)
	}
	defer it.Close()

	batch := b.db.NewBatch()
	defer batch.Close()

	promoted := 0
	for ok := it.First(); ok && promoted < max; ok = it.Next() {
		at, jobID, okKey := timedKeyParts(it.Key(), len(lo))
		if !okKey {
			continue
		}
		if at > nowMs {
			break
		}
		seq, _, okVal := parseDelayValue(it.Value())
		if !okVal {
			_ = batch.Delete(it.Key(), nil)
			continue
		}

		rec, err := b.loadJob(queue, jobID)
		if err != nil {
			// Orphaned index entry; drop it.
			_ = batch.Delete(it.Key(), nil)
			continue
		}
		rec.State = job.StateWaiting
		rec.NotBeforeMs = 0
		encoded, err := job.Encode(rec)
		if err != nil {
			return fmt.Errorf("pebblebroker: promote %s: %w", jobID, err)
		}

		if err := batch.Delete(it.Key(), nil); err != nil {
			return err
		}
		if err := batch.Set(readyKey(queue, seq), []byte(jobID), nil); err != nil {
			return err
		}
		if err := batch.Set(jobKey(queue, jobID), encoded, nil); err != nil {
			return err
		}
		promoted++
	}
	if batch.Len() == 0 {
		return nil
	}
	return b.db.CommitBatch(ctx, batch)
}

// Claim atomically moves up to limit ready jobs to active in FIFO order,
// assigning owner a lock that expires after lock. Each claim charges one
// attempt.
func (b *Broker) Claim(ctx context.Context, queue, owner string, limit int, lock time.Duration) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	if lock <= 0 {
		lock = 30 * time.Second
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowMs()
	if err := b.promoteDue(ctx, queue, now, limit*4); err != nil {
		return nil, err
	}

	lo, hi := keyRange(queuePrefix(queue) + suffixReady)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return nil, fmt.Errorf("pebblebroker: claim: %w", err)
	}
	defer it.Close()

	batch := b.db.NewBatch()
	defer batch.Close()

	exp := now + lock.Milliseconds()
	var claimed []*job.Job
	for ok := it.First(); ok && len(claimed) < limit; ok = it.Next() {
		jobID := string(it.Value())
		rec, err := b.loadJob(queue, jobID)
		if err != nil {
			// Ready entry without a record; purge the orphan and move on.
			_ = batch.Delete(it.Key(), nil)
			continue
		}

		rec.State = job.StateActive
		rec.Attempt++
		rec.Lock = &job.Lock{Owner: owner, ExpiresAtMs: exp}
		encoded, err := job.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("pebblebroker: claim %s: %w", jobID, err)
		}

		if err := batch.Delete(it.Key(), nil); err != nil {
			return nil, err
		}
		if err := batch.Set(lockKey(queue, exp, jobID), seqValue(rec.Seq), nil); err != nil {
			return nil, err
		}
		if err := batch.Set(jobKey(queue, jobID), encoded, nil); err != nil {
			return nil, err
		}
		claimed = append(claimed, rec.Clone())
	}

	if batch.Len() == 0 {
		return nil, nil
	}
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("pebblebroker: claim commit: %w", err)
	}
	return claimed, nil
}

// Renew extends the locks owner holds on the given jobs. Jobs whose lock has
// been reclaimed (or is held by someone else) return ErrLockLost.
func (b *Broker) Renew(ctx context.Context, queue, owner string, ids []string, lock time.Duration) error {
	if lock <= 0 {
		lock = 30 * time.Second
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowMs()
	exp := now + lock.Milliseconds()

	batch := b.db.NewBatch()
	defer batch.Close()

	for _, jobID := range ids {
		rec, err := b.loadJob(queue, jobID)
		if err != nil {
			return err
		}
		if rec.State != job.StateActive || rec.Lock == nil || rec.Lock.Owner != owner {
			return fmt.Errorf("%w: job %s", broker.ErrLockLost, jobID)
		}

		if err := batch.Delete(lockKey(queue, rec.Lock.ExpiresAtMs, jobID), nil); err != nil {
			return err
		}
		rec.Lock.ExpiresAtMs = exp
		encoded, err := job.Encode(rec)
		if err != nil {
			return fmt.Errorf("pebblebroker: renew %s: %w", jobID, err)
		}
		if err := batch.Set(lockKey(queue, exp, jobID), seqValue(rec.Seq), nil); err != nil {
			return err
		}
		if err := batch.Set(jobKey(queue, jobID), encoded, nil); err != nil {
			return err
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return b.db.CommitBatch(ctx, batch)
}

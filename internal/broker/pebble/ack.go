package pebblebroker

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	pebblestore "github.com/rvallejo/forq/internal/storage/pebble"
)

// checkedLoad loads an active job and verifies owner still holds its lock.
func (b *Broker) checkedLoad(queue, owner, jobID string) (*job.Job, error) {
	rec, err := b.loadJob(queue, jobID)
	if err != nil {
		return nil, err
	}
	if rec.State != job.StateActive || rec.Lock == nil || rec.Lock.Owner != owner {
		return nil, fmt.Errorf("%w: job %s", broker.ErrLockLost, jobID)
	}
	return rec, nil
}

// Complete acknowledges a successful run. The record moves into the
// completed retention buffer, or is purged outright when the job asked for
// RemoveOnComplete.
func (b *Broker) Complete(ctx context.Context, queue, owner, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.checkedLoad(queue, owner, jobID)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(lockKey(queue, rec.Lock.ExpiresAtMs, jobID), nil); err != nil {
		return err
	}
	if err := batch.Delete(jobKey(queue, jobID), nil); err != nil {
		return err
	}

	if !rec.RemoveOnComplete {
		rec.State = job.StateCompleted
		rec.CompletedAtMs = b.nowMs()
		rec.Lock = nil
		if err := b.appendBuffer(batch, queue, rec, doneKey, doneMetaKey(queue), b.opts.MaxDoneRecords); err != nil {
			return err
		}
	}
	return b.db.CommitBatch(ctx, batch)
}

// Fail records a failed run. Retryable failures with budget left schedule a
// backoff retry; terminal failures (caller-flagged or exhausted budget) move
// into the dead retention buffer unless the job asked for RemoveOnFail.
func (b *Broker) Fail(ctx context.Context, queue, owner, jobID, cause string, terminal bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.checkedLoad(queue, owner, jobID)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(lockKey(queue, rec.Lock.ExpiresAtMs, jobID), nil); err != nil {
		return err
	}
	rec.Lock = nil
	rec.LastError = cause

	if terminal || rec.AttemptsExhausted() {
		if err := b.buryJob(batch, queue, rec); err != nil {
			return err
		}
		return b.db.CommitBatch(ctx, batch)
	}

	// Retryable: park in the delay index until the backoff elapses.
	now := b.nowMs()
	rec.State = job.StateRetryable
	rec.NotBeforeMs = now + rec.Backoff.Delay(rec.Attempt).Milliseconds()
	encoded, err := job.Encode(rec)
	if err != nil {
		return fmt.Errorf("pebblebroker: fail %s: %w", jobID, err)
	}
	if err := batch.Set(delayKey(queue, rec.NotBeforeMs, jobID), delayValue(rec.Seq, flagDelayedRetryable), nil); err != nil {
		return err
	}
	if err := batch.Set(jobKey(queue, jobID), encoded, nil); err != nil {
		return err
	}
	return b.db.CommitBatch(ctx, batch)
}

// buryJob stages a terminal failure: the live record goes away and, unless
// the job opted out, an archived copy lands in the dead buffer.
func (b *Broker) buryJob(batch *pebble.Batch, queue string, rec *job.Job) error {
	if err := batch.Delete(jobKey(queue, rec.ID), nil); err != nil {
		return err
	}
	if rec.RemoveOnFail {
		return nil
	}
	rec.State = job.StateTerminal
	rec.CompletedAtMs = b.nowMs()
	return b.appendBuffer(batch, queue, rec, deadKey, deadMetaKey(queue), b.opts.MaxDeadRecords)
}

// appendBuffer stages rec into a bounded retention buffer, trimming the
// oldest entry once the buffer is at capacity.
func (b *Broker) appendBuffer(batch *pebble.Batch, queue string, rec *job.Job, key func(string, uint64) []byte, metaK []byte, max int) error {
	var firstSeq uint64
	var count uint32
	if raw, err := b.db.Get(metaK); err == nil {
		firstSeq, count = parseBufferMeta(raw)
	} else if !pebblestore.IsNotFound(err) {
		return err
	}

	encoded, err := job.Encode(rec)
	if err != nil {
		return fmt.Errorf("pebblebroker: archive %s: %w", rec.ID, err)
	}
	next := firstSeq + uint64(count)
	if err := batch.Set(key(queue, next), encoded, nil); err != nil {
		return err
	}
	if int(count) >= max {
		if err := batch.Delete(key(queue, firstSeq), nil); err != nil {
			return err
		}
		firstSeq++
	} else {
		count++
	}
	return batch.Set(metaK, bufferMeta(firstSeq, count), nil)
}

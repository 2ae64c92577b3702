package pebblebroker

import (
	"context"
	"fmt"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
)

// ReclaimStalled sweeps expired locks. Stalled jobs with attempt budget left
// return to the front of the waiting set keeping the attempt their failed
// claim already charged; exhausted jobs go terminal. The scan stops at the
// first unexpired lock, so its cost tracks the number of stalls, not the
// number of active jobs.
func (b *Broker) ReclaimStalled(ctx context.Context, queue string, limit int) ([]broker.Stalled, error) {
	if limit <= 0 {
		limit = 128
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowMs()

	lo, hi := keyRange(queuePrefix(queue) + suffixLock)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return nil, fmt.Errorf("pebblebroker: reclaim: %w", err)
	}
	defer it.Close()

	batch := b.db.NewBatch()
	defer batch.Close()

	var stalled []broker.Stalled
	for ok := it.First(); ok && len(stalled) < limit; ok = it.Next() {
		exp, jobID, okKey := timedKeyParts(it.Key(), len(lo))
		if !okKey {
			continue
		}
		if exp > now {
			break
		}
		if err := batch.Delete(it.Key(), nil); err != nil {
			return nil, err
		}

		rec, err := b.loadJob(queue, jobID)
		if err != nil {
			// Lock entry outliving its record; the delete above cleans it up.
			continue
		}
		if rec.State != job.StateActive || rec.Lock == nil || rec.Lock.ExpiresAtMs != exp {
			// Renewed or already acked under a newer lock entry.
			continue
		}

		rec.Lock = nil
		if rec.AttemptsExhausted() {
			rec.LastError = "lock expired"
			if err := b.buryJob(batch, queue, rec); err != nil {
				return nil, err
			}
			stalled = append(stalled, broker.Stalled{JobID: jobID, Attempt: rec.Attempt, Terminal: true})
			continue
		}

		rec.State = job.StateWaiting
		rec.NotBeforeMs = 0
		encoded, err := job.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("pebblebroker: reclaim %s: %w", jobID, err)
		}
		// Original sequence puts the job back at its FIFO position.
		if err := batch.Set(readyKey(queue, rec.Seq), []byte(jobID), nil); err != nil {
			return nil, err
		}
		if err := batch.Set(jobKey(queue, jobID), encoded, nil); err != nil {
			return nil, err
		}
		stalled = append(stalled, broker.Stalled{JobID: jobID, Attempt: rec.Attempt, Terminal: false})
	}

	if batch.Len() == 0 {
		return nil, nil
	}
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("pebblebroker: reclaim commit: %w", err)
	}
	return stalled, nil
}

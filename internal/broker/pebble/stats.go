package pebblebroker

import (
	"context"
	"fmt"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	pebblestore "github.com/rvallejo/forq/internal/storage/pebble"
)

// countPrefix returns the number of keys under a prefix.
func (b *Broker) countPrefix(prefix string) (int, error) {
	lo, hi := keyRange(prefix)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, nil
}

// bufferCount reads a retention-buffer meta record. Missing meta means empty.
func (b *Broker) bufferCount(metaK []byte) (int, error) {
	raw, err := b.db.Get(metaK)
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	_, count := parseBufferMeta(raw)
	return int(count), nil
}

// Counts reports a per-state snapshot for the queue. Delayed entries split by
// their flag: initial delays count as waiting, backoff parks as retryable.
func (b *Broker) Counts(ctx context.Context, queue string) (broker.Counts, error) {
	var c broker.Counts

	ready, err := b.countPrefix(queuePrefix(queue) + suffixReady)
	if err != nil {
		return c, fmt.Errorf("pebblebroker: counts: %w", err)
	}
	c.Waiting = ready

	lo, hi := keyRange(queuePrefix(queue) + suffixDelay)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return c, fmt.Errorf("pebblebroker: counts: %w", err)
	}
	for ok := it.First(); ok; ok = it.Next() {
		if _, flag, okVal := parseDelayValue(it.Value()); okVal && flag == flagDelayedRetryable {
			c.Retryable++
		} else {
			c.Waiting++
		}
	}
	if err := it.Close(); err != nil {
		return c, err
	}

	if c.Active, err = b.countPrefix(queuePrefix(queue) + suffixLock); err != nil {
		return c, fmt.Errorf("pebblebroker: counts: %w", err)
	}
	if c.Completed, err = b.bufferCount(doneMetaKey(queue)); err != nil {
		return c, fmt.Errorf("pebblebroker: counts: %w", err)
	}
	if c.Terminal, err = b.bufferCount(deadMetaKey(queue)); err != nil {
		return c, fmt.Errorf("pebblebroker: counts: %w", err)
	}

	if age, err := b.oldestWaitingAge(queue); err == nil {
		c.OldestWaitingAgeMs = age
	} else {
		return c, fmt.Errorf("pebblebroker: counts: %w", err)
	}
	return c, nil
}

// oldestWaitingAge reports how long the head of the ready index has waited.
func (b *Broker) oldestWaitingAge(queue string) (int64, error) {
	lo, hi := keyRange(queuePrefix(queue) + suffixReady)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	if !it.First() {
		return 0, nil
	}
	rec, err := b.loadJob(queue, string(it.Value()))
	if err != nil {
		return 0, nil
	}
	age := b.nowMs() - rec.EnqueuedAtMs
	if age < 0 {
		age = 0
	}
	return age, nil
}

// Jobs lists snapshots in the given state, oldest first. An empty state lists
// every live record in id order.
func (b *Broker) Jobs(ctx context.Context, queue string, state job.State, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	switch state {
	case "":
		return b.liveJobs(queue, "", limit)
	case job.StateWaiting:
		out, err := b.readyJobs(queue, limit)
		if err != nil {
			return nil, err
		}
		if len(out) < limit {
			delayed, err := b.delayedJobs(queue, flagDelayedWaiting, limit-len(out))
			if err != nil {
				return nil, err
			}
			out = append(out, delayed...)
		}
		return out, nil
	case job.StateRetryable:
		return b.delayedJobs(queue, flagDelayedRetryable, limit)
	case job.StateActive:
		return b.liveJobs(queue, job.StateActive, limit)
	case job.StateCompleted:
		return b.bufferJobs(queue, suffixDone, limit)
	case job.StateTerminal:
		return b.bufferJobs(queue, suffixDead, limit)
	default:
		return nil, fmt.Errorf("pebblebroker: unknown state %q", state)
	}
}

// readyJobs walks the ready index in FIFO order.
func (b *Broker) readyJobs(queue string, limit int) ([]*job.Job, error) {
	lo, hi := keyRange(queuePrefix(queue) + suffixReady)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*job.Job
	for ok := it.First(); ok && len(out) < limit; ok = it.Next() {
		rec, err := b.loadJob(queue, string(it.Value()))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// delayedJobs walks the delay index soonest-first, filtered by flag.
func (b *Broker) delayedJobs(queue string, flag byte, limit int) ([]*job.Job, error) {
	lo, hi := keyRange(queuePrefix(queue) + suffixDelay)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*job.Job
	for ok := it.First(); ok && len(out) < limit; ok = it.Next() {
		if _, f, okVal := parseDelayValue(it.Value()); !okVal || f != flag {
			continue
		}
		_, jobID, okKey := timedKeyParts(it.Key(), len(lo))
		if !okKey {
			continue
		}
		rec, err := b.loadJob(queue, jobID)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// liveJobs scans the record prefix, optionally filtered by state.
func (b *Broker) liveJobs(queue string, state job.State, limit int) ([]*job.Job, error) {
	lo, hi := keyRange(queuePrefix(queue) + suffixJob)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*job.Job
	for ok := it.First(); ok && len(out) < limit; ok = it.Next() {
		rec, err := job.Decode(it.Value())
		if err != nil {
			continue
		}
		if state != "" && rec.State != state {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// bufferJobs walks a retention buffer oldest-first.
func (b *Broker) bufferJobs(queue, suffix string, limit int) ([]*job.Job, error) {
	lo, hi := keyRange(queuePrefix(queue) + suffix)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*job.Job
	for ok := it.First(); ok && len(out) < limit; ok = it.Next() {
		rec, err := job.Decode(it.Value())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

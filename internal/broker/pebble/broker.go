package pebblebroker

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	pebblestore "github.com/rvallejo/forq/internal/storage/pebble"
	"github.com/rvallejo/forq/pkg/id"
)

// Options tunes the embedded broker.
type Options struct {
	// MaxDoneRecords bounds the completed-record retention buffer per queue.
	// Oldest entries are trimmed past the cap. Default 1024.
	MaxDoneRecords int
	// MaxDeadRecords bounds the failed-terminal retention buffer. Default 1024.
	MaxDeadRecords int
}

// Broker implements the broker contract on an embedded Pebble store.
type Broker struct {
	db   *pebblestore.DB
	opts Options
	gen  *id.Generator

	// nowMs is swappable so tests can drive lock expiry deterministically.
	nowMs func() int64

	// mu serializes every mutating path. The index scans, record rewrites,
	// and retention-buffer meta updates are read-modify-write sequences that
	// are not atomic on their own; handler goroutines ack concurrently.
	mu   sync.Mutex
	seqs map[string]uint64 // lastSeq per queue, restored from meta
}

var _ broker.Broker = (*Broker)(nil)

// New wraps an open Pebble store. The broker takes ownership of db and
// closes it on Close.
func New(db *pebblestore.DB, opts Options) *Broker {
	if opts.MaxDoneRecords <= 0 {
		opts.MaxDoneRecords = 1024
	}
	if opts.MaxDeadRecords <= 0 {
		opts.MaxDeadRecords = 1024
	}
	return &Broker{
		db:    db,
		opts:  opts,
		gen:   id.NewGenerator(),
		nowMs: func() int64 { return time.Now().UnixMilli() },
		seqs:  make(map[string]uint64),
	}
}

// EnsureQueue registers the queue stream, idempotently. Safe to call
// concurrently; the registry write is a fixed key so duplicates collapse.
func (b *Broker) EnsureQueue(ctx context.Context, queue string) error {
	if queue == "" {
		return fmt.Errorf("pebblebroker: queue name required")
	}
	if _, err := b.db.Get(registryKey(queue)); err == nil {
		return nil
	} else if !pebblestore.IsNotFound(err) {
		return fmt.Errorf("pebblebroker: ensure queue: %w", err)
	}
	var created [8]byte
	binary.BigEndian.PutUint64(created[:], uint64(b.nowMs()))
	if err := b.db.Set(registryKey(queue), created[:]); err != nil {
		return fmt.Errorf("pebblebroker: ensure queue: %w", err)
	}
	return nil
}

// Queues lists registered queue names in lexical order.
func (b *Broker) Queues(ctx context.Context) ([]string, error) {
	lo, hi := keyRange(prefixRegistry)
	it, err := b.db.NewIter(iterBounds(lo, hi))
	if err != nil {
		return nil, fmt.Errorf("pebblebroker: list queues: %w", err)
	}
	defer it.Close()

	var names []string
	for ok := it.First(); ok; ok = it.Next() {
		names = append(names, string(it.Key()[len(prefixRegistry):]))
	}
	return names, nil
}

// Enqueue appends a waiting job, honoring caller-supplied dedup ids and
// initial delays. Returns the assigned id once the write is committed.
func (b *Broker) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	if err := b.EnsureQueue(ctx, j.Queue); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if j.ID != "" {
		if _, err := b.db.Get(jobKey(j.Queue, j.ID)); err == nil {
			// Dedup hit: the id already names a persisted job.
			return j.ID, nil
		} else if !pebblestore.IsNotFound(err) {
			return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
		}
	}

	seq, err := b.nextSeq(j.Queue)
	if err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}

	now := b.nowMs()
	rec := j.Clone()
	rec.Seq = seq
	rec.State = job.StateWaiting
	rec.EnqueuedAtMs = now
	if rec.ID == "" {
		rec.ID = b.gen.Next().String()
	}

	if rec.DelayMs > 0 {
		rec.NotBeforeMs = now + rec.DelayMs
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if rec.NotBeforeMs > now {
		if err := batch.Set(delayKey(j.Queue, rec.NotBeforeMs, rec.ID), delayValue(seq, flagDelayedWaiting), nil); err != nil {
			return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
		}
	} else {
		rec.NotBeforeMs = 0
		if err := batch.Set(readyKey(j.Queue, seq), []byte(rec.ID), nil); err != nil {
			return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
		}
	}

	encoded, err := job.Encode(rec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}
	if err := batch.Set(jobKey(j.Queue, rec.ID), encoded, nil); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := batch.Set(metaKey(j.Queue), meta[:], nil); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}

	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}
	return rec.ID, nil
}

// nextSeq returns the next FIFO sequence for a queue, restoring the high
// water mark from meta on first touch. Caller holds b.mu.
func (b *Broker) nextSeq(queue string) (uint64, error) {
	last, ok := b.seqs[queue]
	if !ok {
		if meta, err := b.db.Get(metaKey(queue)); err == nil && len(meta) >= 8 {
			last = binary.BigEndian.Uint64(meta[:8])
		} else if err != nil && !pebblestore.IsNotFound(err) {
			return 0, err
		}
	}
	last++
	b.seqs[queue] = last
	return last, nil
}

// Ping verifies the store is usable.
func (b *Broker) Ping(ctx context.Context) error {
	it, err := b.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrConnection, err)
	}
	return it.Close()
}

// Close closes the underlying store.
func (b *Broker) Close() error {
	return b.db.Close()
}

func iterBounds(lo, hi []byte) *pebble.IterOptions {
	return &pebble.IterOptions{LowerBound: lo, UpperBound: hi}
}

// loadJob reads and decodes a job record, mapping missing keys to ErrNotFound.
func (b *Broker) loadJob(queue, jobID string) (*job.Job, error) {
	raw, err := b.db.Get(jobKey(queue, jobID))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, broker.ErrNotFound
		}
		return nil, fmt.Errorf("pebblebroker: load job: %w", err)
	}
	j, err := job.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("pebblebroker: load job %s: %w", jobID, err)
	}
	return j, nil
}

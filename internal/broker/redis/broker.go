package redisbroker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	"github.com/rvallejo/forq/pkg/id"
)

const keyPrefix = "forq:"

// Options configures the Redis-backed broker.
type Options struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password authenticates against a protected server. Optional.
	Password string
	// DB selects the logical database.
	DB int
	// MaxDoneRecords caps the completed-record list per queue. Default 1024.
	MaxDoneRecords int
	// MaxDeadRecords caps the failed-terminal list per queue. Default 1024.
	MaxDeadRecords int
}

// Broker implements the broker contract against a Redis server.
type Broker struct {
	client *redis.Client
	opts   Options
	gen    *id.Generator

	// nowMs is swappable so tests can drive lock expiry deterministically.
	nowMs func() int64
}

var _ broker.Broker = (*Broker)(nil)

// Dial connects to Redis and verifies the server responds before returning.
func Dial(ctx context.Context, opts Options) (*Broker, error) {
	if opts.MaxDoneRecords <= 0 {
		opts.MaxDoneRecords = 1024
	}
	if opts.MaxDeadRecords <= 0 {
		opts.MaxDeadRecords = 1024
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", broker.ErrConnection, opts.Addr, err)
	}
	return &Broker{
		client: client,
		opts:   opts,
		gen:    id.NewGenerator(),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func registryKey() string { return keyPrefix + "queues" }

func seqKey(queue string) string { return keyPrefix + "q:" + queue + ":seq" }

func seqsKey(queue string) string { return keyPrefix + "q:" + queue + ":seqs" }

func readyKey(queue string) string { return keyPrefix + "q:" + queue + ":ready" }

func delayKey(queue string) string { return keyPrefix + "q:" + queue + ":delay" }

func retryKey(queue string) string { return keyPrefix + "q:" + queue + ":retry" }

func lockKey(queue string) string { return keyPrefix + "q:" + queue + ":lock" }

func doneKey(queue string) string { return keyPrefix + "q:" + queue + ":done" }

func deadKey(queue string) string { return keyPrefix + "q:" + queue + ":dead" }

func jobKey(queue, id string) string {
	return keyPrefix + "q:" + queue + ":job:" + id
}

// EnsureQueue registers the queue name, idempotently.
func (b *Broker) EnsureQueue(ctx context.Context, queue string) error {
	if queue == "" {
		return fmt.Errorf("redisbroker: queue name required")
	}
	return b.client.SAdd(ctx, registryKey(), queue).Err()
}

// Queues lists registered queue names in lexical order.
func (b *Broker) Queues(ctx context.Context) ([]string, error) {
	names, err := b.client.SMembers(ctx, registryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbroker: list queues: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Enqueue appends a waiting job, honoring dedup ids and initial delays.
func (b *Broker) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	if err := b.EnsureQueue(ctx, j.Queue); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}

	if j.ID != "" {
		n, err := b.client.Exists(ctx, jobKey(j.Queue, j.ID)).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
		}
		if n > 0 {
			return j.ID, nil
		}
	}

	seq, err := b.client.Incr(ctx, seqKey(j.Queue)).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}

	now := b.nowMs()
	rec := j.Clone()
	rec.Seq = uint64(seq)
	rec.State = job.StateWaiting
	rec.EnqueuedAtMs = now
	if rec.ID == "" {
		rec.ID = b.gen.Next().String()
	}
	if rec.DelayMs > 0 {
		rec.NotBeforeMs = now + rec.DelayMs
	}

	encoded, err := job.Encode(rec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, jobKey(j.Queue, rec.ID), encoded, 0)
	pipe.HSet(ctx, seqsKey(j.Queue), rec.ID, seq)
	if rec.NotBeforeMs > now {
		pipe.ZAdd(ctx, delayKey(j.Queue), redis.Z{Score: float64(rec.NotBeforeMs), Member: rec.ID})
	} else {
		pipe.ZAdd(ctx, readyKey(j.Queue), redis.Z{Score: float64(seq), Member: rec.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrEnqueue, err)
	}
	return rec.ID, nil
}

// loadJob reads and decodes a record, mapping missing keys to ErrNotFound.
func (b *Broker) loadJob(ctx context.Context, queue, jobID string) (*job.Job, error) {
	raw, err := b.client.Get(ctx, jobKey(queue, jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, broker.ErrNotFound
		}
		return nil, fmt.Errorf("redisbroker: load job: %w", err)
	}
	rec, err := job.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("redisbroker: load job %s: %w", jobID, err)
	}
	return rec, nil
}

// storeJob writes a record back.
func (b *Broker) storeJob(ctx context.Context, rec *job.Job) error {
	encoded, err := job.Encode(rec)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, jobKey(rec.Queue, rec.ID), encoded, 0).Err()
}

// Ping verifies the server responds.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrConnection, err)
	}
	return nil
}

// Close releases the client connection pool.
func (b *Broker) Close() error {
	return b.client.Close()
}

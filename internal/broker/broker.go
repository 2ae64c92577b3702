package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rvallejo/forq/internal/job"
)

// Broker error taxonomy. Connection failures are retried at acquisition;
// enqueue rejections surface directly to producers.
var (
	// ErrConnection means the broker was unreachable after the retry budget.
	ErrConnection = errors.New("broker: unreachable")
	// ErrEnqueue means the broker rejected a write; the job is not guaranteed
	// persisted and the producer may retry.
	ErrEnqueue = errors.New("broker: enqueue rejected")
	// ErrNotFound means the referenced job does not exist (purged or never written).
	ErrNotFound = errors.New("broker: job not found")
	// ErrLockLost means the caller no longer holds the claim, typically because
	// the lock expired and stall recovery handed the job to someone else.
	ErrLockLost = errors.New("broker: lock not held")
	// ErrClosed means the handle was released.
	ErrClosed = errors.New("broker: closed")
)

// Counts is a per-queue snapshot of job states.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Retryable int `json:"failed_retryable"`
	Terminal  int `json:"failed_terminal"`

	// OldestWaitingAgeMs is the age of the oldest waiting job, 0 when none wait.
	OldestWaitingAgeMs int64 `json:"oldest_waiting_age_ms"`
}

// Stalled describes one job recovered by a stall scan.
type Stalled struct {
	JobID    string
	Attempt  int
	Terminal bool // attempts exhausted during recovery
}

// Broker is the durable store coordinating job persistence and exclusive
// claims. Implementations must make every mutation atomic: two workers can
// never both hold an unexpired claim on the same job.
type Broker interface {
	// EnsureQueue registers a queue stream, idempotently and concurrency-safe.
	EnsureQueue(ctx context.Context, queue string) error

	// Queues lists registered queue names.
	Queues(ctx context.Context) ([]string, error)

	// Enqueue appends a waiting job and returns its assigned id once the write
	// is acknowledged. When the job carries a caller-supplied id that already
	// exists, the existing id is returned and nothing is written.
	Enqueue(ctx context.Context, j *job.Job) (string, error)

	// Claim atomically moves up to limit eligible waiting jobs to active in
	// FIFO order, assigning owner a lock that expires after lock. Claiming
	// increments each job's attempt count.
	Claim(ctx context.Context, queue, owner string, limit int, lock time.Duration) ([]*job.Job, error)

	// Renew extends the locks owner holds on the given jobs.
	Renew(ctx context.Context, queue, owner string, ids []string, lock time.Duration) error

	// Complete marks an active job completed (or purges it when RemoveOnComplete).
	Complete(ctx context.Context, queue, owner, id string) error

	// Fail records a handler failure. terminal forces failed-terminal; otherwise
	// the broker schedules a backoff re-entry to waiting, or goes terminal when
	// attempts are exhausted.
	Fail(ctx context.Context, queue, owner, id, cause string, terminal bool) error

	// ReclaimStalled returns jobs whose locks expired without an ack to waiting
	// (attempt count already charged by the claim), or to failed-terminal when
	// the budget is spent.
	ReclaimStalled(ctx context.Context, queue string, limit int) ([]Stalled, error)

	// Counts reports a per-state snapshot for the monitoring facade.
	Counts(ctx context.Context, queue string) (Counts, error)

	// Jobs lists job snapshots in the given state, oldest first.
	Jobs(ctx context.Context, queue string, state job.State, limit int) ([]*job.Job, error)

	// Ping verifies liveness.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

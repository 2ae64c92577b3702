package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State is the lifecycle state of a job record.
type State string

// Job states
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateRetryable State = "failed-retryable"
	StateTerminal  State = "failed-terminal"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateCompleted, StateRetryable, StateTerminal:
		return true
	}
	return false
}

// Final reports whether s is a terminal state.
func (s State) Final() bool { return s == StateCompleted || s == StateTerminal }

// DefaultMaxAttempts applies when enqueue options leave MaxAttempts unset.
const DefaultMaxAttempts = 3

// Lock records exclusive, time-bounded ownership of an active job.
type Lock struct {
	Owner       string `json:"owner"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

// Options carries the per-job knobs recognized at enqueue time.
type Options struct {
	// ID is an optional caller-supplied dedup key. When set, a second enqueue
	// with the same ID is a no-op returning the existing job.
	ID string `json:"id,omitempty"`
	// MaxAttempts caps claims before the job goes failed-terminal. Min 1.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// Backoff is the delay policy between retryable failures.
	Backoff Backoff `json:"backoff,omitempty"`
	// DelayMs holds the job out of the waiting set until enqueue+delay.
	DelayMs int64 `json:"delay_ms,omitempty"`
	// RemoveOnComplete purges the record instead of archiving it on success.
	RemoveOnComplete bool `json:"remove_on_complete,omitempty"`
	// RemoveOnFail purges the record when it reaches failed-terminal.
	RemoveOnFail bool `json:"remove_on_fail,omitempty"`
}

// Normalize fills defaults and validates the options.
func (o *Options) Normalize() error {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("job: max_attempts must be >= 1, got %d", o.MaxAttempts)
	}
	if o.DelayMs < 0 {
		return fmt.Errorf("job: delay_ms must be >= 0, got %d", o.DelayMs)
	}
	return o.Backoff.normalize()
}

// Job is the unit of work. The broker is the source of truth for every field;
// in-process copies are snapshots.
type Job struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"-"`

	State       State `json:"state"`
	Attempt     int   `json:"attempt"`
	MaxAttempts int   `json:"max_attempts"`

	Backoff          Backoff `json:"backoff"`
	RemoveOnComplete bool    `json:"remove_on_complete,omitempty"`
	RemoveOnFail     bool    `json:"remove_on_fail,omitempty"`

	EnqueuedAtMs  int64 `json:"enqueued_at_ms"`
	NotBeforeMs   int64 `json:"not_before_ms,omitempty"`
	CompletedAtMs int64 `json:"completed_at_ms,omitempty"`

	Lock      *Lock  `json:"lock,omitempty"`
	LastError string `json:"last_error,omitempty"`

	// Seq is the broker-assigned FIFO position within the queue.
	Seq uint64 `json:"seq,omitempty"`

	// DelayMs is the requested initial delay, consumed by the broker at
	// enqueue time to compute NotBeforeMs. Not persisted.
	DelayMs int64 `json:"-"`
}

// New builds a waiting job from a name, payload, and normalized options.
func New(queue, name string, payload json.RawMessage, opts Options) (*Job, error) {
	if queue == "" {
		return nil, errors.New("job: queue name required")
	}
	if name == "" {
		return nil, errors.New("job: job name required")
	}
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	return &Job{
		ID:               opts.ID,
		Name:             name,
		Queue:            queue,
		Payload:          payload,
		State:            StateWaiting,
		MaxAttempts:      opts.MaxAttempts,
		Backoff:          opts.Backoff,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		DelayMs:          opts.DelayMs,
	}, nil
}

// AttemptsExhausted reports whether the job has consumed its attempt budget.
func (j *Job) AttemptsExhausted() bool { return j.Attempt >= j.MaxAttempts }

// LockExpired reports whether the job's claim has lapsed at nowMs. Jobs
// without a lock are never considered expired.
func (j *Job) LockExpired(nowMs int64) bool {
	return j.Lock != nil && j.Lock.ExpiresAtMs <= nowMs
}

// Clone returns a deep copy safe to hand across goroutines.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Lock != nil {
		l := *j.Lock
		cp.Lock = &l
	}
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return &cp
}

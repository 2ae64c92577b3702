package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	"github.com/rvallejo/forq/pkg/log"
)

// QueueStats is one queue's count snapshot.
type QueueStats struct {
	Queue  string        `json:"queue"`
	Counts broker.Counts `json:"counts"`
}

// JobView is the externally visible job snapshot.
type JobView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Queue         string          `json:"queue"`
	State         job.State       `json:"state"`
	Attempt       int             `json:"attempt"`
	MaxAttempts   int             `json:"max_attempts"`
	EnqueuedAtMs  int64           `json:"enqueued_at_ms"`
	NotBeforeMs   int64           `json:"not_before_ms,omitempty"`
	CompletedAtMs int64           `json:"completed_at_ms,omitempty"`
	LockOwner     string          `json:"lock_owner,omitempty"`
	LockExpiresMs int64           `json:"lock_expires_at_ms,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Monitor serves read-only views over the broker.
type Monitor struct {
	manager *broker.Manager
	logger  log.Logger
	nowMs   func() int64
}

// New builds a monitor over the shared broker handle.
func New(manager *broker.Manager, logger log.Logger) *Monitor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Monitor{
		manager: manager,
		logger:  logger.With(log.Component("monitor")),
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Queues lists registered queue names.
func (m *Monitor) Queues(ctx context.Context) ([]string, error) {
	b, err := m.manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return b.Queues(ctx)
}

// Stats snapshots per-state counts for one queue.
func (m *Monitor) Stats(ctx context.Context, queue string) (QueueStats, error) {
	b, err := m.manager.Acquire(ctx)
	if err != nil {
		return QueueStats{Queue: queue}, err
	}
	counts, err := b.Counts(ctx, queue)
	if err != nil {
		return QueueStats{Queue: queue}, err
	}
	return QueueStats{Queue: queue, Counts: counts}, nil
}

// StatsAll snapshots every registered queue. Queues that fail to read are
// logged and skipped so one bad queue does not blank the whole dashboard.
func (m *Monitor) StatsAll(ctx context.Context) ([]QueueStats, error) {
	names, err := m.Queues(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]QueueStats, 0, len(names))
	for _, q := range names {
		s, err := m.Stats(ctx, q)
		if err != nil {
			m.logger.Warn("stats read failed", log.Str("queue", q), log.Err(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// ListJobs returns job snapshots in state (empty for all live records),
// optionally narrowed by a CEL filter expression over id, name, state,
// attempt, age_ms, last_error, and the parsed payload.
func (m *Monitor) ListJobs(ctx context.Context, queue string, state job.State, filterExpr string, limit int) ([]JobView, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	filter, err := newCELFilter(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("monitor: bad filter: %w", err)
	}

	b, err := m.manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := b.Jobs(ctx, queue, state, limit)
	if err != nil {
		return nil, err
	}

	now := m.nowMs()
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		if !filter.Match(j, now) {
			continue
		}
		out = append(out, toView(j))
	}
	return out, nil
}

// Healthy reports broker liveness.
func (m *Monitor) Healthy(ctx context.Context) error {
	b, err := m.manager.Acquire(ctx)
	if err != nil {
		return err
	}
	return b.Ping(ctx)
}

func toView(j *job.Job) JobView {
	v := JobView{
		ID:            j.ID,
		Name:          j.Name,
		Queue:         j.Queue,
		State:         j.State,
		Attempt:       j.Attempt,
		MaxAttempts:   j.MaxAttempts,
		EnqueuedAtMs:  j.EnqueuedAtMs,
		NotBeforeMs:   j.NotBeforeMs,
		CompletedAtMs: j.CompletedAtMs,
		LastError:     j.LastError,
		Payload:       j.Payload,
	}
	if j.Lock != nil {
		v.LockOwner = j.Lock.Owner
		v.LockExpiresMs = j.Lock.ExpiresAtMs
	}
	return v
}

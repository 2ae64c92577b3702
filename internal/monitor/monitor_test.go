package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rvallejo/forq/internal/broker"
	pebblebroker "github.com/rvallejo/forq/internal/broker/pebble"
	"github.com/rvallejo/forq/internal/job"
	pebblestore "github.com/rvallejo/forq/internal/storage/pebble"
)

func newTestMonitor(t *testing.T) (*Monitor, broker.Broker) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	b := pebblebroker.New(db, pebblebroker.Options{})
	mgr := broker.NewManager(func(ctx context.Context) (broker.Broker, error) {
		return b, nil
	}, broker.ManagerOptions{})
	t.Cleanup(func() { mgr.Release() })
	return New(mgr, nil), b
}

func seed(t *testing.T, b broker.Broker, queue, name string, payload string, opts job.Options) string {
	t.Helper()
	j, err := job.New(queue, name, json.RawMessage(payload), opts)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	id, err := b.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func TestStatsAndQueues(t *testing.T) {
	m, b := newTestMonitor(t)
	ctx := context.Background()

	seed(t, b, "mail", "a", `{}`, job.Options{})
	seed(t, b, "mail", "b", `{}`, job.Options{})
	seed(t, b, "billing", "c", `{}`, job.Options{})

	qs, err := m.Queues(ctx)
	if err != nil {
		t.Fatalf("queues: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("queues = %v, want 2", qs)
	}

	s, err := m.Stats(ctx, "mail")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Counts.Waiting != 2 {
		t.Fatalf("mail waiting = %d, want 2", s.Counts.Waiting)
	}

	all, err := m.StatsAll(ctx)
	if err != nil {
		t.Fatalf("stats all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("stats all returned %d queues, want 2", len(all))
	}
}

func TestListJobsWithFilter(t *testing.T) {
	m, b := newTestMonitor(t)
	ctx := context.Background()

	seed(t, b, "mail", "welcome", `{"user":"ada"}`, job.Options{})
	seed(t, b, "mail", "welcome", `{"user":"bob"}`, job.Options{})
	seed(t, b, "mail", "digest", `{"user":"ada"}`, job.Options{})

	all, err := m.ListJobs(ctx, "mail", job.StateWaiting, "", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered listing = %d jobs, want 3", len(all))
	}

	named, err := m.ListJobs(ctx, "mail", job.StateWaiting, `name == "welcome"`, 100)
	if err != nil {
		t.Fatalf("list filtered by name: %v", err)
	}
	if len(named) != 2 {
		t.Fatalf("name filter matched %d jobs, want 2", len(named))
	}

	byPayload, err := m.ListJobs(ctx, "mail", job.StateWaiting, `payload.user == "ada"`, 100)
	if err != nil {
		t.Fatalf("list filtered by payload: %v", err)
	}
	if len(byPayload) != 2 {
		t.Fatalf("payload filter matched %d jobs, want 2", len(byPayload))
	}

	if _, err := m.ListJobs(ctx, "mail", job.StateWaiting, `name ==`, 100); err == nil {
		t.Fatal("malformed filter accepted")
	}
}

func TestListJobsActiveView(t *testing.T) {
	m, b := newTestMonitor(t)
	ctx := context.Background()

	seed(t, b, "mail", "busy", `{}`, job.Options{})
	if _, err := b.Claim(ctx, "mail", "w1", 1, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	active, err := m.ListJobs(ctx, "mail", job.StateActive, "", 100)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active listing = %d jobs, want 1", len(active))
	}
	if active[0].LockOwner != "w1" || active[0].Attempt != 1 {
		t.Fatalf("active view = %+v, want lock owner w1 attempt 1", active[0])
	}
}

func TestUnreachableBrokerDegrades(t *testing.T) {
	mgr := broker.NewManager(func(ctx context.Context) (broker.Broker, error) {
		return nil, errors.New("refused")
	}, broker.ManagerOptions{DialAttempts: 1, DialBackoff: time.Millisecond})
	m := New(mgr, nil)

	if _, err := m.Queues(context.Background()); !errors.Is(err, broker.ErrConnection) {
		t.Fatalf("queues err = %v, want ErrConnection", err)
	}
	if _, err := m.ListJobs(context.Background(), "mail", "", "", 10); !errors.Is(err, broker.ErrConnection) {
		t.Fatalf("list err = %v, want ErrConnection", err)
	}
	if err := m.Healthy(context.Background()); !errors.Is(err, broker.ErrConnection) {
		t.Fatalf("healthy err = %v, want ErrConnection", err)
	}
}

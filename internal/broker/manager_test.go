package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rvallejo/forq/internal/job"
)

// stubBroker implements Broker with no behavior; identity is what the
// manager tests care about.
type stubBroker struct {
	closed int
}

func (s *stubBroker) EnsureQueue(context.Context, string) error    { return nil }
func (s *stubBroker) Queues(context.Context) ([]string, error)     { return nil, nil }
func (s *stubBroker) Enqueue(context.Context, *job.Job) (string, error) {
	return "", nil
}
func (s *stubBroker) Claim(context.Context, string, string, int, time.Duration) ([]*job.Job, error) {
	return nil, nil
}
func (s *stubBroker) Renew(context.Context, string, string, []string, time.Duration) error {
	return nil
}
func (s *stubBroker) Complete(context.Context, string, string, string) error { return nil }
func (s *stubBroker) Fail(context.Context, string, string, string, string, bool) error {
	return nil
}
func (s *stubBroker) ReclaimStalled(context.Context, string, int) ([]Stalled, error) {
	return nil, nil
}
func (s *stubBroker) Counts(context.Context, string) (Counts, error) { return Counts{}, nil }
func (s *stubBroker) Jobs(context.Context, string, job.State, int) ([]*job.Job, error) {
	return nil, nil
}
func (s *stubBroker) Ping(context.Context) error { return nil }
func (s *stubBroker) Close() error {
	s.closed++
	return nil
}

func TestAcquireReturnsSameInstance(t *testing.T) {
	dials := 0
	m := NewManager(func(ctx context.Context) (Broker, error) {
		dials++
		return &stubBroker{}, nil
	}, ManagerOptions{})

	ctx := context.Background()
	a, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	b, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical instance from repeated Acquire")
	}
	if dials != 1 {
		t.Fatalf("expected a single dial, got %d", dials)
	}
}

func TestReleaseThenAcquireDialsFresh(t *testing.T) {
	dials := 0
	m := NewManager(func(ctx context.Context) (Broker, error) {
		dials++
		return &stubBroker{}, nil
	}, ManagerOptions{})

	ctx := context.Background()
	a, _ := m.Acquire(ctx)
	if err := m.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if a.(*stubBroker).closed != 1 {
		t.Fatalf("release must close the held broker")
	}
	b, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if a == b {
		t.Fatalf("expected a fresh instance after release")
	}
	if dials != 2 {
		t.Fatalf("expected two dials, got %d", dials)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(func(ctx context.Context) (Broker, error) {
		return &stubBroker{}, nil
	}, ManagerOptions{})
	if err := m.Release(); err != nil {
		t.Fatalf("release before acquire: %v", err)
	}
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
}

func TestAcquireRetriesThenFails(t *testing.T) {
	dials := 0
	boom := errors.New("boom")
	m := NewManager(func(ctx context.Context) (Broker, error) {
		dials++
		return nil, boom
	}, ManagerOptions{DialAttempts: 3, DialBackoff: time.Millisecond})

	_, err := m.Acquire(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if dials != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", dials)
	}

	// A later Acquire retries from scratch and can succeed.
	ok := NewManager(func(ctx context.Context) (Broker, error) {
		return &stubBroker{}, nil
	}, ManagerOptions{})
	if _, err := ok.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(func(ctx context.Context) (Broker, error) {
		return nil, errors.New("down")
	}, ManagerOptions{DialAttempts: 5, DialBackoff: 50 * time.Millisecond})

	start := time.Now()
	_, err := m.Acquire(ctx)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancelled acquire must return promptly")
	}
}

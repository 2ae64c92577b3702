package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rvallejo/forq/pkg/log"
)

// Dialer opens a concrete broker backend. Injected so the manager stays
// ignorant of which backend the config selected.
type Dialer func(ctx context.Context) (Broker, error)

// ManagerOptions tunes acquisition behavior.
type ManagerOptions struct {
	// DialAttempts bounds how many times Acquire tries the dialer before
	// giving up with ErrConnection. Default 5.
	DialAttempts int
	// DialBackoff is the wait between dial attempts, doubled each try. Default 250ms.
	DialBackoff time.Duration
	Logger      log.Logger
}

// Manager owns the single shared broker handle for a process. The link is
// created lazily on first Acquire so components can be constructed in any
// order before configuration is fully resolved.
type Manager struct {
	dial   Dialer
	opts   ManagerOptions
	logger log.Logger

	mu  sync.Mutex
	cur Broker
}

// NewManager creates a manager around the given dialer.
func NewManager(dial Dialer, opts ManagerOptions) *Manager {
	if opts.DialAttempts <= 0 {
		opts.DialAttempts = 5
	}
	if opts.DialBackoff <= 0 {
		opts.DialBackoff = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{dial: dial, opts: opts, logger: logger.With(log.Component("broker"))}
}

// Acquire returns the shared broker, dialing on first use. Subsequent calls
// return the same instance. Dial failures are retried with backoff up to the
// configured budget; exhausting it returns ErrConnection wrapped around the
// last dial error. A failed Acquire leaves the manager clean, so callers may
// retry later.
func (m *Manager) Acquire(ctx context.Context) (Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		return m.cur, nil
	}

	var lastErr error
	wait := m.opts.DialBackoff
	for attempt := 1; attempt <= m.opts.DialAttempts; attempt++ {
		b, err := m.dial(ctx)
		if err == nil {
			m.cur = b
			m.logger.Debug("broker link established", log.Int("attempt", attempt))
			return b, nil
		}
		lastErr = err
		m.logger.Warn("broker dial failed",
			log.Int("attempt", attempt),
			log.Int("budget", m.opts.DialAttempts),
			log.Err(err),
		)
		if attempt == m.opts.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, fmt.Errorf("%w: %v", ErrConnection, lastErr)
}

// Release closes the shared broker and clears the cached instance. Idempotent:
// calls after the first are no-ops. A later Acquire dials a fresh link.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		return nil
	}
	err := m.cur.Close()
	m.cur = nil
	if err != nil {
		return fmt.Errorf("broker: close: %w", err)
	}
	return nil
}

package worker

import (
	"context"
	"sync"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/pkg/log"
)

// Registry tracks one pool per queue. Start is idempotent per queue, so
// wiring code can register handlers unconditionally at boot.
type Registry struct {
	manager  *broker.Manager
	defaults Config
	logger   log.Logger
	sink     Sink

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewRegistry builds an empty registry. defaults seed every pool's config;
// per-queue registrations override only the fields they set. Events from
// every pool go to sink.
func NewRegistry(manager *broker.Manager, defaults Config, logger log.Logger, sink Sink) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		manager:  manager,
		defaults: defaults,
		logger:   logger,
		sink:     sink,
		pools:    make(map[string]*Pool),
	}
}

// Start registers handler for queue and launches its pool. A queue that is
// already running keeps its existing pool and handler.
func (r *Registry) Start(ctx context.Context, queue string, handler Handler, cfg Config) (*Pool, error) {
	r.mu.Lock()
	if p, ok := r.pools[queue]; ok {
		r.mu.Unlock()
		return p, p.Start(ctx)
	}
	p := NewPool(queue, handler, cfg.withDefaults(r.defaults), r.manager, r.logger, r.sink)
	r.pools[queue] = p
	r.mu.Unlock()

	if err := p.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.pools, queue)
		r.mu.Unlock()
		return nil, err
	}
	return p, nil
}

// Pool returns the running pool for queue, or nil.
func (r *Registry) Pool(queue string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pools[queue]
}

// Queues lists queues with registered pools.
func (r *Registry) Queues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pools))
	for q := range r.pools {
		out = append(out, q)
	}
	return out
}

// StopAll drains every pool. Safe to call more than once.
func (r *Registry) StopAll() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	"github.com/rvallejo/forq/pkg/log"
)

// Handler processes one job. A nil return acknowledges completion; an error
// schedules a retry unless wrapped by job.NonRetryable or the attempt budget
// is spent. The context is cancelled when the pool drains past its timeout.
type Handler func(ctx context.Context, j *job.Job) error

// Config tunes one pool. Zero values take defaults.
type Config struct {
	// Concurrency is the number of jobs processed at once. Default 1.
	Concurrency int
	// LockDuration is the claim lease; locks are renewed at half this
	// interval while the handler runs. Default 30s.
	LockDuration time.Duration
	// PollInterval is the wait between claim passes when the queue is idle.
	// Default 250ms.
	PollInterval time.Duration
	// StallInterval is the cadence of the expired-lock sweep. Default equals
	// LockDuration.
	StallInterval time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight handlers before
	// cancelling their contexts. Default 10s.
	DrainTimeout time.Duration
}

// withDefaults fills zero fields from d, so per-queue registrations only
// override what they set.
func (c Config) withDefaults(d Config) Config {
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.LockDuration <= 0 {
		c.LockDuration = d.LockDuration
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StallInterval <= 0 {
		c.StallInterval = d.StallInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

func (c *Config) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.StallInterval <= 0 {
		c.StallInterval = c.LockDuration
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
}

// Pool processes one queue with a bounded number of concurrent handlers.
type Pool struct {
	queue   string
	handler Handler
	cfg     Config
	manager *broker.Manager
	logger  log.Logger
	sink    Sink
	owner   string

	sem *semaphore.Weighted

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPool builds a pool for queue. Events go to sink when non-nil.
func NewPool(queue string, handler Handler, cfg Config, manager *broker.Manager, logger log.Logger, sink Sink) *Pool {
	cfg.normalize()
	if logger == nil {
		logger = log.NewNop()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Pool{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		manager: manager,
		logger:  logger.With(log.Component("worker"), log.Str("queue", queue)),
		sink:    sink,
		owner:   uuid.NewString(),
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Owner is the lock owner identity this pool claims under.
func (p *Pool) Owner() string { return p.owner }

// Config is the normalized configuration the pool runs with.
func (p *Pool) Config() Config { return p.cfg }

// Start launches the claim and stall loops. Idempotent: a running pool is
// left alone.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	b, err := p.manager.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("worker: start %s: %w", p.queue, err)
	}
	if err := b.EnsureQueue(ctx, p.queue); err != nil {
		return fmt.Errorf("worker: start %s: %w", p.queue, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	go p.run(runCtx, b)
	p.logger.Info("pool started",
		log.Int("concurrency", p.cfg.Concurrency),
		log.Dur("lock", p.cfg.LockDuration),
	)
	return nil
}

// Stop drains the pool: claiming halts immediately, in-flight handlers get
// DrainTimeout to finish, then their contexts are cancelled. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(p.cfg.DrainTimeout + p.cfg.PollInterval):
		p.logger.Warn("drain timed out with handlers still running")
	}
}

// run is the pool's main loop: claim when capacity allows, sweep stalls on a
// side ticker, drain on cancellation.
func (p *Pool) run(ctx context.Context, b broker.Broker) {
	defer close(p.done)

	var wg sync.WaitGroup
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())
	defer cancelHandlers()

	stallTicker := time.NewTicker(p.cfg.StallInterval)
	defer stallTicker.Stop()
	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain(&wg, cancelHandlers)
			return
		case <-stallTicker.C:
			p.sweepStalls(handlerCtx, b)
		case <-poll.C:
			p.claimAndRun(ctx, handlerCtx, b, &wg)
		}
	}
}

// claimAndRun claims up to the pool's free capacity and dispatches handlers.
func (p *Pool) claimAndRun(ctx, handlerCtx context.Context, b broker.Broker, wg *sync.WaitGroup) {
	free := 0
	for p.sem.TryAcquire(1) {
		free++
	}
	if free == 0 {
		return
	}

	claimed, err := b.Claim(ctx, p.queue, p.owner, free, p.cfg.LockDuration)
	if err != nil {
		p.sem.Release(int64(free))
		if ctx.Err() == nil {
			p.logger.Error("claim failed", log.Err(err))
		}
		return
	}
	if spare := free - len(claimed); spare > 0 {
		p.sem.Release(int64(spare))
	}

	for _, j := range claimed {
		p.emit(EventClaimed, j, "")
		wg.Add(1)
		go func(j *job.Job) {
			defer wg.Done()
			defer p.sem.Release(1)
			p.process(handlerCtx, b, j)
		}(j)
	}
}

// process runs the handler under lock renewal and acknowledges the outcome.
func (p *Pool) process(ctx context.Context, b broker.Broker, j *job.Job) {
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go p.renewLoop(renewCtx, b, j.ID)

	err := p.invoke(ctx, j)
	stopRenew()

	ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if ackErr := b.Complete(ackCtx, p.queue, p.owner, j.ID); ackErr != nil {
			if !errors.Is(ackErr, broker.ErrLockLost) {
				p.logger.Warn("complete ack failed", log.Str("job", j.ID), log.Err(ackErr))
			}
			p.emit(EventLost, j, ackErr.Error())
			return
		}
		p.emit(EventCompleted, j, "")
		return
	}

	terminal := job.IsNonRetryable(err)
	if ackErr := b.Fail(ackCtx, p.queue, p.owner, j.ID, err.Error(), terminal); ackErr != nil {
		if !errors.Is(ackErr, broker.ErrLockLost) {
			p.logger.Warn("fail ack failed", log.Str("job", j.ID), log.Err(ackErr))
		}
		p.emit(EventLost, j, ackErr.Error())
		return
	}
	if terminal || j.Attempt >= j.MaxAttempts {
		p.emit(EventFailed, j, err.Error())
		p.logger.Warn("job failed terminally",
			log.Str("job", j.ID),
			log.Int("attempt", j.Attempt),
			log.Err(err),
		)
		return
	}
	p.emit(EventRetried, j, err.Error())
	p.logger.Debug("job scheduled for retry",
		log.Str("job", j.ID),
		log.Int("attempt", j.Attempt),
		log.Err(err),
	)
}

// invoke runs the handler, converting panics into errors so one bad job
// cannot take the pool down.
func (p *Pool) invoke(ctx context.Context, j *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, j)
}

// renewLoop extends the job's lock at half the lock duration until cancelled.
func (p *Pool) renewLoop(ctx context.Context, b broker.Broker, jobID string) {
	t := time.NewTicker(p.cfg.LockDuration / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := b.Renew(ctx, p.queue, p.owner, []string{jobID}, p.cfg.LockDuration); err != nil {
				if ctx.Err() == nil && !errors.Is(err, broker.ErrLockLost) {
					p.logger.Warn("lock renewal failed", log.Str("job", jobID), log.Err(err))
				}
				return
			}
		}
	}
}

// sweepStalls recovers jobs whose locks expired without an ack.
func (p *Pool) sweepStalls(ctx context.Context, b broker.Broker) {
	stalled, err := b.ReclaimStalled(ctx, p.queue, p.cfg.Concurrency*4)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("stall sweep failed", log.Err(err))
		}
		return
	}
	for _, s := range stalled {
		p.sink.Emit(Event{
			Kind:    EventStalled,
			Queue:   p.queue,
			JobID:   s.JobID,
			Attempt: s.Attempt,
			AtMs:    time.Now().UnixMilli(),
		})
		p.logger.Warn("stalled job recovered",
			log.Str("job", s.JobID),
			log.Int("attempt", s.Attempt),
			log.F("terminal", s.Terminal),
		)
	}
}

// drain waits for in-flight handlers, cancelling them past the timeout.
func (p *Pool) drain(wg *sync.WaitGroup, cancelHandlers context.CancelFunc) {
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(p.cfg.DrainTimeout):
		cancelHandlers()
		<-finished
	}
	p.logger.Info("pool drained")
}

func (p *Pool) emit(kind EventKind, j *job.Job, errMsg string) {
	p.sink.Emit(Event{
		Kind:    kind,
		Queue:   p.queue,
		JobID:   j.ID,
		Name:    j.Name,
		Attempt: j.Attempt,
		Err:     errMsg,
		AtMs:    time.Now().UnixMilli(),
	})
}

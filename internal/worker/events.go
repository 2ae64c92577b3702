package worker

// EventKind names a lifecycle transition observed by a pool.
type EventKind string

const (
	EventClaimed   EventKind = "claimed"
	EventCompleted EventKind = "completed"
	EventRetried   EventKind = "retried"
	EventFailed    EventKind = "failed"
	EventStalled   EventKind = "stalled"
	// EventLost means the ack after a handler run was rejected, so the
	// outcome is unknown to this worker; the stall sweep resurfaces the job.
	// Every claimed event is balanced by exactly one of completed, retried,
	// failed, or lost.
	EventLost EventKind = "lost"
)

// Event is one lifecycle transition. Err is empty for successful outcomes.
type Event struct {
	Kind    EventKind
	Queue   string
	JobID   string
	Name    string
	Attempt int
	Err     string
	AtMs    int64
}

// Sink receives pool events. Emit must not block; slow consumers should
// buffer or drop.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChanSink forwards events to a channel, dropping when the channel is full.
type ChanSink struct {
	C chan Event
}

// NewChanSink buffers up to size events.
func NewChanSink(size int) *ChanSink {
	if size <= 0 {
		size = 64
	}
	return &ChanSink{C: make(chan Event, size)}
}

func (s *ChanSink) Emit(e Event) {
	select {
	case s.C <- e:
	default:
	}
}

// multiSink fans events out to several sinks.
type multiSink []Sink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// MultiSink combines sinks, skipping nils.
func MultiSink(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

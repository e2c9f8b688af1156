package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"vawter.tech/stopper"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"   // process spawned
	EventRunning EventType = "running" // start confirmed
	EventStop    EventType = "stop"    // stop signal sent
	EventStopped EventType = "stopped" // deliberate stop completed
	EventExit    EventType = "exit"    // exited on its own
	EventFatal   EventType = "fatal"
	EventKill    EventType = "kill" // grace period expired
	EventReload  EventType = "reload"
)

// Event is one lifecycle transition exported to an audit sink.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Program    string    `json:"program"`
	Index      int       `json:"index"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	ExitCode   int       `json:"exit_code"`
	Signal     string    `json:"signal,omitempty"`
	Restarts   int       `json:"restarts"`
	Message    string    `json:"message,omitempty"`
}

// Key identifies the instance slot the event belongs to.
func (e Event) Key() string { return fmt.Sprintf("%s:%d", e.Program, e.Index) }

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(Event) {}

const (
	DefaultBuffer      = 256
	DefaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to sinks from its own goroutine. Record never
// blocks: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	ch      chan Event
	logger  *slog.Logger
	timeout time.Duration
	dropped atomic.Uint64
	sent    atomic.Uint64
}

func NewDispatcher(logger *slog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   append([]Sink(nil), sinks...),
		ch:      make(chan Event, buffer),
		logger:  logger,
		timeout: DefaultSendTimeout,
	}
}

func (d *Dispatcher) Record(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
	}
}

// Dropped is the number of events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Sent is the number of successful sink deliveries.
func (d *Dispatcher) Sent() uint64 { return d.sent.Load() }

// Run delivers events until the stopper begins stopping, then flushes what
// is already buffered and closes sinks that implement io.Closer.
func (d *Dispatcher) Run(sctx *stopper.Context) error {
	defer d.closeSinks()
	for {
		select {
		case e := <-d.ch:
			d.deliver(sctx, e)
		case <-sctx.Stopping():
			for {
				select {
				case e := <-d.ch:
					d.deliver(context.WithoutCancel(sctx), e)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Send(sctx, e)
		cancel()
		if err != nil {
			d.logger.Warn("history sink failed", "event", string(e.Type), "instance", e.Key(), "error", err)
			continue
		}
		d.sent.Add(1)
	}
}

func (d *Dispatcher) closeSinks() {
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.logger.Warn("history sink close failed", "error", err)
			}
		}
	}
}

// DefaultTable is the audit table used when none is configured.
const DefaultTable = "taskmaster_events"

// ValidTable reports whether name is safe to splice into SQL as an identifier.
func ValidTable(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

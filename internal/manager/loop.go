package manager

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/process"
)

// DefaultTick bounds how long the loop waits for a control request before
// reaping and promoting.
const DefaultTick = time.Second

// ErrLoopClosed is returned to callers whose request arrives after the loop has exited.
var ErrLoopClosed = errors.New("supervisor loop is not running")

const shutdownPoll = 50 * time.Millisecond

// call is one control request handed to the loop goroutine.
type call struct {
	req   control.Request
	reply chan control.Response
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Tick time.Duration
	// StopChildrenOnExit stops every instance when the loop ends and
	// SIGKILLs whatever outlives the longest stop time.
	StopChildrenOnExit bool
}

// Loop drives a Registry from a single goroutine. Other goroutines reach the
// registry only through Handle and RequestReload.
type Loop struct {
	reg   *Registry
	opts  LoopOptions
	calls chan call
	done  chan struct{}
}

func NewLoop(reg *Registry, opts LoopOptions) *Loop {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return &Loop{
		reg:   reg,
		opts:  opts,
		calls: make(chan call),
		done:  make(chan struct{}),
	}
}

func (l *Loop) Registry() *Registry { return l.reg }

// Snapshot returns the table as of the last completed tick.
func (l *Loop) Snapshot() *Snapshot { return l.reg.Snapshot() }

// Handle implements control.Handler. It blocks until the loop has executed
// the request, the loop has exited, or ctx is done.
func (l *Loop) Handle(ctx context.Context, req control.Request) control.Response {
	c := call{req: req, reply: make(chan control.Response, 1)}
	select {
	case l.calls <- c:
	case <-l.done:
		return control.Fail("%v\n", ErrLoopClosed)
	case <-ctx.Done():
		return control.Fail("%v\n", ctx.Err())
	}
	select {
	case resp := <-c.reply:
		metrics.IncControlRequest(req.Command.String(), resp.Success)
		return resp
	case <-ctx.Done():
		return control.Fail("%v\n", ctx.Err())
	}
}

// RequestReload schedules a reload for the next tick.
func (l *Loop) RequestReload() { l.reg.RequestReload() }

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run loads the configuration, starts autostart programs and supervises
// until ctx is cancelled or a Shutdown request arrives. A failure of the
// initial load is returned without starting anything.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	if err := l.reg.Reload(); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	l.reg.publish()

	timer := time.NewTimer(l.opts.Tick)
	defer timer.Stop()
	for l.reg.Running() {
		select {
		case <-ctx.Done():
			l.reg.logger.Info("supervisor stopping", "reason", context.Cause(ctx))
			l.reg.running = false
		case c := <-l.calls:
			c.reply <- l.reg.Execute(c.req)
		case <-timer.C:
		}
		start := time.Now()
		l.reg.Tick()
		metrics.ObserveTick(time.Since(start).Seconds())

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.opts.Tick)
	}

	if l.opts.StopChildrenOnExit {
		l.reg.Shutdown()
	}
	return nil
}

// Tick performs one supervision pass: reap, promote, enforce stop deadlines,
// apply a pending reload and publish the snapshot.
func (r *Registry) Tick() {
	r.reap()
	r.promote()
	r.enforce()
	if r.reloadRequested.CompareAndSwap(true, false) {
		_ = r.Reload()
	}
	r.publish()
}

// Shutdown stops every live instance, waits up to the longest stop time for
// them to exit and SIGKILLs the rest. It returns once nothing is left alive
// or the final grace period has passed.
func (r *Registry) Shutdown() {
	r.running = false
	r.pending = nil
	for _, in := range r.table {
		in.RestartPending = false
		_ = r.stop(in)
	}
	grace := r.longestStopTime()
	r.logger.Info("stopping all processes", "live", r.LiveCount(), "grace", grace)

	deadline := time.Now().Add(grace)
	r.drain(deadline)
	if n := r.LiveCount(); n > 0 {
		r.logger.Warn("processes outlived shutdown grace period, sending SIGKILL", "count", n)
		r.killAll()
		r.drain(time.Now().Add(time.Second))
	}
	r.publish()
	if n := r.LiveCount(); n > 0 {
		r.logger.Error("processes still alive at exit", "count", n)
	}
}

func (r *Registry) longestStopTime() time.Duration {
	var longest time.Duration
	for _, list := range [][]*process.Instance{r.table, r.orphans} {
		for _, in := range list {
			if in.PID != 0 && in.Spec.StopTime > longest {
				longest = in.Spec.StopTime
			}
		}
	}
	return longest
}

// drain reaps until nothing is alive or deadline passes.
func (r *Registry) drain(deadline time.Time) {
	for r.LiveCount() > 0 {
		r.reap()
		r.enforce()
		if r.LiveCount() == 0 || !time.Now().Before(deadline) {
			return
		}
		time.Sleep(shutdownPoll)
	}
}

func (r *Registry) killAll() {
	for _, list := range [][]*process.Instance{r.table, r.orphans} {
		for _, in := range list {
			if in.PID == 0 {
				continue
			}
			if err := r.signaler.Signal(in.PID, syscall.SIGKILL); err != nil {
				r.logger.Warn("forced kill failed", "program", in.Spec.Name, "index", in.Index, "pid", in.PID, "error", err)
				continue
			}
			in.KillSent = true
			metrics.IncKill(in.Spec.Name)
		}
	}
}

package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/taskmaster/internal/env"
	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/process"
)

// Loader produces the declared programs. It is called at boot and on every reload.
type Loader interface {
	Load() ([]process.Spec, error)
}

type LoaderFunc func() ([]process.Spec, error)

func (f LoaderFunc) Load() ([]process.Spec, error) { return f() }

// Options wires a Registry to its collaborators. Zero values select the real
// OS implementations.
type Options struct {
	Launcher process.Launcher
	Signaler process.Signaler
	Reaper   process.Reaper
	Loader   Loader
	Clock    func() time.Time
	Events   history.Recorder
	Logger   *slog.Logger
}

// Registry is the live supervision state: the current spec set and the
// instance table. It is not safe for concurrent use; one goroutine (the Loop)
// owns it. Other goroutines read the published Snapshot.
type Registry struct {
	specs   *process.SpecSet
	table   []*process.Instance
	orphans []*process.Instance // dropped by a reload, still waiting to exit
	pending []pendingExit       // synthetic exits from failed launches
	running bool
	version uint64

	reloadRequested atomic.Bool
	snap            atomic.Pointer[Snapshot]

	launcher process.Launcher
	signaler process.Signaler
	reaper   process.Reaper
	loader   Loader
	clock    func() time.Time
	events   history.Recorder
	logger   *slog.Logger
}

type pendingExit struct {
	inst   *process.Instance
	status process.ExitStatus
}

// Snapshot is an immutable copy of the table published after every tick.
type Snapshot struct {
	Version   uint64           `json:"version"`
	Generated time.Time        `json:"generated"`
	Instances []process.Status `json:"instances"`
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		specs:    process.EmptySpecSet(),
		running:  true,
		launcher: opts.Launcher,
		signaler: opts.Signaler,
		reaper:   opts.Reaper,
		loader:   opts.Loader,
		clock:    opts.Clock,
		events:   opts.Events,
		logger:   opts.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.launcher == nil {
		r.launcher = &process.ExecLauncher{Env: env.New(), Logger: r.logger}
	}
	if r.signaler == nil {
		r.signaler = process.KillSignaler{}
	}
	if r.reaper == nil {
		r.reaper = process.WaitReaper{}
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.events == nil {
		r.events = history.Nop{}
	}
	r.publish()
	return r
}

// Specs returns the current spec set.
func (r *Registry) Specs() *process.SpecSet { return r.specs }

// Instances returns the live table in spec order, indices ascending.
func (r *Registry) Instances() []*process.Instance { return r.table }

// Running reports whether the loop should keep going.
func (r *Registry) Running() bool { return r.running }

// RequestReload flags a reload for the next tick. It only sets a flag, so it
// is safe to call from any goroutine.
func (r *Registry) RequestReload() { r.reloadRequested.Store(true) }

// Snapshot returns the most recently published table copy. Safe from any goroutine.
func (r *Registry) Snapshot() *Snapshot { return r.snap.Load() }

// Statuses is a convenience for Snapshot().Instances.
func (r *Registry) Statuses() []process.Status { return r.Snapshot().Instances }

func (r *Registry) instancesOf(name string) []*process.Instance {
	var out []*process.Instance
	for _, in := range r.table {
		if in.Spec.Name == name {
			out = append(out, in)
		}
	}
	return out
}

func (r *Registry) owns(in *process.Instance) bool {
	for _, t := range r.table {
		if t == in {
			return true
		}
	}
	return false
}

func (r *Registry) publish() {
	s := &Snapshot{Version: r.specs.Version, Generated: r.clock(), Instances: make([]process.Status, 0, len(r.table))}
	counts := make(map[string]int, len(process.AllStates))
	for _, in := range r.table {
		st := in.Snapshot()
		s.Instances = append(s.Instances, st)
		counts[st.State.String()]++
	}
	r.snap.Store(s)

	names := make([]string, len(process.AllStates))
	for i, st := range process.AllStates {
		names[i] = st.String()
	}
	metrics.SetStateCounts(names, counts)
}

func (r *Registry) record(in *process.Instance, typ history.EventType, msg string) {
	e := history.Event{
		Type:       typ,
		OccurredAt: r.clock(),
		Program:    in.Spec.Name,
		Index:      in.Index,
		PID:        in.PID,
		State:      in.State.String(),
		Restarts:   in.Restarts,
		Message:    msg,
	}
	if in.LastExit != nil && (typ == history.EventExit || typ == history.EventStopped || typ == history.EventFatal) {
		e.PID = in.LastExit.PID
		e.ExitCode = in.LastExit.Code
		if in.LastExit.Signaled {
			e.Signal = process.SignalName(in.LastExit.Signal)
		}
	}
	r.events.Record(e)
}

func (r *Registry) transition(in *process.Instance, from process.State) {
	metrics.RecordStateTransition(in.Spec.Name, from.String(), in.State.String())
}

// start launches one instance and reports the outcome.
func (r *Registry) start(in *process.Instance) error {
	from := in.State
	err := in.Start(r.launcher, r.clock())
	if errors.Is(err, process.ErrAlreadyRunning) {
		return err
	}
	r.afterLaunch(in, from, err)
	return err
}

// afterLaunch logs a spawn attempt. A non-fatal launch failure queues a
// synthetic exit so that the next reap applies the restart policy.
func (r *Registry) afterLaunch(in *process.Instance, from process.State, err error) {
	log := r.logger.With("program", in.Spec.Name, "index", in.Index)
	r.transition(in, from)
	if err == nil {
		log.Info("process started", "pid", in.PID)
		metrics.IncStart(in.Spec.Name)
		r.record(in, history.EventStart, "")
		return
	}
	var le *process.LaunchError
	if errors.As(err, &le) && le.Fatal {
		log.Error("cannot spawn process, marking fatal", "error", le.Err)
		metrics.IncFatal(in.Spec.Name)
		r.record(in, history.EventFatal, le.Err.Error())
		return
	}
	log.Warn("launch failed", "error", err)
	r.pending = append(r.pending, pendingExit{
		inst:   in,
		status: process.ExitStatus{Code: process.ExitCodeLaunchFailure, Synthetic: true},
	})
}

// stop signals one instance. Instances without a live process are skipped.
func (r *Registry) stop(in *process.Instance) error {
	from := in.State
	pid := in.PID
	err := in.Stop(r.signaler, r.clock())
	if errors.Is(err, process.ErrNotRunning) {
		return err
	}
	r.transition(in, from)
	log := r.logger.With("program", in.Spec.Name, "index", in.Index, "pid", pid)
	if err != nil {
		// the signal could not be delivered; the exit (if any) is still reaped normally
		log.Warn("stop signal failed", "signal", process.SignalName(in.Spec.StopSignal), "error", err)
		return err
	}
	log.Info("stop requested", "signal", process.SignalName(in.Spec.StopSignal))
	metrics.IncStop(in.Spec.Name)
	r.record(in, history.EventStop, process.SignalName(in.Spec.StopSignal))
	return nil
}

// reap collects terminated children and queued launch failures and applies
// each to its instance.
func (r *Registry) reap() {
	for _, in := range r.table {
		in.MarkObserved()
	}
	pending := r.pending
	r.pending = nil
	for _, p := range pending {
		in := p.inst
		if !r.owns(in) || in.PID != 0 || in.State != process.StateExited {
			continue
		}
		r.handleExit(in, p.status)
	}
	for _, st := range r.reaper.Reap() {
		if in := r.findPID(st.PID); in != nil {
			r.handleExit(in, st)
			continue
		}
		if i := r.findOrphan(st.PID); i >= 0 {
			in := r.orphans[i]
			r.orphans = append(r.orphans[:i], r.orphans[i+1:]...)
			in.HandleExit(st, r.launcher, r.clock())
			r.logger.Info("process stopped", "program", in.Spec.Name, "index", in.Index, "pid", st.PID,
				"exit", st.String(), "removed", true)
			r.record(in, history.EventStopped, "removed by reload")
			continue
		}
		r.logger.Info("reaped unknown child, dropped", "pid", st.PID, "exit", st.String())
	}
}

func (r *Registry) findPID(pid int) *process.Instance {
	if pid <= 0 {
		return nil
	}
	for _, in := range r.table {
		if in.PID == pid {
			return in
		}
	}
	return nil
}

func (r *Registry) findOrphan(pid int) int {
	for i, in := range r.orphans {
		if in.PID == pid {
			return i
		}
	}
	return -1
}

func (r *Registry) handleExit(in *process.Instance, st process.ExitStatus) {
	from := in.State
	restartPending := in.RestartPending
	in.RestartPending = false
	out := in.HandleExit(st, r.launcher, r.clock())
	log := r.logger.With("program", in.Spec.Name, "index", in.Index, "pid", st.PID, "exit", st.String())

	if out.Deliberate {
		r.transition(in, from)
		log.Info("process stopped")
		r.record(in, history.EventStopped, "")
		if restartPending {
			_ = r.start(in)
		}
		return
	}

	switch {
	case st.Synthetic:
		metrics.IncExit(in.Spec.Name, "launch")
	case st.Signaled:
		metrics.IncExit(in.Spec.Name, "signal")
	case out.Expected:
		metrics.IncExit(in.Spec.Name, "expected")
	default:
		metrics.IncExit(in.Spec.Name, "unexpected")
	}
	if out.Expected {
		log.Info("process exited (expected)")
	} else {
		log.Warn("process exited unexpectedly")
	}
	r.transition(in, from)
	r.record(in, history.EventExit, exitKind(st, out.Expected))

	if !out.Restart {
		return
	}
	if out.Fatal && out.LaunchErr == nil {
		log.Error("retries exhausted, giving up", "restarts", in.Restarts)
		metrics.IncFatal(in.Spec.Name)
		r.record(in, history.EventFatal, fmt.Sprintf("retries exhausted after %d restarts", in.Restarts))
		return
	}
	log.Info("restarting", "attempt", in.Restarts, "max", in.Spec.StartRetries)
	metrics.IncRestart(in.Spec.Name)
	r.afterLaunch(in, process.StateExited, out.LaunchErr)
}

func exitKind(st process.ExitStatus, expected bool) string {
	switch {
	case st.Synthetic:
		return "launch failure"
	case st.Signaled:
		return "signal " + process.SignalName(st.Signal)
	case expected:
		return "expected"
	}
	return "unexpected"
}

// promote confirms instances that stayed up for their start time.
func (r *Registry) promote() {
	now := r.clock()
	for _, in := range r.table {
		if in.Promote(now) {
			r.transition(in, process.StateStarting)
			r.logger.Info("process running", "program", in.Spec.Name, "index", in.Index, "pid", in.PID)
			r.record(in, history.EventRunning, "")
		}
	}
}

// enforce sends SIGKILL to instances that outlived their stop grace period.
func (r *Registry) enforce() {
	now := r.clock()
	for _, list := range [][]*process.Instance{r.table, r.orphans} {
		for _, in := range list {
			pid := in.PID
			killed, err := in.Enforce(r.signaler, now)
			if !killed {
				continue
			}
			log := r.logger.With("program", in.Spec.Name, "index", in.Index, "pid", pid)
			if err != nil {
				log.Warn("forced kill failed", "error", err)
				continue
			}
			log.Warn("stop grace period expired, sent SIGKILL", "stoptime", in.Spec.StopTime)
			metrics.IncKill(in.Spec.Name)
			r.record(in, history.EventKill, "")
		}
	}
}

// LiveCount is the number of instances, including orphans, that still own a process.
func (r *Registry) LiveCount() int {
	n := 0
	for _, list := range [][]*process.Instance{r.table, r.orphans} {
		for _, in := range list {
			if in.PID != 0 {
				n++
			}
		}
	}
	return n
}

package process

import (
	"fmt"
	"syscall"
	"time"
)

// Instance is one supervised process slot, identified by (spec name, index).
// It is owned by a single goroutine and carries no locks.
//
// State machine:
//
//	Stopped|Exited|Fatal -> Starting -> Running -> Stopping -> Stopped
//	Starting|Running -> Exited -> Starting (restart) | Fatal (budget spent)
type Instance struct {
	Spec      *Spec
	Index     int
	PID       int
	State     State
	StartedAt time.Time
	StoppedAt time.Time
	Restarts  int

	StopDeadline   time.Time // zero when no forced kill is scheduled
	KillSent       bool
	Observed       bool // a reap pass has run since the spawn without seeing it exit
	RestartPending bool // restart command: start again once the stop completes
	LastExit       *ExitStatus
	LastError      string
}

func NewInstance(spec *Spec, index int) *Instance {
	return &Instance{Spec: spec, Index: index, State: StateStopped}
}

// Key is the identity used to match instances across reloads.
func (in *Instance) Key() string { return fmt.Sprintf("%s:%d", in.Spec.Name, in.Index) }

// Start spawns the process. It refuses when a pid is still attached.
// A non-fatal *LaunchError leaves the slot EXITED with pid 0; the caller feeds
// a synthetic exit through HandleExit so the restart policy applies.
func (in *Instance) Start(l Launcher, now time.Time) error {
	if in.PID != 0 {
		return ErrAlreadyRunning
	}
	switch in.State {
	case StateStopped, StateExited, StateFatal:
	default:
		return fmt.Errorf("cannot start %s from %s", in.Key(), in.State)
	}
	in.State = StateStarting
	in.StartedAt = now
	in.StopDeadline = time.Time{}
	in.KillSent = false
	in.Observed = false
	in.LastError = ""

	pid, err := l.Launch(in.Spec, in.Index)
	if err != nil {
		in.LastError = err.Error()
		in.StoppedAt = now
		le := &LaunchError{Program: in.Spec.Name, Index: in.Index, Err: err}
		if isSpawnExhausted(err) {
			le.Fatal = true
			in.State = StateFatal
		} else {
			in.State = StateExited
		}
		return le
	}
	in.PID = pid
	return nil
}

// MarkObserved records that a reap pass is about to run while the current
// process is live. Only an exit seen by that pass can stop promotion.
func (in *Instance) MarkObserved() {
	if in.PID != 0 {
		in.Observed = true
	}
}

// Promote moves a STARTING instance to RUNNING once it has stayed up for
// Spec.StartTime. Reaching RUNNING is the only thing that resets Restarts.
// A process spawned after the last reap pass is never promoted, even with a
// zero StartTime: its exit could not have been observed yet.
func (in *Instance) Promote(now time.Time) bool {
	if in.State != StateStarting || in.PID == 0 || !in.Observed {
		return false
	}
	if now.Sub(in.StartedAt) < in.Spec.StartTime {
		return false
	}
	in.State = StateRunning
	in.Restarts = 0
	return true
}

// Stop sends the spec's stop signal and marks the slot STOPPING. Slots
// without a live process are left untouched. An instance dropped by a reload
// still points at the spec that launched it, so its old signal is used.
func (in *Instance) Stop(sig Signaler, now time.Time) error {
	if in.PID == 0 || (in.State != StateRunning && in.State != StateStarting) {
		return ErrNotRunning
	}
	in.State = StateStopping
	if in.Spec.StopTime > 0 {
		in.StopDeadline = now.Add(in.Spec.StopTime)
	}
	return sig.Signal(in.PID, in.Spec.StopSignal)
}

// Enforce escalates to SIGKILL once a STOPPING instance outlives its deadline.
func (in *Instance) Enforce(sig Signaler, now time.Time) (bool, error) {
	if in.State != StateStopping || in.PID == 0 || in.KillSent || in.StopDeadline.IsZero() {
		return false, nil
	}
	if now.Before(in.StopDeadline) {
		return false, nil
	}
	in.KillSent = true
	return true, sig.Signal(in.PID, syscall.SIGKILL)
}

// ExitOutcome summarizes what HandleExit decided.
type ExitOutcome struct {
	Deliberate bool // the exit followed a stop request
	Expected   bool
	Restart    bool // policy asked for a restart
	Fatal      bool // restart wanted but budget exhausted, or respawn hit a fatal launch error
	LaunchErr  error
}

// HandleExit applies an observed termination. A deliberate stop always lands
// in STOPPED. Otherwise the slot becomes EXITED and the restart policy is
// evaluated; a restart respawns immediately through l.
func (in *Instance) HandleExit(st ExitStatus, l Launcher, now time.Time) ExitOutcome {
	wasStopping := in.State == StateStopping
	in.PID = 0
	in.StoppedAt = now
	in.StopDeadline = time.Time{}
	in.KillSent = false
	exit := st
	in.LastExit = &exit

	if wasStopping {
		in.State = StateStopped
		return ExitOutcome{Deliberate: true}
	}

	out := ExitOutcome{Expected: !st.Signaled && in.Spec.IsExpected(st.Code)}
	in.State = StateExited
	switch in.Spec.AutoRestart {
	case RestartAlways:
		out.Restart = true
	case RestartUnexpected:
		out.Restart = !out.Expected
	}
	if !out.Restart {
		return out
	}
	if in.Restarts >= in.Spec.StartRetries {
		in.State = StateFatal
		out.Fatal = true
		return out
	}
	in.Restarts++
	if err := in.Start(l, now); err != nil {
		out.LaunchErr = err
		out.Fatal = in.State == StateFatal
	}
	return out
}

// Snapshot returns a copy suitable for status output.
func (in *Instance) Snapshot() Status {
	st := Status{
		Name:      in.Spec.Name,
		Index:     in.Index,
		State:     in.State,
		PID:       in.PID,
		StartedAt: in.StartedAt,
		StoppedAt: in.StoppedAt,
		Restarts:  in.Restarts,
		Error:     in.LastError,
	}
	if in.LastExit != nil {
		st.LastExit = in.LastExit.String()
	}
	return st
}

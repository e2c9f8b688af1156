package process

import (
	"fmt"
	"syscall"
)

// ExitStatus describes how a child terminated.
type ExitStatus struct {
	PID       int
	Code      int
	Signal    syscall.Signal
	Signaled  bool
	Synthetic bool // launch failure, no process was ever observed
}

// ExitStatusFromWait converts a wait status into an ExitStatus.
func ExitStatusFromWait(pid int, ws syscall.WaitStatus) ExitStatus {
	st := ExitStatus{PID: pid}
	switch {
	case ws.Exited():
		st.Code = ws.ExitStatus()
	case ws.Signaled():
		st.Signaled = true
		st.Signal = ws.Signal()
		st.Code = -1
	default:
		st.Code = -1
	}
	return st
}

func (e ExitStatus) String() string {
	switch {
	case e.Synthetic:
		return fmt.Sprintf("launch failure (code %d)", e.Code)
	case e.Signaled:
		return fmt.Sprintf("killed by signal %s", SignalName(e.Signal))
	default:
		return fmt.Sprintf("exit code %d", e.Code)
	}
}

// Reaper collects terminated children without blocking.
type Reaper interface {
	Reap() []ExitStatus
}

// WaitReaper reaps every terminated child of this process with wait4(-1, WNOHANG).
// The daemon must own all of its children: nothing else may call Wait on them.
type WaitReaper struct{}

// Reap drains all pending exits; it returns nil when there are none.
func (WaitReaper) Reap() []ExitStatus {
	var out []ExitStatus
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return out
		}
		if ws.Stopped() || ws.Continued() {
			continue
		}
		out = append(out, ExitStatusFromWait(pid, ws))
	}
}

//go:build !windows

package process

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

var signalNames = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"TERM": syscall.SIGTERM,
	"ALRM": syscall.SIGALRM,
	"STOP": syscall.SIGSTOP,
	"CONT": syscall.SIGCONT,
}

// ParseSignal accepts TERM, SIGTERM, term or a signal number.
func ParseSignal(s string) (syscall.Signal, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "SIG")
	if sig, ok := signalNames[name]; ok {
		return sig, nil
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 && n < 65 {
		return syscall.Signal(n), nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}

// SignalName returns the short name (TERM) or the number when unnamed.
func SignalName(sig syscall.Signal) string {
	for name, v := range signalNames {
		if v == sig {
			return name
		}
	}
	return strconv.Itoa(int(sig))
}

// Signaler delivers signals to processes.
type Signaler interface {
	Signal(pid int, sig syscall.Signal) error
}

// KillSignaler sends signals with kill(2).
type KillSignaler struct{}

func (KillSignaler) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrNotRunning
	}
	return killProcess(pid, sig)
}

// killProcess sends a signal to a Unix process
func killProcess(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

// processExists checks if a process exists
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

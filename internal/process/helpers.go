package process

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrAlreadyRunning is returned when a start is requested for a slot that still owns a pid.
	ErrAlreadyRunning = errors.New("process already running")
	// ErrNotRunning is returned when a stop is requested for a slot without a live process.
	ErrNotRunning = errors.New("process not running")
)

// LaunchError reports a failed spawn attempt. Fatal is set for resource-level
// failures (the fork equivalent) which leave the slot FATAL; otherwise the
// slot is treated as if the child had exited at once with ExitCodeLaunchFailure.
type LaunchError struct {
	Program string
	Index   int
	Fatal   bool
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s[%d]: %v", e.Program, e.Index, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitCodeLaunchFailure is the synthetic exit code recorded when a child could not be executed.
const ExitCodeLaunchFailure = 127

// isSpawnExhausted reports errors where the kernel could not create a process at all.
func isSpawnExhausted(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM)
}

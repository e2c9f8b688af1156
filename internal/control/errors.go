package control

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode indicates a frame of the wrong size.
	ErrDecode = errors.New("control: decode")
	// ErrUnknownCommand indicates a command word or value the daemon does not know.
	ErrUnknownCommand = errors.New("control: unknown command")
	// ErrDaemonRunning is returned by Listen when another daemon answers on the socket.
	ErrDaemonRunning = errors.New("control: daemon already listening")
)

// OpError records the socket operation and path that failed.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("control %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

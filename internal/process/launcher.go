package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/loykin/taskmaster/internal/env"
)

// Launcher spawns the OS process for one instance slot and returns its pid.
type Launcher interface {
	Launch(spec *Spec, index int) (int, error)
}

// ExecLauncher starts children with os/exec. Children are never waited on
// through exec.Cmd; a Reaper collects them.
type ExecLauncher struct {
	Env    *env.Env
	Logger *slog.Logger
}

// umaskMu serializes the process-wide umask swap around each spawn.
var umaskMu sync.Mutex

func (l *ExecLauncher) Launch(spec *Spec, index int) (int, error) {
	argv := spec.Argv()
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty command")
	}
	// #nosec G204 -- the command line comes from the operator's config
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = l.Env.Merge(spec.Env)

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if f := l.openRedirect(spec, index, spec.Stdout); f != nil {
		cmd.Stdout = f
		closers = append(closers, f)
	}
	if f := l.openRedirect(spec, index, spec.Stderr); f != nil {
		cmd.Stderr = f
		closers = append(closers, f)
	}
	if err := configureSysProcAttr(cmd, spec); err != nil {
		return 0, err
	}

	umaskMu.Lock()
	old := syscall.Umask(int(spec.Umask.Perm()))
	err := cmd.Start()
	syscall.Umask(old)
	umaskMu.Unlock()
	if err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// The pid is reaped by wait4(-1); drop the handle so os/exec holds no resources.
	_ = cmd.Process.Release()
	return pid, nil
}

// openRedirect opens path for appending, creating it 0644. A failure is
// logged and the stream falls back to /dev/null.
func (l *ExecLauncher) openRedirect(spec *Spec, index int, path string) *os.File {
	if path == "" {
		return nil
	}
	// #nosec G304 -- operator supplied log path
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		l.logger().Warn("cannot open redirect file", "program", spec.Name, "index", index, "path", path, "error", err)
		return nil
	}
	return f
}

func (l *ExecLauncher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

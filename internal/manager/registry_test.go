package manager

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/process"
)

func TestBootStartsAutostartInstances(t *testing.T) {
	manual := spec("manual", "sleep 1", 1)
	manual.AutoStart = false
	h := newHarness(spec("web", "sleep 1", 2), manual)

	require.NoError(t, h.reg.Reload())
	require.Len(t, h.reg.Instances(), 3)
	assert.Equal(t, []string{"web:0", "web:1"}, h.launcher.launched)
	assert.Equal(t, process.StateStarting, h.instance("web", 0).State)
	assert.Equal(t, process.StateStopped, h.instance("manual", 0).State)
	assert.Equal(t, uint64(1), h.reg.Specs().Version)
}

func TestCrashLoopEndsFatalAfterRetries(t *testing.T) {
	web := spec("web", "false", 1)
	web.AutoRestart = process.RestartAlways
	web.StartRetries = 3
	web.StartTime = time.Second
	h := newHarness(web)
	require.NoError(t, h.reg.Reload())

	for i := 0; i < 10; i++ {
		if in := h.instance("web", 0); in.PID != 0 {
			h.reaper.exit(in.PID, 1)
		}
		h.reg.Tick()
	}

	in := h.instance("web", 0)
	assert.Equal(t, process.StateFatal, in.State)
	assert.Equal(t, 3, in.Restarts)
	assert.Equal(t, 4, h.launcher.calls(), "initial start plus three restarts")
	assert.Contains(t, h.events.types(), history.EventFatal)
}

func TestCrashLoopWithZeroStartTimeEndsFatal(t *testing.T) {
	web := spec("web", "false", 1)
	web.AutoRestart = process.RestartAlways
	web.StartRetries = 3
	require.Zero(t, web.StartTime)
	h := newHarness(web)
	require.NoError(t, h.reg.Reload())

	for i := 0; i < 10; i++ {
		in := h.instance("web", 0)
		if in.PID != 0 {
			h.reaper.exit(in.PID, 1)
		}
		h.reg.Tick()
		if in.State != process.StateFatal {
			assert.Equal(t, process.StateStarting, in.State, "a respawn is not promoted in the tick that spawned it")
		}
	}

	in := h.instance("web", 0)
	assert.Equal(t, process.StateFatal, in.State)
	assert.Equal(t, 3, in.Restarts)
	assert.Equal(t, 4, h.launcher.calls())
}

func TestRespawnPromotedOnFollowingTick(t *testing.T) {
	web := spec("web", "sleep 1", 1)
	web.AutoRestart = process.RestartAlways
	web.StartRetries = 3
	h := newHarness(web)
	require.NoError(t, h.reg.Reload())
	in := h.instance("web", 0)

	h.reaper.exit(in.PID, 1)
	h.reg.Tick()
	require.Equal(t, process.StateStarting, in.State)
	assert.Equal(t, 1, in.Restarts)

	h.reg.Tick()
	assert.Equal(t, process.StateRunning, in.State)
	assert.Zero(t, in.Restarts)
}

func TestLaunchFailureFeedsRestartPolicy(t *testing.T) {
	s := spec("broken", "/nonexistent", 1)
	s.AutoRestart = process.RestartAlways
	s.StartRetries = 2
	s.StartTime = time.Second
	h := newHarness(s)
	h.launcher.err = errors.New("fork/exec /nonexistent: no such file or directory")

	require.NoError(t, h.reg.Reload())
	in := h.instance("broken", 0)
	assert.Equal(t, process.StateExited, in.State)
	assert.Zero(t, in.PID)

	for i := 0; i < 5; i++ {
		h.reg.Tick()
	}
	assert.Equal(t, process.StateFatal, in.State)
	assert.Equal(t, 2, in.Restarts)
	assert.Equal(t, 3, h.launcher.calls())
	require.NotNil(t, in.LastExit)
	assert.True(t, in.LastExit.Synthetic)
	assert.Equal(t, process.ExitCodeLaunchFailure, in.LastExit.Code)
}

func TestSpawnExhaustionIsFatal(t *testing.T) {
	s := spec("web", "sleep 1", 1)
	s.AutoRestart = process.RestartAlways
	s.StartRetries = 5
	h := newHarness(s)
	h.launcher.err = fmt.Errorf("fork: %w", syscall.EAGAIN)

	require.NoError(t, h.reg.Reload())
	h.reg.Tick()
	h.reg.Tick()
	assert.Equal(t, process.StateFatal, h.instance("web", 0).State)
	assert.Equal(t, 1, h.launcher.calls())
}

func TestDeliberateStopNeverRestarts(t *testing.T) {
	s := spec("web", "sleep 1", 1)
	s.AutoRestart = process.RestartAlways
	s.StartRetries = 3
	h := newHarness(s)
	require.NoError(t, h.reg.Reload())
	h.reg.Tick()
	in := h.instance("web", 0)
	require.Equal(t, process.StateRunning, in.State)
	pid := in.PID

	resp := h.reg.Execute(control.Request{Command: control.CmdStop, Name: "web"})
	assert.True(t, resp.Success)
	assert.Equal(t, process.StateStopping, in.State)
	assert.Equal(t, []sent{{pid, syscall.SIGTERM}}, h.signaler.signals())

	h.reg.Tick()
	assert.Equal(t, process.StateStopped, in.State)
	assert.Zero(t, in.PID)
	assert.Equal(t, 1, h.launcher.calls())
	assert.Zero(t, in.Restarts)
}

func TestStopEscalatesToKillAfterStopTime(t *testing.T) {
	s := spec("web", "sleep 1", 1)
	s.StopTime = 3 * time.Second
	h := newHarness(s)
	h.signaler.ignore = map[syscall.Signal]bool{syscall.SIGTERM: true}
	require.NoError(t, h.reg.Reload())
	in := h.instance("web", 0)
	pid := in.PID

	h.reg.Execute(control.Request{Command: control.CmdStop, Name: "web"})
	h.clock.Advance(2 * time.Second)
	h.reg.Tick()
	assert.Equal(t, process.StateStopping, in.State)

	h.clock.Advance(time.Second)
	h.reg.Tick()
	assert.Equal(t, []sent{{pid, syscall.SIGTERM}, {pid, syscall.SIGKILL}}, h.signaler.signals())

	h.reg.Tick()
	assert.Equal(t, process.StateStopped, in.State)
	assert.Contains(t, h.events.types(), history.EventKill)
}

func TestZeroStopTimeNeverKills(t *testing.T) {
	s := spec("web", "sleep 1", 1)
	s.StopTime = 0
	h := newHarness(s)
	h.signaler.ignore = map[syscall.Signal]bool{syscall.SIGTERM: true}
	require.NoError(t, h.reg.Reload())

	h.reg.Execute(control.Request{Command: control.CmdStop, Name: "web"})
	h.clock.Advance(time.Hour)
	h.reg.Tick()
	assert.Len(t, h.signaler.signals(), 1)
	assert.Equal(t, process.StateStopping, h.instance("web", 0).State)
}

func TestRestartCommandStopsThenStarts(t *testing.T) {
	h := newHarness(spec("web", "sleep 1", 1))
	require.NoError(t, h.reg.Reload())
	h.reg.Tick()
	in := h.instance("web", 0)
	oldPID := in.PID

	resp := h.reg.Execute(control.Request{Command: control.CmdRestart, Name: "web"})
	require.True(t, resp.Success)
	assert.True(t, in.RestartPending)
	assert.Equal(t, process.StateStopping, in.State)

	h.reg.Tick()
	assert.False(t, in.RestartPending)
	assert.NotZero(t, in.PID)
	assert.NotEqual(t, oldPID, in.PID)
	assert.Equal(t, 2, h.launcher.calls())
}

func TestRestartCommandStartsIdleInstances(t *testing.T) {
	s := spec("job", "sleep 1", 2)
	s.AutoStart = false
	h := newHarness(s)
	require.NoError(t, h.reg.Reload())

	h.reg.Execute(control.Request{Command: control.CmdRestart, Name: "job"})
	assert.Equal(t, []string{"job:0", "job:1"}, h.launcher.launched)
	assert.Empty(t, h.signaler.signals())
}

func TestStopCancelsPendingRestart(t *testing.T) {
	h := newHarness(spec("web", "sleep 1", 1))
	h.signaler.ignore = map[syscall.Signal]bool{syscall.SIGTERM: true}
	require.NoError(t, h.reg.Reload())
	in := h.instance("web", 0)

	h.reg.Execute(control.Request{Command: control.CmdRestart, Name: "web"})
	require.True(t, in.RestartPending)
	h.reg.Execute(control.Request{Command: control.CmdStop, Name: "web"})
	assert.False(t, in.RestartPending)

	h.reaper.exit(in.PID, 0)
	h.reg.Tick()
	assert.Equal(t, process.StateStopped, in.State)
	assert.Equal(t, 1, h.launcher.calls())
}

func TestUnknownPIDIsDropped(t *testing.T) {
	h := newHarness(spec("web", "sleep 1", 1))
	require.NoError(t, h.reg.Reload())
	before := h.instance("web", 0).Snapshot()

	h.reaper.exit(4242, 0)
	h.reg.Tick()
	after := h.instance("web", 0).Snapshot()
	assert.Equal(t, before.PID, after.PID)
	assert.Equal(t, process.StateRunning, after.State)
}

func TestSnapshotPublishedEachTick(t *testing.T) {
	h := newHarness(spec("web", "sleep 1", 2))
	assert.Empty(t, h.reg.Snapshot().Instances)

	require.NoError(t, h.reg.Reload())
	h.reg.Tick()
	snap := h.reg.Snapshot()
	require.Len(t, snap.Instances, 2)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, process.StateRunning, snap.Instances[1].State)
	assert.Equal(t, 1, snap.Instances[1].Index)
}

func TestEventsCarryExitDetails(t *testing.T) {
	h := newHarness(spec("web", "sleep 1", 1))
	require.NoError(t, h.reg.Reload())
	in := h.instance("web", 0)
	pid := in.PID
	h.reaper.exit(pid, 3)
	h.reg.Tick()

	var exit *history.Event
	for i := range h.events.events {
		if h.events.events[i].Type == history.EventExit {
			exit = &h.events.events[i]
		}
	}
	require.NotNil(t, exit)
	assert.Equal(t, pid, exit.PID)
	assert.Equal(t, 3, exit.ExitCode)
	assert.Equal(t, "web", exit.Program)
}

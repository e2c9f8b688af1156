package manager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/process"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeLauncher struct {
	mu       sync.Mutex
	next     int
	launched []string // name:index per call
	err      error
}

func (f *fakeLauncher) Launch(spec *process.Spec, index int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, fmt.Sprintf("%s:%d", spec.Name, index))
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	return 1000 + f.next, nil
}

func (f *fakeLauncher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launched)
}

type fakeReaper struct {
	mu    sync.Mutex
	queue []process.ExitStatus
}

func (f *fakeReaper) exit(pid, code int) {
	f.mu.Lock()
	f.queue = append(f.queue, process.ExitStatus{PID: pid, Code: code})
	f.mu.Unlock()
}

func (f *fakeReaper) kill(pid int, sig syscall.Signal) {
	f.mu.Lock()
	f.queue = append(f.queue, process.ExitStatus{PID: pid, Code: -1, Signaled: true, Signal: sig})
	f.mu.Unlock()
}

func (f *fakeReaper) Reap() []process.ExitStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queue
	f.queue = nil
	return out
}

type sent struct {
	pid int
	sig syscall.Signal
}

// fakeSignaler records signals. When dies is set, a delivered signal not in
// ignore makes the target exit on the next reap.
type fakeSignaler struct {
	mu     sync.Mutex
	sent   []sent
	dies   *fakeReaper
	ignore map[syscall.Signal]bool
}

func (f *fakeSignaler) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	f.sent = append(f.sent, sent{pid, sig})
	f.mu.Unlock()
	if f.dies != nil && !f.ignore[sig] {
		f.dies.kill(pid, sig)
	}
	return nil
}

func (f *fakeSignaler) signals() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// staticLoader returns whatever specs currently holds.
type staticLoader struct {
	mu    sync.Mutex
	specs []process.Spec
	err   error
	loads int
}

func (l *staticLoader) set(specs ...process.Spec) {
	l.mu.Lock()
	l.specs = specs
	l.err = nil
	l.mu.Unlock()
}

func (l *staticLoader) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *staticLoader) Load() ([]process.Spec, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return append([]process.Spec(nil), l.specs...), nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memRecorder) Record(e history.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *memRecorder) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	reg      *Registry
	launcher *fakeLauncher
	reaper   *fakeReaper
	signaler *fakeSignaler
	clock    *fakeClock
	loader   *staticLoader
	events   *memRecorder
}

func newHarness(specs ...process.Spec) *harness {
	h := &harness{
		launcher: &fakeLauncher{},
		reaper:   &fakeReaper{},
		clock:    &fakeClock{now: t0},
		loader:   &staticLoader{specs: specs},
		events:   &memRecorder{},
	}
	h.signaler = &fakeSignaler{dies: h.reaper}
	h.reg = NewRegistry(Options{
		Launcher: h.launcher,
		Signaler: h.signaler,
		Reaper:   h.reaper,
		Loader:   h.loader,
		Clock:    h.clock.Now,
		Events:   h.events,
	})
	return h
}

func (h *harness) instance(name string, index int) *process.Instance {
	for _, in := range h.reg.Instances() {
		if in.Spec.Name == name && in.Index == index {
			return in
		}
	}
	return nil
}

func spec(name, cmd string, numprocs int) process.Spec {
	return process.Spec{
		Name:       name,
		Command:    cmd,
		NumProcs:   numprocs,
		AutoStart:  true,
		StopSignal: syscall.SIGTERM,
		StopTime:   10 * time.Second,
		Umask:      process.DefaultUmask,
	}
}

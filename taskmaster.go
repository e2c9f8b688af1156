// Package taskmaster embeds the supervisor in another program. The daemon in
// cmd/taskmaster is built from the same pieces.
package taskmaster

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/manager"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/process"
	iapi "github.com/loykin/taskmaster/internal/server"
)

// Re-export core types for external consumers.

type Spec = process.Spec

type Status = process.Status

type Snapshot = manager.Snapshot

type Response = control.Response

type HistorySink = history.Sink

type RestartPolicy = process.RestartPolicy

const (
	RestartNever      = process.RestartNever
	RestartAlways     = process.RestartAlways
	RestartUnexpected = process.RestartUnexpected
)

// Options configures an embedded supervisor. Exactly one of ConfigPath and
// Specs is normally set; Specs wins when both are.
type Options struct {
	ConfigPath         string
	Specs              []Spec
	Tick               time.Duration
	StopChildrenOnExit bool
	Events             history.Recorder
	Logger             *slog.Logger
}

// Supervisor is a facade over the registry and its loop.
type Supervisor struct {
	loop *manager.Loop
}

func New(opts Options) *Supervisor {
	var loader manager.Loader = &cfg.FileLoader{Path: opts.ConfigPath, Logger: opts.Logger}
	if opts.Specs != nil {
		specs := append([]Spec(nil), opts.Specs...)
		loader = manager.LoaderFunc(func() ([]Spec, error) { return specs, nil })
	}
	reg := manager.NewRegistry(manager.Options{Loader: loader, Events: opts.Events, Logger: opts.Logger})
	return &Supervisor{loop: manager.NewLoop(reg, manager.LoopOptions{Tick: opts.Tick, StopChildrenOnExit: opts.StopChildrenOnExit})}
}

// Run supervises until ctx is cancelled or Shutdown is called.
func (s *Supervisor) Run(ctx context.Context) error { return s.loop.Run(ctx) }

func (s *Supervisor) Done() <-chan struct{} { return s.loop.Done() }

func (s *Supervisor) Snapshot() *Snapshot { return s.loop.Snapshot() }

func (s *Supervisor) Status() []Status {
	if snap := s.loop.Snapshot(); snap != nil {
		return snap.Instances
	}
	return nil
}

func (s *Supervisor) Start(ctx context.Context, name string) Response {
	return s.loop.Handle(ctx, control.Request{Command: control.CmdStart, Name: name})
}

func (s *Supervisor) Stop(ctx context.Context, name string) Response {
	return s.loop.Handle(ctx, control.Request{Command: control.CmdStop, Name: name})
}

func (s *Supervisor) Restart(ctx context.Context, name string) Response {
	return s.loop.Handle(ctx, control.Request{Command: control.CmdRestart, Name: name})
}

// Reload schedules a reload on the next tick.
func (s *Supervisor) Reload() { s.loop.RequestReload() }

func (s *Supervisor) Shutdown(ctx context.Context) Response {
	return s.loop.Handle(ctx, control.Request{Command: control.CmdShutdown})
}

// ServeControl answers the binary protocol on socket until ctx is done.
func (s *Supervisor) ServeControl(ctx context.Context, socket string, logger *slog.Logger) error {
	srv := control.NewServer(socket, s.loop, logger)
	if err := srv.Listen(); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// NewHTTPServer returns an unstarted server exposing the HTTP API.
func (s *Supervisor) NewHTTPServer(addr, basePath string, withMetrics bool) *http.Server {
	var mh http.Handler
	if withMetrics {
		mh = metrics.Handler()
	}
	return iapi.NewServer(addr, basePath, s.loop, mh)
}

// LoadConfig parses a program file or directory without starting anything.
func LoadConfig(path string) (*cfg.Result, error) { return cfg.Load(path) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

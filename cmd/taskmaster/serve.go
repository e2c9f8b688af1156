package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"vawter.tech/stopper"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/env"
	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/history/factory"
	"github.com/loykin/taskmaster/internal/logger"
	"github.com/loykin/taskmaster/internal/manager"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/process"
	"github.com/loykin/taskmaster/internal/server"
)

// ServeFlags holds the serve-only flags. Everything except Settings and
// Daemonize is bound into viper and read back through config.Settings.
type ServeFlags struct {
	Settings  string
	Daemonize bool
}

const (
	historyBuffer = 256
	stopGrace     = 5 * time.Second
)

// serveKeys maps serve flags to settings keys.
var serveKeys = map[string]string{
	"socket":      "socket",
	"tick":        "tick",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"log-color":   "log.color",
	"log-file":    "log.file",
	"log-syslog":  "log.syslog",
	"http-listen": "http.listen",
	"metrics":     "metrics.enabled",
	"history-dsn": "history.dsn",
	"watch":       "watch",
	"pidfile":     "pidfile",
}

func createServeCommand() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config path]",
		Short: "Run the taskmaster daemon",
		Long: `Run the supervisor. The config path is a YAML file or a directory of
program files (default /etc/taskmaster). Daemon settings come from flags,
TASKMASTER_* environment variables and an optional --settings file.

Examples:
  taskmaster serve ./programs.yaml
  taskmaster serve /etc/taskmaster --http-listen :8080 --metrics
  taskmaster serve --daemonize --pidfile /run/taskmaster.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadServeSettings(cmd, flags, args)
			if err != nil {
				return err
			}
			if flags.Daemonize {
				return daemonize(os.Args[1:])
			}
			return runServe(cmd.Context(), s)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&flags.Settings, "settings", "", "daemon settings file (toml, yaml or json)")
	fs.BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	fs.Duration("tick", config.DefaultTick, "supervision tick")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "text", "text or json")
	fs.Bool("log-color", false, "colored levels in text logs")
	fs.String("log-file", "", "log to this file with rotation")
	fs.Bool("log-syslog", false, "also send logs to syslog")
	fs.String("http-listen", "", "serve the HTTP API on this address")
	fs.Bool("metrics", false, "expose Prometheus metrics on the HTTP API")
	fs.String("history-dsn", "", "record lifecycle events (sqlite, postgres, clickhouse or opensearch DSN)")
	fs.Bool("watch", false, "reload when the config path changes")
	fs.String("pidfile", "", "write the daemon pid to this file")
	return cmd
}

func loadServeSettings(cmd *cobra.Command, flags *ServeFlags, args []string) (config.Settings, error) {
	v, err := config.NewViper(flags.Settings)
	if err != nil {
		return config.Settings{}, err
	}
	if err := config.BindFlags(v, cmd.Flags(), serveKeys); err != nil {
		return config.Settings{}, err
	}
	if len(args) > 0 {
		v.Set("config", args[0])
	}
	return config.LoadSettings(v)
}

// runServe runs the daemon in the foreground until the loop ends.
func runServe(ctx context.Context, s config.Settings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, closer, err := logger.New(logger.Config{
		Level:      s.Log.Level,
		Format:     s.Log.Format,
		Color:      s.Log.Color,
		File:       s.Log.File,
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxBackups: s.Log.MaxBackups,
		MaxAgeDays: s.Log.MaxAgeDays,
		Compress:   s.Log.Compress,
		Syslog:     s.Log.Syslog,
	}, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	if s.PIDFile != "" {
		if err := writePidFile(s.PIDFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer func() { _ = removePidFile(s.PIDFile) }()
	}

	sctx := stopper.WithContext(ctx)
	defer func() {
		sctx.Stop(stopGrace)
		if err := sctx.Wait(); err != nil {
			log.Warn("background task failed", "error", err)
		}
	}()

	var events history.Recorder = history.Nop{}
	if s.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(s.History.DSN, s.History.Table)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		d := history.NewDispatcher(log, historyBuffer, sink)
		sctx.Go(d.Run)
		events = d
	}

	reg := manager.NewRegistry(manager.Options{
		Launcher: &process.ExecLauncher{Env: env.New(), Logger: log},
		Loader:   &config.FileLoader{Path: s.ConfigPath, Logger: log},
		Events:   events,
		Logger:   log,
	})
	loop := manager.NewLoop(reg, manager.LoopOptions{Tick: s.Tick, StopChildrenOnExit: s.StopChildrenOnExit})

	var metricsHandler http.Handler
	if s.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if err := prometheus.DefaultRegisterer.Register(metrics.NewResourceCollector(reg.Statuses, log)); err != nil {
			return fmt.Errorf("register resource collector: %w", err)
		}
		metricsHandler = metrics.Handler()
		if s.HTTP.Listen == "" {
			log.Warn("metrics enabled without http.listen; nothing serves them")
		}
	}

	ctl := control.NewServer(s.Socket, loop, log)
	if err := ctl.Listen(); err != nil {
		return err
	}
	sctx.Go(func(sctx *stopper.Context) error { return ctl.Serve(sctx) })
	sctx.Go(func(sctx *stopper.Context) error {
		<-sctx.Stopping()
		return ctl.Close()
	})
	log.Info("control socket listening", "socket", s.Socket)

	if s.HTTP.Listen != "" {
		srv := server.NewServer(s.HTTP.Listen, "/", loop, metricsHandler)
		sctx.Go(func(sctx *stopper.Context) error {
			log.Info("http api listening", "addr", s.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		})
		sctx.Go(func(sctx *stopper.Context) error {
			<-sctx.Stopping()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(sctx), stopGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if s.Watch {
		if err := config.Watch(sctx, s.ConfigPath, config.DefaultDebounce, loop.RequestReload, log); err != nil {
			log.Warn("config watch disabled", "error", err)
		}
	}

	loopCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	sctx.Go(func(sctx *stopper.Context) error {
		handleSignals(sctx, log, loop.RequestReload, cancel)
		return nil
	})

	log.Info("taskmaster starting", "config", s.ConfigPath, "pid", os.Getpid())
	if err := loop.Run(loopCtx); err != nil {
		return err
	}
	log.Info("taskmaster stopped")
	return nil
}

// handleSignals turns SIGHUP into a reload request and SIGINT/SIGTERM into
// cancellation of the supervision loop.
func handleSignals(sctx *stopper.Context, log *slog.Logger, reload func(), cancel context.CancelCauseFunc) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	for {
		select {
		case <-sctx.Stopping():
			return
		case sig := <-ch:
			if sig == syscall.SIGHUP {
				log.Info("reload requested", "signal", sig.String())
				reload()
				continue
			}
			log.Info("shutdown requested", "signal", sig.String())
			cancel(fmt.Errorf("received %s", sig))
		}
	}
}

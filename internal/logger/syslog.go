package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"log/syslog"
	"strings"
	"sync"
)

// DefaultSyslogTag identifies the daemon in the system log.
const DefaultSyslogTag = "taskmasterd"

// SyslogWriter is the part of *syslog.Writer the handler uses.
type SyslogWriter interface {
	Debug(m string) error
	Info(m string) error
	Warning(m string) error
	Err(m string) error
	Close() error
}

// dialSyslog connects to the local syslog daemon with the daemon facility;
// the pid is part of every message.
var dialSyslog = func(tag string) (SyslogWriter, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
}

// SyslogHandler writes records to syslog as logfmt text. The level selects
// the syslog priority; time and level are left to syslog itself.
type SyslogHandler struct {
	inner slog.Handler
	buf   *bytes.Buffer
	mu    *sync.Mutex
	w     SyslogWriter
}

func NewSyslogHandler(w SyslogWriter, opts *slog.HandlerOptions) *SyslogHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
			return slog.Attr{}
		}
		return a
	}
	buf := &bytes.Buffer{}
	return &SyslogHandler{inner: slog.NewTextHandler(buf, &o), buf: buf, mu: &sync.Mutex{}, w: w}
}

func (h *SyslogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	m := strings.TrimSuffix(h.buf.String(), "\n")
	switch {
	case r.Level >= slog.LevelError:
		return h.w.Err(m)
	case r.Level >= slog.LevelWarn:
		return h.w.Warning(m)
	case r.Level >= slog.LevelInfo:
		return h.w.Info(m)
	default:
		return h.w.Debug(m)
	}
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.inner = h.inner.WithAttrs(attrs)
	return &c
}

func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	return &c
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// multiCloser closes every closer and joins the errors.
type multiCloser []interface{ Close() error }

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

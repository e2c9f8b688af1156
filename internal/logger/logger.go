// Package logger builds the daemon's slog logger: text (optionally colored)
// or JSON, written to stderr or to a rotating file, and optionally mirrored
// to syslog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the daemon log destination and encoding.
// When File is set, output goes there with lumberjack rotation; otherwise to
// the writer passed to New.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Color      bool   // ANSI level colors, text format only
	File       string
	MaxSizeMB  int  // megabytes before rotation (default 10)
	MaxBackups int  // number of backups to keep (default 3)
	MaxAgeDays int  // days to keep (default 7)
	Compress   bool // Gzip rotated files
	Syslog     bool // also send every record to syslog (daemon facility)
	SyslogTag  string
}

// ParseLevel accepts debug, info, warn/warning and error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Writer returns the rotating file writer for c.File, or nil when no file is configured.
func (c Config) Writer() io.WriteCloser {
	if c.File == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds a logger from c. Output goes to the rotating file when one is
// configured, otherwise to w (os.Stderr when nil). With c.Syslog every
// record is also sent to syslog. The returned closer releases the file and
// the syslog connection and is never nil.
func New(c Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	var closer io.Closer = nopCloser{}
	if fw := c.Writer(); fw != nil {
		w = fw
		closer = fw
	} else if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		if c.Color && c.File == "" {
			h = NewColorTextHandler(w, opts, true)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	if !c.Syslog {
		return slog.New(h), closer, nil
	}
	tag := c.SyslogTag
	if tag == "" {
		tag = DefaultSyslogTag
	}
	sw, err := dialSyslog(tag)
	if err != nil {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("open syslog: %w", err)
	}
	h = fanout{h, NewSyslogHandler(sw, opts)}
	return slog.New(h), multiCloser{closer, sw}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

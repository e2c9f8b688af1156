package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestWriterDefaults(t *testing.T) {
	assert.Nil(t, Config{}.Writer())

	w := Config{File: "x.log"}.Writer()
	l, ok := w.(*lj.Logger)
	require.True(t, ok)
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}

	w = Config{File: "y.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l = w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Config{Format: "json", Level: "debug"}, &buf)
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	log.Debug("process started", "program", "web", "pid", 42)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "process started", rec["msg"])
	assert.Equal(t, "web", rec["program"])
	assert.EqualValues(t, 42, rec["pid"])
}

func TestNewTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Config{Level: "warn"}, &buf)
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, _, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = New(Config{Level: "chatty"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	log, closer, err := New(Config{File: path, Color: true}, nil)
	require.NoError(t, err)
	log.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.NotContains(t, string(data), "\033[", "no colors in files")
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("program", "web").Error("boom")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\033[31mERROR\033[0m  "), out)
	assert.Contains(t, out, "msg=boom")
	assert.Contains(t, out, "program=web")
	assert.NotContains(t, out, "time=")
	assert.NotContains(t, out, "level=")
}

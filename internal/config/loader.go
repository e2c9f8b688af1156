package config

import (
	"log/slog"

	"github.com/loykin/taskmaster/internal/process"
)

// FileLoader loads program specs from Path on every call and logs the
// diagnostics of each load.
type FileLoader struct {
	Path   string
	Logger *slog.Logger
}

func (l *FileLoader) Load() ([]process.Spec, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res, err := Load(l.Path)
	if err != nil {
		return nil, err
	}
	for _, d := range res.Diagnostics {
		logger.Warn("config", "file", d.File, "line", d.Line, "program", d.Program, "msg", d.Msg)
	}
	logger.Debug("config loaded", "path", l.Path, "files", len(res.Files), "programs", len(res.Specs))
	return res.Specs, nil
}

// Package log wraps gopkg.in/op/go-logging.v1 in the same
// Backend/per-component-Logger split used by server/cborplugin's Client:
// one process-wide Backend configured once, named loggers handed out per
// subsystem (pipe, socket).
package log

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Backend configures a shared logging destination and format, and mints
// named *logging.Logger handles for individual subsystems.
type Backend struct {
	level logging.Level
}

var defaultFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.4s} %{module}%{color:reset} %{message}`,
)

// NewBackend configures the process-wide logging destination. level is one
// of the logging.Level names ("DEBUG", "INFO", "NOTICE", "WARNING",
// "ERROR", "CRITICAL"); an unrecognized name falls back to "NOTICE".
func NewBackend(levelName string) *Backend {
	lvl, err := logging.LogLevel(levelName)
	if err != nil {
		lvl = logging.NOTICE
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, defaultFormat)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return &Backend{level: lvl}
}

// GetLogger returns a logger scoped to module, e.g. "nitro/pipe".
func (b *Backend) GetLogger(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}

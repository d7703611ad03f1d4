// Package log wires the op/go-logging backend used by the build
// pipeline. Each builder owns a named logger ("bvh", "tlas") and emits
// its node counts and timings at Debug level; the default verbosity
// stays at Notice so library users are unbothered until they opt in.
package log

import (
	"io"
	"os"

	"github.com/op/go-logging"
)

// Logger is the leveled logger handed to the builders.
type Logger = *logging.Logger

// Verbosity levels accepted by SetLevel, ordered from chattiest to
// quietest.
type Level int

const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

var levelMap = map[Level]logging.Level{
	Debug:   logging.DEBUG,
	Info:    logging.INFO,
	Notice:  logging.NOTICE,
	Warning: logging.WARNING,
	Error:   logging.ERROR,
}

var backend logging.LeveledBackend

// New returns the named logger for a subsystem.
func New(name string) Logger {
	return logging.MustGetLogger(name)
}

// SetSink redirects all loggers to the given writer and resets
// verbosity to the Notice default.
func SetSink(w io.Writer) {
	raw := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(raw, logging.MustStringFormatter(
		`%{color}%{time:15:04:05.000} %{module}/%{level:.4s}%{color:reset} %{message}`,
	))
	backend = logging.AddModuleLevel(formatted)
	backend.SetLevel(levelMap[Notice], "")
	logging.SetBackend(backend)
}

// SetLevel adjusts global verbosity for every named logger at once.
func SetLevel(level Level) {
	if lvl, ok := levelMap[level]; ok {
		backend.SetLevel(lvl, "")
	}
}

func init() {
	SetSink(os.Stderr)
}

// Package logging builds the zerolog loggers shared by the server, the worker
// pool and the CLI.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New constructs a logger writing to w. Format "console" forces the
// human-readable writer, "json" forces structured output and anything else
// picks console output only when w is a terminal.
func New(w io.Writer, appEnv, level, format string) zerolog.Logger {
	lvl := parseLevel(level, appEnv)

	out := w
	if useConsole(w, format) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "enhancer").
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func parseLevel(level, appEnv string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		if appEnv == "development" {
			return zerolog.DebugLevel
		}
		return zerolog.InfoLevel
	}
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func useConsole(w io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case "console", "text":
		return true
	case "json":
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

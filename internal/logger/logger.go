// Package logger holds the ScreenBridge logger.
//
// The library is loaded into a host process that may use zerolog itself, so
// this package keeps a private logger with its own level. It never changes
// zerolog.SetGlobalLevel or the zerolog/log package logger, and it writes to
// stderr because stdout belongs to the host.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLevel applies until Init runs with the loaded configuration.
const DefaultLevel = zerolog.WarnLevel

// Options configures the logger
type Options struct {
	Level  string
	Pretty bool
	// Out defaults to os.Stderr
	Out io.Writer
}

var (
	mu   sync.RWMutex
	base = build(os.Stderr, DefaultLevel, false)
)

func build(out io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a config string onto a zerolog level. Unknown values fall back to DefaultLevel.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return DefaultLevel
	}
}

// Init applies the configured level and format, writing to stderr
func Init(level string, pretty bool) {
	Configure(Options{Level: level, Pretty: pretty})
}

// Configure replaces the logger. Loggers already returned by WithComponent
// keep their old settings.
func Configure(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	l := build(out, ParseLevel(opts.Level), opts.Pretty)

	mu.Lock()
	base = l
	mu.Unlock()
}

// Level returns the active level
func Level() zerolog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return base.GetLevel()
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	mu.RLock()
	l := base.With().Str("component", component).Logger()
	mu.RUnlock()
	return &l
}

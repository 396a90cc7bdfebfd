// Package logging holds the process-wide zerolog logger. Packages log
// through the helpers here so the CLI can configure level and output
// once, before any component starts.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the shared logger. Init replaces it; the zero setup logs
// JSON to stderr at info level.
var Logger zerolog.Logger

// Level aliases zerolog's level type.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config controls the shared logger.
type Config struct {
	Level Level
	// Output receives log lines; nil means os.Stderr.
	Output io.Writer
	// Pretty switches from JSON to the console writer.
	Pretty bool
	// TimeFormat defaults to RFC3339.
	TimeFormat string
}

func DefaultConfig() Config {
	return Config{Level: InfoLevel, Output: os.Stderr, TimeFormat: time.RFC3339}
}

// Init rebuilds the shared logger from cfg. Safe to call again with new
// settings; loggers already derived via Component keep the old sink.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	format := cfg.TimeFormat
	if format == "" {
		format = time.RFC3339
	}
	zerolog.TimeFieldFormat = format

	sink := out
	if cfg.Pretty {
		sink = zerolog.ConsoleWriter{Out: out, TimeFormat: format}
	}
	Logger = zerolog.New(sink).Level(cfg.Level).With().Timestamp().Logger()
}

// ParseLevel maps a flag value to a level, defaulting to info for
// anything it does not recognise.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	}
	return InfoLevel
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// Component derives a logger tagged with a component name, for code
// that logs from many call sites.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func init() {
	Init(DefaultConfig())
}

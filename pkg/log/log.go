package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
	// SampleEvery, when greater than 1, wraps the logger in a basic
	// sampler that emits only one in every SampleEvery events. Query and
	// Group ticks fire every few seconds across a large test population,
	// so debug logging at that cadence floods stdout in a way the
	// teacher's coarser, minutes-scale reconcile logging never had to
	// guard against.
	SampleEvery uint32
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	var logger zerolog.Logger
	if cfg.JSONOutput {
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: cfg.SampleEvery})
	}

	Logger = logger
}

// WithComponent creates a child of the global Logger tagged with a
// subsystem name. This is the logger every Runnable-tree constructor
// (runnable.NewBase, group.New, scheduler.New, a query driver's
// registration) expects to receive, already scoped to "runnable",
// "scheduler", "query", and so on.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithHost returns base tagged with the host a query or test targets.
// Unlike WithComponent, this derives from a caller-supplied base logger
// rather than the global Logger, since a host tag is layered on top of
// an already component-scoped logger (cmd/probekit builds one per host
// as it walks the config tree) rather than standing alone.
func WithHost(base zerolog.Logger, host string) zerolog.Logger {
	return base.With().Str("host", host).Logger()
}

// WithTest returns base tagged with the test name it belongs to.
func WithTest(base zerolog.Logger, test string) zerolog.Logger {
	return base.With().Str("test", test).Logger()
}

// WithQuery returns base tagged with the name of the query Runnable it
// was built for, for correlating a query's logs across the ticks it's
// reused over via the registry.
func WithQuery(base zerolog.Logger, query string) zerolog.Logger {
	return base.With().Str("query", query).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

package kafka

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig configures NewLogger, mirroring the teacher's
// internal/shared/monitoring.LoggerConfig.
type LoggerConfig struct {
	Level  LogLevel
	Format LogFormat
}

// NewLogger builds a zerolog.Logger tagged with component="kafka-consumer",
// JSON by default and a ConsoleWriter in pretty mode, exactly as the
// teacher's monitoring.NewLogger does for the websocket server.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case LogLevelDebug:
		level = zerolog.DebugLevel
	case LogLevelWarn:
		level = zerolog.WarnLevel
	case LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == LogFormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("component", "kafka-consumer").
		Logger()
}

// recoverPanic is installed as the first defer in every goroutine the
// actor or poll scheduler owns (consumeLoop in the teacher used the same
// "first defer, executes last" rule). Instead of crashing the process, the
// recovered panic is reported to onPanic, which the caller wires to the
// consumer's lifecycle failure slot.
func recoverPanic(logger zerolog.Logger, goroutineName string, onPanic func(error)) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", stack).
			Msg("goroutine panic recovered, consumer shutting down")
		if onPanic != nil {
			onPanic(panicError{goroutine: goroutineName, value: r})
		}
	}
}

type panicError struct {
	goroutine string
	value     any
}

func (e panicError) Error() string {
	return "panic in " + e.goroutine + " goroutine"
}

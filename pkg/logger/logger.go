package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// log is the process logger; it discards until Init runs so tests stay quiet
var log = zerolog.New(io.Discard)

// ctxKey stores the request scoped logger in a context
type ctxKey struct{}

// Init configures the global logger. Development environments get console output.
func Init(env string, logLevel string) {
	// Default output
	var output io.Writer = os.Stdout

	// Pretty console output for development
	if env == "development" || env == "dev" || env == "" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}
	InitWithWriter(output, logLevel)
}

// InitWithWriter is Init with an explicit sink.
func InitWithWriter(output io.Writer, logLevel string) {
	// Set time format and level
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(logLevel))

	log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(logLevel string) zerolog.Level {
	switch logLevel {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the global logger
func Get() *zerolog.Logger {
	return &log
}

// WithContext returns the request scoped logger, or the global one.
func WithContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
		return l
	}
	return &log
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// WithRequestID adds a request ID to the logger
func WithRequestID(requestID string) zerolog.Logger {
	return log.With().Str("request_id", requestID).Logger()
}

// WithUserID adds a user ID to the logger
func WithUserID(l zerolog.Logger, userID string) zerolog.Logger {
	return l.With().Str("user_id", userID).Logger()
}

// Component returns a child logger tagged with a subsystem name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }

// --- Structured Logging Helpers ---

// HTTPRequest logs a finished request outside the middleware chain
func HTTPRequest(method, path string, statusCode int, duration time.Duration, userID string) {
	event := log.Info().
		Str("method", method).
		Str("path", path).
		Int("status", statusCode).
		Dur("duration_ms", duration)

	if userID != "" {
		event = event.Str("user_id", userID)
	}

	event.Msg("HTTP Request")
}

// Transition logs an accepted or rejected fulfillment change.
func Transition(ctx context.Context, orderID, op, actor string, err error) {
	l := WithContext(ctx)
	if err != nil {
		l.Warn().
			Str("order_id", orderID).
			Str("op", op).
			Str("actor", actor).
			Err(err).
			Msg("Transition Rejected")
		return
	}
	l.Info().
		Str("order_id", orderID).
		Str("op", op).
		Str("actor", actor).
		Msg("Transition Applied")
}

// Override logs a delivery change made outside the normal progression.
func Override(ctx context.Context, orderID, from, to, reason, actor string) {
	WithContext(ctx).Warn().
		Str("order_id", orderID).
		Str("from", from).
		Str("to", to).
		Str("reason", reason).
		Str("actor", actor).
		Msg("Delivery Override")
}

// BatchSummary logs the result of one batch pass.
func BatchSummary(name string, processed, skipped int, aborted bool, duration time.Duration) {
	event := log.Info()
	if aborted {
		event = log.Error()
	}
	event.
		Str("batch", name).
		Int("processed", processed).
		Int("skipped", skipped).
		Bool("aborted", aborted).
		Dur("duration_ms", duration).
		Msg("Batch Finished")
}

// OrphanBlob logs an uploaded evidence file that no order references.
func OrphanBlob(path string, err error) {
	log.Error().
		Str("path", path).
		Err(err).
		Msg("Orphaned Evidence Blob")
}

// EvidenceLost logs a removed evidence blob whose refund case could not be cleared.
func EvidenceLost(orderID, path string, err error) {
	log.Error().
		Str("order_id", orderID).
		Str("path", path).
		Err(err).
		Msg("Refund Evidence Removed Without Withdrawal")
}

func ServiceStart(name, version, port string) {
	log.Info().
		Str("service", name).
		Str("version", version).
		Str("port", port).
		Msg("Service Started")
}

func ServiceStop(name string) {
	log.Info().
		Str("service", name).
		Msg("Service Stopped")
}

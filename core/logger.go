package core

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var loggerInstance Logger = *NewDevelopmentLogger() // default to development logger

// SetLogger sets the global logger instance
func SetLogger(logger Logger) {
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance
func GetLogger() *Logger {
	return &loggerInstance
}

// Logger is a small facade over zap. Attributes added with With are carried
// into every line; handlerFunc receives the final level, message and attrs so
// that tee loggers (see NewSessionLogger) can fan lines out to other sinks.
type Logger struct {
	handlerFunc func(level string, msg string, attrs map[string]interface{})
	attrs       map[string]interface{}
	zap         *zap.Logger
}

// NewLogger wraps an arbitrary handler. The backing zap logger is a no-op.
func NewLogger(handler func(level string, msg string, attrs map[string]interface{})) *Logger {
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]interface{}),
		zap:         zap.NewNop(),
	}
}

// NewZapLogger routes every log line to z.
func NewZapLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		handlerFunc: zapHandler(z),
		attrs:       make(map[string]interface{}),
		zap:         z,
	}
}

// NewDevelopmentLogger creates a logger with human-readable console output.
func NewDevelopmentLogger() *Logger {
	z, err := zap.NewDevelopment(zap.AddCallerSkip(3))
	if err != nil {
		z = zap.NewNop()
	}
	return NewZapLogger(z)
}

// NewProductionLogger creates a JSON logger at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewProductionLogger(level string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	z, err := cfg.Build(zap.AddCallerSkip(3))
	if err != nil {
		z = zap.NewNop()
	}
	return NewZapLogger(z)
}

// NewNopLogger discards everything. Intended for tests.
func NewNopLogger() *Logger {
	return NewZapLogger(zap.NewNop())
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func zapHandler(z *zap.Logger) func(level string, msg string, attrs map[string]interface{}) {
	return func(level string, msg string, attrs map[string]interface{}) {
		fields := make([]zap.Field, 0, len(attrs))
		for k, v := range attrs {
			if err, ok := v.(error); ok {
				fields = append(fields, zap.NamedError(k, err))
				continue
			}
			fields = append(fields, zap.Any(k, v))
		}
		switch level {
		case "TRACE", "DEBUG":
			z.Debug(msg, fields...)
		case "WARN":
			z.Warn(msg, fields...)
		case "ERROR":
			z.Error(msg, fields...)
		case "FATAL":
			z.Fatal(msg, fields...)
		case "PANIC":
			z.Panic(msg, fields...)
		default:
			z.Info(msg, fields...)
		}
	}
}

func (l *Logger) log(level string, msg string, args ...interface{}) {
	if l.handlerFunc == nil {
		return
	}
	if len(args) > 0 {
		// slog-style key-value pairs are folded into attrs, anything else is
		// treated as printf arguments.
		if isKeyValuePairs(args) {
			attrs := make(map[string]interface{}, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level, msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level, msg, l.attrs)
}

// isKeyValuePairs returns true if args look like slog-style key-value pairs:
// even count and every key (even index) is a string.
func isKeyValuePairs(args []interface{}) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log("DEBUG", msg, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.log("INFO", msg, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log("WARN", msg, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.log("ERROR", msg, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args...)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log("FATAL", format, args...)
}

// With returns a child logger carrying attrs on top of the parent's.
func (l *Logger) With(attrs map[string]interface{}) *Logger {
	combinedAttrs := make(map[string]interface{}, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combinedAttrs[k] = v
	}
	for k, v := range attrs {
		combinedAttrs[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       combinedAttrs,
		zap:         l.zap,
	}
}

// Zap exposes the backing zap logger with this logger's attributes applied.
func (l *Logger) Zap() *zap.Logger {
	if l.zap == nil {
		return zap.NewNop()
	}
	fields := make([]zap.Field, 0, len(l.attrs))
	for k, v := range l.attrs {
		fields = append(fields, zap.Any(k, v))
	}
	return l.zap.With(fields...)
}

// Sync flushes buffered zap output.
func (l *Logger) Sync() error {
	if l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

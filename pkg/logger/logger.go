// Package logger provides component-scoped structured logging on top of zap.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newBase(level)
)

func newBase(lvl zap.AtomicLevel) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLevel changes the minimum level for every component logger.
func SetLevel(l LogLevel) {
	level.SetLevel(toZap(l))
}

// ParseLevel maps a config string to a LogLevel; unknown values map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Replace swaps the underlying zap logger. Tests use it with zap.NewNop or
// an observer core.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := base
	base = l
	mu.Unlock()
	return func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func toZap(l LogLevel) zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func emit(l LogLevel, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	lg := base
	mu.RUnlock()

	zf := make([]zap.Field, 0, len(fields)+1)
	if component != "" {
		zf = append(zf, zap.String("component", component))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}

	switch l {
	case DEBUG:
		lg.Debug(msg, zf...)
	case WARN:
		lg.Warn(msg, zf...)
	case ERROR:
		lg.Error(msg, zf...)
	default:
		lg.Info(msg, zf...)
	}
}

func DebugC(component, msg string) { emit(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { emit(INFO, component, msg, nil) }
func WarnC(component, msg string)  { emit(WARN, component, msg, nil) }
func ErrorC(component, msg string) { emit(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(ERROR, component, msg, fields)
}

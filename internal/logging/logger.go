// Package logging provides the leveled, structured logger used by every
// game server package.
//
// Initialize once at startup, then take a named logger per package:
//
//	logging.Initialize("info", map[string]string{"lifecycle": "debug"})
//	logger := logging.GetLogger("consul")
//	logger.Info("connected to %s", addr)
//	logger.InfoWithFields("published server",
//	    logging.Field("key", key),
//	    logging.Field("port", port),
//	)
//
// Per-package levels accept exact names ("consul") and wildcard patterns
// ("server.*"). Initialize may be called again at runtime; the config
// watcher does so when the log levels in the config file change.
//
// DEBUG, INFO and WARN go to stdout; ERROR and FATAL go to stderr. Set
// LOG_TIMESTAMP to pin timestamps in tests.
//
// Loggers are immutable: WithField, WithFields and WithContext return copies,
// so a logger can be shared between goroutines.
package logging

import (
	"context"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
	// exitFunc is called by Fatal. Tests replace it.
	exitFunc = os.Exit
)

// Initialize sets the default level of the global logger and, optionally,
// per-package overrides such as {"server.*": "debug", "redis": "warn"}.
// An unknown default level falls back to INFO.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	globalMu.Lock()
	globalLogger = &Logger{
		level: level,
		name:  "gameserver",
	}
	globalMu.Unlock()

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		if err := SetPackageLogLevels(packageLevels[0]); err != nil {
			return err
		}
	}

	return nil
}

// GetLogger returns a logger with the specified name.
// The global logger is initialized at INFO on first use.
func GetLogger(name string) *Logger {
	globalMu.Lock()
	if globalLogger == nil {
		globalLogger = &Logger{level: INFO, name: "gameserver"}
	}
	globalMu.Unlock()

	return &Logger{
		name:   name,
		fields: make(map[string]interface{}),
	}
}

// DefaultLevel returns the level set by the last Initialize. Loggers read it
// on every call, so a later Initialize applies to loggers created earlier.
func DefaultLevel() LogLevel {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return INFO
	}
	return globalLogger.level
}

// shouldLog checks package overrides first, then the default level.
func (l *Logger) shouldLog(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	return level >= DefaultLevel()
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf("DEBUG", msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf("INFO", msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf("WARN", msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(strError, msg, args...)
	}
}

// Fatal logs a fatal message and exits the program with code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.shouldLog(FATAL) {
		l.logf(levelFatal, msg, args...)
		exitFunc(1)
	}
}

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(msg string, err error, args ...interface{}) {
	if l.shouldLog(ERROR) {
		args = append(args, err)
		l.logf(strError, msg+" - %v", args...)
	}
}

// WithField returns a copy of the logger carrying an extra field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newLogger := l.clone()
	newLogger.fields[key] = value
	return newLogger
}

// WithFields returns a copy of the logger carrying extra fields
func (l *Logger) WithFields(fields ...LogField) *Logger {
	newLogger := l.clone()
	for _, f := range fields {
		newLogger.fields[f.Key] = f.Value
	}
	return newLogger
}

// WithContext returns a copy of the logger that adds trace_id and span_id
// from ctx to every message.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	newLogger := l.clone()
	newLogger.ctx = ctx
	return newLogger
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		name:   l.name,
		fields: fields,
		ctx:    l.ctx,
	}
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	if l.shouldLog(DEBUG) {
		l.logWithFields("DEBUG", msg, fields...)
	}
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.logWithFields("INFO", msg, fields...)
	}
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.shouldLog(WARN) {
		l.logWithFields("WARN", msg, fields...)
	}
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.shouldLog(ERROR) {
		l.logWithFields(strError, msg, fields...)
	}
}

// mergeFields combines context, persistent and call-site fields.
// Later sources win on key collisions.
func (l *Logger) mergeFields(fields ...LogField) map[string]interface{} {
	contextFields := extractContextFields(l.ctx)
	if contextFields == nil && len(l.fields) == 0 && len(fields) == 0 {
		return nil
	}

	merged := make(map[string]interface{}, len(contextFields)+len(l.fields)+len(fields))
	for k, v := range contextFields {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return merged
}

func (l *Logger) logWithFields(level, msg string, fields ...LogField) {
	l.writeLog(level, msg, l.mergeFields(fields...))
}

// normalizeLevel upper-cases a level name for comparisons
func normalizeLevel(level string) string {
	return strings.ToUpper(strings.TrimSpace(level))
}

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	outMu  sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects log output. A nil writer keeps the current one.
// Intended for tests.
func SetOutput(out, errOut io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

// writeLog formats one line and routes it by severity.
// Fields are sorted by key so lines are stable.
func (l *Logger) writeLog(level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", GetTimestamp(), level, l.name, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')

	outMu.Lock()
	defer outMu.Unlock()
	if level == strError || level == levelFatal {
		_, _ = io.WriteString(stderr, b.String())
		return
	}
	_, _ = io.WriteString(stdout, b.String())
}

func (l *Logger) logf(level, msg string, args ...interface{}) {
	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	l.writeLog(level, formatted, l.mergeFields())
}

// GetTimestamp returns an RFC3339 timestamp, or LOG_TIMESTAMP when set.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}

// StdLogger adapts a named logger to the standard library *log.Logger,
// for libraries such as net/http that want one.
func StdLogger(name string) *log.Logger {
	return log.New(&stdWriter{logger: GetLogger(name)}, "", 0)
}

type stdWriter struct {
	logger *Logger
}

func (w *stdWriter) Write(p []byte) (int, error) {
	w.logger.Warn("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

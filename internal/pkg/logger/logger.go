// Package logger provides structured JSON logging with email redaction.
// Delivery and enrollment paths log contact addresses constantly; redaction
// keeps PII out of aggregated log storage by default.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// Logger writes one JSON object per entry. Safe for concurrent use.
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	redact    bool
	component string
}

// New creates a logger for the named component writing to stderr.
func New(component string) *Logger {
	return &Logger{out: os.Stderr, level: LevelInfo, redact: true, component: component}
}

// WithOutput returns a copy of the logger writing to w. Used by tests.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return &Logger{out: w, level: l.level, redact: l.redact, component: l.component}
}

// SetLevel sets the minimum severity emitted.
func (l *Logger) SetLevel(level Level) { l.level = level }

// SetRedact toggles email redaction in field values.
func (l *Logger) SetRedact(redact bool) { l.redact = redact }

// Debug emits a DEBUG entry with alternating key/value fields.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(LevelDebug, msg, fields...) }

// Info emits an INFO entry with alternating key/value fields.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(LevelInfo, msg, fields...) }

// Warn emits a WARN entry with alternating key/value fields.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(LevelWarn, msg, fields...) }

// Error emits an ERROR entry with alternating key/value fields.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(LevelError, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":      time.Now().UTC().Format(time.RFC3339),
		"level":     levelNames[level],
		"component": l.component,
		"msg":       msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redact {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactValue(key, val string) string {
	if strings.Contains(strings.ToLower(key), "email") || strings.Contains(strings.ToLower(key), "contact") {
		return RedactEmail(val)
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks an address for safe logging: "john.doe@example.com"
// becomes "jo***@example.com". Local parts of two characters or fewer are
// masked entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
